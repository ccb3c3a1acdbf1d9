package signal

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/busboard/internal/core"
)

// serve runs the pumps until either side fails, then tears the session down.
func (ctl *SignalWSController) serve(ctx context.Context, cancel context.CancelFunc, sid core.SessionID, c *WsSignalConn) {
	defer func() {
		cancel()
		c.Close()
		ctl.Limiter.Forget(sid)
		ctl.Hub.OnDisconnect(sid)
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("connection closed")
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctl.writePump(gctx, c) })
	g.Go(func() error { return ctl.readPump(sid, c) })
	g.Go(func() error {
		// unblocks readPump when the hub or the server cancels
		<-gctx.Done()
		c.Close()
		return gctx.Err()
	})

	if err := g.Wait(); err != nil && !expectedClose(err) {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("connection error")
	}
}

func expectedClose(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, core.ErrConnectionClosed) ||
		errors.Is(err, net.ErrClosed) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

// writePump drains the send queue and keeps the peer alive with pings.
func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) error {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(ctl.opts.WriteWait))
			return ctx.Err()
		case data, ok := <-c.send:
			if !ok {
				return core.ErrConnectionClosed
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				return err
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return err
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.opts.WriteWait)); err != nil {
				return err
			}
		}
	}
}

// readPump reads until the socket fails. A peer that stops answering pings
// hits the read deadline.
func (ctl *SignalWSController) readPump(sid core.SessionID, c *WsSignalConn) error {
	if err := c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait)); err != nil {
		return err
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		if err := ctl.handleSignal(sid, c, data); err != nil {
			return err
		}
	}
}
