// Package signal serves the board socket: it authorizes a dial, upgrades it
// and pumps frames between the connection and the hub.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/busboard/internal/app"
	"github.com/dkeye/busboard/internal/core"
	"github.com/dkeye/busboard/internal/protocol"
)

// Options tunes the socket. Zero values fall back to the defaults below.
type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
	SendBuffer int
	// CheckOrigin overrides the upgrader origin check. Nil accepts any origin.
	CheckOrigin func(r *http.Request) bool
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1 << 20
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 5 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 32
	}
	return o
}

type SignalWSController struct {
	Hub     *app.Hub
	Limiter *PatchLimiter

	opts     Options
	upgrader websocket.Upgrader
}

func NewSignalWSController(hub *app.Hub, limiter *PatchLimiter, opts Options) *SignalWSController {
	opts = opts.withDefaults()
	check := opts.CheckOrigin
	if check == nil {
		check = func(r *http.Request) bool { return true }
	}
	return &SignalWSController{
		Hub:      hub,
		Limiter:  limiter,
		opts:     opts,
		upgrader: websocket.Upgrader{CheckOrigin: check},
	}
}

// WsSignalConn is the core.SignalConnection over a websocket. Frames are
// queued on send and written by writePump.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn, buffer int) *WsSignalConn {
	return &WsSignalConn{conn: ws, send: make(chan core.Frame, buffer)}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnectionClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// HandleSignal authorizes creds before upgrading, so a rejected dial gets a
// plain 401 and no socket. ctx bounds the connection's lifetime.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context, creds app.Credentials) {
	if dec := ctl.Hub.Gate.Authorize(creds); !dec.Accepted {
		log.Warn().Str("module", "signal").Str("user", creds.Username).Err(dec.Reason).Msg("ws dial rejected")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": protocol.CodeUnauthorized})
		return
	}

	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.opts.ReadLimit)

	sid := core.SessionID(uuid.NewString())
	conn := newWsSignalConn(ws, ctl.opts.SendBuffer)
	ctx, cancel := context.WithCancel(ctx)

	if _, err := ctl.Hub.OnConnect(sid, creds, conn, cancel); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("connect refused")
		cancel()
		conn.Close()
		if errors.Is(err, app.ErrUnauthorized) {
			return
		}
		ctl.Hub.OnDisconnect(sid)
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("user", creds.Username).Msg("new WS connection")

	go ctl.serve(ctx, cancel, sid, conn)
}
