package signal

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/busboard/internal/app"
	"github.com/dkeye/busboard/internal/core"
	"github.com/dkeye/busboard/internal/domain"
	"github.com/dkeye/busboard/internal/protocol"
)

// handleSignal dispatches one client frame. A returned error ends the
// connection; bad input only earns an error reply.
func (ctl *SignalWSController) handleSignal(sid core.SessionID, c *WsSignalConn, data []byte) error {
	in, err := protocol.DecodeInbound(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad message")
		code := protocol.CodeBadPayload
		if errors.Is(err, protocol.ErrUnknownType) {
			code = protocol.CodeUnknownType
		}
		ctl.reply(c, protocol.EncodeError(code))
		return nil
	}

	switch in.Type {
	case protocol.TypePatch:
		return ctl.handlePatch(sid, c, in.Patch)
	case protocol.TypeSnapshotRequest:
		return ctl.handleSnapshotRequest(sid)
	case protocol.TypePing:
		ctl.handlePing(c)
	}
	return nil
}

func (ctl *SignalWSController) handlePatch(sid core.SessionID, c *WsSignalConn, p domain.Patch) error {
	if !ctl.Limiter.Allow(sid) {
		ctl.Hub.Metrics.RateLimited.Inc()
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("patch rate limited")
		ctl.reply(c, protocol.EncodeError(protocol.CodeRateLimited))
		return nil
	}
	if err := ctl.Hub.OnMessage(sid, p); err != nil {
		if errors.Is(err, app.ErrUnauthorized) || errors.Is(err, app.ErrUnknownSession) {
			return err
		}
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("patch failed")
		return nil
	}
	if len(p.Rejected) > 0 || p.IsEmpty() {
		ctl.reply(c, protocol.EncodeError(protocol.CodeBadPayload))
	}
	return nil
}

func (ctl *SignalWSController) handleSnapshotRequest(sid core.SessionID) error {
	if err := ctl.Hub.OnRequestSnapshot(sid); errors.Is(err, app.ErrUnknownSession) {
		return err
	}
	return nil
}

func (ctl *SignalWSController) handlePing(c *WsSignalConn) {
	ctl.reply(c, protocol.EncodePong())
}

// reply queues a frame for this connection only. A full queue is left to
// the hub's policy on the next broadcast.
func (ctl *SignalWSController) reply(c *WsSignalConn, frame []byte) {
	if err := c.TrySend(frame); err != nil {
		log.Debug().Err(err).Str("module", "signal").Msg("reply dropped")
	}
}
