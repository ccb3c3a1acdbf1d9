package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/busboard/internal/core"
	"github.com/dkeye/busboard/internal/domain"
	"github.com/dkeye/busboard/internal/protocol"
)

// Hub owns connection lifecycle and fans every merged snapshot out to the
// other Active sessions.
type Hub struct {
	Store    *core.StateStore
	Gate     *Gate
	Registry *Registry
	Policy   Policy
	Metrics  *Metrics

	group *core.Group
	// mu covers merge plus enqueue so every connection sees snapshots in
	// merge order.
	mu sync.Mutex
}

func NewHub(store *core.StateStore, gate *Gate, reg *Registry, policy Policy, metrics *Metrics) *Hub {
	h := &Hub{
		Store:    store,
		Gate:     gate,
		Registry: reg,
		Policy:   policy,
		Metrics:  metrics,
		group:    core.NewGroup(),
	}
	gate.OnRevoke(h.onRevoke)
	return h
}

// OnConnect authorizes conn and, when accepted, makes it Active and sends it
// the current snapshot. A rejected conn is closed and never joins the group.
func (h *Hub) OnConnect(sid core.SessionID, creds Credentials, conn core.SignalConnection, cancel context.CancelFunc) (core.MemberSession, error) {
	dec := h.Gate.Authorize(creds)
	if !dec.Accepted {
		sess := core.NewMemberSession(sid, domain.NewMember(domain.User{Username: creds.Username}, creds.LoginID, creds.IssuedAt), conn)
		sess.Advance(core.Disconnected)
		conn.Close()
		if cancel != nil {
			cancel()
		}
		return nil, ErrUnauthorized
	}

	sess := core.NewMemberSession(sid, dec.Identity, conn)
	sess.Advance(core.Authorized)
	h.Registry.Bind(sess, cancel)

	h.mu.Lock()
	state, version := h.Store.Snapshot()
	frame, err := protocol.EncodeSnapshot(protocol.TypeInitialState, version, state)
	if err != nil {
		h.mu.Unlock()
		log.Error().Err(err).Str("module", "app.hub").Str("sid", string(sid)).Msg("encode initial state")
		h.kick(sess)
		return nil, err
	}
	sess.Advance(core.Active)
	h.group.Add(sess)
	sendErr := conn.TrySend(frame)
	h.mu.Unlock()

	h.Metrics.ActiveConnections.Inc()
	log.Info().Str("module", "app.hub").Str("sid", string(sid)).Str("user", creds.Username).Uint64("version", version).Msg("session active")
	if sendErr != nil {
		h.onDropped([]core.MemberSession{sess})
		return sess, sendErr
	}
	h.Metrics.SnapshotsSent.WithLabelValues(string(protocol.TypeInitialState)).Inc()
	return sess, nil
}

// OnMessage merges p and broadcasts the resulting snapshot to every other
// Active session. A session whose identity no longer passes the gate is
// disconnected and its patch dropped.
func (h *Hub) OnMessage(sid core.SessionID, p domain.Patch) error {
	sess, ok := h.Registry.GetSession(sid)
	if !ok || sess.State() != core.Active {
		return ErrUnknownSession
	}
	if !h.Gate.AuthorizeMessage(sess.Meta()) {
		h.kick(sess)
		return ErrUnauthorized
	}

	for _, fe := range p.Rejected {
		log.Warn().Str("module", "app.hub").Str("sid", string(sid)).Str("field", fe.Field).Err(fe.Err).Msg("malformed field skipped")
		h.Metrics.MalformedFields.WithLabelValues(fe.Field).Inc()
	}
	if p.IsEmpty() {
		return nil
	}

	h.mu.Lock()
	state, version := h.Store.Apply(p)
	frame, err := protocol.EncodeSnapshot(protocol.TypeStateUpdated, version, state)
	if err != nil {
		h.mu.Unlock()
		log.Error().Err(err).Str("module", "app.hub").Uint64("version", version).Msg("encode snapshot")
		return err
	}
	res := h.group.Broadcast(sid, frame)
	h.mu.Unlock()

	h.Metrics.PatchesApplied.Inc()
	h.Metrics.SnapshotsSent.WithLabelValues(string(protocol.TypeStateUpdated)).Add(float64(res.SendTo))
	log.Debug().Str("module", "app.hub").Str("sid", string(sid)).Uint64("version", version).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("patch applied")
	h.onDropped(res.Dropped)
	return nil
}

// OnRequestSnapshot sends the current snapshot to sid only.
func (h *Hub) OnRequestSnapshot(sid core.SessionID) error {
	sess, ok := h.Registry.GetSession(sid)
	if !ok || sess.State() != core.Active {
		return ErrUnknownSession
	}

	h.mu.Lock()
	state, version := h.Store.Snapshot()
	frame, err := protocol.EncodeSnapshot(protocol.TypeInitialState, version, state)
	if err == nil {
		err = sess.Signal().TrySend(frame)
	}
	h.mu.Unlock()

	if err != nil {
		log.Debug().Err(err).Str("module", "app.hub").Str("sid", string(sid)).Msg("snapshot not delivered")
		h.onDropped([]core.MemberSession{sess})
		return err
	}
	h.Metrics.SnapshotsSent.WithLabelValues(string(protocol.TypeInitialState)).Inc()
	return nil
}

// OnDisconnect is idempotent and never touches the shared state.
func (h *Hub) OnDisconnect(sid core.SessionID) {
	sess, ok := h.Registry.GetSession(sid)
	if !ok {
		return
	}
	wasActive := sess.State() == core.Active
	sess.Advance(core.Disconnected)
	h.group.Remove(sid)
	if h.Registry.Unbind(sid) && wasActive {
		h.Metrics.ActiveConnections.Dec()
	}
	log.Info().Str("module", "app.hub").Str("sid", string(sid)).Msg("session disconnected")
}

// DisconnectUser drops every live session of user.
func (h *Hub) DisconnectUser(user string) {
	h.kickAll(h.Registry.SessionsOf(user))
}

// DisconnectLogin drops the live sessions opened with one login.
func (h *Hub) DisconnectLogin(loginID string) {
	h.kickAll(h.Registry.SessionsOfLogin(loginID))
}

func (h *Hub) onRevoke(r Revocation) {
	if r.LoginID != "" {
		h.DisconnectLogin(r.LoginID)
		return
	}
	h.DisconnectUser(r.Username)
}

func (h *Hub) kickAll(sids []core.SessionID) {
	for _, sid := range sids {
		if sess, ok := h.Registry.GetSession(sid); ok {
			h.kick(sess)
		}
	}
}

// Snapshot returns the current state for out-of-band readers.
func (h *Hub) Snapshot() (domain.SharedState, uint64) {
	return h.Store.Snapshot()
}

// ActiveCount is the number of sessions receiving broadcasts.
func (h *Hub) ActiveCount() int { return h.group.Count() }

// Reset restores the seed state. Connected sessions are not notified.
func (h *Hub) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Store.Reset()
	log.Info().Str("module", "app.hub").Msg("state reset")
}

func (h *Hub) onDropped(dropped []core.MemberSession) {
	for _, slow := range dropped {
		h.Metrics.DeliveriesDropped.Inc()
		if h.Policy == nil {
			continue
		}
		switch h.Policy.OnBackPressure(slow) {
		case KickMember:
			log.Warn().Str("module", "app.hub").Str("sid", string(slow.ID())).Msg("kicking slow member")
			h.kick(slow)
		case MarkSlow:
			log.Warn().Str("module", "app.hub").Str("sid", string(slow.ID())).Msg("slow member")
		case DropFrame, NoAction:
		}
	}
}

func (h *Hub) kick(sess core.MemberSession) {
	sess.Signal().Close()
	h.Registry.Cancel(sess.ID())
	h.OnDisconnect(sess.ID())
}
