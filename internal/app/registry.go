package app

import (
	"context"
	"sync"

	"github.com/dkeye/busboard/internal/core"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	Session core.MemberSession
	Cancel  context.CancelFunc
}

// sidIndex groups session ids under a string key.
type sidIndex map[string]map[core.SessionID]struct{}

func (ix sidIndex) add(key string, sid core.SessionID) {
	if ix[key] == nil {
		ix[key] = make(map[core.SessionID]struct{})
	}
	ix[key][sid] = struct{}{}
}

func (ix sidIndex) remove(key string, sid core.SessionID) {
	if set := ix[key]; set != nil {
		delete(set, sid)
		if len(set) == 0 {
			delete(ix, key)
		}
	}
}

func (ix sidIndex) list(key string) []core.SessionID {
	out := make([]core.SessionID, 0, len(ix[key]))
	for sid := range ix[key] {
		out = append(out, sid)
	}
	return out
}

// Registry indexes live sessions by id, by username and by login.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
	byUser   sidIndex
	byLogin  sidIndex
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
		byUser:   make(sidIndex),
		byLogin:  make(sidIndex),
	}
}

func (r *Registry) Bind(sess core.MemberSession, cancel context.CancelFunc) {
	sid := sess.ID()
	meta := sess.Meta()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{Session: sess, Cancel: cancel}
	r.byUser.add(meta.User.Username, sid)
	r.byLogin.add(meta.LoginID, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("user", meta.User.Username).Msg("bound session")
}

func (r *Registry) GetSession(sid core.SessionID) (core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Session, true
	}
	return nil, false
}

// Unbind reports whether sid was bound.
func (r *Registry) Unbind(sid core.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return false
	}
	meta := e.Session.Meta()
	delete(r.sessions, sid)
	r.byUser.remove(meta.User.Username, sid)
	r.byLogin.remove(meta.LoginID, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
	return true
}

// SessionsOf lists the live sessions of a user across all their logins.
func (r *Registry) SessionsOf(user string) []core.SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byUser.list(user)
}

// SessionsOfLogin lists the live sessions opened with one login.
func (r *Registry) SessionsOfLogin(loginID string) []core.SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byLogin.list(loginID)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}
