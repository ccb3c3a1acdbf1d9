package core

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// PublishResult reports delivery stats/backpressure to the hub.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// Group is a threadsafe in-memory set of Active sessions.
// It never closes adapter-owned resources.
type Group struct {
	mu    sync.RWMutex
	bySID map[SessionID]MemberSession
}

func NewGroup() *Group {
	return &Group{bySID: make(map[SessionID]MemberSession)}
}

func (g *Group) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.bySID)
}

func (g *Group) Add(ms MemberSession) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bySID[ms.ID()] = ms
	log.Debug().Str("module", "core.group").Str("sid", string(ms.ID())).Msg("member added")
}

// Remove reports whether sid was a member.
func (g *Group) Remove(sid SessionID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.bySID[sid]
	delete(g.bySID, sid)
	if ok {
		log.Debug().Str("module", "core.group").Str("sid", string(sid)).Msg("member removed")
	}
	return ok
}

// Broadcast enqueues data on every Active member except from. A failed
// enqueue is recorded in Dropped and does not stop the fan-out.
func (g *Group) Broadcast(from SessionID, data Frame) PublishResult {
	g.mu.RLock()
	defer g.mu.RUnlock()
	res := PublishResult{}
	for sid, m := range g.bySID {
		if sid == from || m.State() != Active {
			continue
		}
		if err := m.Signal().TrySend(data); err != nil {
			log.Debug().Err(err).Str("module", "core.group").Str("sid", string(sid)).Msg("delivery failed")
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.group").Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}
