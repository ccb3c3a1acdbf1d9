package signal

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/dkeye/busboard/internal/core"
)

// PatchLimiter is a token bucket per connection. A non-positive rate
// disables limiting.
type PatchLimiter struct {
	mu       sync.Mutex
	limiters map[core.SessionID]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func NewPatchLimiter(perSecond float64, burst int) *PatchLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &PatchLimiter{
		limiters: make(map[core.SessionID]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

func (pl *PatchLimiter) Allow(sid core.SessionID) bool {
	pl.mu.Lock()
	l, ok := pl.limiters[sid]
	if !ok {
		l = rate.NewLimiter(pl.limit, pl.burst)
		pl.limiters[sid] = l
	}
	pl.mu.Unlock()
	return l.Allow()
}

func (pl *PatchLimiter) Forget(sid core.SessionID) {
	pl.mu.Lock()
	delete(pl.limiters, sid)
	pl.mu.Unlock()
}
