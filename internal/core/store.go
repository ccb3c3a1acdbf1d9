package core

import (
	"sync"

	"github.com/dkeye/busboard/internal/domain"
)

// StateStore owns the single SharedState. Every Apply is linearized and
// bumps the version by one.
type StateStore struct {
	mu      sync.Mutex
	seed    domain.SharedState
	state   domain.SharedState
	version uint64
}

// NewStateStore starts from a copy of seed.
func NewStateStore(seed domain.SharedState) *StateStore {
	return &StateStore{seed: seed.Clone(), state: seed.Clone()}
}

// Snapshot returns a deep copy of the current state and its version.
func (s *StateStore) Snapshot() (domain.SharedState, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone(), s.version
}

// Apply merges p and returns a copy of exactly the state it produced.
func (s *StateStore) Apply(p domain.Patch) (domain.SharedState, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Apply(p)
	s.version++
	return s.state.Clone(), s.version
}

func (s *StateStore) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Reset restores the seed state. The version keeps increasing so that
// consumers never see it go backwards.
func (s *StateStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = s.seed.Clone()
	s.version++
}
