package core

import (
	"sync/atomic"

	"github.com/dkeye/busboard/internal/domain"
)

// memberSession implements MemberSession by pairing meta + transport.
type memberSession struct {
	id    SessionID
	meta  *domain.Member
	conn  SignalConnection
	state atomic.Int32
}

// NewMemberSession returns a session in the Connecting state.
func NewMemberSession(id SessionID, meta *domain.Member, conn SignalConnection) MemberSession {
	return &memberSession{id: id, meta: meta, conn: conn}
}

func (m *memberSession) ID() SessionID            { return m.id }
func (m *memberSession) Meta() *domain.Member     { return m.meta }
func (m *memberSession) Signal() SignalConnection { return m.conn }
func (m *memberSession) State() ConnState         { return ConnState(m.state.Load()) }

func (m *memberSession) Advance(to ConnState) bool {
	for {
		from := ConnState(m.state.Load())
		if !CanAdvance(from, to) {
			return false
		}
		if m.state.CompareAndSwap(int32(from), int32(to)) {
			return true
		}
	}
}
