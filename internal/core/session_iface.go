package core

import "github.com/dkeye/busboard/internal/domain"

type SessionID string

// ConnState is the lifecycle of one connection. Disconnected is terminal.
type ConnState int32

const (
	Connecting ConnState = iota
	Authorized
	Active
	Disconnected
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Authorized:
		return "authorized"
	case Active:
		return "active"
	case Disconnected:
		return "disconnected"
	}
	return "unknown"
}

// CanAdvance reports whether from -> to is a legal transition.
func CanAdvance(from, to ConnState) bool {
	switch from {
	case Connecting:
		return to == Authorized || to == Disconnected
	case Authorized:
		return to == Active || to == Disconnected
	case Active:
		return to == Disconnected
	}
	return false
}

// MemberSession binds domain.Member and its transport endpoint.
// This is what the broadcast group stores and fans out to.
type MemberSession interface {
	ID() SessionID
	Meta() *domain.Member
	Signal() SignalConnection
	State() ConnState
	// Advance moves the session to the given state and reports whether the
	// transition was legal.
	Advance(to ConnState) bool
}
