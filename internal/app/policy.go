package app

import "github.com/dkeye/busboard/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

// Policy decides what happens to a session whose send queue is full.
type Policy interface {
	OnBackPressure(member core.MemberSession) BackpressureAction
}

// SimplePolicy kicks slow members; they reconnect and pull a fresh snapshot.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(member core.MemberSession) BackpressureAction {
	return KickMember
}
