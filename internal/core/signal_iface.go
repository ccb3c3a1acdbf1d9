package core

import "errors"

//go:generate mockgen -source=signal_iface.go -destination=mocks/mock_signal.go -package=mocks

var (
	ErrBackpressure     = errors.New("backpressure")
	ErrConnectionClosed = errors.New("connection closed")
)

// Frame is a raw encoded message.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend enqueues without blocking. It returns ErrBackpressure when the
	// queue is full and ErrConnectionClosed after Close.
	TrySend(Frame) error
	Close()
}
