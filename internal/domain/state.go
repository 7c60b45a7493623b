package domain

import "fmt"

// ConnState is the lifecycle state of a gateway connection.
//
//	Connecting -> Open -> Closing -> Closed
//	Connecting -> Closed   (handshake failure)
//	Open       -> Closed   (transport error)
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Live reports whether a connection in this state belongs in the registry.
func (s ConnState) Live() bool {
	return s == StateOpen || s == StateClosing
}

// CanTransitionTo reports whether s -> next is a legal lifecycle step.
func (s ConnState) CanTransitionTo(next ConnState) bool {
	switch s {
	case StateConnecting:
		return next == StateOpen || next == StateClosed
	case StateOpen:
		return next == StateClosing || next == StateClosed
	case StateClosing:
		return next == StateClosed
	default:
		return false
	}
}
