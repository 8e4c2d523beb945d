package boachat

import "time"

// LoopState is the state of one poll loop of a watch.
type LoopState int

const (
	// LoopPolling means a long poll is in flight.
	LoopPolling LoopState = iota

	// LoopBackingOff means the loop is waiting after a failed poll.
	LoopBackingOff

	// LoopCancelled means the watch was stopped. Terminal.
	LoopCancelled

	// LoopRoomClosed means the endpoint delivered a room closed event and
	// a later poll failed. Terminal.
	LoopRoomClosed
)

// String returns the string representation of a LoopState.
func (s LoopState) String() string {
	switch s {
	case LoopPolling:
		return "polling"
	case LoopBackingOff:
		return "backing_off"
	case LoopCancelled:
		return "cancelled"
	case LoopRoomClosed:
		return "room_closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the loop has exited.
func (s LoopState) Terminal() bool {
	return s == LoopCancelled || s == LoopRoomClosed
}

// StateEvent represents a loop state change.
type StateEvent struct {
	HandleID uint64
	Loop     int
	OldState LoopState
	NewState LoopState
	// Delay is the backoff wait when NewState is LoopBackingOff.
	Delay time.Duration
	Error error // Optional error that caused the state change
}
