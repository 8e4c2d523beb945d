package boachat

import "github.com/moduspwnens/boa-chat/boachat/rest"

// ChatEvent is one entry of a room's rendered event list.
type ChatEvent struct {
	rest.Event
	// Unsent marks a local placeholder the server has not echoed back yet.
	Unsent bool `json:"unsent,omitempty"`
	// SendFailure is set when posting an unsent message failed.
	SendFailure bool `json:"send-failure,omitempty"`
}

// Visible reports whether the event is shown to the user. Session markers
// are bookkeeping only.
func (e ChatEvent) Visible() bool {
	return e.Kind() != rest.EventSessionStarted
}

// sessionID returns the session a SESSION_STARTED event announces. Older
// servers put it in the message text instead of the payload.
func (e ChatEvent) sessionID() string {
	if e.Payload != "" {
		return e.Payload
	}
	return e.Message
}

// RoomUpdate is delivered after every ingestion that changed the room.
type RoomUpdate struct {
	RoomID string
	// Events is a snapshot of the ordered event list, hidden events included.
	Events    []ChatEvent
	Added     int
	Confirmed int
	// AdvancedLatest is set when the newest timestamp moved forward, which
	// is when a view should scroll to the bottom.
	AdvancedLatest bool
	RoomClosed     bool
}

// VisibleEvents filters the snapshot down to what a view renders.
func (u RoomUpdate) VisibleEvents() []ChatEvent {
	out := make([]ChatEvent, 0, len(u.Events))
	for _, ev := range u.Events {
		if ev.Visible() {
			out = append(out, ev)
		}
	}
	return out
}
