package relay

import "github.com/moduspwnens/boa-chat/boachat"

const (
	inboundSend = "send"

	outboundSnapshot = "snapshot"
	outboundUpdate   = "update"
	outboundReady    = "ready"
	outboundSent     = "sent"
	outboundError    = "error"
)

// Inbound is the envelope view -> relay.
type Inbound struct {
	Type string `json:"type"`
	// ID is echoed on the reply so a view can match it to its request.
	ID   string `json:"id,omitempty"`
	Text string `json:"text,omitempty"`
}

// Outbound is the envelope relay -> view.
type Outbound struct {
	Type           string              `json:"type"`
	ID             string              `json:"id,omitempty"`
	Room           string              `json:"room,omitempty"`
	Events         []boachat.ChatEvent `json:"events,omitempty"`
	Added          int                 `json:"added,omitempty"`
	AdvancedLatest bool                `json:"advanced-latest,omitempty"`
	Ready          bool                `json:"ready,omitempty"`
	RoomClosed     bool                `json:"room-closed,omitempty"`
	Event          *boachat.ChatEvent  `json:"event,omitempty"`
	Error          *Error              `json:"error,omitempty"`
}

// Error describes a failed request.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Msg
}
