package boachat

import (
	"sort"
	"sync"

	"github.com/moduspwnens/boa-chat/boachat/rest"
)

// IngestResult summarizes what one Ingest call changed.
type IngestResult struct {
	Added     int
	Confirmed int
	// AdvancedLatest is set when the batch raised the newest timestamp seen.
	AdvancedLatest bool
	// RoomClosed is set when the batch carried a room closed event.
	RoomClosed bool
}

// Changed reports whether the ingestion touched the event list.
func (r IngestResult) Changed() bool {
	return r.Added > 0 || r.Confirmed > 0
}

// Ledger is the ordered, deduplicated event list of one room together with
// the placeholders of messages this client sent but has not seen echoed.
// All methods are safe for concurrent use and each Ingest is atomic with
// respect to every other.
type Ledger struct {
	mu sync.Mutex

	events []*ChatEvent
	// rendered holds every message id in events.
	rendered map[string]struct{}
	// pending maps client message ids to unsent placeholders.
	pending map[string]*ChatEvent
	// confirmed holds client message ids whose echo was already applied.
	confirmed map[string]struct{}
	authors   map[string]string

	latest     int64
	roomClosed bool
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		rendered:  make(map[string]struct{}),
		pending:   make(map[string]*ChatEvent),
		confirmed: make(map[string]struct{}),
		authors:   make(map[string]string),
	}
}

// Ingest merges a batch of events. localUnsent marks the batch as
// placeholders created by this client; those are registered as pending
// under their client message id.
func (l *Ledger) Ingest(events []ChatEvent, localUnsent bool) IngestResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	var res IngestResult
	for i := range events {
		ev := events[i]

		if !localUnsent && ev.ClientMessageID != "" {
			if _, done := l.confirmed[ev.ClientMessageID]; done {
				continue
			}
			if placeholder, ok := l.pending[ev.ClientMessageID]; ok {
				l.confirmLocked(placeholder, ev)
				res.Confirmed++
				l.observeLocked(ev, &res)
				continue
			}
		}

		if _, seen := l.rendered[ev.MessageID]; seen {
			continue
		}
		stored := ev
		if localUnsent {
			stored.Unsent = true
			if stored.ClientMessageID != "" {
				l.pending[stored.ClientMessageID] = &stored
			}
		}
		l.rendered[stored.MessageID] = struct{}{}
		l.events = append(l.events, &stored)
		res.Added++
		l.observeLocked(stored, &res)
	}

	if res.Changed() {
		l.sortLocked()
	}
	return res
}

// confirmLocked rewrites a placeholder in place with the server's copy.
func (l *Ledger) confirmLocked(placeholder *ChatEvent, ev ChatEvent) {
	delete(l.rendered, placeholder.MessageID)
	delete(l.pending, ev.ClientMessageID)
	l.confirmed[ev.ClientMessageID] = struct{}{}

	placeholder.MessageID = ev.MessageID
	placeholder.IdentityID = ev.IdentityID
	placeholder.AuthorName = ev.AuthorName
	placeholder.Timestamp = ev.Timestamp
	placeholder.Type = ev.Type
	placeholder.Payload = ev.Payload
	placeholder.Unsent = false
	placeholder.SendFailure = false
	l.rendered[placeholder.MessageID] = struct{}{}
}

func (l *Ledger) observeLocked(ev ChatEvent, res *IngestResult) {
	if ev.Timestamp > l.latest {
		l.latest = ev.Timestamp
		res.AdvancedLatest = true
	}
	if ev.IdentityID != "" && ev.AuthorName != "" && ev.Kind() == rest.EventNormal {
		l.authors[ev.IdentityID] = ev.AuthorName
	}
	if ev.Kind() == rest.EventRoomClosed {
		l.roomClosed = true
		res.RoomClosed = true
	}
}

// sortLocked orders events by timestamp, then message text. Equal keys keep
// their arrival order, so re-sorting without new input changes nothing.
func (l *Ledger) sortLocked() {
	sort.SliceStable(l.events, func(i, j int) bool {
		a, b := l.events[i], l.events[j]
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		return a.Message < b.Message
	})
}

// Resort re-applies the ordering to the current list.
func (l *Ledger) Resort() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sortLocked()
}

// MarkSendFailure flags the placeholder for clientMessageID. It reports
// false when the message is no longer pending, e.g. because its echo
// already arrived.
func (l *Ledger) MarkSendFailure(clientMessageID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	placeholder, ok := l.pending[clientMessageID]
	if !ok {
		return false
	}
	placeholder.SendFailure = true
	return true
}

// IsPending reports whether clientMessageID still awaits its echo.
func (l *Ledger) IsPending(clientMessageID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.pending[clientMessageID]
	return ok
}

// Pending returns copies of the unconfirmed placeholders in list order.
func (l *Ledger) Pending() []ChatEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []ChatEvent
	for _, ev := range l.events {
		if ev.Unsent {
			out = append(out, *ev)
		}
	}
	return out
}

// Events returns a snapshot of the ordered list.
func (l *Ledger) Events() []ChatEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *Ledger) snapshotLocked() []ChatEvent {
	out := make([]ChatEvent, len(l.events))
	for i, ev := range l.events {
		out[i] = *ev
	}
	return out
}

// Len returns the number of events, hidden ones included.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// HasSessionStarted reports whether the session marker for sessionID has
// been ingested.
func (l *Ledger) HasSessionStarted(sessionID string) bool {
	if sessionID == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.events {
		if ev.Kind() == rest.EventSessionStarted && ev.sessionID() == sessionID {
			return true
		}
	}
	return false
}

// AuthorName returns the last display name seen for an identity.
func (l *Ledger) AuthorName(identityID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	name, ok := l.authors[identityID]
	return name, ok
}

// RoomClosed reports whether a room closed event has been ingested.
func (l *Ledger) RoomClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.roomClosed
}

// Latest returns the newest timestamp seen, in unix seconds.
func (l *Ledger) Latest() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.latest
}
