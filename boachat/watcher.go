package boachat

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/moduspwnens/boa-chat/boachat/rest"
)

// maxBackoffSteps caps the error count used for the delay so the square
// cannot overflow.
const maxBackoffSteps = 1 << 10

// SessionPoller is the part of the REST client a Watcher needs.
// *rest.Client satisfies it.
type SessionPoller interface {
	PollSessionMessages(ctx context.Context, roomID, sessionID string) (*rest.SessionMessages, error)
	AcknowledgeSessionMessages(ctx context.Context, roomID, sessionID string, receiptHandles []string) error
}

// Watcher runs long-poll loops against room session endpoints.
//
// All loops started by one Watcher share a single consecutive error counter:
// a failure in any loop raises the delay for every loop, and a success in any
// loop resets it.
type Watcher struct {
	poller     SessionPoller
	clock      clockwork.Clock
	logger     Logger
	metrics    *Metrics
	maxBackoff time.Duration

	mu         sync.Mutex
	errorCount int
	closed     map[string]bool
	nextID     uint64
	onState    func(StateEvent)
}

// NewWatcher creates a watcher polling through poller. A nil clock means the
// real clock.
func NewWatcher(poller SessionPoller, clock clockwork.Clock) *Watcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Watcher{
		poller:     poller,
		clock:      clock,
		logger:     noopLogger{},
		maxBackoff: 30 * time.Second,
		closed:     make(map[string]bool),
	}
}

// SetLogger overrides logger (optional).
func (w *Watcher) SetLogger(l Logger) {
	if l != nil {
		w.logger = l
	}
}

// SetMetrics attaches collectors (optional).
func (w *Watcher) SetMetrics(m *Metrics) { w.metrics = m }

// SetMaxBackoff overrides the 30 second delay cap.
func (w *Watcher) SetMaxBackoff(d time.Duration) {
	if d > 0 {
		w.maxBackoff = d
	}
}

// OnStateChange registers a callback for loop state transitions. It runs on
// the loop goroutine and must not block.
func (w *Watcher) OnStateChange(fn func(StateEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onState = fn
}

// WatchHandle groups the loops started by one Watch call.
type WatchHandle struct {
	id        uint64
	roomID    string
	sessionID string
	endpoint  string

	ctx    context.Context
	cancel context.CancelFunc

	// mu serializes delivery with StopWatching.
	mu       sync.Mutex
	canceled bool

	loops sync.WaitGroup
	acks  sync.WaitGroup
}

// ID returns the handle id, unique per Watcher.
func (h *WatchHandle) ID() uint64 { return h.id }

// RoomID returns the watched room.
func (h *WatchHandle) RoomID() string { return h.roomID }

// SessionID returns the watched room session.
func (h *WatchHandle) SessionID() string { return h.sessionID }

// Canceled reports whether StopWatching was called for the handle.
func (h *WatchHandle) Canceled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.canceled
}

// Wait blocks until every loop and acknowledgement of the handle has
// returned.
func (h *WatchHandle) Wait() {
	h.loops.Wait()
	h.acks.Wait()
}

// Done is closed once the handle's context ends.
func (h *WatchHandle) Done() <-chan struct{} { return h.ctx.Done() }

// deliver calls fn unless the handle has been canceled.
func (h *WatchHandle) deliver(fn func([]rest.Event), msgs []rest.Event) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.canceled {
		return false
	}
	fn(msgs)
	return true
}

// Watch starts concurrency poll loops against the session's message endpoint
// and returns their handle. onMessages is called synchronously from the
// loop goroutines, one batch at a time per loop; it must not call
// StopWatching on the same handle.
//
// Loops end when ctx ends, when the handle is stopped, or when a poll fails
// after the endpoint delivered a room closed event.
func (w *Watcher) Watch(ctx context.Context, roomID, sessionID string, onMessages func([]rest.Event), concurrency int) *WatchHandle {
	if concurrency <= 0 {
		concurrency = 1
	}

	w.mu.Lock()
	w.nextID++
	id := w.nextID
	w.mu.Unlock()

	hctx, cancel := context.WithCancel(ctx)
	h := &WatchHandle{
		id:        id,
		roomID:    roomID,
		sessionID: sessionID,
		endpoint:  rest.SessionMessagesPath(roomID, sessionID),
		ctx:       hctx,
		cancel:    cancel,
	}

	w.logger.Debug("watch started", map[string]any{
		"handle": id, "room": roomID, "session": sessionID, "loops": concurrency,
	})
	for i := 0; i < concurrency; i++ {
		h.loops.Add(1)
		w.metrics.loopStarted()
		go w.run(h, i, onMessages)
	}
	return h
}

// StopWatching cancels every in-flight request of h. Once it returns no
// further onMessages call is made for h. Calling it again is a no-op.
func (w *Watcher) StopWatching(h *WatchHandle) {
	if h == nil {
		return
	}
	h.mu.Lock()
	already := h.canceled
	h.canceled = true
	h.mu.Unlock()

	h.cancel()
	if !already {
		w.logger.Debug("watch stopped", map[string]any{"handle": h.id, "room": h.roomID})
	}
}

func (w *Watcher) run(h *WatchHandle, loop int, onMessages func([]rest.Event)) {
	defer h.loops.Done()
	defer w.metrics.loopStopped()

	state := LoopPolling
	for {
		resp, err := w.poller.PollSessionMessages(h.ctx, h.roomID, h.sessionID)
		w.metrics.poll(err)

		if err == nil {
			w.resetErrors()
			if resp == nil {
				continue
			}
			if resp.Skipped > 0 {
				w.logger.Warn("skipped malformed session messages", map[string]any{
					"endpoint": h.endpoint, "skipped": resp.Skipped,
				})
			}
			if len(resp.Messages) > 0 {
				if containsRoomClosed(resp.Messages) {
					w.markClosed(h.endpoint)
				}
				if !h.deliver(onMessages, resp.Messages) {
					w.notify(h, loop, state, LoopCancelled, 0, nil)
					return
				}
			}
			if len(resp.ReceiptHandles) > 0 {
				h.acks.Add(1)
				go w.acknowledge(h, resp.ReceiptHandles)
			}
			continue
		}

		if h.ctx.Err() != nil || (rest.IsCancelled(err) && h.Canceled()) {
			w.notify(h, loop, state, LoopCancelled, 0, nil)
			return
		}
		if w.isClosed(h.endpoint) {
			w.notify(h, loop, state, LoopRoomClosed, 0, err)
			return
		}

		delay := backoffDelay(w.recordError(), w.maxBackoff)
		w.metrics.backoff(delay)
		w.logger.Warn("poll failed", map[string]any{
			"handle": h.id, "loop": loop, "room": h.roomID, "delay": delay.String(), "error": err.Error(),
		})
		w.notify(h, loop, state, LoopBackingOff, delay, err)
		state = LoopBackingOff

		select {
		case <-w.clock.After(delay):
		case <-h.ctx.Done():
			w.notify(h, loop, state, LoopCancelled, 0, nil)
			return
		}
		w.notify(h, loop, state, LoopPolling, 0, nil)
		state = LoopPolling
	}
}

func (w *Watcher) acknowledge(h *WatchHandle, receiptHandles []string) {
	defer h.acks.Done()
	if err := w.poller.AcknowledgeSessionMessages(h.ctx, h.roomID, h.sessionID, receiptHandles); err != nil {
		if rest.IsCancelled(err) {
			return
		}
		w.logger.Warn("acknowledge failed", map[string]any{
			"handle": h.id, "room": h.roomID, "count": len(receiptHandles), "error": err.Error(),
		})
	}
}

func (w *Watcher) notify(h *WatchHandle, loop int, old, next LoopState, delay time.Duration, err error) {
	w.mu.Lock()
	fn := w.onState
	w.mu.Unlock()
	if fn == nil {
		return
	}
	fn(StateEvent{HandleID: h.id, Loop: loop, OldState: old, NewState: next, Delay: delay, Error: err})
}

func (w *Watcher) recordError() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.errorCount < maxBackoffSteps {
		w.errorCount++
	}
	return w.errorCount
}

func (w *Watcher) resetErrors() {
	w.mu.Lock()
	w.errorCount = 0
	w.mu.Unlock()
}

// ErrorCount returns the shared consecutive error count.
func (w *Watcher) ErrorCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.errorCount
}

func (w *Watcher) markClosed(endpoint string) {
	w.mu.Lock()
	w.closed[endpoint] = true
	w.mu.Unlock()
}

func (w *Watcher) isClosed(endpoint string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed[endpoint]
}

// backoffDelay returns n² seconds for n consecutive errors, capped at limit.
func backoffDelay(n int, limit time.Duration) time.Duration {
	if n <= 0 {
		return 0
	}
	if n > maxBackoffSteps {
		n = maxBackoffSteps
	}
	d := time.Duration(n*n) * time.Second
	if d > limit {
		return limit
	}
	return d
}

func containsRoomClosed(msgs []rest.Event) bool {
	for _, m := range msgs {
		if m.Kind() == rest.EventRoomClosed {
			return true
		}
	}
	return false
}
