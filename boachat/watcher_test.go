package boachat

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moduspwnens/boa-chat/boachat/rest"
)

type pollResult struct {
	resp *rest.SessionMessages
	err  error
}

// fakePoller hands out results pushed by the test, one per poll.
type fakePoller struct {
	results chan pollResult
	calls   atomic.Int32

	mu    sync.Mutex
	acked [][]string
}

func newFakePoller() *fakePoller {
	return &fakePoller{results: make(chan pollResult)}
}

func (p *fakePoller) PollSessionMessages(ctx context.Context, roomID, sessionID string) (*rest.SessionMessages, error) {
	p.calls.Add(1)
	select {
	case r := <-p.results:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, rest.WrapError(rest.KindCancelled, "request cancelled", ctx.Err())
	}
}

func (p *fakePoller) AcknowledgeSessionMessages(ctx context.Context, roomID, sessionID string, receiptHandles []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acked = append(p.acked, receiptHandles)
	return nil
}

func (p *fakePoller) ackedHandles() [][]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]string(nil), p.acked...)
}

func failure() pollResult {
	return pollResult{err: rest.NewError(rest.KindOther, "bad gateway")}
}

func batch(events ...rest.Event) pollResult {
	handles := make([]string, len(events))
	for i, ev := range events {
		handles[i] = "receipt-" + ev.MessageID
	}
	return pollResult{resp: &rest.SessionMessages{Messages: events, ReceiptHandles: handles}}
}

func recordStates(w *Watcher) chan StateEvent {
	states := make(chan StateEvent, 256)
	w.OnStateChange(func(ev StateEvent) { states <- ev })
	return states
}

func nextState(t *testing.T, states <-chan StateEvent, want LoopState) StateEvent {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-states:
			if ev.NewState == want {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s transition", want)
		}
	}
}

func waitHandle(t *testing.T, h *WatchHandle) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		h.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watch loops did not exit")
	}
}

func TestBackoffDelay(t *testing.T) {
	limit := 30 * time.Second
	tests := []struct {
		n    int
		want time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 4 * time.Second},
		{3, 9 * time.Second},
		{5, 25 * time.Second},
		{6, 30 * time.Second},
		{1 << 30, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, backoffDelay(tt.n, limit), "n=%d", tt.n)
	}
}

func TestWatcherBackoffSequence(t *testing.T) {
	fc := clockwork.NewFakeClock()
	p := newFakePoller()
	w := NewWatcher(p, fc)
	states := recordStates(w)

	h := w.Watch(context.Background(), "room-1", "session-1", func([]rest.Event) {}, 1)
	defer func() {
		w.StopWatching(h)
		waitHandle(t, h)
	}()

	for _, want := range []time.Duration{1, 4, 9, 16, 25, 30, 30} {
		p.results <- failure()
		ev := nextState(t, states, LoopBackingOff)
		assert.Equal(t, want*time.Second, ev.Delay)
		assert.Error(t, ev.Error)

		fc.BlockUntil(1)
		fc.Advance(ev.Delay)
		nextState(t, states, LoopPolling)
	}
}

func TestWatcherSharedErrorCounter(t *testing.T) {
	fc := clockwork.NewFakeClock()
	p := newFakePoller()
	w := NewWatcher(p, fc)
	states := recordStates(w)

	h := w.Watch(context.Background(), "room-1", "session-1", func([]rest.Event) {}, 2)
	defer func() {
		w.StopWatching(h)
		waitHandle(t, h)
	}()

	p.results <- failure()
	p.results <- failure()
	first := nextState(t, states, LoopBackingOff)
	second := nextState(t, states, LoopBackingOff)
	assert.ElementsMatch(t, []time.Duration{time.Second, 4 * time.Second}, []time.Duration{first.Delay, second.Delay})
	assert.NotEqual(t, first.Loop, second.Loop)
	assert.Equal(t, 2, w.ErrorCount())

	fc.BlockUntil(2)
	fc.Advance(4 * time.Second)
	require.Eventually(t, func() bool { return p.calls.Load() == 4 }, 5*time.Second, time.Millisecond)

	// One loop's success resets the counter for both.
	p.results <- pollResult{resp: &rest.SessionMessages{}}
	require.Eventually(t, func() bool { return p.calls.Load() == 5 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, 0, w.ErrorCount())

	p.results <- failure()
	ev := nextState(t, states, LoopBackingOff)
	assert.Equal(t, time.Second, ev.Delay)
}

func TestWatcherDeliversAndAcknowledges(t *testing.T) {
	p := newFakePoller()
	w := NewWatcher(p, clockwork.NewFakeClock())

	got := make(chan []rest.Event, 4)
	h := w.Watch(context.Background(), "room-1", "session-1", func(msgs []rest.Event) { got <- msgs }, 3)
	defer func() {
		w.StopWatching(h)
		waitHandle(t, h)
	}()

	p.results <- batch(rest.Event{MessageID: "m1", Message: "hi"}, rest.Event{MessageID: "m2", Message: "there"})

	select {
	case msgs := <-got:
		require.Len(t, msgs, 2)
		assert.Equal(t, "m1", msgs[0].MessageID)
	case <-time.After(5 * time.Second):
		t.Fatal("messages not delivered")
	}
	require.Eventually(t, func() bool { return len(p.ackedHandles()) == 1 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, []string{"receipt-m1", "receipt-m2"}, p.ackedHandles()[0])

	// Empty polls deliver nothing and acknowledge nothing.
	p.results <- pollResult{resp: &rest.SessionMessages{}}
	require.Eventually(t, func() bool { return p.calls.Load() >= 5 }, 5*time.Second, time.Millisecond)
	assert.Len(t, got, 0)
	assert.Len(t, p.ackedHandles(), 1)
}

func TestWatcherAcknowledgesSkippedBatch(t *testing.T) {
	p := newFakePoller()
	w := NewWatcher(p, clockwork.NewFakeClock())

	got := make(chan []rest.Event, 4)
	h := w.Watch(context.Background(), "room-1", "session-1", func(msgs []rest.Event) { got <- msgs }, 1)
	defer func() {
		w.StopWatching(h)
		waitHandle(t, h)
	}()

	// Every event in the batch was malformed and removed by the client.
	p.results <- pollResult{resp: &rest.SessionMessages{ReceiptHandles: []string{"receipt-bad"}, Skipped: 1}}

	require.Eventually(t, func() bool { return len(p.ackedHandles()) == 1 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, []string{"receipt-bad"}, p.ackedHandles()[0])
	assert.Len(t, got, 0)
}

func TestWatcherMetrics(t *testing.T) {
	p := newFakePoller()
	m := NewMetrics(prometheus.NewRegistry())
	w := NewWatcher(p, clockwork.NewFakeClock())
	w.SetMetrics(m)

	h := w.Watch(context.Background(), "room-1", "session-1", func([]rest.Event) {}, 2)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ActiveLoops))

	p.results <- batch(rest.Event{MessageID: "m1"})
	p.results <- failure()
	require.Eventually(t, func() bool { return testutil.ToFloat64(m.Backoffs) == 1 }, 5*time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.Polls.WithLabelValues("success")) == 1
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Polls.WithLabelValues("error")))

	w.StopWatching(h)
	waitHandle(t, h)
	assert.Zero(t, testutil.ToFloat64(m.ActiveLoops))
}

func TestStopWatchingEndsLoops(t *testing.T) {
	p := newFakePoller()
	w := NewWatcher(p, clockwork.NewFakeClock())
	states := recordStates(w)

	var delivered atomic.Int32
	h := w.Watch(context.Background(), "room-1", "session-1", func([]rest.Event) { delivered.Add(1) }, 3)
	require.Eventually(t, func() bool { return p.calls.Load() == 3 }, 5*time.Second, time.Millisecond)

	w.StopWatching(h)
	w.StopWatching(h)
	waitHandle(t, h)

	assert.True(t, h.Canceled())
	for i := 0; i < 3; i++ {
		nextState(t, states, LoopCancelled)
	}
	assert.Zero(t, delivered.Load())
	assert.Zero(t, w.ErrorCount(), "cancellation is not a poll failure")
}

// stubbornPoller ignores cancellation: its poll returns one batch once
// released, modelling a response already on the wire when the watch stops.
type stubbornPoller struct {
	started chan struct{}
	release chan struct{}
}

func (p *stubbornPoller) PollSessionMessages(ctx context.Context, roomID, sessionID string) (*rest.SessionMessages, error) {
	select {
	case p.started <- struct{}{}:
	default:
	}
	<-p.release
	return &rest.SessionMessages{Messages: []rest.Event{{MessageID: "late"}}}, nil
}

func (p *stubbornPoller) AcknowledgeSessionMessages(context.Context, string, string, []string) error {
	return nil
}

func TestStopWatchingDropsLateResponses(t *testing.T) {
	p := &stubbornPoller{started: make(chan struct{}, 1), release: make(chan struct{})}
	w := NewWatcher(p, clockwork.NewFakeClock())
	states := recordStates(w)

	var delivered atomic.Int32
	h := w.Watch(context.Background(), "room-1", "session-1", func([]rest.Event) { delivered.Add(1) }, 1)
	<-p.started

	w.StopWatching(h)
	close(p.release)
	waitHandle(t, h)

	nextState(t, states, LoopCancelled)
	assert.Zero(t, delivered.Load())
}

func TestWatcherRoomClosedIsTerminal(t *testing.T) {
	p := newFakePoller()
	w := NewWatcher(p, clockwork.NewFakeClock())
	states := recordStates(w)

	var delivered atomic.Int32
	h := w.Watch(context.Background(), "room-1", "session-1", func([]rest.Event) { delivered.Add(1) }, 1)

	p.results <- batch(rest.Event{
		MessageID:  "closed",
		IdentityID: "SYSTEM",
		AuthorName: "System Message",
		Message:    "The room is now closed.",
		Type:       rest.EventRoomClosed,
	})
	require.Eventually(t, func() bool { return delivered.Load() == 1 }, 5*time.Second, time.Millisecond)

	p.results <- pollResult{err: rest.NewError(rest.KindOther, "session gone")}
	ev := nextState(t, states, LoopRoomClosed)
	assert.Error(t, ev.Error)
	assert.True(t, ev.NewState.Terminal())
	waitHandle(t, h)
	assert.Zero(t, w.ErrorCount(), "no backoff after the room closed")
}

func TestWatcherParentContextCancel(t *testing.T) {
	p := newFakePoller()
	w := NewWatcher(p, clockwork.NewFakeClock())

	ctx, cancel := context.WithCancel(context.Background())
	h := w.Watch(ctx, "room-1", "session-1", func([]rest.Event) {}, 2)
	require.Eventually(t, func() bool { return p.calls.Load() == 2 }, 5*time.Second, time.Millisecond)

	cancel()
	waitHandle(t, h)
	assert.Zero(t, w.ErrorCount())
}

func TestWatcherCancelDuringBackoff(t *testing.T) {
	fc := clockwork.NewFakeClock()
	p := newFakePoller()
	w := NewWatcher(p, fc)
	states := recordStates(w)

	h := w.Watch(context.Background(), "room-1", "session-1", func([]rest.Event) {}, 1)
	p.results <- failure()
	nextState(t, states, LoopBackingOff)

	w.StopWatching(h)
	waitHandle(t, h)
	ev := nextState(t, states, LoopCancelled)
	assert.Equal(t, LoopBackingOff, ev.OldState)
}

func TestWatchHandleIDs(t *testing.T) {
	p := newFakePoller()
	w := NewWatcher(p, clockwork.NewFakeClock())

	a := w.Watch(context.Background(), "room-1", "s1", func([]rest.Event) {}, 1)
	b := w.Watch(context.Background(), "room-1", "s2", func([]rest.Event) {}, 1)
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, "s2", b.SessionID())
	assert.Equal(t, "room-1", a.RoomID())

	w.StopWatching(a)
	w.StopWatching(b)
	waitHandle(t, a)
	waitHandle(t, b)
	w.StopWatching(nil)
}
