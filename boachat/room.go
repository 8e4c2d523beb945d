package boachat

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/moduspwnens/boa-chat/boachat/rest"
)

// RoomAPI is the part of the REST client a Room needs. *rest.Client
// satisfies it.
type RoomAPI interface {
	SessionPoller
	CreateRoomSession(ctx context.Context, roomID string) (string, error)
	PostMessage(ctx context.Context, roomID, message, clientMessageID string) (string, error)
	RoomMessages(ctx context.Context, roomID, nextToken string) (*rest.MessagesPage, error)
}

// Room keeps one room's event list in sync with the server: it opens a room
// session, watches it, fetches history until it has caught up with the
// session, and sends messages.
//
// Callbacks run one at a time on a dedicated goroutine, except the state
// callback, which runs on the poll loop that changed state. Callbacks may call
// Send and the other Room methods.
type Room struct {
	id         string
	api        RoomAPI
	cfg        Config
	clock      clockwork.Clock
	logger     Logger
	metrics    *Metrics
	watcher    *Watcher
	ledger     *Ledger
	dispatcher Dispatcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	notesMu    sync.Mutex
	notes      []func()
	notesReady chan struct{}

	// sessionMu serializes swapping the watch onto a new session.
	sessionMu sync.Mutex

	mu             sync.Mutex
	opened         bool
	closed         bool
	handle         *WatchHandle
	sessionGen     uint64
	createCancel   context.CancelFunc
	sessionID      string
	sessionErr     error
	historyCurrent bool
	historyRunning bool
	authorName     string
	filled         func([]ChatEvent) bool
}

// NewRoom creates a room bound to api. Register callbacks, then call Open.
func NewRoom(api RoomAPI, roomID string, cfg Config) *Room {
	cfg = cfg.withDefaults()
	r := &Room{
		id:         roomID,
		api:        api,
		cfg:        cfg,
		clock:      cfg.Clock,
		logger:     noopLogger{},
		metrics:    cfg.Metrics,
		ledger:     NewLedger(),
		notesReady: make(chan struct{}, 1),
	}
	r.watcher = NewWatcher(api, cfg.Clock)
	r.watcher.SetMaxBackoff(cfg.MaxBackoff)
	r.watcher.SetMetrics(cfg.Metrics)
	r.watcher.OnStateChange(r.dispatcher.state)
	return r
}

// SetLogger overrides logger (optional).
func (r *Room) SetLogger(l Logger) {
	if l == nil {
		return
	}
	r.logger = l
	r.watcher.SetLogger(l)
}

// SetAuthorName sets the name shown on unsent placeholders.
func (r *Room) SetAuthorName(name string) {
	r.mu.Lock()
	r.authorName = name
	r.mu.Unlock()
}

// SetViewportFilled replaces the fill test that stops history paging. The
// default counts HistoryFillCount visible events as filled.
func (r *Room) SetViewportFilled(fn func(rendered []ChatEvent) bool) {
	r.mu.Lock()
	r.filled = fn
	r.mu.Unlock()
}

// OnUpdate registers callback for event list changes.
func (r *Room) OnUpdate(fn func(RoomUpdate)) { r.dispatcher.SetOnUpdate(fn) }

// OnReady registers callback for when history catches up with the current
// session and sending unlocks.
func (r *Room) OnReady(fn func()) { r.dispatcher.SetOnReady(fn) }

// OnError registers callback for errors the user should see, such as a
// failed session creation. Use IsLoginRequired to tell apart expired logins.
func (r *Room) OnError(fn func(error)) { r.dispatcher.SetOnError(fn) }

// OnStateChange registers callback for poll loop state changes. It must not
// block.
func (r *Room) OnStateChange(fn func(StateEvent)) { r.dispatcher.SetOnState(fn) }

// Open starts session creation and the history fetch concurrently. The room
// stops when ctx ends or Close is called.
func (r *Room) Open(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.opened {
		return NewError(ErrorUnknown, "room already open")
	}
	r.opened = true
	r.ctx, r.cancel = context.WithCancel(ctx)

	go r.notifyLoop()
	r.startSessionLocked()
	r.startHistoryLocked()
	r.logger.Info("room opened", map[string]any{"room": r.id})
	return nil
}

// RestartSession opens a new room session and moves the watch onto it. The
// room stays locked for sending until the new session's marker arrives.
func (r *Room) RestartSession() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.opened || r.closed {
		return ErrClosed
	}
	r.sessionErr = nil
	r.startSessionLocked()
	r.startHistoryLocked()
	return nil
}

// startSessionLocked starts creating a session under a new generation. A
// creation still in flight for an older generation is cancelled, and its
// result is dropped if it arrives anyway.
func (r *Room) startSessionLocked() {
	if r.createCancel != nil {
		r.createCancel()
	}
	r.sessionGen++
	ctx, cancel := context.WithCancel(r.ctx)
	r.createCancel = cancel
	r.wg.Add(1)
	go r.startSession(ctx, cancel, r.sessionGen)
}

// startHistoryLocked starts the history loop unless one is running.
func (r *Room) startHistoryLocked() {
	if r.historyRunning {
		return
	}
	r.historyRunning = true
	r.wg.Add(1)
	go r.runHistory()
}

func (r *Room) startSession(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	defer r.wg.Done()
	defer cancel()

	sessionID, err := r.api.CreateRoomSession(ctx, r.id)
	if err != nil {
		if ctx.Err() != nil || rest.IsCancelled(err) {
			return
		}
		r.mu.Lock()
		if gen != r.sessionGen {
			r.mu.Unlock()
			return
		}
		r.sessionErr = err
		r.mu.Unlock()
		r.logger.Error("create room session failed", map[string]any{"room": r.id, "error": err.Error()})
		r.enqueue(func() { r.dispatcher.fireError(err) })
		return
	}

	r.sessionMu.Lock()
	defer r.sessionMu.Unlock()

	r.mu.Lock()
	if r.closed || gen != r.sessionGen {
		r.mu.Unlock()
		r.logger.Debug("stale room session dropped", map[string]any{"room": r.id, "session": sessionID})
		return
	}
	prev := r.handle
	r.handle = nil
	r.sessionID = sessionID
	r.historyCurrent = false
	r.mu.Unlock()

	if prev != nil {
		r.watcher.StopWatching(prev)
		prev.Wait()
	}

	h := r.watcher.Watch(r.ctx, r.id, sessionID, r.onMessages, r.cfg.PollConcurrency)
	r.mu.Lock()
	r.handle = h
	closed := r.closed
	r.mu.Unlock()
	if closed {
		r.watcher.StopWatching(h)
		return
	}
	r.logger.Info("room session started", map[string]any{"room": r.id, "session": sessionID})

	r.checkSessionStarted()
}

func (r *Room) onMessages(msgs []rest.Event) {
	r.ingest(toChatEvents(msgs), false)
}

// ingest merges events into the ledger and queues the resulting update.
func (r *Room) ingest(events []ChatEvent, localUnsent bool) IngestResult {
	res := r.ledger.Ingest(events, localUnsent)
	r.metrics.ingested(res)
	if res.Changed() || res.RoomClosed {
		r.publish(res)
	}
	if res.RoomClosed {
		r.logger.Info("room closed", map[string]any{"room": r.id})
	}
	r.checkSessionStarted()
	return res
}

func (r *Room) publish(res IngestResult) {
	u := RoomUpdate{
		RoomID:         r.id,
		Events:         r.ledger.Events(),
		Added:          res.Added,
		Confirmed:      res.Confirmed,
		AdvancedLatest: res.AdvancedLatest,
		RoomClosed:     r.ledger.RoomClosed(),
	}
	r.enqueue(func() { r.dispatcher.update(u) })
}

// checkSessionStarted unlocks sending once the current session's marker is
// in the ledger.
func (r *Room) checkSessionStarted() {
	r.mu.Lock()
	sessionID := r.sessionID
	current := r.historyCurrent
	r.mu.Unlock()
	if current || sessionID == "" || !r.ledger.HasSessionStarted(sessionID) {
		return
	}

	r.mu.Lock()
	if r.historyCurrent || r.sessionID != sessionID {
		r.mu.Unlock()
		return
	}
	r.historyCurrent = true
	r.mu.Unlock()

	r.logger.Info("room history current", map[string]any{"room": r.id, "session": sessionID})
	r.enqueue(r.dispatcher.ready)
}

// Send posts text to the room. The message shows up at once as an unsent
// placeholder; it is confirmed when the server echoes it back. A failed post
// flags the placeholder and returns the error.
func (r *Room) Send(ctx context.Context, text string) (ChatEvent, error) {
	if strings.TrimSpace(text) == "" {
		return ChatEvent{}, rest.NewError(rest.KindValidation, "message is empty")
	}
	r.mu.Lock()
	closed := r.closed || !r.opened
	current := r.historyCurrent
	author := r.authorName
	r.mu.Unlock()
	switch {
	case closed:
		return ChatEvent{}, ErrClosed
	case r.ledger.RoomClosed():
		return ChatEvent{}, ErrRoomClosed
	case !current:
		return ChatEvent{}, ErrComposeLocked
	}

	placeholder := ChatEvent{
		Event: rest.Event{
			MessageID:       uuid.NewString(),
			ClientMessageID: uuid.NewString(),
			AuthorName:      author,
			Timestamp:       r.clock.Now().Unix(),
			Message:         text,
		},
		Unsent: true,
	}
	r.ingest([]ChatEvent{placeholder}, true)

	if _, err := r.api.PostMessage(ctx, r.id, text, placeholder.ClientMessageID); err != nil {
		if r.ledger.MarkSendFailure(placeholder.ClientMessageID) {
			placeholder.SendFailure = true
			r.metrics.sendFailed()
			r.publish(IngestResult{})
		}
		r.logger.Warn("send failed", map[string]any{"room": r.id, "error": err.Error()})
		return placeholder, err
	}
	return placeholder, nil
}

// notifyLoop runs callbacks in order until the room stops.
func (r *Room) notifyLoop() {
	for {
		select {
		case <-r.notesReady:
		case <-r.ctx.Done():
			return
		}
		r.notesMu.Lock()
		batch := r.notes
		r.notes = nil
		r.notesMu.Unlock()

		for _, fn := range batch {
			if r.ctx.Err() != nil {
				return
			}
			fn()
		}
	}
}

// enqueue queues fn for notifyLoop. It never blocks, so callbacks can
// enqueue too.
func (r *Room) enqueue(fn func()) {
	if r.ctx.Err() != nil {
		return
	}
	r.notesMu.Lock()
	r.notes = append(r.notes, fn)
	r.notesMu.Unlock()
	select {
	case r.notesReady <- struct{}{}:
	default:
	}
}

// Close stops the watch and the history fetch. It does not wait for poll
// loops to exit; use Wait for that. Close is safe to call from callbacks.
func (r *Room) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	opened := r.opened
	h := r.handle
	r.mu.Unlock()

	if !opened {
		return nil
	}
	r.cancel()
	r.watcher.StopWatching(h)
	r.logger.Info("room closed by caller", map[string]any{"room": r.id})
	return nil
}

// Wait blocks until the room's goroutines have exited after Close.
func (r *Room) Wait() {
	r.wg.Wait()
	r.mu.Lock()
	h := r.handle
	r.mu.Unlock()
	if h != nil {
		r.watcher.StopWatching(h)
		h.Wait()
	}
}

// ID returns the room id.
func (r *Room) ID() string { return r.id }

// SessionID returns the current room session, empty until one is created.
func (r *Room) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

// SessionErr returns the recorded session creation failure, if any.
func (r *Room) SessionErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionErr
}

// HistoryCurrent reports whether history has caught up with the current
// session. Sending is allowed only then.
func (r *Room) HistoryCurrent() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.historyCurrent
}

// Ready is an alias of HistoryCurrent.
func (r *Room) Ready() bool { return r.HistoryCurrent() }

// Closed reports whether the room emitted its closing event.
func (r *Room) Closed() bool { return r.ledger.RoomClosed() }

// Events returns a snapshot of the ordered event list.
func (r *Room) Events() []ChatEvent { return r.ledger.Events() }

// Pending returns the messages still awaiting their echo.
func (r *Room) Pending() []ChatEvent { return r.ledger.Pending() }

// AuthorName returns the last name seen for an identity.
func (r *Room) AuthorName(identityID string) (string, bool) {
	return r.ledger.AuthorName(identityID)
}
