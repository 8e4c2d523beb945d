package relay

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moduspwnens/boa-chat/boachat"
	"github.com/moduspwnens/boa-chat/boachat/rest"
)

type fakeRoom struct {
	mu     sync.Mutex
	events []boachat.ChatEvent
	ready  bool
	sent   []string
}

func (f *fakeRoom) ID() string { return "room-1" }

func (f *fakeRoom) Events() []boachat.ChatEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]boachat.ChatEvent(nil), f.events...)
}

func (f *fakeRoom) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeRoom) Closed() bool { return false }

func (f *fakeRoom) Send(_ context.Context, text string) (boachat.ChatEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ready {
		return boachat.ChatEvent{}, boachat.ErrComposeLocked
	}
	f.sent = append(f.sent, text)
	return boachat.ChatEvent{
		Event:  rest.Event{MessageID: "local-1", ClientMessageID: "local-1", Message: text},
		Unsent: true,
	}, nil
}

func dialRelay(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	hs := httptest.NewServer(srv)
	t.Cleanup(hs.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(hs.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Outbound {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var out Outbound
	require.NoError(t, wsjson.Read(ctx, conn, &out))
	return out
}

func writeFrame(t *testing.T, conn *websocket.Conn, in Inbound) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, in))
}

func TestRelaySnapshotThenUpdates(t *testing.T) {
	room := &fakeRoom{events: []boachat.ChatEvent{{Event: rest.Event{MessageID: "m1", Message: "hi", Timestamp: 5}}}}
	srv := NewServer(room, DefaultConfig())
	defer srv.Close()
	conn := dialRelay(t, srv)

	snap := readFrame(t, conn)
	assert.Equal(t, outboundSnapshot, snap.Type)
	assert.Equal(t, "room-1", snap.Room)
	require.Len(t, snap.Events, 1)
	assert.Equal(t, "hi", snap.Events[0].Message)
	assert.False(t, snap.Ready)

	require.Eventually(t, func() bool { return srv.Views() == 1 }, 5*time.Second, time.Millisecond)

	srv.Publish(boachat.RoomUpdate{
		RoomID:         "room-1",
		Events:         []boachat.ChatEvent{{Event: rest.Event{MessageID: "m2", Message: "there", Timestamp: 6}}},
		Added:          1,
		AdvancedLatest: true,
	})
	upd := readFrame(t, conn)
	assert.Equal(t, outboundUpdate, upd.Type)
	assert.Equal(t, 1, upd.Added)
	assert.True(t, upd.AdvancedLatest)

	srv.PublishReady()
	rdy := readFrame(t, conn)
	assert.Equal(t, outboundReady, rdy.Type)
	assert.True(t, rdy.Ready)
}

func TestRelaySend(t *testing.T) {
	room := &fakeRoom{}
	srv := NewServer(room, DefaultConfig())
	defer srv.Close()
	conn := dialRelay(t, srv)
	readFrame(t, conn)

	writeFrame(t, conn, Inbound{Type: inboundSend, ID: "req-1", Text: "too early"})
	locked := readFrame(t, conn)
	assert.Equal(t, outboundError, locked.Type)
	assert.Equal(t, "req-1", locked.ID)
	require.NotNil(t, locked.Error)
	assert.Equal(t, boachat.ErrorComposeLocked.String(), locked.Error.Code)

	room.mu.Lock()
	room.ready = true
	room.mu.Unlock()

	writeFrame(t, conn, Inbound{Type: inboundSend, ID: "req-2", Text: "hello"})
	sent := readFrame(t, conn)
	assert.Equal(t, outboundSent, sent.Type)
	assert.Equal(t, "req-2", sent.ID)
	require.NotNil(t, sent.Event)
	assert.True(t, sent.Event.Unsent)
	assert.Equal(t, "hello", sent.Event.Message)

	room.mu.Lock()
	assert.Equal(t, []string{"hello"}, room.sent)
	room.mu.Unlock()
}

func TestRelayUnknownType(t *testing.T) {
	srv := NewServer(&fakeRoom{}, DefaultConfig())
	defer srv.Close()
	conn := dialRelay(t, srv)
	readFrame(t, conn)

	writeFrame(t, conn, Inbound{Type: "shout", ID: "x"})
	out := readFrame(t, conn)
	assert.Equal(t, outboundError, out.Type)
	require.NotNil(t, out.Error)
	assert.Equal(t, "bad_request", out.Error.Code)
}

func TestRelayCloseDisconnectsViews(t *testing.T) {
	srv := NewServer(&fakeRoom{}, DefaultConfig())
	conn := dialRelay(t, srv)
	readFrame(t, conn)
	require.Eventually(t, func() bool { return srv.Views() == 1 }, 5*time.Second, time.Millisecond)

	require.NoError(t, srv.Close())
	assert.Zero(t, srv.Views())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var out Outbound
	err := wsjson.Read(ctx, conn, &out)
	require.Error(t, err)
}

func TestToError(t *testing.T) {
	assert.Equal(t, "room_closed", toError(boachat.ErrRoomClosed).Code)
	assert.Equal(t, rest.KindLoginRequired.String(), toError(rest.NewError(rest.KindLoginRequired, "x")).Code)
	assert.Equal(t, "unknown", toError(assert.AnError).Code)
}

type countingLogger struct {
	mu    sync.Mutex
	warns int
}

func (l *countingLogger) Debug(string, map[string]any) {}
func (l *countingLogger) Info(string, map[string]any)  {}
func (l *countingLogger) Warn(string, map[string]any) {
	l.mu.Lock()
	l.warns++
	l.mu.Unlock()
}
func (l *countingLogger) Error(string, map[string]any) {}

func TestRelaySetLogger(t *testing.T) {
	srv := NewServer(&fakeRoom{}, DefaultConfig())
	assert.Equal(t, boachat.NopLogger(), srv.logger)

	srv.SetLogger(nil)
	assert.Equal(t, boachat.NopLogger(), srv.logger, "nil keeps the discarding logger")

	logger := &countingLogger{}
	srv.SetLogger(logger)
	hs := httptest.NewServer(srv)
	defer hs.Close()

	// A plain HTTP request is not a websocket upgrade.
	resp, err := hs.Client().Get(hs.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()

	logger.mu.Lock()
	defer logger.mu.Unlock()
	assert.Equal(t, 1, logger.warns)
}
