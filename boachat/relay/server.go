// Package relay serves one room to local views over websocket. Each view
// gets a snapshot on connect, then every room update, and may send messages
// through the room.
package relay

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/moduspwnens/boa-chat/boachat"
	"github.com/moduspwnens/boa-chat/boachat/internal"
	"github.com/moduspwnens/boa-chat/boachat/rest"
)

// Room is the part of *boachat.Room the relay needs.
type Room interface {
	ID() string
	Events() []boachat.ChatEvent
	Ready() bool
	Closed() bool
	Send(ctx context.Context, text string) (boachat.ChatEvent, error)
}

// Config controls the relay's connections.
type Config struct {
	// OriginPatterns lists extra allowed browser origins, see
	// websocket.AcceptOptions.
	OriginPatterns []string
	WriteTimeout   time.Duration
	// Buffer is how many frames may queue per view before it is dropped.
	Buffer int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		WriteTimeout: 10 * time.Second,
		Buffer:       32,
	}
}

// Server is an http.Handler upgrading requests to view connections.
type Server struct {
	room   Room
	cfg    Config
	logger boachat.Logger

	mu     sync.Mutex
	views  map[*view]struct{}
	closed bool
}

type view struct {
	conn   *internal.Conn
	out    chan Outbound
	cancel context.CancelFunc
}

// NewServer creates a relay for room.
func NewServer(room Room, cfg Config) *Server {
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultConfig().Buffer
	}
	return &Server{
		room:   room,
		cfg:    cfg,
		logger: boachat.NopLogger(),
		views:  make(map[*view]struct{}),
	}
}

// SetLogger overrides logger (optional).
func (s *Server) SetLogger(l boachat.Logger) {
	if l != nil {
		s.logger = l
	}
}

// ServeHTTP accepts a view connection and serves it until either side
// closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.OriginPatterns})
	if err != nil {
		s.logger.Warn("websocket accept failed", map[string]any{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	v := &view{
		conn:   internal.NewConn(ws, 0, s.cfg.WriteTimeout),
		out:    make(chan Outbound, s.cfg.Buffer),
		cancel: cancel,
	}
	v.out <- s.snapshot()
	if !s.register(v) {
		cancel()
		_ = v.conn.Close(websocket.StatusGoingAway, "relay closed")
		return
	}
	defer s.unregister(v)

	go s.writeLoop(ctx, v)
	s.readLoop(ctx, v)
	cancel()
	_ = v.conn.CloseNow()
}

func (s *Server) snapshot() Outbound {
	return Outbound{
		Type:       outboundSnapshot,
		Room:       s.room.ID(),
		Events:     s.room.Events(),
		Ready:      s.room.Ready(),
		RoomClosed: s.room.Closed(),
	}
}

func (s *Server) register(v *view) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.views[v] = struct{}{}
	s.logger.Debug("view connected", map[string]any{"room": s.room.ID(), "views": len(s.views)})
	return true
}

func (s *Server) unregister(v *view) {
	s.mu.Lock()
	delete(s.views, v)
	s.mu.Unlock()
}

// Publish forwards a room update to every view.
func (s *Server) Publish(u boachat.RoomUpdate) {
	s.broadcast(Outbound{
		Type:           outboundUpdate,
		Room:           u.RoomID,
		Events:         u.Events,
		Added:          u.Added,
		AdvancedLatest: u.AdvancedLatest,
		RoomClosed:     u.RoomClosed,
	})
}

// PublishReady tells every view that sending is unlocked.
func (s *Server) PublishReady() {
	s.broadcast(Outbound{Type: outboundReady, Room: s.room.ID(), Ready: true})
}

// broadcast queues out on every view. A view whose queue is full is
// disconnected.
func (s *Server) broadcast(out Outbound) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for v := range s.views {
		select {
		case v.out <- out:
		default:
			s.logger.Warn("view too slow, dropping", map[string]any{"room": s.room.ID()})
			v.cancel()
			delete(s.views, v)
		}
	}
}

// Views returns the number of connected views.
func (s *Server) Views() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.views)
}

// Close disconnects every view and refuses new ones.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	views := make([]*view, 0, len(s.views))
	for v := range s.views {
		views = append(views, v)
	}
	s.views = make(map[*view]struct{})
	s.mu.Unlock()

	for _, v := range views {
		v.cancel()
		_ = v.conn.Close(websocket.StatusGoingAway, "relay closed")
	}
	return nil
}

func (s *Server) readLoop(ctx context.Context, v *view) {
	for {
		var in Inbound
		if err := v.conn.Read(ctx, &in); err != nil {
			if !isExpectedDisconnect(ctx, err) {
				s.logger.Warn("read loop exit", map[string]any{"error": err.Error()})
			}
			return
		}
		switch in.Type {
		case inboundSend:
			s.reply(ctx, v, s.handleSend(ctx, in))
		default:
			s.reply(ctx, v, Outbound{
				Type:  outboundError,
				ID:    in.ID,
				Error: &Error{Code: "bad_request", Msg: "unknown type " + in.Type},
			})
		}
	}
}

func (s *Server) handleSend(ctx context.Context, in Inbound) Outbound {
	ev, err := s.room.Send(ctx, in.Text)
	if err != nil {
		return Outbound{Type: outboundError, ID: in.ID, Event: eventOrNil(ev), Error: toError(err)}
	}
	return Outbound{Type: outboundSent, ID: in.ID, Room: s.room.ID(), Event: &ev}
}

func (s *Server) reply(ctx context.Context, v *view, out Outbound) {
	select {
	case v.out <- out:
	case <-ctx.Done():
	}
}

func (s *Server) writeLoop(ctx context.Context, v *view) {
	for {
		select {
		case out := <-v.out:
			if err := v.conn.Write(ctx, out); err != nil {
				if !isExpectedDisconnect(ctx, err) {
					s.logger.Warn("write loop exit", map[string]any{"error": err.Error()})
				}
				v.cancel()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func eventOrNil(ev boachat.ChatEvent) *boachat.ChatEvent {
	if ev.MessageID == "" {
		return nil
	}
	return &ev
}

// toError maps SDK and API errors onto wire error codes.
func toError(err error) *Error {
	var be *boachat.BoachatError
	if errors.As(err, &be) {
		return &Error{Code: be.Code.String(), Msg: be.Message}
	}
	var re *rest.Error
	if errors.As(err, &re) {
		return &Error{Code: re.Kind.String(), Msg: re.Message}
	}
	return &Error{Code: "unknown", Msg: err.Error()}
}

func isExpectedDisconnect(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx != nil && ctx.Err() != nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	default:
		return false
	}
}
