package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/moduspwnens/boa-chat/boachat"
	"github.com/moduspwnens/boa-chat/boachat/relay"
	"github.com/moduspwnens/boa-chat/boachat/rest"
)

var relayAddr string

func init() {
	joinCmd.Flags().StringVar(&relayAddr, "relay", "", "also serve the room to websocket views on this address (path /ws)")

	roomCmd.AddCommand(createRoomCmd, joinCmd)
	rootCmd.AddCommand(roomCmd)
}

var roomCmd = &cobra.Command{
	Use:   "room",
	Short: "Create and join chat rooms",
}

var createRoomCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a room and print its id",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(func(c *boachat.Client) error {
			id, err := c.CreateRoom(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		})
	},
}

var joinCmd = &cobra.Command{
	Use:   "join <room-id>",
	Short: "Follow a room and send lines typed on stdin",
	Long: `Join prints the room's history and new messages as they arrive. Each line
read from stdin is sent as a message once the history has caught up with your
session. End input (Ctrl-D) or interrupt to leave.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(c *boachat.Client) error {
			return joinRoom(cmd.Context(), c, args[0])
		})
	},
}

func joinRoom(ctx context.Context, c *boachat.Client, roomID string) error {
	if _, ok := c.CurrentUser(); !ok {
		return boachat.ErrNotLoggedIn
	}

	room := c.Room(roomID)
	out := newPrinter(os.Stdout, room.AuthorName)

	var srv *relay.Server
	if relayAddr != "" {
		srv = relay.NewServer(room, relay.DefaultConfig())
		srv.SetLogger(boachat.NewZerologLogger(env.log))
	}

	room.OnUpdate(func(u boachat.RoomUpdate) {
		out.print(u)
		if srv != nil {
			srv.Publish(u)
		}
	})
	room.OnReady(func() {
		env.log.Info().Str("room", roomID).Msg("caught up, you can send now")
		if srv != nil {
			srv.PublishReady()
		}
	})
	room.OnError(func(err error) {
		env.log.Error().Err(err).Str("room", roomID).Msg("room error")
	})
	room.OnStateChange(func(ev boachat.StateEvent) {
		e := env.log.Debug().Uint64("watch", ev.HandleID).Int("loop", ev.Loop).
			Str("from", ev.OldState.String()).Str("to", ev.NewState.String())
		if ev.Delay > 0 {
			e = e.Dur("delay", ev.Delay)
		}
		if ev.Error != nil {
			e = e.Err(ev.Error)
		}
		e.Msg("poll loop")
	})

	if err := room.Open(ctx); err != nil {
		return err
	}

	if srv != nil {
		httpSrv := serveRelay(relayAddr, srv)
		defer func() {
			_ = srv.Close()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()
	}

	lines := make(chan string)
	go scanLines(os.Stdin, lines)

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if _, err := room.Send(ctx, line); err != nil {
				switch {
				case errors.Is(err, boachat.ErrComposeLocked):
					env.log.Warn().Msg("still loading history, message not sent")
				case errors.Is(err, boachat.ErrRoomClosed):
					return err
				default:
					env.log.Error().Err(err).Msg("send failed")
				}
			}
		}
	}
}

func serveRelay(addr string, srv *relay.Server) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/ws", srv)
	httpSrv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		env.log.Info().Str("addr", addr).Msg("relay listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			env.log.Error().Err(err).Msg("relay server failed")
		}
	}()
	return httpSrv
}

func scanLines(r io.Reader, lines chan<- string) {
	defer close(lines)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lines <- sc.Text()
	}
}

// printer writes each visible event of a room once. Local placeholders are
// printed when the server confirms them, or flagged when sending failed.
type printer struct {
	w      io.Writer
	author func(identityID string) (string, bool)
	now    func() time.Time

	mu   sync.Mutex
	seen map[string]bool
}

func newPrinter(w io.Writer, author func(string) (string, bool)) *printer {
	return &printer{w: w, author: author, now: time.Now, seen: make(map[string]bool)}
}

func (p *printer) print(u boachat.RoomUpdate) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, ev := range u.VisibleEvents() {
		key := ev.ClientMessageID
		if key == "" {
			key = ev.MessageID
		}
		switch {
		case ev.SendFailure:
			key += "/failed"
		case ev.Unsent:
			continue
		}
		if p.seen[key] {
			continue
		}
		p.seen[key] = true
		if ev.Kind() == rest.EventRoomClosed {
			fmt.Fprintln(p.w, "*** room closed")
			continue
		}
		p.line(ev)
	}
}

func (p *printer) line(ev boachat.ChatEvent) {
	when := humanize.RelTime(time.Unix(ev.Timestamp, 0), p.now(), "ago", "from now")
	name := ev.AuthorName
	if name == "" && p.author != nil {
		name, _ = p.author(ev.IdentityID)
	}
	if name == "" {
		name = ev.IdentityID
	}
	if ev.SendFailure {
		fmt.Fprintf(p.w, "[%s] ! not sent: %s\n", when, ev.Message)
		return
	}
	fmt.Fprintf(p.w, "[%s] %s: %s\n", when, name, ev.Message)
}
