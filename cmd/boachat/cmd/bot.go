package cmd

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/moduspwnens/boa-chat/boachat"
)

var botFlags struct {
	messages string
	minDelay time.Duration
	maxDelay time.Duration
	perSec   float64
	email    string
	password string
}

func init() {
	f := botCmd.Flags()
	f.StringVar(&botFlags.messages, "messages", "sample-chat-messages.txt", "file with one message per line")
	f.DurationVar(&botFlags.minDelay, "min-delay", time.Second, "shortest pause between messages")
	f.DurationVar(&botFlags.maxDelay, "max-delay", 10*time.Second, "longest pause between messages")
	f.Float64Var(&botFlags.perSec, "rate", 1, "hard cap on messages per second")
	f.StringVar(&botFlags.email, "email", "", "log in as this user first (default: $BOACHAT_EMAIL or saved credentials)")
	f.StringVar(&botFlags.password, "password-file", "", "password file for --email (default: $BOACHAT_PASSWORD)")

	rootCmd.AddCommand(botCmd)
}

var botCmd = &cobra.Command{
	Use:   "bot <room-id>",
	Short: "Post random lines to a room to generate chat traffic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if botFlags.minDelay <= 0 || botFlags.maxDelay < botFlags.minDelay {
			return fmt.Errorf("invalid delay range %s..%s", botFlags.minDelay, botFlags.maxDelay)
		}
		lines, err := loadMessages(env.fs, botFlags.messages)
		if err != nil {
			return err
		}
		return withClient(func(c *boachat.Client) error {
			if err := botLogin(cmd.Context(), c); err != nil {
				return err
			}
			return runBot(cmd.Context(), c, args[0], lines)
		})
	},
}

// loadMessages reads non-empty lines from path.
func loadMessages(fs afero.Fs, path string) ([]string, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no messages in %s", path)
	}
	return out, nil
}

func botLogin(ctx context.Context, c *boachat.Client) error {
	email := botFlags.email
	if email == "" {
		email = os.Getenv(envPrefix + "EMAIL")
	}
	if email == "" {
		if _, ok := c.CurrentUser(); !ok {
			return boachat.ErrNotLoggedIn
		}
		return nil
	}

	password := os.Getenv(envPrefix + "PASSWORD")
	if botFlags.password != "" || password == "" {
		var err error
		if password, err = passwordFrom(env.fs, botFlags.password, "Password: "); err != nil {
			return err
		}
	}
	_, err := c.Login(ctx, email, password)
	return err
}

// pause picks a uniformly random delay in [lo, hi].
func pause(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

func runBot(ctx context.Context, c *boachat.Client, roomID string, lines []string) error {
	room := c.Room(roomID)
	ready := make(chan struct{})
	var once sync.Once
	room.OnReady(func() { once.Do(func() { close(ready) }) })
	room.OnError(func(err error) {
		env.log.Error().Err(err).Str("room", roomID).Msg("room error")
	})
	if err := room.Open(ctx); err != nil {
		return err
	}

	select {
	case <-ready:
	case <-ctx.Done():
		return nil
	}
	env.log.Info().Str("room", roomID).Int("messages", len(lines)).Msg("bot started")

	limiter := rate.NewLimiter(rate.Limit(botFlags.perSec), 1)
	sent := 0
	for {
		select {
		case <-time.After(pause(botFlags.minDelay, botFlags.maxDelay)):
		case <-ctx.Done():
			env.log.Info().Int("sent", sent).Msg("bot stopped")
			return nil
		}
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}

		text := lines[rand.IntN(len(lines))]
		if _, err := room.Send(ctx, text); err != nil {
			if errors.Is(err, boachat.ErrRoomClosed) {
				return err
			}
			env.log.Warn().Err(err).Msg("send failed")
			continue
		}
		sent++
		env.log.Debug().Str("message", text).Msg("sent")
	}
}
