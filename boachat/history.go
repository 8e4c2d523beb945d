package boachat

import (
	"context"

	"github.com/moduspwnens/boa-chat/boachat/rest"
)

// fetchHistory walks history pages newest first, merging each page through
// the same ingestion path as the watcher. It keeps paging while the server
// reports more, the view is not filled and session creation has not failed.
func (r *Room) fetchHistory(ctx context.Context) error {
	token := ""
	for page := 1; ; page++ {
		resp, err := r.api.RoomMessages(ctx, r.id, token)
		if err != nil {
			return err
		}
		r.ingest(toChatEvents(resp.Messages), false)
		r.logger.Debug("history page", map[string]any{
			"room": r.id, "page": page, "count": len(resp.Messages), "truncated": resp.Truncated,
		})
		if resp.Skipped > 0 {
			r.logger.Warn("skipped malformed history messages", map[string]any{"room": r.id, "page": page, "skipped": resp.Skipped})
		}

		if !resp.Truncated || resp.NextToken == "" {
			return nil
		}
		if r.viewportFilled(r.ledger.Events()) || r.SessionErr() != nil {
			return nil
		}
		token = resp.NextToken
	}
}

// runHistory repeats fetchHistory until the current session's marker shows
// up in the ledger.
func (r *Room) runHistory() {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		r.historyRunning = false
		r.mu.Unlock()
	}()
	for {
		err := r.fetchHistory(r.ctx)
		if r.ctx.Err() != nil || rest.IsCancelled(err) {
			return
		}
		if err != nil {
			r.logger.Warn("history fetch failed", map[string]any{"room": r.id, "error": err.Error()})
			if rest.KindOf(err) == rest.KindLoginRequired {
				r.enqueue(func() { r.dispatcher.fireError(err) })
				return
			}
		}

		if r.HistoryCurrent() || r.SessionErr() != nil || r.ledger.RoomClosed() {
			return
		}
		select {
		case <-r.clock.After(r.cfg.HistoryRetryDelay):
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Room) viewportFilled(events []ChatEvent) bool {
	r.mu.Lock()
	fn := r.filled
	r.mu.Unlock()
	if fn != nil {
		return fn(events)
	}
	visible := 0
	for _, ev := range events {
		if ev.Visible() {
			visible++
		}
	}
	return visible >= r.cfg.HistoryFillCount
}

func toChatEvents(events []rest.Event) []ChatEvent {
	out := make([]ChatEvent, len(events))
	for i, ev := range events {
		out[i] = ChatEvent{Event: ev}
	}
	return out
}
