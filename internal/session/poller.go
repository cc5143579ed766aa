package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/sgallard/parley/internal/api"
	"github.com/sgallard/parley/internal/models"
	"github.com/sgallard/parley/internal/timeline"
)

const defaultPollLimit = 20

// Poll cadence backs off progressively after the conversation opens, then
// settles at one minute.
var pollIntervals = []time.Duration{
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	15 * time.Second,
	20 * time.Second,
	30 * time.Second,
	60 * time.Second,
}

// Reconciler merges items created elsewhere (another device, delayed
// server-side writes) into the timeline on a fixed cadence. Polling is
// best-effort: failures are logged and retried on the next tick, never
// surfaced.
type Reconciler struct {
	Backend        Backend
	Store          *timeline.Store
	ConversationID string
	Limit          int

	// Owns reports whether the streaming controller currently owns an
	// item id; such items are skipped so a stale server snapshot never
	// clobbers live streaming state.
	Owns func(id string) bool

	// OnAssistantSettled fires when a merged assistant item arrived
	// already finished, i.e. the generation completed somewhere else.
	OnAssistantSettled func()

	// Notify signals consumers that the timeline changed.
	Notify func()

	Log *slog.Logger
}

// Run ticks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	idx := 0
	for {
		interval := pollIntervals[idx]
		if idx < len(pollIntervals)-1 {
			idx++
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		if err := r.Tick(ctx); err != nil && ctx.Err() == nil {
			r.log().Debug("poll.tick.failed", "conversation_id", r.ConversationID, "err", err)
		}
	}
}

// Tick runs one reconciliation pass.
func (r *Reconciler) Tick(ctx context.Context) error {
	limit := r.Limit
	if limit <= 0 {
		limit = defaultPollLimit
	}

	params := api.ListItemsParams{Limit: limit}
	order := timeline.OrderNewestFirst
	if last := r.Store.LastSeenID(); last != "" {
		params.After = last
		params.Order = "asc"
		order = timeline.OrderOldestFirst
	}

	list, err := r.Backend.ListConversationItems(ctx, r.ConversationID, params)
	if err != nil {
		return err
	}
	if len(list.Data) == 0 {
		return nil
	}

	batch := make([]*models.Message, 0, len(list.Data))
	settledAssistant := false
	for _, item := range list.Data {
		msg := messageFromItem(item)
		if msg == nil {
			continue
		}
		// An item echoing our internal_message_id is the server-side
		// form of an optimistic local entry: rename it in place before
		// merging so no duplicate appears.
		if localID := item.Metadata["internal_message_id"]; localID != "" && localID != item.ID {
			r.Store.ReconcileLocalToServer(localID, item.ID)
		}
		if r.Owns != nil && r.Owns(msg.ID) {
			// Live stream wins over poll data for this id.
			continue
		}
		if msg.Role == schema.Assistant && msg.Status != models.MessageStatusStreaming {
			settledAssistant = true
		}
		batch = append(batch, msg)
	}

	if len(batch) > 0 {
		if order == timeline.OrderNewestFirst && r.Store.Len() > 0 {
			// First pass against a timeline that already has entries (the
			// initial load settled nothing, so there is no cursor yet):
			// fresh items here are newer than what is loaded and belong at
			// the newest end, so reverse to chronological order and append.
			for i, j := 0, len(batch)-1; i < j; i, j = i+1, j-1 {
				batch[i], batch[j] = batch[j], batch[i]
			}
			r.Store.MergeBatch(batch, timeline.OrderOldestFirst)
		} else {
			r.Store.MergeBatch(batch, order)
		}
	}

	if newest := newestSettledID(list.Data, order); newest != "" {
		r.Store.SetLastSeenID(newest)
	}

	if settledAssistant && r.OnAssistantSettled != nil {
		r.OnAssistantSettled()
	}
	if len(batch) > 0 && r.Notify != nil {
		r.Notify()
	}
	return nil
}

func (r *Reconciler) log() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}

// newestSettledID picks the poll cursor for the next tick: the newest item
// that is no longer in progress, respecting the batch's order.
func newestSettledID(items []api.Item, order timeline.Order) string {
	if order == timeline.OrderOldestFirst {
		for i := len(items) - 1; i >= 0; i-- {
			if itemSettled(items[i]) {
				return items[i].ID
			}
		}
		return ""
	}
	for _, item := range items {
		if itemSettled(item) {
			return item.ID
		}
	}
	return ""
}
