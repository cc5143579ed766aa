package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sgallard/parley/internal/api"
	"github.com/sgallard/parley/internal/models"
	"github.com/sgallard/parley/internal/timeline"
)

const defaultPageSize = 10

// Paginator fetches older history pages keyed by the oldest loaded item.
// LoadOlder is serialized: a call while a fetch is in flight is a no-op.
// HasMore flips false exactly when a fetch returns fewer items than the
// page size, and only then.
type Paginator struct {
	Backend        Backend
	Store          *timeline.Store
	ConversationID string
	PageSize       int
	Notify         func()
	Log            *slog.Logger

	mu      sync.Mutex
	hasMore bool
	loading bool
}

// SetHasMore seeds the flag from the initial load.
func (p *Paginator) SetHasMore(hasMore bool) {
	p.mu.Lock()
	p.hasMore = hasMore
	p.mu.Unlock()
}

func (p *Paginator) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasMore
}

func (p *Paginator) IsLoading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loading
}

// LoadOlder fetches the next older page and prepends it to the timeline.
// Fetch failures are transient: logged, hasMore left intact, retried on
// the next natural trigger.
func (p *Paginator) LoadOlder(ctx context.Context) error {
	p.mu.Lock()
	if !p.hasMore || p.loading {
		p.mu.Unlock()
		return nil
	}
	p.loading = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.loading = false
		p.mu.Unlock()
	}()

	pageSize := p.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	list, err := p.Backend.ListConversationItems(ctx, p.ConversationID, api.ListItemsParams{
		Limit: pageSize,
		After: p.Store.OldestID(),
		Order: "desc",
	})
	if err != nil {
		p.log().Debug("pagination.fetch.failed", "conversation_id", p.ConversationID, "err", err)
		return err
	}

	batch := make([]*models.Message, 0, len(list.Data))
	for _, item := range list.Data {
		if msg := messageFromItem(item); msg != nil {
			batch = append(batch, msg)
		}
	}

	if len(batch) > 0 {
		// Batch is newest-first; the store reverses and prepends it.
		p.Store.MergeBatch(batch, timeline.OrderNewestFirst)
		p.Store.SetOldestID(batch[len(batch)-1].ID)
	}

	p.mu.Lock()
	p.hasMore = len(list.Data) == pageSize
	p.mu.Unlock()

	if len(batch) > 0 && p.Notify != nil {
		p.Notify()
	}
	return nil
}

func (p *Paginator) log() *slog.Logger {
	if p.Log != nil {
		return p.Log
	}
	return slog.Default()
}
