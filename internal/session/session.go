// Package session coordinates one open conversation: the initial load, the
// live response stream, the background poll reconciler, and backward
// pagination, all writing into a shared timeline store.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sgallard/parley/internal/api"
	"github.com/sgallard/parley/internal/models"
	"github.com/sgallard/parley/internal/timeline"
)

// State is the coordinator lifecycle.
type State string

const (
	StateNoConversation State = "no-conversation"
	StateLoading        State = "loading"
	StateReady          State = "ready"
)

const defaultConversationTitle = "New Conversation"

// HistoryStore is the local cache of known conversations, kept current as
// conversations are opened, retitled, and deleted. Implemented by the
// bbolt-backed storage package; may be nil.
type HistoryStore interface {
	UpsertConversation(id, title string) error
	DeleteConversation(id string) error
	SetLastOpen(id string) error
}

type Options struct {
	Model     string
	PageSize  int
	PollLimit int
	History   HistoryStore
	Logger    *slog.Logger
}

// Session owns the client-side view of at most one conversation at a time.
// Switching conversations discards the timeline and all cursors and stops
// every background task of the previous one.
type Session struct {
	backend   Backend
	model     string
	pageSize  int
	pollLimit int
	history   HistoryStore
	log       *slog.Logger

	mu         sync.RWMutex
	state      State
	conv       *api.Conversation
	store      *timeline.Store
	paginator  *Paginator
	gen        *StreamController
	generating bool
	genEpoch   uint64
	lastErr    error

	pollCancel  context.CancelFunc
	titleCancel context.CancelFunc
	genCancel   context.CancelFunc

	updates chan struct{}
}

func New(backend Backend, opts Options) (*Session, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("model ID is required")
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.PollLimit <= 0 {
		opts.PollLimit = defaultPollLimit
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Session{
		backend:   backend,
		model:     opts.Model,
		pageSize:  opts.PageSize,
		pollLimit: opts.PollLimit,
		history:   opts.History,
		log:       opts.Logger,
		state:     StateNoConversation,
		store:     timeline.NewStore(),
		updates:   make(chan struct{}, 1),
	}
	return s, nil
}

// Open loads an existing conversation and starts polling it. A not-found
// conversation (stale id from a deleted chat) is a soft reset to the empty
// state, not an error.
func (s *Session) Open(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return fmt.Errorf("conversation ID is required")
	}

	s.switchAway()
	s.setState(StateLoading)
	s.notify()

	conv, err := s.backend.RetrieveConversation(ctx, conversationID)
	if err != nil {
		if api.IsNotFound(err) {
			s.log.Info("session.open.not_found", "conversation_id", conversationID)
			s.setState(StateNoConversation)
			s.notify()
			return nil
		}
		s.setState(StateNoConversation)
		s.notify()
		return fmt.Errorf("failed to load conversation %s: %w", conversationID, err)
	}

	list, err := s.backend.ListConversationItems(ctx, conv.ID, api.ListItemsParams{
		Limit: s.pageSize,
		Order: "desc",
	})
	if err != nil {
		s.setState(StateNoConversation)
		s.notify()
		return fmt.Errorf("failed to load conversation items: %w", err)
	}

	store := timeline.NewStore()
	batch := make([]*models.Message, 0, len(list.Data))
	for _, item := range list.Data {
		if msg := messageFromItem(item); msg != nil {
			batch = append(batch, msg)
		}
	}
	store.MergeBatch(batch, timeline.OrderNewestFirst)
	if len(batch) > 0 {
		// Batch is newest-first, so its last entry is the oldest loaded.
		store.SetOldestID(batch[len(batch)-1].ID)
	}
	if newest := newestSettledID(list.Data, timeline.OrderNewestFirst); newest != "" {
		store.SetLastSeenID(newest)
	}

	s.mu.Lock()
	s.conv = conv
	s.store = store
	s.paginator = s.newPaginator(conv.ID, store)
	s.paginator.SetHasMore(len(list.Data) == s.pageSize)
	s.state = StateReady
	s.mu.Unlock()

	s.startPolling(conv.ID, store)
	s.maybeWatchTitle(conv)
	s.recordHistory(conv)
	s.notify()
	return nil
}

// NewChat discards the current conversation view and returns to the empty
// state. The next Submit creates a conversation lazily.
func (s *Session) NewChat() {
	s.switchAway()
	s.setState(StateNoConversation)
	s.notify()
}

// LoadOlder fetches one older history page. Re-entrant calls and exhausted
// history are no-ops; fetch failures are swallowed as transient.
func (s *Session) LoadOlder(ctx context.Context) {
	s.mu.RLock()
	paginator := s.paginator
	s.mu.RUnlock()

	if paginator == nil {
		return
	}
	// Error already logged by the paginator; pagination failures are
	// never surfaced.
	_ = paginator.LoadOlder(ctx)
}

// Delete removes the conversation server-side and clears the local view.
func (s *Session) Delete(ctx context.Context) error {
	s.mu.RLock()
	conv := s.conv
	s.mu.RUnlock()
	if conv == nil {
		return nil
	}

	if err := s.backend.DeleteConversation(ctx, conv.ID); err != nil && !api.IsNotFound(err) {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if s.history != nil {
		if err := s.history.DeleteConversation(conv.ID); err != nil {
			s.log.Warn("history.delete.failed", "conversation_id", conv.ID, "err", err)
		}
	}

	s.switchAway()
	s.setState(StateNoConversation)
	s.notify()
	return nil
}

// Rename updates the conversation title server-side and in the local
// history cache.
func (s *Session) Rename(ctx context.Context, title string) error {
	s.mu.RLock()
	conv := s.conv
	s.mu.RUnlock()
	if conv == nil {
		return fmt.Errorf("no conversation is open")
	}

	updated, err := s.backend.UpdateConversationMetadata(ctx, conv.ID, map[string]string{"title": title})
	if err != nil {
		return fmt.Errorf("failed to rename conversation: %w", err)
	}

	s.mu.Lock()
	if s.conv != nil && s.conv.ID == updated.ID {
		s.conv = updated
	}
	s.mu.Unlock()

	s.recordHistory(updated)
	s.notify()
	return nil
}

// Messages returns the current timeline in chronological order.
func (s *Session) Messages() []*models.Message {
	s.mu.RLock()
	store := s.store
	s.mu.RUnlock()
	return store.Messages()
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) Conversation() *api.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conv
}

func (s *Session) IsGenerating() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generating
}

func (s *Session) HasMore() bool {
	s.mu.RLock()
	paginator := s.paginator
	s.mu.RUnlock()
	if paginator == nil {
		return false
	}
	return paginator.HasMore()
}

// Err is the last surfaced error (submission or stream failure), cleared
// on the next submission.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Updates signals that the timeline or a status flag changed. Consumers
// re-read Messages and the flags on each tick; ticks are coalesced.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

// Close stops all background tasks.
func (s *Session) Close() {
	s.switchAway()
}

func (s *Session) newPaginator(conversationID string, store *timeline.Store) *Paginator {
	return &Paginator{
		Backend:        s.backend,
		Store:          store,
		ConversationID: conversationID,
		PageSize:       s.pageSize,
		Notify:         s.notify,
		Log:            s.log,
	}
}

func (s *Session) startPolling(conversationID string, store *timeline.Store) {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.pollCancel = cancel
	s.mu.Unlock()

	reconciler := &Reconciler{
		Backend:        s.backend,
		Store:          store,
		ConversationID: conversationID,
		Limit:          s.pollLimit,
		Owns:           s.streamOwns,
		OnAssistantSettled: func() {
			s.mu.Lock()
			s.generating = false
			s.mu.Unlock()
			s.notify()
		},
		Notify: s.notify,
		Log:    s.log,
	}
	go reconciler.Run(ctx)
}

// streamOwns guards poll merges against clobbering the actively-streamed
// message: local streaming state wins until the controller is terminal.
func (s *Session) streamOwns(id string) bool {
	s.mu.RLock()
	gen := s.gen
	s.mu.RUnlock()
	if gen == nil {
		return false
	}
	return gen.Owns(id)
}

// switchAway tears down everything belonging to the current conversation:
// background tasks, the timeline, and all cursors.
func (s *Session) switchAway() {
	s.mu.Lock()
	pollCancel := s.pollCancel
	titleCancel := s.titleCancel
	genCancel := s.genCancel
	s.pollCancel = nil
	s.titleCancel = nil
	s.genCancel = nil
	s.conv = nil
	s.gen = nil
	s.paginator = nil
	s.generating = false
	// Invalidate any in-flight generation: its cleanup must not touch the
	// state of whatever gets submitted next.
	s.genEpoch++
	s.lastErr = nil
	s.store = timeline.NewStore()
	s.mu.Unlock()

	if pollCancel != nil {
		pollCancel()
	}
	if titleCancel != nil {
		titleCancel()
	}
	if genCancel != nil {
		genCancel()
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Session) recordHistory(conv *api.Conversation) {
	if s.history == nil || conv == nil {
		return
	}
	title := conv.Metadata.Title
	if title == "" {
		title = defaultConversationTitle
	}
	if err := s.history.UpsertConversation(conv.ID, title); err != nil {
		s.log.Warn("history.upsert.failed", "conversation_id", conv.ID, "err", err)
	}
	if err := s.history.SetLastOpen(conv.ID); err != nil {
		s.log.Warn("history.last_open.failed", "conversation_id", conv.ID, "err", err)
	}
}

func (s *Session) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}
