package session

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/sgallard/parley/internal/api"
	"github.com/sgallard/parley/internal/models"
)

// fakeBackend is an in-memory Backend. Items are kept per conversation in
// chronological order; listing applies Limit, After, and Order the way the
// server does.
type fakeBackend struct {
	mu            sync.Mutex
	conversations map[string]*api.Conversation
	items         map[string][]api.Item

	retrieveErr error
	listErr     error
	cancelErr   error

	// createResponse overrides CreateResponse when set.
	createResponse func(ctx context.Context, req api.ResponseRequest) (api.EventStream, error)

	listCalls   []api.ListItemsParams
	cancelCalls []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		conversations: make(map[string]*api.Conversation),
		items:         make(map[string][]api.Item),
	}
}

func (f *fakeBackend) addConversation(id, title string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations[id] = &api.Conversation{ID: id, Metadata: api.Metadata{Title: title}}
}

func (f *fakeBackend) addItems(conversationID string, items ...api.Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[conversationID] = append(f.items[conversationID], items...)
}

func (f *fakeBackend) listParams() []api.ListItemsParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]api.ListItemsParams, len(f.listCalls))
	copy(out, f.listCalls)
	return out
}

func (f *fakeBackend) cancelled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.cancelCalls))
	copy(out, f.cancelCalls)
	return out
}

func (f *fakeBackend) CreateConversation(ctx context.Context, metadata map[string]string) (*api.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv := &api.Conversation{
		ID:       fmt.Sprintf("conv_%d", len(f.conversations)+1),
		Metadata: api.Metadata{Title: "Chat"},
	}
	f.conversations[conv.ID] = conv
	return conv, nil
}

func (f *fakeBackend) RetrieveConversation(ctx context.Context, id string) (*api.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.retrieveErr != nil {
		return nil, f.retrieveErr
	}
	conv, ok := f.conversations[id]
	if !ok {
		return nil, &api.Error{Status: 404, Message: "conversation not found"}
	}
	clone := *conv
	return &clone, nil
}

func (f *fakeBackend) UpdateConversationMetadata(ctx context.Context, id string, patch map[string]string) (*api.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.conversations[id]
	if !ok {
		return nil, &api.Error{Status: 404, Message: "conversation not found"}
	}
	if title, ok := patch["title"]; ok {
		conv.Metadata.Title = title
	}
	clone := *conv
	return &clone, nil
}

func (f *fakeBackend) DeleteConversation(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.conversations[id]; !ok {
		return &api.Error{Status: 404, Message: "conversation not found"}
	}
	delete(f.conversations, id)
	delete(f.items, id)
	return nil
}

func (f *fakeBackend) ListConversationItems(ctx context.Context, id string, params api.ListItemsParams) (*api.ItemList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.listCalls = append(f.listCalls, params)
	if f.listErr != nil {
		return nil, f.listErr
	}

	all := f.items[id]
	after := -1
	if params.After != "" {
		for i, item := range all {
			if item.ID == params.After {
				after = i
				break
			}
		}
	}

	var out []api.Item
	if params.Order == "asc" {
		out = append(out, all[after+1:]...)
	} else {
		end := len(all)
		if after >= 0 {
			end = after
		}
		for i := end - 1; i >= 0; i-- {
			out = append(out, all[i])
		}
	}
	if params.Limit > 0 && len(out) > params.Limit {
		out = out[:params.Limit]
	}
	return &api.ItemList{Data: out}, nil
}

func (f *fakeBackend) CreateResponse(ctx context.Context, req api.ResponseRequest) (api.EventStream, error) {
	f.mu.Lock()
	create := f.createResponse
	f.mu.Unlock()
	if create == nil {
		return nil, fmt.Errorf("no response configured")
	}
	return create(ctx, req)
}

func (f *fakeBackend) CancelResponse(ctx context.Context, responseID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls = append(f.cancelCalls, responseID)
	return f.cancelErr
}

// fakeStream replays a fixed event sequence. With a ctx set it blocks after
// the last event until the ctx is cancelled, like a live SSE body held open
// by the server.
type fakeStream struct {
	mu     sync.Mutex
	events []models.StreamEvent
	err    error
	ctx    context.Context
	pos    int
	closed bool
}

func (s *fakeStream) Next() (models.StreamEvent, error) {
	s.mu.Lock()
	if s.pos < len(s.events) {
		event := s.events[s.pos]
		s.pos++
		s.mu.Unlock()
		return event, nil
	}
	err := s.err
	ctx := s.ctx
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if ctx != nil {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return nil, io.EOF
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// fakeHistory records HistoryStore calls.
type fakeHistory struct {
	mu       sync.Mutex
	titles   map[string]string
	deleted  []string
	lastOpen string
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{titles: make(map[string]string)}
}

func (h *fakeHistory) UpsertConversation(id, title string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.titles[id] = title
	return nil
}

func (h *fakeHistory) DeleteConversation(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.titles, id)
	h.deleted = append(h.deleted, id)
	return nil
}

func (h *fakeHistory) SetLastOpen(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastOpen = id
	return nil
}

func (h *fakeHistory) title(id string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.titles[id]
}

func userItem(id, text string) api.Item {
	return api.Item{
		ID:      id,
		Type:    api.ItemTypeMessage,
		Role:    "user",
		Status:  api.ItemStatusCompleted,
		Content: []api.ItemContent{{Type: "input_text", Text: text}},
	}
}

func assistantItem(id, text string) api.Item {
	return api.Item{
		ID:      id,
		Type:    api.ItemTypeMessage,
		Role:    "assistant",
		Status:  api.ItemStatusCompleted,
		Content: []api.ItemContent{{Type: "output_text", Text: text}},
	}
}

func inProgressItem(id, text string) api.Item {
	item := assistantItem(id, text)
	item.Status = api.ItemStatusInProgress
	return item
}
