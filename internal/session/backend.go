package session

import (
	"context"

	"github.com/sgallard/parley/internal/api"
)

// Backend is the conversation API surface the session engine depends on.
// *api.Client satisfies it; tests substitute fakes.
type Backend interface {
	CreateConversation(ctx context.Context, metadata map[string]string) (*api.Conversation, error)
	RetrieveConversation(ctx context.Context, id string) (*api.Conversation, error)
	UpdateConversationMetadata(ctx context.Context, id string, patch map[string]string) (*api.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	ListConversationItems(ctx context.Context, id string, params api.ListItemsParams) (*api.ItemList, error)
	CreateResponse(ctx context.Context, req api.ResponseRequest) (api.EventStream, error)
	CancelResponse(ctx context.Context, responseID string) error
}
