package api

// Conversation is the server-side container for a message history.
type Conversation struct {
	ID        string   `json:"id"`
	Metadata  Metadata `json:"metadata"`
	CreatedAt int64    `json:"created_at"`
}

type Metadata struct {
	Title string `json:"title"`
}

// Item is one stored conversation entry as returned by the items endpoint.
// Metadata echoes what the client sent on submission, in particular
// internal_message_id for reconciling optimistic local entries.
type Item struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Role      string            `json:"role"`
	Status    string            `json:"status"`
	Content   []ItemContent     `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt int64             `json:"created_at"`
}

type ItemContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

const (
	ItemTypeMessage = "message"

	ItemStatusInProgress = "in_progress"
	ItemStatusCompleted  = "completed"
	ItemStatusIncomplete = "incomplete"
	ItemStatusFailed     = "failed"
)

type ItemList struct {
	Data []Item `json:"data"`
}

// ListItemsParams narrows an items listing. After is the pagination/polling
// cursor; an empty After returns the newest items. Order is "asc" or
// "desc"; the server defaults to "desc".
type ListItemsParams struct {
	Limit int
	After string
	Order string
}

// InputContent is one part of an outgoing user message.
type InputContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

const (
	InputContentTypeText  = "input_text"
	InputContentTypeImage = "input_image"
)

type InputMessage struct {
	Role    string         `json:"role"`
	Content []InputContent `json:"content"`
}

// ResponseRequest starts a streamed generation inside a conversation.
// Metadata carries the client-generated message id so the server can
// reconcile the optimistic user entry instead of storing a duplicate.
type ResponseRequest struct {
	ConversationID string
	Model          string
	Input          []InputMessage
	Instructions   string
	Metadata       map[string]string
}
