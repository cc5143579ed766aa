package models

import (
	"strings"

	"github.com/cloudwego/eino/schema"
)

type MessageStatus string

const (
	MessageStatusComplete  MessageStatus = "complete"
	MessageStatusStreaming MessageStatus = "streaming"
	MessageStatusError     MessageStatus = "error"
)

type ContentPartType string

const (
	ContentPartTypeText  ContentPartType = "text"
	ContentPartTypeImage ContentPartType = "image"
)

type ContentPart struct {
	Type     ContentPartType `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL string          `json:"image_url,omitempty"`
}

// Message is one turn of a conversation. ID is either a client-generated
// local id (before the server has accepted the item) or the server-assigned
// item id; the timeline store owns the rename from one to the other.
type Message struct {
	ID        string          `json:"id"`
	Role      schema.RoleType `json:"role"`
	Parts     []ContentPart   `json:"parts"`
	CreatedAt int64           `json:"created_at"`
	Status    MessageStatus   `json:"status"`
}

func NewTextMessage(id string, role schema.RoleType, text string, createdAt int64) *Message {
	return &Message{
		ID:        id,
		Role:      role,
		Parts:     []ContentPart{{Type: ContentPartTypeText, Text: text}},
		CreatedAt: createdAt,
		Status:    MessageStatusComplete,
	}
}

// Text concatenates the text parts of the message.
func (m *Message) Text() string {
	var b strings.Builder
	for _, part := range m.Parts {
		if part.Type == ContentPartTypeText {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

func (m *Message) IsMultimodal() bool {
	for _, part := range m.Parts {
		if part.Type != ContentPartTypeText {
			return true
		}
	}
	return false
}

func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	clone := *m
	clone.Parts = make([]ContentPart, len(m.Parts))
	copy(clone.Parts, m.Parts)
	return &clone
}
