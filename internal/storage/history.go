package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

const (
	conversationKeyPrefix = "conversation:"
	lastOpenKey           = "state:last_open"
)

// ConversationRecord is one cached history-list entry.
type ConversationRecord struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// UpsertConversation inserts or retitles a history entry, bumping its
// updated timestamp so it sorts to the top of the list.
func (d *DB) UpsertConversation(id, title string) error {
	if id == "" {
		return fmt.Errorf("conversation ID is required")
	}

	now := time.Now().UnixMilli()
	record := ConversationRecord{
		ID:        id,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if data, err := d.get([]byte(conversationKeyPrefix + id)); err == nil && len(data) > 0 {
		var existing ConversationRecord
		if err := json.Unmarshal(data, &existing); err == nil && existing.CreatedAt != 0 {
			record.CreatedAt = existing.CreatedAt
		}
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation %s: %w", id, err)
	}
	return d.put([]byte(conversationKeyPrefix+id), data)
}

// ListConversations returns cached history entries, most recently touched
// first.
func (d *DB) ListConversations() ([]*ConversationRecord, error) {
	entries, err := d.list([]byte(conversationKeyPrefix))
	if err != nil {
		return nil, err
	}

	records := make([]*ConversationRecord, 0, len(entries))
	for key, value := range entries {
		if len(value) == 0 {
			continue
		}
		var record ConversationRecord
		if err := json.Unmarshal(value, &record); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conversation record %s: %w", key, err)
		}
		records = append(records, &record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].UpdatedAt > records[j].UpdatedAt
	})
	return records, nil
}

func (d *DB) DeleteConversation(id string) error {
	if id == "" {
		return fmt.Errorf("conversation ID is required")
	}
	return d.delete([]byte(conversationKeyPrefix + id))
}

// SetLastOpen remembers the most recently opened conversation so the next
// launch can resume it.
func (d *DB) SetLastOpen(id string) error {
	return d.put([]byte(lastOpenKey), []byte(id))
}

// LastOpen returns the most recently opened conversation id, or "" when
// none is recorded.
func (d *DB) LastOpen() (string, error) {
	value, err := d.get([]byte(lastOpenKey))
	if err != nil {
		return "", err
	}
	return string(value), nil
}
