package session

import (
	"github.com/cloudwego/eino/schema"

	"github.com/sgallard/parley/internal/api"
	"github.com/sgallard/parley/internal/models"
)

// messageFromItem maps a stored conversation item into a timeline message.
// Returns nil for items that are not renderable messages.
func messageFromItem(item api.Item) *models.Message {
	if item.Type != api.ItemTypeMessage || item.ID == "" || item.Role == "" {
		return nil
	}

	parts := make([]models.ContentPart, 0, len(item.Content))
	for _, content := range item.Content {
		switch content.Type {
		case "input_image", "image":
			parts = append(parts, models.ContentPart{
				Type:     models.ContentPartTypeImage,
				ImageURL: content.ImageURL,
			})
		default:
			// output_text, input_text, text
			parts = append(parts, models.ContentPart{
				Type: models.ContentPartTypeText,
				Text: content.Text,
			})
		}
	}

	return &models.Message{
		ID:        item.ID,
		Role:      schema.RoleType(item.Role),
		Parts:     parts,
		CreatedAt: item.CreatedAt,
		Status:    statusFromItem(item.Status),
	}
}

func statusFromItem(status string) models.MessageStatus {
	switch status {
	case api.ItemStatusInProgress:
		return models.MessageStatusStreaming
	case api.ItemStatusFailed:
		return models.MessageStatusError
	default:
		return models.MessageStatusComplete
	}
}

// itemSettled reports whether an item has stopped changing server-side and
// can therefore anchor the poll cursor.
func itemSettled(item api.Item) bool {
	return item.Status != api.ItemStatusInProgress
}
