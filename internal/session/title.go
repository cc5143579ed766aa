package session

import (
	"context"
	"time"

	"github.com/sgallard/parley/internal/api"
)

const (
	titleInitialDelay = 500 * time.Millisecond
	titleMaxDelay     = 10 * time.Second
)

// maybeWatchTitle polls conversation metadata while the server is still
// generating a title, with exponential backoff. Best-effort: failures are
// logged and retried, never surfaced.
func (s *Session) maybeWatchTitle(conv *api.Conversation) {
	if conv.Metadata.Title != "" && conv.Metadata.Title != defaultConversationTitle {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.titleCancel != nil {
		s.titleCancel()
	}
	s.titleCancel = cancel
	s.mu.Unlock()

	go s.watchTitle(ctx, conv.ID)
}

func (s *Session) watchTitle(ctx context.Context, conversationID string) {
	delay := titleInitialDelay
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		conv, err := s.backend.RetrieveConversation(ctx, conversationID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Debug("title.refresh.failed", "conversation_id", conversationID, "err", err)
		} else if title := conv.Metadata.Title; title != "" && title != defaultConversationTitle {
			s.mu.Lock()
			if s.conv != nil && s.conv.ID == conversationID {
				s.conv = conv
			}
			s.mu.Unlock()

			s.recordHistory(conv)
			s.notify()
			return
		}

		delay *= 2
		if delay > titleMaxDelay {
			delay = titleMaxDelay
		}
	}
}
