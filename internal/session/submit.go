package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/sgallard/parley/internal/api"
	"github.com/sgallard/parley/internal/models"
	"github.com/sgallard/parley/internal/timeline"
	"github.com/sgallard/parley/internal/utils"
)

const submitRetryDelay = time.Second

// Submit appends the user message optimistically under a local id and
// starts the generation in the background. If anything fails before the
// first stream event, the user message stays in the timeline and the error
// is surfaced through Err, so a retry needs no retyping.
func (s *Session) Submit(ctx context.Context, text string, attachments []Attachment) error {
	text = strings.TrimSpace(text)
	if text == "" && len(attachments) == 0 {
		return fmt.Errorf("message content is required")
	}

	s.mu.Lock()
	if s.generating {
		s.mu.Unlock()
		return fmt.Errorf("a generation is already in progress")
	}
	store := s.store
	s.generating = true
	s.lastErr = nil
	s.genEpoch++
	epoch := s.genEpoch
	genCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.genCancel = cancel
	s.mu.Unlock()

	parts := s.buildParts(text, attachments)
	localID := utils.GenerateLocalID()
	store.Append(&models.Message{
		ID:        localID,
		Role:      schema.User,
		Parts:     parts,
		CreatedAt: time.Now().UnixMilli(),
		Status:    models.MessageStatusComplete,
	})
	// The server resolves this id via internal_message_id, so it can
	// anchor the poll cursor until the real item id arrives.
	store.SetLastSeenID(localID)
	s.notify()

	go s.runGeneration(genCtx, store, localID, inputFromParts(parts), epoch)
	return nil
}

// Cancel aborts the in-flight generation, keeping whatever partial output
// has arrived. Cancellation is not a failure: no error is surfaced.
func (s *Session) Cancel() {
	s.mu.Lock()
	gen := s.gen
	cancel := s.genCancel
	s.genCancel = nil
	s.mu.Unlock()

	if gen != nil {
		if responseID := gen.ResponseID(); responseID != "" {
			go func() {
				if err := s.backend.CancelResponse(context.Background(), responseID); err != nil {
					s.log.Debug("response.cancel.failed", "response_id", responseID, "err", err)
				}
			}()
		}
		gen.Cancel()
	}
	if cancel != nil {
		cancel()
	}
	s.notify()
}

func (s *Session) runGeneration(ctx context.Context, store *timeline.Store, localID string, input []api.InputContent, epoch uint64) {
	// A conversation switch or a newer submission bumps the epoch; a stale
	// generation's cleanup must then leave the current one's state alone.
	defer func() {
		s.mu.Lock()
		if s.genEpoch == epoch {
			s.generating = false
		}
		s.mu.Unlock()
		s.notify()
	}()

	conv, isNew, err := s.ensureConversation(ctx)
	if err != nil {
		s.failSubmission(err)
		return
	}

	gen := NewStreamController(store)
	s.mu.Lock()
	if s.genEpoch != epoch {
		s.mu.Unlock()
		return
	}
	s.gen = gen
	s.mu.Unlock()
	if err := gen.Begin(); err != nil {
		s.failSubmission(err)
		return
	}

	req := api.ResponseRequest{
		ConversationID: conv.ID,
		Model:          s.model,
		Input:          []api.InputMessage{{Role: "user", Content: input}},
		Metadata:       map[string]string{"internal_message_id": localID},
	}

	stream, err := s.backend.CreateResponse(ctx, req)
	if err != nil && !isNew && ctx.Err() == nil {
		// Follow-up conversation: retry once, then check whether the
		// message actually landed despite the failed response.
		stream, err = s.retryCreateResponse(ctx, req, conv.ID, localID)
	}
	if err != nil {
		if ctx.Err() == nil {
			s.failSubmission(err)
		}
		return
	}
	if stream == nil {
		// Retry confirmed the message landed; the poller picks up the
		// reply.
		return
	}

	s.consume(ctx, stream, gen)

	if gen.State() == StreamStateError {
		s.setErr(errors.New(gen.Failure()))
	}
}

// ensureConversation creates the conversation lazily on first submission.
func (s *Session) ensureConversation(ctx context.Context) (*api.Conversation, bool, error) {
	s.mu.RLock()
	conv := s.conv
	store := s.store
	s.mu.RUnlock()
	if conv != nil {
		return conv, false, nil
	}

	created, err := s.backend.CreateConversation(ctx, map[string]string{})
	if err != nil {
		return nil, false, fmt.Errorf("failed to create conversation: %w", err)
	}

	s.mu.Lock()
	s.conv = created
	s.state = StateReady
	s.paginator = s.newPaginator(created.ID, store)
	s.mu.Unlock()

	s.startPolling(created.ID, store)
	s.maybeWatchTitle(created)
	s.recordHistory(created)
	s.notify()
	return created, true, nil
}

// retryCreateResponse waits briefly and retries once. If the retry also
// fails, it lists the newest items to check whether the user message went
// through anyway; if it did, (nil, nil) is returned and the poller takes
// over.
func (s *Session) retryCreateResponse(ctx context.Context, req api.ResponseRequest, conversationID, localID string) (api.EventStream, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(submitRetryDelay):
	}

	s.log.Info("submit.retry", "conversation_id", conversationID)
	stream, err := s.backend.CreateResponse(ctx, req)
	if err == nil {
		return stream, nil
	}
	retryErr := err

	list, checkErr := s.backend.ListConversationItems(ctx, conversationID, api.ListItemsParams{
		Limit: 5,
		Order: "desc",
	})
	if checkErr == nil {
		for _, item := range list.Data {
			if item.ID == localID || item.Metadata["internal_message_id"] == localID {
				s.log.Info("submit.retry.landed", "conversation_id", conversationID)
				return nil, nil
			}
		}
	}
	return nil, retryErr
}

func (s *Session) consume(ctx context.Context, stream api.EventStream, gen *StreamController) {
	defer stream.Close()

	for {
		if ctx.Err() != nil {
			gen.Cancel()
			return
		}

		event, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				// An aborted fetch is a normal cancellation: state is
				// preserved, nothing rolled back.
				gen.Cancel()
				return
			}
			_ = gen.Apply(models.StreamFailed{Message: err.Error()})
			s.notify()
			return
		}

		if err := gen.Apply(event); err != nil {
			var transitionErr *TransitionError
			if errors.As(err, &transitionErr) {
				s.log.Warn("stream.event.out_of_order", "event", transitionErr.Event, "state", transitionErr.State)
				continue
			}
			s.log.Warn("stream.event.rejected", "err", err)
			continue
		}
		s.notify()

		switch gen.State() {
		case StreamStateDone, StreamStateError, StreamStateCancelled:
			return
		}
	}
}

func (s *Session) failSubmission(err error) {
	s.log.Warn("submit.failed", "err", err)
	s.setErr(err)
	s.notify()
}

func (s *Session) buildParts(text string, attachments []Attachment) []models.ContentPart {
	parts := make([]models.ContentPart, 0, 1+len(attachments))
	if text != "" {
		parts = append(parts, models.ContentPart{Type: models.ContentPartTypeText, Text: text})
	}
	for _, attachment := range attachments {
		if !attachment.IsImage() {
			s.log.Warn("submit.attachment.skipped", "name", attachment.Name, "mime", attachment.MIME)
			continue
		}
		parts = append(parts, models.ContentPart{
			Type:     models.ContentPartTypeImage,
			ImageURL: attachment.DataURL(),
		})
	}
	return parts
}

func inputFromParts(parts []models.ContentPart) []api.InputContent {
	input := make([]api.InputContent, 0, len(parts))
	for _, part := range parts {
		switch part.Type {
		case models.ContentPartTypeImage:
			input = append(input, api.InputContent{
				Type:     api.InputContentTypeImage,
				ImageURL: part.ImageURL,
				Detail:   "auto",
			})
		default:
			input = append(input, api.InputContent{
				Type: api.InputContentTypeText,
				Text: part.Text,
			})
		}
	}
	return input
}
