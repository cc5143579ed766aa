package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/sgallard/parley/internal/models"
	"github.com/sgallard/parley/internal/timeline"
)

// StreamState is the lifecycle of one in-flight generation.
type StreamState string

const (
	StreamStateIdle      StreamState = "idle"
	StreamStateSubmitted StreamState = "submitted"
	StreamStateItemOpen  StreamState = "item-open"
	StreamStateStreaming StreamState = "streaming-text"
	StreamStateDone      StreamState = "done"
	StreamStateError     StreamState = "error"
	StreamStateCancelled StreamState = "cancelled"
)

// TransitionError reports an event that is not valid in the current state,
// e.g. a text delta before any output item was opened.
type TransitionError struct {
	State StreamState
	Event models.StreamEventType
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("stream event %s is not valid in state %s", e.Event, e.State)
}

// StreamController applies the ordered event sequence of one generated
// reply to the timeline store. It is the single writer for the assistant
// message it owns; the poll reconciler defers to it via Owns until the
// controller reaches a terminal state.
type StreamController struct {
	store *timeline.Store

	mu          sync.Mutex
	state       StreamState
	responseID  string
	itemID      string
	accumulated strings.Builder
	failure     string
}

func NewStreamController(store *timeline.Store) *StreamController {
	return &StreamController{
		store: store,
		state: StreamStateIdle,
	}
}

// Begin marks the generation as submitted. Events are only valid after
// Begin.
func (c *StreamController) Begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StreamStateIdle {
		return fmt.Errorf("generation already started (state %s)", c.state)
	}
	c.state = StreamStateSubmitted
	return nil
}

// Apply processes one event in receipt order.
func (c *StreamController) Apply(event models.StreamEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev := event.(type) {
	case models.StreamCreated:
		if c.terminal() {
			return &TransitionError{State: c.state, Event: ev.GetType()}
		}
		c.responseID = ev.ResponseID
		return nil

	case models.StreamItemAdded:
		if c.state != StreamStateSubmitted {
			return &TransitionError{State: c.state, Event: ev.GetType()}
		}
		c.itemID = ev.ItemID
		c.store.UpsertByServerID(ev.ItemID, timeline.Patch{
			Role:      schema.Assistant,
			Parts:     []models.ContentPart{},
			Status:    models.MessageStatusStreaming,
			CreatedAt: time.Now().UnixMilli(),
		})
		c.state = StreamStateItemOpen
		return nil

	case models.StreamTextDelta:
		if c.state != StreamStateItemOpen && c.state != StreamStateStreaming {
			return &TransitionError{State: c.state, Event: ev.GetType()}
		}
		c.accumulated.WriteString(ev.Delta)
		c.store.UpsertByServerID(c.itemID, timeline.Patch{
			Parts: []models.ContentPart{{Type: models.ContentPartTypeText, Text: c.accumulated.String()}},
		})
		c.state = StreamStateStreaming
		return nil

	case models.StreamItemDone:
		if c.state != StreamStateItemOpen && c.state != StreamStateStreaming {
			return &TransitionError{State: c.state, Event: ev.GetType()}
		}
		c.finishItem()
		return nil

	case models.StreamCompleted:
		// Arrives after item-done on the wire; also accepted as the
		// terminal write when the server omits item-done.
		switch c.state {
		case StreamStateDone:
			return nil
		case StreamStateItemOpen, StreamStateStreaming:
			c.finishItem()
			return nil
		default:
			return &TransitionError{State: c.state, Event: ev.GetType()}
		}

	case models.StreamFailed:
		return c.fail(ev.Message)
	case models.StreamError:
		return c.fail(ev.Message)

	case models.StreamCancelled:
		switch c.state {
		case StreamStateSubmitted, StreamStateItemOpen, StreamStateStreaming:
			return c.applyCancelledLocked()
		default:
			return &TransitionError{State: c.state, Event: ev.GetType()}
		}

	default:
		return fmt.Errorf("unknown stream event type %s", event.GetType())
	}
}

// Cancel aborts the generation locally, preserving any partial output.
// No-op once the controller is terminal.
func (c *StreamController) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StreamStateSubmitted, StreamStateItemOpen, StreamStateStreaming:
		_ = c.applyCancelledLocked()
	}
}

// Partial output is kept on cancellation, not rolled back. The streaming
// status is released so consumers stop spinning on it.
func (c *StreamController) applyCancelledLocked() error {
	if c.itemID != "" {
		c.store.UpsertByServerID(c.itemID, timeline.Patch{Status: models.MessageStatusComplete})
	}
	c.state = StreamStateCancelled
	return nil
}

func (c *StreamController) finishItem() {
	c.store.UpsertByServerID(c.itemID, timeline.Patch{Status: models.MessageStatusComplete})
	c.store.SetLastSeenID(c.itemID)
	c.state = StreamStateDone
}

func (c *StreamController) fail(message string) error {
	if c.state == StreamStateIdle {
		return &TransitionError{State: c.state, Event: models.StreamEventTypeFailed}
	}
	if c.itemID != "" {
		c.store.UpsertByServerID(c.itemID, timeline.Patch{Status: models.MessageStatusError})
	}
	if message == "" {
		message = "failed to generate response"
	}
	c.failure = message
	c.state = StreamStateError
	return nil
}

func (c *StreamController) State() StreamState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *StreamController) ResponseID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.responseID
}

func (c *StreamController) ItemID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.itemID
}

// Text is the accumulated assistant output so far.
func (c *StreamController) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accumulated.String()
}

// Failure is the surfaced error message, set only in the error state.
func (c *StreamController) Failure() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure
}

// Owns reports whether the controller is actively streaming the given item
// id. While true, poll data for that id must not overwrite local state.
func (c *StreamController) Owns(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id == "" || c.itemID != id {
		return false
	}
	return c.state == StreamStateItemOpen || c.state == StreamStateStreaming
}

func (c *StreamController) terminal() bool {
	switch c.state {
	case StreamStateDone, StreamStateError, StreamStateCancelled:
		return true
	}
	return false
}
