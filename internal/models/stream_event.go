package models

type StreamEventType string

const (
	StreamEventTypeCreated   StreamEventType = "response.created"
	StreamEventTypeItemAdded StreamEventType = "response.output_item.added"
	StreamEventTypeTextDelta StreamEventType = "response.output_text.delta"
	StreamEventTypeItemDone  StreamEventType = "response.output_item.done"
	StreamEventTypeCompleted StreamEventType = "response.completed"
	StreamEventTypeFailed    StreamEventType = "response.failed"
	StreamEventTypeCancelled StreamEventType = "response.cancelled"
	StreamEventTypeError     StreamEventType = "error"
)

// StreamEvent is one event of an in-flight generated reply.
type StreamEvent interface {
	GetType() StreamEventType
}

type StreamCreated struct {
	ResponseID string `json:"response_id"`
}

func (e StreamCreated) GetType() StreamEventType {
	return StreamEventTypeCreated
}

type StreamItemAdded struct {
	ItemID string `json:"item_id"`
}

func (e StreamItemAdded) GetType() StreamEventType {
	return StreamEventTypeItemAdded
}

type StreamTextDelta struct {
	Delta string `json:"delta"`
}

func (e StreamTextDelta) GetType() StreamEventType {
	return StreamEventTypeTextDelta
}

type StreamItemDone struct {
	ItemID string `json:"item_id"`
}

func (e StreamItemDone) GetType() StreamEventType {
	return StreamEventTypeItemDone
}

type StreamCompleted struct{}

func (e StreamCompleted) GetType() StreamEventType {
	return StreamEventTypeCompleted
}

type StreamFailed struct {
	Message string `json:"message"`
}

func (e StreamFailed) GetType() StreamEventType {
	return StreamEventTypeFailed
}

type StreamCancelled struct{}

func (e StreamCancelled) GetType() StreamEventType {
	return StreamEventTypeCancelled
}

type StreamError struct {
	Message string `json:"message"`
}

func (e StreamError) GetType() StreamEventType {
	return StreamEventTypeError
}
