package models

type SegmentType string

const (
	SegmentTypeReasoning SegmentType = "reasoning"
	SegmentTypeAnswer    SegmentType = "answer"
)

// Segment is a typed span of assistant output. IsOpen is true only for a
// reasoning segment whose closing tag has not arrived yet in a message that
// is still streaming.
type Segment struct {
	Type   SegmentType `json:"type"`
	Text   string      `json:"text"`
	IsOpen bool        `json:"is_open"`
	ID     string      `json:"id,omitempty"`
}
