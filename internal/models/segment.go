package models

// Segment is a piece of a message prepared for display. Segments are produced on every render pass
// from ChatMessage.Content and are never stored.
type Segment struct {
	Kind SegmentKind
	// Language would be filled if Kind is SegmentKindCode.
	Language string
	Content  string
}

// SegmentKind represents the type of a Segment.
type SegmentKind string

const (
	// SegmentKindText represents plain prose outside of any fenced region.
	SegmentKindText SegmentKind = "text"
	// SegmentKindCode represents the body of a fenced code region.
	SegmentKindCode SegmentKind = "code"
)
