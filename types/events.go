package types

// EventType is the discriminant of a decoded protocol event.
type EventType string

// Protocol event types. Wire aliases are normalized by the sse decoder.
const (
	EventContentDelta    EventType = "content_delta"
	EventChunkBegin      EventType = "chunk_begin"
	EventChunkFragment   EventType = "chunk_fragment"
	EventChunkEnd        EventType = "chunk_end"
	EventContentComplete EventType = "content_complete"
	EventMessageComplete EventType = "message_complete"
	EventThinkingUpdate  EventType = "thinking_update"
	EventKeepalive       EventType = "keepalive"
	EventStreamEnd       EventType = "stream_end"
	EventError           EventType = "error"
)

// IsTerminal reports whether the event ends a generation.
func (t EventType) IsTerminal() bool {
	return t == EventMessageComplete || t == EventStreamEnd || t == EventError
}

// MutatesDocument reports whether the event can change the accumulated document.
func (t EventType) MutatesDocument() bool {
	switch t {
	case EventContentDelta, EventChunkFragment, EventContentComplete, EventMessageComplete:
		return true
	}
	return false
}

// Usage is the token accounting reported by the endpoint.
type Usage struct {
	InputTokens  int64    `json:"input_tokens" msgpack:"input_tokens"`
	OutputTokens int64    `json:"output_tokens" msgpack:"output_tokens"`
	TotalCost    *float64 `json:"total_cost,omitempty" msgpack:"total_cost,omitempty"`
}

// TotalTokens returns input plus output tokens.
func (u Usage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

// Event is a decoded protocol event. Only the fields relevant to Type are set.
type Event struct {
	Type EventType

	// Text is the delta text, fragment content, progress text or error message.
	Text string
	// HTML is a full or partial document (content_complete, message_complete).
	HTML *string
	// Usage is present on completion events that carry accounting.
	Usage *Usage

	// TotalChunks and TotalLength describe a chunked transfer (chunk_begin).
	TotalChunks int
	TotalLength int
	// Index is the fragment index (chunk_fragment).
	Index int

	// SessionID is the server-assigned session id, when the event carries one.
	SessionID string
	// ChunkID is the server's fragment identifier used for resumption.
	ChunkID string
}
