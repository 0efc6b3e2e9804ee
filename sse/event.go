package sse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pithecene-io/vellum/types"
)

// wireEvent is the union of every field the endpoint is known to send.
type wireEvent struct {
	Type string `json:"type"`

	Content *string `json:"content"`
	Text    *string `json:"text"`
	Chunk   *string `json:"chunk"`
	Delta   *struct {
		Text string `json:"text"`
	} `json:"delta"`
	HTML    *string `json:"html"`
	Message *string `json:"message"`
	Status  *string `json:"status"`
	Error   *string `json:"error"`

	Usage *types.Usage `json:"usage"`

	TotalChunks int  `json:"total_chunks"`
	TotalLength int  `json:"total_length"`
	ChunkIndex  *int `json:"chunk_index"`
	Index       *int `json:"index"`

	SessionID string          `json:"session_id"`
	ChunkID   json.RawMessage `json:"chunk_id"`
}

// typeAliases maps every wire discriminant to its protocol event type.
// "content" is resolved separately because its meaning depends on its fields.
var typeAliases = map[string]types.EventType{
	"content_delta":       types.EventContentDelta,
	"content_block_delta": types.EventContentDelta,
	"chunk":               types.EventContentDelta,
	"chunk_start":         types.EventChunkBegin,
	"chunk_begin":         types.EventChunkBegin,
	"chunk_data":          types.EventChunkFragment,
	"chunk_fragment":      types.EventChunkFragment,
	"chunk_end":           types.EventChunkEnd,
	"content_complete":    types.EventContentComplete,
	"message_complete":    types.EventMessageComplete,
	"complete":            types.EventMessageComplete,
	"thinking_update":     types.EventThinkingUpdate,
	"thinking_start":      types.EventThinkingUpdate,
	"thinking_end":        types.EventThinkingUpdate,
	"thinking":            types.EventThinkingUpdate,
	"status":              types.EventThinkingUpdate,
	"info":                types.EventThinkingUpdate,
	"stream_start":        types.EventThinkingUpdate,
	"keepalive":           types.EventKeepalive,
	"ping":                types.EventKeepalive,
	"stream_end":          types.EventStreamEnd,
	"done":                types.EventStreamEnd,
	"error":               types.EventError,
}

// doneSentinel is the conventional end-of-stream payload.
var doneSentinel = []byte("[DONE]")

// DecodeEvent decodes one data payload into a protocol event.
func DecodeEvent(payload []byte) (*types.Event, error) {
	payload = bytes.TrimSpace(payload)
	if bytes.Equal(payload, doneSentinel) {
		return &types.Event{Type: types.EventStreamEnd}, nil
	}

	var w wireEvent
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, &DecodeError{Kind: DecodeErrorSyntax, Line: truncateLine(payload), Err: err}
	}

	typ, ok := resolveType(&w)
	if !ok {
		err := fmt.Errorf("unrecognized event type %q", w.Type)
		if w.Type == "" {
			err = errors.New("record has no type")
		}
		return nil, &DecodeError{
			Kind:      DecodeErrorUnknownType,
			Line:      truncateLine(payload),
			Err:       err,
			SessionID: w.SessionID,
			ChunkID:   chunkIDString(w.ChunkID),
		}
	}

	ev := &types.Event{
		Type:      typ,
		SessionID: w.SessionID,
		ChunkID:   chunkIDString(w.ChunkID),
		Usage:     w.Usage,
		HTML:      w.HTML,
	}

	switch typ {
	case types.EventContentDelta:
		ev.Text = firstNonEmpty(deltaText(&w), deref(w.Content), deref(w.Text), deref(w.Chunk))
	case types.EventChunkBegin:
		ev.TotalChunks = w.TotalChunks
		ev.TotalLength = w.TotalLength
	case types.EventChunkFragment:
		switch {
		case w.ChunkIndex != nil:
			ev.Index = *w.ChunkIndex
		case w.Index != nil:
			ev.Index = *w.Index
		default:
			return nil, &DecodeError{
				Kind: DecodeErrorSyntax,
				Line: truncateLine(payload),
				Err:  fmt.Errorf("%s event without chunk_index", w.Type),
			}
		}
		ev.Text = deref(w.Content)
	case types.EventThinkingUpdate:
		ev.Text = firstNonEmpty(deref(w.Message), deref(w.Text), deref(w.Status), deref(w.Content))
	case types.EventError:
		ev.Text = firstNonEmpty(deref(w.Error), deref(w.Message), "unspecified upstream error")
	}

	return ev, nil
}

func resolveType(w *wireEvent) (types.EventType, bool) {
	name := strings.ToLower(strings.TrimSpace(w.Type))
	switch name {
	case "":
		// Start and status records go out as bare {"message": ...}.
		if w.Message != nil || w.Status != nil {
			return types.EventThinkingUpdate, true
		}
		return "", false
	case "content":
		// The endpoint reuses "content" for both the fallback
		// document and plain text chunks.
		if w.HTML != nil {
			return types.EventContentComplete, true
		}
		return types.EventContentDelta, true
	}
	typ, ok := typeAliases[name]
	return typ, ok
}

// chunkIDString accepts both string and numeric chunk ids.
func chunkIDString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return n.String()
	}
	return string(raw)
}

func deltaText(w *wireEvent) string {
	if w.Delta == nil {
		return ""
	}
	return w.Delta.Text
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
