// Package adapter defines the completion-notification boundary.
//
// Adapters publish generation completion notifications to downstream
// systems. The CLI owns adapter lifecycle; users provide configuration only.
package adapter

import (
	"context"
	"time"

	"github.com/pithecene-io/vellum/lode"
	"github.com/pithecene-io/vellum/types"
)

// EventTypeGenerationCompleted is the event_type of every published event.
const EventTypeGenerationCompleted = "generation_completed"

// GenerationCompletedEvent is the payload published when a generation finishes.
type GenerationCompletedEvent struct {
	ClientVersion  string  `json:"client_version"`
	EventType      string  `json:"event_type"` // always "generation_completed"
	GenerationID   string  `json:"generation_id"`
	SessionID      string  `json:"session_id,omitempty"`
	Model          string  `json:"model"`
	Day            string  `json:"day"`
	Outcome        string  `json:"outcome"` // success, failed, rejected, canceled
	ErrorKind      string  `json:"error_kind,omitempty"`
	StoragePath    string  `json:"storage_path,omitempty"`
	DocumentLength int     `json:"document_length"`
	InputTokens    int64   `json:"input_tokens"`
	OutputTokens   int64   `json:"output_tokens"`
	Cost           float64 `json:"cost"`
	Reconnects     int     `json:"reconnects"`
	Timestamp      string  `json:"timestamp"` // RFC 3339
	DurationMs     int64   `json:"duration_ms"`
}

// NewGenerationCompletedEvent builds the notification for an archived
// generation record. storagePath locates the archive, if any.
func NewGenerationCompletedEvent(rec lode.GenerationRecord, storagePath string) *GenerationCompletedEvent {
	ts := rec.CompletedAt
	if ts == "" {
		ts = time.Now().UTC().Format(time.RFC3339)
	}
	if rec.DocumentPath != "" && storagePath != "" {
		storagePath = storagePath + "/" + rec.DocumentPath
	}
	return &GenerationCompletedEvent{
		ClientVersion:  types.Version,
		EventType:      EventTypeGenerationCompleted,
		GenerationID:   rec.GenerationID,
		SessionID:      rec.SessionID,
		Model:          rec.Model,
		Day:            rec.Day,
		Outcome:        rec.Outcome,
		ErrorKind:      rec.ErrorKind,
		StoragePath:    storagePath,
		DocumentLength: rec.DocumentLength,
		InputTokens:    rec.InputTokens,
		OutputTokens:   rec.OutputTokens,
		Cost:           rec.Cost,
		Reconnects:     rec.Reconnects,
		Timestamp:      ts,
		DurationMs:     rec.DurationMs,
	}
}

// Adapter publishes generation completion events to a downstream system.
type Adapter interface {
	// Publish sends a completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *GenerationCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}

// Backoff returns the delay before retry attempt i (i >= 1):
// 500ms doubling per attempt.
func Backoff(i int) time.Duration {
	if i < 1 {
		return 0
	}
	return time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
}

// Wait sleeps for Backoff(i) or until ctx is done.
func Wait(ctx context.Context, i int) error {
	d := Backoff(i)
	if d == 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
