package types

import "time"

// SessionState is a state of the generation session state machine.
type SessionState string

// Session states.
const (
	StateIdle         SessionState = "idle"
	StateConnecting   SessionState = "connecting"
	StateStreaming    SessionState = "streaming"
	StateReconnecting SessionState = "reconnecting"
	StateCompleted    SessionState = "completed"
	StateFailed       SessionState = "failed"
)

// IsFinal reports whether no further transitions are possible.
func (s SessionState) IsFinal() bool {
	return s == StateCompleted || s == StateFailed
}

// OutcomeStatus is the final classification of a generation.
type OutcomeStatus string

const (
	// OutcomeSuccess indicates the generation completed with a document.
	OutcomeSuccess OutcomeStatus = "success"
	// OutcomeFailed indicates a terminal failure after the request was sent.
	OutcomeFailed OutcomeStatus = "failed"
	// OutcomeRejected indicates the request was invalid and never sent.
	OutcomeRejected OutcomeStatus = "rejected"
	// OutcomeCanceled indicates the caller canceled the generation.
	OutcomeCanceled OutcomeStatus = "canceled"
)

// GenerationOutcome is the final outcome of a generation.
type GenerationOutcome struct {
	// Status is the outcome classification.
	Status OutcomeStatus
	// Message is a human-readable description.
	Message string
	// ErrorKind names the error kind for failures.
	ErrorKind string
}

// GenerationMeta identifies one generation for logs, metrics and archives.
type GenerationMeta struct {
	// GenerationID is a client-side identifier, unique per generation.
	GenerationID string
	// Model is the requested model.
	Model string
	// StartedAt is when the generation was submitted.
	StartedAt time.Time
}
