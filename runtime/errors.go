package runtime

import (
	"errors"
	"fmt"
)

// ErrorKind classifies generation errors.
type ErrorKind int

const (
	// ErrorTransientTimeout indicates an upstream execution timeout.
	// Recoverable by reconnecting.
	ErrorTransientTimeout ErrorKind = iota
	// ErrorTransportFailure indicates a network-level failure that was not
	// caused by a deliberate cancellation. Recoverable by reconnecting.
	ErrorTransportFailure
	// ErrorDecodeFault indicates a line or fragment that failed to parse.
	// Logged; the stream continues.
	ErrorDecodeFault
	// ErrorReassemblyFault indicates a chunk set that stayed incomplete.
	ErrorReassemblyFault
	// ErrorExhaustedRetries indicates the reconnect ceiling was exceeded.
	ErrorExhaustedRetries
	// ErrorFatalRequest indicates an invalid request that was never sent.
	ErrorFatalRequest
	// ErrorUpstream indicates an error reported by the endpoint itself.
	ErrorUpstream
	// ErrorCanceled indicates the caller canceled the generation.
	ErrorCanceled
	// ErrorKeepaliveTimeout indicates the controller canceled a silent
	// stream itself. Recoverable by reconnecting.
	ErrorKeepaliveTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorTransientTimeout:
		return "transient_timeout"
	case ErrorTransportFailure:
		return "transport_failure"
	case ErrorDecodeFault:
		return "decode_fault"
	case ErrorReassemblyFault:
		return "reassembly_fault"
	case ErrorExhaustedRetries:
		return "exhausted_retries"
	case ErrorFatalRequest:
		return "fatal_request"
	case ErrorUpstream:
		return "upstream"
	case ErrorCanceled:
		return "canceled"
	case ErrorKeepaliveTimeout:
		return "keepalive_timeout"
	default:
		return "unknown"
	}
}

// Recoverable reports whether the kind escalates to a reconnect.
func (k ErrorKind) Recoverable() bool {
	switch k {
	case ErrorTransientTimeout, ErrorTransportFailure, ErrorKeepaliveTimeout:
		return true
	}
	return false
}

// GenerationError is the error returned for a failed generation.
type GenerationError struct {
	Kind ErrorKind
	// SessionID is the server session, when one was assigned.
	SessionID string
	// Reconnects is the number of reconnects issued before failing.
	Reconnects int
	Err        error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation %s: %v", e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a generation error, and false for other errors.
func KindOf(err error) (ErrorKind, bool) {
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return genErr.Kind, true
	}
	return 0, false
}

// IsFatalRequestError returns true if the request was rejected before sending.
func IsFatalRequestError(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == ErrorFatalRequest
}

// IsExhaustedRetriesError returns true if the reconnect ceiling was exceeded.
func IsExhaustedRetriesError(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == ErrorExhaustedRetries
}

// IsCanceledError returns true if the caller canceled the generation.
func IsCanceledError(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == ErrorCanceled
}
