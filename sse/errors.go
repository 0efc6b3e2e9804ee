// Package sse decodes the generation endpoint's server-sent event stream
// into typed protocol events.
package sse

import (
	"errors"
	"fmt"
)

// DecodeErrorKind classifies line decoding errors.
type DecodeErrorKind int

const (
	// DecodeErrorSyntax indicates a data payload that is not valid JSON.
	DecodeErrorSyntax DecodeErrorKind = iota
	// DecodeErrorUnknownType indicates a payload with an unrecognized type.
	DecodeErrorUnknownType
	// DecodeErrorTooLarge indicates a line exceeding MaxLineSize.
	DecodeErrorTooLarge
)

func (k DecodeErrorKind) String() string {
	switch k {
	case DecodeErrorSyntax:
		return "syntax"
	case DecodeErrorUnknownType:
		return "unknown_type"
	case DecodeErrorTooLarge:
		return "too_large"
	default:
		return "unknown"
	}
}

// DecodeError reports a line that was discarded. It never ends the stream.
type DecodeError struct {
	Kind DecodeErrorKind
	// Line is the offending line, truncated for logging.
	Line string
	Err  error

	// SessionID and ChunkID are kept from a well-formed record of unknown
	// type so resume state is not lost with it.
	SessionID string
	ChunkID   string
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("decode %s: %q", e.Kind, e.Line)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError returns true if the error is a discarded-line decode error.
func IsDecodeError(err error) bool {
	var decErr *DecodeError
	return errors.As(err, &decErr)
}

// maxLoggedLine bounds how much of a bad line is kept on a DecodeError.
const maxLoggedLine = 256

func truncateLine(line []byte) string {
	if len(line) > maxLoggedLine {
		return string(line[:maxLoggedLine]) + "..."
	}
	return string(line)
}
