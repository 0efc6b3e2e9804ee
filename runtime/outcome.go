package runtime

import (
	"errors"
	"fmt"

	"github.com/pithecene-io/vellum/types"
)

// Process exit codes for a generation.
const (
	ExitCodeSuccess      = 0 // document received
	ExitCodeError        = 1 // usage or configuration error
	ExitCodeFatalRequest = 2 // request rejected before sending
	ExitCodeFailed       = 3 // generation failed after sending
	ExitCodeCanceled     = 4 // canceled by the caller
)

// DetermineOutcome classifies the error returned by a generation.
//   - nil: success
//   - fatal_request: rejected, never sent
//   - canceled: canceled by the caller
//   - any other kind: failed
func DetermineOutcome(err error) *types.GenerationOutcome {
	if err == nil {
		return &types.GenerationOutcome{
			Status:  types.OutcomeSuccess,
			Message: "generation completed",
		}
	}

	kind, ok := KindOf(err)
	if !ok {
		return &types.GenerationOutcome{
			Status:    types.OutcomeFailed,
			Message:   err.Error(),
			ErrorKind: ErrorTransportFailure.String(),
		}
	}

	outcome := &types.GenerationOutcome{
		Status:    types.OutcomeFailed,
		Message:   describe(kind, err),
		ErrorKind: kind.String(),
	}
	switch kind {
	case ErrorFatalRequest:
		outcome.Status = types.OutcomeRejected
	case ErrorCanceled:
		outcome.Status = types.OutcomeCanceled
	}
	return outcome
}

// describe returns a single human-readable notification for a failure.
func describe(kind ErrorKind, err error) string {
	var genErr *GenerationError
	cause := err
	if errors.As(err, &genErr) && genErr.Err != nil {
		cause = genErr.Err
	}
	switch kind {
	case ErrorFatalRequest:
		return fmt.Sprintf("request not sent: %v", cause)
	case ErrorExhaustedRetries:
		return fmt.Sprintf("connection lost and could not be resumed: %v", cause)
	case ErrorReassemblyFault:
		return fmt.Sprintf("document arrived incomplete: %v", cause)
	case ErrorUpstream:
		return fmt.Sprintf("generation service reported an error: %v", cause)
	case ErrorCanceled:
		return "generation canceled"
	default:
		return cause.Error()
	}
}

// ExitCode maps the error returned by a generation to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}
	kind, ok := KindOf(err)
	if !ok {
		return ExitCodeError
	}
	switch kind {
	case ErrorFatalRequest:
		return ExitCodeFatalRequest
	case ErrorCanceled:
		return ExitCodeCanceled
	default:
		return ExitCodeFailed
	}
}
