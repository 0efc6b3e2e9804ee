package transport

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	// Body is the (bounded) response body.
	Body string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, body)
}

// UpstreamError is an error reported by the endpoint in a successful response.
type UpstreamError struct {
	Message   string
	SessionID string
}

func (e *UpstreamError) Error() string {
	return "upstream error: " + e.Message
}

// timeoutMarkers identify a server-side execution timeout. Matched
// case-insensitively against the response body.
var timeoutMarkers = []string{
	"function_invocation_timeout",
	"edge_function_invocation_timeout",
	"task timed out",
	"execution timed out",
	"timed out",
	"gateway timeout",
	"timeout",
}

// sessionIDPattern extracts a session id embedded in an error body, in
// JSON ("session_id": "...") or prose (session id = ...) form.
var sessionIDPattern = regexp.MustCompile(`(?i)session[_ -]?id["']?\s*[:=]\s*["']?([A-Za-z0-9_-]{6,})`)

// HasTimeoutMarker reports whether text carries an execution timeout marker.
func HasTimeoutMarker(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range timeoutMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// IsTransientTimeout reports whether err is an upstream execution timeout:
// a 500 to 504 status whose body carries a timeout marker.
func IsTransientTimeout(err error) bool {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	if statusErr.Code < 500 || statusErr.Code > 504 {
		return false
	}
	return HasTimeoutMarker(statusErr.Body)
}

// ExtractSessionID returns the session id embedded in text, or "".
func ExtractSessionID(text string) string {
	m := sessionIDPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

// SessionIDFromError returns the session id carried by a transport error, or "".
func SessionIDFromError(err error) string {
	var upErr *UpstreamError
	if errors.As(err, &upErr) && upErr.SessionID != "" {
		return upErr.SessionID
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return ExtractSessionID(statusErr.Body)
	}
	return ""
}
