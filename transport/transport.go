// Package transport issues generation requests to the HTML generation
// endpoint and classifies its responses.
//
// The session controller depends only on the Transport interface, so the
// endpoint and the wire client can be swapped without touching the state
// machine.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pithecene-io/vellum/iox"
	"github.com/pithecene-io/vellum/types"
)

// DefaultConnectTimeout bounds the wait for response headers.
// Streaming bodies are not bounded; liveness is tracked by the controller.
const DefaultConnectTimeout = 60 * time.Second

// maxErrorBody bounds how much of an error response is retained.
const maxErrorBody = 64 * 1024

// Transport opens one connection attempt for a generation.
type Transport interface {
	// Open posts the request. On success exactly one of Response.Body or
	// Response.Document is set. Closing Body, or canceling ctx, releases
	// the connection.
	Open(ctx context.Context, req *types.OutboundRequest) (*Response, error)
}

// Response is a successful connection attempt.
type Response struct {
	// Body is the event stream, for streamed responses.
	Body io.ReadCloser
	// Document is the parsed body of a single JSON response.
	Document *Document
	// StatusCode is the HTTP status.
	StatusCode int
}

// Document is a non-streamed generation result.
type Document struct {
	HTML      string       `json:"html"`
	Usage     *types.Usage `json:"usage,omitempty"`
	SessionID string       `json:"session_id,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// Option configures an HTTPTransport.
type Option func(*HTTPTransport)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(t *HTTPTransport) {
		t.client = client
	}
}

// WithHeaders adds headers to every request.
func WithHeaders(headers map[string]string) Option {
	return func(t *HTTPTransport) {
		for k, v := range headers {
			t.headers[k] = v
		}
	}
}

// WithTracing wraps the client transport with OpenTelemetry instrumentation.
func WithTracing() Option {
	return func(t *HTTPTransport) {
		t.tracing = true
	}
}

// HTTPTransport posts JSON requests to a single endpoint.
type HTTPTransport struct {
	endpoint string
	client   *http.Client
	headers  map[string]string
	tracing  bool
}

// NewHTTPTransport creates a transport for the endpoint URL.
func NewHTTPTransport(endpoint string, opts ...Option) (*HTTPTransport, error) {
	if endpoint == "" {
		return nil, errors.New("transport requires an endpoint URL")
	}
	t := &HTTPTransport{
		endpoint: endpoint,
		headers:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.client == nil {
		base := http.DefaultTransport.(*http.Transport).Clone()
		base.ResponseHeaderTimeout = DefaultConnectTimeout
		t.client = &http.Client{Transport: base}
	}
	if t.tracing {
		inner := t.client.Transport
		if inner == nil {
			inner = http.DefaultTransport
		}
		traced := *t.client
		traced.Transport = otelhttp.NewTransport(inner)
		t.client = &traced
	}
	return t, nil
}

// Endpoint returns the endpoint URL.
func (t *HTTPTransport) Endpoint() string {
	return t.endpoint
}

// Open implements Transport.
func (t *HTTPTransport) Open(ctx context.Context, out *types.OutboundRequest) (*Response, error) {
	body, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream, application/json")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("User-Agent", types.UserAgent)
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer iox.DrainClose(resp.Body)
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(msg)}
	}

	if isJSON(resp.Header.Get("Content-Type")) {
		defer iox.DrainClose(resp.Body)
		var doc Document
		if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode document response: %w", err)
		}
		if doc.Error != "" {
			return nil, &UpstreamError{Message: doc.Error, SessionID: doc.SessionID}
		}
		return &Response{Document: &doc, StatusCode: resp.StatusCode}, nil
	}

	// Anything else is read as an event stream; some deployments omit the
	// text/event-stream content type.
	return &Response{Body: resp.Body, StatusCode: resp.StatusCode}, nil
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(contentType, "json")
	}
	return mediaType == "application/json"
}

// Verify HTTPTransport implements Transport.
var _ Transport = (*HTTPTransport)(nil)
