package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pithecene-io/vellum/iox"
	"github.com/pithecene-io/vellum/types"
)

func testOutbound() *types.OutboundRequest {
	req := &types.GenerationRequest{
		Credential: "key-123",
		Content:    "Hello world",
		Params:     types.DefaultModelParams(),
	}
	return req.Outbound(nil)
}

func TestOpen_StreamResponse(t *testing.T) {
	var received types.OutboundRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %s", ct)
		}
		if ua := r.Header.Get("User-Agent"); ua != types.UserAgent {
			t.Errorf("expected user agent %s, got %s", types.UserAgent, ua)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"type\":\"keepalive\"}\n\n")
	}))
	defer ts.Close()

	tr, err := NewHTTPTransport(ts.URL)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	resp, err := tr.Open(t.Context(), testOutbound())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if resp.Body == nil || resp.Document != nil {
		t.Fatalf("expected stream response, got %+v", resp)
	}
	defer iox.DiscardClose(resp.Body)

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "keepalive") {
		t.Errorf("unexpected body %q", body)
	}
	if received.APIKey != "key-123" || received.Content != "Hello world" {
		t.Errorf("unexpected request body: %+v", received)
	}
	if received.IsReconnect {
		t.Error("initial request must not be flagged as reconnect")
	}
}

func TestOpen_JSONDocument(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = io.WriteString(w, `{"html":"<p>hi</p>","usage":{"input_tokens":10,"output_tokens":20}}`)
	}))
	defer ts.Close()

	tr, err := NewHTTPTransport(ts.URL)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	resp, err := tr.Open(t.Context(), testOutbound())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if resp.Document == nil {
		t.Fatal("expected document response")
	}
	if resp.Document.HTML != "<p>hi</p>" {
		t.Errorf("unexpected html %q", resp.Document.HTML)
	}
	if resp.Document.Usage == nil || resp.Document.Usage.OutputTokens != 20 {
		t.Errorf("unexpected usage %+v", resp.Document.Usage)
	}
}

func TestOpen_JSONErrorIsUpstreamError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"error":"invalid api key","session_id":"abc-123456"}`)
	}))
	defer ts.Close()

	tr, _ := NewHTTPTransport(ts.URL)
	_, err := tr.Open(t.Context(), testOutbound())

	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upErr.Message != "invalid api key" {
		t.Errorf("unexpected message %q", upErr.Message)
	}
	if SessionIDFromError(err) != "abc-123456" {
		t.Errorf("expected session id from upstream error, got %q", SessionIDFromError(err))
	}
	if IsTransientTimeout(err) {
		t.Error("upstream error must not be a transient timeout")
	}
}

func TestOpen_GatewayTimeoutWithSessionID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGatewayTimeout)
		_, _ = io.WriteString(w, `An error occurred with your deployment FUNCTION_INVOCATION_TIMEOUT {"session_id": "sess-7f3a9c"}`)
	}))
	defer ts.Close()

	tr, _ := NewHTTPTransport(ts.URL)
	_, err := tr.Open(t.Context(), testOutbound())

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504 StatusError, got %v", err)
	}
	if !IsTransientTimeout(err) {
		t.Error("expected transient timeout")
	}
	if got := SessionIDFromError(err); got != "sess-7f3a9c" {
		t.Errorf("expected sess-7f3a9c, got %q", got)
	}
}

func TestOpen_ClientErrorIsNotTransient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "request timeout budget invalid", http.StatusBadRequest)
	}))
	defer ts.Close()

	tr, _ := NewHTTPTransport(ts.URL)
	_, err := tr.Open(t.Context(), testOutbound())
	if err == nil {
		t.Fatal("expected error")
	}
	if IsTransientTimeout(err) {
		t.Error("4xx must never be a transient timeout, even with a marker")
	}
}

func TestOpen_CustomHeaders(t *testing.T) {
	var auth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("X-Client")
		w.Header().Set("Content-Type", "text/event-stream")
	}))
	defer ts.Close()

	tr, _ := NewHTTPTransport(ts.URL, WithHeaders(map[string]string{"X-Client": "vellum-test"}), WithTracing())
	resp, err := tr.Open(t.Context(), testOutbound())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	iox.DiscardClose(resp.Body)
	if auth != "vellum-test" {
		t.Errorf("expected custom header, got %q", auth)
	}
}

func TestOpen_NetworkError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := ts.URL
	ts.Close()

	tr, _ := NewHTTPTransport(url)
	_, err := tr.Open(t.Context(), testOutbound())
	if err == nil {
		t.Fatal("expected network error")
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		t.Error("network error must not be a StatusError")
	}
}

func TestNewHTTPTransport_RequiresEndpoint(t *testing.T) {
	if _, err := NewHTTPTransport(""); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
}

func TestHasTimeoutMarker(t *testing.T) {
	tests := []struct {
		body string
		want bool
	}{
		{"FUNCTION_INVOCATION_TIMEOUT", true},
		{"Task timed out after 60.00 seconds", true},
		{"504 Gateway Timeout", true},
		{"internal server error", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := HasTimeoutMarker(tt.body); got != tt.want {
			t.Errorf("HasTimeoutMarker(%q) = %v, want %v", tt.body, got, tt.want)
		}
	}
}

func TestExtractSessionID(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"error":"timeout","session_id":"0b7c2d4e-1111-2222"}`, "0b7c2d4e-1111-2222"},
		{`timed out (session id = abcdef123)`, "abcdef123"},
		{`sessionId: 'XYZ_98765'`, "XYZ_98765"},
		{`session_id: abc`, ""},
		{`no session here`, ""},
	}
	for _, tt := range tests {
		if got := ExtractSessionID(tt.body); got != tt.want {
			t.Errorf("ExtractSessionID(%q) = %q, want %q", tt.body, got, tt.want)
		}
	}
}
