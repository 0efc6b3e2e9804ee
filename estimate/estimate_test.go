package estimate

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pithecene-io/vellum/transport"
)

func TestMaxSafeOutput(t *testing.T) {
	tests := []struct {
		input int64
		want  int64
	}{
		{0, MaxOutputTokens},
		{10_000, MaxOutputTokens},
		{ContextWindow - SafetyMargin - 1000, 1000},
		{ContextWindow, 0},
	}
	for _, tt := range tests {
		if got := MaxSafeOutput(tt.input); got != tt.want {
			t.Errorf("MaxSafeOutput(%d) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestCost(t *testing.T) {
	if got := Cost(1_000_000); got != 3.0 {
		t.Errorf("Cost(1M) = %v, want 3", got)
	}
	if got := Cost(1234); got != 0.003702 {
		t.Errorf("Cost(1234) = %v, want 0.003702", got)
	}
}

func TestCharTokens(t *testing.T) {
	if got := charTokens(strings.Repeat("a", 35)); got != 10 {
		t.Errorf("charTokens(35) = %d, want 10", got)
	}
}

func TestLocal_Estimate(t *testing.T) {
	l := NewLocal()
	est, err := l.Estimate(t.Context(), Request{Content: strings.Repeat("hello world ", 200)})
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if est.EstimatedTokens <= 0 {
		t.Fatalf("EstimatedTokens = %d", est.EstimatedTokens)
	}
	if est.Method != "tiktoken" && est.Method != "chars" {
		t.Errorf("Method = %q", est.Method)
	}
	if est.MaxSafeOutputTokens != MaxSafeOutput(est.EstimatedTokens) {
		t.Errorf("MaxSafeOutputTokens = %d", est.MaxSafeOutputTokens)
	}
	if est.EstimatedCost != Cost(est.EstimatedTokens) {
		t.Errorf("EstimatedCost = %v", est.EstimatedCost)
	}
}

func TestLocal_EmptyContent(t *testing.T) {
	if _, err := NewLocal().Estimate(t.Context(), Request{}); err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestClient_Estimate(t *testing.T) {
	var got remoteRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"estimated_tokens": 1234.5, "estimated_cost": 0.0037, "max_safe_output_tokens": 128000}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "key-1")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	est, err := c.Estimate(t.Context(), Request{Content: "some text"})
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if est.EstimatedTokens != 1234 || est.MaxSafeOutputTokens != 128000 || est.Method != "remote" {
		t.Errorf("estimate = %+v", est)
	}
	if got.FileType != "txt" || got.APIKey != "key-1" || got.Content != "some text" {
		t.Errorf("request = %+v", got)
	}
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{
			name:   "bad request",
			status: http.StatusBadRequest,
			body:   `{"error": "No content provided"}`,
			check: func(err error) bool {
				var se *transport.StatusError
				return errors.As(err, &se) && se.Code == http.StatusBadRequest
			},
		},
		{
			name:   "error in ok response",
			status: http.StatusOK,
			body:   `{"error": "quota"}`,
			check: func(err error) bool {
				var ue *transport.UpstreamError
				return errors.As(err, &ue) && ue.Message == "quota"
			},
		},
		{
			name:   "malformed",
			status: http.StatusOK,
			body:   `not json`,
			check:  func(err error) bool { return err != nil },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c, err := NewClient(srv.URL, "")
			if err != nil {
				t.Fatalf("NewClient: %v", err)
			}
			_, err = c.Estimate(t.Context(), Request{Content: "x"})
			if !tt.check(err) {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestNewClient_RequiresURL(t *testing.T) {
	if _, err := NewClient("", ""); err == nil {
		t.Fatal("expected error")
	}
}
