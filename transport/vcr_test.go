package transport

import (
	"net/http"
	"path/filepath"
	"testing"

	"gopkg.in/dnaeon/go-vcr.v2/cassette"
	"gopkg.in/dnaeon/go-vcr.v2/recorder"

	"github.com/pithecene-io/vellum/iox"
	"github.com/pithecene-io/vellum/sse"
	"github.com/pithecene-io/vellum/types"
)

const cassetteEndpoint = "https://gen.vellum.test/api/process-gemini-stream"

// newReplayClient replays a recorded exchange from testdata/cassettes.
func newReplayClient(t *testing.T, name string) *http.Client {
	t.Helper()

	r, err := recorder.NewAsMode(filepath.Join("testdata", "cassettes", name), recorder.ModeReplaying, nil)
	if err != nil {
		t.Fatalf("recorder: %v", err)
	}
	// Request bodies carry credentials and are not recorded.
	r.SetMatcher(func(req *http.Request, i cassette.Request) bool {
		return req.Method == i.Method && req.URL.String() == i.URL
	})
	t.Cleanup(func() {
		if err := r.Stop(); err != nil {
			t.Errorf("stop recorder: %v", err)
		}
	})
	return &http.Client{Transport: r}
}

func TestOpen_RecordedChunkedStream(t *testing.T) {
	tr, err := NewHTTPTransport(cassetteEndpoint, WithHTTPClient(newReplayClient(t, "chunked_stream")))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	resp, err := tr.Open(t.Context(), testOutbound())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if resp.Body == nil {
		t.Fatal("expected stream body")
	}
	defer iox.DiscardClose(resp.Body)

	var seen []types.EventType
	var sessionID string
	for res := range sse.Stream(t.Context(), resp.Body) {
		if res.Err != nil {
			t.Fatalf("stream: %v", res.Err)
		}
		seen = append(seen, res.Event.Type)
		if sessionID == "" {
			sessionID = res.Event.SessionID
		}
	}

	want := []types.EventType{
		types.EventThinkingUpdate,
		types.EventThinkingUpdate,
		types.EventChunkBegin,
		types.EventChunkFragment,
		types.EventKeepalive,
		types.EventChunkFragment,
		types.EventChunkFragment,
		types.EventChunkEnd,
		types.EventMessageComplete,
	}
	if len(seen) != len(want) {
		t.Fatalf("expected %d events, got %d: %v", len(want), len(seen), seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], seen[i])
		}
	}
	if sessionID != "3f1c9a52-77aa-4b1e-9d0e-5c2b8e1f0a11" {
		t.Errorf("unexpected session id %q", sessionID)
	}
}
