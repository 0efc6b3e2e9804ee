package sse

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/pithecene-io/vellum/types"
)

// chunkedReader returns its input a few bytes per Read.
type chunkedReader struct {
	data string
	step int
	err  error
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if r.data == "" {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	n := min(r.step, len(r.data), len(p))
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func TestStream_DeliversInOrderAndCloses(t *testing.T) {
	input := "data: {\"type\":\"content_delta\",\"content\":\"abc\"}\n" +
		"data: {\"type\":\"content_delta\",\"content\":\"def\"}\n" +
		"data: {\"type\":\"message_complete\"}"

	var texts []string
	var last types.EventType
	for res := range Stream(t.Context(), &chunkedReader{data: input, step: 5}) {
		if res.Err != nil {
			t.Fatalf("unexpected error: %v", res.Err)
		}
		texts = append(texts, res.Event.Text)
		last = res.Event.Type
	}

	if got := strings.Join(texts, ""); got != "abcdef" {
		t.Errorf("expected abcdef, got %q", got)
	}
	if last != types.EventMessageComplete {
		t.Errorf("expected final message_complete, got %s", last)
	}
}

func TestStream_ReadErrorIsFinalResult(t *testing.T) {
	boom := errors.New("connection reset")
	r := &chunkedReader{data: "data: {\"type\":\"ping\"}\ndata: {\"ty", step: 64, err: boom}

	var results []Result
	for res := range Stream(t.Context(), r) {
		results = append(results, res)
	}

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	var readErr *ReadError
	if !errors.As(results[1].Err, &readErr) {
		t.Fatalf("expected ReadError, got %v", results[1].Err)
	}
	if !errors.Is(readErr, boom) {
		t.Errorf("expected wrapped cause, got %v", readErr.Err)
	}
	if readErr.Buffered == 0 {
		t.Error("expected partial line to be reported as buffered")
	}
}

func TestStream_StopsOnContextCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(t.Context())
	ch := Stream(ctx, pr)

	go func() {
		_, _ = pw.Write([]byte("data: {\"type\":\"ping\"}\n"))
	}()
	if res := <-ch; res.Event == nil {
		t.Fatalf("expected keepalive, got %+v", res)
	}

	cancel()
	// Unblock the pending read so the goroutine observes cancellation.
	_ = pw.CloseWithError(context.Canceled)

	for range ch {
	}
}
