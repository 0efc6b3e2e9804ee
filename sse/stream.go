package sse

import (
	"context"
	"errors"
	"io"
)

// readBufferSize is the transport read size. Reads routinely split lines.
const readBufferSize = 32 * 1024

// Stream decodes r on a background goroutine and delivers results in
// receive order. The channel is closed when r reaches EOF, when a read
// fails (delivered as a final Result with a non-decode Err), or when ctx
// is done. The sequence is not restartable; call Stream once per connection.
func Stream(ctx context.Context, r io.Reader) <-chan Result {
	out := make(chan Result)
	go pump(ctx, r, out)
	return out
}

func pump(ctx context.Context, r io.Reader, out chan<- Result) {
	defer close(out)

	dec := NewDecoder()
	buf := make([]byte, readBufferSize)

	send := func(results []Result) bool {
		for _, res := range results {
			select {
			case out <- res:
			case <-ctx.Done():
				return false
			}
		}
		return true
	}

	for {
		n, err := r.Read(buf)
		if n > 0 && !send(dec.Feed(buf[:n])) {
			return
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			send(dec.Flush())
			return
		}
		send([]Result{{Err: &ReadError{Err: err, Buffered: dec.Buffered()}}})
		return
	}
}

// ReadError is a transport failure while reading the stream.
type ReadError struct {
	Err error
	// Buffered is the size of the incomplete line lost with the connection.
	Buffered int
}

func (e *ReadError) Error() string {
	return "stream read: " + e.Err.Error()
}

func (e *ReadError) Unwrap() error {
	return e.Err
}
