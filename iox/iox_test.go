package iox

import (
	"errors"
	"io"
	"testing"
)

type spyCloser struct{ closed bool }

func (s *spyCloser) Close() error { s.closed = true; return errors.New("ignored") }

func TestDiscardClose(t *testing.T) {
	s := &spyCloser{}
	DiscardClose(s)
	if !s.closed {
		t.Fatal("Close was not called")
	}
}

type spyReadCloser struct {
	remaining int
	read      int
	closed    bool
}

func (s *spyReadCloser) Read(p []byte) (int, error) {
	if s.remaining == 0 {
		return 0, io.EOF
	}
	n := min(len(p), s.remaining)
	s.remaining -= n
	s.read += n
	return n, nil
}

func (s *spyReadCloser) Close() error { s.closed = true; return nil }

func TestDrainClose_BoundsRead(t *testing.T) {
	s := &spyReadCloser{remaining: 1 << 20}
	DrainClose(s)
	if !s.closed {
		t.Fatal("Close was not called")
	}
	if s.read != maxDrain {
		t.Errorf("expected %d bytes drained, got %d", maxDrain, s.read)
	}
}
