package sse

import (
	"bytes"

	"github.com/pithecene-io/vellum/types"
)

// MaxLineSize is the largest single event line accepted (64 MiB).
// Chunked transfers keep individual lines well below this.
const MaxLineSize = 64 * 1024 * 1024

// dataPrefix marks an event payload line.
var dataPrefix = []byte("data:")

// Result is one element of the decoded sequence: an event or a
// non-fatal decode error for a discarded line.
type Result struct {
	Event *types.Event
	Err   error
}

// Decoder turns raw transport fragments into protocol events.
// A trailing partial line is buffered until its delimiter arrives, so a
// line split across reads is decoded exactly once.
//
// A Decoder is not safe for concurrent use and is created per connection.
type Decoder struct {
	buf      []byte
	skipping bool // discarding the remainder of an oversized line
	maxLine  int
}

// NewDecoder creates a decoder with the default line limit.
func NewDecoder() *Decoder {
	return &Decoder{maxLine: MaxLineSize}
}

// Feed appends a transport fragment and returns the results for every
// line it completed, in order.
func (d *Decoder) Feed(p []byte) []Result {
	var out []Result
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			d.buffer(p, &out)
			return out
		}
		if d.skipping {
			d.skipping = false
		} else {
			d.buffer(p[:i], &out)
			if !d.skipping {
				out = d.appendLine(out, d.buf)
			}
			d.skipping = false
		}
		d.buf = d.buf[:0]
		p = p[i+1:]
	}
	return out
}

// Flush decodes a final line that was not newline-terminated.
// Called once when the transport signals end of stream.
func (d *Decoder) Flush() []Result {
	if d.skipping || len(d.buf) == 0 {
		d.buf = d.buf[:0]
		d.skipping = false
		return nil
	}
	out := d.appendLine(nil, d.buf)
	d.buf = d.buf[:0]
	return out
}

// Buffered returns the number of bytes held for an incomplete line.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

func (d *Decoder) buffer(p []byte, out *[]Result) {
	if d.skipping {
		return
	}
	if len(d.buf)+len(p) > d.maxLine {
		head := d.buf
		if len(head) == 0 {
			head = p
		}
		*out = append(*out, Result{Err: &DecodeError{
			Kind: DecodeErrorTooLarge,
			Line: truncateLine(head),
		}})
		d.buf = d.buf[:0]
		d.skipping = true
		return
	}
	d.buf = append(d.buf, p...)
}

func (d *Decoder) appendLine(out []Result, line []byte) []Result {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if !bytes.HasPrefix(line, dataPrefix) {
		// Blank separators, comments and event/id/retry fields carry nothing.
		return out
	}
	payload := bytes.TrimPrefix(line[len(dataPrefix):], []byte(" "))
	if len(bytes.TrimSpace(payload)) == 0 {
		return out
	}
	ev, err := DecodeEvent(payload)
	if err != nil {
		return append(out, Result{Err: err})
	}
	return append(out, Result{Event: ev})
}
