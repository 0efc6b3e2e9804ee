// Package runtime implements the generation session: event ingestion,
// chunk reassembly and the reconnecting session controller.
package runtime

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"
)

// MaxChunkedTransferSize bounds a single chunked transfer (512 MiB).
const MaxChunkedTransferSize = 512 * 1024 * 1024

var (
	// ErrTransferInProgress is returned when a transfer begins while the
	// previous one is still incomplete. The new transfer is ignored.
	ErrTransferInProgress = errors.New("chunked transfer already in progress")
	// ErrNoTransfer is returned for fragments that arrive without a transfer.
	ErrNoTransfer = errors.New("no chunked transfer in progress")
)

// ReassemblyError reports a chunk set that could not be reassembled.
// It is never resolved by emitting a truncated document.
type ReassemblyError struct {
	Total    int
	Received int
	Missing  []int
}

func (e *ReassemblyError) Error() string {
	return fmt.Sprintf("chunked transfer incomplete: received %d of %d fragments, missing %s",
		e.Received, e.Total, formatIndices(e.Missing))
}

// IsReassemblyError returns true if the error is a reassembly fault.
func IsReassemblyError(err error) bool {
	var reErr *ReassemblyError
	return errors.As(err, &reErr)
}

// chunkBuffer holds the fragments of one chunked transfer.
type chunkBuffer struct {
	total     int
	length    int
	fragments map[int]string
	bytes     int
}

// Reassembled is a completed chunked transfer.
type Reassembled struct {
	Document string
	// LengthMatches is false when the declared total length matches neither
	// the byte length nor the character length of the document.
	LengthMatches bool
}

// ChunkAssembler reassembles documents split into indexed fragments.
// Fragments may arrive in any order and may be retransmitted.
// Thread-safe so Stats can be read outside the event loop.
type ChunkAssembler struct {
	mu  sync.Mutex
	buf *chunkBuffer

	stats ChunkStats
}

// ChunkStats holds reassembly statistics.
type ChunkStats struct {
	Transfers      int64
	Completed      int64
	Fragments      int64
	Retransmits    int64
	Faults         int64
	RejectedBegins int64
	Bytes          int64
}

// NewChunkAssembler creates an idle assembler.
func NewChunkAssembler() *ChunkAssembler {
	return &ChunkAssembler{}
}

// Initialize starts a chunked transfer of total fragments.
// Returns ErrTransferInProgress if the previous transfer is incomplete.
func (a *ChunkAssembler) Initialize(total, length int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.buf != nil {
		a.stats.RejectedBegins++
		return fmt.Errorf("%w: %d of %d fragments received",
			ErrTransferInProgress, len(a.buf.fragments), a.buf.total)
	}
	if total <= 0 {
		return fmt.Errorf("chunked transfer: total fragments must be > 0, got %d", total)
	}
	if length > MaxChunkedTransferSize {
		return fmt.Errorf("chunked transfer: declared length %d exceeds max %d", length, MaxChunkedTransferSize)
	}

	a.buf = &chunkBuffer{
		total:     total,
		length:    length,
		fragments: make(map[int]string, total),
	}
	a.stats.Transfers++
	return nil
}

// AddFragment stores a fragment and attempts reassembly.
// A retransmitted index overwrites the stored content. When every index
// has been received the document is returned and the buffer is cleared.
func (a *ChunkAssembler) AddFragment(index int, content string) (*Reassembled, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.buf == nil {
		return nil, fmt.Errorf("fragment %d: %w", index, ErrNoTransfer)
	}
	if index < 0 || index >= a.buf.total {
		return nil, fmt.Errorf("fragment %d: index out of range [0, %d)", index, a.buf.total)
	}

	if prev, exists := a.buf.fragments[index]; exists {
		a.buf.bytes -= len(prev)
		a.stats.Retransmits++
	}
	if a.buf.bytes+len(content) > MaxChunkedTransferSize {
		return nil, fmt.Errorf("fragment %d: transfer size exceeds max %d", index, MaxChunkedTransferSize)
	}
	a.buf.fragments[index] = content
	a.buf.bytes += len(content)
	a.stats.Fragments++
	a.stats.Bytes += int64(len(content))

	if len(a.buf.fragments) != a.buf.total {
		return nil, nil
	}
	return a.reassembleLocked()
}

// End marks the end of the current transfer. A complete transfer has
// already been reassembled, so End only reports missing fragments.
// The buffer is kept so late fragments can still complete it.
func (a *ChunkAssembler) End() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.buf == nil {
		return nil
	}
	a.stats.Faults++
	return a.faultLocked()
}

// Pending reports whether an incomplete transfer is buffered.
func (a *ChunkAssembler) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf != nil
}

// Discard drops the current transfer.
func (a *ChunkAssembler) Discard() {
	a.mu.Lock()
	a.buf = nil
	a.mu.Unlock()
}

// Stats returns reassembly statistics.
func (a *ChunkAssembler) Stats() ChunkStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

func (a *ChunkAssembler) reassembleLocked() (*Reassembled, error) {
	var sb strings.Builder
	sb.Grow(a.buf.bytes)
	for i := 0; i < a.buf.total; i++ {
		frag, ok := a.buf.fragments[i]
		if !ok {
			a.stats.Faults++
			return nil, a.faultLocked()
		}
		sb.WriteString(frag)
	}

	doc := sb.String()
	length := a.buf.length
	a.buf = nil
	a.stats.Completed++

	return &Reassembled{
		Document:      doc,
		LengthMatches: length <= 0 || length == len(doc) || length == utf8.RuneCountInString(doc),
	}, nil
}

func (a *ChunkAssembler) faultLocked() error {
	var missing []int
	for i := 0; i < a.buf.total; i++ {
		if _, ok := a.buf.fragments[i]; !ok {
			missing = append(missing, i)
		}
	}
	sort.Ints(missing)
	return &ReassemblyError{
		Total:    a.buf.total,
		Received: len(a.buf.fragments),
		Missing:  missing,
	}
}

// formatIndices renders at most 10 indices.
func formatIndices(indices []int) string {
	const limit = 10
	parts := make([]string, 0, min(len(indices), limit))
	for i, idx := range indices {
		if i == limit {
			return fmt.Sprintf("[%s ... +%d]", strings.Join(parts, " "), len(indices)-limit)
		}
		parts = append(parts, fmt.Sprint(idx))
	}
	return "[" + strings.Join(parts, " ") + "]"
}
