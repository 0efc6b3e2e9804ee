package preview

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/pithecene-io/vellum/log"
)

// DefaultLargeThreshold is the document size (2 MiB) above which the
// renderer stops replacing the whole surface and appends increments.
const DefaultLargeThreshold = 2 * 1024 * 1024

// DefaultMaxToken bounds a single HTML token in an appended fragment.
const DefaultMaxToken = 1024 * 1024

// Strategy is the update strategy of a Renderer.
type Strategy int

const (
	// StrategySmall replaces the entire surface on each update.
	StrategySmall Strategy = iota
	// StrategyLarge appends only the unrendered suffix.
	StrategyLarge
)

func (s Strategy) String() string {
	if s == StrategyLarge {
		return "large"
	}
	return "small"
}

// Source is the document being rendered. Snapshot returns the content and
// an epoch that changes whenever the content is replaced rather than
// extended.
type Source interface {
	Snapshot() (content string, epoch int)
}

// Stats holds renderer statistics.
type Stats struct {
	Strategy      Strategy
	Updates       int64
	Skipped       int64
	Rendered      int
	NodesAppended int64
	ParseFaults   int64
}

// Renderer applies a growing document to a Surface.
// Apply is called from the session's event loop; Stats may be read from
// any goroutine.
type Renderer struct {
	src       Source
	surface   Surface
	threshold int
	maxToken  int
	logger    *log.Logger

	mu       sync.Mutex
	strategy Strategy
	rendered int
	epoch    int
	stats    Stats
}

// NewRenderer creates a renderer. A threshold <= 0 selects DefaultLargeThreshold.
func NewRenderer(src Source, surface Surface, threshold int, logger *log.Logger) *Renderer {
	if threshold <= 0 {
		threshold = DefaultLargeThreshold
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Renderer{
		src:       src,
		surface:   surface,
		threshold: threshold,
		maxToken:  DefaultMaxToken,
		logger:    logger,
	}
}

// Apply renders the document up to length bytes. Calling Apply with a
// length that is not larger than what is already rendered is a no-op,
// unless the document was replaced since the last call.
func (r *Renderer) Apply(length int) error {
	return r.apply(length, false)
}

// Flush renders the whole document, including a trailing partial tag
// that Apply holds back under the large strategy.
func (r *Renderer) Flush() error {
	content, _ := r.src.Snapshot()
	return r.apply(len(content), true)
}

// Strategy returns the current strategy.
func (r *Renderer) Strategy() Strategy {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.strategy
}

// Stats returns renderer statistics.
func (r *Renderer) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.Strategy = r.strategy
	s.Rendered = r.rendered
	return s
}

func (r *Renderer) apply(length int, final bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	content, epoch := r.src.Snapshot()
	length = min(max(length, 0), len(content))

	replaced := epoch != r.epoch
	if replaced {
		r.epoch = epoch
	}

	if r.strategy == StrategySmall && length > r.threshold {
		r.strategy = StrategyLarge
		r.logger.Info("preview switched to incremental rendering", map[string]any{
			"length":    length,
			"threshold": r.threshold,
		})
	}

	if !replaced && length <= r.rendered {
		r.stats.Skipped++
		return nil
	}
	r.stats.Updates++

	if r.strategy == StrategySmall {
		if err := r.surface.Replace(content[:length]); err != nil {
			return fmt.Errorf("replace preview: %w", err)
		}
		r.rendered = length
		return nil
	}

	if replaced {
		cut := length
		if !final {
			cut = safeCut(content[:length])
		}
		if err := r.surface.Replace(content[:cut]); err != nil {
			return fmt.Errorf("replace preview: %w", err)
		}
		r.rendered = cut
		return nil
	}

	suffix := content[r.rendered:length]
	if !final {
		suffix = suffix[:safeCut(suffix)]
	}
	if suffix == "" {
		return nil
	}

	nodes, err := countNodes(suffix, r.maxToken)
	if err != nil {
		r.stats.ParseFaults++
		r.logger.Warn("preview fragment did not tokenize", map[string]any{
			"offset": r.rendered,
			"length": len(suffix),
			"error":  err.Error(),
		})
	}
	// The raw bytes are appended either way so the surface stays a
	// faithful copy of the received document.
	if err := r.surface.Append(suffix); err != nil {
		return fmt.Errorf("append preview: %w", err)
	}
	r.rendered += len(suffix)
	r.stats.NodesAppended += int64(nodes)
	return nil
}

// safeCut returns the length of the longest prefix of s that does not
// end inside an unterminated tag.
func safeCut(s string) int {
	lt := strings.LastIndexByte(s, '<')
	if lt < 0 || strings.IndexByte(s[lt:], '>') >= 0 {
		return len(s)
	}
	return lt
}

// countNodes tokenizes a fragment and returns the number of tokens.
// Bytes a browser would have to substitute, and tokens longer than
// maxToken, are reported as errors.
func countNodes(fragment string, maxToken int) (int, error) {
	if !utf8.ValidString(fragment) {
		return 0, errors.New("fragment is not valid UTF-8")
	}
	if i := strings.IndexByte(fragment, 0); i >= 0 {
		return 0, fmt.Errorf("NUL byte at offset %d", i)
	}

	z := html.NewTokenizer(strings.NewReader(fragment))
	z.SetMaxBuf(maxToken)
	nodes := 0
	for {
		if z.Next() == html.ErrorToken {
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return nodes, err
			}
			return nodes, nil
		}
		nodes++
	}
}
