package runtime

import (
	"fmt"
	"strings"
	"sync"
)

// ResumePolicy decides how content delivered after a reconnect is
// reconciled with content already applied.
type ResumePolicy string

const (
	// ResumeDedupe drops deltas whose chunk id was already applied.
	// Deltas without a chunk id are always appended.
	ResumeDedupe ResumePolicy = "dedupe"
	// ResumeTrust appends every delta and relies on the server resuming
	// exactly after the last acknowledged chunk.
	ResumeTrust ResumePolicy = "trust"
)

// ParseResumePolicy parses a policy name. The empty string selects ResumeDedupe.
func ParseResumePolicy(s string) (ResumePolicy, error) {
	switch ResumePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", ResumeDedupe:
		return ResumeDedupe, nil
	case ResumeTrust:
		return ResumeTrust, nil
	default:
		return "", fmt.Errorf("unknown resume policy %q (want dedupe or trust)", s)
	}
}

// Document is the accumulated document of one generation.
// Only the session's event loop mutates it; readers such as the preview
// renderer and the TUI take consistent snapshots under the lock.
type Document struct {
	mu      sync.RWMutex
	sb      strings.Builder
	epoch   int
	policy  ResumePolicy
	applied map[string]struct{}
}

// NewDocument creates an empty document.
func NewDocument(policy ResumePolicy) *Document {
	if policy == "" {
		policy = ResumeDedupe
	}
	return &Document{policy: policy, applied: make(map[string]struct{})}
}

// Append appends a content delta. Returns false when the delta was
// dropped as a duplicate under ResumeDedupe.
func (d *Document) Append(text, chunkID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if chunkID != "" && d.policy == ResumeDedupe {
		if _, seen := d.applied[chunkID]; seen {
			return false
		}
		d.applied[chunkID] = struct{}{}
	}
	d.sb.WriteString(text)
	return true
}

// Replace sets the whole document. When the new content extends the
// current content only the suffix is appended and the epoch is kept, so
// incremental renderers do not start over.
func (d *Document) Replace(content string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	current := d.sb.String()
	if strings.HasPrefix(content, current) {
		d.sb.WriteString(content[len(current):])
		return
	}
	d.sb.Reset()
	d.sb.WriteString(content)
	d.epoch++
}

// String returns the current content.
func (d *Document) String() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sb.String()
}

// Len returns the current length in bytes.
func (d *Document) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sb.Len()
}

// Epoch increments every time the content is replaced rather than extended.
func (d *Document) Epoch() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.epoch
}

// Snapshot returns the content and epoch read together.
func (d *Document) Snapshot() (string, int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sb.String(), d.epoch
}
