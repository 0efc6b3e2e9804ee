// Package preview applies a growing document to a live preview surface.
package preview

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Surface is a live preview target.
type Surface interface {
	// Replace sets the entire surface content.
	Replace(content string) error
	// Append adds rendered nodes to the end of the surface.
	Append(fragment string) error
}

// BufferSurface is an in-memory surface. Safe for concurrent use.
type BufferSurface struct {
	mu       sync.Mutex
	sb       strings.Builder
	replaces int
	appends  int
}

// NewBufferSurface creates an empty in-memory surface.
func NewBufferSurface() *BufferSurface {
	return &BufferSurface{}
}

// Replace implements Surface.
func (s *BufferSurface) Replace(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sb.Reset()
	s.sb.WriteString(content)
	s.replaces++
	return nil
}

// Append implements Surface.
func (s *BufferSurface) Append(fragment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sb.WriteString(fragment)
	s.appends++
	return nil
}

// String returns the current content.
func (s *BufferSurface) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sb.String()
}

// Ops returns the number of Replace and Append calls.
func (s *BufferSurface) Ops() (replaces, appends int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaces, s.appends
}

// FileSurface mirrors the preview into a file that a browser can reload.
// Replace writes a temporary file and renames it over the target so
// readers never observe a partially written document.
type FileSurface struct {
	mu   sync.Mutex
	path string
}

// NewFileSurface creates a surface writing to path. The parent directory
// is created if needed and the file is truncated.
func NewFileSurface(path string) (*FileSurface, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create preview dir: %w", err)
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		return nil, fmt.Errorf("create preview file: %w", err)
	}
	return &FileSurface{path: path}, nil
}

// Path returns the preview file path.
func (s *FileSurface) Path() string {
	return s.path
}

// Replace implements Surface.
func (s *FileSurface) Replace(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".preview-*")
	if err != nil {
		return fmt.Errorf("preview temp file: %w", err)
	}
	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write preview: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close preview: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace preview: %w", err)
	}
	return nil
}

// Append implements Surface.
func (s *FileSurface) Append(fragment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open preview: %w", err)
	}
	if _, err := f.WriteString(fragment); err != nil {
		_ = f.Close()
		return fmt.Errorf("append preview: %w", err)
	}
	return f.Close()
}

// MultiSurface fans updates out to several surfaces. Every surface is
// updated even when an earlier one fails; the first error is returned.
type MultiSurface []Surface

// Replace implements Surface.
func (m MultiSurface) Replace(content string) error {
	var first error
	for _, s := range m {
		if err := s.Replace(content); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Append implements Surface.
func (m MultiSurface) Append(fragment string) error {
	var first error
	for _, s := range m {
		if err := s.Append(fragment); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type discardSurface struct{}

func (discardSurface) Replace(string) error { return nil }
func (discardSurface) Append(string) error  { return nil }

// Discard is a surface that drops every update.
var Discard Surface = discardSurface{}
