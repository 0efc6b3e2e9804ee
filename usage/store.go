package usage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// MemoryStore keeps totals in memory. Useful for tests and --no-persist runs.
type MemoryStore struct {
	mu     sync.Mutex
	totals Totals
	saves  int
	err    error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements Store.
func (s *MemoryStore) Load(context.Context) (Totals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totals.clone(), nil
}

// Save implements Store. It fails with the error set by FailWith.
func (s *MemoryStore) Save(_ context.Context, t Totals) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.totals = t.clone()
	s.saves++
	return nil
}

// FailWith makes subsequent saves fail with err (nil restores saving).
func (s *MemoryStore) FailWith(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Saves returns the number of successful saves.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

// fileFormatVersion is bumped when the encoded layout changes incompatibly.
const fileFormatVersion = 1

// fileEnvelope is the msgpack document written by FileStore.
type fileEnvelope struct {
	Version int    `msgpack:"version"`
	Totals  Totals `msgpack:"totals"`
}

// FileStore persists totals as a msgpack file. Writes go to a temporary
// file that is renamed over the target, so a crash never leaves a
// truncated totals file behind.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a store at path. The directory is created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// DefaultPath returns ~/.vellum/usage.msgpack.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".vellum", "usage.msgpack"), nil
}

// Load implements Store.
func (s *FileStore) Load(context.Context) (Totals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Totals{}, nil
	}
	if err != nil {
		return Totals{}, fmt.Errorf("read %s: %w", s.path, err)
	}

	var env fileEnvelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return Totals{}, fmt.Errorf("decode %s: %w", s.path, err)
	}
	if env.Version != fileFormatVersion {
		return Totals{}, fmt.Errorf("decode %s: unsupported format version %d", s.path, env.Version)
	}
	return env.Totals, nil
}

// Save implements Store.
func (s *FileStore) Save(_ context.Context, t Totals) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := msgpack.Marshal(&fileEnvelope{Version: fileFormatVersion, Totals: t})
	if err != nil {
		return fmt.Errorf("encode usage totals: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".usage-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write usage totals: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("sync usage totals: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close usage totals: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }

// Verify stores implement Store.
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*FileStore)(nil)
)
