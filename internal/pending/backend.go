package pending

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// MemBackend keeps blobs in memory. Tests use it; so does any client that
// does not need the queue to outlive the process.
type MemBackend struct {
	mu    sync.Mutex
	blobs map[string][]byte
	// Err, when set, is returned by every call.
	Err error
}

func NewMemBackend() *MemBackend {
	return &MemBackend{blobs: map[string][]byte{}}
}

func (m *MemBackend) Load(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	data, ok := m.blobs[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), data...), nil
}

func (m *MemBackend) Store(key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.blobs[key] = append([]byte(nil), data...)
	return nil
}

// FileBackend stores each key as <dir>/<key>.json. Writes go to a temp file
// and are renamed into place; an advisory lock per key keeps two client
// processes on the same device from interleaving a read-modify-write.
type FileBackend struct {
	dir string
}

func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("opening pending dir: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

func (f *FileBackend) path(key string) string {
	return filepath.Join(f.dir, key+".json")
}

func (f *FileBackend) Load(key string) ([]byte, error) {
	lock := flock.New(f.path(key) + ".lock")
	if err := lock.RLock(); err != nil {
		return nil, fmt.Errorf("locking %s: %w", key, err)
	}
	defer lock.Unlock() //nolint:errcheck // released on close regardless

	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

func (f *FileBackend) Store(key string, data []byte) error {
	lock := flock.New(f.path(key) + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("locking %s: %w", key, err)
	}
	defer lock.Unlock() //nolint:errcheck // released on close regardless

	tmp := f.path(key) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.path(key))
}
