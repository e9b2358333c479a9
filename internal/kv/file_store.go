package kv

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// fileStore persists every write through to a JSON snapshot on disk so that
// state survives a process interruption immediately after Set returns.
type fileStore struct {
	*memoryStore
	path string
}

// NewFileStore loads the snapshot at path (if any) and returns a Store that
// rewrites the snapshot on every mutation. The parent directory is created
// as needed.
func NewFileStore(path string) (Store, error) {
	if path == "" {
		return nil, errors.New("kv: snapshot path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("kv: create snapshot dir: %w", err)
	}
	mem := &memoryStore{values: map[string]string{}}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var values map[string]string
		if err := json.Unmarshal(data, &values); err != nil {
			return nil, fmt.Errorf("kv: decode snapshot %s: %w", path, err)
		}
		mem.restore(values)
	case errors.Is(err, os.ErrNotExist):
		// first run
	default:
		return nil, fmt.Errorf("kv: read snapshot %s: %w", path, err)
	}
	return &fileStore{memoryStore: mem, path: path}, nil
}

func (s *fileStore) Set(key, value string) error {
	if err := s.memoryStore.Set(key, value); err != nil {
		return err
	}
	return s.flush()
}

func (s *fileStore) Delete(key string) {
	s.memoryStore.Delete(key)
	// deletion durability is best effort; a stale snapshot entry is
	// overwritten by the next write-through
	_ = s.flush()
}

func (s *fileStore) flush() error {
	data, err := json.Marshal(s.snapshot())
	if err != nil {
		return fmt.Errorf("kv: encode snapshot: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("kv: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("kv: replace snapshot: %w", err)
	}
	return nil
}
