// Package checkpoint persists the crawl dataset between runs.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// ErrCorrupt is returned by Read when the stored document cannot be parsed.
var ErrCorrupt = errors.New("checkpoint corrupt")

// Store reads and writes a dataset as an indented JSON document.
type Store struct {
	path   string
	logger *slog.Logger
}

// NewStore returns a store backed by path.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger.With("checkpoint", path)}
}

// Path returns the file the store writes.
func (s *Store) Path() string { return s.path }

// Read loads the stored dataset. A missing file yields an empty dataset; an
// unparsable one yields an error matching ErrCorrupt.
func (s *Store) Read() (*Dataset, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewDataset(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	ds := NewDataset()
	if err := json.Unmarshal(data, ds); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return ds, nil
}

// Load is Read that never fails: unreadable or corrupt state is logged and
// replaced by an empty dataset.
func (s *Store) Load() *Dataset {
	ds, err := s.Read()
	if err != nil {
		s.logger.Warn("ignoring unreadable checkpoint, starting empty", "error", err)
		return NewDataset()
	}
	if ds.Len() > 0 {
		s.logger.Info("checkpoint loaded", "children", ds.Len(), "items", ds.ItemCount())
	}
	return ds
}

// Save writes ds atomically: a temp file in the target directory is renamed
// over the previous document.
func (s *Store) Save(ds *Dataset) error {
	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	committed = true

	s.logger.Debug("checkpoint saved", "children", ds.Len(), "bytes", len(data))
	return nil
}
