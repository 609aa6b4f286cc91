package checkpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/fliupa/cni-scrapy/internal/harvest"
	"github.com/fliupa/cni-scrapy/internal/tabular"
)

// FileStore keeps the checkpoint as a CSV file on local disk.
type FileStore struct {
	path   string
	schema harvest.Schema
	logger *zap.Logger
}

// NewFileStore returns a store writing to path. The parent directory is
// created on the first Save.
func NewFileStore(path string, schema harvest.Schema, logger *zap.Logger) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("checkpoint path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{path: filepath.Clean(path), schema: schema, logger: logger}, nil
}

// Path returns the checkpoint file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the checkpoint. A missing file is an empty checkpoint.
func (s *FileStore) Load(_ context.Context) ([]harvest.Record, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	records, err := tabular.Decode(bytes.NewReader(data), s.schema)
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", s.path, err)
	}
	harvest.SortByIndex(records)
	s.logger.Debug("checkpoint loaded", zap.String("path", s.path), zap.Int("records", len(records)))
	return records, nil
}

// Save overwrites the checkpoint with records, ordered by Index. The file is
// replaced atomically so a crash mid-write leaves the previous checkpoint intact.
func (s *FileStore) Save(_ context.Context, records []harvest.Record) error {
	data, err := tabular.Marshal(s.schema, sorted(records))
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create checkpoint directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	s.logger.Debug("checkpoint saved", zap.String("path", s.path), zap.Int("records", len(records)))
	return nil
}

// Clear removes the checkpoint file. Clearing a missing file is not an error.
func (s *FileStore) Clear(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}

func sorted(records []harvest.Record) []harvest.Record {
	out := append([]harvest.Record(nil), records...)
	harvest.SortByIndex(out)
	return out
}
