// Package filestore persists stack snapshots as JSON documents, one file
// per stack id.
package filestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gimlelabs/hugin/internal/logging"
	"github.com/gimlelabs/hugin/internal/stack"
)

// Store reads and writes stack snapshots under a base directory.
type Store struct {
	baseDir string
	logger  logging.Logger
}

// New creates a store rooted at baseDir, expanding a leading ~/ and
// creating the directory when missing.
func New(baseDir string, logger logging.Logger) (*Store, error) {
	if strings.HasPrefix(baseDir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		baseDir = filepath.Join(home, baseDir[2:])
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	return &Store{
		baseDir: baseDir,
		logger:  logging.OrNop(logger),
	}, nil
}

func (s *Store) path(stackID string) string {
	return filepath.Join(s.baseDir, stackID+".json")
}

// Save writes the snapshot, replacing any previous one for the same stack.
// The write goes through a temp file and rename so readers never observe a
// torn document.
func (s *Store) Save(snap stack.Snapshot) error {
	if snap.ID == "" {
		return fmt.Errorf("snapshot missing stack id")
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", snap.ID, err)
	}

	tmp, err := os.CreateTemp(s.baseDir, snap.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write snapshot %s: %w", snap.ID, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close snapshot %s: %w", snap.ID, err)
	}
	if err := os.Rename(tmpPath, s.path(snap.ID)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("publish snapshot %s: %w", snap.ID, err)
	}

	s.logger.Debug("saved snapshot %s (%d records)", snap.ID, len(snap.Records))
	return nil
}

// Load reads and validates the snapshot for the given stack id and rebuilds
// the stack from it.
func (s *Store) Load(stackID string, logger logging.Logger) (*stack.Stack, error) {
	snap, err := s.LoadSnapshot(stackID)
	if err != nil {
		return nil, err
	}
	return stack.FromSnapshot(snap, logger)
}

// LoadSnapshot reads the raw snapshot document for the given stack id.
func (s *Store) LoadSnapshot(stackID string) (stack.Snapshot, error) {
	data, err := os.ReadFile(s.path(stackID))
	if err != nil {
		return stack.Snapshot{}, fmt.Errorf("snapshot not found: %s", stackID)
	}
	var snap stack.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return stack.Snapshot{}, fmt.Errorf("decode snapshot %s: %w", stackID, err)
	}
	if snap.ID != stackID {
		return stack.Snapshot{}, fmt.Errorf("snapshot %s declares id %s", stackID, snap.ID)
	}
	return snap, nil
}

// List returns the stack ids with a persisted snapshot, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read snapshot directory: %w", err)
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}
