// Package statefile persists the instance registry as a JSON document
// on local disk. It is the default state backend; the database package
// provides the SQLite alternative.
package statefile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/eaglenode/vpsd/vps"
)

// Store reads and writes the full registry snapshot to a single file.
// Writes go through a temp file plus rename so a crash mid-write never
// leaves a torn document behind.
type Store struct {
	path string
}

// New creates a store writing to path. The parent directory is
// created on demand.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load returns the last saved snapshot. A missing file is not an
// error; it yields an empty registry.
func (s *Store) Load() (map[string]vps.Record, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]vps.Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", s.path, err)
	}
	var records map[string]vps.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", s.path, err)
	}
	if records == nil {
		records = map[string]vps.Record{}
	}
	return records, nil
}

// Save overwrites the state file with the given snapshot.
func (s *Store) Save(records map[string]vps.Record) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}
