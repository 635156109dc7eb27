package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"sentimentflow/logger"
)

// ErrNotFound is returned by Load when no blob exists under the given name.
var ErrNotFound = errors.New("blob not found")

// Store persists named JSON blobs under a single directory. Writes go
// through a temp file and a rename so a crash mid-write never leaves a
// partial blob behind.
type Store struct {
	dir string
	log *logger.Log
}

func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir %s: %w", dir, err)
	}
	return &Store{dir: dir, log: logger.GetLogger()}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Save marshals v and atomically replaces the blob stored under name.
func (s *Store) Save(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}

	target := s.path(name)
	tmp, err := os.CreateTemp(s.dir, name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file for %s: %w", name, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}

	logger.IncrementStoreWrite(len(data))
	s.log.WithComponent("store").WithFields(logger.Fields{
		"name":  name,
		"bytes": len(data),
	}).Debug("blob saved")
	return nil
}

// Load unmarshals the blob stored under name into v. Absence is reported as
// ErrNotFound so callers can treat it as "no state yet".
func (s *Store) Load(name string, v interface{}) error {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return nil
}
