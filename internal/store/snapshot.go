package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ampprint/ampprint/internal/pattern"
)

// snapshotVersion guards against loading snapshots written by an
// incompatible future format.
const snapshotVersion = 1

// DefaultSnapshotPath is the default group-collection snapshot location.
const DefaultSnapshotPath = "~/.ampprint/patterns.json"

// snapshotEnvelope is the on-disk shape of a collection snapshot.
type snapshotEnvelope struct {
	Version  int                `json:"version"`
	SavedAt  time.Time          `json:"saved_at"`
	Patterns []*pattern.Pattern `json:"patterns"`
}

// SnapshotFile persists the in-memory group collection as JSON. Saves are
// atomic: the snapshot is written aside and renamed into place, so a crash
// mid-write leaves the previous snapshot intact rather than a torn file.
type SnapshotFile struct {
	path string
}

// NewSnapshotFile returns a snapshot file at path ("" uses the default).
func NewSnapshotFile(path string) *SnapshotFile {
	if path == "" {
		path = expandPath(DefaultSnapshotPath)
	}
	return &SnapshotFile{path: path}
}

// Path returns the snapshot location.
func (f *SnapshotFile) Path() string { return f.path }

// Save writes the collection to disk atomically.
func (f *SnapshotFile) Save(patterns []*pattern.Pattern) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}

	data, err := json.MarshalIndent(snapshotEnvelope{
		Version:  snapshotVersion,
		SavedAt:  time.Now().UTC(),
		Patterns: patterns,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating snapshot temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing snapshot temp file: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing snapshot: %w", err)
	}
	return nil
}

// Load reads the collection back. A missing file is an empty collection,
// not an error; a fresh install has no snapshot yet.
func (f *SnapshotFile) Load() ([]*pattern.Pattern, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}

	var env snapshotEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	if env.Version != snapshotVersion {
		return nil, fmt.Errorf("snapshot version %d not supported", env.Version)
	}
	return env.Patterns, nil
}
