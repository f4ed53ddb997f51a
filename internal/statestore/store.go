// Package statestore is the durable, crash-safe record of job, restore, and
// delete outcomes that external tooling and the HTTP API observe truth
// through across daemon restarts (spec.md §4.2). Each record is its own
// YAML-encoded file in the store directory; writes are always
// write-temp-then-rename; reads tolerate truncated or unparsable files by
// treating them as absent, never by panicking mid-scan.
package statestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned by Get when key has no record.
var ErrNotFound = errors.New("statestore: not found")

// Store is a directory of small record files.
type Store struct {
	dir string
}

// New returns a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("statestore: failed to create %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key)
}

// Put replaces the full content of key's record with v, write-temp-then-rename.
func (s *Store) Put(key string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("statestore: failed to marshal %s: %w", key, err)
	}
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("statestore: failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("statestore: failed to write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path(key))
}

// Get decodes key's record into v. Returns ErrNotFound if the file is
// absent. A corrupt (truncated/unparsable) record is also reported as
// ErrNotFound, per spec.md §4.2's "reads tolerate truncation".
func (s *Store) Get(key string, v any) error {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("statestore: failed to read %s: %w", key, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return ErrNotFound
	}
	return nil
}

// Delete removes key's record. Deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("statestore: failed to delete %s: %w", key, err)
	}
	return nil
}

// Entry describes one listed record's key and modification time.
type Entry struct {
	Key     string
	ModTime time.Time
}

// List returns the keys of every record whose name starts with prefix,
// sorted by modification time descending (spec.md §4.2).
func (s *Store) List(prefix string) ([]Entry, error) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("statestore: failed to list %s: %w", s.dir, err)
	}

	var entries []Entry
	for _, d := range dirents {
		if d.IsDir() || !strings.HasPrefix(d.Name(), prefix) {
			continue
		}
		info, err := d.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{Key: d.Name(), ModTime: info.ModTime()})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ModTime.After(entries[j].ModTime)
	})
	return entries, nil
}

// MarkReload creates the .reload_config marker file. The scheduler removes
// it after reloading on its next tick (spec.md §4.2/§4.7).
func (s *Store) MarkReload() error {
	return os.WriteFile(s.path(".reload_config"), []byte(time.Now().UTC().Format(time.RFC3339)), 0o644)
}

// ReloadRequested reports whether the .reload_config marker is present.
func (s *Store) ReloadRequested() bool {
	_, err := os.Stat(s.path(".reload_config"))
	return err == nil
}

// ClearReload removes the .reload_config marker.
func (s *Store) ClearReload() error {
	return s.Delete(".reload_config")
}
