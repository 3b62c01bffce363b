package checkpoint

// ============================================================================
// Responsibilities:
// 1. Persist the set of usernames that finished successfully
// 2. Atomic writes (temp file + rename) so readers never see a partial file
// 3. Read-modify-write under one lock so concurrent workers never lose updates
// 4. Absent file means a first run: empty set
// ============================================================================

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ============================================================================
// Errors
// ============================================================================

var (
	ErrCorruptedCheckpoint = errors.New("checkpoint file is corrupted")
	ErrEmptyUsername       = errors.New("checkpoint: empty username")
)

// ============================================================================
// Data structures
// ============================================================================

// Set is the collection of completed usernames.
type Set map[string]struct{}

// Contains reports whether username was completed.
func (s Set) Contains(username string) bool {
	_, ok := s[username]
	return ok
}

// Sorted returns the usernames in ascending order.
func (s Set) Sorted() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Store is the on-disk checkpoint: a JSON array of completed usernames.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a checkpoint store backed by path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// GetPath returns the backing file path.
func (s *Store) GetPath() string {
	return s.path
}

// Load reads the persisted set. A missing file yields an empty set.
func (s *Store) Load() (Set, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

// MarkComplete adds username to the persisted set.
//
// The whole set is re-read inside the critical section, so an update made by
// another worker between Load and MarkComplete is never overwritten.
func (s *Store) MarkComplete(username string) error {
	if username == "" {
		return ErrEmptyUsername
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	set, err := s.readLocked()
	if err != nil {
		return err
	}
	if set.Contains(username) {
		return nil
	}
	set[username] = struct{}{}

	return s.writeLocked(set)
}

func (s *Store) readLocked() (Set, error) {
	set := make(Set)

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return set, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptedCheckpoint, err)
	}
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set, nil
}

// writeLocked persists set atomically:
//  1. write a temp file next to the target
//  2. fsync it
//  3. rename over the target
func (s *Store) writeLocked(set Set) error {
	data, err := json.MarshalIndent(set.Sorted(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp checkpoint: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp checkpoint: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename checkpoint: %w", err)
	}
	return nil
}
