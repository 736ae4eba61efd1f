// Package pausestate persists the global SYSTEM_PAUSED switch to disk so
// it survives a process restart (spec §5, §8.2), grounded on
// system_control.py's SystemControl class. Writes are atomic
// (write-temp-then-rename) so a concurrent reader never observes a
// partially-written file.
package pausestate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// State is the on-disk pause record (spec §6 "Persisted state on disk").
type State struct {
	Paused    bool       `json:"paused"`
	PausedAt  *time.Time `json:"paused_at"`
	PausedBy  string     `json:"paused_by"`
	Reason    string     `json:"reason"`
	ResumedAt *time.Time `json:"resumed_at"`
	ResumedBy string     `json:"resumed_by"`
}

// Store reads and atomically rewrites the pause-state file. All methods
// are safe for concurrent use.
type Store struct {
	path string
	mu   sync.Mutex
}

// New builds a Store backed by path. The file is created lazily on first
// Pause/Resume call; until then IsPaused reports false.
func New(path string) *Store {
	return &Store{path: path}
}

// IsPaused reports the current SYSTEM_PAUSED value, re-reading the file
// on every call per spec §8.2 ("read on each gate check").
func (s *Store) IsPaused() bool {
	st, err := s.load()
	if err != nil {
		return false
	}
	return st.Paused
}

// Get returns the full persisted state.
func (s *Store) Get() (State, error) {
	return s.load()
}

// Pause marks the system paused and persists the change atomically.
func (s *Store) Pause(reason, pausedBy string) (State, error) {
	if pausedBy == "" {
		pausedBy = "manual"
	}
	if reason == "" {
		reason = "Pausa manual"
	}
	now := time.Now()
	st := State{Paused: true, PausedAt: &now, PausedBy: pausedBy, Reason: reason}
	return st, s.save(st)
}

// Resume marks the system active again.
func (s *Store) Resume(resumedBy string) (State, error) {
	if resumedBy == "" {
		resumedBy = "manual"
	}
	now := time.Now()
	st := State{Paused: false, ResumedAt: &now, ResumedBy: resumedBy}
	return st, s.save(st)
}

func (s *Store) load() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("pausestate: read %s: %w", s.path, err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("pausestate: decode %s: %w", s.path, err)
	}
	return st, nil
}

// save writes st to a temp file in the same directory, then renames it
// over the target path, so readers never see a partial write (spec §8.2).
func (s *Store) save(st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("pausestate: encode: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".pausestate-*.tmp")
	if err != nil {
		return fmt.Errorf("pausestate: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("pausestate: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("pausestate: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("pausestate: rename temp file: %w", err)
	}
	return nil
}
