// Package protect owns the persisted "protection mode" flag
package protect

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// DefaultStateFile is where the flag lives when no path is configured
const DefaultStateFile = "protect_state.json"

// fileState is the on-disk shape
type fileState struct {
	IsProtected bool `json:"is_protected"`
}

// State is the protection flag shared between the request layer and the
// link reader. The in-memory value is authoritative between Load calls;
// the file is written after every mutation, last writer wins.
type State struct {
	enabled atomic.Bool
	path    string
	mu      sync.Mutex // serializes mutate+persist within this process
	log     zerolog.Logger
}

// NewState creates a state persisted at path (empty path keeps it in memory only)
func NewState(path string, logger zerolog.Logger) *State {
	return &State{
		path: path,
		log:  logger.With().Str("component", "protect").Logger(),
	}
}

// Enabled returns the current flag
func (s *State) Enabled() bool {
	return s.enabled.Load()
}

// Load refreshes the flag from disk.
// A missing file means false. An unreadable or corrupt file also means
// false and is reported.
func (s *State) Load() error {
	if s.path == "" {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.enabled.Store(false)
		return nil
	}
	if err != nil {
		s.enabled.Store(false)
		return fmt.Errorf("read protect state %s: %w", s.path, err)
	}

	var st fileState
	if err := json.Unmarshal(data, &st); err != nil {
		s.enabled.Store(false)
		return fmt.Errorf("parse protect state %s: %w", s.path, err)
	}
	s.enabled.Store(st.IsProtected)
	return nil
}

// Set stores v and persists it
func (s *State) Set(v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enabled.Store(v)
	return s.save(v)
}

// Toggle flips the flag, persists it, and returns the new value.
// The in-memory flip stands even if persisting fails.
func (s *State) Toggle() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := !s.enabled.Load()
	s.enabled.Store(v)
	s.log.Info().Bool("protected", v).Msg("protection toggled")
	return v, s.save(v)
}

func (s *State) save(v bool) error {
	if s.path == "" {
		return nil
	}

	data, err := json.Marshal(fileState{IsProtected: v})
	if err != nil {
		return err
	}

	// Write to a sibling temp file and rename so readers never see a torn file
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".protect-*")
	if err != nil {
		return fmt.Errorf("save protect state: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("save protect state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save protect state: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("save protect state: %w", err)
	}
	return nil
}

// Path returns the backing file path
func (s *State) Path() string {
	return s.path
}
