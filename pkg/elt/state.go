package elt

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/meltworks/melt/pkg/singer"
)

// StateStore persists extractor state checkpoints as one JSON file per
// extractor. The orchestrator treats the contents as opaque.
type StateStore struct {
	dir string
}

// NewStateStore returns a store rooted at dir, typically
// <project>/.melt/state.
func NewStateStore(dir string) *StateStore {
	return &StateStore{dir: dir}
}

func (s *StateStore) path(extractor string) string {
	return filepath.Join(s.dir, extractor+".json")
}

// Load returns the last checkpoint for an extractor, or nil when none
// has been written yet.
func (s *StateStore) Load(extractor string) (*singer.State, error) {
	data, err := os.ReadFile(s.path(extractor))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state for %s: %w", extractor, err)
	}
	var state singer.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("load state for %s: %w", extractor, err)
	}
	return &state, nil
}

// Save writes a checkpoint atomically, so an interrupted run never
// leaves a torn state file behind.
func (s *StateStore) Save(extractor string, state *singer.State) error {
	if state == nil {
		return nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("save state for %s: %w", extractor, err)
	}
	// Compact on purpose: bookmarks are opaque raw JSON from the
	// extractor and must come back byte-for-byte.
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("save state for %s: %w", extractor, err)
	}

	tmp, err := os.CreateTemp(s.dir, extractor+".*.tmp")
	if err != nil {
		return fmt.Errorf("save state for %s: %w", extractor, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("save state for %s: %w", extractor, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save state for %s: %w", extractor, err)
	}
	if err := os.Rename(tmp.Name(), s.path(extractor)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save state for %s: %w", extractor, err)
	}
	return nil
}
