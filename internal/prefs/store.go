// Package prefs persists the selected capture device and format across runs.
package prefs

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"github.com/smazurov/vidcap/internal/media"
)

const currentVersion = 1

// Selection is the remembered device and the format requested for it.
type Selection struct {
	DeviceID string              `toml:"device_id"`
	Format   media.FormatRequest `toml:"format,omitempty"`
}

type document struct {
	Version   int       `toml:"version"`
	Selection Selection `toml:"selection"`
}

// Store keeps a Selection in a TOML file. Safe for concurrent use.
type Store struct {
	path string

	mu  sync.Mutex
	sel Selection
}

func NewStore(path string) *Store {
	if path == "" {
		path = "prefs.toml"
	}
	return &Store{path: path}
}

func (s *Store) Path() string { return s.path }

// Load reads the file into the store. A missing file is an empty selection.
func (s *Store) Load() (Selection, error) {
	sel, err := LoadFile(s.path)
	if err != nil && !os.IsNotExist(err) {
		return Selection{}, err
	}
	s.mu.Lock()
	s.sel = sel
	s.mu.Unlock()
	return sel, nil
}

// Selection returns the last loaded or saved selection.
func (s *Store) Selection() Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sel
}

// SaveSelection records deviceID and format and writes the file.
func (s *Store) SaveSelection(deviceID string, format media.FormatRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sel := Selection{DeviceID: deviceID, Format: format}
	if err := writeFile(s.path, sel); err != nil {
		return err
	}
	s.sel = sel
	return nil
}

// SaveDevice records deviceID as the selected device. The stored format
// survives when deviceID is already the selected device, and the file is
// not rewritten; a different device starts with no format.
func (s *Store) SaveDevice(deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sel.DeviceID == deviceID {
		return nil
	}
	sel := Selection{DeviceID: deviceID}
	if err := writeFile(s.path, sel); err != nil {
		return err
	}
	s.sel = sel
	return nil
}

func (s *Store) set(sel Selection) {
	s.mu.Lock()
	s.sel = sel
	s.mu.Unlock()
}

// LoadFile parses a preferences file. The error for a missing file
// satisfies os.IsNotExist.
func LoadFile(path string) (Selection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Selection{}, err
	}
	var doc document
	if err := toml.Unmarshal(data, &doc); err != nil {
		return Selection{}, fmt.Errorf("failed to parse preferences %s: %w", path, err)
	}
	if doc.Version > currentVersion {
		return Selection{}, fmt.Errorf("preferences %s: unsupported version %d", path, doc.Version)
	}
	return doc.Selection, nil
}

func writeFile(path string, sel Selection) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create preferences directory: %w", err)
	}
	data, err := toml.Marshal(document{Version: currentVersion, Selection: sel})
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	return nil
}
