// Package persona persists the device's personality: a set of named
// personas, each with base instructions and user-requested trait
// adjustments layered on top.
package persona

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Persona is one named personality.
type Persona struct {
	// Base is the persona's core instruction prompt.
	Base string `json:"base"`

	// Traits are user-requested adjustments, keyed by trait name.
	Traits map[string]string `json:"traits,omitempty"`
}

// storeData is the JSON structure for the store file.
type storeData struct {
	Version   int                `json:"version"`
	UpdatedAt string             `json:"updated_at"`
	Active    string             `json:"active"`
	Personas  map[string]Persona `json:"personas"`
}

const currentVersion = 1

// Store is a JSON-file-backed persona store.
type Store struct {
	path string

	mu       sync.RWMutex
	active   string
	personas map[string]Persona
}

// NewStore opens (or initializes) the store at path. A missing file
// starts with a single "default" persona using defaultBase.
func NewStore(path, defaultBase string) (*Store, error) {
	s := &Store{
		path:     path,
		active:   "default",
		personas: map[string]Persona{"default": {Base: defaultBase}},
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("persona: create directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("persona: read store: %w", err)
	}

	var stored storeData
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("persona: parse store: %w", err)
	}
	if len(stored.Personas) == 0 {
		return fmt.Errorf("persona: store has no personas")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.personas = stored.Personas
	if _, ok := s.personas[stored.Active]; ok {
		s.active = stored.Active
	}
	return nil
}

// save writes the store to disk via a temp file rename.
func (s *Store) save() error {
	stored := storeData{
		Version:   currentVersion,
		UpdatedAt: time.Now().Format(time.RFC3339),
		Active:    s.active,
		Personas:  s.personas,
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("persona: marshal store: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("persona: write store: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("persona: replace store: %w", err)
	}
	return nil
}

// Active returns the active persona's name.
func (s *Store) Active() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Instructions renders the active persona: the base prompt followed by
// its trait adjustments in stable order.
func (s *Store) Instructions() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := s.personas[s.active]
	if len(p.Traits) == 0 {
		return p.Base
	}

	names := make([]string, 0, len(p.Traits))
	for name := range p.Traits {
		names = append(names, name)
	}
	sort.Strings(names)

	out := p.Base
	for _, name := range names {
		out += fmt.Sprintf("\n\nPersonality adjustment (%s): %s", name, p.Traits[name])
	}
	return out
}

// UpdateTrait records an adjustment on the active persona and persists
// it. Re-updating a trait replaces the earlier instruction.
func (s *Store) UpdateTrait(trait, instruction string) error {
	if trait == "" || instruction == "" {
		return fmt.Errorf("persona: trait and instruction are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.personas[s.active]
	if p.Traits == nil {
		p.Traits = make(map[string]string)
	}
	p.Traits[trait] = instruction
	s.personas[s.active] = p
	return s.save()
}

// Switch makes a named persona active and persists the choice.
func (s *Store) Switch(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.personas[name]; !ok {
		return fmt.Errorf("persona: unknown persona %q", name)
	}
	s.active = name
	return s.save()
}

// Define adds or replaces a named persona.
func (s *Store) Define(name string, p Persona) error {
	if name == "" {
		return fmt.Errorf("persona: name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.personas[name] = p
	return s.save()
}
