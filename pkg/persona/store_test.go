package persona

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultPersona(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personas.json")
	s, err := NewStore(path, "You are a helpful fish.")
	if err != nil {
		t.Fatal(err)
	}

	if s.Active() != "default" {
		t.Errorf("Active = %q", s.Active())
	}
	if s.Instructions() != "You are a helpful fish." {
		t.Errorf("Instructions = %q", s.Instructions())
	}
}

func TestUpdateTraitPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personas.json")
	s, err := NewStore(path, "Base.")
	if err != nil {
		t.Fatal(err)
	}

	if err := s.UpdateTrait("humor", "tell more puns"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(s.Instructions(), "tell more puns") {
		t.Errorf("Instructions = %q", s.Instructions())
	}

	// a fresh store must see the saved trait
	reopened, err := NewStore(path, "ignored default")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(reopened.Instructions(), "tell more puns") {
		t.Errorf("reopened Instructions = %q", reopened.Instructions())
	}
	if !strings.Contains(reopened.Instructions(), "Base.") {
		t.Errorf("reopened Instructions lost the base: %q", reopened.Instructions())
	}
}

func TestUpdateTraitReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personas.json")
	s, err := NewStore(path, "Base.")
	if err != nil {
		t.Fatal(err)
	}

	if err := s.UpdateTrait("humor", "old"); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateTrait("humor", "new"); err != nil {
		t.Fatal(err)
	}
	instr := s.Instructions()
	if strings.Contains(instr, "old") || !strings.Contains(instr, "new") {
		t.Errorf("Instructions = %q", instr)
	}
}

func TestSwitchPersona(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personas.json")
	s, err := NewStore(path, "Default base.")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Define("pirate", Persona{Base: "Arr."}); err != nil {
		t.Fatal(err)
	}

	if err := s.Switch("pirate"); err != nil {
		t.Fatal(err)
	}
	if s.Instructions() != "Arr." {
		t.Errorf("Instructions = %q", s.Instructions())
	}

	if err := s.Switch("nobody"); err == nil {
		t.Error("switching to an unknown persona must fail")
	}
	if s.Active() != "pirate" {
		t.Errorf("failed switch changed active persona to %q", s.Active())
	}
}
