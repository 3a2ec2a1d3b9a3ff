package tui

import (
	coreapp "codegraph/internal/core/app"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

func sampleStats() coreapp.Stats {
	return coreapp.Stats{
		Revision:        7,
		Files:           2,
		Symbols:         5,
		Relationships:   3,
		Unresolved:      1,
		SymbolsByKind:   map[string]int{"function": 4, "module": 1},
		RelationsByKind: map[string]int{"calls": 3},
		FilesByLanguage: map[string]int{"go": 2},
		StaleFiles:      []string{"broken.go"},
		PendingRebuilds: []string{"lost.go"},
	}
}

func TestModel_StatsPopulatePanels(t *testing.T) {
	m := newModel(sampleStats, time.Second)
	updated, _ := m.Update(statsMsg(sampleStats()))
	got := updated.(model)

	if n := len(got.breakdown.Items()); n != 4 {
		t.Fatalf("expected 4 breakdown items, got %d", n)
	}
	if n := len(got.stale.Items()); n != 2 {
		t.Fatalf("expected 2 stale items, got %d", n)
	}
	view := got.View()
	for _, want := range []string{"revision 7", "1 stale", "1 unresolved"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
}

func TestModel_Keys(t *testing.T) {
	m := newModel(sampleStats, time.Second)

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	if updated.(model).mode != panelStale {
		t.Fatal("tab should switch to the stale panel")
	}

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("q should return a quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("q should quit")
	}

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	if cmd == nil {
		t.Fatal("r should refresh")
	}
	if msg, ok := cmd().(statsMsg); !ok || msg.Revision != 7 {
		t.Fatalf("unexpected refresh message %#v", msg)
	}
}
