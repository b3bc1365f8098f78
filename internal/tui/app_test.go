package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/lotas/tabsidebar/internal/storage"
	"github.com/lotas/tabsidebar/internal/types"
)

type fakeLister struct {
	records []storage.Record
	err     error
}

func (f fakeLister) List(context.Context) ([]storage.Record, error) {
	return f.records, f.err
}

func sampleRecords() []storage.Record {
	return []storage.Record{
		{TabID: 1, State: types.TabState{State: types.Active, Ready: true, Installed: true, AnnotationCount: 3, URL: "https://example.com/a"}},
		{TabID: 2, State: types.TabState{State: types.Inactive, URL: "https://example.com/b"}},
		{TabID: 3, State: types.TabState{State: types.Inactive}},
	}
}

func TestModelLoadsRecords(t *testing.T) {
	lister := fakeLister{records: sampleRecords()}
	m := NewModel(lister, time.Second, "sqlite")

	msg := m.loadRecords()()
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 20})
	updated, _ = updated.Update(msg)
	view := updated.View()

	if !strings.Contains(view, "3 tabs · 1 active · 2 inactive") {
		t.Errorf("summary missing from view:\n%s", view)
	}
	if !strings.Contains(view, "https://example.com/b") {
		t.Errorf("url missing from view:\n%s", view)
	}
}

func TestModelShowsError(t *testing.T) {
	m := NewModel(fakeLister{err: errors.New("database is locked")}, time.Second, "sqlite")
	updated, _ := m.Update(m.loadRecords()())
	if !strings.Contains(updated.View(), "database is locked") {
		t.Errorf("error not shown:\n%s", updated.View())
	}
}

func TestModelQuit(t *testing.T) {
	m := NewModel(fakeLister{}, time.Second, "file")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not quit")
	}
}

func TestTabsViewCursor(t *testing.T) {
	v := TabsView{Width: 80, Height: 3}
	rows := 5
	for i := 0; i < 10; i++ {
		v.MoveDown(rows)
	}
	if v.cursor != rows-1 {
		t.Errorf("cursor = %d, want %d", v.cursor, rows-1)
	}
	if v.offset != rows-v.visibleRows() {
		t.Errorf("offset = %d, want %d", v.offset, rows-v.visibleRows())
	}
	v.Clamp(2)
	if v.cursor != 1 || v.offset > v.cursor {
		t.Errorf("after clamp cursor=%d offset=%d", v.cursor, v.offset)
	}
	v.MoveUp()
	v.MoveUp()
	if v.cursor != 0 || v.offset != 0 {
		t.Errorf("after moving up cursor=%d offset=%d", v.cursor, v.offset)
	}
}

func TestTabsViewEmpty(t *testing.T) {
	if got := (TabsView{Width: 80, Height: 10}).View(nil); !strings.Contains(got, "No tabs tracked") {
		t.Errorf("empty view = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdef", 4); got != "abc…" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("abc", 4); got != "abc" {
		t.Errorf("truncate short = %q", got)
	}
}
