// Package tui shows the persisted tab states in a live terminal table.
package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/lotas/tabsidebar/internal/storage"
	"github.com/lotas/tabsidebar/internal/types"
)

// Lister reads the persisted tab records.
type Lister interface {
	List(ctx context.Context) ([]storage.Record, error)
}

// --- Messages ---

type recordsLoadedMsg struct {
	records []storage.Record
	err     error
	at      time.Time
}

type tickMsg time.Time

// --- Model ---

type Model struct {
	lister   Lister
	interval time.Duration
	source   string

	records     []storage.Record
	err         error
	loading     bool
	lastRefresh time.Time

	view   TabsView
	width  int
	height int
}

// NewModel returns a Model polling lister every interval. source names the
// backend in the top bar.
func NewModel(lister Lister, interval time.Duration, source string) Model {
	return Model{
		lister:   lister,
		interval: interval,
		source:   source,
		loading:  true,
	}
}

func (m Model) loadRecords() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		records, err := m.lister.List(ctx)
		return recordsLoadedMsg{records: records, err: err, at: time.Now()}
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.loadRecords(), m.tick())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.view.Width = msg.Width
		m.view.Height = msg.Height - 2 // top and bottom bars
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			m.loading = true
			return m, m.loadRecords()
		case "up", "k":
			m.view.MoveUp()
		case "down", "j":
			m.view.MoveDown(len(m.records))
		}
		return m, nil

	case recordsLoadedMsg:
		m.loading = false
		m.err = msg.err
		if msg.err == nil {
			m.records = msg.records
			m.lastRefresh = msg.at
			m.view.Clamp(len(m.records))
		}
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.loadRecords(), m.tick())
	}
	return m, nil
}

func (m Model) View() string {
	topBarStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	bottomBarStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Padding(0, 1)

	counts := Summary(m.records)
	status := fmt.Sprintf("%d tabs · %d active · %d inactive", len(m.records), counts[types.Active], counts[types.Inactive])
	if m.loading {
		status += " · refreshing..."
	}
	topBar := topBarStyle.Render("tabsidebar (" + m.source + ")  " + status)

	var body string
	if m.err != nil {
		body = erroredStyle.Render(fmt.Sprintf("  Error: %v", m.err))
	} else {
		body = m.view.View(m.records)
	}

	refreshed := "never"
	if !m.lastRefresh.IsZero() {
		refreshed = m.lastRefresh.Format("15:04:05")
	}
	bottomBar := bottomBarStyle.Render("↑↓/jk navigate · r refresh · q quit  [updated " + refreshed + "]")

	return lipgloss.JoinVertical(lipgloss.Left, topBar, body, bottomBar)
}
