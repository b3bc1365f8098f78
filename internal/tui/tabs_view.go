package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/lotas/tabsidebar/internal/storage"
	"github.com/lotas/tabsidebar/internal/types"
)

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))
	cursorStyle   = lipgloss.NewStyle().Bold(true).Reverse(true)
	activeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	inactiveStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	erroredStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

const (
	colTab   = 8
	colState = 10
	colFlag  = 7
	colCount = 7
)

// TabsView renders persisted tab records as a scrolling table.
type TabsView struct {
	cursor int
	offset int
	Width  int
	Height int
}

// MoveUp moves the cursor one row up.
func (v *TabsView) MoveUp() {
	if v.cursor > 0 {
		v.cursor--
	}
	if v.cursor < v.offset {
		v.offset = v.cursor
	}
}

// MoveDown moves the cursor one row down.
func (v *TabsView) MoveDown(rows int) {
	if v.cursor < rows-1 {
		v.cursor++
	}
	if visible := v.visibleRows(); v.cursor >= v.offset+visible {
		v.offset = v.cursor - visible + 1
	}
}

// Clamp keeps the cursor inside a table of rows entries.
func (v *TabsView) Clamp(rows int) {
	if v.cursor >= rows {
		v.cursor = rows - 1
	}
	if v.cursor < 0 {
		v.cursor = 0
	}
	if v.offset > v.cursor {
		v.offset = v.cursor
	}
}

func (v TabsView) visibleRows() int {
	if v.Height <= 1 {
		return 1
	}
	return v.Height - 1 // header
}

func stateCell(s types.State) string {
	label := fmt.Sprintf("%-*s", colState, s)
	switch s {
	case types.Active:
		return activeStyle.Render(label)
	case types.Errored:
		return erroredStyle.Render(label)
	}
	return inactiveStyle.Render(label)
}

func flag(b bool) string {
	if b {
		return fmt.Sprintf("%-*s", colFlag, "yes")
	}
	return dimStyle.Render(fmt.Sprintf("%-*s", colFlag, "-"))
}

func truncate(s string, max int) string {
	if max <= 1 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}

// View renders records.
func (v TabsView) View(records []storage.Record) string {
	if len(records) == 0 {
		return dimStyle.Render("No tabs tracked yet.")
	}

	urlWidth := v.Width - colTab - colState - 2*colFlag - colCount - 1
	if urlWidth < 10 {
		urlWidth = 10
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-*s%-*s%-*s%-*s%-*s%s",
		colTab, "TAB", colState, "STATE", colFlag, "READY", colFlag, "SIDEBAR", colCount, "COUNT", "URL")))

	end := v.offset + v.visibleRows()
	if end > len(records) {
		end = len(records)
	}
	for i := v.offset; i < end; i++ {
		r := records[i]
		b.WriteString("\n")
		if i == v.cursor {
			plain := fmt.Sprintf("%-*d%-*s%-*s%-*s%-*d%s",
				colTab, r.TabID, colState, r.State.State, colFlag, yesNo(r.State.Ready),
				colFlag, yesNo(r.State.Installed), colCount, r.State.AnnotationCount,
				truncate(r.State.URL, urlWidth))
			for len([]rune(plain)) < v.Width {
				plain += " "
			}
			b.WriteString(cursorStyle.Render(plain))
			continue
		}
		b.WriteString(fmt.Sprintf("%-*d", colTab, r.TabID))
		b.WriteString(stateCell(r.State.State))
		b.WriteString(flag(r.State.Ready))
		b.WriteString(flag(r.State.Installed))
		b.WriteString(fmt.Sprintf("%-*d", colCount, r.State.AnnotationCount))
		b.WriteString(truncate(r.State.URL, urlWidth))
	}
	return b.String()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "-"
}

// Summary counts records per state.
func Summary(records []storage.Record) map[types.State]int {
	out := make(map[types.State]int, 3)
	for _, r := range records {
		out[r.State.State]++
	}
	return out
}
