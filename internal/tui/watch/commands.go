package watch

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/akl/internal/command"
	"github.com/mattjoyce/akl/internal/notify"
)

// CommandState counts notifications seen for one method.
type CommandState struct {
	Label  string
	Method string
	Sender string
	Count  int
	LastAt time.Time
}

// label names a notification by its command when the method is in the
// command namespace.
func label(method string) string {
	if name, err := command.FromMethod(method); err == nil {
		return name.String()
	}
	return method
}

func updateCommandState(states map[string]*CommandState, n notify.Notification) {
	st, ok := states[n.Method]
	if !ok {
		st = &CommandState{Label: label(n.Method), Method: n.Method}
		states[n.Method] = st
	}
	st.Count++
	st.Sender = n.Sender
	if n.At.After(st.LastAt) {
		st.LastAt = n.At
	}
}

// sortedCommands orders by most recent activity, then label.
func sortedCommands(states map[string]*CommandState) []*CommandState {
	out := make([]*CommandState, 0, len(states))
	for _, st := range states {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastAt.Equal(out[j].LastAt) {
			return out[i].LastAt.After(out[j].LastAt)
		}
		return out[i].Label < out[j].Label
	})
	return out
}

func renderCommands(states map[string]*CommandState, selected int, theme Theme, width int) string {
	innerWidth := width - 4
	if len(states) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("COMMANDS"),
			theme.Dim.Render("  No commands yet"),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	lines := []string{theme.Header.Render(fmt.Sprintf("  %-24s %-12s %6s  %s", "COMMAND", "SENDER", "COUNT", "LAST"))}
	for i, st := range sortedCommands(states) {
		line := fmt.Sprintf("%-24s %-12s %6d  %s", st.Label, st.Sender, st.Count, st.LastAt.Format("15:04:05"))
		if i == selected {
			line = theme.Selected.Render("> " + line)
		} else {
			line = "  " + styleFor(st.Label, theme).Render(line)
		}
		lines = append(lines, line)
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("COMMANDS"),
		strings.Join(lines, "\n"),
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func styleFor(label string, theme Theme) lipgloss.Style {
	switch {
	case strings.HasSuffix(label, "_FINISHED"):
		return theme.StatusOK
	case strings.HasPrefix(label, "STORE_"), strings.HasPrefix(label, "SET_"):
		return theme.Highlight
	case label == command.ExecuteROM.String(),
		label == command.ScanROMs.String(),
		strings.HasPrefix(label, "SCRAPE_"):
		return theme.StatusRunning
	default:
		return theme.Dim
	}
}
