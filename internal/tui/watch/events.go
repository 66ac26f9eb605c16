package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/akl/internal/notify"
)

const streamLines = 10

func renderEventStream(eventLog []notify.Notification, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("NOTIFICATIONS"),
			theme.Dim.Render("  Waiting for notifications..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, n := range eventLog {
		if i >= streamLines {
			break
		}
		lines = append(lines, formatNotification(n, theme))
	}

	text := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("NOTIFICATIONS"),
		text,
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatNotification(n notify.Notification, theme Theme) string {
	ts := theme.Dim.Render(n.At.Format("15:04:05"))
	l := label(n.Method)
	name := styleFor(l, theme).Render(fmt.Sprintf("%-22s", l))
	return fmt.Sprintf("%s %s %s", ts, name, describe(n))
}

// describeKeys are the payload fields worth showing, in display order.
var describeKeys = []string{"romcollection_id", "rom_id", "launcher_id", "scanner_id", "akl_addon_id", "addon_id", "count"}

func describe(n notify.Notification) string {
	data := make(map[string]any)
	_ = json.Unmarshal(n.Data, &data)

	var parts []string
	for _, key := range describeKeys {
		v, ok := data[key]
		if !ok || v == nil {
			continue
		}
		s := fmt.Sprint(v)
		if len(s) > 8 && key != "count" {
			s = s[:8]
		}
		parts = append(parts, key+"="+s)
	}
	if len(parts) == 0 {
		raw := string(n.Data)
		if len(raw) > 60 {
			raw = raw[:57] + "..."
		}
		return raw
	}
	return strings.Join(parts, " ")
}
