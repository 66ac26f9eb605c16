package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Status tracks the connection to the receiver.
type Status struct {
	Addr      string
	Connected bool
	Received  int
	LastPoll  time.Time
}

func renderHeader(st Status, ticker Ticker, spinner Spinner, theme Theme, width int, now time.Time) string {
	innerWidth := width - 4

	statusText := theme.StatusOK.Render("CONNECTED")
	if !st.Connected {
		statusText = theme.StatusFailed.Render("CONNECTING")
	}

	lastEventStr := "never"
	if !spinner.LastEvent().IsZero() {
		lastEventStr = fmt.Sprintf("%s ago", formatDuration(now.Sub(spinner.LastEvent())))
	}

	tickerStr := theme.Highlight.Render(ticker.Current())
	clock := theme.Dim.Render(now.Format("15:04:05"))
	titleText := fmt.Sprintf(" AKL WATCH %s", tickerStr)

	pad := innerWidth - lipgloss.Width(titleText) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s  %s  Received: %d", statusText, theme.Dim.Render(st.Addr), st.Received)
	activityLine := fmt.Sprintf(" Last notification: %s %s", lastEventStr, spinner.Render(theme))

	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, activityLine)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
