package watch

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/akl/internal/notify"
)

const (
	defaultPollInterval = time.Second
	eventLogSize        = 50
)

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	ctx      context.Context
	source   Source
	interval time.Duration
	now      func() time.Time

	width  int
	height int

	status   Status
	lastID   int64
	commands map[string]*CommandState
	eventLog []notify.Notification

	ticker  Ticker
	spinner Spinner
	theme   Theme

	selected  int
	lastError string
}

// New creates a watch model polling src. addr is only displayed.
func New(ctx context.Context, src Source, addr string, interval time.Duration) Model {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return Model{
		ctx:      ctx,
		source:   src,
		interval: interval,
		now:      time.Now,
		status:   Status{Addr: addr},
		commands: make(map[string]*CommandState),
		ticker:   NewTicker(),
		theme:    NewDefaultTheme(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		poll(m.ctx, m.source, m.lastID, m.interval*2),
		scheduleTick(),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.selected < len(m.commands)-1 {
				m.selected++
			}
		case "c":
			m.commands = make(map[string]*CommandState)
			m.eventLog = nil
			m.selected = 0
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.spinner.Decay(m.now())
		return m, scheduleTick()

	case pollMsg:
		return m, poll(m.ctx, m.source, m.lastID, m.interval*2)

	case batchMsg:
		now := m.now()
		m.ticker.Tick(now)
		m.status.Connected = true
		m.status.LastPoll = now
		m.lastError = ""
		m.apply(msg, now)
		return m, schedulePoll(m.interval)

	case errMsg:
		m.status.Connected = false
		m.lastError = msg.Error()
		return m, schedulePoll(m.interval * 3)
	}

	return m, nil
}

// apply folds a batch into the counters and the newest-first log. The
// receiver's buffer can return ids already seen after a reconnect.
func (m *Model) apply(batch []notify.Notification, now time.Time) {
	for _, n := range batch {
		if n.ID != 0 && n.ID <= m.lastID {
			continue
		}
		if n.ID > m.lastID {
			m.lastID = n.ID
		}
		if n.At.IsZero() {
			n.At = now
		}
		updateCommandState(m.commands, n)
		m.eventLog = append([]notify.Notification{n}, m.eventLog...)
		m.status.Received++
		m.spinner.OnEvent(now)
	}
	if len(m.eventLog) > eventLogSize {
		m.eventLog = m.eventLog[:eventLogSize]
	}
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting..."
	}
	now := m.now()

	header := renderHeader(m.status, m.ticker, m.spinner, m.theme, m.width, now)
	commands := renderCommands(m.commands, m.selected, m.theme, m.width)
	stream := renderEventStream(m.eventLog, m.theme, m.width)

	parts := []string{header, commands, stream}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	help := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Navigate • [c] Clear")
	parts = append(parts, help)

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

// Run starts the monitor on the terminal until the user quits.
func Run(ctx context.Context, src Source, addr string, interval time.Duration) error {
	_, err := tea.NewProgram(New(ctx, src, addr, interval), tea.WithContext(ctx)).Run()
	return err
}
