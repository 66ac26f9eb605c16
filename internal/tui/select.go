package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/akl/internal/orchestration"
)

const (
	defaultListWidth  = 64
	defaultListHeight = 14
)

type item orchestration.Option

func (i item) FilterValue() string { return i.Label }

// itemDelegate renders one option per line with a cursor.
type itemDelegate struct{}

func (itemDelegate) Height() int                             { return 1 }
func (itemDelegate) Spacing() int                            { return 0 }
func (itemDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd { return nil }
func (itemDelegate) Render(w io.Writer, m list.Model, index int, li list.Item) {
	i, ok := li.(item)
	if !ok {
		return
	}
	line := fmt.Sprintf("%d. %s", index+1, i.Label)
	if index == m.Index() {
		line = selectedItemStyle.Render("> " + line)
	} else {
		line = itemStyle.Render(line)
	}
	_, _ = fmt.Fprint(w, line)
}

type selectModel struct {
	list     list.Model
	choice   string
	quitting bool
	done     bool
}

func newSelectModel(prompt string, options []orchestration.Option) selectModel {
	items := make([]list.Item, 0, len(options))
	for _, o := range options {
		items = append(items, item(o))
	}
	l := list.New(items, itemDelegate{}, defaultListWidth, defaultListHeight)
	l.Title = prompt
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.Styles.Title = titleStyle
	l.Styles.PaginationStyle = paginationStyle
	l.Styles.HelpStyle = helpStyle
	return selectModel{list: l}
}

func (m selectModel) Init() tea.Cmd {
	return nil
}

func (m selectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetWidth(msg.Width)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.quitting = true
			return m, tea.Quit

		case "enter":
			if i, ok := m.list.SelectedItem().(item); ok {
				m.choice = i.ID
				m.done = true
			}
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m selectModel) View() string {
	if m.quitting {
		return quitTextStyle.Render("Cancelled.")
	}
	if m.done {
		label := strings.TrimSpace(m.list.SelectedItem().(item).Label)
		return quitTextStyle.Render("Selected: " + label)
	}
	return "\n" + m.list.View()
}

// Selected returns the chosen option id.
func (m selectModel) Selected() (string, bool) {
	return m.choice, m.done
}
