package tui

import (
	tea "github.com/charmbracelet/bubbletea"
)

type confirmModel struct {
	prompt   string
	yes      bool
	answered bool
}

func newConfirmModel(prompt string) confirmModel {
	return confirmModel{prompt: prompt}
}

func (m confirmModel) Init() tea.Cmd {
	return nil
}

func (m confirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "y", "Y":
		m.yes, m.answered = true, true
		return m, tea.Quit
	case "n", "N", "enter", "esc", "q", "ctrl+c":
		m.yes, m.answered = false, true
		return m, tea.Quit
	}
	return m, nil
}

func (m confirmModel) View() string {
	if m.answered {
		answer := "no"
		if m.yes {
			answer = "yes"
		}
		return quitTextStyle.Render(m.prompt + " " + dimStyle.Render(answer))
	}
	return "\n" + titleStyle.Render(m.prompt) + " " + dimStyle.Render("[y/N]") + "\n"
}
