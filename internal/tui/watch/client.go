package watch

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/akl/internal/notify"
)

// Source returns notifications buffered after an id. notify.Client
// satisfies it.
type Source interface {
	Recent(ctx context.Context, since int64) ([]notify.Notification, error)
}

type batchMsg []notify.Notification

type tickMsg time.Time

type pollMsg struct{}

type errMsg struct{ err error }

func (e errMsg) Error() string { return e.err.Error() }

// poll fetches everything after since.
func poll(ctx context.Context, src Source, since int64, timeout time.Duration) tea.Cmd {
	return func() tea.Msg {
		pctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		items, err := src.Recent(pctx, since)
		if err != nil {
			return errMsg{err}
		}
		return batchMsg(items)
	}
}

func schedulePoll(every time.Duration) tea.Cmd {
	return tea.Tick(every, func(time.Time) tea.Msg { return pollMsg{} })
}

func scheduleTick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}
