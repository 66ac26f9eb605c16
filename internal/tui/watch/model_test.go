package watch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/akl/internal/command"
	"github.com/mattjoyce/akl/internal/notify"
)

type fakeSource struct {
	since []int64
	items []notify.Notification
	err   error
}

func (f *fakeSource) Recent(_ context.Context, since int64) ([]notify.Notification, error) {
	f.since = append(f.since, since)
	if f.err != nil {
		return nil, f.err
	}
	var out []notify.Notification
	for _, n := range f.items {
		if n.ID > since {
			out = append(out, n)
		}
	}
	return out, nil
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func note(id int64, name command.Name, data string) notify.Notification {
	return notify.Notification{
		ID:     id,
		Sender: "akl",
		Method: name.Method(),
		Data:   json.RawMessage(data),
		At:     base.Add(time.Duration(id) * time.Second),
	}
}

func newModel(src Source) Model {
	m := New(context.Background(), src, "127.0.0.1:9000", time.Second)
	m.now = func() time.Time { return base.Add(time.Minute) }
	return m
}

func step(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

func TestPollAppliesBatch(t *testing.T) {
	src := &fakeSource{items: []notify.Notification{
		note(1, command.ScanROMs, `{"romcollection_id":"c1"}`),
		note(2, command.StoreScannedROMs, `{"romcollection_id":"c1","roms":[]}`),
		note(3, command.ScanFinished, `{"romcollection_id":"c1","count":2}`),
		note(4, command.ScanROMs, `{"romcollection_id":"c2"}`),
	}}
	m := newModel(src)

	msg := poll(context.Background(), src, 0, time.Second)()
	m = step(t, m, msg)

	assert.True(t, m.status.Connected)
	assert.Equal(t, int64(4), m.lastID)
	assert.Equal(t, 4, m.status.Received)
	require.Len(t, m.eventLog, 4)
	assert.Equal(t, int64(4), m.eventLog[0].ID, "newest first")
	assert.Equal(t, 2, m.commands[command.ScanROMs.Method()].Count)
	assert.Equal(t, "SCAN_ROMS", m.commands[command.ScanROMs.Method()].Label)
	assert.Equal(t, 5, m.spinner.Dots())

	// The next poll asks only for what came after.
	_ = poll(context.Background(), src, m.lastID, time.Second)()
	assert.Equal(t, []int64{0, 4}, src.since)
}

func TestApplySkipsSeenIDs(t *testing.T) {
	m := newModel(&fakeSource{})
	now := base
	m.apply([]notify.Notification{note(1, command.ExecuteROM, `{}`), note(2, command.ExecuteROM, `{}`)}, now)
	m.apply([]notify.Notification{note(2, command.ExecuteROM, `{}`), note(3, command.ExecuteROM, `{}`)}, now)

	assert.Equal(t, 3, m.commands[command.ExecuteROM.Method()].Count)
	assert.Len(t, m.eventLog, 3)
}

func TestEventLogIsBounded(t *testing.T) {
	m := newModel(&fakeSource{})
	var batch []notify.Notification
	for i := int64(1); i <= eventLogSize+10; i++ {
		batch = append(batch, note(i, command.RebuildViews, `{}`))
	}
	m.apply(batch, base)
	assert.Len(t, m.eventLog, eventLogSize)
	assert.Equal(t, int64(eventLogSize+10), m.eventLog[0].ID)
}

func TestPollErrorMarksDisconnected(t *testing.T) {
	src := &fakeSource{err: errors.New("connection refused")}
	m := newModel(src)
	m.status.Connected = true

	m = step(t, m, poll(context.Background(), src, 0, time.Second)())
	assert.False(t, m.status.Connected)
	assert.Contains(t, m.lastError, "connection refused")

	m = step(t, m, batchMsg(nil))
	assert.True(t, m.status.Connected)
	assert.Empty(t, m.lastError)
}

func TestKeys(t *testing.T) {
	m := newModel(&fakeSource{})
	m.apply([]notify.Notification{
		note(1, command.ScanROMs, `{}`),
		note(2, command.ExecuteROM, `{}`),
	}, base)

	m = step(t, m, tea.KeyMsg{Type: tea.KeyDown})
	m = step(t, m, tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 1, m.selected, "selection stops at the last row")
	m = step(t, m, tea.KeyMsg{Type: tea.KeyUp})
	assert.Equal(t, 0, m.selected)

	m = step(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})
	assert.Empty(t, m.commands)
	assert.Empty(t, m.eventLog)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestView(t *testing.T) {
	m := newModel(&fakeSource{})
	assert.Equal(t, "Connecting...", m.View())

	m = step(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	m.apply([]notify.Notification{
		note(1, command.ScanFinished, `{"romcollection_id":"0f3a9c2e-1111","count":12}`),
		{ID: 2, Sender: "kodi", Method: "System.OnWake", At: base},
	}, base)

	view := m.View()
	assert.Contains(t, view, "AKL WATCH")
	assert.Contains(t, view, "SCAN_FINISHED")
	assert.Contains(t, view, "System.OnWake")
	assert.Contains(t, view, "romcollection_id=0f3a9c2e")
	assert.Contains(t, view, "count=12")
}

func TestSpinnerDecay(t *testing.T) {
	var s Spinner
	s.OnEvent(base)
	s.Decay(base.Add(3 * time.Second))
	assert.Equal(t, 4, s.Dots())
	s.Decay(base.Add(9 * time.Second))
	assert.Equal(t, 1, s.Dots())
	s.Decay(base.Add(11 * time.Second))
	assert.Equal(t, 0, s.Dots())
}
