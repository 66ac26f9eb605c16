package watch

import (
	"strings"
	"time"
)

// Ticker rotates on every poll. A frozen ticker means polling stalled.
type Ticker struct {
	frames   []string
	index    int
	lastTick time.Time
}

func NewTicker() Ticker {
	return Ticker{
		frames:   []string{"◐", "◓", "◑", "◒"},
		lastTick: time.Now(),
	}
}

func (t *Ticker) Tick(now time.Time) {
	t.index = (t.index + 1) % len(t.frames)
	t.lastTick = now
}

func (t Ticker) Current() string {
	return t.frames[t.index]
}

// Spinner lights up when notifications arrive and fades afterwards.
type Spinner struct {
	dots      int
	lastEvent time.Time
}

func (s *Spinner) OnEvent(now time.Time) {
	s.dots = 5
	s.lastEvent = now
}

// Decay drops one dot for every two seconds of silence.
func (s *Spinner) Decay(now time.Time) {
	if s.dots == 0 {
		return
	}
	left := 5 - int(now.Sub(s.lastEvent)/(2*time.Second))
	s.dots = max(0, min(s.dots, left))
}

func (s Spinner) Render(theme Theme) string {
	var result strings.Builder
	for i := range 5 {
		if i < s.dots {
			result.WriteString(theme.TickerActive.Render("●"))
		} else {
			result.WriteString(theme.TickerInactive.Render("○"))
		}
	}
	return result.String()
}

func (s Spinner) Dots() int { return s.dots }

func (s Spinner) LastEvent() time.Time {
	return s.lastEvent
}
