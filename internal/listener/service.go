// Package listener turns namespaced notifications into dispatched commands.
//
// Notifications are decoded on the caller's goroutine and pushed onto a
// buffered channel. A single poll loop drains the channel once per tick,
// dispatching each entry synchronously in arrival order.
package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/akl/internal/command"
	"github.com/mattjoyce/akl/internal/log"
	"github.com/mattjoyce/akl/internal/notify"
)

// State is the lifecycle position of a Service.
type State int32

const (
	Created State = iota
	Running
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultQueueSize    = 256
)

// Dispatcher runs a command synchronously.
type Dispatcher interface {
	DispatchSync(ctx context.Context, name command.Name, payload command.Payload) any
}

// Config controls a Service.
type Config struct {
	AppID        string
	PollInterval time.Duration
	QueueSize    int
}

// Entry is one pending (command, payload) pair.
type Entry struct {
	Command command.Name
	Payload command.Payload
}

// Service is the background listener.
type Service struct {
	cfg      Config
	dispatch Dispatcher
	ensure   func(ctx context.Context) error
	logger   *slog.Logger

	queue chan Entry
	state atomic.Int32

	abortOnce sync.Once
	abort     chan struct{}
}

// New creates a listener. ensureStore runs before the bootstrap commands and
// may be nil when the store is managed elsewhere.
func New(cfg Config, d Dispatcher, ensureStore func(ctx context.Context) error) *Service {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	return &Service{
		cfg:      cfg,
		dispatch: d,
		ensure:   ensureStore,
		logger:   log.WithComponent("listener"),
		queue:    make(chan Entry, cfg.QueueSize),
		abort:    make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Service) State() State { return State(s.state.Load()) }

// Pending returns the number of queued entries.
func (s *Service) Pending() int { return len(s.queue) }

// Abort asks the poll loop to stop at its next tick.
func (s *Service) Abort() {
	s.abortOnce.Do(func() { close(s.abort) })
}

// Subscriber adapts the service to a notify.Hub subscription.
func (s *Service) Subscriber() notify.Subscriber {
	return func(n notify.Notification) {
		s.OnNotification(n.Sender, n.Method, n.Data)
	}
}

// OnNotification decodes one notification and queues it. It reports whether
// the notification was accepted. Safe for concurrent use.
func (s *Service) OnNotification(sender, method string, data []byte) bool {
	if sender != s.cfg.AppID {
		return false
	}

	logger := s.logger.With("method", method)
	name, err := command.FromMethod(method)
	if err != nil {
		logger.Warn("dropping notification", "error", err)
		return false
	}

	payload := command.Payload{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			logger.Error("dropping notification with malformed payload", "error", err)
			return false
		}
		if payload == nil {
			payload = command.Payload{}
		}
	}

	select {
	case s.queue <- Entry{Command: name, Payload: payload}:
		logger.Debug("notification queued", "command", name.String())
		return true
	default:
		logger.Error("queue full, dropping notification", "command", name.String(), "capacity", cap(s.queue))
		return false
	}
}

// Run ensures the store exists, dispatches the bootstrap commands and then
// polls until ctx is cancelled or Abort is called. It blocks.
func (s *Service) Run(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(Created), int32(Running)) {
		return fmt.Errorf("listener already started (state %s)", s.State())
	}
	defer s.state.Store(int32(Stopped))

	if s.ensure != nil {
		if err := s.ensure(ctx); err != nil {
			return fmt.Errorf("ensure store: %w", err)
		}
	}
	for _, name := range []command.Name{command.DiscoverAddons, command.RebuildViews} {
		s.dispatchOne(ctx, Entry{Command: name, Payload: command.Payload{}})
	}

	s.logger.Info("listener started", "poll_interval", s.cfg.PollInterval.String())
	defer s.logger.Info("listener stopped")

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.stopping()
			return nil
		case <-s.abort:
			s.stopping()
			return nil
		case <-ticker.C:
			if s.aborted(ctx) {
				s.stopping()
				return nil
			}
			s.drain(ctx)
		}
	}
}

func (s *Service) aborted(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-s.abort:
		return true
	default:
		return false
	}
}

func (s *Service) stopping() {
	s.state.Store(int32(Draining))
	if n := len(s.queue); n > 0 {
		s.logger.Warn("discarding queued notifications on stop", "count", n)
	}
}

// drain dispatches the entries queued when the drain began. Later arrivals wait
// for the next tick.
func (s *Service) drain(ctx context.Context) {
	n := len(s.queue)
	for i := 0; i < n; i++ {
		s.dispatchOne(ctx, <-s.queue)
	}
}

func (s *Service) dispatchOne(ctx context.Context, e Entry) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("dispatch panic", "command", e.Command.String(), "panic", r, "stack", string(debug.Stack()))
		}
	}()
	s.dispatch.DispatchSync(ctx, e.Command, e.Payload)
}
