package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/mattjoyce/akl/internal/log"
	"github.com/mattjoyce/akl/internal/notify"
)

// Handler executes one command. A non-nil result is returned to a synchronous
// caller when it is the first one produced for the dispatch.
type Handler func(ctx context.Context, payload Payload) (any, error)

// Broadcaster delivers notifications to whoever listens on the channel.
type Broadcaster interface {
	Broadcast(ctx context.Context, n notify.Notification) error
}

// Notifier surfaces a handler failure to the user.
type Notifier interface {
	NotifyFailure(name Name, err error)
}

// Dispatcher maps command names onto handlers.
type Dispatcher struct {
	sender      string
	broadcaster Broadcaster
	notifier    Notifier
	logger      *slog.Logger

	mu       sync.RWMutex
	handlers map[Name][]Handler

	inflight sync.WaitGroup
}

// New creates a dispatcher that broadcasts as sender. notifier may be nil.
func New(sender string, b Broadcaster, n Notifier) *Dispatcher {
	return &Dispatcher{
		sender:      sender,
		broadcaster: b,
		notifier:    n,
		logger:      log.WithComponent("command"),
		handlers:    make(map[Name][]Handler),
	}
}

// Sender is the identity stamped on broadcast notifications.
func (d *Dispatcher) Sender() string { return d.sender }

// Register appends h to the handlers of name. It panics on an unknown name or a
// nil handler, both of which are wiring mistakes.
func (d *Dispatcher) Register(name Name, h Handler) {
	if !name.Valid() {
		panic(fmt.Sprintf("command: register of unknown command %q", name))
	}
	if h == nil {
		panic(fmt.Sprintf("command: nil handler for %s", name))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = append(d.handlers[name], h)
}

// HandlerCount returns how many handlers are registered for name.
func (d *Dispatcher) HandlerCount(name Name) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[name])
}

// DispatchSync runs every handler registered for name, in registration order,
// on the calling goroutine. Failures are logged and reported through the
// notifier; they never reach the caller.
func (d *Dispatcher) DispatchSync(ctx context.Context, name Name, payload Payload) any {
	d.mu.RLock()
	hs := append([]Handler(nil), d.handlers[name]...)
	d.mu.RUnlock()

	logger := log.WithCommand(d.logger, name.String())
	if len(hs) == 0 {
		logger.Warn("no handlers registered, ignoring dispatch")
		return nil
	}
	if payload == nil {
		payload = Payload{}
	}

	var result any
	for i, h := range hs {
		res, err := d.invoke(ctx, name, h, payload)
		if err != nil {
			logger.Error("command failed", "handler", i, "error", err)
			if d.notifier != nil {
				d.notifier.NotifyFailure(name, err)
			}
			continue
		}
		if result == nil && res != nil {
			result = res
		}
	}
	return result
}

func (d *Dispatcher) invoke(ctx context.Context, name Name, h Handler, payload Payload) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panic", "command", name.String(), "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("%s: panic: %v", name, r)
		}
	}()
	return h(ctx, payload)
}

// DispatchAsync broadcasts name with payload as a notification and returns
// immediately. No handler is invoked on the calling goroutine.
func (d *Dispatcher) DispatchAsync(ctx context.Context, name Name, payload Payload) {
	logger := log.WithCommand(d.logger, name.String())
	if !name.Valid() {
		logger.Warn("unknown command, ignoring async dispatch")
		return
	}
	if d.broadcaster == nil {
		logger.Warn("no broadcaster configured, dropping async dispatch")
		return
	}
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("encode payload", "error", err)
		return
	}
	n := notify.Notification{Sender: d.sender, Method: name.Method(), Data: data}

	bg := context.WithoutCancel(ctx)
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		if err := d.broadcaster.Broadcast(bg, n); err != nil {
			logger.Error("broadcast failed", "error", err)
			return
		}
		logger.Debug("broadcast sent")
	}()
}

// Close waits for pending broadcasts to finish.
func (d *Dispatcher) Close() {
	d.inflight.Wait()
}
