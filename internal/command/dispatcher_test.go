package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/akl/internal/log"
	"github.com/mattjoyce/akl/internal/notify"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

type recordingNotifier struct {
	mu     sync.Mutex
	failed []Name
}

func (r *recordingNotifier) NotifyFailure(name Name, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, name)
}

type chanBroadcaster struct {
	ch chan notify.Notification
}

func (c *chanBroadcaster) Broadcast(_ context.Context, n notify.Notification) error {
	c.ch <- n
	return nil
}

func TestRegisterAccumulates(t *testing.T) {
	d := New("plugin.program.akl", nil, nil)

	var calls []string
	d.Register(ScanROMs, func(context.Context, Payload) (any, error) {
		calls = append(calls, "first")
		return nil, nil
	})
	d.Register(ScanROMs, func(context.Context, Payload) (any, error) {
		calls = append(calls, "second")
		return nil, nil
	})

	assert.Equal(t, 2, d.HandlerCount(ScanROMs))
	d.DispatchSync(context.Background(), ScanROMs, nil)
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestRegisterUnknownPanics(t *testing.T) {
	d := New("plugin.program.akl", nil, nil)
	assert.Panics(t, func() {
		d.Register(Name("NOT_A_COMMAND"), func(context.Context, Payload) (any, error) { return nil, nil })
	})
	assert.Panics(t, func() { d.Register(ScanROMs, nil) })
}

func TestDispatchSyncFailuresDoNotPropagate(t *testing.T) {
	tests := []struct {
		name    string
		handler Handler
	}{
		{
			name: "error",
			handler: func(context.Context, Payload) (any, error) {
				return nil, errors.New("boom")
			},
		},
		{
			name: "panic",
			handler: func(context.Context, Payload) (any, error) {
				panic("kaboom")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &recordingNotifier{}
			d := New("plugin.program.akl", nil, n)

			ranAfter := false
			d.Register(ExecuteROM, tt.handler)
			d.Register(ExecuteROM, func(context.Context, Payload) (any, error) {
				ranAfter = true
				return "ok", nil
			})

			var res any
			require.NotPanics(t, func() {
				res = d.DispatchSync(context.Background(), ExecuteROM, Payload{"rom_id": "r1"})
			})
			assert.Equal(t, "ok", res)
			assert.True(t, ranAfter)
			assert.Equal(t, []Name{ExecuteROM}, n.failed)
		})
	}
}

func TestDispatchLogsCarryCommandName(t *testing.T) {
	var buf bytes.Buffer
	d := New("plugin.program.akl", nil, nil)
	d.logger = slog.New(slog.NewJSONHandler(&buf, nil)).With("component", "command")

	assert.Nil(t, d.DispatchSync(context.Background(), RebuildViews, nil))

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "no handlers registered, ignoring dispatch", out["msg"])
	assert.Equal(t, "REBUILD_VIEWS", out["command"])
	assert.Equal(t, "command", out["component"])
}

func TestDispatchSyncFirstResultWins(t *testing.T) {
	d := New("plugin.program.akl", nil, nil)
	d.Register(ExecuteROM, func(context.Context, Payload) (any, error) { return nil, nil })
	d.Register(ExecuteROM, func(context.Context, Payload) (any, error) { return 1, nil })
	d.Register(ExecuteROM, func(context.Context, Payload) (any, error) { return 2, nil })

	assert.Equal(t, 1, d.DispatchSync(context.Background(), ExecuteROM, nil))
}

func TestDispatchSyncUnregisteredIsNoop(t *testing.T) {
	n := &recordingNotifier{}
	d := New("plugin.program.akl", nil, n)

	assert.Nil(t, d.DispatchSync(context.Background(), RebuildViews, nil))
	assert.Nil(t, d.DispatchSync(context.Background(), Name("UNKNOWN"), nil))
	assert.Empty(t, n.failed)
}

func TestDispatchAsyncBroadcastsOnly(t *testing.T) {
	b := &chanBroadcaster{ch: make(chan notify.Notification, 1)}
	d := New("plugin.program.akl", b, nil)

	invoked := false
	d.Register(ScanROMs, func(context.Context, Payload) (any, error) {
		invoked = true
		return nil, nil
	})

	d.DispatchAsync(context.Background(), ScanROMs, Payload{"romcollection_id": "c1"})

	select {
	case n := <-b.ch:
		assert.Equal(t, "plugin.program.akl", n.Sender)
		assert.Equal(t, "Other.scan_roms", n.Method)
		var got map[string]any
		require.NoError(t, json.Unmarshal(n.Data, &got))
		assert.Equal(t, "c1", got["romcollection_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast not delivered")
	}
	d.Close()
	assert.False(t, invoked)
}

func TestDispatchAsyncCancelledContextStillDelivers(t *testing.T) {
	b := &chanBroadcaster{ch: make(chan notify.Notification, 1)}
	d := New("plugin.program.akl", b, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.DispatchAsync(ctx, ScanFinished, nil)
	d.Close()

	require.Len(t, b.ch, 1)
	n := <-b.ch
	assert.JSONEq(t, `{}`, string(n.Data))
}
