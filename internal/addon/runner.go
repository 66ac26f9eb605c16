package addon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/mattjoyce/akl/internal/log"
	"github.com/mattjoyce/akl/internal/storage"
)

const (
	// maxStderrBytes caps the stderr kept from a helper for logging.
	maxStderrBytes = 64 * 1024

	// terminationGracePeriod is the wait between SIGTERM and SIGKILL.
	terminationGracePeriod = 5 * time.Second

	// DefaultHelperTimeout bounds how long a helper may run.
	DefaultHelperTimeout = 30 * time.Minute
)

// Runner executes descriptors for one addon.
type Runner interface {
	Kind() storage.AddonKind
	Invoke(ctx context.Context, d Descriptor) error
}

// Factory builds the runner for an addon record.
type Factory func(a storage.Addon) (Runner, error)

type runnerKey struct {
	runtime storage.AddonRuntime
	kind    storage.AddonKind
}

// Runners selects a runner by the addon's runtime and kind.
type Runners struct {
	mu    sync.RWMutex
	table map[runnerKey]Factory

	helperTimeout time.Duration
	logger        *slog.Logger

	running  sync.WaitGroup
	activeMu sync.Mutex
	active   map[int]string // pid -> "addon verb"
}

// NewRunners creates the default table: every kind runs as a process, and
// builtin launchers use DirectLauncher.
func NewRunners(helperTimeout time.Duration) *Runners {
	if helperTimeout <= 0 {
		helperTimeout = DefaultHelperTimeout
	}
	r := &Runners{
		table:         make(map[runnerKey]Factory),
		helperTimeout: helperTimeout,
		logger:        log.WithComponent("addon"),
		active:        make(map[int]string),
	}
	for _, kind := range []storage.AddonKind{storage.KindLauncher, storage.KindScanner, storage.KindScraper} {
		r.Register(storage.RuntimeProcess, kind, r.processFactory)
	}
	r.Register(storage.RuntimeBuiltin, storage.KindLauncher, func(a storage.Addon) (Runner, error) {
		return NewDirectLauncher(a), nil
	})
	return r
}

// Register installs or replaces the factory for runtime and kind.
func (r *Runners) Register(runtime storage.AddonRuntime, kind storage.AddonKind, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table[runnerKey{runtime: runtime, kind: kind}] = f
}

// For returns the runner for a.
func (r *Runners) For(a storage.Addon) (Runner, error) {
	r.mu.RLock()
	f, ok := r.table[runnerKey{runtime: a.Runtime, kind: a.Kind}]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no runner for %s addon %s with runtime %q", a.Kind, a.AddonID, a.Runtime)
	}
	return f(a)
}

// Wait blocks until every started helper has exited or ctx is done. When
// ctx ends first the helpers still running are logged and left to their own
// timeout.
func (r *Runners) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		r.logger.Warn("helpers still running", "helpers", r.Running())
		return ctx.Err()
	}
}

// Running lists the helpers that have not exited yet.
func (r *Runners) Running() []string {
	r.activeMu.Lock()
	defer r.activeMu.Unlock()
	out := make([]string, 0, len(r.active))
	for pid, label := range r.active {
		out = append(out, fmt.Sprintf("%s (pid %d)", label, pid))
	}
	sort.Strings(out)
	return out
}

// track records a started helper; the returned func marks it exited.
func (r *Runners) track(pid int, label string) func() {
	r.running.Add(1)
	r.activeMu.Lock()
	r.active[pid] = label
	r.activeMu.Unlock()
	return func() {
		r.activeMu.Lock()
		delete(r.active, pid)
		r.activeMu.Unlock()
		r.running.Done()
	}
}

func (r *Runners) processFactory(a storage.Addon) (Runner, error) {
	if a.Entrypoint == "" {
		return nil, fmt.Errorf("addon %s has no entrypoint", a.AddonID)
	}
	return &ProcessRunner{
		addon:   a,
		timeout: r.helperTimeout,
		logger:  log.WithAddon(a.AddonID),
		runners: r,
	}, nil
}

// ProcessRunner starts the addon's entrypoint with the descriptor as
// arguments. It does not wait for a result; the helper reports back over RPC.
type ProcessRunner struct {
	addon   storage.Addon
	timeout time.Duration
	logger  *slog.Logger
	runners *Runners
}

// Kind returns the addon kind.
func (p *ProcessRunner) Kind() storage.AddonKind { return p.addon.Kind }

// Invoke starts the helper and returns once it is running.
func (p *ProcessRunner) Invoke(_ context.Context, d Descriptor) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("invalid descriptor: %w", err)
	}
	if d.AklAddonID != p.addon.ID {
		return fmt.Errorf("descriptor is for addon %s, runner is for %s", d.AklAddonID, p.addon.ID)
	}

	// Not CommandContext: a helper outlives the dispatch that started it.
	cmd := exec.Command(p.addon.Entrypoint, d.Args()...)
	cmd.Dir = filepath.Dir(p.addon.Entrypoint)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logger := p.logger.With("verb", string(d.Verb))
	logger.Debug("spawning helper", "entrypoint", p.addon.Entrypoint, "timeout", p.timeout.String())

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start helper %s: %w", p.addon.AddonID, err)
	}

	done := p.runners.track(cmd.Process.Pid, p.addon.AddonID+" "+string(d.Verb))
	go func() {
		defer done()
		p.reap(cmd, &stderr, logger)
	}()
	return nil
}

// reap waits for the helper, enforcing the timeout, and logs how it ended.
func (p *ProcessRunner) reap(cmd *exec.Cmd, stderr *bytes.Buffer, logger *slog.Logger) {
	started := time.Now()
	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	var err error
	select {
	case err = <-waitErr:
	case <-timer.C:
		logger.Warn("helper timed out, sending SIGTERM")
		_ = cmd.Process.Signal(syscall.SIGTERM)
		grace := time.NewTimer(terminationGracePeriod)
		defer grace.Stop()
		select {
		case err = <-waitErr:
		case <-grace.C:
			logger.Warn("helper did not exit after SIGTERM, sending SIGKILL")
			_ = cmd.Process.Kill()
			err = <-waitErr
		}
	}

	tail := truncateStderr(stderr.String())
	elapsed := time.Since(started).Milliseconds()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		logger.Info("helper exited", "duration_ms", elapsed)
	case errors.As(err, &exitErr):
		logger.Error("helper failed", "exit_code", exitErr.ExitCode(), "duration_ms", elapsed, "stderr", tail)
	default:
		logger.Error("helper wait failed", "error", err, "stderr", tail)
	}
}

func truncateStderr(s string) string {
	if len(s) > maxStderrBytes {
		return s[len(s)-maxStderrBytes:]
	}
	return s
}
