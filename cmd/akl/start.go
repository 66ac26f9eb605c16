package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/mattjoyce/akl/internal/addon"
	"github.com/mattjoyce/akl/internal/command"
	"github.com/mattjoyce/akl/internal/config"
	"github.com/mattjoyce/akl/internal/listener"
	"github.com/mattjoyce/akl/internal/lock"
	"github.com/mattjoyce/akl/internal/log"
	"github.com/mattjoyce/akl/internal/notify"
	"github.com/mattjoyce/akl/internal/orchestration"
	"github.com/mattjoyce/akl/internal/rpc"
	"github.com/mattjoyce/akl/internal/storage"
	"github.com/mattjoyce/akl/internal/tui"
	"github.com/mattjoyce/akl/internal/views"
)

const (
	hubCapacity = 256

	// helperShutdownGrace bounds how long shutdown waits for helpers.
	helperShutdownGrace = 10 * time.Second
)

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	headless := fs.Bool("headless", false, "Never prompt; overrides service.interactive")
	assumeYes := fs.Bool("yes", false, "Without a terminal, confirm prompts and pick the first option")
	if _, err := parseFlags(fs, args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("akl starting", "version", version, "config", *configPath)

	pidLock, err := lock.ForDataDir(filepath.Dir(cfg.State.Path))
	if err != nil {
		logger.Error("failed to acquire PID lock (another core may be running)", "error", err)
		return 1
	}
	defer func() { _ = pidLock.Release() }()
	logger.Info("acquired PID lock", "path", pidLock.Path())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var ui interface {
		orchestration.UI
		command.Notifier
	}
	if cfg.Service.Interactive && !*headless {
		ui = tui.NewPrompter(os.Stdin, os.Stderr)
	} else {
		ui = tui.NewHeadless(*assumeYes)
	}

	c, err := newCore(ctx, cfg, ui, ui)
	if err != nil {
		logger.Error("failed to start core", "error", err)
		return 1
	}
	if err := c.run(ctx); err != nil {
		logger.Error("core stopped with error", "error", err)
		return 1
	}
	logger.Info("akl stopped")
	return 0
}

// storeRef lets the RPC server bind before the handlers that need its
// address exist.
type storeRef struct{ rpc.Store }

// core owns every long-running component of a started akl.
type core struct {
	cfg      *config.Config
	store    *storage.Store
	hub      *notify.Hub
	receiver *notify.Server
	rpc      *rpc.Server
	runners  *addon.Runners
	bus      *command.Dispatcher
	handlers *orchestration.Handlers
	listener *listener.Service
	logger   *slog.Logger

	unsubscribe func()
}

func newCore(ctx context.Context, cfg *config.Config, ui orchestration.UI, notifier command.Notifier) (*core, error) {
	logger := log.WithComponent("main")

	db, created, err := storage.EnsureStore(ctx, cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if created {
		logger.Info("created empty store", "path", cfg.State.Path)
	}
	store := storage.New(db)

	ref := &storeRef{}
	rpcSrv := rpc.New(rpc.Config{
		Host:    cfg.RPC.Host,
		Port:    cfg.RPC.Port,
		Timeout: cfg.RPC.Timeout,
	}, store, ref, log.WithComponent("rpc"))
	if err := rpcSrv.Listen(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("rpc listen: %w", err)
	}
	host, port := rpcSrv.Addr()

	hub := notify.NewHub(hubCapacity)
	runners := addon.NewRunners(cfg.Service.HelperTimeout)
	bus := command.New(cfg.Service.AppID, hub, notifier)

	roots := cfg.AddonRoots
	handlers := orchestration.New(orchestration.Deps{
		Store:   store,
		Runners: runners,
		Builder: addon.NewBuilder(host, port),
		UI:      ui,
		Views:   views.NewWriter(store, cfg.Views.Dir),
		Discover: func(context.Context) (*addon.Registry, error) {
			return addon.Discover(roots, log.WithComponent("discovery"))
		},
		Enabled: cfg.AddonEnabled,
	})
	handlers.Register(bus)
	ref.Store = handlers

	lst := listener.New(listener.Config{
		AppID:        cfg.Service.AppID,
		PollInterval: cfg.Service.PollInterval,
		QueueSize:    cfg.Service.QueueSize,
	}, bus, store.Ensure)

	return &core{
		cfg:   cfg,
		store: store,
		hub:   hub,
		receiver: notify.NewServer(notify.ServerConfig{
			Listen:      cfg.Notify.Listen,
			MaxBodySize: cfg.Notify.MaxBodySize,
		}, hub, log.WithComponent("notify")),
		rpc:         rpcSrv,
		runners:     runners,
		bus:         bus,
		handlers:    handlers,
		listener:    lst,
		logger:      logger,
		unsubscribe: hub.Subscribe(lst.Subscriber()),
	}, nil
}

// run blocks until ctx is cancelled, a component fails, or the RPC server
// is asked to quit.
func (c *core) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.shutdown()

	host, port := c.rpc.Addr()
	c.logger.Info("akl running (press Ctrl+C to stop)",
		"rpc", fmt.Sprintf("%s:%d", host, port),
		"notify", c.cfg.Notify.Listen,
		"app_id", c.cfg.Service.AppID,
	)

	errCh := make(chan error, 3)
	var wg sync.WaitGroup
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := fn(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				err = fmt.Errorf("%s: %w", name, err)
			} else {
				err = nil
			}
			errCh <- err
		}()
	}
	start("notify receiver", c.receiver.Start)
	start("rpc server", c.rpc.Serve)
	start("listener", c.listener.Run)

	var runErr error
	select {
	case <-ctx.Done():
		c.logger.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			c.logger.Error("component failed", "error", err)
			runErr = err
		} else {
			c.logger.Info("component stopped, shutting down")
		}
	}
	cancel()
	c.listener.Abort()
	wg.Wait()
	return runErr
}

func (c *core) shutdown() {
	c.unsubscribe()
	c.bus.Close()

	// Helpers that outlive the grace period keep running until their own
	// timeout; launched applications are never waited on.
	ctx, cancel := context.WithTimeout(context.Background(), helperShutdownGrace)
	defer cancel()
	if err := c.runners.Wait(ctx); err != nil {
		c.logger.Warn("not waiting for helpers any longer", "error", err)
	}
	if err := c.store.Close(); err != nil {
		c.logger.Warn("close store", "error", err)
	}
}
