package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/akl/internal/addon"
	"github.com/mattjoyce/akl/internal/command"
	"github.com/mattjoyce/akl/internal/log"
	"github.com/mattjoyce/akl/internal/rpc"
	"github.com/mattjoyce/akl/internal/storage"
)

// Bus is the part of the command dispatcher handlers need.
type Bus interface {
	Register(name command.Name, h command.Handler)
	DispatchSync(ctx context.Context, name command.Name, payload command.Payload) any
	DispatchAsync(ctx context.Context, name command.Name, payload command.Payload)
}

// RunnerSource selects the runner for an addon record.
type RunnerSource interface {
	For(a storage.Addon) (addon.Runner, error)
}

// ViewRebuilder regenerates the listing files read by the front end.
type ViewRebuilder interface {
	Rebuild(ctx context.Context) (int, error)
}

// Deps are the collaborators handed to New.
type Deps struct {
	Store   *storage.Store
	Runners RunnerSource
	Builder *addon.Builder
	UI      UI
	Views   ViewRebuilder

	// Discover returns the addons currently installed.
	Discover func(ctx context.Context) (*addon.Registry, error)
	// Enabled reports whether configuration allows an addon id. Nil allows all.
	Enabled func(addonID string) bool
}

// Handlers owns every orchestration command handler. It also serves the RPC
// server's store requests.
type Handlers struct {
	store    *storage.Store
	runners  RunnerSource
	builder  *addon.Builder
	ui       UI
	views    ViewRebuilder
	discover func(ctx context.Context) (*addon.Registry, error)
	enabled  func(addonID string) bool

	bus    Bus
	logger *slog.Logger
}

var _ rpc.Store = (*Handlers)(nil)

// New creates the handlers. Register must be called before any dispatch.
func New(deps Deps) *Handlers {
	enabled := deps.Enabled
	if enabled == nil {
		enabled = func(string) bool { return true }
	}
	return &Handlers{
		store:    deps.Store,
		runners:  deps.Runners,
		builder:  deps.Builder,
		ui:       deps.UI,
		views:    deps.Views,
		discover: deps.Discover,
		enabled:  enabled,
		logger:   log.WithComponent("orchestration"),
	}
}

// Register installs one handler per command on bus.
func (h *Handlers) Register(bus Bus) {
	h.bus = bus
	bus.Register(command.DiscoverAddons, h.handleDiscoverAddons)
	bus.Register(command.RebuildViews, h.handleRebuildViews)
	bus.Register(command.RemoveAddon, h.handleRemoveAddon)
	bus.Register(command.AddLauncher, h.handleAddLauncher)
	bus.Register(command.EditLauncher, h.handleEditLauncher)
	bus.Register(command.AddScanner, h.handleAddScanner)
	bus.Register(command.ScanROMs, h.handleScanROMs)
	bus.Register(command.ScrapeROM, h.handleScrapeROM)
	bus.Register(command.ScrapeROMCollection, h.handleScrapeROMCollection)
	bus.Register(command.ExecuteROM, h.handleExecuteROM)
	bus.Register(command.SetLauncherSettings, h.handleSetLauncherSettings)
	bus.Register(command.SetScannerSettings, h.handleSetScannerSettings)
	bus.Register(command.StoreScannedROMs, h.handleStoreScannedROMs)
	bus.Register(command.StoreScrapedROMs, h.handleStoreScrapedROMs)
	bus.Register(command.ScanFinished, h.handleFinished)
	bus.Register(command.ScrapeFinished, h.handleFinished)
	bus.Register(command.ScannerConfigured, h.handleScannerConfigured)
}

func (h *Handlers) handleRebuildViews(ctx context.Context, _ command.Payload) (any, error) {
	return h.RebuildViews(ctx)
}

func (h *Handlers) handleFinished(ctx context.Context, p command.Payload) (any, error) {
	h.logger.Info("helper run finished", "romcollection_id", p.String("romcollection_id"), "count", p.String("count"))
	return h.RebuildViews(ctx)
}

// RebuildViews regenerates the listing files.
func (h *Handlers) RebuildViews(ctx context.Context) (int, error) {
	if h.views == nil {
		return 0, nil
	}
	n, err := h.views.Rebuild(ctx)
	if err != nil {
		return 0, fmt.Errorf("rebuild views: %w", err)
	}
	h.logger.Debug("views rebuilt", "collections", n)
	return n, nil
}

// invoke runs d with the runner for a. No storage session may be open.
func (h *Handlers) invoke(ctx context.Context, a storage.Addon, d addon.Descriptor) error {
	runner, err := h.runners.For(a)
	if err != nil {
		return err
	}
	h.logger.Info("invoking addon", "addon", a.AddonID, "verb", string(d.Verb),
		"romcollection_id", d.ROMCollectionID, "rom_id", d.ROMID)
	if err := runner.Invoke(ctx, d); err != nil {
		return fmt.Errorf("invoke %s: %w", a.AddonID, err)
	}
	return nil
}

// dispatchAsync is a no-op until Register has run.
func (h *Handlers) dispatchAsync(ctx context.Context, name command.Name, p command.Payload) {
	if h.bus != nil {
		h.bus.DispatchAsync(ctx, name, p)
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", rpc.ErrInvalid, fmt.Sprintf(format, args...))
}

// lookupAddon resolves the addon named by akl_addon_id or addon_id in p.
// found is false when p names none.
func lookupAddon(ctx context.Context, sess *storage.Session, p command.Payload, kind storage.AddonKind) (a *storage.Addon, found bool, err error) {
	switch {
	case p.String("akl_addon_id") != "":
		a, err = sess.Addons().Get(ctx, p.String("akl_addon_id"))
	case p.String("addon_id") != "":
		a, err = sess.Addons().GetByAddonID(ctx, p.String("addon_id"))
	default:
		return nil, false, nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return nil, true, fmt.Errorf("addon: %w", storage.ErrNotFound)
	}
	if err != nil {
		return nil, true, err
	}
	if a.Kind != kind {
		return nil, true, invalid("addon %s is a %s, not a %s", a.AddonID, a.Kind, kind)
	}
	return a, true, nil
}

// chooseAddon resolves the addon named in p, or lets the user pick one of the
// registered addons of kind. ok is false when there is nothing to pick or the
// prompt was dismissed.
func (h *Handlers) chooseAddon(ctx context.Context, p command.Payload, kind storage.AddonKind, prompt string) (a storage.Addon, ok bool, err error) {
	var candidates []storage.Addon
	err = h.store.View(ctx, func(sess *storage.Session) error {
		named, found, err := lookupAddon(ctx, sess, p, kind)
		if found {
			if err == nil {
				a, ok = *named, true
			}
			return err
		}
		candidates, err = sess.Addons().List(ctx, kind)
		return err
	})
	if err != nil || ok {
		return a, ok, err
	}

	switch len(candidates) {
	case 0:
		h.ui.Warn(fmt.Sprintf("No %s addons are installed.", kind))
		return a, false, nil
	case 1:
		return candidates[0], true, nil
	}
	options := make([]Option, 0, len(candidates))
	for _, c := range candidates {
		options = append(options, Option{ID: c.ID, Label: fmt.Sprintf("%s (%s)", c.Name, c.Version)})
	}
	id, picked := h.ui.Select(ctx, prompt, options)
	if !picked {
		return a, false, nil
	}
	for _, c := range candidates {
		if c.ID == id {
			return c, true, nil
		}
	}
	return a, false, fmt.Errorf("selected addon %s is not a %s", id, kind)
}
