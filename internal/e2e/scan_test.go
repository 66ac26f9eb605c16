// Package e2e runs a real scanner helper process against a live core.
package e2e

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/akl/internal/addon"
	"github.com/mattjoyce/akl/internal/command"
	"github.com/mattjoyce/akl/internal/log"
	"github.com/mattjoyce/akl/internal/notify"
	"github.com/mattjoyce/akl/internal/orchestration"
	"github.com/mattjoyce/akl/internal/rpc"
	"github.com/mattjoyce/akl/internal/storage"
	"github.com/mattjoyce/akl/internal/tui"
	"github.com/mattjoyce/akl/internal/views"
)

const appID = "plugin.program.akl"

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

func TestDirScannerRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("builds a helper binary")
	}
	if runtime.GOOS == "windows" {
		t.Skip("helper entrypoints rely on the executable bit")
	}
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go toolchain not on PATH")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	root := filepath.Join(t.TempDir(), "addons")
	buildDirScanner(ctx, t, filepath.Join(root, "dirscanner"))

	romDir := t.TempDir()
	for _, name := range []string{"Super Metroid (USA).sfc", "Chrono_Trigger.sfc", "readme.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(romDir, name), []byte("rom"), 0o644))
	}

	db, _, err := storage.EnsureStore(ctx, filepath.Join(t.TempDir(), "akl.db"))
	require.NoError(t, err)
	store := storage.New(db)
	t.Cleanup(func() { _ = store.Close() })

	var ref struct{ rpc.Store }
	srv := rpc.New(rpc.Config{Host: "127.0.0.1", Timeout: 5 * time.Second}, store, &ref, log.WithComponent("rpc"))
	require.NoError(t, srv.Listen(ctx))
	host, port := srv.Addr()

	hub := notify.NewHub(64)
	finished := make(chan notify.Notification, 1)
	unsubscribe := hub.Subscribe(func(n notify.Notification) {
		if n.Method == command.ScanFinished.Method() {
			select {
			case finished <- n:
			default:
			}
		}
	})
	defer unsubscribe()

	runners := addon.NewRunners(20 * time.Second)
	bus := command.New(appID, hub, tui.NewHeadless(true))
	handlers := orchestration.New(orchestration.Deps{
		Store:   store,
		Runners: runners,
		Builder: addon.NewBuilder(host, port),
		UI:      tui.NewHeadless(true),
		Views:   views.NewWriter(store, t.TempDir()),
		Discover: func(context.Context) (*addon.Registry, error) {
			return addon.Discover([]string{root}, log.WithComponent("discovery"))
		},
	})
	handlers.Register(bus)
	ref.Store = handlers

	serveCtx, stopServe := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = srv.Serve(serveCtx)
	}()
	defer func() {
		stopServe()
		wg.Wait()
		bus.Close()
		assert.NoError(t, runners.Wait(ctx))
	}()

	bus.DispatchSync(ctx, command.DiscoverAddons, nil)

	var scanner *storage.Addon
	require.NoError(t, store.Update(ctx, func(sess *storage.Session) error {
		if scanner, err = sess.Addons().GetByAddonID(ctx, "akl.scanner.dirscanner"); err != nil {
			return err
		}
		if err := sess.Collections().Save(ctx, &storage.ROMCollection{ID: "c1", Name: "SNES", Platform: "Nintendo SNES"}); err != nil {
			return err
		}
		settings, _ := json.Marshal(map[string]any{"path": romDir, "extensions": []string{".sfc"}})
		return sess.Scanners().Save(ctx, &storage.Binding{ID: "s1", TargetID: "c1", AddonID: scanner.ID, Settings: settings})
	}))

	bus.DispatchSync(ctx, command.ScanROMs, command.Payload{"romcollection_id": "c1"})

	select {
	case n := <-finished:
		assert.Equal(t, appID, n.Sender)
	case <-ctx.Done():
		t.Fatal("scan never finished")
	}

	var roms []storage.ROM
	require.NoError(t, store.View(ctx, func(sess *storage.Session) error {
		roms, err = sess.ROMs().InCollection(ctx, "c1")
		return err
	}))
	require.Len(t, roms, 2)

	names := []string{roms[0].Name, roms[1].Name}
	sort.Strings(names)
	assert.Equal(t, []string{"Chrono Trigger", "Super Metroid"}, names)
	for _, r := range roms {
		assert.Equal(t, scanner.ID, r.ScannedBy)
		assert.Equal(t, "Nintendo SNES", r.Platform)
	}
}

// buildDirScanner compiles the reference scanner into dir next to its
// manifest, producing an installed addon.
func buildDirScanner(ctx context.Context, t *testing.T, dir string) {
	t.Helper()
	src := filepath.Join(repoRoot(t), "addons", "dirscanner")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	manifest, err := os.ReadFile(filepath.Join(src, "addon.yaml"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "addon.yaml"), manifest, 0o644))

	cmd := exec.CommandContext(ctx, "go", "build", "-o", filepath.Join(dir, "dirscanner"), ".")
	cmd.Dir = src
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
}

func repoRoot(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	// internal/e2e -> internal -> repo root
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", ".."))
}
