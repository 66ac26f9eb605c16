package orchestration_test

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/akl/internal/command"
	"github.com/mattjoyce/akl/internal/log"
	"github.com/mattjoyce/akl/internal/rpc"
	"github.com/mattjoyce/akl/internal/storage"
)

// serve puts the fixture's handlers behind a real RPC server.
func (f *fixture) serve() *rpc.Client {
	f.t.Helper()
	srv := rpc.New(rpc.Config{Host: "127.0.0.1", Timeout: 5 * time.Second}, f.store, f.h, log.Get())
	ts := httptest.NewServer(srv.Handler())
	f.t.Cleanup(ts.Close)

	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(ts.URL, "http://"))
	require.NoError(f.t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(f.t, err)
	return rpc.NewClient(host, port, 5*time.Second)
}

func TestScannedROMRoundTripOverRPC(t *testing.T) {
	f := newFixture(t)
	f.addCollection("c1", "SNES")
	f.addAddon("rec-s", "script.akl.dirscanner", storage.KindScanner, storage.Capabilities{})
	client := f.serve()

	in := rpc.ROM{
		ID:             "r1",
		Name:           "Super Metroid",
		Year:           "1994",
		Genre:          "Action",
		Developer:      "Nintendo R&D1",
		NPlayers:       "1",
		NPlayersOnline: "0",
		ESRB:           "E",
		Rating:         "9",
		Plot:           "The last Metroid is in captivity.",
		Platform:       "Nintendo SNES",
		Tags:           []string{"classic"},
		Assets:         map[string]string{"boxfront": "/art/boxfront/sm.png"},
		AssetPaths:     map[string]string{"boxfront": "/art/boxfront"},
		ScannedData:    map[string]any{"file": "/roms/snes/sm.sfc"},
	}
	require.NoError(t, client.StoreROMs(f.ctx, rpc.StoreROMsRequest{
		ROMCollectionID: "c1", AklAddonID: "rec-s", ROMs: []rpc.ROM{in},
	}))

	got, err := client.ROM(f.ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, in, *got)

	roms, err := client.CollectionROMs(f.ctx, "c1")
	require.NoError(t, err)
	require.Len(t, roms, 1)
	assert.Equal(t, in, roms[0])
	assert.Equal(t, "rec-s", f.rom("r1").ScannedBy)

	_, err = client.ROM(f.ctx, "missing")
	require.ErrorIs(t, err, rpc.ErrNotFound)
}

func TestScrapedROMsOverRPCSkipUnknownIDs(t *testing.T) {
	f := newFixture(t)
	f.addCollection("c1", "SNES")
	f.addROM("c1", storage.ROM{ID: "r1", Name: "Zelda"})
	f.addAddon("rec-x", "script.akl.scraper", storage.KindScraper, storage.Capabilities{
		SupportedMetadata: []string{"m_plot"},
	})
	client := f.serve()

	require.NoError(t, client.StoreROMs(f.ctx, rpc.StoreROMsRequest{
		ROMCollectionID: "c1", AklAddonID: "rec-x",
		ROMs: []rpc.ROM{{ID: "r1", Plot: "Link saves Hyrule"}, {ID: "ghost", Name: "Ghost"}},
	}))
	assert.Equal(t, "Link saves Hyrule", f.rom("r1").Plot)
	assert.Equal(t, 1, f.romCount("c1"))

	_, err := client.ROM(f.ctx, "ghost")
	require.ErrorIs(t, err, rpc.ErrNotFound)
}

func TestLauncherCannotReportROMsOverRPC(t *testing.T) {
	f := newFixture(t)
	f.addCollection("c1", "SNES")
	f.addAddon("rec-l", "script.akl.retroarch", storage.KindLauncher, storage.Capabilities{})
	client := f.serve()

	err := client.StoreROMs(f.ctx, rpc.StoreROMsRequest{ROMCollectionID: "c1", AklAddonID: "rec-l", ROMs: []rpc.ROM{{ID: "r1"}}})
	var se *rpc.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.Equal(t, 0, f.romCount("c1"))
}

func TestStoreScannerOverRPCRespondsBeforePrompt(t *testing.T) {
	f := newFixture(t)
	f.addCollection("c1", "SNES")
	f.addAddon("rec-s", "script.akl.dirscanner", storage.KindScanner, storage.Capabilities{})
	client := f.serve()

	// The UI mock has no expectations, so a prompt inside the request
	// would fail the test.
	require.NoError(t, client.StoreScanner(f.ctx, rpc.StoreScannerRequest{
		ROMCollectionID: "c1", AklAddonID: "rec-s", Settings: json.RawMessage(`{"path":"/roms"}`),
	}))

	var bindings []storage.Binding
	require.NoError(t, f.store.View(f.ctx, func(sess *storage.Session) error {
		var err error
		bindings, err = sess.Scanners().ForTarget(f.ctx, "c1")
		return err
	}))
	require.Len(t, bindings, 1)
	settings, err := client.CollectionScannerSettings(f.ctx, "c1", bindings[0].ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"path":"/roms"}`, string(settings))

	f.bus.Close()
	assert.Equal(t, []string{command.ScannerConfigured.Method()}, f.bcast.methods())
}
