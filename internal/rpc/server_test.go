package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/akl/internal/log"
	"github.com/mattjoyce/akl/internal/storage"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

// fakeStore writes scanned ROMs straight into the database and records calls.
type fakeStore struct {
	db *storage.Store

	mu        sync.Mutex
	launchers []StoreLauncherRequest
	scanners  []StoreScannerRequest
	err       error
	delay     time.Duration
	active    atomic.Int32
	maxActive atomic.Int32
}

func (f *fakeStore) enter() func() {
	n := f.active.Add(1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return func() { f.active.Add(-1) }
}

func (f *fakeStore) StoreLauncher(_ context.Context, req StoreLauncherRequest) error {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launchers = append(f.launchers, req)
	return f.err
}

func (f *fakeStore) StoreScanner(_ context.Context, req StoreScannerRequest) error {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanners = append(f.scanners, req)
	return f.err
}

func (f *fakeStore) StoreROMs(ctx context.Context, req StoreROMsRequest) error {
	defer f.enter()()
	if f.err != nil {
		return f.err
	}
	return f.db.Update(ctx, func(sess *storage.Session) error {
		for _, dto := range req.ROMs {
			var rom storage.ROM
			dto.Apply(&rom)
			if err := sess.ROMs().Save(ctx, &rom); err != nil {
				return err
			}
			if err := sess.Collections().AddROM(ctx, req.ROMCollectionID, rom.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

type fixture struct {
	db     *storage.Store
	store  *fakeStore
	server *Server
	client *Client
	url    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	sqlDB, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "akl.db"))
	require.NoError(t, err)
	db := storage.New(sqlDB)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Update(ctx, func(sess *storage.Session) error {
		if err := sess.Collections().Save(ctx, &storage.ROMCollection{ID: "c1", Name: "SNES", Platform: "Nintendo SNES"}); err != nil {
			return err
		}
		if err := sess.Addons().Save(ctx, &storage.Addon{ID: "a1", AddonID: "script.akl.retroarch", Name: "RetroArch", Version: "1.0.0", Kind: storage.KindLauncher, Runtime: storage.RuntimeProcess}); err != nil {
			return err
		}
		if err := sess.Launchers(storage.ScopeCollection).Save(ctx, &storage.Binding{ID: "l1", TargetID: "c1", AddonID: "a1", Settings: json.RawMessage(`{"core":"snes9x"}`)}); err != nil {
			return err
		}
		return sess.Scanners().Save(ctx, &storage.Binding{ID: "s1", TargetID: "c1", AddonID: "a1", Settings: json.RawMessage(`{"path":"/roms/snes"}`)})
	}))

	fs := &fakeStore{db: db}
	srv := New(Config{Host: "127.0.0.1", Timeout: 5 * time.Second}, db, fs, log.Get())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(ts.URL, "http://"))
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return &fixture{db: db, store: fs, server: srv, client: NewClient(host, port, 5*time.Second), url: ts.URL}
}

func sampleROM(id string) ROM {
	return ROM{
		ID:          id,
		Name:        "Super Metroid",
		Year:        "1994",
		Genre:       "Action",
		Developer:   "Nintendo R&D1",
		NPlayers:    "1",
		ESRB:        "E",
		Rating:      "9",
		Plot:        "The last Metroid is in captivity.",
		Platform:    "Nintendo SNES",
		Tags:        []string{"classic"},
		Assets:      map[string]string{"boxfront": "/art/boxfront/sm.png"},
		AssetPaths:  map[string]string{"boxfront": "/art/boxfront"},
		ScannedData: map[string]any{"file": "/roms/snes/sm.sfc"},
	}
}

func TestQueryROMNotFound(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.url + "/query/rom/does-not-exist")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, err = f.client.ROM(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
}

func TestStoreThenQueryROMRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := sampleROM("r1")
	require.NoError(t, f.client.StoreROMs(ctx, StoreROMsRequest{ROMCollectionID: "c1", AklAddonID: "a1", ROMs: []ROM{in}}))

	got, err := f.client.ROM(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, in, *got)

	roms, err := f.client.CollectionROMs(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, roms, 1)
	assert.Equal(t, in, roms[0])
}

func TestStoreEmptyROMsIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := http.Post(f.url+"/store/roms/", "application/json",
		strings.NewReader(`{"romcollection_id":"c1","akl_addon_id":"a1","roms":[]}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	roms, err := f.client.CollectionROMs(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, roms)
}

func TestQueryCollection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.client.Collection(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, Collection{ID: "c1", Name: "SNES", Platform: "Nintendo SNES"}, *c)

	_, err = f.client.Collection(ctx, "c2")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.client.CollectionROMs(ctx, "c2")
	assert.ErrorIs(t, err, ErrNotFound)

	launchers, err := f.client.CollectionLaunchers(ctx, "c1")
	require.NoError(t, err)
	require.Contains(t, launchers, "l1")
	assert.JSONEq(t, `{"core":"snes9x"}`, string(launchers["l1"]))
}

func TestQuerySettings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got, err := f.client.CollectionLauncherSettings(ctx, "c1", "l1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"core":"snes9x"}`, string(got))

	got, err = f.client.CollectionScannerSettings(ctx, "c1", "s1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"path":"/roms/snes"}`, string(got))

	got, err = f.client.CollectionLauncherSettings(ctx, "c1", "unknown")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = f.client.CollectionLauncherSettings(ctx, "missing", "l1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.client.ROMLauncherSettings(ctx, "missing-rom", "l1")
	assert.ErrorIs(t, err, ErrNotFound)

	resp, err := http.Get(f.url + "/query/romcollection/launcher/settings/c1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnsupportedRequestsReturn500(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/"},
		{http.MethodGet, "/query/unknown/1"},
		{http.MethodDelete, "/query/rom/r1"},
		{http.MethodPost, "/store/everything/"},
		{http.MethodGet, "/store/roms/"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, f.url+tt.path, nil)
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
			var body ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Contains(t, body.Error, "unsupported request")
		})
	}
}

func TestStoreErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "ok", want: http.StatusOK},
		{name: "invalid", err: errors.Join(ErrInvalid, errors.New("settings must be an object")), want: http.StatusBadRequest},
		{name: "missing entity", err: storage.ErrNotFound, want: http.StatusNotFound},
		{name: "other", err: errors.New("disk on fire"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.store.err = tt.err

			resp, err := http.Post(f.url+"/store/launcher/", "application/json",
				strings.NewReader(`{"romcollection_id":"c1","akl_addon_id":"a1","settings":{"core":"bsnes"}}`))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)

			if tt.want == http.StatusInternalServerError {
				var body ErrorResponse
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				assert.Equal(t, "disk on fire", body.Error)
			}
		})
	}
}

func TestStoreMalformedBody(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Post(f.url+"/store/scanner/", "application/json", strings.NewReader(`{"romcollection_id":`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, f.store.scanners)
}

func TestStoreScannerForwardsRequest(t *testing.T) {
	f := newFixture(t)

	err := f.client.StoreScanner(context.Background(), StoreScannerRequest{
		ROMCollectionID: "c1",
		AklAddonID:      "a1",
		AddonID:         "script.akl.dirscanner",
		Settings:        json.RawMessage(`{"path":"/roms"}`),
	})
	require.NoError(t, err)
	require.Len(t, f.store.scanners, 1)
	assert.Equal(t, "c1", f.store.scanners[0].ROMCollectionID)
	assert.JSONEq(t, `{"path":"/roms"}`, string(f.store.scanners[0].Settings))
}

func TestRequestsAreSerialized(t *testing.T) {
	f := newFixture(t)
	f.store.delay = 20 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.client.StoreLauncher(context.Background(), StoreLauncherRequest{ROMCollectionID: "c1", AklAddonID: "a1"}))
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, f.store.maxActive.Load())
	assert.Len(t, f.store.launchers, 5)
}

func TestQueuedRequestsGetFullTimeout(t *testing.T) {
	store := &fakeStore{delay: 600 * time.Millisecond}
	srv := New(Config{Host: "127.0.0.1", Timeout: time.Second}, nil, store, log.Get())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, srv.Listen(ctx))
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx) }()
	require.Eventually(t, func() bool { return srv.State() == Serving }, 2*time.Second, 5*time.Millisecond)

	host, port := srv.Addr()
	client := NewClient(host, port, 10*time.Second)

	// Three requests of 600ms each: the last one waits well past the
	// server timeout before it is handled.
	start := time.Now()
	errs := make([]error, 3)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = client.StoreLauncher(context.Background(), StoreLauncherRequest{ROMCollectionID: "c1", AklAddonID: "a1"})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "request %d", i)
	}
	assert.Greater(t, time.Since(start), time.Second)
	assert.Len(t, store.launchers, 3)
	assert.EqualValues(t, 1, store.maxActive.Load())

	cancel()
	waitStopped(t, srv, errCh)
}

func startServer(t *testing.T, port int) (*Server, chan error, context.CancelFunc) {
	t.Helper()
	srv := New(Config{Host: "127.0.0.1", Port: port, Timeout: 2 * time.Second}, nil, &fakeStore{}, log.Get())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, srv.Listen(ctx))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx) }()
	require.Eventually(t, func() bool { return srv.State() == Serving }, 2*time.Second, 5*time.Millisecond)
	return srv, errCh, cancel
}

func waitStopped(t *testing.T, srv *Server, errCh chan error) {
	t.Helper()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("serve loop did not return")
	}
	assert.Equal(t, Stopped, srv.State())
}

func TestQuitStopsServeLoop(t *testing.T) {
	srv, errCh, cancel := startServer(t, 0)
	defer cancel()

	host, port := srv.Addr()
	assert.NotZero(t, port)
	require.NoError(t, NewClient(host, port, time.Second).Quit(context.Background()))
	waitStopped(t, srv, errCh)
}

func TestContextCancelStopsServeLoop(t *testing.T) {
	srv, errCh, cancel := startServer(t, 0)
	cancel()
	waitStopped(t, srv, errCh)
}

func TestListenReplacesStaleServer(t *testing.T) {
	old, oldErr, cancelOld := startServer(t, 0)
	defer cancelOld()
	_, port := old.Addr()

	fresh := New(Config{Host: "127.0.0.1", Port: port, Timeout: 2 * time.Second}, nil, &fakeStore{}, log.Get())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, fresh.Listen(ctx))
	waitStopped(t, old, oldErr)

	_, gotPort := fresh.Addr()
	assert.Equal(t, port, gotPort)

	errCh := make(chan error, 1)
	go func() { errCh <- fresh.Serve(ctx) }()
	require.Eventually(t, func() bool { return fresh.State() == Serving }, 2*time.Second, 5*time.Millisecond)
	cancel()
	waitStopped(t, fresh, errCh)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "shutting_down", ShuttingDown.String())
	assert.Equal(t, "idle", Idle.String())
}

func TestROMLauncherSettingsInheritCollection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.client.StoreROMs(ctx, StoreROMsRequest{ROMCollectionID: "c1", AklAddonID: "a1", ROMs: []ROM{sampleROM("r1")}}))

	got, err := f.client.ROMLauncherSettings(ctx, "r1", "l1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"core":"snes9x"}`, string(got))

	require.NoError(t, f.db.Update(ctx, func(sess *storage.Session) error {
		return sess.Launchers(storage.ScopeROM).Save(ctx, &storage.Binding{ID: "rl1", TargetID: "r1", AddonID: "a1", Settings: json.RawMessage(`{"core":"bsnes"}`)})
	}))
	got, err = f.client.ROMLauncherSettings(ctx, "r1", "rl1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"core":"bsnes"}`, string(got))

	got, err = f.client.ROMLauncherSettings(ctx, "r1", "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}
