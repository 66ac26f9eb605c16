// Package rpc is the loopback HTTP boundary between the core and its helper
// processes. Helpers read configuration through the query routes and push
// results back through the store routes; the Client wraps both.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/akl/internal/storage"
)

// MethodQuit asks a running server to stop.
const MethodQuit = "QUIT"

func init() {
	chi.RegisterMethod(MethodQuit)
}

// State is the lifecycle position of a Server.
type State int32

const (
	Idle State = iota
	Serving
	ShuttingDown
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Serving:
		return "serving"
	case ShuttingDown:
		return "shutting_down"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Store accepts results pushed by helpers.
type Store interface {
	StoreLauncher(ctx context.Context, req StoreLauncherRequest) error
	StoreScanner(ctx context.Context, req StoreScannerRequest) error
	StoreROMs(ctx context.Context, req StoreROMsRequest) error
}

// Config holds RPC server configuration.
type Config struct {
	Host    string
	Port    int
	Timeout time.Duration
}

// Server is the loopback RPC server. It handles one request at a time.
type Server struct {
	config Config
	db     *storage.Store
	store  Store
	logger *slog.Logger

	state atomic.Int32
	ln    net.Listener

	serial   sync.Mutex
	quit     chan struct{}
	quitOnce sync.Once
}

// New creates a server answering queries from db and forwarding store
// requests to store.
func New(config Config, db *storage.Store, store Store, logger *slog.Logger) *Server {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	return &Server{
		config: config,
		db:     db,
		store:  store,
		logger: logger,
		quit:   make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Server) State() State { return State(s.state.Load()) }

// Listen binds the configured address. A server still answering on that
// address is sent QUIT first.
func (s *Server) Listen(ctx context.Context) error {
	if s.ln != nil {
		return nil
	}
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))

	if s.config.Port != 0 {
		if conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond); err == nil {
			_ = conn.Close()
			s.logger.Warn("rpc address in use, asking previous server to quit", "addr", addr)
			if err := NewClient(s.config.Host, s.config.Port, s.config.Timeout).Quit(ctx); err != nil {
				s.logger.Warn("quit handshake failed", "addr", addr, "error", err)
			}
		}
	}

	var lastErr error
	for attempt := 0; attempt < 20; attempt++ {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			s.ln = ln
			host, port := s.Addr()
			s.logger.Info("rpc server bound", "host", host, "port", port)
			return nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return fmt.Errorf("bind rpc server on %s: %w", addr, lastErr)
}

// Addr returns the bound host and port. Before Listen it returns the
// configured pair.
func (s *Server) Addr() (string, int) {
	if s.ln == nil {
		return s.config.Host, s.config.Port
	}
	tcp, ok := s.ln.Addr().(*net.TCPAddr)
	if !ok {
		return s.config.Host, s.config.Port
	}
	return s.config.Host, tcp.Port
}

// Serve handles requests until ctx is cancelled or a QUIT request arrives.
// The request in flight is completed before Serve returns.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(ctx); err != nil {
		return err
	}
	if !s.state.CompareAndSwap(int32(Idle), int32(Serving)) {
		return fmt.Errorf("rpc server already started (state %s)", s.State())
	}
	defer s.state.Store(int32(Stopped))

	// Body and response deadlines are set per request by serialize, once the
	// request holds the lock.
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.config.Timeout,
	}
	srv.SetKeepAlivesEnabled(false)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var reason string
	select {
	case <-ctx.Done():
		reason = "context cancelled"
	case <-s.quit:
		reason = "quit requested"
	case err := <-errCh:
		return fmt.Errorf("rpc server error: %w", err)
	}

	s.state.Store(int32(ShuttingDown))
	s.logger.Info("rpc server shutting down", "reason", reason)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("rpc server shutdown failed: %w", err)
	}
	return nil
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.serialize)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.NotFound(s.handleUnsupported)
	r.MethodNotAllowed(s.handleUnsupported)

	r.Method(MethodQuit, "/", http.HandlerFunc(s.handleQuit))

	r.Get("/query/rom/{id}", s.handleQueryROM)
	r.Get("/query/rom/launcher/settings/{id}", s.handleQueryROMLauncherSettings)
	r.Get("/query/romcollection/{id}", s.handleQueryCollection)
	r.Get("/query/romcollection/roms/{id}", s.handleQueryCollectionROMs)
	r.Get("/query/romcollection/launchers/{id}", s.handleQueryCollectionLaunchers)
	r.Get("/query/romcollection/launcher/settings/{id}", s.handleQueryCollectionLauncherSettings)
	r.Get("/query/romcollection/scanner/settings/{id}", s.handleQueryCollectionScannerSettings)

	for _, route := range []struct {
		path string
		h    http.HandlerFunc
	}{
		{"/store/launcher", s.handleStoreLauncher},
		{"/store/scanner", s.handleStoreScanner},
		{"/store/roms", s.handleStoreROMs},
	} {
		r.Post(route.path, route.h)
		r.Post(route.path+"/", route.h)
	}

	return r
}

// serialize lets exactly one request run at a time. The read and write
// deadlines start when the request gets its turn, so time spent queued behind
// another helper does not count against it.
func (s *Server) serialize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.serial.Lock()
		defer s.serial.Unlock()

		rc := http.NewResponseController(w)
		deadline := time.Now().Add(s.config.Timeout)
		if err := rc.SetReadDeadline(deadline); err != nil && !errors.Is(err, http.ErrNotSupported) {
			s.logger.Warn("set read deadline", "error", err)
		}
		if err := rc.SetWriteDeadline(deadline); err != nil && !errors.Is(err, http.ErrNotSupported) {
			s.logger.Warn("set write deadline", "error", err)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("rpc request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleQuit(w http.ResponseWriter, _ *http.Request) {
	s.quitOnce.Do(func() { close(s.quit) })
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "quitting"})
}

func (s *Server) handleUnsupported(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("unsupported request %s %s", r.Method, r.URL.Path))
}

// respondJSON sends a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondRaw sends an already encoded JSON document, or an empty body.
func (s *Server) respondRaw(w http.ResponseWriter, raw json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}

// fail maps err onto a status code. Error text is returned as-is; the server
// only listens on loopback.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrInvalid):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("rpc request failed", "path", r.URL.Path, "error", err)
	}
	s.writeError(w, status, err.Error())
}
