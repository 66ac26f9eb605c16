package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/akl/internal/storage"
)

// maxBodyBytes bounds store request bodies.
const maxBodyBytes = 16 << 20

// handleQueryROM handles GET /query/rom/{id}.
func (s *Server) handleQueryROM(w http.ResponseWriter, r *http.Request) {
	var out ROM
	err := s.db.View(r.Context(), func(sess *storage.Session) error {
		rom, err := sess.ROMs().Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			return err
		}
		out = ROMFromDomain(*rom)
		return nil
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, out)
}

// handleQueryCollection handles GET /query/romcollection/{id}.
func (s *Server) handleQueryCollection(w http.ResponseWriter, r *http.Request) {
	var out Collection
	err := s.db.View(r.Context(), func(sess *storage.Session) error {
		c, err := sess.Collections().Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			return err
		}
		out = CollectionFromDomain(*c)
		return nil
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, out)
}

// handleQueryCollectionROMs handles GET /query/romcollection/roms/{id}.
func (s *Server) handleQueryCollectionROMs(w http.ResponseWriter, r *http.Request) {
	out := []ROM{}
	err := s.db.View(r.Context(), func(sess *storage.Session) error {
		id := chi.URLParam(r, "id")
		if _, err := sess.Collections().Get(r.Context(), id); err != nil {
			return err
		}
		roms, err := sess.ROMs().InCollection(r.Context(), id)
		if err != nil {
			return err
		}
		for _, rom := range roms {
			out = append(out, ROMFromDomain(rom))
		}
		return nil
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, out)
}

// handleQueryCollectionLaunchers handles GET /query/romcollection/launchers/{id}.
func (s *Server) handleQueryCollectionLaunchers(w http.ResponseWriter, r *http.Request) {
	out := map[string]json.RawMessage{}
	err := s.db.View(r.Context(), func(sess *storage.Session) error {
		id := chi.URLParam(r, "id")
		if _, err := sess.Collections().Get(r.Context(), id); err != nil {
			return err
		}
		bindings, err := sess.Launchers(storage.ScopeCollection).ForTarget(r.Context(), id)
		if err != nil {
			return err
		}
		for _, b := range bindings {
			out[b.ID] = settingsOrEmpty(b.Settings)
		}
		return nil
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, out)
}

// handleQueryROMLauncherSettings handles GET /query/rom/launcher/settings/{id}?launcher_id=.
// A ROM inherits the launchers of the collections it belongs to.
func (s *Server) handleQueryROMLauncherSettings(w http.ResponseWriter, r *http.Request) {
	launcherID := r.URL.Query().Get("launcher_id")
	if launcherID == "" {
		s.writeError(w, http.StatusBadRequest, "launcher_id query parameter is required")
		return
	}

	var out json.RawMessage
	err := s.db.View(r.Context(), func(sess *storage.Session) error {
		ctx := r.Context()
		romID := chi.URLParam(r, "id")
		if _, err := sess.ROMs().Get(ctx, romID); err != nil {
			return err
		}

		b, err := sess.Launchers(storage.ScopeROM).Get(ctx, launcherID)
		if err == nil && b.TargetID == romID {
			out = settingsOrEmpty(b.Settings)
			return nil
		}
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		b, err = sess.Launchers(storage.ScopeCollection).Get(ctx, launcherID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		member, err := sess.Collections().HasROM(ctx, b.TargetID, romID)
		if err != nil {
			return err
		}
		if member {
			out = settingsOrEmpty(b.Settings)
		}
		return nil
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondRaw(w, out)
}

// handleQueryCollectionLauncherSettings handles GET /query/romcollection/launcher/settings/{id}?launcher_id=.
func (s *Server) handleQueryCollectionLauncherSettings(w http.ResponseWriter, r *http.Request) {
	s.querySettings(w, r, "launcher_id", func(ctx context.Context, sess *storage.Session, target string) (*storage.BindingRepository, error) {
		_, err := sess.Collections().Get(ctx, target)
		return sess.Launchers(storage.ScopeCollection), err
	})
}

// handleQueryCollectionScannerSettings handles GET /query/romcollection/scanner/settings/{id}?scanner_id=.
func (s *Server) handleQueryCollectionScannerSettings(w http.ResponseWriter, r *http.Request) {
	s.querySettings(w, r, "scanner_id", func(ctx context.Context, sess *storage.Session, target string) (*storage.BindingRepository, error) {
		_, err := sess.Collections().Get(ctx, target)
		return sess.Scanners(), err
	})
}

// querySettings answers a settings lookup: 404 when the target is missing, an
// empty body when the binding is.
func (s *Server) querySettings(w http.ResponseWriter, r *http.Request, param string,
	resolve func(context.Context, *storage.Session, string) (*storage.BindingRepository, error)) {
	bindingID := r.URL.Query().Get(param)
	if bindingID == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("%s query parameter is required", param))
		return
	}

	var out json.RawMessage
	err := s.db.View(r.Context(), func(sess *storage.Session) error {
		target := chi.URLParam(r, "id")
		repo, err := resolve(r.Context(), sess, target)
		if err != nil {
			return err
		}
		b, err := repo.Get(r.Context(), bindingID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if b.TargetID != target {
			return nil
		}
		out = settingsOrEmpty(b.Settings)
		return nil
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondRaw(w, out)
}

// handleStoreLauncher handles POST /store/launcher/.
func (s *Server) handleStoreLauncher(w http.ResponseWriter, r *http.Request) {
	var req StoreLauncherRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.store.StoreLauncher(r.Context(), req); err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStoreScanner handles POST /store/scanner/.
func (s *Server) handleStoreScanner(w http.ResponseWriter, r *http.Request) {
	var req StoreScannerRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.store.StoreScanner(r.Context(), req); err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStoreROMs handles POST /store/roms/.
func (s *Server) handleStoreROMs(w http.ResponseWriter, r *http.Request) {
	var req StoreROMsRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.store.StoreROMs(r.Context(), req); err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "count": len(req.ROMs)})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to read request body")
		return false
	}
	if len(body) > maxBodyBytes {
		s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	if err := json.Unmarshal(body, out); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}
	return true
}

func settingsOrEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return raw
}
