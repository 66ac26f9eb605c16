// Package views writes the listing files the front end renders: one index of
// collections and one file per collection with its ROMs.
package views

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/akl/internal/log"
	"github.com/mattjoyce/akl/internal/rpc"
	"github.com/mattjoyce/akl/internal/storage"
)

const (
	// IndexFile lists every collection.
	IndexFile = "collections.json"

	collectionPrefix = "collection_"
	collectionSuffix = ".json"
)

// Item is one collection entry of the index.
type Item struct {
	ID       string `json:"id"`
	Name     string `json:"m_name"`
	Platform string `json:"platform"`
	ROMCount int    `json:"rom_count"`
}

// Index is the content of IndexFile.
type Index struct {
	Collections []Item `json:"collections"`
}

// Collection is the content of one collection file.
type Collection struct {
	rpc.Collection
	ROMs []rpc.ROM `json:"roms"`
}

// Writer regenerates view files from the store.
type Writer struct {
	store  *storage.Store
	dir    string
	logger *slog.Logger
}

// NewWriter creates a writer that keeps its files in dir.
func NewWriter(store *storage.Store, dir string) *Writer {
	return &Writer{store: store, dir: dir, logger: log.WithComponent("views")}
}

// CollectionFile returns the file name used for a collection.
func CollectionFile(id string) string {
	return collectionPrefix + id + collectionSuffix
}

// Rebuild rewrites every view file and removes files of collections that no
// longer exist. It returns the number of collections written.
func (w *Writer) Rebuild(ctx context.Context) (int, error) {
	var (
		index Index
		files = map[string]Collection{}
	)
	err := w.store.View(ctx, func(sess *storage.Session) error {
		collections, err := sess.Collections().List(ctx)
		if err != nil {
			return err
		}
		index.Collections = make([]Item, 0, len(collections))
		for _, c := range collections {
			roms, err := sess.ROMs().InCollection(ctx, c.ID)
			if err != nil {
				return err
			}
			view := Collection{Collection: rpc.CollectionFromDomain(c), ROMs: make([]rpc.ROM, 0, len(roms))}
			for _, r := range roms {
				view.ROMs = append(view.ROMs, rpc.ROMFromDomain(r))
			}
			files[CollectionFile(c.ID)] = view
			index.Collections = append(index.Collections, Item{
				ID: c.ID, Name: c.Name, Platform: c.Platform, ROMCount: len(roms),
			})
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("read collections: %w", err)
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return 0, fmt.Errorf("create views dir: %w", err)
	}
	for name, view := range files {
		if err := writeJSON(filepath.Join(w.dir, name), view); err != nil {
			return 0, err
		}
	}
	if err := writeJSON(filepath.Join(w.dir, IndexFile), index); err != nil {
		return 0, err
	}
	if err := w.prune(files); err != nil {
		return 0, err
	}
	w.logger.Debug("views written", "dir", w.dir, "collections", len(files))
	return len(files), nil
}

// prune removes collection files not in keep.
func (w *Writer) prune(keep map[string]Collection) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("read views dir: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, collectionPrefix) || !strings.HasSuffix(name, collectionSuffix) {
			continue
		}
		if _, ok := keep[name]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(w.dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove stale view %s: %w", name, err)
		}
		w.logger.Debug("stale view removed", "file", name)
	}
	return nil
}

// writeJSON replaces path atomically.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// Load reads a view file written by Rebuild.
func Load(dir, name string, out any) error {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
