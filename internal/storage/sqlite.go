package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures the schema exists.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := checkLocalFilesystem(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// EnsureStore opens the database at path, creating an empty one from the
// schema when the file is absent. created reports whether that happened.
func EnsureStore(ctx context.Context, path string) (db *sql.DB, created bool, err error) {
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		created = true
	} else if statErr != nil {
		return nil, false, fmt.Errorf("stat database: %w", statErr)
	}
	db, err = OpenSQLite(ctx, path)
	if err != nil {
		return nil, false, err
	}
	return db, created, nil
}

// BootstrapSQLite creates tables and indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS addons (
  id          TEXT PRIMARY KEY,
  addon_id    TEXT NOT NULL UNIQUE,
  name        TEXT NOT NULL,
  version     TEXT NOT NULL,
  kind        TEXT NOT NULL,
  runtime     TEXT NOT NULL,
  entrypoint  TEXT,
  fingerprint TEXT,
  metadata    JSON NOT NULL DEFAULT '{}',
  created_at  TEXT NOT NULL,
  updated_at  TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS romcollections (
  id         TEXT PRIMARY KEY,
  name       TEXT NOT NULL,
  platform   TEXT,
  plot       TEXT,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS roms (
  id              TEXT PRIMARY KEY,
  name            TEXT,
  year            TEXT,
  genre           TEXT,
  developer       TEXT,
  nplayers        TEXT,
  nplayers_online TEXT,
  esrb            TEXT,
  rating          TEXT,
  plot            TEXT,
  platform        TEXT,
  tags            JSON NOT NULL DEFAULT '[]',
  assets          JSON NOT NULL DEFAULT '{}',
  asset_paths     JSON NOT NULL DEFAULT '{}',
  scanned_data    JSON NOT NULL DEFAULT '{}',
  scanned_by      TEXT,
  created_at      TEXT NOT NULL,
  updated_at      TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS romcollection_roms (
  romcollection_id TEXT NOT NULL REFERENCES romcollections(id) ON DELETE CASCADE,
  rom_id           TEXT NOT NULL REFERENCES roms(id) ON DELETE CASCADE,
  PRIMARY KEY (romcollection_id, rom_id)
);`,
		`CREATE TABLE IF NOT EXISTS romcollection_launchers (
  id               TEXT PRIMARY KEY,
  romcollection_id TEXT NOT NULL REFERENCES romcollections(id) ON DELETE CASCADE,
  akl_addon_id     TEXT NOT NULL REFERENCES addons(id) ON DELETE CASCADE,
  settings         JSON NOT NULL DEFAULT '{}',
  is_default       INTEGER NOT NULL DEFAULT 0,
  created_at       TEXT NOT NULL,
  updated_at       TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS rom_launchers (
  id           TEXT PRIMARY KEY,
  rom_id       TEXT NOT NULL REFERENCES roms(id) ON DELETE CASCADE,
  akl_addon_id TEXT NOT NULL REFERENCES addons(id) ON DELETE CASCADE,
  settings     JSON NOT NULL DEFAULT '{}',
  is_default   INTEGER NOT NULL DEFAULT 0,
  created_at   TEXT NOT NULL,
  updated_at   TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS romcollection_scanners (
  id               TEXT PRIMARY KEY,
  romcollection_id TEXT NOT NULL REFERENCES romcollections(id) ON DELETE CASCADE,
  akl_addon_id     TEXT NOT NULL REFERENCES addons(id) ON DELETE CASCADE,
  settings         JSON NOT NULL DEFAULT '{}',
  created_at       TEXT NOT NULL,
  updated_at       TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS romcollection_roms_rom_idx ON romcollection_roms(rom_id);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS romcollection_launchers_target_addon_idx ON romcollection_launchers(romcollection_id, akl_addon_id);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS rom_launchers_target_addon_idx ON rom_launchers(rom_id, akl_addon_id);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS romcollection_scanners_target_addon_idx ON romcollection_scanners(romcollection_id, akl_addon_id);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
