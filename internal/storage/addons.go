package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AddonRepository reads and writes registered addons.
type AddonRepository struct {
	q   querier
	now func() time.Time
}

const addonColumns = `id, addon_id, name, version, kind, runtime, entrypoint, fingerprint, metadata, created_at, updated_at`

// Get returns the addon with record id.
func (r *AddonRepository) Get(ctx context.Context, id string) (*Addon, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+addonColumns+` FROM addons WHERE id = ?;`, id)
	return scanAddon(row)
}

// GetByAddonID returns the addon registered under its manifest id.
func (r *AddonRepository) GetByAddonID(ctx context.Context, addonID string) (*Addon, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+addonColumns+` FROM addons WHERE addon_id = ?;`, addonID)
	return scanAddon(row)
}

// List returns every addon, optionally restricted to one kind.
func (r *AddonRepository) List(ctx context.Context, kind AddonKind) ([]Addon, error) {
	query := `SELECT ` + addonColumns + ` FROM addons`
	var args []any
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	rows, err := r.q.QueryContext(ctx, query+` ORDER BY addon_id;`, args...)
	if err != nil {
		return nil, fmt.Errorf("list addons: %w", err)
	}
	defer rows.Close()

	var out []Addon
	for rows.Next() {
		a, err := scanAddon(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// Save inserts a, or updates the row with the same record id in place.
func (r *AddonRepository) Save(ctx context.Context, a *Addon) error {
	if a.ID == "" || a.AddonID == "" {
		return fmt.Errorf("addon record id and addon id are required")
	}
	meta, err := encodeJSON(a.Capabilities, "{}")
	if err != nil {
		return fmt.Errorf("encode capabilities: %w", err)
	}
	now := r.now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	_, err = r.q.ExecContext(ctx, `
INSERT INTO addons(`+addonColumns+`)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  addon_id = excluded.addon_id,
  name = excluded.name,
  version = excluded.version,
  kind = excluded.kind,
  runtime = excluded.runtime,
  entrypoint = excluded.entrypoint,
  fingerprint = excluded.fingerprint,
  metadata = excluded.metadata,
  updated_at = excluded.updated_at;
`, a.ID, a.AddonID, a.Name, a.Version, string(a.Kind), string(a.Runtime), a.Entrypoint, a.Fingerprint, meta,
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save addon %s: %w", a.AddonID, err)
	}
	return nil
}

// Delete removes the addon and, by cascade, every binding that uses it.
func (r *AddonRepository) Delete(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM addons WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete addon: %w", err)
	}
	return requireAffected(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAddon(row rowScanner) (*Addon, error) {
	var (
		a                    Addon
		kind, runtime        string
		entry, fp            sql.NullString
		meta                 string
		createdAt, updatedAt string
	)
	err := row.Scan(&a.ID, &a.AddonID, &a.Name, &a.Version, &kind, &runtime, &entry, &fp, &meta, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan addon: %w", err)
	}
	a.Kind = AddonKind(kind)
	a.Runtime = AddonRuntime(runtime)
	a.Entrypoint = entry.String
	a.Fingerprint = fp.String
	if err := decodeJSON(meta, &a.Capabilities); err != nil {
		return nil, fmt.Errorf("decode addon metadata: %w", err)
	}
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
