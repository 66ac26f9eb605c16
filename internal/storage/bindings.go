package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// BindingRepository reads and writes one binding table: collection launchers,
// ROM launchers or collection scanners.
type BindingRepository struct {
	q          querier
	now        func() time.Time
	table      string
	target     string
	hasDefault bool
}

func (r *BindingRepository) columns() string {
	def := "0"
	if r.hasDefault {
		def = "is_default"
	}
	return "id, " + r.target + ", akl_addon_id, settings, " + def + ", created_at, updated_at"
}

// Get returns the binding with id.
func (r *BindingRepository) Get(ctx context.Context, id string) (*Binding, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+r.columns()+` FROM `+r.table+` WHERE id = ?;`, id)
	return scanBinding(row)
}

// ForTarget returns the bindings of one collection or ROM, oldest first.
func (r *BindingRepository) ForTarget(ctx context.Context, targetID string) ([]Binding, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+r.columns()+` FROM `+r.table+` WHERE `+r.target+` = ? ORDER BY created_at, id;`, targetID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", r.table, err)
	}
	defer rows.Close()

	var out []Binding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// FindByAddon returns the binding of addon record id on targetID.
func (r *BindingRepository) FindByAddon(ctx context.Context, targetID, addonID string) (*Binding, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+r.columns()+` FROM `+r.table+` WHERE `+r.target+` = ? AND akl_addon_id = ?;`, targetID, addonID)
	return scanBinding(row)
}

// Save inserts b or updates its settings in place.
func (r *BindingRepository) Save(ctx context.Context, b *Binding) error {
	if b.ID == "" || b.TargetID == "" || b.AddonID == "" {
		return fmt.Errorf("binding id, target and addon are required")
	}
	now := r.now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now

	var err error
	if r.hasDefault {
		_, err = r.q.ExecContext(ctx, `
INSERT INTO `+r.table+`(id, `+r.target+`, akl_addon_id, settings, is_default, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  settings = excluded.settings,
  is_default = excluded.is_default,
  updated_at = excluded.updated_at;
`, b.ID, b.TargetID, b.AddonID, rawOrEmpty(b.Settings), b.IsDefault, formatTime(b.CreatedAt), formatTime(b.UpdatedAt))
	} else {
		_, err = r.q.ExecContext(ctx, `
INSERT INTO `+r.table+`(id, `+r.target+`, akl_addon_id, settings, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  settings = excluded.settings,
  updated_at = excluded.updated_at;
`, b.ID, b.TargetID, b.AddonID, rawOrEmpty(b.Settings), formatTime(b.CreatedAt), formatTime(b.UpdatedAt))
	}
	if err != nil {
		return fmt.Errorf("save %s binding: %w", r.table, err)
	}
	return nil
}

// SetDefault marks id as the only default binding of targetID.
func (r *BindingRepository) SetDefault(ctx context.Context, targetID, id string) error {
	if !r.hasDefault {
		return fmt.Errorf("%s has no default binding", r.table)
	}
	if _, err := r.q.ExecContext(ctx,
		`UPDATE `+r.table+` SET is_default = (id = ?) WHERE `+r.target+` = ?;`, id, targetID); err != nil {
		return fmt.Errorf("set default binding: %w", err)
	}
	return nil
}

// Delete removes the binding with id.
func (r *BindingRepository) Delete(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM `+r.table+` WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete binding: %w", err)
	}
	return requireAffected(res)
}

func scanBinding(row rowScanner) (*Binding, error) {
	var (
		b                    Binding
		settings             string
		isDefault            int
		createdAt, updatedAt string
	)
	err := row.Scan(&b.ID, &b.TargetID, &b.AddonID, &settings, &isDefault, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan binding: %w", err)
	}
	if settings != "" {
		b.Settings = []byte(settings)
	}
	b.IsDefault = isDefault != 0
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return &b, nil
}
