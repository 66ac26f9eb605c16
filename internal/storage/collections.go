package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CollectionRepository reads and writes ROM collections and their membership.
type CollectionRepository struct {
	q   querier
	now func() time.Time
}

// Get returns the collection with id.
func (r *CollectionRepository) Get(ctx context.Context, id string) (*ROMCollection, error) {
	var (
		c                    ROMCollection
		platform, plot       sql.NullString
		createdAt, updatedAt string
	)
	err := r.q.QueryRowContext(ctx,
		`SELECT id, name, platform, plot, created_at, updated_at FROM romcollections WHERE id = ?;`, id,
	).Scan(&c.ID, &c.Name, &platform, &plot, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read collection: %w", err)
	}
	c.Platform = platform.String
	c.Plot = plot.String
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

// List returns every collection ordered by name.
func (r *CollectionRepository) List(ctx context.Context) ([]ROMCollection, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, name, platform, plot, created_at, updated_at FROM romcollections ORDER BY name, id;`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	var out []ROMCollection
	for rows.Next() {
		var (
			c                    ROMCollection
			platform, plot       sql.NullString
			createdAt, updatedAt string
		)
		if err := rows.Scan(&c.ID, &c.Name, &platform, &plot, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		c.Platform = platform.String
		c.Plot = plot.String
		c.CreatedAt = parseTime(createdAt)
		c.UpdatedAt = parseTime(updatedAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Save inserts c or updates it in place.
func (r *CollectionRepository) Save(ctx context.Context, c *ROMCollection) error {
	if c.ID == "" {
		return fmt.Errorf("collection id is required")
	}
	now := r.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	_, err := r.q.ExecContext(ctx, `
INSERT INTO romcollections(id, name, platform, plot, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  name = excluded.name,
  platform = excluded.platform,
  plot = excluded.plot,
  updated_at = excluded.updated_at;
`, c.ID, c.Name, c.Platform, c.Plot, formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save collection: %w", err)
	}
	return nil
}

// Delete removes the collection and its bindings. ROMs stay.
func (r *CollectionRepository) Delete(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM romcollections WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	return requireAffected(res)
}

// AddROM associates romID with the collection. Existing associations are kept.
func (r *CollectionRepository) AddROM(ctx context.Context, collectionID, romID string) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO romcollection_roms(romcollection_id, rom_id) VALUES(?, ?) ON CONFLICT DO NOTHING;`,
		collectionID, romID)
	if err != nil {
		return fmt.Errorf("associate rom %s: %w", romID, err)
	}
	return nil
}

// HasROM reports whether romID belongs to the collection.
func (r *CollectionRepository) HasROM(ctx context.Context, collectionID, romID string) (bool, error) {
	var one int
	err := r.q.QueryRowContext(ctx,
		`SELECT 1 FROM romcollection_roms WHERE romcollection_id = ? AND rom_id = ?;`,
		collectionID, romID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return true, nil
}

// CountROMs returns the number of ROMs in the collection.
func (r *CollectionRepository) CountROMs(ctx context.Context, collectionID string) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM romcollection_roms WHERE romcollection_id = ?;`, collectionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count roms: %w", err)
	}
	return n, nil
}

// CollectionsOf returns the ids of the collections romID belongs to.
func (r *CollectionRepository) CollectionsOf(ctx context.Context, romID string) ([]string, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT romcollection_id FROM romcollection_roms WHERE rom_id = ? ORDER BY romcollection_id;`, romID)
	if err != nil {
		return nil, fmt.Errorf("list rom collections: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan collection id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
