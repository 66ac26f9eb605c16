package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ROMRepository reads and writes ROMs.
type ROMRepository struct {
	q   querier
	now func() time.Time
}

const romColumns = `r.id, r.name, r.year, r.genre, r.developer, r.nplayers, r.nplayers_online, r.esrb, r.rating,
  r.plot, r.platform, r.tags, r.assets, r.asset_paths, r.scanned_data, r.scanned_by, r.created_at, r.updated_at`

// Get returns the ROM with id.
func (r *ROMRepository) Get(ctx context.Context, id string) (*ROM, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+romColumns+` FROM roms r WHERE r.id = ?;`, id)
	return scanROM(row)
}

// InCollection returns the ROMs of a collection ordered by name.
func (r *ROMRepository) InCollection(ctx context.Context, collectionID string) ([]ROM, error) {
	rows, err := r.q.QueryContext(ctx, `
SELECT `+romColumns+`
FROM roms r
JOIN romcollection_roms cr ON cr.rom_id = r.id
WHERE cr.romcollection_id = ?
ORDER BY r.name, r.id;`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("list collection roms: %w", err)
	}
	defer rows.Close()

	out := []ROM{}
	for rows.Next() {
		rom, err := scanROM(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rom)
	}
	return out, rows.Err()
}

// Save inserts rom or replaces the stored row with the same id.
func (r *ROMRepository) Save(ctx context.Context, rom *ROM) error {
	if rom.ID == "" {
		return fmt.Errorf("rom id is required")
	}
	tags, err := encodeJSON(rom.Tags, "[]")
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	assets, err := encodeJSON(rom.Assets, "{}")
	if err != nil {
		return fmt.Errorf("encode assets: %w", err)
	}
	paths, err := encodeJSON(rom.AssetPaths, "{}")
	if err != nil {
		return fmt.Errorf("encode asset paths: %w", err)
	}
	scanned, err := encodeJSON(rom.ScannedData, "{}")
	if err != nil {
		return fmt.Errorf("encode scanned data: %w", err)
	}

	now := r.now()
	if rom.CreatedAt.IsZero() {
		rom.CreatedAt = now
	}
	rom.UpdatedAt = now

	_, err = r.q.ExecContext(ctx, `
INSERT INTO roms(id, name, year, genre, developer, nplayers, nplayers_online, esrb, rating, plot, platform,
  tags, assets, asset_paths, scanned_data, scanned_by, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  name = excluded.name,
  year = excluded.year,
  genre = excluded.genre,
  developer = excluded.developer,
  nplayers = excluded.nplayers,
  nplayers_online = excluded.nplayers_online,
  esrb = excluded.esrb,
  rating = excluded.rating,
  plot = excluded.plot,
  platform = excluded.platform,
  tags = excluded.tags,
  assets = excluded.assets,
  asset_paths = excluded.asset_paths,
  scanned_data = excluded.scanned_data,
  scanned_by = excluded.scanned_by,
  updated_at = excluded.updated_at;
`, rom.ID, rom.Name, rom.Year, rom.Genre, rom.Developer, rom.NPlayers, rom.NPlayersOnline, rom.ESRB, rom.Rating,
		rom.Plot, rom.Platform, tags, assets, paths, scanned, rom.ScannedBy,
		formatTime(rom.CreatedAt), formatTime(rom.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save rom %s: %w", rom.ID, err)
	}
	return nil
}

// Delete removes the ROM and its memberships.
func (r *ROMRepository) Delete(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM roms WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete rom: %w", err)
	}
	return requireAffected(res)
}

func scanROM(row rowScanner) (*ROM, error) {
	var (
		rom                                  ROM
		name, year, genre, developer         sql.NullString
		nplayers, online, esrb, rating, plot sql.NullString
		platform, scannedBy                  sql.NullString
		tags, assets, paths, scanned         string
		createdAt, updatedAt                 string
	)
	err := row.Scan(&rom.ID, &name, &year, &genre, &developer, &nplayers, &online, &esrb, &rating,
		&plot, &platform, &tags, &assets, &paths, &scanned, &scannedBy, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan rom: %w", err)
	}
	rom.Name = name.String
	rom.Year = year.String
	rom.Genre = genre.String
	rom.Developer = developer.String
	rom.NPlayers = nplayers.String
	rom.NPlayersOnline = online.String
	rom.ESRB = esrb.String
	rom.Rating = rating.String
	rom.Plot = plot.String
	rom.Platform = platform.String
	rom.ScannedBy = scannedBy.String

	if err := decodeJSON(tags, &rom.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if err := decodeJSON(assets, &rom.Assets); err != nil {
		return nil, fmt.Errorf("decode assets: %w", err)
	}
	if err := decodeJSON(paths, &rom.AssetPaths); err != nil {
		return nil, fmt.Errorf("decode asset paths: %w", err)
	}
	if err := decodeJSON(scanned, &rom.ScannedData); err != nil {
		return nil, fmt.Errorf("decode scanned data: %w", err)
	}
	rom.CreatedAt = parseTime(createdAt)
	rom.UpdatedAt = parseTime(updatedAt)
	return &rom, nil
}
