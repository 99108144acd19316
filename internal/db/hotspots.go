package db

import (
	"fmt"

	"github.com/banshee-data/curbwatch/internal/dwell"
)

// ReplaceHotspots overwrites the stored hotspot list.
func (db *DB) ReplaceHotspots(zones []dwell.Hotspot) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM hotspots`); err != nil {
		return fmt.Errorf("clear hotspots: %w", err)
	}
	for _, z := range zones {
		if _, err := tx.Exec(
			`INSERT INTO hotspots (kind, lat, lng, radius_m, created_unix_ns, expires_unix_ns) VALUES (?, ?, ?, ?, ?, ?)`,
			z.Kind, z.Zone.Center.Lat, z.Zone.Center.Lng, z.Zone.RadiusM, unixNano(z.Created), unixNano(z.Expires),
		); err != nil {
			return fmt.Errorf("insert hotspot: %w", err)
		}
	}
	return tx.Commit()
}

// LoadHotspots returns the stored hotspots in insertion order.
func (db *DB) LoadHotspots() ([]dwell.Hotspot, error) {
	rows, err := db.Query(`SELECT kind, lat, lng, radius_m, created_unix_ns, expires_unix_ns FROM hotspots ORDER BY hotspot_id`)
	if err != nil {
		return nil, fmt.Errorf("query hotspots: %w", err)
	}
	defer rows.Close()

	var out []dwell.Hotspot
	for rows.Next() {
		var (
			h                dwell.Hotspot
			created, expires int64
		)
		if err := rows.Scan(&h.Kind, &h.Zone.Center.Lat, &h.Zone.Center.Lng, &h.Zone.RadiusM, &created, &expires); err != nil {
			return nil, err
		}
		h.Created = fromUnixNano(created)
		h.Expires = fromUnixNano(expires)
		out = append(out, h)
	}
	return out, rows.Err()
}
