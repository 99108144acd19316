package db

import (
	"fmt"
	"strings"

	"github.com/banshee-data/curbwatch/internal/camera"
	"github.com/banshee-data/curbwatch/internal/geo"
)

// ReplaceCameras overwrites the stored camera table. Definitions are
// validated first so a bad import leaves the old table in place.
func (db *DB) ReplaceCameras(defs []camera.Definition) error {
	if _, err := camera.NewTable(defs); err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM cameras`); err != nil {
		return fmt.Errorf("clear cameras: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO cameras (camera_id, camera_type, lat, lng, approaches, address) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, d := range defs {
		approaches := make([]string, len(d.Approaches))
		for i, o := range d.Approaches {
			approaches[i] = string(o)
		}
		if _, err := stmt.Exec(d.ID, string(d.Type), d.Lat, d.Lng, strings.Join(approaches, ","), d.Address); err != nil {
			return fmt.Errorf("insert camera %s: %w", d.ID, err)
		}
	}
	return tx.Commit()
}

// LoadCameras returns the stored definitions ordered by ID.
func (db *DB) LoadCameras() ([]camera.Definition, error) {
	rows, err := db.Query(`SELECT camera_id, camera_type, lat, lng, approaches, address FROM cameras ORDER BY camera_id`)
	if err != nil {
		return nil, fmt.Errorf("query cameras: %w", err)
	}
	defer rows.Close()

	var out []camera.Definition
	for rows.Next() {
		var (
			d          camera.Definition
			typ        string
			approaches string
		)
		if err := rows.Scan(&d.ID, &typ, &d.Lat, &d.Lng, &approaches, &d.Address); err != nil {
			return nil, err
		}
		d.Type = camera.Type(typ)
		if approaches != "" {
			for _, s := range strings.Split(approaches, ",") {
				o, err := geo.ParseOctant(s)
				if err != nil {
					return nil, fmt.Errorf("camera %s: %w", d.ID, err)
				}
				d.Approaches = append(d.Approaches, o)
			}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CameraCount returns how many cameras are stored.
func (db *DB) CameraCount() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM cameras`).Scan(&n)
	return n, err
}
