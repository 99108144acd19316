package db

import (
	"fmt"

	"github.com/banshee-data/curbwatch/internal/camera"
)

// ReplaceAlertLedger overwrites the persisted ledger with records, keyed
// by each camera's index in table. Records for cameras no longer in the
// table are dropped.
func (db *DB) ReplaceAlertLedger(table *camera.Table, records []camera.AlertRecord) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM alert_ledger`); err != nil {
		return fmt.Errorf("clear alert ledger: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO alert_ledger (camera_index, camera_id, last_fired_unix_ns, cleared) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		idx := table.Index(r.CameraID)
		if idx < 0 {
			continue
		}
		if _, err := stmt.Exec(idx, r.CameraID, unixNano(r.LastFiredAt), r.Cleared); err != nil {
			return fmt.Errorf("insert ledger record %s: %w", r.CameraID, err)
		}
	}
	return tx.Commit()
}

// LoadAlertLedger returns the persisted records in camera index order.
func (db *DB) LoadAlertLedger() ([]camera.AlertRecord, error) {
	rows, err := db.Query(`SELECT camera_id, last_fired_unix_ns, cleared FROM alert_ledger ORDER BY camera_index`)
	if err != nil {
		return nil, fmt.Errorf("query alert ledger: %w", err)
	}
	defer rows.Close()

	var out []camera.AlertRecord
	for rows.Next() {
		var (
			r     camera.AlertRecord
			fired int64
		)
		if err := rows.Scan(&r.CameraID, &fired, &r.Cleared); err != nil {
			return nil, err
		}
		r.LastFiredAt = fromUnixNano(fired)
		out = append(out, r)
	}
	return out, rows.Err()
}
