package db

import (
	"encoding/json"
	"fmt"

	"github.com/banshee-data/curbwatch/internal/evidence"
)

// SaveBundle stores b, replacing any bundle with the same ID.
func (db *DB) SaveBundle(b evidence.Bundle) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode bundle %s: %w", b.ID, err)
	}
	_, err = db.Exec(`
		INSERT INTO evidence_queue (bundle_id, camera_id, trigger_unix_ns, expires_unix_ns, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(bundle_id) DO UPDATE SET
			camera_id = excluded.camera_id,
			trigger_unix_ns = excluded.trigger_unix_ns,
			expires_unix_ns = excluded.expires_unix_ns,
			payload = excluded.payload`,
		b.ID, b.CameraID, unixNano(b.TriggerTimestamp), unixNano(b.ExpiresAt), string(payload),
	)
	if err != nil {
		return fmt.Errorf("save bundle %s: %w", b.ID, err)
	}
	return nil
}

// DeleteBundle removes the bundle with id.
func (db *DB) DeleteBundle(id string) error {
	if _, err := db.Exec(`DELETE FROM evidence_queue WHERE bundle_id = ?`, id); err != nil {
		return fmt.Errorf("delete bundle %s: %w", id, err)
	}
	return nil
}

// LoadBundles returns every stored bundle, oldest trigger first.
func (db *DB) LoadBundles() ([]evidence.Bundle, error) {
	rows, err := db.Query(`SELECT payload FROM evidence_queue ORDER BY trigger_unix_ns, bundle_id`)
	if err != nil {
		return nil, fmt.Errorf("query evidence queue: %w", err)
	}
	defer rows.Close()

	var out []evidence.Bundle
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var b evidence.Bundle
		if err := json.Unmarshal([]byte(payload), &b); err != nil {
			return nil, fmt.Errorf("decode bundle: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

var _ evidence.Store = (*DB)(nil)
