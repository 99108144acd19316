package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrVersionConflict is returned when a save races another writer: the
// stored version no longer matches the one the caller read.
var ErrVersionConflict = errors.New("state version conflict")

// LoadState decodes the value stored under key into v and returns its
// version. found is false when nothing has been saved yet. A row that no
// longer decodes returns its version with the error so the caller can
// overwrite it.
func (db *DB) LoadState(key string, v any) (version uint64, found bool, err error) {
	var raw string
	err = db.QueryRow(`SELECT version, value FROM detection_state WHERE key = ?`, key).Scan(&version, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load state %q: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return version, false, fmt.Errorf("decode state %q: %w", key, err)
	}
	return version, true, nil
}

// SaveState writes v under key at version next, provided the stored version
// still equals expected. A missing row counts as version 0.
func (db *DB) SaveState(key string, v any, expected, next uint64, at time.Time) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode state %q: %w", key, err)
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current uint64
	err = tx.QueryRow(`SELECT version FROM detection_state WHERE key = ?`, key).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if expected != 0 {
			return fmt.Errorf("%w: %q missing, expected version %d", ErrVersionConflict, key, expected)
		}
		if _, err := tx.Exec(
			`INSERT INTO detection_state (key, version, value, updated_unix_ns) VALUES (?, ?, ?, ?)`,
			key, next, string(raw), unixNano(at),
		); err != nil {
			return fmt.Errorf("insert state %q: %w", key, err)
		}
	case err != nil:
		return fmt.Errorf("read state version %q: %w", key, err)
	default:
		if current != expected {
			return fmt.Errorf("%w: %q at version %d, expected %d", ErrVersionConflict, key, current, expected)
		}
		if _, err := tx.Exec(
			`UPDATE detection_state SET version = ?, value = ?, updated_unix_ns = ? WHERE key = ?`,
			next, string(raw), unixNano(at), key,
		); err != nil {
			return fmt.Errorf("update state %q: %w", key, err)
		}
	}
	return tx.Commit()
}

// DeleteState removes key. Deleting a missing key is not an error.
func (db *DB) DeleteState(key string) error {
	_, err := db.Exec(`DELETE FROM detection_state WHERE key = ?`, key)
	return err
}
