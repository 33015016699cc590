package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

const snapshotKey = "snapshot"

func reportLogKey(watchID string) string {
	return "reports/" + watchID
}

// GetDocument reads a whole document. Returns nil if the key is absent.
func (db *DB) GetDocument(key string) ([]byte, error) {
	var body string
	err := db.conn.QueryRow("SELECT body FROM documents WHERE key = ?", key).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading document %s: %w", key, err)
	}
	return []byte(body), nil
}

// PutDocument replaces a whole document.
func (db *DB) PutDocument(key string, body []byte) error {
	_, err := db.conn.Exec(
		`INSERT INTO documents (key, body, updated_at) VALUES (?, ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		key, string(body),
	)
	if err != nil {
		return fmt.Errorf("writing document %s: %w", key, err)
	}
	return nil
}

// UpdateDocument reads a document, passes it to fn and writes the result back
// in one transaction. fn receives nil for an absent key.
func (db *DB) UpdateDocument(key string, fn func(old []byte) ([]byte, error)) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var old []byte
	var body string
	switch err := tx.QueryRow("SELECT body FROM documents WHERE key = ?", key).Scan(&body); err {
	case nil:
		old = []byte(body)
	case sql.ErrNoRows:
	default:
		return fmt.Errorf("reading document %s: %w", key, err)
	}

	updated, err := fn(old)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(
		`INSERT INTO documents (key, body, updated_at) VALUES (?, ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		key, string(updated),
	); err != nil {
		return fmt.Errorf("writing document %s: %w", key, err)
	}
	return tx.Commit()
}

// LoadSnapshot returns the items of the last completed fetch cycle.
func (db *DB) LoadSnapshot() ([]Item, error) {
	data, err := db.GetDocument(snapshotKey)
	if err != nil || data == nil {
		return nil, err
	}
	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return items, nil
}

// SaveSnapshot replaces the snapshot.
func (db *DB) SaveSnapshot(items []Item) error {
	if items == nil {
		items = []Item{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	return db.PutDocument(snapshotKey, data)
}

// LoadReports returns a watch's report log in append order.
func (db *DB) LoadReports(watchID string) ([]Report, error) {
	data, err := db.GetDocument(reportLogKey(watchID))
	if err != nil || data == nil {
		return nil, err
	}
	return decodeReports(data)
}

// AppendReport appends one report to a watch's log. Prior entries are never touched.
func (db *DB) AppendReport(watchID string, r Report) error {
	return db.UpdateDocument(reportLogKey(watchID), func(old []byte) ([]byte, error) {
		var reports []Report
		if old != nil {
			var err error
			if reports, err = decodeReports(old); err != nil {
				return nil, err
			}
		}
		reports = append(reports, r)
		return json.Marshal(reports)
	})
}

func decodeReports(data []byte) ([]Report, error) {
	var reports []Report
	if err := json.Unmarshal(data, &reports); err != nil {
		return nil, fmt.Errorf("decoding report log: %w", err)
	}
	return reports, nil
}
