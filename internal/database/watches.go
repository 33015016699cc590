package database

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// InsertWatch creates a watch. A missing id is filled with a random UUID.
func (db *DB) InsertWatch(w Watch) (*Watch, error) {
	w.Name = strings.TrimSpace(w.Name)
	// The keyword is stored as given; padding is meaningful when matching.
	if strings.TrimSpace(w.Keyword) == "" {
		return nil, fmt.Errorf("watch keyword is required")
	}
	if w.Name == "" {
		w.Name = strings.TrimSpace(w.Keyword)
	}
	if w.ID == "" {
		w.ID = uuid.NewString()
	}

	if _, err := db.conn.Exec(
		`INSERT INTO watches (id, name, keyword) VALUES (?, ?, ?)`,
		w.ID, w.Name, w.Keyword,
	); err != nil {
		return nil, fmt.Errorf("inserting watch %s: %w", w.ID, err)
	}
	return db.GetWatch(w.ID)
}

// ListWatches returns all watches, oldest first.
func (db *DB) ListWatches() ([]Watch, error) {
	rows, err := db.conn.Query(
		`SELECT id, name, keyword, created_at FROM watches ORDER BY created_at, rowid`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var watches []Watch
	for rows.Next() {
		var w Watch
		if err := rows.Scan(&w.ID, &w.Name, &w.Keyword, &w.CreatedAt); err != nil {
			return nil, err
		}
		watches = append(watches, w)
	}
	return watches, rows.Err()
}

// GetWatch returns a single watch, or nil if it does not exist.
func (db *DB) GetWatch(id string) (*Watch, error) {
	row := db.conn.QueryRow(`SELECT id, name, keyword, created_at FROM watches WHERE id = ?`, id)
	var w Watch
	if err := row.Scan(&w.ID, &w.Name, &w.Keyword, &w.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &w, nil
}

// DeleteWatch removes a watch. Its report log is kept.
func (db *DB) DeleteWatch(id string) error {
	result, err := db.conn.Exec("DELETE FROM watches WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireAffected(result)
}
