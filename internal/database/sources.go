package database

import (
	"database/sql"
	"fmt"
	"strings"
)

// SourceIDFromTitle derives a registry id from a title: lower-cased, spaces removed.
func SourceIDFromTitle(title string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(title)), " ", "")
}

// InsertSource appends a source to the end of the registry.
func (db *DB) InsertSource(src Source) (*Source, error) {
	if src.ID == "" {
		src.ID = SourceIDFromTitle(src.Title)
	}
	if src.ID == "" || src.FeedURL == "" {
		return nil, fmt.Errorf("source needs a title or id and a feed url")
	}

	_, err := db.conn.Exec(
		`INSERT INTO sources (id, title, feed_url, position)
		VALUES (?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM sources))`,
		src.ID, src.Title, src.FeedURL,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting source %s: %w", src.ID, err)
	}
	return db.GetSource(src.ID)
}

// ListSources returns the registry in insertion order.
func (db *DB) ListSources() ([]Source, error) {
	rows, err := db.conn.Query(
		`SELECT id, title, feed_url, position, created_at FROM sources ORDER BY position, rowid`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		var s Source
		if err := rows.Scan(&s.ID, &s.Title, &s.FeedURL, &s.Position, &s.CreatedAt); err != nil {
			return nil, err
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

// GetSource returns a single source, or nil if it does not exist.
func (db *DB) GetSource(id string) (*Source, error) {
	row := db.conn.QueryRow(
		`SELECT id, title, feed_url, position, created_at FROM sources WHERE id = ?`, id,
	)
	var s Source
	if err := row.Scan(&s.ID, &s.Title, &s.FeedURL, &s.Position, &s.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// UpdateSource changes the title and/or feed url of a source.
func (db *DB) UpdateSource(id string, title, feedURL *string) error {
	var updates []string
	var args []any

	if title != nil {
		updates = append(updates, "title = ?")
		args = append(args, *title)
	}
	if feedURL != nil {
		updates = append(updates, "feed_url = ?")
		args = append(args, *feedURL)
	}

	if len(updates) == 0 {
		existing, err := db.GetSource(id)
		if err != nil {
			return err
		}
		if existing == nil {
			return ErrNotFound
		}
		return nil
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE sources SET %s WHERE id = ?", strings.Join(updates, ", "))
	result, err := db.conn.Exec(query, args...)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// DeleteSource removes a source from the registry.
func (db *DB) DeleteSource(id string) error {
	result, err := db.conn.Exec("DELETE FROM sources WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// SeedSources inserts the given sources when the registry is empty.
// Returns the number inserted.
func (db *DB) SeedSources(seed []Source) (int, error) {
	var count int
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM sources").Scan(&count); err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}

	inserted := 0
	for _, s := range seed {
		if _, err := db.InsertSource(s); err != nil {
			return inserted, err
		}
		inserted++
	}
	return inserted, nil
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
