package database

import (
	"github.com/google/uuid"
)

// InsertKeywordAlert records an external keyword hit and returns it with its id.
func (db *DB) InsertKeywordAlert(a KeywordAlert) (*KeywordAlert, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if _, err := db.conn.Exec(
		`INSERT INTO keyword_alerts (id, keyword, message, username, chat_id) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.Keyword, a.Message, a.User, a.ChatID,
	); err != nil {
		return nil, err
	}

	row := db.conn.QueryRow(`SELECT received_at FROM keyword_alerts WHERE id = ?`, a.ID)
	if err := row.Scan(&a.ReceivedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// RecentKeywordAlerts returns up to limit alerts, newest first.
func (db *DB) RecentKeywordAlerts(limit int) ([]KeywordAlert, error) {
	rows, err := db.conn.Query(
		`SELECT id, keyword, message, username, chat_id, received_at
		FROM keyword_alerts ORDER BY received_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []KeywordAlert
	for rows.Next() {
		var a KeywordAlert
		if err := rows.Scan(&a.ID, &a.Keyword, &a.Message, &a.User, &a.ChatID, &a.ReceivedAt); err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
