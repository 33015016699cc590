package database

import (
	"time"
)

const dateLayout = "2006-01-02"

// GetToday returns today's date as YYYY-MM-DD in the process-local timezone.
func GetToday() string {
	return time.Now().Format(dateLayout)
}

// DateOf returns the local calendar date of t as YYYY-MM-DD.
func DateOf(t time.Time) string {
	return t.In(time.Local).Format(dateLayout)
}

// FormatDateDisplay formats a YYYY-MM-DD date for human-readable display,
// e.g. "Feb 06, 2026".
func FormatDateDisplay(date string) string {
	d, err := time.Parse(dateLayout, date)
	if err != nil {
		return date
	}
	return d.Format("Jan 02, 2006")
}
