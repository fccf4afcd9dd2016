package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// dbTimeLayout is the text layout used for timestamps in SQLite, which has no
// native time type. Fixed-width so lexical order matches time order.
const dbTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// formatDBTime converts a time to its stored text form in UTC.
func formatDBTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

// parseDBTime converts stored text back to a time.
func parseDBTime(s string) (time.Time, error) {
	t, err := time.Parse(dbTimeLayout, s)
	if err != nil {
		// Rows written by other tools may use plain RFC3339
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
		}
	}
	return t.UTC(), nil
}

// toNullString maps an empty string to SQL NULL.
func toNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// fromNullString maps SQL NULL to an empty string.
func fromNullString(ns sql.NullString) string {
	if !ns.Valid {
		return ""
	}
	return ns.String
}
