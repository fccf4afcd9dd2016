package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"lettertool/internal/models"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS letters (
	id                TEXT PRIMARY KEY,
	country           TEXT NOT NULL,
	representative_id TEXT NOT NULL,
	sender_name       TEXT NOT NULL,
	sender_email      TEXT NOT NULL,
	postcode          TEXT,
	subject           TEXT NOT NULL,
	body              TEXT NOT NULL,
	status            TEXT NOT NULL,
	client_ip         TEXT,
	created_at        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_letters_country ON letters(country);
`

// SQLiteStorage implements the Storage interface on an embedded SQLite
// database using the pure-Go modernc driver.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens the database at config.ConnectionString and ensures
// the schema exists.
func NewSQLiteStorage(config Config) (*SQLiteStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for SQLite storage")
	}

	db, err := sql.Open("sqlite", config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has a single writer, and every connection to :memory: is a
	// separate database. One connection serves both cases.
	db.SetMaxOpenConns(1)
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	ctx := context.Background()

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// SaveLetter stores a new letter
func (ss *SQLiteStorage) SaveLetter(ctx context.Context, letter *models.Letter) error {
	if letter == nil || letter.ID == "" {
		return fmt.Errorf("letter ID is required")
	}

	res, err := ss.db.ExecContext(ctx, `
		INSERT INTO letters (
			id, country, representative_id, sender_name, sender_email,
			postcode, subject, body, status, client_ip, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		letter.ID,
		letter.Country,
		letter.RepresentativeID,
		letter.SenderName,
		letter.SenderEmail,
		toNullString(letter.Postcode),
		letter.Subject,
		letter.Body,
		letter.Status,
		toNullString(letter.ClientIP),
		formatDBTime(letter.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert letter: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check insert result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("letter %s: %w", letter.ID, ErrAlreadyExists)
	}

	return nil
}

// GetLetter retrieves a letter by its ID
func (ss *SQLiteStorage) GetLetter(ctx context.Context, id string) (*models.Letter, error) {
	var (
		letter    models.Letter
		postcode  sql.NullString
		clientIP  sql.NullString
		createdAt string
	)

	err := ss.db.QueryRowContext(ctx, `
		SELECT id, country, representative_id, sender_name, sender_email,
		       postcode, subject, body, status, client_ip, created_at
		FROM letters WHERE id = ?`, id,
	).Scan(
		&letter.ID,
		&letter.Country,
		&letter.RepresentativeID,
		&letter.SenderName,
		&letter.SenderEmail,
		&postcode,
		&letter.Subject,
		&letter.Body,
		&letter.Status,
		&clientIP,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("letter %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get letter: %w", err)
	}

	letter.Postcode = fromNullString(postcode)
	letter.ClientIP = fromNullString(clientIP)
	if letter.CreatedAt, err = parseDBTime(createdAt); err != nil {
		return nil, err
	}

	return &letter, nil
}

// CountLettersByCountry returns the number of letters per country site
func (ss *SQLiteStorage) CountLettersByCountry(ctx context.Context) (map[string]int64, error) {
	rows, err := ss.db.QueryContext(ctx, `SELECT country, COUNT(*) FROM letters GROUP BY country`)
	if err != nil {
		return nil, fmt.Errorf("failed to count letters: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			country string
			n       int64
		)
		if err := rows.Scan(&country, &n); err != nil {
			return nil, fmt.Errorf("failed to scan letter count: %w", err)
		}
		counts[country] = n
	}

	return counts, rows.Err()
}

// Ping verifies the database is reachable
func (ss *SQLiteStorage) Ping(ctx context.Context) error {
	return ss.db.PingContext(ctx)
}

// Close closes the storage connection
func (ss *SQLiteStorage) Close() error {
	return ss.db.Close()
}
