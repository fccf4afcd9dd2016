package storage

import (
	"context"
	"errors"
	"fmt"

	"lettertool/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
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
	created_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_letters_country ON letters(country);
`

// PostgresStorage implements the Storage interface using PostgreSQL through a
// pgx connection pool.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage creates a new PostgreSQL storage instance.
func NewPostgresStorage(config Config) (*PostgresStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL storage")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(min(config.MaxIdleConns, int(poolConfig.MaxConns)))
	}
	if config.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = config.ConnMaxLifetime
	}

	ctx := context.Background()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &PostgresStorage{pool: pool}, nil
}

// SaveLetter stores a new letter.
func (ps *PostgresStorage) SaveLetter(ctx context.Context, letter *models.Letter) error {
	if letter == nil || letter.ID == "" {
		return fmt.Errorf("letter ID is required")
	}

	tag, err := ps.pool.Exec(ctx, `
		INSERT INTO letters (
			id, country, representative_id, sender_name, sender_email,
			postcode, subject, body, status, client_ip, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`,
		letter.ID,
		letter.Country,
		letter.RepresentativeID,
		letter.SenderName,
		letter.SenderEmail,
		toPgText(letter.Postcode),
		letter.Subject,
		letter.Body,
		letter.Status,
		toPgText(letter.ClientIP),
		letter.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert letter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("letter %s: %w", letter.ID, ErrAlreadyExists)
	}

	return nil
}

// GetLetter retrieves a letter by its ID.
func (ps *PostgresStorage) GetLetter(ctx context.Context, id string) (*models.Letter, error) {
	var (
		letter   models.Letter
		postcode pgtype.Text
		clientIP pgtype.Text
	)

	err := ps.pool.QueryRow(ctx, `
		SELECT id, country, representative_id, sender_name, sender_email,
		       postcode, subject, body, status, client_ip, created_at
		FROM letters WHERE id = $1`, id,
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
		&letter.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("letter %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get letter: %w", err)
	}

	letter.Postcode = postcode.String
	letter.ClientIP = clientIP.String
	letter.CreatedAt = letter.CreatedAt.UTC()

	return &letter, nil
}

// CountLettersByCountry returns the number of letters per country site.
func (ps *PostgresStorage) CountLettersByCountry(ctx context.Context) (map[string]int64, error) {
	rows, err := ps.pool.Query(ctx, `SELECT country, COUNT(*) FROM letters GROUP BY country`)
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

// Ping verifies the database is reachable.
func (ps *PostgresStorage) Ping(ctx context.Context) error {
	return ps.pool.Ping(ctx)
}

// Close closes the connection pool.
func (ps *PostgresStorage) Close() error {
	ps.pool.Close()
	return nil
}

func toPgText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}
