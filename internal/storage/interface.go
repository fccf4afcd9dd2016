package storage

import (
	"context"
	"time"

	"lettertool/internal/models"
)

// Storage defines the interface for letter persistence and retrieval.
// It provides a clean abstraction that can be implemented by different backends
// such as in-memory maps or SQL databases.
type Storage interface {
	// SaveLetter stores a new letter. Returns ErrAlreadyExists if the ID is taken.
	SaveLetter(ctx context.Context, letter *models.Letter) error

	// GetLetter retrieves a letter by its ID. Returns ErrNotFound if absent.
	GetLetter(ctx context.Context, id string) (*models.Letter, error)

	// CountLettersByCountry returns the number of stored letters per country site
	CountLettersByCountry(ctx context.Context) (map[string]int64, error)

	// Ping verifies the backend is reachable
	Ping(ctx context.Context) error

	// Close closes the storage connection and cleans up resources
	Close() error
}

// Config holds configuration for storage backends
type Config struct {
	// Type specifies the storage backend type (memory, sqlite, postgres)
	Type string `json:"type" yaml:"type"`

	// ConnectionString is used for database backends
	ConnectionString string `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`

	// Connection pool settings for database backends
	MaxOpenConns    int           `json:"max_open_conns,omitempty" yaml:"max_open_conns,omitempty"`
	MaxIdleConns    int           `json:"max_idle_conns,omitempty" yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime,omitempty" yaml:"conn_max_lifetime,omitempty"`
}
