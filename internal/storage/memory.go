package storage

import (
	"context"
	"fmt"
	"sync"

	"lettertool/internal/models"
)

// MemoryStorage implements the Storage interface using in-memory data structures.
// This provider is ideal for development, testing, and scenarios where data
// persistence is not required. It provides fast access but data is lost on restart.
type MemoryStorage struct {
	mu      sync.RWMutex
	letters map[string]*models.Letter
}

// NewMemoryStorage creates a new memory-based storage instance
func NewMemoryStorage(config Config) (*MemoryStorage, error) {
	return &MemoryStorage{
		letters: make(map[string]*models.Letter),
	}, nil
}

// SaveLetter stores a new letter
func (m *MemoryStorage) SaveLetter(ctx context.Context, letter *models.Letter) error {
	if letter == nil || letter.ID == "" {
		return fmt.Errorf("letter ID is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.letters[letter.ID]; exists {
		return fmt.Errorf("letter %s: %w", letter.ID, ErrAlreadyExists)
	}

	// Store a copy to prevent external modification
	letterCopy := *letter
	m.letters[letter.ID] = &letterCopy

	return nil
}

// GetLetter retrieves a letter by its ID
func (m *MemoryStorage) GetLetter(ctx context.Context, id string) (*models.Letter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	letter, exists := m.letters[id]
	if !exists {
		return nil, fmt.Errorf("letter %s: %w", id, ErrNotFound)
	}

	// Return a copy
	letterCopy := *letter
	return &letterCopy, nil
}

// CountLettersByCountry returns the number of letters per country site
func (m *MemoryStorage) CountLettersByCountry(ctx context.Context) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int64)
	for _, letter := range m.letters {
		counts[letter.Country]++
	}

	return counts, nil
}

// Ping always succeeds for in-memory storage
func (m *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}

// Close clears all stored letters
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.letters = make(map[string]*models.Letter)
	return nil
}
