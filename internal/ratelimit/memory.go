package ratelimit

import (
	"context"
	"sync"
	"time"
)

// DefaultHighWaterMark is the entry count above which a Take first purges
// every expired entry.
const DefaultHighWaterMark = 10000

// Entry is the counter for one identifier.
type Entry struct {
	Count     int
	ResetTime time.Time
}

// expired reports whether the entry's window has ended at now.
func (e *Entry) expired(now time.Time) bool {
	return !now.Before(e.ResetTime)
}

// MemoryStore is a process-local Store. Counters are per instance and are
// lost on restart. Cleanup is amortized: there is no background goroutine,
// a full scan runs only when the map grows past the high-water mark.
type MemoryStore struct {
	mu        sync.Mutex
	entries   map[string]*Entry
	highWater int
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithHighWaterMark sets the purge threshold. Values <= 0 keep the default.
func WithHighWaterMark(n int) MemoryOption {
	return func(m *MemoryStore) {
		if n > 0 {
			m.highWater = n
		}
	}
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		entries:   make(map[string]*Entry),
		highWater: DefaultHighWaterMark,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Take applies one fixed-window check for key at now.
func (m *MemoryStore) Take(_ context.Context, key string, cfg Config, now time.Time) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.entries) > m.highWater {
		m.purgeExpired(now)
	}

	e, ok := m.entries[key]
	if !ok || e.expired(now) {
		m.entries[key] = &Entry{Count: 1, ResetTime: now.Add(cfg.Window())}
		return Result{
			Success:   true,
			Remaining: cfg.MaxRequests - 1,
			ResetIn:   cfg.WindowSeconds,
			Limit:     cfg.MaxRequests,
		}, nil
	}

	resetIn := ceilSeconds(e.ResetTime.Sub(now))

	// Saturated windows are left untouched so rejections cost nothing.
	if e.Count >= cfg.MaxRequests {
		return Result{Success: false, Remaining: 0, ResetIn: resetIn, Limit: cfg.MaxRequests}, nil
	}

	e.Count++
	return Result{
		Success:   true,
		Remaining: cfg.MaxRequests - e.Count,
		ResetIn:   resetIn,
		Limit:     cfg.MaxRequests,
	}, nil
}

// Len returns the number of tracked identifiers.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close is a no-op; the map is released with the store.
func (m *MemoryStore) Close() error {
	return nil
}

// purgeExpired deletes every entry whose window has ended. Caller holds mu.
func (m *MemoryStore) purgeExpired(now time.Time) {
	for key, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, key)
		}
	}
}
