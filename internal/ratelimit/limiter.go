// Package ratelimit provides fixed-window admission control keyed by a client
// identifier, usually the caller's IP. Counters live in an injectable Store:
// MemoryStore for a single instance, RedisStore when several instances must
// share one quota. A rejected request never consumes quota.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"lettertool/internal/logger"
	"lettertool/internal/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
)

// Defaults applied when a Config leaves a field unset.
const (
	DefaultMaxRequests   = 10
	DefaultWindowSeconds = 60
)

// Config is the quota for one endpoint: at most MaxRequests per window of
// WindowSeconds.
type Config struct {
	MaxRequests   int
	WindowSeconds int
}

// DefaultConfig returns {10, 60}.
func DefaultConfig() Config {
	return Config{MaxRequests: DefaultMaxRequests, WindowSeconds: DefaultWindowSeconds}
}

// Window returns the window length as a duration.
func (c Config) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// ConfigFrom builds the quota from the rate_limit configuration section.
func ConfigFrom(rc models.RateLimitConfig) (Config, error) {
	c := Config{MaxRequests: rc.MaxRequests, WindowSeconds: rc.WindowSeconds}
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("rate limit quota: %w", err)
	}
	return c, nil
}

func (c Config) Validate() error {
	if c.MaxRequests <= 0 {
		return errors.New("max requests must be positive")
	}
	if c.WindowSeconds <= 0 {
		return errors.New("window seconds must be positive")
	}
	return nil
}

// withDefaults fills non-positive fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxRequests <= 0 {
		c.MaxRequests = def.MaxRequests
	}
	if c.WindowSeconds <= 0 {
		c.WindowSeconds = def.WindowSeconds
	}
	return c
}

// Result is the outcome of one admission check. ResetIn is whole seconds
// until the window ends, rounded up, so a rejection never reports 0.
type Result struct {
	Success   bool
	Remaining int
	ResetIn   int
	Limit     int
}

// Store holds one counter per identifier. Take must apply the whole
// check-and-increment atomically. Implementations must be safe for
// concurrent use.
type Store interface {
	Take(ctx context.Context, key string, cfg Config, now time.Time) (Result, error)
	Close() error
}

// Limiter checks identifiers against a Store. When the store fails (for
// example Redis is unreachable) it degrades to a private MemoryStore so rate
// limiting never blocks a request with an error.
type Limiter struct {
	store    Store
	fallback *MemoryStore
	now      func() time.Time
	checks   metric.Int64Counter
	log      *slog.Logger

	deniedLog rate.Sometimes
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithFallback sets the store used when the primary store errors.
func WithFallback(m *MemoryStore) Option {
	return func(l *Limiter) { l.fallback = m }
}

// NewLimiter creates a Limiter over store.
func NewLimiter(store Store, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("rate limit store is required")
	}

	l := &Limiter{
		store:     store,
		now:       time.Now,
		log:       logger.Component("ratelimit"),
		deniedLog: rate.Sometimes{First: 5, Interval: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.fallback == nil {
		l.fallback = NewMemoryStore()
	}

	checks, err := otel.Meter("lettertool/ratelimit").Int64Counter(
		"ratelimit.checks",
		metric.WithDescription("Number of rate limit checks by outcome"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create check counter: %w", err)
	}
	l.checks = checks

	return l, nil
}

// Check admits or rejects one request from identifier under cfg.
func (l *Limiter) Check(ctx context.Context, identifier string, cfg Config) Result {
	cfg = cfg.withDefaults()
	now := l.now()

	res, err := l.store.Take(ctx, identifier, cfg, now)
	degraded := false
	if err != nil {
		degraded = true
		l.log.Warn("Rate limit store unavailable, using in-memory fallback", "error", err)
		res, _ = l.fallback.Take(ctx, identifier, cfg, now)
	}

	l.checks.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("allowed", res.Success),
		attribute.Bool("degraded", degraded),
	))

	if !res.Success {
		l.deniedLog.Do(func() {
			l.log.Warn("Rate limit exceeded",
				"key", identifier,
				"limit", res.Limit,
				"reset_in", res.ResetIn,
			)
		})
	}

	return res
}

// Now returns the limiter's current time.
func (l *Limiter) Now() time.Time {
	return l.now()
}

// Close releases the primary and fallback stores.
func (l *Limiter) Close() error {
	return errors.Join(l.store.Close(), l.fallback.Close())
}

// ceilSeconds rounds d up to whole seconds.
func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
