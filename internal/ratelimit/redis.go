package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lettertool/internal/models"

	"github.com/redis/go-redis/v9"
)

// takeScript runs the fixed-window check atomically on the server.
// Returns {count, ttl_ms, allowed}.
var takeScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local max = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

if current == 0 then
	redis.call('SET', KEYS[1], 1, 'PX', window)
	return {1, window, 1}
end

local ttl = redis.call('PTTL', KEYS[1])
if ttl <= 0 then
	redis.call('SET', KEYS[1], 1, 'PX', window)
	return {1, window, 1}
end

if current >= max then
	return {current, ttl, 0}
end

current = redis.call('INCR', KEYS[1])
return {current, ttl, 1}
`)

// RedisStore keeps counters in Redis so every instance shares one quota per
// identifier. Window expiry is driven by the Redis server clock, so the now
// argument of Take is ignored.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps client. The store owns the client and closes it on Close.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: strings.Trim(prefix, ":"),
	}
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(cfg models.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return client, nil
}

// Take applies one fixed-window check for key.
func (s *RedisStore) Take(ctx context.Context, key string, cfg Config, _ time.Time) (Result, error) {
	vals, err := takeScript.Run(ctx, s.client, []string{s.key(key)},
		cfg.MaxRequests, cfg.Window().Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("rate limit script failed: %w", err)
	}
	if len(vals) != 3 {
		return Result{}, fmt.Errorf("unexpected rate limit script reply: %v", vals)
	}

	count, ttl, allowed := vals[0], vals[1], vals[2]
	resetIn := ceilSeconds(time.Duration(ttl) * time.Millisecond)

	if allowed == 0 {
		return Result{Success: false, Remaining: 0, ResetIn: resetIn, Limit: cfg.MaxRequests}, nil
	}

	return Result{
		Success:   true,
		Remaining: cfg.MaxRequests - int(count),
		ResetIn:   resetIn,
		Limit:     cfg.MaxRequests,
	}, nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(identifier string) string {
	if s.prefix == "" {
		return identifier
	}
	return s.prefix + ":" + identifier
}
