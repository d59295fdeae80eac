package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations. The main consumer is
// the stats service, which caches per-merchant monthly aggregates so the
// repository is not re-queried for every transaction in the same month.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// GetMonthlyStats retrieves cached monthly aggregates for a merchant.
	// month is formatted "2006-01".
	GetMonthlyStats(ctx context.Context, merchantID, month string) (*MonthlyStats, error)

	// SetMonthlyStats caches monthly aggregates.
	SetMonthlyStats(ctx context.Context, merchantID, month string, stats *MonthlyStats, ttl time.Duration) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
