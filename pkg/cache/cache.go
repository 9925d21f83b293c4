package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned when a key is absent or expired.
var ErrMiss = errors.New("cache: key not found")

// Store is the cache contract used across sentinel-core. Backed by a
// Valkey/Redis node in production and by an in-process map when no
// cache endpoint is configured.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// MarkSeen records key for the given window and reports whether this
	// was the first sighting. Used for alarm webhook dedupe.
	MarkSeen(ctx context.Context, key string, window time.Duration) (bool, error)

	// AcquireLock/ReleaseLock implement a best-effort distributed lock so
	// multiple replicas do not stampede the same detection snapshot.
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error

	// CacheDetection mirrors the latest detection snapshot per source key
	// so a cold replica can serve warm reads.
	CacheDetection(ctx context.Context, source string, snapshot interface{}, ttl time.Duration) error
	GetCachedDetection(ctx context.Context, source string) ([]byte, error)

	HealthCheck(ctx context.Context) error
}
