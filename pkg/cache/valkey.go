package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/opsforge/sentinel-core/internal/metrics"
)

// valkeyStore implements Store against a single Valkey/Redis node.
type valkeyStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewValkeyStore(addr string, db int, password string, defaultTTL time.Duration) (Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to valkey %s: %w", addr, err)
	}

	return &valkeyStore{client: client, ttl: defaultTTL}, nil
}

func (v *valkeyStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := v.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		metrics.CacheOperations.WithLabelValues("get", "miss").Inc()
		return nil, ErrMiss
	}
	if err != nil {
		metrics.CacheOperations.WithLabelValues("get", "error").Inc()
		return nil, err
	}
	metrics.CacheOperations.WithLabelValues("get", "hit").Inc()
	return b, nil
}

func (v *valkeyStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		metrics.CacheOperations.WithLabelValues("set", "error").Inc()
		return fmt.Errorf("marshal value for key %s: %w", key, err)
	}
	if ttl <= 0 {
		ttl = v.ttl
	}
	if err := v.client.Set(ctx, key, data, ttl).Err(); err != nil {
		metrics.CacheOperations.WithLabelValues("set", "error").Inc()
		return err
	}
	metrics.CacheOperations.WithLabelValues("set", "success").Inc()
	return nil
}

func (v *valkeyStore) Delete(ctx context.Context, key string) error {
	if err := v.client.Del(ctx, key).Err(); err != nil {
		metrics.CacheOperations.WithLabelValues("delete", "error").Inc()
		return err
	}
	metrics.CacheOperations.WithLabelValues("delete", "success").Inc()
	return nil
}

func (v *valkeyStore) MarkSeen(ctx context.Context, key string, window time.Duration) (bool, error) {
	first, err := v.client.SetNX(ctx, "seen:"+key, 1, window).Result()
	if err != nil {
		metrics.CacheOperations.WithLabelValues("mark_seen", "error").Inc()
		return false, err
	}
	if first {
		metrics.CacheOperations.WithLabelValues("mark_seen", "first").Inc()
	} else {
		metrics.CacheOperations.WithLabelValues("mark_seen", "duplicate").Inc()
	}
	return first, nil
}

func (v *valkeyStore) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	set, err := v.client.SetNX(ctx, "lock:"+key, "locked", ttl).Result()
	if err != nil {
		metrics.CacheOperations.WithLabelValues("acquire_lock", "error").Inc()
		return false, err
	}
	if set {
		metrics.CacheOperations.WithLabelValues("acquire_lock", "success").Inc()
	} else {
		metrics.CacheOperations.WithLabelValues("acquire_lock", "conflict").Inc()
	}
	return set, nil
}

func (v *valkeyStore) ReleaseLock(ctx context.Context, key string) error {
	return v.client.Del(ctx, "lock:"+key).Err()
}

func (v *valkeyStore) CacheDetection(ctx context.Context, source string, snapshot interface{}, ttl time.Duration) error {
	return v.Set(ctx, "detect:"+source, snapshot, ttl)
}

func (v *valkeyStore) GetCachedDetection(ctx context.Context, source string) ([]byte, error) {
	return v.Get(ctx, "detect:"+source)
}

func (v *valkeyStore) HealthCheck(ctx context.Context) error {
	if ctx == nil {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ctx = c
	}
	return v.client.Ping(ctx).Err()
}

func encode(value interface{}) ([]byte, error) {
	switch x := value.(type) {
	case []byte:
		return x, nil
	case string:
		return []byte(x), nil
	default:
		return json.Marshal(x)
	}
}
