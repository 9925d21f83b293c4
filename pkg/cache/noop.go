package cache

import (
	"context"
	"sync"
	"time"

	"github.com/opsforge/sentinel-core/pkg/logger"
)

// memoryStore is an in-process fallback that satisfies Store when no cache
// endpoint is configured or reachable. Best-effort only: nothing is shared
// across replicas and everything is lost on restart.
type memoryStore struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	now     func() time.Time
}

type memEntry struct {
	data    []byte
	expires time.Time // zero means no expiry
}

func NewMemoryStore(log logger.Logger) Store {
	if log != nil {
		log.Warn("cache endpoint unavailable; using in-memory fallback")
	}
	return &memoryStore{entries: make(map[string]memEntry), now: time.Now}
}

func (m *memoryStore) get(key string) ([]byte, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !e.expires.IsZero() && m.now().After(e.expires) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return nil, false
	}
	return e.data, true
}

func (m *memoryStore) put(key string, data []byte, ttl time.Duration) {
	e := memEntry{data: data}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
}

func (m *memoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if b, ok := m.get(key); ok {
		return b, nil
	}
	return nil, ErrMiss
}

func (m *memoryStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	m.put(key, data, ttl)
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) MarkSeen(ctx context.Context, key string, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := "seen:" + key
	if e, ok := m.entries[k]; ok && (e.expires.IsZero() || m.now().Before(e.expires)) {
		return false, nil
	}
	e := memEntry{data: []byte("1")}
	if window > 0 {
		e.expires = m.now().Add(window)
	}
	m.entries[k] = e
	return true, nil
}

func (m *memoryStore) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return m.MarkSeen(ctx, "lock-"+key, ttl)
}

func (m *memoryStore) ReleaseLock(ctx context.Context, key string) error {
	return m.Delete(ctx, "seen:lock-"+key)
}

func (m *memoryStore) CacheDetection(ctx context.Context, source string, snapshot interface{}, ttl time.Duration) error {
	return m.Set(ctx, "detect:"+source, snapshot, ttl)
}

func (m *memoryStore) GetCachedDetection(ctx context.Context, source string) ([]byte, error) {
	return m.Get(ctx, "detect:"+source)
}

func (m *memoryStore) HealthCheck(ctx context.Context) error { return nil }
