package idempotency

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DefaultExpiration bounds record lifetime when no TTL is configured.
const DefaultExpiration = 24 * time.Hour

// MemoryStore is an in-process Store backed by a TTL cache. Suitable for the
// in-process bus configuration and for tests; stream deployments use the
// Redis-backed store so records are shared across the consumer group.
type MemoryStore struct {
	cache *gocache.Cache
	mu    sync.Mutex
}

// NewMemoryStore creates a memory store whose records expire after ttl.
// The background sweep runs at twice the ttl.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultExpiration
	}
	return &MemoryStore{
		cache: gocache.New(ttl, 2*ttl),
	}
}

// BeginProcessing implements Store. The mutex serializes the read-check-write
// so two local workers cannot both claim the same event.
func (s *MemoryStore) BeginProcessing(_ context.Context, id string) (bool, error) {
	if id == "" {
		return false, ErrEmptyID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.cache.Get(id); ok {
		rec := v.(Record)
		if rec.Status == StatusSuccess || rec.Status == StatusProcessing {
			return false, nil
		}
	}

	s.cache.SetDefault(id, Record{Status: StatusProcessing, ProcessedAt: time.Now()})
	return true, nil
}

// MarkSuccess implements Store.
func (s *MemoryStore) MarkSuccess(_ context.Context, id string, results map[string]string) error {
	if id == "" {
		return ErrEmptyID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.SetDefault(id, Record{
		Status:         StatusSuccess,
		ProcessedAt:    time.Now(),
		HandlerResults: results,
	})
	return nil
}

// MarkFailed implements Store.
func (s *MemoryStore) MarkFailed(_ context.Context, id string, errMsg string) error {
	if id == "" {
		return ErrEmptyID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.SetDefault(id, Record{
		Status:      StatusFailed,
		ProcessedAt: time.Now(),
		Error:       errMsg,
	})
	return nil
}

// Status implements Store.
func (s *MemoryStore) Status(_ context.Context, id string) (*Record, error) {
	if id == "" {
		return nil, ErrEmptyID
	}

	if v, ok := s.cache.Get(id); ok {
		rec := v.(Record)
		return &rec, nil
	}
	return nil, nil
}

// CleanupExpired implements Store by forcing a sweep of expired entries.
func (s *MemoryStore) CleanupExpired(_ context.Context) (int, error) {
	before := s.cache.ItemCount()
	s.cache.DeleteExpired()
	removed := before - s.cache.ItemCount()
	if removed < 0 {
		removed = 0
	}
	return removed, nil
}
