package redisstream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sodaframework/soda/core/idempotency"
)

const (
	recStatus      = "status"
	recProcessedAt = "processed_at"
	recError       = "error"
	recResults     = "handler_results"

	// cleanupBatchSize bounds one SCAN page and one DEL pipeline so cleanup
	// never blocks Redis on a large keyspace.
	cleanupBatchSize = 100
)

// RedisStore persists idempotency records as Redis hashes with a TTL that is
// refreshed on every write. Satisfies idempotency.Store.
type RedisStore struct {
	client StreamClient
	prefix string
	ttl    time.Duration
}

// StoreOption configures a RedisStore.
type StoreOption func(*RedisStore)

// WithStorePrefix sets the key namespace for idempotency records.
func WithStorePrefix(prefix string) StoreOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithStoreTTL sets the record lifetime.
func WithStoreTTL(ttl time.Duration) StoreOption {
	return func(s *RedisStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewRedisStore creates an idempotency store on the given Redis client.
func NewRedisStore(client StreamClient, opts ...StoreOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: "soda-events-idempotency",
		ttl:    idempotency.DefaultExpiration,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(id string) string {
	return s.prefix + ":" + id
}

// BeginProcessing claims the record for processing. HSETNX makes the initial
// claim atomic across consumers; a FAILED record is reclaimed so retries after
// a terminal failure can run again.
func (s *RedisStore) BeginProcessing(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, idempotency.ErrEmptyID
	}
	key := s.key(id)

	created, err := s.client.HSetNX(ctx, key, recStatus, string(idempotency.StatusProcessing)).Result()
	if err != nil {
		return false, err
	}
	if created {
		if err := s.touch(ctx, key); err != nil {
			return false, err
		}
		return true, nil
	}

	status, err := s.client.HGet(ctx, key, recStatus).Result()
	if err != nil {
		if err == redis.Nil {
			// Record expired between HSETNX and HGET; treat as a fresh claim.
			return s.BeginProcessing(ctx, id)
		}
		return false, err
	}

	if idempotency.Status(status) == idempotency.StatusFailed {
		if err := s.client.HSet(ctx, key, recStatus, string(idempotency.StatusProcessing)).Err(); err != nil {
			return false, err
		}
		if err := s.touch(ctx, key); err != nil {
			return false, err
		}
		return true, nil
	}

	return false, nil
}

// MarkSuccess records terminal success, replacing any previous state.
func (s *RedisStore) MarkSuccess(ctx context.Context, id string, results map[string]string) error {
	if id == "" {
		return idempotency.ErrEmptyID
	}
	key := s.key(id)

	fields := []any{
		recStatus, string(idempotency.StatusSuccess),
		recProcessedAt, time.Now().UTC().Format(time.RFC3339Nano),
	}
	if len(results) > 0 {
		data, err := json.Marshal(results)
		if err != nil {
			return err
		}
		fields = append(fields, recResults, string(data))
	}

	if err := s.client.HSet(ctx, key, fields...).Err(); err != nil {
		return err
	}
	return s.client.Expire(ctx, key, s.ttl).Err()
}

// MarkFailed records terminal failure with the error message.
func (s *RedisStore) MarkFailed(ctx context.Context, id string, errMsg string) error {
	if id == "" {
		return idempotency.ErrEmptyID
	}
	key := s.key(id)

	if err := s.client.HSet(ctx, key,
		recStatus, string(idempotency.StatusFailed),
		recProcessedAt, time.Now().UTC().Format(time.RFC3339Nano),
		recError, errMsg,
	).Err(); err != nil {
		return err
	}
	return s.client.Expire(ctx, key, s.ttl).Err()
}

// Status returns the current record, or nil when none exists.
func (s *RedisStore) Status(ctx context.Context, id string) (*idempotency.Record, error) {
	if id == "" {
		return nil, idempotency.ErrEmptyID
	}

	fields, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}

	rec := &idempotency.Record{
		Status: idempotency.Status(fields[recStatus]),
		Error:  fields[recError],
	}
	if v := fields[recProcessedAt]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			rec.ProcessedAt = t
		}
	}
	if v := fields[recResults]; v != "" {
		_ = json.Unmarshal([]byte(v), &rec.HandlerResults)
	}
	return rec, nil
}

// CleanupExpired sweeps the record namespace and deletes records whose
// processed_at is older than the TTL. Redis expiry removes most records on its
// own; the sweep catches records whose EXPIRE write was lost. Iterates with a
// cursor in bounded batches.
func (s *RedisStore) CleanupExpired(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.ttl)
	pattern := s.prefix + ":*"

	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, cleanupBatchSize).Result()
		if err != nil {
			return removed, err
		}

		var stale []string
		for _, key := range keys {
			v, err := s.client.HGet(ctx, key, recProcessedAt).Result()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				return removed, err
			}
			t, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				continue
			}
			if t.Before(cutoff) {
				stale = append(stale, key)
			}
		}

		if len(stale) > 0 {
			n, err := s.client.Del(ctx, stale...).Result()
			if err != nil {
				return removed, err
			}
			removed += int(n)
		}

		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

func (s *RedisStore) touch(ctx context.Context, key string) error {
	if err := s.client.HSet(ctx, key, recProcessedAt, time.Now().UTC().Format(time.RFC3339Nano)).Err(); err != nil {
		return err
	}
	return s.client.Expire(ctx, key, s.ttl).Err()
}

var _ idempotency.Store = (*RedisStore)(nil)
