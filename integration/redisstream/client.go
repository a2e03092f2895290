package redisstream

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// StreamClient is the slice of the Redis API the transport depends on.
// *redis.Client and *redis.ClusterClient satisfy it; tests run against an
// in-memory implementation.
type StreamClient interface {
	// Stream operations
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XLen(ctx context.Context, stream string) *redis.IntCmd
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd

	// Idempotency record operations
	HSetNX(ctx context.Context, key, field string, value any) *redis.BoolCmd
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

var _ StreamClient = (*redis.Client)(nil)
