package redisstream_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sodaframework/soda/integration/redisstream"
)

// fakeRedis is an in-memory StreamClient covering the slice of Redis the
// transport uses: streams with one consumer group cursor, hashes, and key
// scans. Single-group semantics are enough for these tests.
type fakeRedis struct {
	mu      sync.Mutex
	streams map[string][]redis.XMessage
	cursors map[string]int // "<stream>/<group>" -> next unread index
	groups  map[string]bool
	acked   map[string][]string
	hashes  map[string]map[string]string
	nextID  int

	xaddErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		streams: make(map[string][]redis.XMessage),
		cursors: make(map[string]int),
		groups:  make(map[string]bool),
		acked:   make(map[string][]string),
		hashes:  make(map[string]map[string]string),
	}
}

var _ redisstream.StreamClient = (*fakeRedis)(nil)

func (f *fakeRedis) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.xaddErr != nil {
		return redis.NewStringResult("", f.xaddErr)
	}

	f.nextID++
	id := fmt.Sprintf("%d-0", f.nextID)
	values := make(map[string]any, len(a.Values.(map[string]any)))
	for k, v := range a.Values.(map[string]any) {
		values[k] = v
	}
	f.streams[a.Stream] = append(f.streams[a.Stream], redis.XMessage{ID: id, Values: values})
	return redis.NewStringResult(id, nil)
}

func (f *fakeRedis) XLen(ctx context.Context, stream string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	return redis.NewIntResult(int64(len(f.streams[stream])), nil)
}

func (f *fakeRedis) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := stream + "/" + group
	if f.groups[key] {
		return redis.NewStatusResult("", fmt.Errorf("BUSYGROUP Consumer Group name already exists"))
	}
	f.groups[key] = true
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	stream := a.Streams[0]
	key := stream + "/" + a.Group
	msgs := f.streams[stream]
	cursor := f.cursors[key]

	if cursor >= len(msgs) {
		return redis.NewXStreamSliceCmdResult(nil, redis.Nil)
	}

	end := len(msgs)
	if a.Count > 0 && cursor+int(a.Count) < end {
		end = cursor + int(a.Count)
	}

	batch := make([]redis.XMessage, end-cursor)
	copy(batch, msgs[cursor:end])
	f.cursors[key] = end

	return redis.NewXStreamSliceCmdResult([]redis.XStream{{Stream: stream, Messages: batch}}, nil)
}

func (f *fakeRedis) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked[stream] = append(f.acked[stream], ids...)
	return redis.NewIntResult(int64(len(ids)), nil)
}

func (f *fakeRedis) HSetNX(ctx context.Context, key, field string, value any) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	h, ok := f.hashes[key]
	if !ok {
		h = make(map[string]string)
		f.hashes[key] = h
	}
	if _, exists := h[field]; exists {
		return redis.NewBoolResult(false, nil)
	}
	h[field] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) HSet(ctx context.Context, key string, values ...any) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	h, ok := f.hashes[key]
	if !ok {
		h = make(map[string]string)
		f.hashes[key] = h
	}
	var set int64
	for i := 0; i+1 < len(values); i += 2 {
		h[fmt.Sprint(values[i])] = fmt.Sprint(values[i+1])
		set++
	}
	return redis.NewIntResult(set, nil)
}

func (f *fakeRedis) HGet(ctx context.Context, key, field string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	if h, ok := f.hashes[key]; ok {
		if v, ok := h[field]; ok {
			return redis.NewStringResult(v, nil)
		}
	}
	return redis.NewStringResult("", redis.Nil)
}

func (f *fakeRedis) HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string]string)
	for k, v := range f.hashes[key] {
		out[k] = v
	}
	return redis.NewMapStringStringResult(out, nil)
}

func (f *fakeRedis) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.hashes[key]
	return redis.NewBoolResult(ok, nil)
}

func (f *fakeRedis) Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := strings.TrimSuffix(match, "*")
	var keys []string
	for k := range f.hashes {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return redis.NewScanCmdResult(keys, 0, nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	var removed int64
	for _, k := range keys {
		if _, ok := f.hashes[k]; ok {
			delete(f.hashes, k)
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}

// streamLen and ackedIDs are snapshot helpers for assertions.
func (f *fakeRedis) streamLen(stream string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams[stream])
}

func (f *fakeRedis) ackedIDs(stream string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.acked[stream]))
	copy(out, f.acked[stream])
	return out
}

func (f *fakeRedis) streamMessages(stream string) []redis.XMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]redis.XMessage, len(f.streams[stream]))
	copy(out, f.streams[stream])
	return out
}

func (f *fakeRedis) addRaw(stream string, values map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.streams[stream] = append(f.streams[stream], redis.XMessage{
		ID:     fmt.Sprintf("%d-0", f.nextID),
		Values: values,
	})
}
