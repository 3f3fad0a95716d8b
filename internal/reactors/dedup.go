package reactors

import (
	"context"
	"sync"
	"time"

	redisplat "gridgrant/internal/platform/redis"
)

// Deduper remembers which keys have finished processing. Seen only reads;
// a key becomes seen through an explicit Mark once the work for it
// succeeded, so a failure before Mark leaves the key open for redelivery.
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

// RedisDeduper marks keys in Redis so duplicate suppression survives
// restarts and is shared between instances.
type RedisDeduper struct {
	client *redisplat.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redisplat.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDeduper{client: client, ttl: ttl}
}

func (d *RedisDeduper) Seen(ctx context.Context, key string) (bool, error) {
	n, err := d.client.Exists(ctx, "gridgrant:dedup:"+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *RedisDeduper) Mark(ctx context.Context, key string) error {
	return d.client.Set(ctx, "gridgrant:dedup:"+key, 1, d.ttl).Err()
}

// MemoryDeduper is the in-process fallback used when Redis is not
// configured, and by tests.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[string]struct{})}
}

func (d *MemoryDeduper) Seen(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[key]
	return ok, nil
}

func (d *MemoryDeduper) Mark(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[key] = struct{}{}
	return nil
}
