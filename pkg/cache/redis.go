package cache

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Store backed by a Redis instance. It is used for the
// generative analysis cache, whose 24h entries are worth keeping across
// gateway restarts. Values are stored as JSON; a failing Redis behaves
// like an empty cache, never like an error.
type Redis[V any] struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	hits   atomic.Int64
	misses atomic.Int64
	puts   atomic.Int64
}

// NewRedis creates a Redis-backed cache from a redis URL
// (redis://[user:pass@]host:port/db). The prefix namespaces keys so
// multiple caches can share one instance.
func NewRedis[V any](url, prefix string, ttl time.Duration) (*Redis[V], error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &Redis[V]{
		client: redis.NewClient(opts),
		prefix: prefix,
		ttl:    ttl,
	}, nil
}

// Ping verifies connectivity. Callers use it at startup to decide whether
// to log the backend as enabled.
func (r *Redis[V]) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Get returns the cached value for key. Connectivity or decode failures
// count as misses.
func (r *Redis[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		r.misses.Add(1)
		return zero, false
	}
	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		// Stale or foreign payload under our key; treat as a miss.
		r.misses.Add(1)
		return zero, false
	}
	r.hits.Add(1)
	return v, true
}

// Put stores value under key with the cache TTL. Failures are logged and
// dropped: a lost cache write only costs a future recomputation.
func (r *Redis[V]) Put(ctx context.Context, key string, value V) {
	r.puts.Add(1)
	data, err := json.Marshal(value)
	if err != nil {
		log.Printf("[CACHE] redis marshal failed for key %s: %v", key, err)
		return
	}
	if err := r.client.Set(ctx, r.prefix+key, data, r.ttl).Err(); err != nil {
		log.Printf("[CACHE] redis put failed for key %s: %v", key, err)
	}
}

// Purge drops all entries under this cache's prefix.
func (r *Redis[V]) Purge(ctx context.Context) {
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		r.client.Del(ctx, iter.Val())
	}
}

// Stats returns hit/miss counters for this process (not cluster-wide).
func (r *Redis[V]) Stats() Stats {
	return Stats{
		Hits:   r.hits.Load(),
		Misses: r.misses.Load(),
		Puts:   r.puts.Load(),
	}
}

// Close releases the underlying client.
func (r *Redis[V]) Close() error {
	return r.client.Close()
}
