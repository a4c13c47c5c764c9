// Package cache provides the result caches used by the triage layers.
// Each layer owns one cache instance with its own TTL (60s for gate
// decisions, 24h for generative analyses). A cache hit must never change
// the content of a result, only whether recomputation happens; callers
// signal a hit by reporting inference_ms = 0.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Store is the cache contract shared by the in-memory and Redis backends.
// Keys are stable fingerprints of the semantically relevant input fields,
// never of volatile call-time values.
type Store[V any] interface {
	// Get returns the cached value for key, or ok=false on a miss.
	Get(ctx context.Context, key string) (V, bool)

	// Put stores value under key with the backend's TTL.
	Put(ctx context.Context, key string, value V)

	// Purge drops all entries. Intended for tests.
	Purge(ctx context.Context)

	// Stats returns hit/miss counters.
	Stats() Stats
}

// Stats holds cache effectiveness counters.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Puts   int64 `json:"puts"`
}

// DefaultMaxEntries bounds the in-memory caches; past this size the
// least-recently-used entry is evicted on insert.
const DefaultMaxEntries = 10000

// Memory is a process-wide, size-bounded TTL cache. Eviction is handled
// by the underlying expirable LRU: expired entries are dropped lazily and
// the size bound is enforced on insert.
type Memory[V any] struct {
	lru    *expirable.LRU[string, V]
	hits   atomic.Int64
	misses atomic.Int64
	puts   atomic.Int64
}

// NewMemory creates an in-memory cache holding at most maxEntries values,
// each expiring ttl after insertion.
func NewMemory[V any](maxEntries int, ttl time.Duration) *Memory[V] {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Memory[V]{
		lru: expirable.NewLRU[string, V](maxEntries, nil, ttl),
	}
}

// Get returns the cached value for key, or ok=false on a miss or after expiry.
func (m *Memory[V]) Get(_ context.Context, key string) (V, bool) {
	v, ok := m.lru.Get(key)
	if ok {
		m.hits.Add(1)
	} else {
		m.misses.Add(1)
	}
	return v, ok
}

// Put stores value under key. A racing redundant recomputation may
// overwrite an equal value; that is harmless by contract.
func (m *Memory[V]) Put(_ context.Context, key string, value V) {
	m.puts.Add(1)
	m.lru.Add(key, value)
}

// Purge drops all entries.
func (m *Memory[V]) Purge(_ context.Context) {
	m.lru.Purge()
}

// Len returns the current number of entries (expired ones included until
// their lazy eviction).
func (m *Memory[V]) Len() int {
	return m.lru.Len()
}

// Stats returns hit/miss counters.
func (m *Memory[V]) Stats() Stats {
	return Stats{
		Hits:   m.hits.Load(),
		Misses: m.misses.Load(),
		Puts:   m.puts.Load(),
	}
}

var foldCaser = cases.Fold()

// Fingerprint derives a stable cache key from the given input fields.
// Each part is NFKC-normalized and case-folded so that trivially different
// encodings of the same input land on the same entry, then the parts are
// joined with an unprintable separator and hashed.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0x1f})
		}
		canon := foldCaser.String(norm.NFKC.String(strings.TrimSpace(p)))
		h.Write([]byte(canon))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
