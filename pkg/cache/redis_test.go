package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedis[V any](t *testing.T, ttl time.Duration) (*Redis[V], *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := NewRedis[V]("redis://"+mr.Addr(), "test", ttl)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r, mr
}

func TestRedisGetPut(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRedis[string](t, time.Minute)

	if _, ok := r.Get(ctx, "missing"); ok {
		t.Fatal("unexpected hit")
	}
	r.Put(ctx, "k", "v")
	got, ok := r.Get(ctx, "k")
	if !ok || got != "v" {
		t.Fatalf("got %q/%v", got, ok)
	}
}

func TestRedisTTLExpiry(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis[int](t, time.Second)

	r.Put(ctx, "k", 1)
	mr.FastForward(2 * time.Second)
	if _, ok := r.Get(ctx, "k"); ok {
		t.Fatal("expected miss after TTL")
	}
}

func TestRedisStructRoundTrip(t *testing.T) {
	type payload struct {
		Summary    string   `json:"summary"`
		Recs       []string `json:"recs"`
		Confidence float64  `json:"confidence"`
	}
	ctx := context.Background()
	r, _ := newTestRedis[payload](t, time.Minute)

	in := payload{Summary: "s", Recs: []string{"a", "b"}, Confidence: 0.5}
	r.Put(ctx, "k", in)
	out, ok := r.Get(ctx, "k")
	if !ok || out.Summary != "s" || len(out.Recs) != 2 || out.Confidence != 0.5 {
		t.Fatalf("got %+v/%v", out, ok)
	}
}

func TestRedisCorruptValueIsMiss(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis[int](t, time.Minute)

	mr.Set("test:bad", "{not json")
	if _, ok := r.Get(ctx, "bad"); ok {
		t.Fatal("corrupt value must count as miss")
	}
}

func TestRedisServerDownIsMiss(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis[int](t, time.Minute)

	r.Put(ctx, "k", 1)
	mr.Close()
	if _, ok := r.Get(ctx, "k"); ok {
		t.Fatal("unreachable server must count as miss, not error")
	}
}

func TestRedisPurgeRemovesOnlyPrefix(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis[int](t, time.Minute)

	r.Put(ctx, "a", 1)
	r.Put(ctx, "b", 2)
	mr.Set("other:key", "untouched")

	r.Purge(ctx)

	if _, ok := r.Get(ctx, "a"); ok {
		t.Error("purge left a prefixed key")
	}
	if !mr.Exists("other:key") {
		t.Error("purge removed a foreign key")
	}
}
