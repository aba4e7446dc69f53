package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/kodeks-ai/lexrag/internal/core/domain"
)

func newRedisFixture(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, nil), server
}

func TestRedisGetSetRoundTrip(t *testing.T) {
	r, _ := newRedisFixture(t)
	ctx := context.Background()

	if _, ok := r.Get(ctx, "k1"); ok {
		t.Fatalf("empty cache must miss")
	}
	if err := r.Set(ctx, entryFixture("k1", "t1", "c1", time.Minute)); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	entry, ok := r.Get(ctx, "k1")
	if !ok {
		t.Fatalf("expected hit")
	}
	if entry.TenantID != "t1" || entry.Level != domain.EvidenceStrong {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestRedisTTLExpiry(t *testing.T) {
	r, server := newRedisFixture(t)
	ctx := context.Background()

	if err := r.Set(ctx, entryFixture("k1", "t1", "", time.Second)); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	server.FastForward(2 * time.Second)
	if _, ok := r.Get(ctx, "k1"); ok {
		t.Fatalf("expired entry must miss")
	}
}

func TestRedisCorruptEntryReadsAsMiss(t *testing.T) {
	r, server := newRedisFixture(t)
	ctx := context.Background()

	server.Set(redisEntryPrefix+"k1", "{not json")
	if _, ok := r.Get(ctx, "k1"); ok {
		t.Fatalf("corrupt entry must read as a miss")
	}
	if server.Exists(redisEntryPrefix + "k1") {
		t.Fatalf("corrupt entry must be dropped")
	}
}

func TestRedisInvalidateTenant(t *testing.T) {
	r, _ := newRedisFixture(t)
	ctx := context.Background()

	_ = r.Set(ctx, entryFixture("k1", "t1", "c1", time.Minute))
	_ = r.Set(ctx, entryFixture("k2", "t1", "", time.Minute))
	_ = r.Set(ctx, entryFixture("k3", "t2", "c1", time.Minute))

	count, err := r.InvalidateTenant(ctx, "t1")
	if err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 invalidated entries, got %d", count)
	}
	if _, ok := r.Get(ctx, "k3"); !ok {
		t.Fatalf("other tenants must be unaffected")
	}
	if _, ok := r.Get(ctx, "k1"); ok {
		t.Fatalf("invalidated entry must miss")
	}
}

func TestRedisInvalidateCase(t *testing.T) {
	r, _ := newRedisFixture(t)
	ctx := context.Background()

	_ = r.Set(ctx, entryFixture("k1", "t1", "c1", time.Minute))
	_ = r.Set(ctx, entryFixture("k2", "t1", "c2", time.Minute))

	count, err := r.InvalidateCase(ctx, "t1", "c1")
	if err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 invalidated entry, got %d", count)
	}
	if _, ok := r.Get(ctx, "k2"); !ok {
		t.Fatalf("other cases must be unaffected")
	}
}
