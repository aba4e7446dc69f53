package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kodeks-ai/lexrag/internal/core/domain"
)

type busFake struct {
	events []domain.InvalidationEvent
	err    error
}

func (b *busFake) PublishInvalidation(_ context.Context, event domain.InvalidationEvent) error {
	b.events = append(b.events, event)
	return b.err
}

func (b *busFake) SubscribeInvalidation(context.Context, func(context.Context, domain.InvalidationEvent) error) error {
	return nil
}

func (b *busFake) Close() {}

func seedCacheEntries(t *testing.T, cache *cacheFake, tenantID string, caseIDs ...string) {
	t.Helper()
	for i, caseID := range caseIDs {
		err := cache.Set(context.Background(), domain.CacheEntry{
			Key:       fmt.Sprintf("key-%d", i),
			TenantID:  tenantID,
			CaseID:    caseID,
			ExpiresAt: time.Now().Add(time.Minute),
		})
		if err != nil {
			t.Fatalf("seed cache: %v", err)
		}
	}
}

func TestInvalidateCacheTenantWideBroadcastsEvent(t *testing.T) {
	cache := newCacheFake()
	seedCacheEntries(t, cache, "tenant-1", "case-1", "case-2")
	bus := &busFake{}
	uc := NewCacheAdminUseCase(cache, bus, nil)

	count, err := uc.InvalidateCache(context.Background(), "tenant-1", "")
	if err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 invalidated entries, got %d", count)
	}
	if len(bus.events) != 1 || bus.events[0].TenantID != "tenant-1" || bus.events[0].CaseID != "" {
		t.Fatalf("unexpected broadcast: %+v", bus.events)
	}
}

func TestInvalidateCacheSingleCase(t *testing.T) {
	cache := newCacheFake()
	seedCacheEntries(t, cache, "tenant-1", "case-1", "case-2")
	uc := NewCacheAdminUseCase(cache, &busFake{}, nil)

	count, err := uc.InvalidateCache(context.Background(), "tenant-1", "case-1")
	if err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 invalidated entry, got %d", count)
	}
}

func TestInvalidateCacheRequiresTenant(t *testing.T) {
	uc := NewCacheAdminUseCase(newCacheFake(), &busFake{}, nil)

	_, err := uc.InvalidateCache(context.Background(), "  ", "case-1")
	if !domain.IsKind(err, domain.ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
}

func TestInvalidateCacheSurvivesBroadcastFailure(t *testing.T) {
	cache := newCacheFake()
	seedCacheEntries(t, cache, "tenant-1", "case-1")
	bus := &busFake{err: errors.New("nats down")}
	uc := NewCacheAdminUseCase(cache, bus, nil)

	count, err := uc.InvalidateCache(context.Background(), "tenant-1", "")
	if err != nil {
		t.Fatalf("local invalidation must not fail on broadcast error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 invalidated entry, got %d", count)
	}
}
