package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kodeks-ai/lexrag/internal/core/domain"
	"github.com/kodeks-ai/lexrag/internal/core/ports"
)

// CacheAdminUseCase drops cached results after corpus changes. The bus
// carries the event to the other replicas; a publish failure never
// undoes the local invalidation, it only means remote replicas serve
// stale entries until their TTL runs out.
type CacheAdminUseCase struct {
	cache  ports.ResultCache
	bus    ports.InvalidationBus
	logger *slog.Logger
}

func NewCacheAdminUseCase(cache ports.ResultCache, bus ports.InvalidationBus, logger *slog.Logger) *CacheAdminUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheAdminUseCase{cache: cache, bus: bus, logger: logger}
}

func (uc *CacheAdminUseCase) InvalidateCache(ctx context.Context, tenantID, caseID string) (int, error) {
	tenantID = strings.TrimSpace(tenantID)
	caseID = strings.TrimSpace(caseID)
	if tenantID == "" {
		return 0, domain.WrapError(domain.ErrInvalidQuery, "invalidate cache", fmt.Errorf("tenant_id is required"))
	}

	var (
		count int
		err   error
	)
	if caseID == "" {
		count, err = uc.cache.InvalidateTenant(ctx, tenantID)
	} else {
		count, err = uc.cache.InvalidateCase(ctx, tenantID, caseID)
	}
	if err != nil {
		return 0, err
	}

	if uc.bus != nil {
		event := domain.InvalidationEvent{TenantID: tenantID, CaseID: caseID}
		if err := uc.bus.PublishInvalidation(ctx, event); err != nil {
			uc.logger.Warn("invalidation_broadcast_failed",
				"tenant_id", tenantID,
				"case_id", caseID,
				"error", err,
			)
		}
	}

	uc.logger.Info("cache_invalidated",
		"tenant_id", tenantID,
		"case_id", caseID,
		"entries", count,
	)
	return count, nil
}
