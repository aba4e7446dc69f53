package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kodeks-ai/lexrag/internal/core/domain"
)

const (
	redisEntryPrefix  = "lexrag:rc:entry:"
	redisTenantPrefix = "lexrag:rc:tenant:"
	redisCasePrefix   = "lexrag:rc:case:"
)

// Redis is a shared result cache for multi-replica deployments. Entries
// expire through native TTL; tenant and case tag sets make explicit
// invalidation a set lookup instead of a full keyspace scan. Redis
// writes a value atomically, so a reader never observes a partially
// written entry; anything undecodable is treated as a miss and dropped.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedis(client *redis.Client, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, logger: logger}
}

func (r *Redis) Get(ctx context.Context, key string) (*domain.CacheEntry, bool) {
	raw, err := r.client.Get(ctx, redisEntryPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.logger.Warn("cache_get_failed", "key", key, "error", err)
		}
		return nil, false
	}

	var entry domain.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		// Corrupt entry: a miss, never an error. Drop it so the next
		// write replaces it wholesale.
		r.logger.Warn("cache_entry_corrupt", "key", key, "error", err)
		r.client.Del(ctx, redisEntryPrefix+key)
		return nil, false
	}
	if entry.Expired(time.Now()) {
		return nil, false
	}
	return &entry, true
}

func (r *Redis) Set(ctx context.Context, entry domain.CacheEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, redisEntryPrefix+entry.Key, raw, ttl)
	pipe.SAdd(ctx, tenantTag(entry.TenantID), entry.Key)
	pipe.Expire(ctx, tenantTag(entry.TenantID), ttl)
	if entry.CaseID != "" {
		pipe.SAdd(ctx, caseTag(entry.TenantID, entry.CaseID), entry.Key)
		pipe.Expire(ctx, caseTag(entry.TenantID, entry.CaseID), ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store cache entry: %w", err)
	}
	return nil
}

func (r *Redis) InvalidateTenant(ctx context.Context, tenantID string) (int, error) {
	return r.invalidateTag(ctx, tenantTag(tenantID))
}

func (r *Redis) InvalidateCase(ctx context.Context, tenantID, caseID string) (int, error) {
	return r.invalidateTag(ctx, caseTag(tenantID, caseID))
}

func (r *Redis) invalidateTag(ctx context.Context, tag string) (int, error) {
	keys, err := r.client.SMembers(ctx, tag).Result()
	if err != nil {
		return 0, fmt.Errorf("read cache tag %s: %w", tag, err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	entryKeys := make([]string, len(keys))
	for i, key := range keys {
		entryKeys[i] = redisEntryPrefix + key
	}
	deleted, err := r.client.Del(ctx, entryKeys...).Result()
	if err != nil {
		return 0, fmt.Errorf("delete cache entries: %w", err)
	}
	if err := r.client.Del(ctx, tag).Err(); err != nil {
		r.logger.Warn("cache_tag_cleanup_failed", "tag", tag, "error", err)
	}
	return int(deleted), nil
}

func tenantTag(tenantID string) string {
	return redisTenantPrefix + tenantID
}

func caseTag(tenantID, caseID string) string {
	return redisCasePrefix + tenantID + ":" + caseID
}
