package ports

import (
	"context"
	"time"

	"github.com/kodeks-ai/lexrag/internal/core/domain"
)

// SearchBackend is the uniform adapter contract over the lexical store,
// the vector store and the graph store. Implementations translate the
// query into their backend's native protocol and must apply the scope
// filter server-side, never as a post-filter.
type SearchBackend interface {
	Source() domain.Source
	Search(ctx context.Context, queryText string, scope domain.ScopeFilter, filters map[string]string, topK int) ([]domain.EvidenceItem, error)
}

// ResultCache stores fused result sets per query key. Get treats any
// unreadable entry as a miss; implementations never surface corruption
// to callers.
type ResultCache interface {
	Get(ctx context.Context, key string) (*domain.CacheEntry, bool)
	Set(ctx context.Context, entry domain.CacheEntry) error
	InvalidateTenant(ctx context.Context, tenantID string) (int, error)
	InvalidateCase(ctx context.Context, tenantID, caseID string) (int, error)
}

// InvalidationBus broadcasts cache invalidations between replicas.
type InvalidationBus interface {
	PublishInvalidation(ctx context.Context, event domain.InvalidationEvent) error
	SubscribeInvalidation(ctx context.Context, handler func(context.Context, domain.InvalidationEvent) error) error
	Close()
}

// EntityStore looks up authoritative legal entities for citation
// verification. Lookup returns domain.ErrEntityNotFound when the
// citation matches nothing.
type EntityStore interface {
	Lookup(ctx context.Context, citation string) (*domain.Entity, error)
}

// Embedder builds query vectors for the vector backend. How text is
// embedded is an external concern; this port only reaches the service.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// ExpansionProvider produces up to max alternate phrasings of a query
// under the given strategy. The original query is not included.
type ExpansionProvider interface {
	Expand(ctx context.Context, queryText string, strategy domain.ExpansionStrategy, max int) ([]string, error)
}

// RerankModel re-scores candidate texts against the query. A nil or
// failing model never fails a request; the reranker falls back to the
// fused ordering.
type RerankModel interface {
	Score(ctx context.Context, queryText string, candidates []string) ([]float64, error)
}

// LatencyRecorder collects per-stage durations and exposes percentile
// summaries. Implementations must be safe for concurrent use.
type LatencyRecorder interface {
	Observe(stage string, d time.Duration)
	Summary() map[string]domain.LatencySummary
}
