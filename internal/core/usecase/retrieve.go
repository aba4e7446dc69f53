package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kodeks-ai/lexrag/internal/core/domain"
	"github.com/kodeks-ai/lexrag/internal/core/ports"
)

// queryState tracks a single query through the orchestrator. States only
// ever advance; a retry re-enters fannedOut with a fresh strategy.
type queryState string

const (
	statePending     queryState = "PENDING"
	stateCacheLookup queryState = "CACHE_LOOKUP"
	stateFannedOut   queryState = "FANNED_OUT"
	stateFused       queryState = "FUSED"
	stateReranked    queryState = "RERANKED"
	stateGated       queryState = "GATED"
	stateDone        queryState = "DONE"
)

// Latency collector stage names.
const (
	StageCacheLookup = "cache_lookup"
	StageFanOut      = "fan_out"
	StageFusion      = "fusion"
	StageRerank      = "rerank"
	StageGate        = "gate"
	StageVerify      = "verify"
	StageTotal       = "total"
)

// RetrieveConfig is the construction-time tuning surface of the
// orchestrator; nothing here is re-specified per call.
type RetrieveConfig struct {
	BackendTimeout time.Duration
	OverallTimeout time.Duration
	TopKPerBackend int
	MaxRetries     int
	RerankTopN     int
	RRFK           int
	MaxResults     int // 0 = unbounded
	CacheTTL       time.Duration
}

func (c RetrieveConfig) normalize() RetrieveConfig {
	out := c
	if out.BackendTimeout <= 0 {
		out.BackendTimeout = 2 * time.Second
	}
	if out.OverallTimeout <= 0 {
		out.OverallTimeout = 10 * time.Second
	}
	if out.TopKPerBackend <= 0 {
		out.TopKPerBackend = 20
	}
	if out.RerankTopN <= 0 {
		out.RerankTopN = 50
	}
	if out.RRFK <= 0 {
		out.RRFK = 60
	}
	if out.CacheTTL <= 0 {
		out.CacheTTL = 5 * time.Minute
	}
	if out.MaxRetries < 0 {
		out.MaxRetries = 0
	}
	return out
}

// RetrieveUseCase fans a query out to the backend adapters under
// per-backend timeouts, fuses and reranks the results, gates them for
// sufficiency, retries with corrective strategies, and caches accepted
// outcomes per tenant/case.
type RetrieveUseCase struct {
	backends map[domain.Source]ports.SearchBackend
	expander *Expander
	reranker *Reranker
	gate     *Gate
	cache    ports.ResultCache
	latency  ports.LatencyRecorder
	logger   *slog.Logger
	cfg      RetrieveConfig

	defaultVisibility []string
}

func NewRetrieveUseCase(
	backends map[domain.Source]ports.SearchBackend,
	expander *Expander,
	reranker *Reranker,
	gate *Gate,
	cache ports.ResultCache,
	latency ports.LatencyRecorder,
	defaultVisibility []string,
	cfg RetrieveConfig,
	logger *slog.Logger,
) *RetrieveUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetrieveUseCase{
		backends:          backends,
		expander:          expander,
		reranker:          reranker,
		gate:              gate,
		cache:             cache,
		latency:           latency,
		logger:            logger,
		cfg:               cfg.normalize(),
		defaultVisibility: defaultVisibility,
	}
}

func (uc *RetrieveUseCase) Retrieve(ctx context.Context, req domain.RetrievalRequest) (*domain.RetrievalResult, error) {
	started := time.Now()
	defer func() {
		uc.latency.Observe(StageTotal, time.Since(started))
	}()

	query, err := uc.validate(req)
	if err != nil {
		return nil, err
	}
	scope := uc.resolveScope(query)
	log := uc.logger.With("query_id", query.ID, "tenant_id", query.TenantID)

	state := stateCacheLookup
	cacheKey := domain.CacheKey(query.Text, query.TenantID, query.CaseID, query.Filters, query.Sources)
	cacheStart := time.Now()
	entry, hit := uc.cache.Get(ctx, cacheKey)
	uc.latency.Observe(StageCacheLookup, time.Since(cacheStart))
	if hit {
		log.Info("retrieval_cache_hit", "state", string(stateDone), "items", len(entry.Items))
		return &domain.RetrievalResult{
			Items:    entry.Items,
			Level:    entry.Level,
			CacheHit: true,
			Warnings: entry.Warnings,
		}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, uc.cfg.OverallTimeout)
	defer cancel()

	var warnings []string
	strategy := domain.ExpandParaphrase
	sources := query.Sources
	filters := query.Filters

	for attempt := 0; ; attempt++ {
		retriesLeft := uc.cfg.MaxRetries - attempt

		state = stateFannedOut
		queries := uc.expander.Expand(ctx, query.Text, strategy)
		fanStart := time.Now()
		lists, fanWarnings := uc.fanOut(ctx, queries, sources, scope, filters)
		uc.latency.Observe(StageFanOut, time.Since(fanStart))
		warnings = append(warnings, fanWarnings...)

		state = stateFused
		fuseStart := time.Now()
		fused := fuseRRF(lists, uc.cfg.RRFK)
		fused = uc.enforceScope(fused, scope, log)
		uc.latency.Observe(StageFusion, time.Since(fuseStart))

		state = stateReranked
		rerankStart := time.Now()
		reranked := uc.reranker.Rerank(ctx, query.Text, fused, uc.cfg.RerankTopN)
		uc.latency.Observe(StageRerank, time.Since(rerankStart))

		state = stateGated
		gateStart := time.Now()
		level, action := uc.gate.Evaluate(query.ID, reranked, retriesLeft)
		uc.latency.Observe(StageGate, time.Since(gateStart))

		if ctx.Err() != nil {
			// Overall deadline exhausted before gating settled: abstain
			// rather than keep the caller waiting.
			log.Warn("retrieval_deadline_exceeded", "state", string(state), "attempt", attempt)
			return uc.abstained(append(warnings, "overall deadline exceeded")), nil
		}

		switch action {
		case GateAccept, GateAcceptWithWarning:
			if action == GateAcceptWithWarning {
				warnings = append(warnings, fmt.Sprintf("evidence level %s accepted after retry budget exhausted", level))
			}
			state = stateDone
			result := &domain.RetrievalResult{
				Items:    trimCandidates(reranked, uc.cfg.MaxResults),
				Level:    level,
				Warnings: warnings,
			}
			uc.store(ctx, cacheKey, query, result)
			log.Info("retrieval_accepted", "state", string(state), "level", string(level), "items", len(result.Items), "attempt", attempt)
			return result, nil

		case GateRetry:
			// Corrective strategy: switch to hypothetical-answer
			// expansion, widen the source set, and drop metadata
			// filters that may have starved recall.
			strategy = domain.ExpandHypothetical
			sources = domain.AllSources()
			filters = nil
			warnings = append(warnings, fmt.Sprintf("evidence level %s, retrying with %s expansion", level, strategy))
			log.Info("retrieval_retrying", "level", string(level), "attempt", attempt, "retries_left", retriesLeft)

		default:
			state = stateDone
			log.Info("retrieval_abstained", "state", string(state), "level", string(level), "attempt", attempt)
			return uc.abstained(append(warnings, "no sufficient evidence")), nil
		}
	}
}

func (uc *RetrieveUseCase) validate(req domain.RetrievalRequest) (domain.Query, error) {
	if req.TenantID == "" {
		return domain.Query{}, domain.WrapError(domain.ErrInvalidQuery, "validate request", errors.New("tenant_id is required"))
	}
	if len(req.Text) == 0 {
		return domain.Query{}, domain.WrapError(domain.ErrInvalidQuery, "validate request", errors.New("query text is empty"))
	}
	for key, value := range req.Filters {
		if key == "" || value == "" {
			return domain.Query{}, domain.WrapError(domain.ErrInvalidQuery, "validate request", fmt.Errorf("filter %q=%q is malformed", key, value))
		}
	}
	sources, err := domain.ParseSources(req.Sources)
	if err != nil {
		return domain.Query{}, err
	}
	return domain.Query{
		ID:       uuid.NewString(),
		Text:     req.Text,
		TenantID: req.TenantID,
		CaseID:   req.CaseID,
		Filters:  req.Filters,
		Sources:  sources,
	}, nil
}

func (uc *RetrieveUseCase) resolveScope(query domain.Query) domain.ScopeFilter {
	scope := domain.ScopeFilter{
		TenantID:          query.TenantID,
		AllowedVisibility: uc.defaultVisibility,
	}
	if query.CaseID != "" {
		scope.AllowedCases = []string{query.CaseID}
	}
	return scope
}

// fanOut issues one call per (expanded query x requested backend) pair
// in parallel under per-call timeouts. A call that errors or times out
// contributes an empty list and a warning; it never cancels siblings
// and never fails the query.
func (uc *RetrieveUseCase) fanOut(
	ctx context.Context,
	queries []string,
	sources []domain.Source,
	scope domain.ScopeFilter,
	filters map[string]string,
) ([][]domain.EvidenceItem, []string) {
	type call struct {
		queryText string
		backend   ports.SearchBackend
	}
	calls := make([]call, 0, len(queries)*len(sources))
	for _, q := range queries {
		for _, source := range sources {
			backend, ok := uc.backends[source]
			if !ok {
				continue
			}
			calls = append(calls, call{queryText: q, backend: backend})
		}
	}

	lists := make([][]domain.EvidenceItem, len(calls))
	var mu sync.Mutex
	var warnings []string

	// The group context is deliberately not used for the calls: one
	// failed call must not cancel its siblings.
	g := new(errgroup.Group)
	for i, c := range calls {
		i, c := i, c
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, uc.cfg.BackendTimeout)
			defer cancel()

			start := time.Now()
			items, err := c.backend.Search(callCtx, c.queryText, scope, filters, uc.cfg.TopKPerBackend)
			uc.latency.Observe("backend_"+string(c.backend.Source()), time.Since(start))

			if err != nil {
				// Timed out and found nothing look identical to the
				// caller; the difference lives in telemetry only.
				uc.logger.Warn("backend_search_degraded",
					"source", string(c.backend.Source()),
					"timeout", errors.Is(err, context.DeadlineExceeded),
					"error", err,
				)
				mu.Lock()
				warnings = append(warnings, fmt.Sprintf("source %s degraded", c.backend.Source()))
				mu.Unlock()
				return nil
			}
			lists[i] = items
			return nil
		})
	}
	_ = g.Wait()

	return lists, dedupWarnings(warnings)
}

// enforceScope drops anything an adapter let through in violation of
// the scope filter. A violation is an adapter bug worth shouting about,
// but it must never reach the caller.
func (uc *RetrieveUseCase) enforceScope(items []domain.EvidenceItem, scope domain.ScopeFilter, log *slog.Logger) []domain.EvidenceItem {
	out := items[:0]
	for _, item := range items {
		if !scope.Allows(item) {
			log.Error("scope_violation_dropped",
				"source", string(item.Source),
				"document_id", item.DocumentID,
			)
			continue
		}
		out = append(out, item)
	}
	return out
}

func (uc *RetrieveUseCase) store(ctx context.Context, key string, query domain.Query, result *domain.RetrievalResult) {
	entry := domain.CacheEntry{
		Key:       key,
		TenantID:  query.TenantID,
		CaseID:    query.CaseID,
		Items:     result.Items,
		Level:     result.Level,
		Warnings:  result.Warnings,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(uc.cfg.CacheTTL),
	}
	if err := uc.cache.Set(ctx, entry); err != nil {
		uc.logger.Warn("retrieval_cache_store_failed", "query_id", query.ID, "error", err)
	}
}

func (uc *RetrieveUseCase) abstained(warnings []string) *domain.RetrievalResult {
	return &domain.RetrievalResult{
		Items:     []domain.EvidenceItem{},
		Level:     domain.EvidenceInsufficient,
		Abstained: true,
		Warnings:  dedupWarnings(warnings),
	}
}

func dedupWarnings(warnings []string) []string {
	if len(warnings) < 2 {
		return warnings
	}
	seen := make(map[string]bool, len(warnings))
	out := warnings[:0]
	for _, w := range warnings {
		if seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}
