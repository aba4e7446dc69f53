package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kodeks-ai/lexrag/internal/config"
	"github.com/kodeks-ai/lexrag/internal/core/domain"
	"github.com/kodeks-ai/lexrag/internal/core/ports"
	"github.com/kodeks-ai/lexrag/internal/core/usecase"
	"github.com/kodeks-ai/lexrag/internal/infrastructure/cache"
	entitypg "github.com/kodeks-ai/lexrag/internal/infrastructure/entity/postgres"
	"github.com/kodeks-ai/lexrag/internal/infrastructure/llm/ollama"
	natsbus "github.com/kodeks-ai/lexrag/internal/infrastructure/queue/nats"
	"github.com/kodeks-ai/lexrag/internal/infrastructure/resilience"
	neo4jsearch "github.com/kodeks-ai/lexrag/internal/infrastructure/search/neo4j"
	searchpg "github.com/kodeks-ai/lexrag/internal/infrastructure/search/postgres"
	"github.com/kodeks-ai/lexrag/internal/infrastructure/search/qdrant"
	"github.com/kodeks-ai/lexrag/internal/observability/logging"
	"github.com/kodeks-ai/lexrag/internal/observability/metrics"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Retriever ports.Retriever
	Verifier  ports.CitationVerifier
	Admin     ports.CacheAdmin
	Latency   ports.LatencyRecorder

	Metrics        *metrics.RetrievalMetrics
	MetricsHandler http.Handler
	Bus            ports.InvalidationBus

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger := logging.NewJSONLogger("lexrag-api", cfg.LogLevel)
	m := metrics.NewRetrievalMetrics("api")
	latency := metrics.NewCollector("api", cfg.LatencyWindowSize, m)

	db, err := searchpg.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	lexical := searchpg.NewLexicalBackend(db)
	if err := lexical.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure passage schema: %w", err)
	}
	executor := resilience.NewExecutor(resilience.DefaultConfig(), logger)

	entities := entitypg.NewEntityStore(db)
	if err := entities.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure entity schema: %w", err)
	}
	entities.SetResilienceExecutor(executor)

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel)
	ollamaClient.SetResilienceExecutor(executor)
	embedder := ollama.NewEmbedder(ollamaClient)

	vector := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, embedder)
	vector.SetResilienceExecutor(executor)

	driver, err := neo4jsearch.Open(cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
	if err != nil {
		return nil, fmt.Errorf("open neo4j: %w", err)
	}
	graph := neo4jsearch.New(driver, cfg.Neo4jDatabase, cfg.GraphMaxHops)
	if err := graph.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure graph schema: %w", err)
	}

	backends := map[domain.Source]ports.SearchBackend{
		domain.SourceLexical: lexical,
		domain.SourceVector:  vector,
		domain.SourceGraph:   graph,
	}

	bus, err := natsbus.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, natsbus.Options{
		ResilienceExecutor: executor,
		Logger:             logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init invalidation bus: %w", err)
	}

	innerCache, closeCache, err := buildCache(cfg, m, logger)
	if err != nil {
		return nil, err
	}
	resultCache := &meteredCache{ResultCache: innerCache, metrics: m}

	providers := []ports.ExpansionProvider{usecase.NewHeuristicExpansion()}
	if cfg.ExpansionLLMEnabled {
		providers = append([]ports.ExpansionProvider{ollama.NewParaphraser(ollamaClient)}, providers...)
	}
	expander := usecase.NewExpander(providers, cfg.MaxExpansions, logger)

	var rerankModel ports.RerankModel
	if cfg.RerankLLMEnabled {
		rerankModel = ollama.NewScorer(ollamaClient)
	}
	reranker := usecase.NewReranker(rerankModel, logger)

	thresholds := usecase.DefaultGateThresholds()
	thresholds.Strong = cfg.GateStrong
	thresholds.Moderate = cfg.GateModerate
	thresholds.Low = cfg.GateLow
	thresholds.SupportScore = cfg.GateSupportScore
	thresholds.StrongMinCount = cfg.GateStrongMinCount
	gate := usecase.NewGate(thresholds, logger)
	gate.SetDecisionHook(func(level domain.EvidenceLevel, action usecase.GateAction) {
		m.RecordGateDecision("api", string(level), string(action))
	})

	retriever := usecase.NewRetrieveUseCase(
		backends,
		expander,
		reranker,
		gate,
		resultCache,
		latency,
		cfg.AllowedVisibility,
		usecase.RetrieveConfig{
			BackendTimeout: time.Duration(cfg.BackendTimeoutMS) * time.Millisecond,
			OverallTimeout: time.Duration(cfg.OverallTimeoutMS) * time.Millisecond,
			TopKPerBackend: cfg.TopKPerBackend,
			MaxRetries:     cfg.MaxRetries,
			RerankTopN:     cfg.RerankTopN,
			RRFK:           cfg.RRFK,
			MaxResults:     cfg.MaxResults,
			CacheTTL:       time.Duration(cfg.CacheTTLSeconds) * time.Second,
		},
		logger,
	)

	verifier := usecase.NewVerifyUseCase(entities, latency, logger)
	verifier.SetVerdictHook(func(status domain.GroundingStatus) {
		m.RecordVerdict("api", string(status))
	})
	admin := usecase.NewCacheAdminUseCase(resultCache, bus, logger)

	// Remote invalidations drop local entries; the originating replica
	// already invalidated its own cache before publishing.
	go func() {
		err := bus.SubscribeInvalidation(ctx, func(subCtx context.Context, event domain.InvalidationEvent) error {
			var (
				count int
				err   error
			)
			if event.CaseID == "" {
				count, err = resultCache.InvalidateTenant(subCtx, event.TenantID)
			} else {
				count, err = resultCache.InvalidateCase(subCtx, event.TenantID, event.CaseID)
			}
			if err != nil {
				return err
			}
			m.RecordInvalidation("api", invalidationScope(event), count)
			return nil
		})
		if err != nil && ctx.Err() == nil {
			logger.Error("invalidation_subscription_failed", "error", err)
		}
	}()

	return &App{
		Config: cfg,
		Logger: logger,

		Retriever: retriever,
		Verifier:  verifier,
		Admin:     admin,
		Latency:   latency,

		Metrics:        m,
		MetricsHandler: m.Handler(),
		Bus:            bus,

		closeFn: func() {
			bus.Close()
			closeCache()
			_ = graph.Close(context.Background())
			_ = db.Close()
		},
	}, nil
}

func buildCache(cfg config.Config, m *metrics.RetrievalMetrics, logger *slog.Logger) (ports.ResultCache, func(), error) {
	switch cfg.CacheBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return cache.NewRedis(client, logger), func() { _ = client.Close() }, nil
	default:
		memory := cache.NewMemory(cfg.CacheMaxSize)
		memory.SetEvictionHook(func() { m.RecordCacheEviction("api") })
		return memory, func() {}, nil
	}
}

// meteredCache counts lookup outcomes on top of whichever cache
// backend buildCache produced.
type meteredCache struct {
	ports.ResultCache
	metrics *metrics.RetrievalMetrics
}

func (c *meteredCache) Get(ctx context.Context, key string) (*domain.CacheEntry, bool) {
	entry, ok := c.ResultCache.Get(ctx, key)
	if ok {
		c.metrics.RecordCacheHit("api")
	} else {
		c.metrics.RecordCacheMiss("api")
	}
	return entry, ok
}

func invalidationScope(event domain.InvalidationEvent) string {
	if event.CaseID == "" {
		return "tenant"
	}
	return "case"
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
