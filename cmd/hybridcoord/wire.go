package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/hybridcoord/internal/config"
	dbRedis "github.com/kailas-cloud/hybridcoord/internal/db/redis"
	"github.com/kailas-cloud/hybridcoord/internal/db/sqlite"
	"github.com/kailas-cloud/hybridcoord/internal/domain"
	"github.com/kailas-cloud/hybridcoord/internal/metrics"
	budgetrepo "github.com/kailas-cloud/hybridcoord/internal/repository/budget"
	"github.com/kailas-cloud/hybridcoord/internal/repository/embcache"
	interactionrepo "github.com/kailas-cloud/hybridcoord/internal/repository/interaction"
	knowledgerepo "github.com/kailas-cloud/hybridcoord/internal/repository/knowledge"
	"github.com/kailas-cloud/hybridcoord/internal/repository/vector"
	openaiTransport "github.com/kailas-cloud/hybridcoord/internal/transport/openai"
	coordinatoruc "github.com/kailas-cloud/hybridcoord/internal/usecase/coordinator"
	embeddinguc "github.com/kailas-cloud/hybridcoord/internal/usecase/embedding"
	gcuc "github.com/kailas-cloud/hybridcoord/internal/usecase/gc"
	healthuc "github.com/kailas-cloud/hybridcoord/internal/usecase/health"
	inferenceuc "github.com/kailas-cloud/hybridcoord/internal/usecase/inference"
	interactionuc "github.com/kailas-cloud/hybridcoord/internal/usecase/interaction"
	"github.com/kailas-cloud/hybridcoord/internal/usecase/ratelimit"
	"github.com/kailas-cloud/hybridcoord/internal/usecase/retrieval"
	"github.com/kailas-cloud/hybridcoord/internal/usecase/routing"
	"github.com/kailas-cloud/hybridcoord/internal/usecase/scoring"
	usageuc "github.com/kailas-cloud/hybridcoord/internal/usecase/usage"
	"github.com/kailas-cloud/hybridcoord/internal/usecase/validate"
)

const (
	ledgerDailyTTL = 48 * time.Hour
	ledgerMonthTTL = 62 * 24 * time.Hour
)

// infra holds the two stores shared by every component.
type infra struct {
	redis     *dbRedis.Store
	sql       *sqlite.DB
	vectors   *vector.Repo
	knowledge *knowledgerepo.Repo
}

func (i *infra) Close() {
	i.redis.Close()
	_ = i.sql.Close()
}

// openInfra connects the vector index and opens the metadata store.
func openInfra(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*infra, error) {
	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Username: cfg.Database.Username,
		Password: cfg.Database.Password,
		DB:       cfg.Database.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("create vector store: %w", err)
	}
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		store.Close()
		return nil, fmt.Errorf("vector store not ready: %w", err)
	}
	logger.Info("Connected to vector store")

	db, err := sqlite.Open(cfg.Metadata.DataDir)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	logger.Info("Opened metadata store", zap.String("data_dir", cfg.Metadata.DataDir))

	vectors := vector.New(store, cfg.Embedding.Dimensions).WithHNSW(vector.HNSWConfig{
		M:           cfg.Index.HNSWM,
		EFConstruct: cfg.Index.HNSWEFConstruct,
	})

	return &infra{
		redis:     store,
		sql:       db,
		vectors:   vectors,
		knowledge: knowledgerepo.New(db.SQL()),
	}, nil
}

// app is the assembled service graph behind the HTTP server.
type app struct {
	coordinator  *coordinatoruc.Service
	interactions *interactionuc.Service
	usage        *usageuc.Service
	health       *healthuc.Service
	queue        *interactionuc.Queue
	scheduler    *gcuc.Scheduler
}

// buildApp is the composition root.
func buildApp(ctx context.Context, cfg *config.Config, in *infra, logger *zap.Logger) (*app, error) {
	for _, col := range cfg.Validation.Collections {
		if err := in.vectors.EnsureCollection(ctx, col); err != nil {
			return nil, fmt.Errorf("ensure collection: %w", err)
		}
	}

	// Token ledgers: remote spend is enforced, tokens saved only counted.
	ledgerStore := budgetrepo.New(in.redis, ledgerDailyTTL, ledgerMonthTTL)
	rb := cfg.Inference.Remote.Budget
	action := inferenceuc.BudgetActionWarn
	if rb.Action == "reject" {
		action = inferenceuc.BudgetActionReject
	}
	remoteLedger := inferenceuc.NewBudgetTracker(
		inferenceuc.LedgerRemote, rb.DailyTokenLimit, rb.MonthlyTokenLimit, action, logger,
	).WithStore(ctx, ledgerStore)
	savedLedger := inferenceuc.NewBudgetTracker(
		inferenceuc.LedgerSaved, 0, 0, inferenceuc.BudgetActionWarn, logger,
	).WithStore(ctx, ledgerStore)

	// Embedders
	embBase := openaiTransport.NewEmbedder(&openaiTransport.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Provider:   cfg.Embedding.Provider,
		Logger:     logger,
	})
	// Embeddings run on the local provider, so the shared guard has no budget.
	guarded := embeddinguc.NewGuard(embBase, cfg.Embedding.Model, nil, cfg.Embedding.MaxConcurrent, logger)
	docEmbedder := buildEmbedder(cfg, guarded, in.redis, cfg.Embedding.DocumentInstruction, logger)
	queryEmbedder := buildEmbedder(cfg, guarded, in.redis, cfg.Embedding.QueryInstruction, logger)
	logger.Info("Embedders created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	// Inference backends
	localCompleter := newCompleter(&cfg.Inference.Local, "local", logger)
	remoteCompleter := newCompleter(&cfg.Inference.Remote, "remote", logger)
	local := inferenceuc.NewBackend(localCompleter, "local",
		time.Duration(cfg.Inference.Local.TimeoutSec)*time.Second, nil, logger)
	remote := inferenceuc.NewBackend(remoteCompleter, "remote",
		time.Duration(cfg.Inference.Remote.TimeoutSec)*time.Second, remoteLedger, logger)

	// Health
	healthSvc := healthuc.New(time.Duration(cfg.Health.CheckTimeoutSec)*time.Second, logger)
	healthSvc.Register(healthuc.PingCheck(healthuc.DepVectorIndex, true, in.redis))
	healthSvc.Register(healthuc.PingCheck(healthuc.DepMetadataStore, true, in.sql))
	healthSvc.Register(healthuc.ProviderCheck(healthuc.DepLocalInference, false, localCompleter))
	if cfg.Embedding.BaseURL != cfg.Inference.Local.BaseURL {
		healthSvc.Register(healthuc.ProviderCheck(healthuc.DepEmbedding, false, embBase))
	}
	healthSvc.RegisterStartup(healthuc.Check{Name: "schema", Fn: in.sql.SchemaReady})
	healthSvc.RegisterStartup(healthuc.Check{Name: "collections", Fn: func(ctx context.Context) error {
		for _, col := range cfg.Validation.Collections {
			ok, err := in.vectors.CollectionExists(ctx, col)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("collection %s: %w", col, domain.ErrNotFound)
			}
		}
		return nil
	}})

	// Interactions
	interactionSvc := interactionuc.New(
		interactionrepo.New(in.sql.SQL()), in.knowledge, in.vectors, docEmbedder,
		scoring.New(cfg.Scoring.PromotionThreshold), cfg.GC.DeduplicateSimilarity, logger,
	)
	queue := interactionuc.NewQueue(interactionSvc, cfg.Persistence.QueueSize, cfg.Persistence.Workers, logger)

	// Coordinator
	limits := ratelimit.Config{
		PerMinute: *cfg.RateLimit.RequestsPerMinute,
		PerHour:   *cfg.RateLimit.RequestsPerHour,
	}
	if cfg.RateLimit.Disabled {
		limits = ratelimit.Config{}
	}
	classifier := routing.HeuristicClassifier{
		MaxChars: cfg.Routing.Classifier.MaxChars,
		MaxWords: cfg.Routing.Classifier.MaxWords,
		Markers:  cfg.Routing.Classifier.MultiStepMarkers,
	}
	coord := coordinatoruc.New(coordinatoruc.Deps{
		Validator: validate.New(validate.Config{
			Collections:       cfg.Validation.Collections,
			DefaultCollection: cfg.Validation.DefaultCollection,
			MaxQueryBytes:     cfg.Validation.MaxQueryBytes,
			MaxLimit:          cfg.Validation.MaxLimit,
			MaxOffset:         cfg.Validation.MaxOffset,
			DefaultLimit:      cfg.Routing.TopK,
		}),
		Limiter:    ratelimit.New(limits),
		Health:     healthSvc,
		Retriever:  retrieval.New(queryEmbedder, in.vectors, in.knowledge),
		Router:     routing.NewEngine(cfg.Routing.SimilarityThreshold, classifier),
		Classifier: classifier,
		Composer:   coordinatoruc.NewComposer(cfg.Routing.ContextTokenBudget),
		Local:      local,
		Remote:     remote,
		Recorder:   interactionSvc,
		Queue:      queue,
		Saved:      savedLedger,
	}, cfg.Routing.TopK, logger)

	a := &app{
		coordinator:  coord,
		interactions: interactionSvc,
		usage:        usageuc.New(remoteLedger, savedLedger),
		health:       healthSvc,
		queue:        queue,
	}

	if !cfg.GC.Disabled {
		sched, err := gcuc.NewScheduler(cfg.GC.Schedule, newGC(cfg, in, logger), logger)
		if err != nil {
			return nil, fmt.Errorf("gc scheduler: %w", err)
		}
		a.scheduler = sched
	}
	return a, nil
}

func newGC(cfg *config.Config, in *infra, logger *zap.Logger) *gcuc.Service {
	g := cfg.GC
	return gcuc.New(in.knowledge, in.vectors, gcuc.Config{
		MaxAge:                time.Duration(g.MaxAgeDays) * 24 * time.Hour,
		MinValueScore:         *g.MinValueScore,
		MaxSolutions:          g.MaxSolutions,
		DeduplicateSimilarity: g.DeduplicateSimilarity,
		DedupNeighbors:        g.DedupNeighbors,
		Grace:                 time.Duration(g.GraceHours) * time.Hour,
		OrphanWindow:          time.Duration(g.OrphanWindowHours) * time.Hour,
		PassTimeout:           time.Duration(g.PassTimeoutMin) * time.Minute,
	}, logger)
}

func newCompleter(bc *config.BackendConfig, name string, logger *zap.Logger) *openaiTransport.Completer {
	return openaiTransport.NewCompleter(&openaiTransport.CompleterConfig{
		APIKey:            bc.APIKey,
		BaseURL:           bc.BaseURL,
		Model:             bc.Model,
		MaxTokens:         bc.MaxTokens,
		Temperature:       bc.Temperature,
		RequestsPerSecond: bc.RequestsPerSecond,
		Burst:             bc.Burst,
		Backend:           name,
		Logger:            logger,
	})
}

// buildEmbedder puts the cache and the instruction prefix over the guarded provider.
// Cache hits skip the guard. The prefix is outermost so the cache key covers it.
func buildEmbedder(
	cfg *config.Config,
	base domain.Embedder,
	store *dbRedis.Store,
	instruction string,
	logger *zap.Logger,
) domain.Embedder {
	embedder := base
	if !cfg.Embedding.Cache.Disabled {
		embedder = embcache.New(embedder, store, cfg.Embedding.Model,
			time.Duration(cfg.Embedding.Cache.TTLHours)*time.Hour, metrics.EmbeddingCacheTotal, logger)
	}
	return domain.NewInstructionEmbedder(embedder, instruction)
}
