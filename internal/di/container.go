// Package di assembles the process: configuration, observability, storage
// backends, the event transport, the pipeline services, the event consumers
// and the HTTP server, in that order. Shutdown releases them in reverse.
package di

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"cortex-backend/internal/config"
	"cortex-backend/internal/domain"
	"cortex-backend/internal/infrastructure/concurrency"
	"cortex-backend/internal/infrastructure/external"
	natsbus "cortex-backend/internal/infrastructure/messaging/nats"
	dynamostore "cortex-backend/internal/infrastructure/persistence/dynamodb"
	pgstore "cortex-backend/internal/infrastructure/persistence/postgres"
	qdrantstore "cortex-backend/internal/infrastructure/persistence/qdrant"
	redisstore "cortex-backend/internal/infrastructure/persistence/redis"
	"cortex-backend/internal/interfaces/http/rest"
	"cortex-backend/internal/interfaces/http/rest/handlers"
	"cortex-backend/internal/ports"
	"cortex-backend/internal/service/embedding"
	"cortex-backend/internal/service/extraction"
	"cortex-backend/internal/service/fingerprint"
	"cortex-backend/internal/service/graphindex"
	"cortex-backend/internal/service/orchestrator"
	"cortex-backend/internal/service/quality"
	"cortex-backend/internal/service/search"
	"cortex-backend/internal/service/vectorindex"
	"cortex-backend/pkg/observability"
)

// unwindTimeout bounds the teardown of a half-built container.
const unwindTimeout = 10 * time.Second

// Container holds every long-lived component of the process.
type Container struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Collector
	Watcher *config.Watcher

	GraphStore   *dynamostore.GraphStore
	VectorStore  *qdrantstore.VectorStore
	Catalog      *pgstore.MetadataStore
	Fingerprints *redisstore.FingerprintIndex
	Bus          *natsbus.Bus

	Stamper      *fingerprint.Stamper
	Extractor    *extraction.Client
	Scorer       *quality.Scorer
	Embedder     *embedding.Client
	VectorIndex  *vectorindex.Writer
	GraphIndex   *graphindex.Writer
	Orchestrator *orchestrator.Orchestrator
	Search       *search.Aggregator
	Responder    *search.Responder

	// HTTPServer is started and stopped by the caller; everything it depends
	// on lives as long as the container.
	HTTPServer *http.Server

	embedderBackend  ports.EmbeddingBackend
	extractorBackend ports.ExtractorBackend
	scorerBackend    ports.QualityBackend
	ragBackend       ports.RAGBackend

	// indexPool runs pipeline work; the bus dispatches handlers on its own
	// pool because handlers submit into indexPool and a shared queue could
	// deadlock against itself.
	indexPool    *concurrency.WorkerPool
	dispatchPool *concurrency.WorkerPool

	subscriptions []ports.Subscription
	shutdownFuncs []func(context.Context) error
}

// New builds a fully wired container. A failure part-way through unwinds
// whatever had already started before the error is returned.
func New(ctx context.Context) (*Container, error) {
	c := &Container{}

	if err := c.initialize(ctx); err != nil {
		unwindCtx, cancel := context.WithTimeout(context.Background(), unwindTimeout)
		defer cancel()
		_ = c.Shutdown(unwindCtx)
		return nil, err
	}
	return c, nil
}

// initialize sets up all dependencies in the correct order.
func (c *Container) initialize(ctx context.Context) error {
	// 1. Configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	c.Config = cfg

	// 2. Logging, metrics, tracing
	if err := c.initObservability(); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}

	// 3. Storage backends and external service clients
	if err := c.initBackends(ctx); err != nil {
		return fmt.Errorf("failed to initialize backends: %w", err)
	}

	// 4. Event transport
	if err := c.initTransport(); err != nil {
		return fmt.Errorf("failed to initialize event transport: %w", err)
	}

	// 5. Pipeline services
	if err := c.initServices(ctx); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	// 6. Event consumers
	if err := c.initConsumers(); err != nil {
		return fmt.Errorf("failed to start consumers: %w", err)
	}

	// 7. HTTP server
	c.initHTTP()

	// 8. Configuration hot reload
	if err := c.initHotReload(); err != nil {
		return fmt.Errorf("failed to start config watcher: %w", err)
	}

	c.Logger.Info("container initialized",
		zap.String("environment", cfg.Environment),
		zap.String("address", cfg.Server.Address),
		zap.String("queue_group", cfg.Events.QueueGroup))
	return nil
}

func (c *Container) initObservability() error {
	logger, err := observability.NewLogger(c.Config.Environment, c.Config.Logging.Level)
	if err != nil {
		return err
	}
	c.Logger = logger
	c.addShutdown(func(context.Context) error {
		_ = logger.Sync()
		return nil
	})

	c.Metrics = observability.NewCollector(c.Config.Metrics.Namespace)

	if c.Config.Tracing.Enabled {
		provider, err := observability.InitTracing(observability.TracingConfig{
			ServiceName: c.Config.Events.SourceComponent,
			Environment: c.Config.Environment,
			Endpoint:    c.Config.Tracing.Endpoint,
			SampleRate:  c.Config.Tracing.SampleRate,
		})
		if err != nil {
			// Non-fatal; the pipeline runs untraced.
			logger.Warn("tracing disabled, exporter init failed", zap.Error(err))
			return nil
		}
		c.addShutdown(provider.Shutdown)
		logger.Info("tracing enabled",
			zap.String("endpoint", c.Config.Tracing.Endpoint),
			zap.Float64("sample_rate", c.Config.Tracing.SampleRate))
	}
	return nil
}

func (c *Container) initBackends(ctx context.Context) error {
	cfg := c.Config

	dynamoClient, err := dynamostore.NewClient(ctx, cfg.Graph)
	if err != nil {
		return fmt.Errorf("dynamodb client: %w", err)
	}
	c.GraphStore = dynamostore.NewGraphStore(dynamoClient, cfg.Graph.TableName, c.Logger, c.Metrics)

	qdrantClient, err := qdrantstore.NewClient(cfg.Vector)
	if err != nil {
		return fmt.Errorf("qdrant client: %w", err)
	}
	c.VectorStore = qdrantstore.NewVectorStore(qdrantClient, cfg.Vector.RequestTimeout, c.Logger, c.Metrics)
	c.addShutdown(func(context.Context) error {
		return c.VectorStore.Close()
	})

	pgPool, err := pgstore.NewPool(ctx, cfg.Catalog)
	if err != nil {
		return fmt.Errorf("postgres pool: %w", err)
	}
	c.addShutdown(func(context.Context) error {
		pgPool.Close()
		return nil
	})
	if err := pgstore.Migrate(pgPool); err != nil {
		return fmt.Errorf("postgres migrations: %w", err)
	}
	c.Catalog = pgstore.NewMetadataStore(pgPool, c.Logger, c.Metrics)

	redisClient := redisstore.NewClient(cfg.Fingerprint)
	c.Fingerprints = redisstore.NewFingerprintIndex(redisClient, cfg.Fingerprint.KeyPrefix, cfg.Fingerprint.RequestTimeout, c.Logger, c.Metrics)
	c.addShutdown(func(context.Context) error {
		return c.Fingerprints.Close()
	})

	c.embedderBackend = external.NewEmbeddingProvider(cfg.Embedding, c.Logger)
	c.extractorBackend = external.NewExtractorClient(cfg.Extraction, c.Logger)
	c.scorerBackend = external.NewScorerClient(cfg.Quality, c.Logger)
	c.ragBackend = external.NewRAGClient(cfg.Search, c.Logger)
	return nil
}

func (c *Container) initTransport() error {
	conn, err := natsbus.Connect(c.Config.Events, c.Logger)
	if err != nil {
		return err
	}

	c.dispatchPool = concurrency.NewWorkerPool(0, 0, c.Logger.Named("dispatch"), c.Metrics)
	c.Bus = natsbus.NewBus(conn, c.Config.Events.QueueGroup, c.dispatchPool, c.Logger, c.Metrics)
	// Bus.Close drains the connection and stops the dispatch pool.
	c.addShutdown(func(context.Context) error {
		return c.Bus.Close()
	})
	return nil
}

func (c *Container) initServices(ctx context.Context) error {
	cfg := c.Config

	c.indexPool = concurrency.NewWorkerPool(cfg.Pipeline.WorkerPoolSize, 0, c.Logger.Named("indexing"), c.Metrics)
	c.indexPool.Start()
	c.addShutdown(c.indexPool.Stop)

	c.Stamper = fingerprint.NewStamper(c.Fingerprints, cfg.Pipeline.StampTimeout, c.Logger, c.Metrics)
	c.Extractor = extraction.NewClient(c.extractorBackend, cfg.Extraction.RequestTimeout, c.Logger, c.Metrics)
	c.Scorer = quality.NewScorer(c.scorerBackend, cfg.Quality.RequestTimeout, c.Logger, c.Metrics)
	c.Embedder = embedding.NewClient(c.embedderBackend, embedding.Config{
		Dimension:      cfg.Embedding.Dimension,
		MaxConcurrent:  cfg.Embedding.MaxConcurrent,
		RequestTimeout: cfg.Embedding.RequestTimeout,
		RetryBackoff:   cfg.Embedding.RetryBackoff,
	}, c.Logger, c.Metrics)

	c.VectorIndex = vectorindex.NewWriter(c.VectorStore, c.Embedder, cfg.Vector.Collection, cfg.Chunking.Size, cfg.Chunking.Overlap, c.Logger, c.Metrics)
	if err := c.VectorIndex.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("vector collection bootstrap: %w", err)
	}

	c.GraphIndex = graphindex.NewWriter(c.GraphStore, 0, c.Logger, c.Metrics)

	c.Orchestrator = orchestrator.New(
		c.Stamper,
		c.Extractor,
		c.Scorer,
		c.VectorIndex,
		c.GraphIndex,
		c.Catalog,
		c.Bus,
		c.indexPool,
		orchestrator.Config{
			SourceComponent: cfg.Events.SourceComponent,
			SoftBudget:      cfg.Pipeline.SoftBudget,
			HardBudget:      cfg.Pipeline.HardBudget,
			SkipEnrichment:  cfg.Pipeline.SkipEnrichment,
			AsyncEnrichment: cfg.Pipeline.AsyncEnrichment,
		},
		c.Logger,
		c.Metrics,
	)

	c.Search = search.New(c.ragBackend, c.Embedder, c.VectorStore, c.GraphStore, search.Config{
		Collection:       cfg.Vector.Collection,
		PerSourceTimeout: cfg.Search.PerSourceTimeout,
		DefaultLimit:     cfg.Search.DefaultLimit,
		MaxLimit:         cfg.Search.MaxLimit,
		QualityWeight:    cfg.Search.QualityWeight,
	}, c.Logger, c.Metrics)

	c.Responder = search.NewResponder(c.Search, c.Bus, cfg.Events.SourceComponent, c.Logger)
	return nil
}

func (c *Container) initConsumers() error {
	consumers := []struct {
		topic   string
		handler ports.EventHandler
	}{
		{domain.TopicDocumentIndexRequested, c.Orchestrator.HandleDocumentIndexRequested},
		{domain.TopicTreeIndex, c.Orchestrator.HandleTreeIndex},
		{domain.TopicSearchRequested, c.Responder.HandleSearchRequested},
	}

	for _, consumer := range consumers {
		sub, err := c.Bus.Subscribe(consumer.topic, consumer.handler)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", consumer.topic, err)
		}
		c.subscriptions = append(c.subscriptions, sub)
	}

	// Unsubscribing first stops intake before the pools drain.
	c.addShutdown(func(context.Context) error {
		var firstErr error
		for _, sub := range c.subscriptions {
			if err := sub.Unsubscribe(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	})
	return nil
}

func (c *Container) initHTTP() {
	pingers := map[string]handlers.Pinger{
		"dynamodb": c.GraphStore,
		"qdrant":   c.VectorStore,
		"postgres": c.Catalog,
		"redis":    c.Fingerprints,
		"nats":     c.Bus,
	}

	router := rest.NewRouter(c.Config.Server, c.Orchestrator, c.Search, c.Catalog, c.GraphStore, pingers, c.Logger, c.Metrics)

	c.HTTPServer = &http.Server{
		Addr:         c.Config.Server.Address,
		Handler:      router.Setup(),
		ReadTimeout:  c.Config.Server.ReadTimeout,
		WriteTimeout: c.Config.Server.WriteTimeout,
		IdleTimeout:  c.Config.Server.IdleTimeout,
	}
}

func (c *Container) initHotReload() error {
	watcher, err := config.NewWatcher(c.Config, os.Getenv("CONFIG_FILE"), c.Logger)
	if err != nil {
		return err
	}
	c.Watcher = watcher

	watcher.OnChange(func(next *config.Config) {
		c.VectorIndex.UpdateChunking(next.Chunking.Size, next.Chunking.Overlap)
		c.Search.UpdateQualityWeight(next.Search.QualityWeight)
	})

	c.addShutdown(func(context.Context) error {
		watcher.Stop()
		return nil
	})
	return nil
}

func (c *Container) addShutdown(fn func(context.Context) error) {
	c.shutdownFuncs = append(c.shutdownFuncs, fn)
}

// Shutdown releases every component in reverse initialization order. The
// HTTP server is the caller's to stop before calling this.
func (c *Container) Shutdown(ctx context.Context) error {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var failed int
	for i := len(c.shutdownFuncs) - 1; i >= 0; i-- {
		if err := c.shutdownFuncs[i](ctx); err != nil {
			failed++
			logger.Error("shutdown step failed", zap.Error(err))
		}
	}
	c.shutdownFuncs = nil

	if failed > 0 {
		return fmt.Errorf("shutdown completed with %d errors", failed)
	}
	logger.Info("container shutdown complete")
	return nil
}
