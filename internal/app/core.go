package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/catalogsearch/internal/cache"
	"github.com/utafrali/catalogsearch/internal/config"
	"github.com/utafrali/catalogsearch/internal/document"
	"github.com/utafrali/catalogsearch/internal/domain"
	"github.com/utafrali/catalogsearch/internal/engine"
	esengine "github.com/utafrali/catalogsearch/internal/engine/elasticsearch"
	"github.com/utafrali/catalogsearch/internal/engine/memory"
	"github.com/utafrali/catalogsearch/internal/repository/postgres"
	"github.com/utafrali/catalogsearch/internal/schema"
	"github.com/utafrali/catalogsearch/internal/service"
	"github.com/utafrali/catalogsearch/pkg/database"
	"github.com/utafrali/catalogsearch/pkg/httpclient"
)

// Core holds the catalogue, search engine and cache connections shared by
// the HTTP server and the indexer command.
type Core struct {
	Pool    *pgxpool.Pool
	Engine  engine.SearchEngine
	Redis   *redis.Client
	Cache   cache.SearchCache
	Indexer *service.Indexer

	// Elastic is set when the Elasticsearch engine is selected.
	Elastic *esengine.Engine

	logger *slog.Logger
}

// NewCore connects to the catalogue database, the search engine and, when
// enabled, Redis, then builds the indexer on top of them.
func NewCore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Core, error) {
	pgCfg := cfg.Postgres()
	pool, err := database.NewPostgresPoolWithLogger(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)

	c := &Core{Pool: pool, Cache: cache.Noop{}, logger: logger}

	switch cfg.SearchEngine {
	case config.EngineMemory:
		c.Engine = memory.New()
		logger.Info("in-memory search engine initialized")
	default:
		fields := domain.NewFieldMap(schema.StaticFields(), nil)
		es, err := esengine.New(esengine.Config{
			URL:          cfg.ElasticsearchURL,
			Index:        cfg.ElasticsearchIndex,
			SearchFields: schema.SearchFields(fields),
			BulkMaxBytes: cfg.ElasticsearchBulkMaxBytes,
			Transport:    elasticTransport(cfg, logger),
		}, logger)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("init elasticsearch engine: %w", err)
		}
		c.Engine = es
		c.Elastic = es
		logger.Info("elasticsearch search engine initialized",
			slog.String("url", cfg.ElasticsearchURL),
			slog.String("index", cfg.ElasticsearchIndex),
		)
	}

	if cfg.RedisEnabled {
		client, err := database.NewRedisClient(ctx, cfg.Redis())
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		c.Redis = client
		if cfg.CacheEnabled() {
			c.Cache = cache.NewRedisCache(client, cfg.CacheTTL)
		}
		logger.Info("connected to Redis",
			slog.String("addr", cfg.Redis().Addr()),
			slog.Bool("cache", cfg.CacheEnabled()),
		)
	}

	c.Indexer = service.NewIndexer(service.IndexerDeps{
		Products: postgres.NewProductRepository(pool),
		Repositories: document.Repositories{
			Attributes: postgres.NewAttributeRepository(pool),
			Stock:      postgres.NewStockRepository(pool),
			Categories: postgres.NewCategoryRepository(pool),
			OrderLines: postgres.NewOrderLineRepository(pool),
		},
		Engine:    c.Engine,
		Analyzers: schema.NewDefaultAnalyzerRegistry(),
		Cache:     c.Cache,
		Logger:    logger,
	}, cfg.Facets, service.IndexerConfig{
		Settings: schema.IndexSettings{
			Shards:   cfg.ElasticsearchShards,
			Replicas: cfg.ElasticsearchReplicas,
		},
		Workers:   cfg.IndexWorkers,
		BatchSize: cfg.IndexBatchSize,
		Mapper:    document.Config{ScoreWindowMonths: cfg.ScoreWindowMonths},
	})

	return c, nil
}

// elasticTransport builds the pooled transport of the Elasticsearch client,
// wrapped in a circuit breaker when enabled.
func elasticTransport(cfg *config.Config, logger *slog.Logger) http.RoundTripper {
	transport := httpclient.NewTransport(httpclient.DefaultConfig())
	if !cfg.BreakerEnabled {
		return transport
	}
	cbCfg := httpclient.DefaultBreakerConfig("elasticsearch")
	cbCfg.OpenTimeout = cfg.BreakerOpenTimeout
	cbCfg.FailureRatio = cfg.BreakerFailureRatio
	return httpclient.NewBreakerTransport(transport, cbCfg, logger)
}

// Close releases the Redis client and the database pool.
func (c *Core) Close() {
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.logger.Error("redis close error", slog.String("error", err.Error()))
		}
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}
