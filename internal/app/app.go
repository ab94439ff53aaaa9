package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/utafrali/catalogsearch/internal/config"
	"github.com/utafrali/catalogsearch/internal/event"
	handler "github.com/utafrali/catalogsearch/internal/handler/http"
	"github.com/utafrali/catalogsearch/internal/service"
	"github.com/utafrali/catalogsearch/pkg/database"
	"github.com/utafrali/catalogsearch/pkg/health"
	pkgkafka "github.com/utafrali/catalogsearch/pkg/kafka"
	"github.com/utafrali/catalogsearch/pkg/middleware"
	"github.com/utafrali/catalogsearch/pkg/tracing"
)

// ServiceName identifies the search service in logs, metrics and traces.
const ServiceName = "search"

// App wires together all dependencies and runs the search service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	core           *Core
	consumers      []*pkgkafka.Consumer
	deadLetter     *pkgkafka.DLQProducer
	indexHandler   *handler.IndexHandler
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	operators, err := cfg.Operators()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    ServiceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		Endpoint:       cfg.OTELEndpoint,
		Headers:        cfg.OTELHeaders,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	core, err := NewCore(ctx, cfg, logger)
	if err != nil {
		_ = tracerShutdown(context.Background())
		return nil, err
	}
	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, core.Pool, ServiceName); err != nil {
		logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
	}

	// A missing index is built on startup; failures leave the service
	// running so the index can be rebuilt through the admin API.
	if err := core.Indexer.EnsureIndex(ctx); err != nil {
		logger.Warn("search index not ready",
			slog.String("error", err.Error()),
		)
	}

	searchService := service.NewSearchService(core.Engine, core.Cache, cfg.Facets, logger)

	a := &App{
		cfg:            cfg,
		logger:         logger,
		core:           core,
		tracerShutdown: tracerShutdown,
	}

	if cfg.KafkaEnabled {
		a.initConsumers(core)
	}

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return core.Pool.Ping(ctx)
	})
	if core.Elastic != nil {
		healthHandler.RegisterCritical("elasticsearch", core.Elastic.Ping)
	}
	if core.Redis != nil {
		healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
			return core.Redis.Ping(ctx).Err()
		})
	}
	if cfg.KafkaEnabled {
		healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
			return pkgkafka.PingBrokers(ctx, cfg.KafkaBrokers)
		})
	}
	logger.Info("health checks registered", slog.Any("dependencies", healthHandler.Dependencies()))

	a.indexHandler = handler.NewIndexHandler(core.Indexer, logger)
	if !operators.Enabled() {
		logger.Warn("no operator credentials configured, index management endpoints disabled")
	}

	router := handler.NewRouter(handler.RouterConfig{
		Search:            searchService,
		Index:             a.indexHandler,
		Health:            healthHandler,
		Logger:            logger,
		CORS:              middleware.CORSConfig{AllowedOrigins: cfg.CORSOrigins},
		Timeout:           15 * time.Second,
		CacheMaxAge:       cfg.CacheMaxAgeSecs,
		Operators:         operators,
		RateLimit:         cfg.RateLimit(),
		PprofAllowedCIDRs: cfg.PprofAllowedCIDRs,
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// initConsumers creates one consumer per catalogue topic. Events are
// deduplicated through Redis when it is available.
func (a *App) initConsumers(core *Core) {
	var store pkgkafka.DedupStore
	if core.Redis != nil {
		store = pkgkafka.NewRedisDedupStore(core.Redis, a.cfg.EventClaimTTL, a.cfg.EventDedupTTL)
	} else {
		store = pkgkafka.NewMemoryDedupStore(a.cfg.EventClaimTTL, a.cfg.EventDedupTTL)
	}

	if a.cfg.KafkaDLQ {
		a.deadLetter = pkgkafka.NewDLQProducer(a.cfg.KafkaBrokers, a.logger)
	}

	eventConsumer := event.NewConsumer(core.Indexer, a.logger)
	eventHandler := pkgkafka.Deduplicate(store, eventConsumer.Handle, a.logger)

	for _, topic := range event.Topics() {
		consumerCfg := pkgkafka.ConsumerConfig{
			Brokers:  a.cfg.KafkaBrokers,
			GroupID:  a.cfg.KafkaGroupID,
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 10e6,
		}
		if a.deadLetter != nil {
			consumerCfg.DeadLetter = a.deadLetter
		}
		a.consumers = append(a.consumers, pkgkafka.NewConsumer(consumerCfg, eventHandler, a.logger))
	}

	a.logger.Info("kafka consumers initialized",
		slog.Any("brokers", a.cfg.KafkaBrokers),
		slog.String("group_id", a.cfg.KafkaGroupID),
		slog.Int("topic_count", len(a.consumers)),
		slog.Bool("dlq", a.deadLetter != nil),
	)
}

// Run starts the HTTP server and Kafka consumers, blocking until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1+len(a.consumers))

	for _, c := range a.consumers {
		go func() {
			if err := c.Start(ctx); err != nil {
				errCh <- fmt.Errorf("kafka consumer %s: %w", c.Topic(), err)
			}
		}()
	}

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// Graceful HTTP server shutdown with a 10-second deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	for _, c := range a.consumers {
		if err := c.Close(); err != nil {
			a.logger.Error("kafka consumer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.deadLetter != nil {
		if err := a.deadLetter.Close(); err != nil {
			a.logger.Error("dlq producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// Let a running reindex pass finish before its connections close.
	a.indexHandler.Wait()
	a.core.Close()

	if err := a.tracerShutdown(shutdownCtx); err != nil {
		a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
