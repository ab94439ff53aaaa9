package config

import (
	"fmt"
	"time"

	"github.com/utafrali/catalogsearch/internal/domain"
	pkgconfig "github.com/utafrali/catalogsearch/pkg/config"
	"github.com/utafrali/catalogsearch/pkg/database"
	"github.com/utafrali/catalogsearch/pkg/logger"
	"github.com/utafrali/catalogsearch/pkg/middleware"
)

// Search engine backends.
const (
	EngineElasticsearch = "elasticsearch"
	EngineMemory        = "memory"
)

// Config holds all configuration for the search service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`

	// HTTP server
	HTTPPort        int      `env:"SEARCH_HTTP_PORT" envDefault:"8010"`
	CORSOrigins     []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	CacheMaxAgeSecs int      `env:"SEARCH_CACHE_MAX_AGE_SECONDS" envDefault:"0"`
	// AdminToken and OperatorTokens guard the index management endpoints.
	// With neither set the endpoints are not mounted.
	AdminToken     string   `env:"SEARCH_ADMIN_TOKEN"`
	OperatorTokens []string `env:"SEARCH_OPERATOR_TOKENS" envSeparator:","`
	// OperatorJWTSecret enables access tokens from the user service.
	OperatorJWTSecret string `env:"SEARCH_OPERATOR_JWT_SECRET"`
	OperatorJWTIssuer string `env:"SEARCH_OPERATOR_JWT_ISSUER" envDefault:"user-service"`
	// Per-client limit on the public search endpoints; 0 disables it.
	RateLimitRPS   float64  `env:"SEARCH_RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst int      `env:"SEARCH_RATE_LIMIT_BURST" envDefault:"40"`
	TrustedProxies []string `env:"SEARCH_TRUSTED_PROXY_CIDRS" envSeparator:","`

	// Elasticsearch
	ElasticsearchURL      string `env:"ELASTICSEARCH_URL" envDefault:"http://localhost:9200"`
	ElasticsearchIndex    string `env:"ELASTICSEARCH_INDEX" envDefault:"catalogue_products"`
	ElasticsearchShards   int    `env:"ELASTICSEARCH_SHARDS" envDefault:"1"`
	ElasticsearchReplicas int    `env:"ELASTICSEARCH_REPLICAS" envDefault:"0"`
	// ElasticsearchBulkMaxBytes caps the body of one bulk request.
	ElasticsearchBulkMaxBytes int `env:"ELASTICSEARCH_BULK_MAX_BYTES" envDefault:"5242880"`
	// Circuit breaker in front of the Elasticsearch client
	BreakerEnabled      bool          `env:"ELASTICSEARCH_BREAKER_ENABLED" envDefault:"true"`
	BreakerOpenTimeout  time.Duration `env:"ELASTICSEARCH_BREAKER_OPEN_TIMEOUT" envDefault:"30s"`
	BreakerFailureRatio float64       `env:"ELASTICSEARCH_BREAKER_FAILURE_RATIO" envDefault:"0.5"`

	// Search engine selection (elasticsearch or memory)
	SearchEngine string `env:"SEARCH_ENGINE" envDefault:"elasticsearch"`

	// PostgreSQL (catalogue)
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"search_reader"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"search_reader_secret"`
	PostgresDB   string `env:"CATALOGUE_DB_NAME" envDefault:"catalogue_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"2"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Redis (search result cache and event deduplication)
	RedisEnabled  bool          `env:"REDIS_ENABLED" envDefault:"false"`
	RedisHost     string        `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int           `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string        `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	RedisPoolSize int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	CacheTTL      time.Duration `env:"SEARCH_CACHE_TTL" envDefault:"30s"`

	// Kafka
	KafkaEnabled  bool          `env:"KAFKA_ENABLED" envDefault:"true"`
	KafkaBrokers  []string      `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	KafkaGroupID  string        `env:"KAFKA_GROUP_ID" envDefault:"search-indexer"`
	KafkaDLQ      bool          `env:"KAFKA_DLQ_ENABLED" envDefault:"true"`
	EventDedupTTL time.Duration `env:"EVENT_DEDUP_TTL" envDefault:"24h"`
	EventClaimTTL time.Duration `env:"EVENT_CLAIM_TTL" envDefault:"5m"`

	// Indexing
	FacetsFile        string `env:"SEARCH_FACETS_FILE"`
	ScoreWindowMonths int    `env:"SCORE_WINDOW_MONTHS" envDefault:"3"`
	IndexWorkers      int    `env:"INDEX_WORKERS" envDefault:"4"`
	IndexBatchSize    int    `env:"INDEX_BATCH_SIZE" envDefault:"200"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
	// OTELHeaders are "key=value" pairs sent with every export.
	OTELHeaders map[string]string `env:"OTEL_EXPORTER_OTLP_HEADERS" envKeyValSeparator:"="`

	// Pprof debug endpoints (IP allowlist in CIDR notation)
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"127.0.0.0/8,::1/128" envSeparator:","`

	// Slow query logging
	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`

	// Facets is the ordered facet configuration read from FacetsFile.
	Facets domain.FacetConfigs `env:"-"`
}

// Load reads configuration from environment variables and the facet file.
func Load(opts ...pkgconfig.Option) (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg, opts...); err != nil {
		return nil, fmt.Errorf("load search config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.FacetsFile != "" {
		facets, err := LoadFacets(cfg.FacetsFile)
		if err != nil {
			return nil, err
		}
		cfg.Facets = facets
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if !logger.ValidFormat(c.LogFormat) {
		return fmt.Errorf("LOG_FORMAT must be %q or %q, got %q", logger.FormatJSON, logger.FormatText, c.LogFormat)
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.SearchEngine != EngineElasticsearch && c.SearchEngine != EngineMemory {
		return fmt.Errorf("SEARCH_ENGINE must be %q or %q, got %q", EngineElasticsearch, EngineMemory, c.SearchEngine)
	}
	if c.SearchEngine == EngineElasticsearch && c.ElasticsearchURL == "" {
		return fmt.Errorf("ELASTICSEARCH_URL is required")
	}
	if c.ElasticsearchShards < 1 {
		return fmt.Errorf("ELASTICSEARCH_SHARDS must be positive, got %d", c.ElasticsearchShards)
	}
	if c.ElasticsearchReplicas < 0 {
		return fmt.Errorf("ELASTICSEARCH_REPLICAS must not be negative, got %d", c.ElasticsearchReplicas)
	}
	if c.ElasticsearchBulkMaxBytes < 1<<10 {
		return fmt.Errorf("ELASTICSEARCH_BULK_MAX_BYTES must be at least 1024, got %d", c.ElasticsearchBulkMaxBytes)
	}
	if c.PostgresHost == "" {
		return fmt.Errorf("POSTGRES_HOST is required")
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if c.EventClaimTTL <= 0 || c.EventClaimTTL > c.EventDedupTTL {
		return fmt.Errorf("EVENT_CLAIM_TTL must be positive and at most EVENT_DEDUP_TTL, got %s", c.EventClaimTTL)
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("SEARCH_CACHE_TTL must not be negative, got %s", c.CacheTTL)
	}
	if c.ScoreWindowMonths < 1 {
		return fmt.Errorf("SCORE_WINDOW_MONTHS must be positive, got %d", c.ScoreWindowMonths)
	}
	if c.IndexWorkers < 1 {
		return fmt.Errorf("INDEX_WORKERS must be positive, got %d", c.IndexWorkers)
	}
	if c.IndexBatchSize < 1 {
		return fmt.Errorf("INDEX_BATCH_SIZE must be positive, got %d", c.IndexBatchSize)
	}
	if c.BreakerEnabled && (c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1.0) {
		return fmt.Errorf("ELASTICSEARCH_BREAKER_FAILURE_RATIO must be in (0.0, 1.0], got %f", c.BreakerFailureRatio)
	}
	if _, err := c.Operators(); err != nil {
		return err
	}
	if _, err := middleware.ParseCIDRs(c.PprofAllowedCIDRs); err != nil {
		return fmt.Errorf("PPROF_ALLOWED_CIDRS: %w", err)
	}
	if _, err := middleware.ParseCIDRs(c.TrustedProxies); err != nil {
		return fmt.Errorf("SEARCH_TRUSTED_PROXY_CIDRS: %w", err)
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("SEARCH_RATE_LIMIT_RPS and SEARCH_RATE_LIMIT_BURST must not be negative")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	return nil
}

// Operators returns the admin tokens. SEARCH_ADMIN_TOKEN belongs to the
// "admin" operator with every scope.
func (c *Config) Operators() (*middleware.TokenStore, error) {
	store, err := middleware.ParseOperatorTokens(c.OperatorTokens)
	if err != nil {
		return nil, fmt.Errorf("SEARCH_OPERATOR_TOKENS: %w", err)
	}
	if c.AdminToken != "" {
		if err := store.Add(c.AdminToken, middleware.Operator{Name: "admin"}); err != nil {
			return nil, fmt.Errorf("SEARCH_ADMIN_TOKEN: %w", err)
		}
	}
	if c.OperatorJWTSecret != "" {
		if err := store.AcceptJWT(c.OperatorJWTSecret, c.OperatorJWTIssuer); err != nil {
			return nil, fmt.Errorf("SEARCH_OPERATOR_JWT_SECRET: %w", err)
		}
	}
	return store, nil
}

// RateLimit returns the limiter settings for the public endpoints.
func (c *Config) RateLimit() middleware.RateLimitConfig {
	// validate has already parsed the CIDRs.
	proxies, _ := middleware.ParseCIDRs(c.TrustedProxies)
	return middleware.RateLimitConfig{
		RPS:            c.RateLimitRPS,
		Burst:          c.RateLimitBurst,
		TrustedProxies: proxies,
	}
}

// CacheEnabled reports whether search results are cached in Redis.
func (c *Config) CacheEnabled() bool {
	return c.RedisEnabled && c.CacheTTL > 0
}

// Postgres returns the catalogue database connection settings.
func (c *Config) Postgres() database.PostgresConfig {
	pg := database.DefaultPostgresConfig()
	pg.Host = c.PostgresHost
	pg.Port = c.PostgresPort
	pg.User = c.PostgresUser
	pg.Password = c.PostgresPass
	pg.DBName = c.PostgresDB
	pg.SSLMode = c.PostgresSSL
	pg.MaxConns = c.DBMaxConns
	pg.MinConns = c.DBMinConns
	pg.MaxConnLifetime = time.Duration(c.DBMaxConnLifetimeMins) * time.Minute
	pg.MaxConnIdleTime = time.Duration(c.DBMaxConnIdleTimeMins) * time.Minute
	pg.SlowQueryThreshold = time.Duration(c.SlowQueryThresholdMs) * time.Millisecond
	return pg
}

// Logger returns the handler options for the service logger.
func (c *Config) Logger() logger.Options {
	return logger.Options{Level: c.LogLevel, Format: c.LogFormat}
}

// Redis returns the Redis connection settings.
func (c *Config) Redis() database.RedisConfig {
	rc := database.DefaultRedisConfig()
	rc.Host = c.RedisHost
	rc.Port = c.RedisPort
	rc.Password = c.RedisPassword
	rc.DB = c.RedisDB
	rc.PoolSize = c.RedisPoolSize
	return rc
}
