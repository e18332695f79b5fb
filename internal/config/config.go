package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Environment represents different deployment environments
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Config holds the configuration for the memory mediator.
// Environment variables are parsed with the MEMORY_MEDIATOR_ prefix.
type Config struct {
	// Build target selects high-level environment: local, cloud-dev, cloud
	BuildTarget string `envconfig:"BUILD_TARGET" default:"local"`

	// Tier drivers; "auto" derives from BuildTarget
	StoreDriver string `envconfig:"STORE_DRIVER" default:"auto"`
	IndexDriver string `envconfig:"INDEX_DRIVER" default:"auto"`

	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`

	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	// Tier-3
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:""` // empty: under the local data dir

	// Tier-2
	WeaviateURL string `envconfig:"WEAVIATE_URL" default:"localhost:8082"`
	PgvectorDSN string `envconfig:"PGVECTOR_DSN" default:""`
	ChromemPath string `envconfig:"CHROMEM_PATH" default:""` // empty: under the local data dir, in-memory when testing

	// Tier-1; "none" runs without a cache
	CacheDriver   string `envconfig:"CACHE_DRIVER" default:"ristretto"`
	CacheMaxItems int64  `envconfig:"CACHE_MAX_ITEMS" default:"100000"`

	// Embedding / Search Configuration
	EmbedProvider   string  `envconfig:"EMBED_PROVIDER" default:"ollama"`
	EmbedModel      string  `envconfig:"EMBED_MODEL" default:"nomic-embed-text"`
	EmbedDimensions int     `envconfig:"EMBED_DIMENSIONS" default:"768"`
	OllamaURL       string  `envconfig:"OLLAMA_URL" default:"http://localhost:11434"`
	OpenAIAPIKey    string  `envconfig:"OPENAI_API_KEY" default:""`
	OpenAIBaseURL   string  `envconfig:"OPENAI_BASE_URL" default:""`
	ScoreThreshold  float32 `envconfig:"SCORE_THRESHOLD" default:"0.7"`
	SearchLimit     int     `envconfig:"SEARCH_LIMIT" default:"10"`

	// Change propagation
	PipelineShards           int `envconfig:"PIPELINE_SHARDS" default:"8"`
	PipelineQueueSize        int `envconfig:"PIPELINE_QUEUE_SIZE" default:"1024"`
	PipelineEnqueueTimeoutMs int `envconfig:"PIPELINE_ENQUEUE_TIMEOUT_MS" default:"100"`
	PipelineMaxAttempts      int `envconfig:"PIPELINE_MAX_ATTEMPTS" default:"8"`
	PipelineBaseBackoffMs    int `envconfig:"PIPELINE_BASE_BACKOFF_MS" default:"100"`
	PipelineMaxBackoffMs     int `envconfig:"PIPELINE_MAX_BACKOFF_MS" default:"20000"`
	IndexConcurrency         int `envconfig:"INDEX_CONCURRENCY" default:"8"`
	StoreConcurrency         int `envconfig:"STORE_CONCURRENCY" default:"16"`

	// Dead-letter replay
	ReplayBatchSize       int `envconfig:"REPLAY_BATCH_SIZE" default:"100"`
	ReplayIntervalSeconds int `envconfig:"REPLAY_INTERVAL_SECONDS" default:"2"`

	// Shared secret the front end presents as a bearer token; empty disables the check
	FrontendToken string `envconfig:"FRONTEND_TOKEN" default:""`

	// Health Configuration
	HealthIntervalSeconds     int `envconfig:"HEALTH_INTERVAL_SECONDS" default:"30"`
	HealthProbeTimeoutSeconds int `envconfig:"HEALTH_PROBE_TIMEOUT_SECONDS" default:"2"`

	// Bootstrap Configuration
	BootstrapTimeoutSeconds int `envconfig:"BOOTSTRAP_TIMEOUT_SECONDS" default:"5"`
}

// ResolveDefaults validates BuildTarget and derives StoreDriver and IndexDriver when set to "auto" or empty.
func (c *Config) ResolveDefaults() error {
	var defaultStore, defaultIndex string

	switch c.BuildTarget {
	case "local":
		defaultStore, defaultIndex = "sqlite", "chromem"
	case "cloud-dev", "cloud":
		defaultStore, defaultIndex = "postgres", "weaviate"
	default:
		return fmt.Errorf("unsupported BUILD_TARGET: %s", c.BuildTarget)
	}

	if c.StoreDriver == "" || c.StoreDriver == "auto" {
		c.StoreDriver = defaultStore
	}
	if c.IndexDriver == "" || c.IndexDriver == "auto" {
		c.IndexDriver = defaultIndex
	}

	allowedStore := map[string]bool{"postgres": true, "sqlite": true}
	if !allowedStore[c.StoreDriver] {
		return fmt.Errorf("unsupported STORE_DRIVER: %s", c.StoreDriver)
	}
	allowedIndex := map[string]bool{"weaviate": true, "chromem": true, "pgvector": true, "none": true}
	if !allowedIndex[c.IndexDriver] {
		return fmt.Errorf("unsupported INDEX_DRIVER: %s", c.IndexDriver)
	}
	allowedCache := map[string]bool{"ristretto": true, "none": true, "": true}
	if !allowedCache[c.CacheDriver] {
		return fmt.Errorf("unsupported CACHE_DRIVER: %s", c.CacheDriver)
	}
	allowedEmbed := map[string]bool{"ollama": true, "openai": true, "none": true}
	if !allowedEmbed[c.EmbedProvider] {
		return fmt.Errorf("unsupported EMBED_PROVIDER: %s", c.EmbedProvider)
	}
	if c.IndexDriver == "pgvector" && c.PgvectorDSN == "" {
		c.PgvectorDSN = c.PostgresDSN
	}
	if c.EmbedDimensions <= 0 {
		return fmt.Errorf("EMBED_DIMENSIONS must be > 0, got %d", c.EmbedDimensions)
	}
	if c.ScoreThreshold < -1 || c.ScoreThreshold > 1 {
		return fmt.Errorf("SCORE_THRESHOLD must be within [-1,1], got %v", c.ScoreThreshold)
	}
	return nil
}

// New creates a new Config by parsing environment variables
// Environment variables should be prefixed with MEMORY_MEDIATOR_
// Example: MEMORY_MEDIATOR_STORE_DRIVER, MEMORY_MEDIATOR_HTTP_PORT
func New() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("MEMORY_MEDIATOR", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Info().
		Str("build_target", cfg.BuildTarget).
		Str("store_driver", cfg.StoreDriver).
		Str("index_driver", cfg.IndexDriver).
		Str("environment", string(cfg.Environment)).
		Int("port", cfg.HTTPPort).
		Str("embed_provider", cfg.EmbedProvider).
		Str("embed_model", cfg.EmbedModel).
		Int("embed_dimensions", cfg.EmbedDimensions).
		Float32("score_threshold", cfg.ScoreThreshold).
		Bool("postgres_dsn_present", cfg.PostgresDSN != "").
		Str("weaviate_url", cfg.WeaviateURL).
		Int("pipeline_shards", cfg.PipelineShards).
		Int("pipeline_max_attempts", cfg.PipelineMaxAttempts).
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting creates a config specifically for testing
func NewForTesting() *Config {
	cfg := &Config{
		Environment:               EnvTesting,
		BuildTarget:               "local",
		StoreDriver:               "sqlite",
		IndexDriver:               "chromem",
		CacheDriver:               "ristretto",
		HTTPPort:                  8080,
		SQLitePath:                "file::memory:?cache=shared",
		CacheMaxItems:             1000,
		EmbedProvider:             "none",
		EmbedModel:                "nomic-embed-text",
		EmbedDimensions:           4,
		ScoreThreshold:            0.7,
		SearchLimit:               10,
		PipelineShards:            2,
		PipelineQueueSize:         64,
		PipelineEnqueueTimeoutMs:  50,
		PipelineMaxAttempts:       3,
		PipelineBaseBackoffMs:     5,
		PipelineMaxBackoffMs:      50,
		IndexConcurrency:          2,
		StoreConcurrency:          2,
		ReplayBatchSize:           10,
		ReplayIntervalSeconds:     1,
		HealthIntervalSeconds:     1,
		HealthProbeTimeoutSeconds: 1,
		BootstrapTimeoutSeconds:   1,
	}
	return cfg
}

// IsTesting returns true if the environment is set to testing
func (c *Config) IsTesting() bool {
	return c.Environment == EnvTesting
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// EnqueueTimeout is the longest a write waits for room in a pipeline shard.
func (c *Config) EnqueueTimeout() time.Duration {
	return time.Duration(c.PipelineEnqueueTimeoutMs) * time.Millisecond
}

// BaseBackoff is the first retry delay inside the pipeline.
func (c *Config) BaseBackoff() time.Duration {
	return time.Duration(c.PipelineBaseBackoffMs) * time.Millisecond
}

// MaxBackoff caps the retry delay inside the pipeline.
func (c *Config) MaxBackoff() time.Duration {
	return time.Duration(c.PipelineMaxBackoffMs) * time.Millisecond
}
