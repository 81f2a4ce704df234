// Package config provides unified configuration loading for the enrichment
// pipeline and API. Supports YAML files, a .env file, and environment
// variable overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the enrichment services.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Vector        VectorConfig        `yaml:"vector"`
	Storage       StorageConfig       `yaml:"storage"`
	Cache         CacheConfig         `yaml:"cache"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Generation    GenerationConfig    `yaml:"generation"`
	Category      CategoryConfig      `yaml:"category"`
	Vectors       NeighborConfig      `yaml:"vectors"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	APIKeys          []string      `yaml:"api_keys"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
}

// DatabaseConfig holds metadata store connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// VectorConfig selects and configures the vector index backend.
type VectorConfig struct {
	Adapter   string `yaml:"adapter"` // memory or pgvector
	DSN       string `yaml:"dsn"`
	Table     string `yaml:"table"`
	Dimension int    `yaml:"dimension"`
}

// StorageConfig selects the object store used for product images.
type StorageConfig struct {
	Backend  string `yaml:"backend"` // fs or gcs
	BasePath string `yaml:"base_path"`
	Bucket   string `yaml:"bucket"`
}

// CacheConfig holds cache and pub/sub settings.
type CacheConfig struct {
	Driver string      `yaml:"driver"` // memory or redis
	Redis  RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Prefix   string `yaml:"prefix"`
}

// EmbeddingConfig holds embedding service settings.
type EmbeddingConfig struct {
	Provider  string        `yaml:"provider"` // http or mock; openai is text only and rejected by Validate
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model"`
	Dimension int           `yaml:"dimension"`
	Timeout   time.Duration `yaml:"timeout"`
}

// GenerationConfig holds text generation service settings.
type GenerationConfig struct {
	Provider string        `yaml:"provider"` // openai, openrouter or mock
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"api_key"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
}

// CategoryConfig describes the category hierarchy used for filtering.
type CategoryConfig struct {
	Depth int `yaml:"depth"`
	// Filter holds the namespace label bound to each hierarchy level,
	// top level first.
	Filter             []string `yaml:"filter"`
	AllowTrailingNulls bool     `yaml:"allow_trailing_nulls"`
}

// NeighborConfig holds nearest-neighbor query settings.
type NeighborConfig struct {
	NumberOfNeighbors int `yaml:"number_of_neighbors"`
}

// PipelineConfig holds enrichment pipeline settings.
type PipelineConfig struct {
	Workers             int           `yaml:"workers"`
	DownloadConcurrency int           `yaml:"download_concurrency"`
	DownloadTimeout     time.Duration `yaml:"download_timeout"`
	UserAgent           string        `yaml:"user_agent"`
	PreProcess          bool          `yaml:"pre_process"`
	PriceFactor         float64       `yaml:"price_factor"`
	FailureChannel      string        `yaml:"failure_channel"`
	InputChannel        string        `yaml:"input_channel"`
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	ServiceName    string `yaml:"service_name"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

// Load reads configuration from a YAML file and applies environment overrides.
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8086,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     60 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
			AllowedOrigins:   []string{"*"},
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path:         "/tmp/product-enrichment.db",
				MaxOpenConns: 1,
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Vector: VectorConfig{
			Adapter:   "memory",
			Table:     "product_vectors",
			Dimension: 1408,
		},
		Storage: StorageConfig{
			Backend:  "fs",
			BasePath: "/tmp/product-enrichment/objects",
		},
		Cache: CacheConfig{
			Driver: "memory",
			Redis: RedisConfig{
				Addr:     "localhost:6380",
				PoolSize: 10,
				Prefix:   "pe:",
			},
		},
		Embedding: EmbeddingConfig{
			Provider:  "mock",
			BaseURL:   "https://openrouter.ai/api/v1",
			Model:     "multimodalembedding",
			Dimension: 1408,
			Timeout:   30 * time.Second,
		},
		Generation: GenerationConfig{
			Provider: "mock",
			BaseURL:  "https://openrouter.ai/api/v1",
			Model:    "google/gemini-2.5-flash",
			Timeout:  60 * time.Second,
		},
		Category: CategoryConfig{
			Depth:              4,
			Filter:             []string{"L0", "L1", "L2", "L3"},
			AllowTrailingNulls: true,
		},
		Vectors: NeighborConfig{
			NumberOfNeighbors: 10,
		},
		Pipeline: PipelineConfig{
			Workers:             4,
			DownloadConcurrency: 8,
			DownloadTimeout:     10 * time.Second,
			UserAgent:           "product-enrichment/1.0",
			PreProcess:          true,
			PriceFactor:         3,
			FailureChannel:      "enrichment.failures",
			InputChannel:        "enrichment.rows",
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			ServiceName: "product-enrichment",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if !oneOf(c.Database.Driver, "sqlite", "postgres") {
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.Postgres.DSN == "" {
		return errors.New("database.postgres.dsn is required for the postgres driver")
	}

	if !oneOf(c.Vector.Adapter, "memory", "pgvector") {
		return fmt.Errorf("invalid vector adapter: %s", c.Vector.Adapter)
	}
	if c.Vector.Adapter == "pgvector" && c.Vector.DSN == "" {
		return errors.New("vector.dsn is required for the pgvector adapter")
	}
	if c.Vector.Dimension <= 0 {
		return fmt.Errorf("vector dimension must be positive: %d", c.Vector.Dimension)
	}

	if !oneOf(c.Storage.Backend, "fs", "gcs") {
		return fmt.Errorf("invalid storage backend: %s", c.Storage.Backend)
	}
	if c.Storage.Backend == "gcs" && c.Storage.Bucket == "" {
		return errors.New("storage.bucket is required for the gcs backend")
	}

	if !oneOf(c.Cache.Driver, "memory", "redis") {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	if !oneOf(c.Embedding.Provider, "http", "openai", "mock") {
		return fmt.Errorf("invalid embedding provider: %s", c.Embedding.Provider)
	}
	// Stage E and image requests embed images; the OpenAI client is text only.
	if c.Embedding.Provider == "openai" {
		return errors.New("embedding provider openai does not support images required by the pipeline, use http or mock")
	}
	if !oneOf(c.Generation.Provider, "openai", "openrouter", "mock") {
		return fmt.Errorf("invalid generation provider: %s", c.Generation.Provider)
	}

	if c.Category.Depth < 1 {
		return fmt.Errorf("category depth must be at least 1: %d", c.Category.Depth)
	}
	if len(c.Category.Filter) < c.Category.Depth {
		return fmt.Errorf("category filter lists %d namespaces, depth %d needs one per level",
			len(c.Category.Filter), c.Category.Depth)
	}
	for i, ns := range c.Category.Filter {
		if strings.TrimSpace(ns) == "" {
			return fmt.Errorf("category filter namespace %d is empty", i)
		}
	}

	if c.Vectors.NumberOfNeighbors < 1 {
		return fmt.Errorf("number_of_neighbors must be at least 1: %d", c.Vectors.NumberOfNeighbors)
	}

	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline workers must be at least 1: %d", c.Pipeline.Workers)
	}
	if c.Pipeline.DownloadConcurrency < 1 {
		return fmt.Errorf("download concurrency must be at least 1: %d", c.Pipeline.DownloadConcurrency)
	}
	if c.Pipeline.PriceFactor <= 0 {
		return fmt.Errorf("price factor must be positive: %v", c.Pipeline.PriceFactor)
	}

	return nil
}

// DatabaseDSN returns the appropriate database connection string.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.SQLite.Path
	}
	return c.Database.Postgres.DSN
}

// TopLevelNamespace is the namespace restricting datapoints to a top-level category.
func (c *Config) TopLevelNamespace() string {
	return c.Category.Filter[0]
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("API_KEYS"); v != "" {
		cfg.Server.APIKeys = strings.Split(v, ",")
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Database.Driver = "sqlite"
			cfg.Database.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Database.Driver = "postgres"
			cfg.Database.Postgres.DSN = v
		}
	}

	if v := os.Getenv("VECTOR_ADAPTER"); v != "" {
		cfg.Vector.Adapter = v
	}

	if v := os.Getenv("VECTOR_DSN"); v != "" {
		cfg.Vector.DSN = v
	}

	if v := os.Getenv("STORAGE_BUCKET"); v != "" {
		cfg.Storage.Backend = "gcs"
		cfg.Storage.Bucket = v
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}

	if v := os.Getenv("EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}

	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}

	if v := os.Getenv("GENERATION_PROVIDER"); v != "" {
		cfg.Generation.Provider = v
	}

	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.Generation.APIKey == "" {
		cfg.Generation.APIKey = v
	}

	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" && cfg.Generation.APIKey == "" {
		cfg.Generation.APIKey = v
	}

	if v := os.Getenv("GENERATION_MODEL"); v != "" {
		cfg.Generation.Model = v
	}

	if v := os.Getenv("NUMBER_OF_NEIGHBORS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vectors.NumberOfNeighbors = n
		}
	}

	if v := os.Getenv("PIPELINE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.Workers = n
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
