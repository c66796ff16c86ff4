package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Storage modes.
const (
	StorageModeLocal   = "local"
	StorageModeNetwork = "network"
)

// Config holds all configuration for the cutoff pipeline.
// Configuration can come from a YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3480"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	Storage   StorageConfig   `yaml:"storage"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Local     LocalConfig     `yaml:"local"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Warehouse WarehouseConfig `yaml:"warehouse"`
	Timeouts  TimeoutsConfig  `yaml:"timeouts"`
	Ingest    IngestConfig    `yaml:"ingest"`
}

// StorageConfig selects the storage backends.
type StorageConfig struct {
	// Mode is "local" (SQLite, Badger, in-process index) or "network"
	// (Postgres, Redis, embedding endpoint).
	Mode string `yaml:"mode" env:"STORAGE_MODE" env-default:"local"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ekaya_cutoffs"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds Redis configuration for the blob cache, metrics and locks.
type RedisConfig struct {
	Host      string `yaml:"host" env:"REDIS_HOST" env-default:"localhost"`
	Port      int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password  string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB        int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	Namespace string `yaml:"namespace" env:"REDIS_NAMESPACE" env-default:"cutoffs:"`
}

// LocalConfig configures the offline backends.
type LocalConfig struct {
	// DataDir holds cutoffs.db and the blob cache. Empty keeps everything in memory.
	DataDir string `yaml:"data_dir" env:"LOCAL_DATA_DIR" env-default:""`
}

// EmbeddingConfig points at an OpenAI-compatible embeddings endpoint.
// Without a base URL the networked index falls back to hashed n-gram vectors.
type EmbeddingConfig struct {
	BaseURL    string `yaml:"base_url" env:"EMBEDDING_BASE_URL" env-default:""`
	Model      string `yaml:"model" env:"EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	APIKey     string `yaml:"-" env:"EMBEDDING_API_KEY"` // Secret - not in YAML
	Dimensions int    `yaml:"dimensions" env:"EMBEDDING_DIMENSIONS" env-default:"0"`
}

// ReconcileConfig tunes matching and review.
type ReconcileConfig struct {
	AutoApproveThreshold float64 `yaml:"auto_approve_threshold" env:"RECONCILE_AUTO_APPROVE_THRESHOLD" env-default:"0.9"`
	ReviewFloor          float64 `yaml:"review_floor" env:"RECONCILE_REVIEW_FLOOR" env-default:"0.5"`
	TokenWeight          float64 `yaml:"token_weight" env:"RECONCILE_TOKEN_WEIGHT" env-default:"0.5"`
	EditWeight           float64 `yaml:"edit_weight" env:"RECONCILE_EDIT_WEIGHT" env-default:"0.5"`
	RecallSize           int     `yaml:"recall_size" env:"RECONCILE_RECALL_SIZE" env-default:"10"`
	AbbreviationsFile    string  `yaml:"abbreviations_file" env:"RECONCILE_ABBREVIATIONS_FILE" env-default:""`
}

// WarehouseConfig tunes rollup rebuilds and read caching.
type WarehouseConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl" env:"WAREHOUSE_CACHE_TTL" env-default:"1h"`
	Workers  int           `yaml:"workers" env:"WAREHOUSE_WORKERS" env-default:"4"`
}

// TimeoutsConfig bounds networked storage calls.
type TimeoutsConfig struct {
	Read  time.Duration `yaml:"read" env:"STORAGE_READ_TIMEOUT" env-default:"10s"`
	Write time.Duration `yaml:"write" env:"STORAGE_WRITE_TIMEOUT" env-default:"30s"`
}

// IngestConfig tunes batch ingestion.
type IngestConfig struct {
	Workers int `yaml:"workers" env:"INGEST_WORKERS" env-default:"4"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	return LoadFrom("config.yaml", version)
}

// LoadFrom reads configuration from path. A missing file is not an error:
// defaults and environment variables apply.
func LoadFrom(path, version string) (*Config, error) {
	cfg := &Config{Version: version}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints that tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Mode {
	case StorageModeLocal, StorageModeNetwork:
	default:
		errs = append(errs, fmt.Errorf("storage.mode must be %q or %q, got %q", StorageModeLocal, StorageModeNetwork, c.Storage.Mode))
	}

	r := c.Reconcile
	if r.AutoApproveThreshold < 0 || r.AutoApproveThreshold > 1 {
		errs = append(errs, fmt.Errorf("reconcile.auto_approve_threshold must be within [0,1], got %v", r.AutoApproveThreshold))
	}
	if r.ReviewFloor < 0 || r.ReviewFloor > 1 {
		errs = append(errs, fmt.Errorf("reconcile.review_floor must be within [0,1], got %v", r.ReviewFloor))
	}
	if r.ReviewFloor > r.AutoApproveThreshold {
		errs = append(errs, fmt.Errorf("reconcile.review_floor (%v) must not exceed auto_approve_threshold (%v)", r.ReviewFloor, r.AutoApproveThreshold))
	}
	if r.TokenWeight < 0 || r.EditWeight < 0 || r.TokenWeight+r.EditWeight <= 0 {
		errs = append(errs, fmt.Errorf("reconcile weights must be non-negative with a positive sum, got token=%v edit=%v", r.TokenWeight, r.EditWeight))
	}
	if r.RecallSize <= 0 {
		errs = append(errs, fmt.Errorf("reconcile.recall_size must be positive, got %d", r.RecallSize))
	}

	if c.Warehouse.Workers <= 0 {
		errs = append(errs, fmt.Errorf("warehouse.workers must be positive, got %d", c.Warehouse.Workers))
	}
	if c.Warehouse.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("warehouse.cache_ttl must not be negative"))
	}
	if c.Ingest.Workers <= 0 {
		errs = append(errs, fmt.Errorf("ingest.workers must be positive, got %d", c.Ingest.Workers))
	}
	if c.Timeouts.Read <= 0 || c.Timeouts.Write <= 0 {
		errs = append(errs, fmt.Errorf("timeouts must be positive, got read=%v write=%v", c.Timeouts.Read, c.Timeouts.Write))
	}

	return errors.Join(errs...)
}

// URL returns a PostgreSQL connection URL.
func (c *DatabaseConfig) URL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(resolveHostForDocker(c.Host), strconv.Itoa(c.Port)),
		Path:   "/" + c.Database,
	}
	q := url.Values{}
	q.Set("sslmode", c.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Addr returns the Redis host:port.
func (c *RedisConfig) Addr() string {
	return net.JoinHostPort(resolveHostForDocker(c.Host), strconv.Itoa(c.Port))
}

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// resolveHostForDocker maps loopback hosts to host.docker.internal when
// running inside a container, so services on the host stay reachable.
func resolveHostForDocker(host string) string {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	if isDockerResult && (host == "localhost" || host == "127.0.0.1") {
		return "host.docker.internal"
	}
	return host
}
