package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "flowforge.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "FLOWFORGE_PORT")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "FLOWFORGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "FLOWFORGE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "FLOWFORGE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "FLOWFORGE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "FLOWFORGE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.CacheBucket, "FLOWFORGE_CACHE_BUCKET")
	setString(&cfg.Logging.Level, "FLOWFORGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "FLOWFORGE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "FLOWFORGE_LOG_ASYNC")
	setString(&cfg.Otel.Endpoint, "FLOWFORGE_OTEL_ENDPOINT")
	setInt64(&cfg.Cache.MaxCostBytes, "FLOWFORGE_CACHE_MAX_COST_BYTES")
	setDuration(&cfg.Cache.L1Expire, "FLOWFORGE_CACHE_L1_EXPIRE")
	setDuration(&cfg.Cache.DefaultTTL, "FLOWFORGE_CACHE_DEFAULT_TTL")
	setInt(&cfg.Retry.MaxRetries, "FLOWFORGE_RETRY_MAX_RETRIES")
	setDuration(&cfg.Retry.Delay, "FLOWFORGE_RETRY_DELAY")
	setDuration(&cfg.Admission.PollInterval, "FLOWFORGE_ADMISSION_POLL_INTERVAL")
	setDuration(&cfg.Engine.DefaultTimeout, "FLOWFORGE_ENGINE_DEFAULT_TIMEOUT")
	setDuration(&cfg.Engine.PauseSweepInterval, "FLOWFORGE_PAUSE_SWEEP_INTERVAL")
	setInt(&cfg.Engine.PauseSweepBatch, "FLOWFORGE_PAUSE_SWEEP_BATCH")
}

// validate checks cross-field constraints after all sources are merged.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server port must not be empty")
	}
	if cfg.Cache.MaxCostBytes <= 0 {
		return errors.New("cache max_cost_bytes must be positive")
	}
	if cfg.Retry.MaxRetries < 0 {
		return errors.New("retry max_retries must be non-negative")
	}
	if cfg.Retry.Delay < 0 {
		return errors.New("retry delay must be non-negative")
	}
	if cfg.Admission.PollInterval <= 0 {
		return errors.New("admission poll_interval must be positive")
	}
	if cfg.Engine.PauseSweepInterval <= 0 {
		return errors.New("engine pause_sweep_interval must be positive")
	}
	if cfg.Engine.PauseSweepBatch <= 0 {
		return errors.New("engine pause_sweep_batch must be positive")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
