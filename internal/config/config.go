// Package config provides hierarchical configuration loading for FlowForge.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the FlowForge engine.
type Config struct {
	Server    Server    `yaml:"server"`
	Postgres  Postgres  `yaml:"postgres"`
	NATS      NATS      `yaml:"nats"`
	Logging   Logging   `yaml:"logging"`
	Otel      Otel      `yaml:"otel"`
	Cache     Cache     `yaml:"cache"`
	Retry     Retry     `yaml:"retry"`
	Admission Admission `yaml:"admission"`
	Engine    Engine    `yaml:"engine"`
}

// Server holds the health/readiness listener configuration.
type Server struct {
	Port string `yaml:"port"`
}

// Postgres holds PostgreSQL connection configuration. An empty DSN runs the
// engine with the in-memory store (single-process mode).
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	HealthCheck     time.Duration `yaml:"health_check"`
}

// NATS holds NATS JetStream configuration. An empty URL disables the event
// stream and the L2 cache.
type NATS struct {
	URL         string `yaml:"url"`
	CacheBucket string `yaml:"cache_bucket"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Otel holds OpenTelemetry export configuration. An empty endpoint leaves
// instruments on the no-op meter.
type Otel struct {
	Endpoint string `yaml:"endpoint"`
}

// Cache holds result cache configuration.
type Cache struct {
	MaxCostBytes int64         `yaml:"max_cost_bytes"` // L1 size bound
	L1Expire     time.Duration `yaml:"l1_expire"`      // TTL for L2 backfill entries in L1
	DefaultTTL   time.Duration `yaml:"default_ttl"`    // entry TTL when the run does not set one
}

// Retry holds default retry policy values applied when a run definition
// leaves them unset.
type Retry struct {
	MaxRetries int           `yaml:"max_retries"`
	Delay      time.Duration `yaml:"delay"`
}

// Admission holds concurrency admission configuration.
type Admission struct {
	// PollInterval is the fixed backpressure wait between admission
	// attempts when all slot waiters missed the release wake-up.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Engine holds run execution configuration.
type Engine struct {
	DefaultTimeout     time.Duration `yaml:"default_timeout"`      // per-attempt bound; 0 means unbounded
	PauseSweepInterval time.Duration `yaml:"pause_sweep_interval"` // expired-pause sweeper loop period
	PauseSweepBatch    int           `yaml:"pause_sweep_batch"`    // runs failed per sweep query
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port: "8080",
		},
		Postgres: Postgres{
			DSN:             "",
			MaxConns:        15,
			MinConns:        2,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			HealthCheck:     time.Minute,
		},
		NATS: NATS{
			URL:         "",
			CacheBucket: "flowforge-results",
		},
		Logging: Logging{
			Level:   "info",
			Service: "flowforge-engine",
		},
		Cache: Cache{
			MaxCostBytes: 64 << 20, // 64 MiB
			L1Expire:     5 * time.Minute,
			DefaultTTL:   24 * time.Hour,
		},
		Retry: Retry{
			MaxRetries: 0,
			Delay:      0,
		},
		Admission: Admission{
			PollInterval: 30 * time.Second,
		},
		Engine: Engine{
			DefaultTimeout:     0,
			PauseSweepInterval: 5 * time.Second,
			PauseSweepBatch:    200,
		},
	}
}
