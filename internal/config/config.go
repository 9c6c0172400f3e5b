// Package config loads the zerver process configuration: an optional
// JSON file tree, overlaid by ZER_VER_*/ZERVER_* environment variables,
// following the teacher's own flat-struct-plus-env-overlay shape.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
)

// ExecutorConfig configures the two job queues the Executor drives
// effect dispatch and continuation re-entry through.
type ExecutorConfig struct {
	QueueNameEffects      string `json:"queue_name_effects"`
	QueueNameContinuation string `json:"queue_name_continuation"`
	EffectWorkers         int    `json:"effect_workers"`
	ContinuationWorkers   int    `json:"continuation_workers"`
}

// BreakerConfig is the default circuit breaker threshold set applied to
// any effect target without a more specific override.
type BreakerConfig struct {
	FailureThreshold int   `json:"failure_threshold"`
	SuccessThreshold int   `json:"success_threshold"`
	TimeoutMS        int64 `json:"timeout_ms"`
}

// OTLPConfig configures span export and the job-promotion thresholds
// spec.md §6 names: a job parked or queued longer than its threshold is
// promoted to its own span rather than folded into its parent.
type OTLPConfig struct {
	Endpoint       string `json:"endpoint"`
	Headers        string `json:"headers"` // "key1=value1,key2=value2"
	ServiceName    string `json:"service_name"`
	PromoteQueueMS uint32 `json:"promote_queue_ms"`
	PromoteParkMS  uint32 `json:"promote_park_ms"`
	DebugJobs      bool   `json:"debug_jobs"`
	ExportJobDepth bool   `json:"export_job_depth"`
}

// MetricsConfig controls the Prometheus subscriber.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Namespace string `json:"namespace"`
}

// LoggingConfig controls the structured operational logger.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text, json
}

// DaemonConfig holds the HTTP listen address.
type DaemonConfig struct {
	HTTPAddr string `json:"http_addr"`
}

// TransportConfig holds the connection settings the effect transports
// dial out with at bootstrap. An empty PostgresDSN or RedisAddr disables
// the db or cache transport entirely rather than failing startup — a
// deployment that never issues db_* effects has no reason to require a
// Postgres DSN. RedisPassword may be empty, and a ComputeWorkers value of
// zero or less falls back to 16 workers.
type TransportConfig struct {
	PostgresDSN    string `json:"postgres_dsn"`
	RedisAddr      string `json:"redis_addr"`
	RedisPassword  string `json:"redis_password"`
	RedisDB        int    `json:"redis_db"`
	ComputeWorkers int    `json:"compute_workers"`
}

// Config is the central configuration tree.
type Config struct {
	Daemon    DaemonConfig    `json:"daemon"`
	Executor  ExecutorConfig  `json:"executor"`
	Breaker   BreakerConfig   `json:"breaker"`
	OTLP      OTLPConfig      `json:"otlp"`
	Metrics   MetricsConfig   `json:"metrics"`
	Logging   LoggingConfig   `json:"logging"`
	Transport TransportConfig `json:"transport"`
}

// DefaultConfig returns a Config with the defaults spec.md §6 names.
func DefaultConfig() *Config {
	return &Config{
		Daemon: DaemonConfig{
			HTTPAddr: ":8080",
		},
		Executor: ExecutorConfig{
			QueueNameEffects:      "effects",
			QueueNameContinuation: "continuations",
			EffectWorkers:         32,
			ContinuationWorkers:   32,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			TimeoutMS:        30_000,
		},
		OTLP: OTLPConfig{
			Endpoint:       "localhost:4318",
			ServiceName:    "zerver",
			PromoteQueueMS: 5,
			PromoteParkMS:  5,
			DebugJobs:      false,
			ExportJobDepth: false,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "zerver",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Transport: TransportConfig{
			ComputeWorkers: 16,
		},
	}
}

// LoadFromFile loads configuration from a JSON file, starting from
// DefaultConfig so the file only needs to name what it overrides.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// envString returns the first non-empty value among the given variable
// names, following the teacher's own dual-alias convention (e.g.
// NOVA_PG_DSN and NOVA_POSTGRES_DSN both worked). zerver accepts both the
// spec's ZER_VER_* names and a friendlier ZERVER_* alias.
func envString(names ...string) (string, bool) {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v, true
		}
	}
	return "", false
}

// LoadFromEnv applies environment variable overrides to cfg.
func LoadFromEnv(cfg *Config) {
	if v, ok := envString("ZERVER_HTTP_ADDR"); ok {
		cfg.Daemon.HTTPAddr = v
	}

	if v, ok := envString("ZER_VER_QUEUE_NAME_EFFECTS"); ok {
		cfg.Executor.QueueNameEffects = v
	}
	if v, ok := envString("ZER_VER_QUEUE_NAME_CONT"); ok {
		cfg.Executor.QueueNameContinuation = v
	}
	if v, ok := envString("ZERVER_EFFECT_WORKERS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Executor.EffectWorkers = n
		}
	}
	if v, ok := envString("ZERVER_CONTINUATION_WORKERS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Executor.ContinuationWorkers = n
		}
	}

	if v, ok := envString("ZERVER_BREAKER_FAILURE_THRESHOLD"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Breaker.FailureThreshold = n
		}
	}
	if v, ok := envString("ZERVER_BREAKER_SUCCESS_THRESHOLD"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Breaker.SuccessThreshold = n
		}
	}
	if v, ok := envString("ZERVER_BREAKER_TIMEOUT_MS"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Breaker.TimeoutMS = n
		}
	}

	if v, ok := envString("ZER_VER_OTLP_ENDPOINT", "ZERVER_OTLP_ENDPOINT"); ok {
		cfg.OTLP.Endpoint = v
	}
	if v, ok := envString("ZER_VER_OTLP_HEADERS", "ZERVER_OTLP_HEADERS"); ok {
		cfg.OTLP.Headers = v
	}
	if v, ok := envString("ZERVER_OTLP_SERVICE_NAME"); ok {
		cfg.OTLP.ServiceName = v
	}
	if v, ok := envString("ZER_VER_PROMOTE_QUEUE_MS"); ok {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.OTLP.PromoteQueueMS = uint32(n)
		}
	}
	if v, ok := envString("ZER_VER_PROMOTE_PARK_MS"); ok {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.OTLP.PromoteParkMS = uint32(n)
		}
	}
	if v, ok := envString("ZER_VER_DEBUG_JOBS"); ok {
		cfg.OTLP.DebugJobs = parseBool(v)
	}
	if v, ok := envString("ZER_VER_EXPORT_JOB_DEPTH"); ok {
		cfg.OTLP.ExportJobDepth = parseBool(v)
	}

	if v, ok := envString("ZERVER_METRICS_ENABLED"); ok {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v, ok := envString("ZERVER_METRICS_NAMESPACE"); ok {
		cfg.Metrics.Namespace = v
	}

	if v, ok := envString("ZERVER_LOG_LEVEL"); ok {
		cfg.Logging.Level = v
	}
	if v, ok := envString("ZERVER_LOG_FORMAT"); ok {
		cfg.Logging.Format = v
	}

	if v, ok := envString("ZER_VER_POSTGRES_DSN", "ZERVER_POSTGRES_DSN"); ok {
		cfg.Transport.PostgresDSN = v
	}
	if v, ok := envString("ZER_VER_REDIS_ADDR", "ZERVER_REDIS_ADDR"); ok {
		cfg.Transport.RedisAddr = v
	}
	if v, ok := envString("ZERVER_REDIS_PASSWORD"); ok {
		cfg.Transport.RedisPassword = v
	}
	if v, ok := envString("ZERVER_REDIS_DB"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Transport.RedisDB = n
		}
	}
	if v, ok := envString("ZERVER_COMPUTE_WORKERS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Transport.ComputeWorkers = n
		}
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}

// ConfigPath resolves the JSON config file path from ZERVER_CONFIG, the
// friendlier alias bootstrap accepts alongside the ZER_VER_* env vars.
func ConfigPath() (string, bool) {
	return envString("ZERVER_CONFIG")
}

// Load resolves the full configuration: defaults, optionally overlaid by
// a JSON file named by ZERVER_CONFIG, then overlaid by environment
// variables (env always wins, matching the teacher's own precedence).
func Load() (*Config, error) {
	var cfg *Config
	if path, ok := ConfigPath(); ok {
		loaded, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = DefaultConfig()
	}

	LoadFromEnv(cfg)
	return cfg, nil
}
