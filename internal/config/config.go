package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Engine network
	HTTPAddr    string
	HTTPPort    int
	MetricsPort int

	// State store
	StoreBackend  string // "etcd", "redis" or "memory"
	EtcdEndpoints []string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Orchestration timing
	ReconcileInterval       time.Duration
	ApprovalRecheckInterval time.Duration
	LogLineDelay            time.Duration
	JobInterval             time.Duration

	// Logging / telemetry
	LogLevel     string
	LogFormat    string
	OTLPEndpoint string
	OTLPInsecure bool
}

func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:    envOr("ENGINE_HTTP_ADDR", "0.0.0.0"),
		HTTPPort:    envIntOr("ENGINE_HTTP_PORT", 8086),
		MetricsPort: envIntOr("METRICS_PORT", 8087),

		StoreBackend:  strings.ToLower(envOr("ENGINE_STORE_BACKEND", "etcd")),
		EtcdEndpoints: splitCSV(envOr("ETCD_ENDPOINTS", "localhost:2379")),
		RedisAddr:     envOrKeepSet("REDIS_ADDR", "localhost:6379"),
		RedisPassword: strings.TrimSpace(os.Getenv("REDIS_PASSWORD")),
		RedisDB:       envIntOr("REDIS_DB", 0),

		ReconcileInterval:       envDurationOrFlexibleSeconds("ENGINE_RECONCILE_INTERVAL", time.Second),
		ApprovalRecheckInterval: envDurationOrFlexibleSeconds("ENGINE_APPROVAL_RECHECK_INTERVAL", 30*time.Second),
		LogLineDelay:            envDurationOrFlexibleSeconds("ENGINE_LOG_LINE_DELAY", 400*time.Millisecond),
		JobInterval:             envDurationOrFlexibleSeconds("ENGINE_JOB_INTERVAL", time.Second),

		LogLevel:     envOr("LOG_LEVEL", "info"),
		LogFormat:    envOr("LOG_FORMAT", "json"),
		OTLPEndpoint: strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		OTLPInsecure: envBoolOr("OTEL_EXPORTER_OTLP_INSECURE", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid ENGINE_HTTP_PORT: %d", c.HTTPPort)
	}
	if c.MetricsPort < 1 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid METRICS_PORT: %d", c.MetricsPort)
	}
	switch c.StoreBackend {
	case "etcd":
		if len(c.EtcdEndpoints) == 0 {
			return fmt.Errorf("at least one ETCD endpoint is required")
		}
		for _, ep := range c.EtcdEndpoints {
			if strings.TrimSpace(ep) == "" {
				return fmt.Errorf("ETCD endpoints contain empty value")
			}
		}
	case "redis":
		if strings.TrimSpace(c.RedisAddr) == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported ENGINE_STORE_BACKEND=%q", c.StoreBackend)
	}
	if c.ReconcileInterval <= 0 {
		return fmt.Errorf("ENGINE_RECONCILE_INTERVAL must be positive")
	}
	if c.ApprovalRecheckInterval <= 0 {
		return fmt.Errorf("ENGINE_APPROVAL_RECHECK_INTERVAL must be positive")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// envOrKeepSet falls back only when the variable is unset. An explicitly set
// blank value is kept so Validate can reject it instead of silently reviving
// the default.
func envOrKeepSet(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(v)
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return strings.EqualFold(v, "true")
}

func envIntOr(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// envDurationOrFlexibleSeconds supports "15s" and "15" (seconds).
func envDurationOrFlexibleSeconds(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
