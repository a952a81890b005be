package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		_ = os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t,
		"ENGINE_HTTP_PORT", "METRICS_PORT", "ENGINE_STORE_BACKEND",
		"ETCD_ENDPOINTS", "REDIS_ADDR",
		"ENGINE_RECONCILE_INTERVAL", "ENGINE_APPROVAL_RECHECK_INTERVAL",
		"ENGINE_LOG_LINE_DELAY", "ENGINE_JOB_INTERVAL",
	)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.HTTPPort != 8086 {
		t.Fatalf("unexpected HTTPPort: %d", cfg.HTTPPort)
	}
	if cfg.MetricsPort != 8087 {
		t.Fatalf("unexpected MetricsPort: %d", cfg.MetricsPort)
	}
	if cfg.StoreBackend != "etcd" {
		t.Fatalf("unexpected StoreBackend: %q", cfg.StoreBackend)
	}
	if len(cfg.EtcdEndpoints) != 1 || cfg.EtcdEndpoints[0] != "localhost:2379" {
		t.Fatalf("unexpected etcd endpoints: %#v", cfg.EtcdEndpoints)
	}
	if cfg.ReconcileInterval != time.Second {
		t.Fatalf("unexpected reconcile interval: %s", cfg.ReconcileInterval)
	}
	if cfg.ApprovalRecheckInterval != 30*time.Second {
		t.Fatalf("unexpected recheck interval: %s", cfg.ApprovalRecheckInterval)
	}
}

func TestLoadDurationSupportsSecondsInt(t *testing.T) {
	t.Setenv("ENGINE_RECONCILE_INTERVAL", "2")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.ReconcileInterval != 2*time.Second {
		t.Fatalf("expected 2s, got %s", cfg.ReconcileInterval)
	}
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	t.Setenv("ENGINE_STORE_BACKEND", "mongodb")
	if _, err := Load(); err == nil {
		t.Fatalf("expected validation error for unknown backend")
	}
}

func TestValidateRedisBackendRequiresAddr(t *testing.T) {
	t.Setenv("ENGINE_STORE_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", " ")
	if _, err := Load(); err == nil {
		t.Fatalf("expected validation error for blank redis addr")
	}
}

func TestRedisAddrDefaultsWhenUnset(t *testing.T) {
	clearEnv(t, "REDIS_ADDR")
	t.Setenv("ENGINE_STORE_BACKEND", "redis")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Fatalf("unexpected RedisAddr: %q", cfg.RedisAddr)
	}
}
