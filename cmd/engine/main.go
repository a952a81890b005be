package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	gootelhttp "go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mlpad-dev/mlpad-cloud/pipeline-engine/internal/api"
	"github.com/mlpad-dev/mlpad-cloud/pipeline-engine/internal/config"
	"github.com/mlpad-dev/mlpad-cloud/pipeline-engine/internal/engine"
	"github.com/mlpad-dev/mlpad-cloud/pipeline-engine/internal/logging"
	metricspkg "github.com/mlpad-dev/mlpad-cloud/pipeline-engine/internal/metrics"
	"github.com/mlpad-dev/mlpad-cloud/pipeline-engine/internal/runner"
	"github.com/mlpad-dev/mlpad-cloud/pipeline-engine/internal/store"
	"github.com/mlpad-dev/mlpad-cloud/pipeline-engine/internal/telemetry"
)

const serviceName = "pipeline-engine"

func newStore(cfg *config.Config) (store.Store, io.Closer, error) {
	switch cfg.StoreBackend {
	case "etcd":
		s, err := store.NewEtcdStore(cfg.EtcdEndpoints)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "redis":
		s, err := store.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "memory":
		return store.NewMemoryStore(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store backend %q", cfg.StoreBackend)
	}
}

func main() {
	logger := logging.C("cmd.engine")

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("failed to load configuration")
	}

	metricspkg.Register()

	otelShutdown, err := telemetry.SetupOpenTelemetry(context.Background(), serviceName)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize OpenTelemetry")
	}

	st, closer, err := newStore(cfg)
	if err != nil {
		logger.WithError(err).WithField("backend", cfg.StoreBackend).Fatal("failed to initialize state store")
	}
	if closer != nil {
		defer closer.Close()
	}
	logger.WithField("backend", cfg.StoreBackend).Info("state store ready")

	eng := engine.New(cfg, st, runner.NewSimulated(cfg.LogLineDelay))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := eng.Start(ctx); err != nil {
		logger.WithError(err).Fatal("failed to start engine")
	}

	apiServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.HTTPAddr, cfg.HTTPPort),
		Handler: api.NewRouter(eng, serviceName),
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", gootelhttp.NewHandler(promhttp.Handler(), "engine.metrics"))
	metricsMux.Handle("/health", gootelhttp.NewHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}), "engine.health"))
	metricsServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: metricsMux}

	serverErrCh := make(chan error, 2)

	go func() {
		logger.WithField("addr", apiServer.Addr).Info("starting engine API server")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("api server failed: %w", err)
		}
	}()
	go func() {
		logger.WithField("port", cfg.MetricsPort).Info("starting engine metrics server")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("metrics server failed: %w", err)
		}
	}()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	select {
	case <-sigCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErrCh:
		logger.WithError(err).Error("server exited unexpectedly")
	}

	logger.Info("shutting down engine servers")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("api server shutdown error")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("metrics server shutdown error")
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("OpenTelemetry shutdown error")
	}

	if ok := eng.WaitForBackground(5 * time.Second); !ok {
		logger.Warn("timed out waiting for engine background workers to stop")
	}
}
