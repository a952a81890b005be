// Package engine sequences pipeline jobs, pauses at human-approval gates,
// and reconciles externally recorded decisions against in-flight pipelines.
// The persistent store is the single source of truth; everything in memory
// is a write-through cache.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mlpad-dev/mlpad-cloud/pipeline-engine/internal/config"
	"github.com/mlpad-dev/mlpad-cloud/pipeline-engine/internal/logging"
	metricspkg "github.com/mlpad-dev/mlpad-cloud/pipeline-engine/internal/metrics"
	"github.com/mlpad-dev/mlpad-cloud/pipeline-engine/internal/models"
	"github.com/mlpad-dev/mlpad-cloud/pipeline-engine/internal/runner"
	"github.com/mlpad-dev/mlpad-cloud/pipeline-engine/internal/store"
)

var (
	engineLogger = logging.C("engine.core")
	storeLogger  = logging.C("engine.store")
)

// Engine owns the pipeline state machines, the approval coordinator, and the
// reconciliation loop. Per-pipeline run state is tracked independently, keyed
// by pipeline id; no iteration state is shared across pipelines.
type Engine struct {
	cfg    *config.Config
	store  store.Store
	runner runner.Runner

	mu        sync.Mutex
	pipelines map[string]*models.Pipeline
	running   map[string]context.CancelFunc

	coordinator *Coordinator
	reconciler  *Reconciler

	runCtx  context.Context
	started bool
	bgWG    sync.WaitGroup
}

// New assembles an engine on top of a store and a job runner. Call Start
// exactly once before executing pipelines.
func New(cfg *config.Config, st store.Store, run runner.Runner) *Engine {
	e := &Engine{
		cfg:       cfg,
		store:     st,
		runner:    run,
		pipelines: make(map[string]*models.Pipeline),
		running:   make(map[string]context.CancelFunc),
	}
	e.coordinator = NewCoordinator(e)
	e.reconciler = NewReconciler(e)
	return e
}

// Start performs the one-time startup reconciliation (re-deriving in-memory
// state from the store), re-arms recheck timers for pipelines left waiting by
// a previous process, and launches the periodic reconciliation loop. It is an
// explicit lifecycle call by the host and must happen exactly once.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine already started")
	}
	e.started = true
	e.runCtx = ctx
	e.mu.Unlock()

	pipelines, err := e.GetPipelines(ctx)
	if err != nil {
		return fmt.Errorf("startup reconciliation: %w", err)
	}
	waiting := 0
	for _, p := range pipelines {
		clone := p
		clone.Jobs = append([]models.Job(nil), p.Jobs...)
		e.mu.Lock()
		e.pipelines[p.ID] = &clone
		e.mu.Unlock()
		if p.Status == models.PipelineWaiting {
			e.coordinator.registerRecheck(p.ID)
			waiting++
		}
	}
	engineLogger.WithField("pipelines", len(pipelines)).WithField("waiting", waiting).
		Info("rehydrated engine state from store")

	if err := e.RefreshStateMetrics(ctx); err != nil {
		engineLogger.WithError(err).Warn("failed to initialize engine state metrics")
	}

	e.bgWG.Add(1)
	go func() {
		defer e.bgWG.Done()
		e.reconciler.StartReconciliationLoop(ctx, e.cfg.ReconcileInterval)
	}()
	return nil
}

// Coordinator exposes the approval coordinator, mainly for direct resolution
// calls in tests and the recheck path.
func (e *Engine) Coordinator() *Coordinator {
	return e.coordinator
}

// Reconciler exposes the reconciliation loop driver.
func (e *Engine) Reconciler() *Reconciler {
	return e.reconciler
}

// WaitForBackground blocks until engine background workers stop or the
// timeout elapses.
func (e *Engine) WaitForBackground(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		e.bgWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// RefreshStateMetrics re-derives the status gauges from the store.
func (e *Engine) RefreshStateMetrics(ctx context.Context) error {
	pipelines, err := e.GetPipelines(ctx)
	if err != nil {
		return err
	}
	counts := make(map[string]int)
	for _, p := range pipelines {
		counts[string(p.Status)]++
	}
	metricspkg.SetPipelineStatusCounts(counts)

	approvals, err := e.ListPendingApprovals(ctx)
	if err != nil {
		return err
	}
	pending := 0
	for _, pa := range approvals {
		if pa.Status == models.ApprovalPending {
			pending++
		}
	}
	metricspkg.SetPendingApprovals(pending)
	return nil
}

func (e *Engine) baseContext() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runCtx != nil {
		return e.runCtx
	}
	return context.Background()
}

// markRunning registers the cancel handle for an in-flight run. Returns
// false when a run for the pipeline is already in flight.
func (e *Engine) markRunning(pipelineID string, cancel context.CancelFunc) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.running[pipelineID]; exists {
		return false
	}
	e.running[pipelineID] = cancel
	return true
}

func (e *Engine) isRunning(pipelineID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, exists := e.running[pipelineID]
	return exists
}

func (e *Engine) clearRunning(pipelineID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cancel, exists := e.running[pipelineID]; exists {
		cancel()
		delete(e.running, pipelineID)
	}
}

func (e *Engine) dropFromCache(pipelineID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pipelines, pipelineID)
}
