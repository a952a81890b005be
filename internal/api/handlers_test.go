package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mlpad-dev/mlpad-cloud/pipeline-engine/internal/config"
	"github.com/mlpad-dev/mlpad-cloud/pipeline-engine/internal/engine"
	"github.com/mlpad-dev/mlpad-cloud/pipeline-engine/internal/models"
	"github.com/mlpad-dev/mlpad-cloud/pipeline-engine/internal/runner"
	"github.com/mlpad-dev/mlpad-cloud/pipeline-engine/internal/store"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	cfg := &config.Config{
		StoreBackend:            "memory",
		ReconcileInterval:       time.Hour,
		ApprovalRecheckInterval: time.Hour,
	}
	e := engine.New(cfg, store.NewMemoryStore(), runner.NewSimulated(0))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	return NewRouter(e, "pipeline-engine-test")
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func createGatedPipeline(t *testing.T, r *gin.Engine) models.Pipeline {
	t.Helper()
	w := doJSON(t, r, http.MethodPost, "/api/v1/pipelines", createPipelineRequest{
		ProjectID: "proj-1",
		Name:      "fraud-model-release",
		Jobs: []models.Job{
			{JobID: "j1", JobType: models.JobTypeTraining, JobName: "train"},
			{JobID: "j2", JobType: models.JobTypeApproval, JobName: "release-gate"},
			{JobID: "j3", JobType: models.JobTypeDeployment, JobName: "deploy"},
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d body=%s", w.Code, w.Body.String())
	}
	return decode[models.Pipeline](t, w)
}

func waitForStatus(t *testing.T, r *gin.Engine, id string, want models.PipelineStatus) models.Pipeline {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		w := doJSON(t, r, http.MethodGet, "/api/v1/pipelines/"+id, nil)
		if w.Code == http.StatusOK {
			p := decode[models.Pipeline](t, w)
			if p.Status == want {
				return p
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("pipeline %s never reached status %s", id, want)
	return models.Pipeline{}
}

func TestHealth(t *testing.T) {
	r := newTestRouter(t)
	w := doJSON(t, r, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}
}

func TestCreateValidation(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/pipelines", map[string]interface{}{"name": "no-jobs"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing jobs should be rejected, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/api/v1/pipelines", map[string]interface{}{
		"jobs": []models.Job{{JobID: "j1", JobType: models.JobTypeIngestion, JobName: "x"}},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing name should be rejected, got %d", w.Code)
	}
}

func TestPipelineLifecycleOverHTTP(t *testing.T) {
	r := newTestRouter(t)
	p := createGatedPipeline(t, r)

	w := doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/v1/pipelines/%s/execute", p.ID), nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("execute status = %d body=%s", w.Code, w.Body.String())
	}
	waitForStatus(t, r, p.ID, models.PipelineWaiting)

	// Execute while waiting at the gate is a conflict.
	w = doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/v1/pipelines/%s/execute", p.ID), nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("execute-while-waiting status = %d", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/api/v1/approvals/pending", nil)
	pending := decode[[]models.PendingApproval](t, w)
	if len(pending) != 1 || pending[0].PipelineID != p.ID {
		t.Fatalf("unexpected pending approvals: %+v", pending)
	}

	w = doJSON(t, r, http.MethodPost, "/api/v1/approvals/"+pending[0].ID+"/decision",
		decisionRequest{Decision: models.ApprovalApproved, Notes: "metrics look good"})
	if w.Code != http.StatusOK {
		t.Fatalf("decision status = %d body=%s", w.Code, w.Body.String())
	}
	done := waitForStatus(t, r, p.ID, models.PipelineCompleted)
	if done.Progress != 100 {
		t.Fatalf("expected progress 100, got %d", done.Progress)
	}

	// Deciding the same approval again is a 404: the record was consumed.
	w = doJSON(t, r, http.MethodPost, "/api/v1/approvals/"+pending[0].ID+"/decision",
		decisionRequest{Decision: models.ApprovalApproved})
	if w.Code != http.StatusNotFound {
		t.Fatalf("re-decision status = %d", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/api/v1/approvals/history", nil)
	history := decode[[]models.ApprovalHistory](t, w)
	if len(history) != 1 || history[0].Status != models.ApprovalApproved {
		t.Fatalf("unexpected history: %+v", history)
	}

	w = doJSON(t, r, http.MethodGet, fmt.Sprintf("/api/v1/pipelines/%s/logs", p.ID), nil)
	lines := decode[[]models.LogLine](t, w)
	if len(lines) == 0 {
		t.Fatalf("expected log lines over http")
	}

	w = doJSON(t, r, http.MethodDelete, "/api/v1/approvals/history/"+history[0].ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history delete status = %d", w.Code)
	}
	w = doJSON(t, r, http.MethodGet, "/api/v1/approvals/history", nil)
	if rest := decode[[]models.ApprovalHistory](t, w); len(rest) != 0 {
		t.Fatalf("history should be empty after delete: %+v", rest)
	}
}

func TestRejectionOverHTTP(t *testing.T) {
	r := newTestRouter(t)
	p := createGatedPipeline(t, r)

	doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/v1/pipelines/%s/execute", p.ID), nil)
	waitForStatus(t, r, p.ID, models.PipelineWaiting)

	w := doJSON(t, r, http.MethodGet, "/api/v1/approvals/pending", nil)
	pending := decode[[]models.PendingApproval](t, w)

	w = doJSON(t, r, http.MethodPost, "/api/v1/approvals/"+pending[0].ID+"/decision",
		decisionRequest{Decision: models.ApprovalRejected, Notes: "drift unresolved"})
	if w.Code != http.StatusOK {
		t.Fatalf("rejection status = %d body=%s", w.Code, w.Body.String())
	}

	failed := waitForStatus(t, r, p.ID, models.PipelineFailed)
	if !strings.Contains(failed.FailureReason, "release-gate") {
		t.Fatalf("failure reason should name the gate, got %q", failed.FailureReason)
	}
}

func TestInvalidDecisionRejected(t *testing.T) {
	r := newTestRouter(t)
	p := createGatedPipeline(t, r)
	doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/v1/pipelines/%s/execute", p.ID), nil)
	waitForStatus(t, r, p.ID, models.PipelineWaiting)

	w := doJSON(t, r, http.MethodGet, "/api/v1/approvals/pending", nil)
	pending := decode[[]models.PendingApproval](t, w)

	w = doJSON(t, r, http.MethodPost, "/api/v1/approvals/"+pending[0].ID+"/decision",
		map[string]string{"decision": "maybe"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid decision status = %d", w.Code)
	}
}

func TestExportOverHTTP(t *testing.T) {
	r := newTestRouter(t)
	p := createGatedPipeline(t, r)

	w := doJSON(t, r, http.MethodGet, fmt.Sprintf("/api/v1/pipelines/%s/export", p.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("export status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/yaml" {
		t.Fatalf("export content type = %q", ct)
	}
	if !strings.Contains(w.Body.String(), "release-gate") {
		t.Fatalf("export should list the gate step: %s", w.Body.String())
	}
}

func TestDeletePipelineOverHTTP(t *testing.T) {
	r := newTestRouter(t)
	p := createGatedPipeline(t, r)

	w := doJSON(t, r, http.MethodDelete, "/api/v1/pipelines/"+p.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	w = doJSON(t, r, http.MethodGet, "/api/v1/pipelines/"+p.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("deleted pipeline fetch status = %d", w.Code)
	}
	w = doJSON(t, r, http.MethodDelete, "/api/v1/pipelines/"+p.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("double delete status = %d", w.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	r := newTestRouter(t)
	w := doJSON(t, r, http.MethodGet, "/api/v1/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats status = %d", w.Code)
	}
	stats := decode[map[string]interface{}](t, w)
	if _, ok := stats["pendingApprovals"]; !ok {
		t.Fatalf("stats missing pendingApprovals counter: %v", stats)
	}
}
