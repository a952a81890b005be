package engine

import (
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/mlpad-dev/mlpad-cloud/pipeline-engine/internal/models"
)

func TestExportWorkflow(t *testing.T) {
	e, ctx := newTestEngine(t, nil)
	p := mustCreate(t, e, ctx,
		job("j1", models.JobTypeIngestion, "ingest-A"),
		job("j2", models.JobTypeApproval, "Gate1"),
		job("j3", models.JobTypeDeployment, "deploy-B"),
	)

	out, err := e.ExportWorkflow(ctx, p.ID)
	if err != nil {
		t.Fatalf("ExportWorkflow error: %v", err)
	}

	var doc workflowDoc
	if err := yaml.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("export is not valid yaml: %v", err)
	}
	if doc.Name != p.Name || doc.Project != p.ProjectID {
		t.Fatalf("unexpected header: %+v", doc)
	}
	if len(doc.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(doc.Steps))
	}
	if doc.Steps[0].Name != "ingest-A" || doc.Steps[2].Name != "deploy-B" {
		t.Fatalf("steps out of order: %+v", doc.Steps)
	}
	if !doc.Steps[1].Approval {
		t.Fatalf("gate step should be flagged as approval")
	}
	if strings.Contains(out, "status") {
		t.Fatalf("export should carry no run state: %q", out)
	}
}

func TestExportWorkflowUnknownPipeline(t *testing.T) {
	e, ctx := newTestEngine(t, nil)
	if _, err := e.ExportWorkflow(ctx, "nope"); err == nil {
		t.Fatalf("expected error for unknown pipeline")
	}
}
