package runner

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mlpad-dev/mlpad-cloud/pipeline-engine/internal/models"
)

func TestSimulatedEmitsOrderedStepsAndSucceeds(t *testing.T) {
	r := NewSimulated(0)
	job := models.Job{JobID: "j1", JobType: models.JobTypeTraining, JobName: "train-fraud-model"}

	var lines []string
	res, err := r.Run(context.Background(), job, func(msg string) {
		lines = append(lines, msg)
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.Status != models.JobCompleted {
		t.Fatalf("unexpected status: %s", res.Status)
	}
	if len(lines) != len(stepTemplates[models.JobTypeTraining]) {
		t.Fatalf("expected %d lines, got %d", len(stepTemplates[models.JobTypeTraining]), len(lines))
	}
	for _, line := range lines {
		if !strings.Contains(line, "train-fraud-model") {
			t.Fatalf("line missing job name: %q", line)
		}
	}
	if !strings.Contains(lines[0], "Provisioning") {
		t.Fatalf("steps out of order, first line: %q", lines[0])
	}
}

func TestSimulatedUnknownTypeFallsBack(t *testing.T) {
	r := NewSimulated(0)
	job := models.Job{JobID: "j1", JobType: models.JobType("custom"), JobName: "x"}

	count := 0
	res, err := r.Run(context.Background(), job, func(string) { count++ })
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.Status != models.JobCompleted || count == 0 {
		t.Fatalf("expected fallback steps, status=%s count=%d", res.Status, count)
	}
}

func TestSimulatedHonorsCancellation(t *testing.T) {
	r := NewSimulated(time.Hour)
	job := models.Job{JobID: "j1", JobType: models.JobTypeIngestion, JobName: "ingest"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx, job, func(string) {})
	if err == nil {
		t.Fatalf("expected context error")
	}
}
