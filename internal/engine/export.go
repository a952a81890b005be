package engine

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/mlpad-dev/mlpad-cloud/pipeline-engine/internal/models"
)

type workflowDoc struct {
	Name    string         `yaml:"name"`
	Project string         `yaml:"project,omitempty"`
	Steps   []workflowStep `yaml:"steps"`
}

type workflowStep struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Approval bool   `yaml:"approval,omitempty"`
}

// ExportWorkflow renders a pipeline's job list as a human-readable workflow
// description. This is a one-way projection: nothing in the export feeds
// back into the engine.
func (e *Engine) ExportWorkflow(ctx context.Context, pipelineID string) (string, error) {
	p, err := e.getPipeline(ctx, pipelineID)
	if err != nil {
		return "", err
	}

	doc := workflowDoc{
		Name:    p.Name,
		Project: p.ProjectID,
		Steps:   make([]workflowStep, 0, len(p.Jobs)),
	}
	for _, job := range p.Jobs {
		doc.Steps = append(doc.Steps, workflowStep{
			Name:     job.JobName,
			Type:     string(job.JobType),
			Approval: job.JobType == models.JobTypeApproval,
		})
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal workflow for pipeline %s: %w", pipelineID, err)
	}
	return string(out), nil
}
