// Package runner executes a single pipeline job. The engine only depends on
// a runner eventually producing a finite ordered log sequence and a terminal
// status, so a real execution backend can replace the simulated one without
// touching the state machine.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/mlpad-dev/mlpad-cloud/pipeline-engine/internal/models"
)

// Result is the terminal outcome of a single job run.
type Result struct {
	Status        models.JobStatus
	FailureReason string
	Duration      time.Duration
}

// Runner runs one job and emits its log lines in order as they are produced.
// A Result with Status "failed" must carry a FailureReason.
type Runner interface {
	Run(ctx context.Context, job models.Job, emit func(message string)) (Result, error)
}

// stepTemplates holds the simulated sub-steps per job type. Approval jobs
// never reach a runner; the state machine suspends on them instead.
var stepTemplates = map[models.JobType][]string{
	models.JobTypeIngestion: {
		"Connecting to data source",
		"Validating source schema",
		"Ingesting records into staging area",
		"Ingestion completed",
	},
	models.JobTypePreparation: {
		"Loading staged dataset",
		"Applying cleansing rules",
		"Encoding categorical features",
		"Writing prepared dataset",
	},
	models.JobTypeTraining: {
		"Provisioning training environment",
		"Loading prepared dataset",
		"Fitting model parameters",
		"Evaluating on holdout split",
		"Training completed",
	},
	models.JobTypeRegistry: {
		"Packaging model artifact",
		"Computing artifact checksum",
		"Registering model version",
	},
	models.JobTypeDeployment: {
		"Building serving image",
		"Rolling out to serving endpoint",
		"Verifying endpoint health",
	},
	models.JobTypeInferencing: {
		"Loading registered model",
		"Scoring inference batch",
		"Publishing predictions",
	},
	models.JobTypeMonitoring: {
		"Collecting serving metrics",
		"Computing drift indicators",
		"Publishing monitoring report",
	},
}

// Simulated produces realistic step logs for each job type and always
// succeeds. StepDelay models I/O latency between lines and is a cooperative
// suspension point: it never blocks other pipelines.
type Simulated struct {
	StepDelay time.Duration
}

func NewSimulated(stepDelay time.Duration) *Simulated {
	return &Simulated{StepDelay: stepDelay}
}

func (r *Simulated) Run(ctx context.Context, job models.Job, emit func(message string)) (Result, error) {
	steps, ok := stepTemplates[job.JobType]
	if !ok {
		steps = []string{"Executing job", "Job completed"}
	}

	start := time.Now()
	for i, step := range steps {
		if i > 0 && r.StepDelay > 0 {
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(r.StepDelay):
			}
		}
		emit(fmt.Sprintf("[%s] %s", job.JobName, step))
	}

	return Result{
		Status:   models.JobCompleted,
		Duration: time.Since(start),
	}, nil
}
