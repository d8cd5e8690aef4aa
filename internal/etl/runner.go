package etl

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/propscope/comp-engine/internal/model"
)

// Job pairs a subject with its search request.
type Job struct {
	Subject Subject
	Request model.SearchRequest
}

// JobResult is the outcome of one pooled run. Err is nil only for a fully
// successful run; partial runs carry both an artifact and an error.
type JobResult struct {
	Job      Job
	Artifact *model.RunArtifact
	Err      error
}

// Runner executes runs for many subjects over a bounded worker pool.
// One subject failing never aborts the others; every job yields a result.
type Runner struct {
	orchestrator *Orchestrator
	workers      int
}

// NewRunner creates a pool around the orchestrator. workers bounds
// concurrent runs (default 4).
func NewRunner(orchestrator *Orchestrator, workers int) *Runner {
	if workers <= 0 {
		workers = 4
	}
	return &Runner{orchestrator: orchestrator, workers: workers}
}

// RunAll processes every job and returns results in job order. Identical
// requests across jobs coalesce in the retrieval layer, so duplicate
// subjects cost one upstream fetch. Only context cancellation aborts the
// batch early.
func (r *Runner) RunAll(ctx context.Context, jobs []Job) ([]JobResult, error) {
	results := make([]JobResult, len(jobs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	for i, job := range jobs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = JobResult{Job: job, Err: err}
				return err
			}

			artifact, err := r.orchestrator.Run(ctx, job.Subject, job.Request)
			results[i] = JobResult{Job: job, Artifact: artifact, Err: err}
			if err != nil {
				zap.L().Warn("job failed",
					zap.Int("job", i),
					zap.Error(err),
				)
			}
			// Per-job failures are recorded, not propagated, so the rest of
			// the batch keeps running.
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
