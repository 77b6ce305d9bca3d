package job

import (
	"context"
	"errors"
	"time"

	"ml-feature-reconciler/internal/reconciler"
	"ml-feature-reconciler/pkg/logger"

	"go.opentelemetry.io/otel/trace"
)

type ReconcileRunner interface {
	RunNow(ctx context.Context, opts reconciler.RunOptions) (reconciler.RunResult, error)
}

// ReconcileJob runs the default reconcile window on a fixed interval.
type ReconcileJob struct {
	tracer       trace.Tracer
	runner       ReconcileRunner
	pollInterval time.Duration
}

func NewReconcileJob(tracer trace.Tracer, runner ReconcileRunner, pollInterval time.Duration) *ReconcileJob {
	if pollInterval <= 0 {
		pollInterval = 15 * time.Minute
	}
	return &ReconcileJob{tracer: tracer, runner: runner, pollInterval: pollInterval}
}

func (j *ReconcileJob) Start(ctx context.Context) {
	if j.runner == nil {
		logger.Get().Info("Reconcile job disabled: no runner")
		<-ctx.Done()
		return
	}

	j.runOnce(ctx)
	ticker := time.NewTicker(j.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *ReconcileJob) runOnce(ctx context.Context) {
	ctx, span := j.tracer.Start(ctx, "reconcile-job.run-once")
	defer span.End()

	result, err := j.runner.RunNow(ctx, reconciler.RunOptions{})
	switch {
	case errors.Is(err, reconciler.ErrRunInProgress):
		logger.Get().Info("Reconcile cycle skipped: run already in progress")
	case err != nil:
		logger.Get().Errorf("Reconcile cycle error: %v", err)
	default:
		logger.Get().Infof("Reconcile cycle complete run=%s symbols=%d inserted=%d updated=%d skipped=%d failed=%d",
			result.RunID, len(result.Symbols), result.Inserted, result.Updated, result.Skipped, result.Failed)
	}
}
