package job

import (
	"context"
	"time"

	"ml-feature-reconciler/internal/domain"
	"ml-feature-reconciler/pkg/logger"

	"go.opentelemetry.io/otel/trace"
)

type PlaceholderEnsurer interface {
	EnsureRange(ctx context.Context, symbols []string, start, end time.Time) (int64, error)
}

// PlaceholderJob keeps empty rows present from today through daysAhead.
type PlaceholderJob struct {
	tracer       trace.Tracer
	manager      PlaceholderEnsurer
	pollInterval time.Duration
	daysAhead    int
	now          func() time.Time
}

func NewPlaceholderJob(tracer trace.Tracer, manager PlaceholderEnsurer, pollInterval time.Duration, daysAhead int) *PlaceholderJob {
	if pollInterval <= 0 {
		pollInterval = 6 * time.Hour
	}
	if daysAhead < 0 {
		daysAhead = 0
	}
	return &PlaceholderJob{
		tracer:       tracer,
		manager:      manager,
		pollInterval: pollInterval,
		daysAhead:    daysAhead,
		now:          time.Now,
	}
}

func (j *PlaceholderJob) Start(ctx context.Context) {
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

func (j *PlaceholderJob) runOnce(ctx context.Context) {
	ctx, span := j.tracer.Start(ctx, "placeholder-job.run-once")
	defer span.End()

	today := domain.StartOfDay(j.now())
	if _, err := j.manager.EnsureRange(ctx, nil, today, today.AddDate(0, 0, j.daysAhead)); err != nil {
		logger.Get().Errorf("Placeholder cycle error: %v", err)
	}
}
