package reconciler

import (
	"context"
	"errors"
	"sync"
	"time"

	"ml-feature-reconciler/internal/metrics"
	"ml-feature-reconciler/pkg/logger"

	"github.com/google/uuid"
)

// Executor runs one reconcile cycle. *Service implements it.
type Executor interface {
	Run(ctx context.Context, opts RunOptions) (RunResult, error)
}

// Locker guards runs across processes. A nil Locker limits exclusion to this process.
type Locker interface {
	Acquire(ctx context.Context, token string) (bool, error)
	Release(ctx context.Context, token string) error
}

// RunSummary describes one run for /status.
type RunSummary struct {
	RunID      string     `json:"run_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	StartDate  string     `json:"start_date,omitempty"`
	EndDate    string     `json:"end_date,omitempty"`
	InsertOnly bool       `json:"insert_only"`
	Symbols    int        `json:"symbols"`
	Inserted   int        `json:"inserted"`
	Updated    int        `json:"updated"`
	Unchanged  int        `json:"unchanged"`
	Failed     int        `json:"failed"`
	Skipped    int        `json:"skipped"`
	Error      string     `json:"error,omitempty"`
}

// Status is the runner state reported by /status.
type Status struct {
	Running       bool        `json:"running"`
	CurrentRun    *RunSummary `json:"current_run,omitempty"`
	LastRun       *RunSummary `json:"last_run,omitempty"`
	TotalRuns     int64       `json:"total_runs"`
	TotalInserted int64       `json:"total_inserted"`
	TotalUpdated  int64       `json:"total_updated"`
}

// Runner allows at most one reconcile run at a time and keeps cumulative counters.
type Runner struct {
	baseCtx context.Context
	exec    Executor
	locker  Locker

	mu            sync.Mutex
	running       bool
	current       *RunSummary
	last          *RunSummary
	totalRuns     int64
	totalInserted int64
	totalUpdated  int64

	wg       sync.WaitGroup
	newRunID func() string
	now      func() time.Time
}

// NewRunner binds background runs to baseCtx so they stop on shutdown.
func NewRunner(baseCtx context.Context, exec Executor, locker Locker) *Runner {
	return &Runner{
		baseCtx:  baseCtx,
		exec:     exec,
		locker:   locker,
		newRunID: uuid.NewString,
		now:      time.Now,
	}
}

// Trigger starts a run in the background and returns its id.
func (r *Runner) Trigger(opts RunOptions) (string, error) {
	opts, err := r.begin(r.baseCtx, opts)
	if err != nil {
		return "", err
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_, _ = r.execute(r.baseCtx, opts)
	}()
	return opts.RunID, nil
}

// RunNow runs synchronously on the caller's context.
func (r *Runner) RunNow(ctx context.Context, opts RunOptions) (RunResult, error) {
	opts, err := r.begin(ctx, opts)
	if err != nil {
		return RunResult{}, err
	}
	return r.execute(ctx, opts)
}

// Wait blocks until background runs started by Trigger have finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Status{
		Running:       r.running,
		TotalRuns:     r.totalRuns,
		TotalInserted: r.totalInserted,
		TotalUpdated:  r.totalUpdated,
	}
	if r.current != nil {
		cur := *r.current
		st.CurrentRun = &cur
	}
	if r.last != nil {
		last := *r.last
		st.LastRun = &last
	}
	return st
}

func (r *Runner) begin(ctx context.Context, opts RunOptions) (RunOptions, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return opts, ErrRunInProgress
	}
	if opts.RunID == "" {
		opts.RunID = r.newRunID()
	}
	r.running = true
	r.current = &RunSummary{
		RunID:      opts.RunID,
		StartedAt:  r.now().UTC(),
		InsertOnly: opts.InsertOnly,
	}
	r.mu.Unlock()

	// The slot is reserved, so the Redis round trip runs without holding mu.
	if r.locker != nil {
		ok, err := r.locker.Acquire(ctx, opts.RunID)
		switch {
		case err != nil:
			logger.Get().Warnw("run lock unavailable, relying on local guard", "run_id", opts.RunID, "error", err)
		case !ok:
			r.mu.Lock()
			r.running = false
			r.current = nil
			r.mu.Unlock()
			return opts, ErrRunInProgress
		}
	}

	metrics.RunInProgress.Set(1)
	return opts, nil
}

func (r *Runner) execute(ctx context.Context, opts RunOptions) (RunResult, error) {
	log := logger.Get().With("run_id", opts.RunID)
	log.Infow("reconcile run started", "symbols", opts.Symbols, "insert_only", opts.InsertOnly)

	started := r.now()
	result, err := r.exec.Run(ctx, opts)
	metrics.RecordRun(r.now().Sub(started), err)

	if err != nil {
		log.Errorw("reconcile run failed", "error", err)
	} else {
		log.Infow("reconcile run finished",
			"inserted", result.Inserted, "updated", result.Updated,
			"skipped", result.Skipped, "failed", result.Failed)
	}

	r.finish(opts.RunID, result, err)
	return result, err
}

func (r *Runner) finish(runID string, result RunResult, runErr error) {
	if r.locker != nil {
		// The caller's context may already be cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.locker.Release(ctx, runID); err != nil {
			logger.Get().Warnw("release run lock failed", "run_id", runID, "error", err)
		}
		cancel()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	finished := r.now().UTC()
	summary := r.current
	if summary == nil {
		summary = &RunSummary{RunID: runID}
	}
	summary.FinishedAt = &finished
	summary.StartDate = result.StartDate
	summary.EndDate = result.EndDate
	summary.Symbols = len(result.Symbols)
	summary.Inserted = result.Inserted
	summary.Updated = result.Updated
	summary.Unchanged = result.Unchanged
	summary.Failed = result.Failed
	summary.Skipped = result.Skipped
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		summary.Error = runErr.Error()
	} else if runErr != nil {
		summary.Error = "cancelled"
	}

	r.last = summary
	r.current = nil
	r.running = false
	r.totalRuns++
	r.totalInserted += int64(result.Inserted)
	r.totalUpdated += int64(result.Updated)
	metrics.RunInProgress.Set(0)
}
