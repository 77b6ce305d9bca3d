package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingExecutor struct {
	started chan struct{}
	release chan struct{}
	result  RunResult
	err     error
}

func (e *blockingExecutor) Run(ctx context.Context, opts RunOptions) (RunResult, error) {
	if e.started != nil {
		close(e.started)
	}
	if e.release != nil {
		select {
		case <-e.release:
		case <-ctx.Done():
			return RunResult{RunID: opts.RunID}, ctx.Err()
		}
	}
	res := e.result
	res.RunID = opts.RunID
	return res, e.err
}

type fakeLocker struct {
	deny     bool
	err      error
	released []string
	// entered is closed when Acquire starts; Acquire then waits on gate.
	entered chan struct{}
	gate    chan struct{}
}

func (l *fakeLocker) Acquire(context.Context, string) (bool, error) {
	if l.entered != nil {
		close(l.entered)
	}
	if l.gate != nil {
		<-l.gate
	}
	return !l.deny, l.err
}

func (l *fakeLocker) Release(_ context.Context, token string) error {
	l.released = append(l.released, token)
	return nil
}

func TestRunnerTriggerRejectsConcurrentRun(t *testing.T) {
	exec := &blockingExecutor{started: make(chan struct{}), release: make(chan struct{}), result: RunResult{Inserted: 3, Updated: 1}}
	r := NewRunner(context.Background(), exec, nil)

	id, err := r.Trigger(RunOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	<-exec.started

	_, err = r.Trigger(RunOptions{})
	require.ErrorIs(t, err, ErrRunInProgress)

	st := r.Status()
	assert.True(t, st.Running)
	require.NotNil(t, st.CurrentRun)
	assert.Equal(t, id, st.CurrentRun.RunID)

	close(exec.release)
	r.Wait()

	st = r.Status()
	assert.False(t, st.Running)
	assert.Equal(t, int64(1), st.TotalRuns)
	assert.Equal(t, int64(3), st.TotalInserted)
	assert.Equal(t, int64(1), st.TotalUpdated)
	require.NotNil(t, st.LastRun)
	assert.NotNil(t, st.LastRun.FinishedAt)
}

func TestRunnerRunNowAccumulatesTotals(t *testing.T) {
	exec := &blockingExecutor{result: RunResult{Inserted: 2, Updated: 2}}
	r := NewRunner(context.Background(), exec, nil)
	r.newRunID = func() string { return "fixed" }

	for i := 0; i < 2; i++ {
		res, err := r.RunNow(context.Background(), RunOptions{})
		require.NoError(t, err)
		assert.Equal(t, "fixed", res.RunID)
	}

	st := r.Status()
	assert.Equal(t, int64(4), st.TotalInserted)
	assert.Equal(t, int64(4), st.TotalUpdated)
}

func TestRunnerRecordsRunError(t *testing.T) {
	exec := &blockingExecutor{err: errors.New("catalog unavailable")}
	r := NewRunner(context.Background(), exec, nil)

	_, err := r.RunNow(context.Background(), RunOptions{})
	require.Error(t, err)
	st := r.Status()
	require.NotNil(t, st.LastRun)
	assert.Equal(t, "catalog unavailable", st.LastRun.Error)
	assert.False(t, st.Running)
}

func TestRunnerHonoursDistributedLock(t *testing.T) {
	locker := &fakeLocker{deny: true}
	r := NewRunner(context.Background(), &blockingExecutor{}, locker)

	_, err := r.Trigger(RunOptions{})
	require.ErrorIs(t, err, ErrRunInProgress)
	assert.False(t, r.Status().Running)
}

func TestRunnerStatusNotBlockedBySlowLock(t *testing.T) {
	locker := &fakeLocker{deny: true, entered: make(chan struct{}), gate: make(chan struct{})}
	r := NewRunner(context.Background(), &blockingExecutor{}, locker)

	errc := make(chan error, 1)
	go func() {
		_, err := r.Trigger(RunOptions{RunID: "slow"})
		errc <- err
	}()
	<-locker.entered

	statusc := make(chan Status, 1)
	go func() { statusc <- r.Status() }()
	select {
	case st := <-statusc:
		assert.True(t, st.Running)
	case <-time.After(time.Second):
		t.Fatal("Status blocked while the run lock was being acquired")
	}

	_, err := r.Trigger(RunOptions{})
	require.ErrorIs(t, err, ErrRunInProgress)

	close(locker.gate)
	require.ErrorIs(t, <-errc, ErrRunInProgress)
	st := r.Status()
	assert.False(t, st.Running)
	assert.Nil(t, st.CurrentRun)
}

func TestRunnerReleasesLockAfterRun(t *testing.T) {
	locker := &fakeLocker{}
	r := NewRunner(context.Background(), &blockingExecutor{}, locker)

	_, err := r.RunNow(context.Background(), RunOptions{RunID: "run-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"run-1"}, locker.released)
}

func TestRunnerFallsBackWhenLockErrors(t *testing.T) {
	locker := &fakeLocker{err: errors.New("redis down")}
	r := NewRunner(context.Background(), &blockingExecutor{}, locker)

	_, err := r.RunNow(context.Background(), RunOptions{})
	require.NoError(t, err)
}

func TestRunnerBackgroundRunStopsWithBaseContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := &blockingExecutor{started: make(chan struct{}), release: make(chan struct{})}
	r := NewRunner(ctx, exec, nil)

	_, err := r.Trigger(RunOptions{})
	require.NoError(t, err)
	<-exec.started
	cancel()

	done := make(chan struct{})
	go func() { r.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("background run did not stop")
	}
	assert.Equal(t, "cancelled", r.Status().LastRun.Error)
}
