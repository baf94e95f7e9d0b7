package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/zephyr-tools/internal/report"
	"github.com/oshokin/zephyr-tools/internal/shell"
)

var errJobFailed = errors.New("exit status 1")

// fakeRunner records executed command lines and fails the configured ones.
type fakeRunner struct {
	mu      sync.Mutex
	ran     []string
	fail    map[string]bool
	block   map[string]chan struct{}
	started chan string
	active  atomic.Int32
	overlap atomic.Bool
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		fail:    make(map[string]bool),
		block:   make(map[string]chan struct{}),
		started: make(chan string, 64),
	}
}

func (f *fakeRunner) Run(ctx context.Context, cmd shell.Command) (*shell.Result, error) {
	// Like the executor, a cancelled job never starts.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if f.active.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.active.Add(-1)

	f.mu.Lock()
	f.ran = append(f.ran, cmd.Line)
	gate := f.block[cmd.Line]
	fail := f.fail[cmd.Line]
	f.mu.Unlock()

	f.started <- cmd.Line

	if gate != nil {
		<-gate
	}

	time.Sleep(time.Millisecond)

	if fail {
		return &shell.Result{ExitCode: 1}, errJobFailed
	}

	return &shell.Result{}, nil
}

func (f *fakeRunner) executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.ran...)
}

func waitBatch(t *testing.T, b *Batch) *Result {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := b.Wait(ctx)
	require.NoError(t, err)

	return result
}

// TestQueue_FIFOOrder verifies that jobs run strictly in push order without overlap.
func TestQueue_FIFOOrder(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	q := New(context.Background(), runner)

	b, err := q.PushBatch(
		Step{Job: Job{Name: "a", Command: "A"}},
		Step{Job: Job{Name: "b", Command: "B"}},
		Step{Job: Job{Name: "c", Command: "C"}},
	)
	require.NoError(t, err)

	result := waitBatch(t, b)
	require.Equal(t, StatusSucceeded, result.Status)
	require.Equal(t, []string{"A", "B", "C"}, runner.executed())
	require.False(t, runner.overlap.Load())

	require.Len(t, result.Jobs, 3)

	for i := 1; i < len(result.Jobs); i++ {
		require.False(t, result.Jobs[i].Started.Before(result.Jobs[i-1].Finished))
	}
}

// TestQueue_AbortOnError ensures a failing job stops its batch and skips the continuation.
func TestQueue_AbortOnError(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	runner.fail["B"] = true

	var (
		recorder report.Recorder
		calls    atomic.Int32
		q        = New(context.Background(), runner, WithReporter(&recorder))
	)

	b, err := q.PushBatch(
		Step{Job: Job{Name: "a", Command: "A"}},
		Step{Job: Job{Name: "b", Command: "B"}},
		Step{Job: Job{Name: "c", Command: "C"}, Options: Options{
			OnComplete: func(context.Context, any) error {
				calls.Add(1)

				return nil
			},
		}},
	)
	require.NoError(t, err)

	result := waitBatch(t, b)
	require.NoError(t, q.WaitIdle(context.Background()))

	require.Equal(t, StatusFailed, result.Status)
	require.ErrorIs(t, result.Err, ErrAborted)
	require.ErrorIs(t, result.Err, errJobFailed)
	require.Equal(t, []string{"A", "B"}, runner.executed())
	require.Zero(t, calls.Load())
	require.Equal(t, StateIdle, q.State())

	events := recorder.Events()
	require.NotEmpty(t, events)
	require.Equal(t, report.KindError, events[len(events)-1].Kind)
}

// TestQueue_IgnoreErrorContinuation ensures a tolerated failure lets the batch complete once.
func TestQueue_IgnoreErrorContinuation(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	runner.fail["B"] = true

	var (
		calls    atomic.Int32
		received any
		q        = New(context.Background(), runner)
	)

	b, err := q.PushBatch(
		Step{Job: Job{Name: "a", Command: "A"}},
		Step{Job: Job{Name: "b", Command: "B"}, Options: Options{IgnoreError: true}},
		Step{Job: Job{Name: "c", Command: "C"}, Options: Options{
			SuccessMessage: "done",
			Payload:        "payload",
			OnComplete: func(_ context.Context, payload any) error {
				calls.Add(1)
				received = payload

				return nil
			},
		}},
	)
	require.NoError(t, err)

	result := waitBatch(t, b)
	require.Equal(t, StatusSucceeded, result.Status)
	require.Equal(t, "done", result.Message)
	require.Equal(t, []string{"A", "B", "C"}, runner.executed())
	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, "payload", received)
	require.True(t, result.Jobs[1].Ignored)
}

// TestQueue_ContinuationBeforeNextBatch ensures a batch continuation runs before the next batch starts.
func TestQueue_ContinuationBeforeNextBatch(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	q := New(context.Background(), runner)

	var (
		mu    sync.Mutex
		trace []string
	)

	first := q.Push(Job{Name: "a", Command: "A"}, Options{
		OnComplete: func(context.Context, any) error {
			mu.Lock()
			defer mu.Unlock()

			trace = append(trace, "continuation", "ran:"+runner.executed()[len(runner.executed())-1])

			return nil
		},
	})
	second := q.Push(Job{Name: "b", Command: "B"}, Options{})

	require.NotEqual(t, first.ID(), second.ID())
	waitBatch(t, second)

	mu.Lock()
	defer mu.Unlock()

	require.Equal(t, []string{"continuation", "ran:A"}, trace)
}

// TestQueue_ContinuationError marks the batch failed.
func TestQueue_ContinuationError(t *testing.T) {
	t.Parallel()

	errSave := errors.New("save failed")

	q := New(context.Background(), newFakeRunner())
	b := q.Push(Job{Name: "a", Command: "A"}, Options{
		OnComplete: func(context.Context, any) error { return errSave },
	})

	result := waitBatch(t, b)
	require.Equal(t, StatusFailed, result.Status)
	require.ErrorIs(t, result.Err, errSave)
}

// TestQueue_Cancel lets the running job finish but starts nothing else, then accepts new pushes.
func TestQueue_Cancel(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	gate := make(chan struct{})
	runner.block["A"] = gate

	var calls atomic.Int32

	q := New(context.Background(), runner)

	b, err := q.PushBatch(
		Step{Job: Job{Name: "a", Command: "A"}},
		Step{Job: Job{Name: "b", Command: "B"}},
		Step{Job: Job{Name: "c", Command: "C"}, Options: Options{
			OnComplete: func(context.Context, any) error {
				calls.Add(1)

				return nil
			},
		}},
	)
	require.NoError(t, err)

	require.Equal(t, "A", <-runner.started)
	require.Equal(t, StateRunning, q.State())

	q.Cancel()
	require.Equal(t, StateCancelled, q.State())
	require.Zero(t, q.Pending())

	close(gate)

	result := waitBatch(t, b)
	require.Equal(t, StatusCancelled, result.Status)
	require.ErrorIs(t, result.Err, ErrCancelled)
	require.NoError(t, q.WaitIdle(context.Background()))
	require.Equal(t, StateIdle, q.State())
	require.Equal(t, []string{"A"}, runner.executed())
	require.Zero(t, calls.Load())

	next := q.Push(Job{Name: "d", Command: "D"}, Options{})
	require.Equal(t, StatusSucceeded, waitBatch(t, next).Status)
	require.Equal(t, []string{"A", "D"}, runner.executed())
}

// TestQueue_ConcurrentCallersKeepSeparateBatches ensures a job pushed while
// another caller's batch runs neither joins it nor outlives its abort.
func TestQueue_ConcurrentCallersKeepSeparateBatches(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	runner.fail["UPDATE"] = true
	gate := make(chan struct{})
	runner.block["UPDATE"] = gate

	var calls atomic.Int32

	q := New(context.Background(), runner)

	update, err := q.PushBatch(
		Step{Job: Job{Name: "update", Command: "UPDATE"}},
		Step{Job: Job{Name: "pip", Command: "PIP"}, Options: Options{
			OnComplete: func(context.Context, any) error {
				calls.Add(1)

				return nil
			},
		}},
	)
	require.NoError(t, err)
	require.Equal(t, "UPDATE", <-runner.started)

	build := q.Push(Job{Name: "build", Command: "BUILD"}, Options{})
	require.NotEqual(t, update.ID(), build.ID())

	close(gate)

	updateResult := waitBatch(t, update)
	require.Equal(t, StatusFailed, updateResult.Status)
	require.ErrorIs(t, updateResult.Err, ErrAborted)

	require.Equal(t, StatusSucceeded, waitBatch(t, build).Status)
	require.Equal(t, []string{"UPDATE", "BUILD"}, runner.executed())
	require.Zero(t, calls.Load())

	tracked, ok := q.Batch(build.ID())
	require.True(t, ok)
	require.Same(t, build, tracked)
}

// TestQueue_ParallelPushBatches runs every batch pushed from parallel callers as a unit.
func TestQueue_ParallelPushBatches(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	q := New(context.Background(), runner)

	const callers = 8

	var (
		wg      sync.WaitGroup
		batches = make([]*Batch, callers)
	)

	for i := range callers {
		wg.Go(func() {
			name := string(rune('A' + i))

			b, err := q.PushBatch(
				Step{Job: Job{Name: name + "1", Command: name + "1"}},
				Step{Job: Job{Name: name + "2", Command: name + "2"}},
			)
			if err == nil {
				batches[i] = b
			}
		})
	}

	wg.Wait()

	for i, b := range batches {
		require.NotNil(t, b)

		result := waitBatch(t, b)
		require.Equal(t, StatusSucceeded, result.Status)
		require.Len(t, result.Jobs, 2)

		name := string(rune('A' + i))
		require.Equal(t, name+"1", result.Jobs[0].Command)
		require.Equal(t, name+"2", result.Jobs[1].Command)
	}

	require.Len(t, runner.executed(), 2*callers)
	require.False(t, runner.overlap.Load())
}

// TestQueue_PushBatchRequiresJobs rejects an empty batch.
func TestQueue_PushBatchRequiresJobs(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), newFakeRunner()).PushBatch()
	require.ErrorIs(t, err, ErrEmptyBatch)
}

// TestQueue_ResolveRunsAfterEarlierJobs computes a command line once the jobs before it finished.
func TestQueue_ResolveRunsAfterEarlierJobs(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	q := New(context.Background(), runner)

	var seen []string

	b, err := q.PushBatch(
		Step{Job: Job{Name: "a", Command: "A"}},
		Step{Job: Job{Name: "b", Resolve: func(context.Context) (string, error) {
			seen = runner.executed()

			return "B", nil
		}}},
	)
	require.NoError(t, err)

	result := waitBatch(t, b)
	require.Equal(t, StatusSucceeded, result.Status)
	require.Equal(t, []string{"A"}, seen)
	require.Equal(t, "B", result.Jobs[1].Command)
	require.Equal(t, []string{"A", "B"}, runner.executed())
}

// TestQueue_CancelBeforeFinalJobStarts skips the continuation of a tolerant final
// job that was cancelled before it could start.
func TestQueue_CancelBeforeFinalJobStarts(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	resolving := make(chan struct{})
	gate := make(chan struct{})

	var calls atomic.Int32

	q := New(context.Background(), runner)

	b := q.Push(Job{Name: "a", Resolve: func(context.Context) (string, error) {
		close(resolving)
		<-gate

		return "A", nil
	}}, Options{
		IgnoreError: true,
		OnComplete: func(context.Context, any) error {
			calls.Add(1)

			return nil
		},
	})

	<-resolving
	q.Cancel()
	close(gate)

	result := waitBatch(t, b)
	require.Equal(t, StatusCancelled, result.Status)
	require.ErrorIs(t, result.Err, ErrCancelled)
	require.Empty(t, result.Jobs)
	require.Empty(t, runner.executed())
	require.Zero(t, calls.Load())
	require.NoError(t, q.WaitIdle(context.Background()))
}
