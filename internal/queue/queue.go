package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/zephyr-tools/internal/logger"
	"github.com/oshokin/zephyr-tools/internal/report"
	"github.com/oshokin/zephyr-tools/internal/shell"
)

// maxTrackedBatches bounds how many finished batches stay queryable by ID.
const maxTrackedBatches = 128

// item is a pushed job waiting to run.
type item struct {
	// ctx is the cancellation generation the job was pushed in.
	ctx   context.Context //nolint:containedctx // Checked before the job starts.
	job   Job
	opts  Options
	batch *Batch
	// final marks the last job of its batch.
	final bool
}

// Queue executes jobs one at a time in FIFO order.
type Queue struct {
	// baseCtx carries the logger and bounds every generation.
	baseCtx  context.Context //nolint:containedctx // Jobs outlive the Push call.
	runner   shell.Runner
	reporter report.Reporter

	mu         sync.Mutex
	pending    []*item
	current    *item
	draining   bool
	cancelling bool
	genCtx     context.Context //nolint:containedctx // Current cancellation generation.
	genCancel  context.CancelFunc
	idle       chan struct{}
	batches    map[uuid.UUID]*Batch
	order      []uuid.UUID
}

// Option customizes a Queue.
type Option func(*Queue)

// WithReporter sets where failures and success messages are reported.
func WithReporter(r report.Reporter) Option {
	return func(q *Queue) {
		q.reporter = r
	}
}

// New creates an idle queue running jobs with runner.
// ctx carries the logger; cancelling it stops every queued job from starting.
func New(ctx context.Context, runner shell.Runner, options ...Option) *Queue {
	ctx = logger.WithName(ctx, "queue")

	idle := make(chan struct{})
	close(idle)

	q := &Queue{
		baseCtx:  ctx,
		runner:   runner,
		reporter: report.Log{},
		idle:     idle,
		batches:  make(map[uuid.UUID]*Batch),
	}

	q.genCtx, q.genCancel = context.WithCancel(ctx)

	for _, option := range options {
		option(q)
	}

	return q
}

// Push queues a batch made of one job.
func (q *Queue) Push(job Job, opts Options) *Batch {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.pushLocked([]Step{{Job: job, Options: opts}})
}

// PushBatch queues the steps as one batch. The steps are appended together,
// so jobs pushed by other callers never join the batch. The last step is the
// final one: its options carry the continuation.
func (q *Queue) PushBatch(steps ...Step) (*Batch, error) {
	if len(steps) == 0 {
		return nil, ErrEmptyBatch
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	return q.pushLocked(steps), nil
}

// pushLocked appends steps as a new batch and starts draining if the queue is idle.
func (q *Queue) pushLocked(steps []Step) *Batch {
	batch := newBatch()
	q.trackLocked(batch)

	for i, step := range steps {
		job := step.Job
		if job.ID == uuid.Nil {
			job.ID = uuid.New()
		}

		q.pending = append(q.pending, &item{
			ctx:   q.genCtx,
			job:   job,
			opts:  step.Options,
			batch: batch,
			final: i == len(steps)-1,
		})
	}

	q.cancelling = false

	if !q.draining {
		q.draining = true
		q.idle = make(chan struct{})

		go q.drain()
	}

	return batch
}

// Cancel stops every queued job from starting. The running job is allowed to
// finish. Batches that lose jobs this way finish as cancelled.
func (q *Queue) Cancel() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.genCancel()
	q.genCtx, q.genCancel = context.WithCancel(q.baseCtx)

	cancelled := 0

	for _, it := range q.pending {
		if it.batch.finish(StatusCancelled, "", ErrCancelled, nil) {
			cancelled++
		}
	}

	q.pending = nil

	// A running final job completes its batch normally.
	if q.current != nil && !q.current.final {
		if q.current.batch.finish(StatusCancelled, "", ErrCancelled, nil) {
			cancelled++
		}
	}

	if q.draining {
		q.cancelling = true
	}

	logger.InfoKV(q.baseCtx, "Queue cancelled", "batches", cancelled)
}

// State returns the current queue state.
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch {
	case !q.draining:
		return StateIdle
	case q.cancelling:
		return StateCancelled
	default:
		return StateRunning
	}
}

// Pending returns the number of jobs waiting to start.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.pending)
}

// Batch returns a tracked batch by ID.
func (q *Queue) Batch(id uuid.UUID) (*Batch, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	batch, ok := q.batches[id]

	return batch, ok
}

// WaitIdle blocks until the queue has drained or ctx is done.
func (q *Queue) WaitIdle(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain runs queued jobs until none are left.
func (q *Queue) drain() {
	for {
		it, ok := q.next()
		if !ok {
			return
		}

		q.execute(it)
	}
}

// next pops the first runnable item or marks the queue idle.
func (q *Queue) next() (*item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.pending) > 0 {
		it := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]

		if it.ctx.Err() != nil {
			it.batch.finish(StatusCancelled, "", ErrCancelled, nil)

			continue
		}

		if it.batch.isFinished() {
			continue
		}

		q.current = it

		return it, true
	}

	q.current = nil
	q.draining = false
	q.cancelling = false
	close(q.idle)

	return nil, false
}

// execute runs one job and applies the batch policy to its outcome.
func (q *Queue) execute(it *item) {
	ctx := logger.WithFields(it.ctx, map[string]any{
		"batch_id": it.batch.id,
		"job":      it.job.Name,
	})

	jr := JobResult{
		JobID:   it.job.ID,
		Name:    it.job.Name,
		Command: it.job.Command,
		Started: time.Now(),
	}

	var (
		result *shell.Result
		err    error
	)

	if it.job.Resolve != nil {
		var line string
		if line, err = it.job.Resolve(ctx); err == nil {
			jr.Command = line
		}
	}

	if err == nil {
		logger.InfoKV(ctx, "Starting job", "command", jr.Command, "dir", it.job.Dir)

		result, err = q.runner.Run(ctx, shell.Command{
			Line: jr.Command,
			Dir:  it.job.Dir,
			Env:  it.job.Env,
		})
	}

	jr.Finished = time.Now()

	// A cancel that lands between popping the job and starting it means the
	// job never ran.
	if errors.Is(err, context.Canceled) && it.ctx.Err() != nil {
		q.cancelled(ctx, it)

		return
	}

	if result != nil {
		jr.ExitCode = result.ExitCode
	}

	if err != nil {
		jr.Error = err.Error()
		jr.Ignored = it.opts.IgnoreError
	}

	it.batch.record(jr)

	switch {
	case err != nil && !it.opts.IgnoreError:
		q.abort(ctx, it, err)

		return
	case err != nil:
		logger.WarnKV(ctx, "Job failed, continuing", "error", err)
	default:
		logger.DebugKV(ctx, "Job finished", "exit_code", jr.ExitCode)
	}

	if !it.final || it.batch.isFinished() {
		q.clearCurrent(it)

		return
	}

	q.complete(ctx, it)
	q.clearCurrent(it)
}

// abort finishes the batch as failed and drops its remaining jobs.
func (q *Queue) abort(ctx context.Context, it *item, cause error) {
	err := fmt.Errorf("%w: %s: %w", ErrAborted, it.job.Name, cause)

	q.mu.Lock()
	q.dropLocked(it)
	finished := it.batch.finish(StatusFailed, "", err, it.opts.Payload)
	q.mu.Unlock()

	if finished {
		logger.ErrorKV(ctx, "Batch aborted", "error", cause)
		report.Error(ctx, q.reporter, fmt.Sprintf("%s failed: %v", it.job.Name, cause))
	}
}

// cancelled finishes the batch of a job that was cancelled before it started.
func (q *Queue) cancelled(ctx context.Context, it *item) {
	q.mu.Lock()
	q.dropLocked(it)
	finished := it.batch.finish(StatusCancelled, "", ErrCancelled, nil)
	q.mu.Unlock()

	if finished {
		logger.InfoKV(ctx, "Batch cancelled before its job started")
	}
}

// dropLocked removes the pending jobs of the batch of it and clears it as current.
func (q *Queue) dropLocked(it *item) {
	kept := q.pending[:0]
	for _, other := range q.pending {
		if other.batch != it.batch {
			kept = append(kept, other)
		}
	}

	clear(q.pending[len(kept):])
	q.pending = kept

	if q.current == it {
		q.current = nil
	}
}

// complete runs the continuation of a batch whose final job has finished.
func (q *Queue) complete(ctx context.Context, it *item) {
	// The continuation persists state; a later cancel must not interrupt it.
	contCtx := context.WithoutCancel(ctx)

	if it.opts.OnComplete != nil {
		if err := it.opts.OnComplete(contCtx, it.opts.Payload); err != nil {
			if it.batch.finish(StatusFailed, "", err, it.opts.Payload) {
				logger.ErrorKV(ctx, "Batch continuation failed", "error", err)
				report.Error(ctx, q.reporter, err.Error())
			}

			return
		}
	}

	if it.batch.finish(StatusSucceeded, it.opts.SuccessMessage, nil, it.opts.Payload) {
		logger.InfoKV(ctx, "Batch completed")

		if it.opts.SuccessMessage != "" {
			report.Info(ctx, q.reporter, it.opts.SuccessMessage)
		}
	}
}

func (q *Queue) clearCurrent(it *item) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.current == it {
		q.current = nil
	}
}

// trackLocked registers a batch for lookup and evicts the oldest finished ones.
func (q *Queue) trackLocked(batch *Batch) {
	q.batches[batch.id] = batch
	q.order = append(q.order, batch.id)

	for len(q.order) > maxTrackedBatches {
		evicted := false

		for i, id := range q.order {
			if q.batches[id].isFinished() {
				delete(q.batches, id)
				q.order = append(q.order[:i], q.order[i+1:]...)
				evicted = true

				break
			}
		}

		if !evicted {
			return
		}
	}
}

// IsAborted reports whether err stopped a batch because a job failed.
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted)
}
