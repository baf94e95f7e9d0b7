package queue

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Batch is the future of a contiguous run of jobs sharing one continuation.
type Batch struct {
	id      uuid.UUID
	created time.Time
	done    chan struct{}

	mu       sync.Mutex
	jobs     []JobResult
	result   Result
	finished bool
}

func newBatch() *Batch {
	return &Batch{
		id:      uuid.New(),
		created: time.Now(),
		done:    make(chan struct{}),
	}
}

// ID returns the batch identifier.
func (b *Batch) ID() uuid.UUID {
	return b.id
}

// Done is closed when the batch reaches a terminal status.
func (b *Batch) Done() <-chan struct{} {
	return b.done
}

// Wait blocks until the batch finishes or ctx is done.
func (b *Batch) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-b.done:
		result, _ := b.Result()

		return &result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns a snapshot of the batch and whether it has finished.
func (b *Batch) Result() (Result, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.finished {
		result := b.result
		result.Jobs = slices.Clone(b.result.Jobs)

		return result, true
	}

	return Result{
		BatchID: b.id,
		Status:  StatusPending,
		Jobs:    slices.Clone(b.jobs),
	}, false
}

func (b *Batch) isFinished() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.finished
}

func (b *Batch) record(jr JobResult) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.jobs = append(b.jobs, jr)
}

// finish stores the terminal result once. It reports whether this call did it.
func (b *Batch) finish(status Status, message string, err error, payload any) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.finished {
		return false
	}

	b.finished = true
	b.result = Result{
		BatchID: b.id,
		Status:  status,
		Message: message,
		Jobs:    slices.Clone(b.jobs),
		Err:     err,
		Payload: payload,
	}

	if err != nil {
		b.result.Error = err.Error()
	}

	close(b.done)

	return true
}
