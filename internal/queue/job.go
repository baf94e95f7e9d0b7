package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Job is one externally runnable step. It is immutable once pushed.
type Job struct {
	// ID is assigned on push when empty.
	ID uuid.UUID
	// Name is shown to the user.
	Name string
	// Command is the shell command line.
	Command string
	// Dir is the working directory.
	Dir string
	// Env is the full process environment. Nil inherits the host one.
	Env []string
	// Resolve, when set, computes Command as the job starts, after every
	// earlier job has finished. It runs on the queue goroutine, so it may
	// run external tools itself.
	Resolve func(ctx context.Context) (string, error)
}

// Continuation is invoked after the final job of a batch completes.
type Continuation func(ctx context.Context, payload any) error

// Options is the execution policy attached to a job at push time.
// SuccessMessage, OnComplete and Payload are only read from the last job
// of a batch.
type Options struct {
	// IgnoreError lets the batch continue when the job fails.
	IgnoreError bool
	// SuccessMessage is reported once the batch completes.
	SuccessMessage string
	// OnComplete runs after the final job succeeds or fails tolerably.
	OnComplete Continuation
	// Payload is handed to OnComplete and kept on the result.
	Payload any
}

// Step is one job of a batch together with its policy.
type Step struct {
	Job     Job
	Options Options
}

// State is the process-wide queue state.
type State string

const (
	// StateIdle means no job is running or pending.
	StateIdle State = "idle"
	// StateRunning means jobs are being drained.
	StateRunning State = "running"
	// StateCancelled means a cancel was requested and the running job is finishing.
	StateCancelled State = "cancelled"
)

// Status is the outcome of a batch.
type Status string

const (
	// StatusPending means the batch has not finished yet.
	StatusPending Status = "pending"
	// StatusSucceeded means every job passed and the continuation succeeded.
	StatusSucceeded Status = "succeeded"
	// StatusFailed means a job or the continuation failed.
	StatusFailed Status = "failed"
	// StatusCancelled means the batch was cancelled before all jobs started.
	StatusCancelled Status = "cancelled"
)

var (
	// ErrAborted is returned for batches stopped by a failing job.
	ErrAborted = errors.New("batch aborted")
	// ErrCancelled is returned for batches stopped by a cancel request.
	ErrCancelled = errors.New("batch cancelled")
	// ErrEmptyBatch is returned when a batch is pushed without jobs.
	ErrEmptyBatch = errors.New("batch has no jobs")
)

// JobResult describes one executed job.
type JobResult struct {
	JobID    uuid.UUID `json:"job_id"`
	Name     string    `json:"name"`
	Command  string    `json:"command"`
	ExitCode int       `json:"exit_code"`
	// Ignored reports a failure tolerated by IgnoreError.
	Ignored  bool      `json:"ignored,omitempty"`
	Error    string    `json:"error,omitempty"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
}

// Result is the outcome of a batch.
type Result struct {
	BatchID uuid.UUID   `json:"batch_id"`
	Status  Status      `json:"status"`
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
	Jobs    []JobResult `json:"jobs"`
	// Err is the terminal error, nil on success.
	Err error `json:"-"`
	// Payload is the continuation payload of the final job.
	Payload any `json:"-"`
}
