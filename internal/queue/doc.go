// Package queue implements the serialized job queue that drives the meta
// build tool.
//
// Jobs run one at a time in push order. A batch is pushed atomically as a
// list of steps, so jobs of concurrent callers never share a batch. The batch
// continuation runs after its last job and before the next job starts. A failing job aborts the rest of its batch
// unless it tolerates errors. Cancellation is cooperative: the running process
// is never killed, but no further queued job starts.
package queue
