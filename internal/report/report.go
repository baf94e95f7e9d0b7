package report

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/oshokin/zephyr-tools/internal/logger"
)

// Kind classifies an event.
type Kind string

const (
	// KindProgress is a coarse progress increment at a stage boundary.
	KindProgress Kind = "progress"
	// KindInfo is an informational message for the user.
	KindInfo Kind = "info"
	// KindError is a terminal failure message for the user.
	KindError Kind = "error"
)

// Event is one notification from a pipeline.
type Event struct {
	Kind Kind `json:"kind"`
	// Stage names the pipeline stage for progress events.
	Stage string `json:"stage,omitempty"`
	// Increment is the percentage added by a progress event.
	Increment int `json:"increment,omitempty"`
	// Message is the human-readable text.
	Message string `json:"message"`
	// Time is when the event was produced.
	Time time.Time `json:"time"`
}

// Reporter receives pipeline events.
type Reporter interface {
	Report(ctx context.Context, event Event)
}

// Progress reports a progress increment.
func Progress(ctx context.Context, r Reporter, stage string, increment int, message string) {
	r.Report(ctx, Event{
		Kind:      KindProgress,
		Stage:     stage,
		Increment: increment,
		Message:   message,
		Time:      time.Now(),
	})
}

// Info reports an informational message.
func Info(ctx context.Context, r Reporter, message string) {
	r.Report(ctx, Event{Kind: KindInfo, Message: message, Time: time.Now()})
}

// Error reports a failure message.
func Error(ctx context.Context, r Reporter, message string) {
	r.Report(ctx, Event{Kind: KindError, Message: message, Time: time.Now()})
}

// Nop discards every event.
type Nop struct{}

// Report implements Reporter.
func (Nop) Report(context.Context, Event) {}

// Log writes events to the logger from the context.
type Log struct{}

// Report implements Reporter.
func (Log) Report(ctx context.Context, event Event) {
	switch event.Kind {
	case KindProgress:
		logger.InfoKV(ctx, event.Message, "stage", event.Stage, "increment", event.Increment)
	case KindError:
		logger.Error(ctx, event.Message)
	default:
		logger.Info(ctx, event.Message)
	}
}

// Writer prints events as terminal lines with an accumulated percentage.
type Writer struct {
	w io.Writer

	mu    sync.Mutex
	total int
}

// NewWriter creates a Writer printing to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Report implements Reporter.
func (p *Writer) Report(_ context.Context, event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch event.Kind {
	case KindProgress:
		p.total = min(p.total+event.Increment, 100)
		fmt.Fprintf(p.w, "[%3d%%] %s\n", p.total, event.Message)
	case KindError:
		fmt.Fprintf(p.w, "error: %s\n", event.Message)
	default:
		fmt.Fprintln(p.w, event.Message)
	}
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Report implements Reporter.
func (r *Recorder) Report(_ context.Context, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.events)
}

// Stages returns the stages of the recorded progress events in order.
func (r *Recorder) Stages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	stages := make([]string, 0, len(r.events))
	for _, event := range r.events {
		if event.Kind == KindProgress {
			stages = append(stages, event.Stage)
		}
	}

	return stages
}

// Multi fans events out to every reporter.
type Multi []Reporter

// Report implements Reporter.
func (m Multi) Report(ctx context.Context, event Event) {
	for _, r := range m {
		if r != nil {
			r.Report(ctx, event)
		}
	}
}
