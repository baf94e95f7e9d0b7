package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/oshokin/zephyr-tools/internal/logger"
)

// Command is one command line to execute.
type Command struct {
	// Line is passed verbatim to the shell.
	Line string
	// Dir is the working directory. Empty means the current one.
	Dir string
	// Env is the full environment. Nil inherits the process environment.
	Env []string
	// Interruptible kills the process when the context is done.
	// Queue jobs are never interrupted; probes are.
	Interruptible bool
}

// Result is the outcome of a finished process.
type Result struct {
	// ExitCode is the process exit status.
	ExitCode int
	// Output is the combined stdout and stderr.
	Output string
}

// Runner executes command lines.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// CommandError is returned when a process exits with a non-zero status.
type CommandError struct {
	Line     string
	ExitCode int
	Output   string
}

// Error implements error.
func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q exited with code %d", e.Line, e.ExitCode)
}

// maxCapturedOutput bounds the output kept in Result; the log sink gets everything.
const maxCapturedOutput = 64 << 10

// Executor runs commands through "sh -c" or "cmd /C".
type Executor struct {
	// Shell is the interpreter binary.
	Shell string
	// Flag makes the interpreter read the command from the next argument.
	Flag string
	// Stdout optionally receives live process output.
	Stdout io.Writer
}

// NewExecutor creates an executor for the running platform.
func NewExecutor() *Executor {
	if runtime.GOOS == "windows" {
		return &Executor{Shell: "cmd", Flag: "/C"}
	}

	return &Executor{Shell: "sh", Flag: "-c"}
}

// Run executes cmd and waits for it to finish.
// A non-zero exit status is reported as *CommandError together with the result.
func (e *Executor) Run(ctx context.Context, cmd Command) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var process *exec.Cmd
	if cmd.Interruptible {
		process = exec.CommandContext(ctx, e.Shell, e.Flag, cmd.Line) //nolint:gosec // Running user commands is the point.
	} else {
		process = exec.Command(e.Shell, e.Flag, cmd.Line) //nolint:gosec,noctx // Jobs run to completion.
	}

	process.Dir = cmd.Dir
	process.Env = cmd.Env

	var (
		captured  = &tailBuffer{limit: maxCapturedOutput}
		stdoutLog = logger.NewLineWriter(ctx, "stdout")
		stderrLog = logger.NewLineWriter(ctx, "stderr")
		stdout    = []io.Writer{captured, stdoutLog}
		stderr    = []io.Writer{captured, stderrLog}
	)

	if e.Stdout != nil {
		stdout = append(stdout, e.Stdout)
		stderr = append(stderr, e.Stdout)
	}

	process.Stdout = io.MultiWriter(stdout...)
	process.Stderr = io.MultiWriter(stderr...)

	logger.DebugKV(ctx, "Running command", "line", cmd.Line, "dir", cmd.Dir)

	err := process.Run()

	stdoutLog.Flush()
	stderrLog.Flush()

	result := &Result{
		ExitCode: process.ProcessState.ExitCode(),
		Output:   captured.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return result, &CommandError{
				Line:     cmd.Line,
				ExitCode: exitErr.ExitCode(),
				Output:   result.Output,
			}
		}

		return result, fmt.Errorf("run %q: %w", cmd.Line, err)
	}

	return result, nil
}

// Quote protects an argument from word splitting by the platform shell.
func Quote(arg string) string {
	if runtime.GOOS == "windows" {
		return `"` + strings.ReplaceAll(arg, `"`, `\"`) + `"`
	}

	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}

// tailBuffer keeps the last limit bytes written to it.
// Stdout and stderr are copied by separate goroutines.
type tailBuffer struct {
	limit int

	mu  sync.Mutex
	buf bytes.Buffer
}

// Write implements io.Writer.
func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf.Write(p)

	if overflow := b.buf.Len() - b.limit; overflow > 0 {
		b.buf.Next(overflow)
	}

	return len(p), nil
}

// String returns the kept output.
func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}
