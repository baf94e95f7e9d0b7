package logger

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileOptions configures the append-only diagnostic log file.
type FileOptions struct {
	// Path is the log file location. Empty disables the file sink.
	Path string
	// MaxSizeMB is the size after which the file is rotated.
	MaxSizeMB int
	// MaxBackups is how many rotated files are kept.
	MaxBackups int
}

const (
	defaultMaxSizeMB  = 20
	defaultMaxBackups = 5
	logDirPermissions = 0o755
)

// coreWithLevel wraps a zapcore.Core with a fixed minimum level so the file
// sink keeps debug detail while the console follows the configured level.
type coreWithLevel struct {
	zapcore.Core

	// level is the minimum log level for this core to process messages.
	level zapcore.Level
}

// Enabled reports whether the entry level passes the fixed minimum.
func (c *coreWithLevel) Enabled(l zapcore.Level) bool {
	return c.level.Enabled(l)
}

// Check adds the core to a checked entry if the entry level is enabled.
//
//nolint:gocritic // AddCore requires ent to be passed by value.
func (c *coreWithLevel) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}

	return ce
}

// With returns a copy of the core with extra fields and the same level.
//
//nolint:ireturn,nolintlint // Returning zapcore.Core is intended for zap integration.
func (c *coreWithLevel) With(fields []zapcore.Field) zapcore.Core {
	return &coreWithLevel{
		c.Core.With(fields),
		c.level,
	}
}

// NewWithFile creates a logger that writes console output at the provided
// level and every debug-or-higher entry as JSON to a rotating file.
// The returned function flushes and closes the file.
func NewWithFile(level zapcore.LevelEnabler, opts FileOptions) (*zap.SugaredLogger, func() error, error) {
	if opts.Path == "" {
		l := New(level)

		return l, l.Sync, nil
	}

	if level == nil {
		level = defaultLevel
	}

	if err := os.MkdirAll(filepath.Dir(opts.Path), logDirPermissions); err != nil {
		return nil, nil, err
	}

	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = defaultMaxSizeMB
	}

	if opts.MaxBackups <= 0 {
		opts.MaxBackups = defaultMaxBackups
	}

	rotator := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
	}

	fileEncoderConfig := zap.NewProductionEncoderConfig()
	fileEncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	fileCore := &coreWithLevel{
		Core:  zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoderConfig), zapcore.AddSync(rotator), zapcore.DebugLevel),
		level: zapcore.DebugLevel,
	}

	consoleCore := zapcore.NewCore(consoleEncoder(), zapcore.AddSync(os.Stderr), level)

	l := zap.New(zapcore.NewTee(consoleCore, fileCore)).Sugar()

	closer := func() error {
		_ = l.Sync()

		return rotator.Close()
	}

	return l, closer, nil
}

// LineWriter is an io.Writer that turns every complete line written to it
// into a debug log entry. It is used to mirror external process output into
// the diagnostic log without interleaving partial lines.
type LineWriter struct {
	ctx    context.Context //nolint:containedctx // The writer is scoped to a single process run.
	stream string

	mu  sync.Mutex
	buf bytes.Buffer
}

// NewLineWriter creates a LineWriter tagging entries with the stream name.
func NewLineWriter(ctx context.Context, stream string) *LineWriter {
	return &LineWriter{
		ctx:    ctx,
		stream: stream,
	}
}

// Write buffers p and logs every complete line.
func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)

	for {
		line, err := w.buf.ReadBytes('\n')
		if err != nil {
			// Keep the partial line for the next write.
			w.buf.Write(line)

			break
		}

		DebugKV(w.ctx, string(bytes.TrimRight(line, "\r\n")), "stream", w.stream)
	}

	return len(p), nil
}

// Flush logs any trailing partial line.
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf.Len() == 0 {
		return
	}

	DebugKV(w.ctx, string(bytes.TrimRight(w.buf.Bytes(), "\r\n")), "stream", w.stream)
	w.buf.Reset()
}
