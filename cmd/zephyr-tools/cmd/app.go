package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/zephyr-tools/internal/archive"
	"github.com/oshokin/zephyr-tools/internal/config"
	"github.com/oshokin/zephyr-tools/internal/download"
	"github.com/oshokin/zephyr-tools/internal/logger"
	"github.com/oshokin/zephyr-tools/internal/provision"
	"github.com/oshokin/zephyr-tools/internal/queue"
	"github.com/oshokin/zephyr-tools/internal/report"
	"github.com/oshokin/zephyr-tools/internal/repository/state"
	"github.com/oshokin/zephyr-tools/internal/service/project"
	"github.com/oshokin/zephyr-tools/internal/service/sdk"
	"github.com/oshokin/zephyr-tools/internal/service/setup"
	"github.com/oshokin/zephyr-tools/internal/shell"
)

// logMaxBackups is how many rotated log files are kept.
const logMaxBackups = 3

var errInvalidLogLevel = errors.New("invalid log level")

// app holds the dependencies shared by the commands of one invocation.
type app struct {
	cfg       *config.Config
	workspace string
	repo      *state.FileRepository
	runner    shell.Runner
	queue     *queue.Queue
	reporter  report.Reporter
	out       io.Writer
	closeLog  func() error
}

// runWithApp wraps a command body with signal handling, settings, logging
// and the shared dependencies.
func runWithApp(fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		// Setup graceful shutdown handling.
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		ctx = logger.WithName(ctx, cmd.Name())

		a, err := newApp(ctx, cmd)
		if err != nil {
			logger.ErrorKV(ctx, "Unable to start", "error", err)

			return err
		}
		defer a.close()

		if err = fn(ctx, a, args); err != nil {
			logger.ErrorKV(ctx, "Command failed", "error", err)

			return err
		}

		return nil
	}
}

func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	levelName := cfg.LogLevel
	if logLevel != "" {
		levelName = logLevel
	}

	level, ok := logger.ParseLogLevel(levelName)
	if !ok {
		return nil, fmt.Errorf("%q: %w", levelName, errInvalidLogLevel)
	}

	l, closeLog, err := logger.NewWithFile(level, logger.FileOptions{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: logMaxBackups,
	})
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	logger.SetLogger(l)

	workspace, err := filepath.Abs(workspaceDir)
	if err != nil {
		_ = closeLog()

		return nil, fmt.Errorf("resolve workspace: %w", err)
	}

	repo, err := state.NewFileRepository(cfg.ToolsDir, workspace)
	if err != nil {
		_ = closeLog()

		return nil, err
	}

	executor := shell.NewExecutor()
	executor.Stdout = cmd.OutOrStdout()

	reporter := report.NewWriter(cmd.OutOrStdout())

	logger.DebugKV(ctx, "Settings loaded", "tools_dir", cfg.ToolsDir, "workspace", workspace)

	return &app{
		cfg:       cfg,
		workspace: workspace,
		repo:      repo,
		runner:    executor,
		queue:     queue.New(ctx, executor, queue.WithReporter(reporter)),
		reporter:  reporter,
		out:       cmd.OutOrStdout(),
		closeLog:  closeLog,
	}, nil
}

func (a *app) close() {
	logger.Sync()

	if a.closeLog != nil {
		_ = a.closeLog()
	}
}

func (a *app) setupService() *setup.Service {
	return setup.New(a.cfg, a.repo, a.runner, a.queue)
}

func (a *app) projectService() *project.Service {
	return project.New(a.cfg, a.workspace, a.repo, a.runner, a.queue)
}

func (a *app) sdkService() *sdk.Service {
	downloader := download.New(
		filepath.Join(a.cfg.ToolsDir, provision.DownloadsFolder),
		download.WithRateLimit(a.cfg.DownloadRateLimit),
		download.WithFetcher("s3", download.NewS3Fetcher(a.cfg.S3)),
	)

	installer := archive.NewInstaller(a.runner, a.cfg.TarBinary, a.cfg.SevenZipBinary)
	driver := provision.New(a.cfg, a.repo, downloader, installer, provision.WithReporter(a.reporter))

	return sdk.New(a.repo, driver)
}

// wait blocks until batch finishes. A signal cancels the queued jobs; the
// running job is left to finish.
func (a *app) wait(ctx context.Context, batch *queue.Batch) error {
	select {
	case <-batch.Done():
	case <-ctx.Done():
		logger.Warn(ctx, "Cancelling queued jobs, waiting for the running job to finish")
		a.queue.Cancel()
	}

	result, err := batch.Wait(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}

	if result.Status != queue.StatusSucceeded {
		return result.Err
	}

	return nil
}
