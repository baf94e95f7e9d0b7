package setup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oshokin/zephyr-tools/internal/config"
	"github.com/oshokin/zephyr-tools/internal/domain/toolchain"
	"github.com/oshokin/zephyr-tools/internal/logger"
	"github.com/oshokin/zephyr-tools/internal/queue"
	"github.com/oshokin/zephyr-tools/internal/repository/state"
	"github.com/oshokin/zephyr-tools/internal/service/common"
	"github.com/oshokin/zephyr-tools/internal/shell"
)

// EnvFolder is the virtual environment directory below the tools directory.
const EnvFolder = "env"

// DependencyManager is installed into the virtual environment.
const DependencyManager = "west"

const toolsDirPermissions = 0o755

// errNotPython3 is returned when the interpreter is not Python 3.
var errNotPython3 = errors.New("interpreter is not Python 3")

// Service runs the setup command.
type Service struct {
	toolsDir string
	python   string
	timeout  time.Duration

	repo   state.Repository
	runner shell.Runner
	queue  *queue.Queue
}

// New creates the setup service. runner executes the prerequisite probes;
// the environment itself is provisioned through q.
func New(cfg *config.Config, repo state.Repository, runner shell.Runner, q *queue.Queue) *Service {
	return &Service{
		toolsDir: cfg.ToolsDir,
		python:   cfg.Python,
		timeout:  cfg.Timeout,
		repo:     repo,
		runner:   runner,
		queue:    q,
	}
}

// VenvDir returns the virtual environment location.
func (s *Service) VenvDir() string {
	return filepath.Join(s.toolsDir, EnvFolder)
}

// Overlay returns the environment overlay that activates the virtual environment.
func (s *Service) Overlay() toolchain.EnvOverlay {
	var (
		venv    = s.VenvDir()
		overlay toolchain.EnvOverlay
	)

	overlay.PrependPath(filepath.Join(venv, "Scripts"))
	overlay.PrependPath(filepath.Join(venv, "bin"))
	overlay.SetVar(toolchain.EnvVirtualEnv, venv)

	return overlay
}

// Run checks the prerequisites and queues the environment provisioning.
// Nothing is written before every prerequisite is found; the global record
// is marked as set up only after the last job succeeds.
func (s *Service) Run(ctx context.Context) (*queue.Batch, error) {
	ctx = logger.WithName(ctx, "setup")

	session, err := common.Load(ctx, s.repo)
	if err != nil {
		return nil, err
	}

	// Setup starts from a clean global overlay.
	fresh := session.Global.Clone()
	fresh.Env = toolchain.EnvOverlay{}

	baseEnv := toolchain.ShellEnvironment(os.Environ(), fresh, session.Workspace)

	if err = s.Probe(ctx, baseEnv); err != nil {
		logger.ErrorKV(ctx, "Prerequisite check failed", "error", err)

		return nil, err
	}

	if err = os.MkdirAll(s.toolsDir, toolsDirPermissions); err != nil {
		return nil, fmt.Errorf("create tools directory: %w", err)
	}

	overlay := s.Overlay()
	fresh.Env = overlay.Clone()

	venvEnv := toolchain.ShellEnvironment(os.Environ(), fresh, session.Workspace)

	batch, err := s.queue.PushBatch(
		queue.Step{Job: queue.Job{
			Name:    "Create virtual environment",
			Command: fmt.Sprintf("%s -m venv %s", s.python, shell.Quote(s.VenvDir())),
			Dir:     s.toolsDir,
			Env:     baseEnv,
		}},
		queue.Step{
			Job: queue.Job{
				Name:    "Install " + DependencyManager,
				Command: fmt.Sprintf("%s -m pip install %s", s.python, DependencyManager),
				Dir:     s.toolsDir,
				Env:     venvEnv,
			},
			Options: queue.Options{
				SuccessMessage: "Zephyr Tools setup complete",
				Payload:        overlay,
				OnComplete:     s.complete,
			},
		},
	)
	if err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Setup queued", "batch_id", batch.ID(), "venv", s.VenvDir())

	return batch, nil
}

// complete records the finished setup.
func (s *Service) complete(ctx context.Context, payload any) error {
	overlay, ok := payload.(toolchain.EnvOverlay)
	if !ok {
		return fmt.Errorf("unexpected setup payload %T", payload)
	}

	_, err := s.repo.UpdateGlobal(ctx, func(g *toolchain.GlobalConfig) error {
		g.IsSetup = true
		g.Env = overlay.Clone()

		platform, arch, err := toolchain.HostPlatform()
		if err != nil {
			logger.WarnKV(ctx, "Host platform has no published toolchains", "error", err)

			return nil
		}

		g.Platform, g.Arch = platform, arch

		return nil
	})

	return err
}

// Probe checks the prerequisites in order and stops at the first missing one.
func (s *Service) Probe(ctx context.Context, env []string) error {
	probes := []struct {
		tool  string
		line  string
		check func(output string) error
	}{
		{tool: ToolGit, line: "git --version"},
		{tool: ToolPython, line: s.python + " --version", check: isPython3},
		{tool: ToolPip, line: s.python + " -m pip --version"},
		{tool: ToolVenv, line: s.python + " -m venv --help"},
	}

	for _, probe := range probes {
		result, err := s.probe(ctx, probe.line, env)
		if err != nil {
			return missing(probe.tool, err)
		}

		if probe.check != nil {
			if err = probe.check(result.Output); err != nil {
				return missing(probe.tool, err)
			}
		}

		logger.InfoKV(ctx, "Prerequisite found", "tool", probe.tool)
	}

	return nil
}

func (s *Service) probe(ctx context.Context, line string, env []string) (*shell.Result, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	return s.runner.Run(ctx, shell.Command{
		Line:          line,
		Env:           env,
		Interruptible: true,
	})
}

// isPython3 accepts "Python 3.x" version banners.
func isPython3(output string) error {
	if !strings.Contains(output, "Python 3") {
		return fmt.Errorf("%w: %q", errNotPython3, strings.TrimSpace(output))
	}

	return nil
}
