package project

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oshokin/zephyr-tools/internal/domain/toolchain"
	"github.com/oshokin/zephyr-tools/internal/logger"
	"github.com/oshokin/zephyr-tools/internal/queue"
	"github.com/oshokin/zephyr-tools/internal/shell"
)

const (
	// DefaultManifest is the west manifest file used by init-repo.
	DefaultManifest = "west.yml"
	// DefaultZephyrBase is used when the zephyr project path cannot be queried.
	DefaultZephyrBase = "zephyr"
	// BuildFolder is the build output folder inside a project target.
	BuildFolder = "build"
	// westFolder marks an initialised west workspace.
	westFolder = ".west"
)

// InitOptions describes where init-repo initialises the workspace from.
type InitOptions struct {
	// URL is the manifest repository. Required unless the workspace is already initialised.
	URL string
	// Branch is the manifest revision. Empty means the default branch.
	Branch string
	// Manifest is the manifest file name. Empty means west.yml.
	Manifest string
}

// InitRepo initialises the workspace and installs its Python dependencies.
// The workspace project is recorded as initialised once the last job succeeds.
func (s *Service) InitRepo(ctx context.Context, opts InitOptions) (*queue.Batch, error) {
	ctx = logger.WithName(ctx, "init-repo")

	session, err := s.session(ctx)
	if err != nil {
		return nil, err
	}

	if err = session.RequireSetup(); err != nil {
		return nil, err
	}

	env := session.Environment()

	_, statErr := os.Stat(filepath.Join(s.workspaceDir, westFolder))
	initialised := statErr == nil

	if !initialised && strings.TrimSpace(opts.URL) == "" {
		return nil, ErrRepositoryURLRequired
	}

	if err = os.MkdirAll(s.workspaceDir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	var steps []queue.Step

	if !initialised {
		manifest := opts.Manifest
		if manifest == "" {
			manifest = DefaultManifest
		}

		line := fmt.Sprintf("west init -m %s --mf %s", opts.URL, manifest)
		if opts.Branch != "" {
			line += " --mr " + opts.Branch
		}

		// A workspace that was partly initialised before makes this fail harmlessly.
		steps = append(steps, queue.Step{
			Job:     queue.Job{Name: "Init repository", Command: line, Dir: s.workspaceDir, Env: env},
			Options: queue.Options{IgnoreError: true},
		})
	}

	project := &toolchain.Project{
		Name:   filepath.Base(s.workspaceDir),
		Path:   s.workspaceDir,
		Target: s.workspaceDir,
		IsInit: true,
	}

	steps = append(steps,
		queue.Step{Job: queue.Job{Name: "Update modules", Command: "west update", Dir: s.workspaceDir, Env: env}},
		queue.Step{
			Job: s.requirementsJob(env),
			Options: queue.Options{
				SuccessMessage: "Init complete!",
				Payload:        project,
				OnComplete:     s.recordInit,
			},
		},
	)

	batch, err := s.queue.PushBatch(steps...)
	if err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Init queued", "batch_id", batch.ID(), "workspace", s.workspaceDir)

	return batch, nil
}

// recordInit stores the initialised project, keeping its board and runner
// when it was already known.
func (s *Service) recordInit(ctx context.Context, payload any) error {
	project, ok := payload.(*toolchain.Project)
	if !ok {
		return fmt.Errorf("unexpected init payload %T", payload)
	}

	_, err := s.repo.UpdateWorkspace(ctx, func(w *toolchain.WorkspaceConfig) error {
		if existing, found := w.Projects[project.Name]; found {
			existing.IsInit = true

			if existing.Target == "" {
				existing.Target = project.Target
			}
		} else {
			w.Projects[project.Name] = project.Clone()
		}

		w.SelectedProject = project.Name

		return nil
	})

	return err
}

// Build queues a build of the active project. A pristine build discards
// the previous build output first.
func (s *Service) Build(ctx context.Context, pristine bool) (*queue.Batch, error) {
	session, err := s.session(ctx)
	if err != nil {
		return nil, err
	}

	project, err := session.BuildableProject()
	if err != nil {
		return nil, err
	}

	line := "west build -b " + project.Board
	if pristine {
		line += " -p"
	}

	if project.BoardRootDir != "" {
		line += " -- -DBOARD_ROOT=" + shell.Quote(project.BoardRootDir)
	}

	name := "Build"
	if pristine {
		name = "Build pristine"
	}

	batch := s.queue.Push(queue.Job{
		Name:    name,
		Command: line,
		Dir:     project.Target,
		Env:     session.Environment(),
	}, queue.Options{
		SuccessMessage: "Build complete for " + project.Board,
	})

	logger.InfoKV(ctx, "Build queued", "batch_id", batch.ID(), "project", project.Name, "board", project.Board)

	return batch, nil
}

// Flash queues flashing the active project with its runner.
func (s *Service) Flash(ctx context.Context) (*queue.Batch, error) {
	session, err := s.session(ctx)
	if err != nil {
		return nil, err
	}

	project, err := session.ActiveProject()
	if err != nil {
		return nil, err
	}

	line := "west flash"
	if project.Runner != "" {
		line += " -r " + project.Runner

		if project.RunnerParams != "" {
			line += " " + project.RunnerParams
		}
	}

	batch := s.queue.Push(queue.Job{
		Name:    "Flash",
		Command: line,
		Dir:     targetDir(project),
		Env:     session.Environment(),
	}, queue.Options{
		SuccessMessage: "Flashed " + project.Name,
	})

	logger.InfoKV(ctx, "Flash queued", "batch_id", batch.ID(), "project", project.Name, "runner", project.Runner)

	return batch, nil
}

// Update queues a module update followed by the Python dependency install.
func (s *Service) Update(ctx context.Context) (*queue.Batch, error) {
	session, err := s.session(ctx)
	if err != nil {
		return nil, err
	}

	project, err := session.ActiveProject()
	if err != nil {
		return nil, err
	}

	env := session.Environment()

	batch, err := s.queue.PushBatch(
		queue.Step{Job: queue.Job{Name: "Update modules", Command: "west update", Dir: s.workspaceDir, Env: env}},
		queue.Step{
			Job:     s.requirementsJob(env),
			Options: queue.Options{SuccessMessage: "Updated dependencies for " + project.Name},
		},
	)
	if err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Update queued", "batch_id", batch.ID(), "project", project.Name)

	return batch, nil
}

// Clean removes the build output of the active project. A missing build
// folder is not an error. It returns the removed folder.
func (s *Service) Clean(ctx context.Context) (string, error) {
	session, err := s.session(ctx)
	if err != nil {
		return "", err
	}

	project, err := session.ActiveProject()
	if err != nil {
		return "", err
	}

	dir := targetDir(project)
	if dir == "" {
		return "", fmt.Errorf("project %s has no build target", project.Name)
	}

	buildDir := filepath.Join(dir, BuildFolder)

	if err = os.RemoveAll(buildDir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("remove %s: %w", buildDir, err)
	}

	logger.InfoKV(ctx, "Cleaned", "project", project.Name, "path", buildDir)

	return buildDir, nil
}

// requirementsJob installs the Python dependencies of the zephyr project.
// The zephyr base is queried when the job starts, after the jobs before it
// have updated the workspace.
func (s *Service) requirementsJob(env []string) queue.Job {
	return queue.Job{
		Name: "Install Python dependencies",
		Dir:  s.workspaceDir,
		Env:  env,
		Resolve: func(ctx context.Context) (string, error) {
			return requirementsLine(s.ZephyrBase(ctx, env)), nil
		},
	}
}

// ZephyrBase asks west where the zephyr project lives, relative to the
// workspace root. DefaultZephyrBase is returned when west cannot tell.
func (s *Service) ZephyrBase(ctx context.Context, env []string) string {
	if s.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	result, err := s.runner.Run(ctx, shell.Command{
		Line:          "west list -f {path:28} zephyr",
		Dir:           s.workspaceDir,
		Env:           env,
		Interruptible: true,
	})
	if err != nil {
		logger.DebugKV(ctx, "Unable to query the zephyr base", "error", err)

		return DefaultZephyrBase
	}

	base := DefaultZephyrBase

	for line := range strings.Lines(result.Output) {
		if strings.Contains(line, "zephyr") {
			base = strings.TrimSpace(line)
		}
	}

	return base
}

func requirementsLine(base string) string {
	return "pip install -r " + shell.Quote(filepath.Join(base, "scripts", "requirements.txt"))
}

// targetDir is where the build tool runs for a project.
func targetDir(project *toolchain.Project) string {
	if project.Target != "" {
		return project.Target
	}

	return project.Path
}
