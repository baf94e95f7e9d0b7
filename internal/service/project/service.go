package project

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/oshokin/zephyr-tools/internal/config"
	"github.com/oshokin/zephyr-tools/internal/queue"
	"github.com/oshokin/zephyr-tools/internal/repository/state"
	"github.com/oshokin/zephyr-tools/internal/service/common"
	"github.com/oshokin/zephyr-tools/internal/shell"
)

var (
	// ErrNotAProject is returned for folders without a CMake project.
	ErrNotAProject = errors.New("folder has no CMakeLists.txt declaring a project")
	// ErrUnknownProject is returned when selecting a project that was never added.
	ErrUnknownProject = errors.New("unknown project")
	// ErrUnknownBoard is returned for boards missing from the board directory.
	ErrUnknownBoard = errors.New("unknown board")
	// ErrUnknownRunner is returned for unsupported flash runners.
	ErrUnknownRunner = errors.New("unknown runner")
	// ErrRepositoryURLRequired is returned when init-repo has nothing to initialise from.
	ErrRepositoryURLRequired = errors.New("repository url is required")
)

// Service implements the project commands for one workspace.
type Service struct {
	workspaceDir string
	timeout      time.Duration

	repo   state.Repository
	runner shell.Runner
	queue  *queue.Queue
}

// New creates the service. runner executes quick queries such as locating
// the zephyr base; everything else goes through q.
func New(cfg *config.Config, workspaceDir string, repo state.Repository, runner shell.Runner, q *queue.Queue) *Service {
	return &Service{
		workspaceDir: filepath.Clean(workspaceDir),
		timeout:      cfg.Timeout,
		repo:         repo,
		runner:       runner,
		queue:        q,
	}
}

// WorkspaceDir returns the workspace root.
func (s *Service) WorkspaceDir() string {
	return s.workspaceDir
}

func (s *Service) session(ctx context.Context) (*common.Session, error) {
	return common.Load(ctx, s.repo)
}
