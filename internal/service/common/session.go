//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/oshokin/zephyr-tools/internal/domain/toolchain"
	"github.com/oshokin/zephyr-tools/internal/repository/state"
)

var (
	// ErrNotSetup is returned by commands that need a completed setup.
	ErrNotSetup = errors.New("run `zephyr-tools setup` first")
	// ErrNoProject is returned when no project is selected.
	ErrNoProject = errors.New("select a project first")
	// ErrProjectNotInit is returned when the project dependencies are missing.
	ErrProjectNotInit = errors.New("run `zephyr-tools init-repo` first")
	// ErrNoBoard is returned when the project has no board.
	ErrNoBoard = errors.New("choose a board first")
)

// Session is a snapshot of both records taken at command start.
type Session struct {
	Global    *toolchain.GlobalConfig
	Workspace *toolchain.WorkspaceConfig
}

// Load reads both records.
func Load(ctx context.Context, repo state.Repository) (*Session, error) {
	global, err := repo.LoadGlobal(ctx)
	if err != nil {
		return nil, err
	}

	workspace, err := repo.LoadWorkspace(ctx)
	if err != nil {
		return nil, err
	}

	return &Session{Global: global, Workspace: workspace}, nil
}

// RequireSetup fails unless setup has completed.
func (s *Session) RequireSetup() error {
	if !s.Global.IsSetup {
		return ErrNotSetup
	}

	return nil
}

// ActiveProject returns the selected project after checking setup.
func (s *Session) ActiveProject() (*toolchain.Project, error) {
	if err := s.RequireSetup(); err != nil {
		return nil, err
	}

	project := s.Workspace.ActiveProject()
	if project == nil {
		return nil, ErrNoProject
	}

	return project, nil
}

// BuildableProject returns the selected project once it is initialised and
// has a board and a target.
func (s *Session) BuildableProject() (*toolchain.Project, error) {
	project, err := s.ActiveProject()
	if err != nil {
		return nil, err
	}

	switch {
	case !project.IsInit:
		return nil, ErrProjectNotInit
	case project.Board == "":
		return nil, ErrNoBoard
	case project.Target == "":
		return nil, fmt.Errorf("project %s has no build target", project.Name)
	}

	return project, nil
}

// Environment returns the process environment with both overlays applied.
func (s *Session) Environment() []string {
	return toolchain.ShellEnvironment(os.Environ(), s.Global, s.Workspace)
}
