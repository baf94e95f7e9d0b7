package project

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oshokin/zephyr-tools/internal/domain/toolchain"
	"github.com/oshokin/zephyr-tools/internal/logger"
)

// cmakeProjectMarker is the CMake call that makes a folder a project.
const cmakeProjectMarker = "project("

// Status summarizes the workspace for the user.
type Status struct {
	IsSetup           bool     `json:"is_setup"`
	SelectedProject   string   `json:"selected_project,omitempty"`
	Board             string   `json:"board,omitempty"`
	BoardRootDir      string   `json:"board_root_dir,omitempty"`
	Runner            string   `json:"runner,omitempty"`
	RunnerParams      string   `json:"runner_params,omitempty"`
	SelectedToolchain string   `json:"selected_toolchain,omitempty"`
	ToolchainPath     string   `json:"toolchain_path,omitempty"`
	AutoSelectProject bool     `json:"auto_select_project"`
	Projects          []string `json:"projects"`
}

// AddProject registers dir as a project and selects it.
func (s *Service) AddProject(ctx context.Context, dir string) (*toolchain.Project, error) {
	session, err := s.session(ctx)
	if err != nil {
		return nil, err
	}

	if err = session.RequireSetup(); err != nil {
		return nil, err
	}

	dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	contents, err := os.ReadFile(filepath.Join(dir, "CMakeLists.txt"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", dir, ErrNotAProject)
		}

		return nil, fmt.Errorf("read CMakeLists.txt: %w", err)
	}

	if !bytes.Contains(contents, []byte(cmakeProjectMarker)) {
		return nil, fmt.Errorf("%s: %w", dir, ErrNotAProject)
	}

	project := &toolchain.Project{
		Name:   filepath.Base(dir),
		Path:   dir,
		Target: dir,
		IsInit: true,
	}

	_, err = s.repo.UpdateWorkspace(ctx, func(w *toolchain.WorkspaceConfig) error {
		w.Projects[project.Name] = project.Clone()
		w.SelectedProject = project.Name

		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Project added", "project", project.Name, "path", dir)

	return project, nil
}

// SetProject selects a known project.
func (s *Service) SetProject(ctx context.Context, name string) error {
	session, err := s.session(ctx)
	if err != nil {
		return err
	}

	if err = session.RequireSetup(); err != nil {
		return err
	}

	_, err = s.repo.UpdateWorkspace(ctx, func(w *toolchain.WorkspaceConfig) error {
		if _, ok := w.Projects[name]; !ok {
			return fmt.Errorf("%s: %w", name, ErrUnknownProject)
		}

		w.SelectedProject = name

		return nil
	})

	return err
}

// SetAutoSelect turns automatic project selection on or off.
func (s *Service) SetAutoSelect(ctx context.Context, enabled bool) error {
	_, err := s.repo.UpdateWorkspace(ctx, func(w *toolchain.WorkspaceConfig) error {
		w.AutoSelectProject = enabled

		return nil
	})

	return err
}

// SelectForFile selects the project containing file when automatic
// selection is enabled. The deepest matching project wins. It returns the
// selected project name and whether the selection changed.
func (s *Service) SelectForFile(ctx context.Context, file string) (string, bool, error) {
	workspace, err := s.repo.LoadWorkspace(ctx)
	if err != nil {
		return "", false, err
	}

	if !workspace.AutoSelectProject {
		return workspace.SelectedProject, false, nil
	}

	file, err = filepath.Abs(file)
	if err != nil {
		return "", false, err
	}

	var best *toolchain.Project

	for _, name := range workspace.ProjectNames() {
		project := workspace.Projects[name]
		if !containsPath(project.Path, file) {
			continue
		}

		if best == nil || len(project.Path) > len(best.Path) {
			best = project
		}
	}

	if best == nil || best.Name == workspace.SelectedProject {
		return workspace.SelectedProject, false, nil
	}

	_, err = s.repo.UpdateWorkspace(ctx, func(w *toolchain.WorkspaceConfig) error {
		w.SelectedProject = best.Name

		return nil
	})
	if err != nil {
		return "", false, err
	}

	logger.InfoKV(ctx, "Active project changed", "project", best.Name, "file", file)

	return best.Name, true, nil
}

// Status reports the active selections.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	session, err := s.session(ctx)
	if err != nil {
		return nil, err
	}

	status := &Status{
		IsSetup:           session.Global.IsSetup,
		SelectedProject:   session.Workspace.SelectedProject,
		SelectedToolchain: session.Workspace.SelectedToolchain,
		ToolchainPath:     session.Global.Toolchains[session.Workspace.SelectedToolchain],
		AutoSelectProject: session.Workspace.AutoSelectProject,
		Projects:          session.Workspace.ProjectNames(),
	}

	if project := session.Workspace.ActiveProject(); project != nil {
		status.Board = project.Board
		status.BoardRootDir = project.BoardRootDir
		status.Runner = project.Runner
		status.RunnerParams = project.RunnerParams
	}

	return status, nil
}

// Environment returns the environment jobs of this workspace run with.
func (s *Service) Environment(ctx context.Context) ([]string, error) {
	session, err := s.session(ctx)
	if err != nil {
		return nil, err
	}

	return session.Environment(), nil
}

// Reset discards the global and workspace records.
func (s *Service) Reset(ctx context.Context) error {
	return s.repo.Reset(ctx)
}

// containsPath reports whether file is dir or lies below it.
func containsPath(dir, file string) bool {
	if dir == "" {
		return false
	}

	rel, err := filepath.Rel(dir, file)
	if err != nil {
		return false
	}

	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
