package project

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/oshokin/zephyr-tools/internal/domain/toolchain"
	"github.com/oshokin/zephyr-tools/internal/logger"
)

// DefaultRunner clears the runner so the build tool picks its own.
const DefaultRunner = "default"

// boardRootPatterns are searched below the workspace root in order.
//
//nolint:gochecknoglobals // Read-only table.
var boardRootPatterns = []string{"boards", "*/boards", "*/zephyr/boards"}

// Runners returns the supported flash runners.
func Runners() []string {
	return []string{DefaultRunner, "jlink", "nrfjprog", "openocd", "pyocd", "qemu", "stlink"}
}

// BoardRoots lists the board directories found in the workspace.
func (s *Service) BoardRoots() ([]string, error) {
	var (
		fsys  = os.DirFS(s.workspaceDir)
		roots []string
	)

	for _, pattern := range boardRootPatterns {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, fmt.Errorf("search %s: %w", pattern, err)
		}

		slices.Sort(matches)

		for _, match := range matches {
			dir := filepath.Join(s.workspaceDir, filepath.FromSlash(match))

			if info, statErr := os.Stat(dir); statErr == nil && info.IsDir() && !slices.Contains(roots, dir) {
				roots = append(roots, dir)
			}
		}
	}

	return roots, nil
}

// Boards lists the board names defined below boardDir: the stems of every
// YAML file, skipping build output and git metadata.
func (s *Service) Boards(boardDir string) ([]string, error) {
	boardDir = s.resolve(boardDir)

	matches, err := doublestar.Glob(os.DirFS(boardDir), "**/*.yaml")
	if err != nil {
		return nil, fmt.Errorf("list boards in %s: %w", boardDir, err)
	}

	var boards []string

	for _, match := range matches {
		if skippedBoardPath(match) {
			continue
		}

		name := strings.TrimSuffix(path.Base(match), ".yaml")
		if !slices.Contains(boards, name) {
			boards = append(boards, name)
		}
	}

	slices.Sort(boards)

	return boards, nil
}

// ChangeBoard sets the board of the active project. The board root is the
// parent of boardDir, as the build tool expects.
func (s *Service) ChangeBoard(ctx context.Context, boardDir, board string) error {
	session, err := s.session(ctx)
	if err != nil {
		return err
	}

	project, err := session.ActiveProject()
	if err != nil {
		return err
	}

	boardDir = s.resolve(boardDir)

	boards, err := s.Boards(boardDir)
	if err != nil {
		return err
	}

	if !slices.Contains(boards, board) {
		return fmt.Errorf("%s in %s: %w", board, boardDir, ErrUnknownBoard)
	}

	_, err = s.repo.UpdateWorkspace(ctx, func(w *toolchain.WorkspaceConfig) error {
		p := w.Projects[project.Name]
		p.Board = board
		p.BoardRootDir = filepath.Dir(boardDir)

		return nil
	})
	if err != nil {
		return err
	}

	logger.InfoKV(ctx, "Board changed", "project", project.Name, "board", board)

	return nil
}

// ChangeRunner sets the flash runner and its extra arguments for the active project.
func (s *Service) ChangeRunner(ctx context.Context, runner, params string) error {
	if !slices.Contains(Runners(), runner) {
		return fmt.Errorf("%s: %w", runner, ErrUnknownRunner)
	}

	session, err := s.session(ctx)
	if err != nil {
		return err
	}

	project, err := session.ActiveProject()
	if err != nil {
		return err
	}

	_, err = s.repo.UpdateWorkspace(ctx, func(w *toolchain.WorkspaceConfig) error {
		p := w.Projects[project.Name]
		p.Runner = runner
		p.RunnerParams = strings.TrimSpace(params)

		if runner == DefaultRunner {
			p.Runner = ""
		}

		return nil
	})
	if err != nil {
		return err
	}

	logger.InfoKV(ctx, "Runner changed", "project", project.Name, "runner", runner, "params", params)

	return nil
}

// resolve makes dir absolute against the workspace root.
func (s *Service) resolve(dir string) string {
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir)
	}

	return filepath.Join(s.workspaceDir, dir)
}

// skippedBoardPath reports whether a match lies in a build or git folder.
func skippedBoardPath(match string) bool {
	dirs := strings.Split(path.Dir(match), "/")

	for _, dir := range dirs {
		if strings.Contains(dir, "build") || strings.Contains(dir, ".git") {
			return true
		}
	}

	return false
}
