package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/zephyr-tools/internal/domain/toolchain"
)

func newTestRepository(t *testing.T) (*FileRepository, string, string) {
	t.Helper()

	var (
		toolsDir     = t.TempDir()
		workspaceDir = t.TempDir()
	)

	repo, err := NewFileRepository(toolsDir, workspaceDir)
	require.NoError(t, err)

	return repo, toolsDir, workspaceDir
}

// TestFileRepository_MissingFiles verifies empty records are returned for missing files.
func TestFileRepository_MissingFiles(t *testing.T) {
	t.Parallel()

	repo, _, _ := newTestRepository(t)

	global, err := repo.LoadGlobal(context.Background())
	require.NoError(t, err)
	require.Equal(t, toolchain.NewGlobalConfig(), global)

	workspace, err := repo.LoadWorkspace(context.Background())
	require.NoError(t, err)
	require.Equal(t, toolchain.NewWorkspaceConfig(), workspace)
}

// TestFileRepository_UpdateRoundtrip ensures updates are persisted and loaded back.
func TestFileRepository_UpdateRoundtrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo, toolsDir, workspaceDir := newTestRepository(t)

	_, err := repo.UpdateGlobal(ctx, func(g *toolchain.GlobalConfig) error {
		g.IsSetup = true
		g.Platform = toolchain.PlatformLinux
		g.Arch = toolchain.ArchX8664
		g.Toolchains["0.16"] = "/tools/toolchains/zephyr-sdk-0.16"
		g.Env.PrependPath("/tools/env/bin")
		g.Env.SetVar(toolchain.EnvVirtualEnv, "/tools/env")

		return nil
	})
	require.NoError(t, err)

	_, err = repo.UpdateWorkspace(ctx, func(w *toolchain.WorkspaceConfig) error {
		w.SelectedToolchain = "0.16"
		w.Projects["blinky"] = &toolchain.Project{Name: "blinky", Path: "/ws/blinky", IsInit: true}
		w.SelectedProject = "blinky"

		return nil
	})
	require.NoError(t, err)

	require.FileExists(t, GlobalPath(toolsDir))
	require.FileExists(t, WorkspacePath(workspaceDir))

	// A fresh repository sees the same records.
	reopened, err := NewFileRepository(toolsDir, workspaceDir)
	require.NoError(t, err)

	global, err := reopened.LoadGlobal(ctx)
	require.NoError(t, err)
	require.True(t, global.IsSetup)
	require.Equal(t, map[string]string{"0.16": "/tools/toolchains/zephyr-sdk-0.16"}, global.Toolchains)
	require.Equal(t, []string{"/tools/env/bin"}, global.Env.Path)

	workspace, err := reopened.LoadWorkspace(ctx)
	require.NoError(t, err)
	require.Equal(t, "blinky", workspace.ActiveProject().Name)
	require.True(t, workspace.ActiveProject().IsInit)
}

// TestFileRepository_FailedUpdateKeepsRecord ensures a failing mutation leaves the file untouched.
func TestFileRepository_FailedUpdateKeepsRecord(t *testing.T) {
	t.Parallel()

	var (
		ctx         = context.Background()
		errMutation = errors.New("mutation failed")
	)

	repo, dir, _ := newTestRepository(t)

	_, err := repo.UpdateGlobal(ctx, func(g *toolchain.GlobalConfig) error {
		g.Toolchains["0.15"] = "/t/15"

		return nil
	})
	require.NoError(t, err)

	before, err := os.ReadFile(GlobalPath(dir))
	require.NoError(t, err)

	_, err = repo.UpdateGlobal(ctx, func(g *toolchain.GlobalConfig) error {
		g.Toolchains["0.16"] = "/t/16"

		return errMutation
	})
	require.ErrorIs(t, err, errMutation)

	after, err := os.ReadFile(GlobalPath(dir))
	require.NoError(t, err)
	require.Equal(t, before, after)
}

// TestFileRepository_LegacyWithoutVersion reads records lacking schema_version as version 1.
func TestFileRepository_LegacyWithoutVersion(t *testing.T) {
	t.Parallel()

	repo, dir, _ := newTestRepository(t)

	path := GlobalPath(dir)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("is_setup: true\ntoolchains:\n  \"0.16\": /t/16\n"), 0o600))

	global, err := repo.LoadGlobal(context.Background())
	require.NoError(t, err)
	require.True(t, global.IsSetup)
	require.Equal(t, toolchain.SchemaVersion, global.SchemaVersion)
}

// TestFileRepository_NewerSchemaRefused never overwrites records from a newer release.
func TestFileRepository_NewerSchemaRefused(t *testing.T) {
	t.Parallel()

	repo, dir, _ := newTestRepository(t)

	path := GlobalPath(dir)
	contents := []byte("schema_version: 2\nis_setup: true\n")

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, contents, 0o600))

	_, err := repo.LoadGlobal(context.Background())
	require.ErrorIs(t, err, ErrIncompatibleSchema)

	_, err = repo.UpdateGlobal(context.Background(), func(*toolchain.GlobalConfig) error { return nil })
	require.ErrorIs(t, err, ErrIncompatibleSchema)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, contents, after)
}

// TestFileRepository_InvalidRecord rejects documents failing the JSON schema.
func TestFileRepository_InvalidRecord(t *testing.T) {
	t.Parallel()

	repo, _, workspaceDir := newTestRepository(t)

	path := WorkspacePath(workspaceDir)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("schema_version: 1\nprojects:\n  blinky:\n    board: x\n"), 0o600))

	_, err := repo.LoadWorkspace(context.Background())
	require.ErrorIs(t, err, ErrInvalidRecord)

	// Saving an invalid record is refused as well.
	require.NoError(t, os.Remove(path))

	_, err = repo.UpdateWorkspace(context.Background(), func(w *toolchain.WorkspaceConfig) error {
		w.Projects["nameless"] = &toolchain.Project{}

		return nil
	})
	require.ErrorIs(t, err, ErrInvalidRecord)
	require.NoFileExists(t, path)
}

// TestFileRepository_Reset removes both records and tolerates missing files.
func TestFileRepository_Reset(t *testing.T) {
	t.Parallel()

	repo, dir, _ := newTestRepository(t)

	_, err := repo.UpdateGlobal(context.Background(), func(g *toolchain.GlobalConfig) error {
		g.IsSetup = true

		return nil
	})
	require.NoError(t, err)

	require.NoError(t, repo.Reset(context.Background()))
	require.NoError(t, repo.Reset(context.Background()))
	require.NoFileExists(t, GlobalPath(dir))
}
