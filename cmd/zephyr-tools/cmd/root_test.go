package cmd

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/zephyr-tools/internal/config"
)

// execute runs the root command with args and returns its output.
// The root command is shared, so callers must not run in parallel.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out strings.Builder

	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)

	err := rootCmd.Execute()

	return out.String(), err
}

// TestRootCommand_Registered exposes every workspace and toolchain command.
func TestRootCommand_Registered(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{
		"setup", "install-sdk", "list-sdk", "set-sdk", "init-repo", "add-project",
		"set-project", "auto-select", "select-for-file", "change-board", "change-runner",
		"build", "build-pristine", "flash", "clean", "update", "status", "env", "reset",
		"serve", "remote",
	} {
		require.True(t, names[name], name)
	}
}

// TestRootCommand_StatusAndAutoSelect persists a workspace preference and reports it.
func TestRootCommand_StatusAndAutoSelect(t *testing.T) {
	root := t.TempDir()
	workspace := t.TempDir()
	cfgPath := filepath.Join(root, "zephyr-tools.yaml")

	require.NoError(t, config.Save(cfgPath, &config.Config{ToolsDir: filepath.Join(root, "tools")}))

	flags := []string{"--config", cfgPath, "--workspace", workspace, "--log-level", "error"}

	_, err := execute(t, append(flags, "auto-select", "on")...)
	require.NoError(t, err)

	out, err := execute(t, append(flags, "status")...)
	require.NoError(t, err)
	require.Contains(t, out, "Setup:")
	require.Regexp(t, `Auto select:\s+true`, out)

	_, err = execute(t, append(flags, "auto-select", "maybe")...)
	require.ErrorIs(t, err, errOnOff)

	_, err = execute(t, append(flags, "build")...)
	require.Error(t, err)
}

// TestRootCommand_ListSDKWithoutManifests points at the manifest directory when it is empty.
func TestRootCommand_ListSDKWithoutManifests(t *testing.T) {
	root := t.TempDir()
	cfgPath := filepath.Join(root, "zephyr-tools.yaml")
	manifestDir := filepath.Join(root, "manifests")

	require.NoError(t, config.Save(cfgPath, &config.Config{
		ToolsDir:    filepath.Join(root, "tools"),
		ManifestDir: manifestDir,
	}))

	out, err := execute(t, "--config", cfgPath, "--workspace", t.TempDir(), "--log-level", "error", "list-sdk")
	require.NoError(t, err)
	require.Contains(t, out, "No release manifests in "+manifestDir)
	require.Contains(t, out, "VERSION")
}
