package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestValidate checks derived defaults and format validations for Config.
func TestValidate(t *testing.T) {
	t.Parallel()

	err := Validate(nil)
	require.Error(t, err)

	// Derived paths follow the tools directory.
	settings := &Config{ToolsDir: "/opt/zt"}

	require.NoError(t, Validate(settings))
	require.Equal(t, filepath.Join("/opt/zt", "manifests"), settings.ManifestDir)
	require.Equal(t, filepath.Join("/opt/zt", "logs", "zephyr-tools.log"), settings.LogFile)
	require.Equal(t, DefaultReleaseBaseURL, settings.ReleaseBaseURL)
	require.Equal(t, DefaultTargetTriple, settings.TargetTriple)
	require.Equal(t, DefaultTimeout, settings.Timeout)

	// Bad listen address.
	settings = &Config{
		ToolsDir:      "/opt/zt",
		ListenAddress: "bad:address",
	}

	require.Error(t, Validate(settings))

	// Unsupported release scheme.
	settings = &Config{
		ToolsDir:       "/opt/zt",
		ReleaseBaseURL: "ftp://mirror.local/sdk",
	}

	require.ErrorIs(t, Validate(settings), errUnsupportedScheme)

	// S3 mirrors are accepted.
	settings = &Config{
		ToolsDir:       "/opt/zt",
		ReleaseBaseURL: "s3://sdk-mirror/releases",
	}

	require.NoError(t, Validate(settings))
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back correctly.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	settings := &Config{
		ToolsDir:          filepath.Join(dir, "tools"),
		ReleaseBaseURL:    "https://mirror.local/releases",
		DownloadRateLimit: 1 << 20,
		Timeout:           3 * time.Second,
		S3: S3Config{
			Region:         "eu-central-1",
			ForcePathStyle: true,
		},
	}

	require.NoError(t, Save(path, settings))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, settings.ToolsDir, loaded.ToolsDir)
	require.Equal(t, settings.ReleaseBaseURL, loaded.ReleaseBaseURL)
	require.Equal(t, settings.DownloadRateLimit, loaded.DownloadRateLimit)
	require.Equal(t, settings.Timeout, loaded.Timeout)
	require.Equal(t, settings.S3, loaded.S3)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(DefaultFilePermissions), info.Mode().Perm())
}

// TestLoad_MissingExplicitFile ensures an explicit path must exist.
func TestLoad_MissingExplicitFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

// TestLoad_EnvOverride checks that ZEPHYR_TOOLS_* variables win over the file.
func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	require.NoError(t, os.WriteFile(path, []byte("tools_dir: /from/file\ntimeout: 5s\n"), 0o600))

	t.Setenv("ZEPHYR_TOOLS_TOOLS_DIR", filepath.Join(dir, "env"))
	t.Setenv("ZEPHYR_TOOLS_S3_REGION", "us-west-2")

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "env"), loaded.ToolsDir)
	require.Equal(t, "us-west-2", loaded.S3.Region)
	require.Equal(t, 5*time.Second, loaded.Timeout)
}
