package provision

import (
	"context"
	"crypto/md5" //nolint:gosec // Release manifests use MD5.
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/zephyr-tools/internal/archive"
	"github.com/oshokin/zephyr-tools/internal/config"
	"github.com/oshokin/zephyr-tools/internal/domain/toolchain"
	"github.com/oshokin/zephyr-tools/internal/download"
	"github.com/oshokin/zephyr-tools/internal/manifest"
	"github.com/oshokin/zephyr-tools/internal/report"
	"github.com/oshokin/zephyr-tools/internal/repository/state"
	"github.com/oshokin/zephyr-tools/internal/shell"
)

const (
	minimalFile = "zephyr-sdk-0.16_linux-x86_64_minimal.tar.xz"
	overlayFile = "toolchain_linux-x86_64_arm-zephyr-eabi.tar.xz"
)

var errSetupFailed = errors.New("setup.sh failed")

func md5Hex(data []byte) string {
	sum := md5.Sum(data) //nolint:gosec // Release manifests use MD5.

	return hex.EncodeToString(sum[:])
}

// fakeRunner records command lines instead of running them.
type fakeRunner struct {
	mu   sync.Mutex
	ran  []string
	fail string
}

func (f *fakeRunner) Run(_ context.Context, cmd shell.Command) (*shell.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ran = append(f.ran, cmd.Line)

	if f.fail != "" && strings.Contains(cmd.Line, f.fail) {
		return &shell.Result{ExitCode: 1}, errSetupFailed
	}

	return &shell.Result{}, nil
}

// fixture wires a driver to a fake release server.
type fixture struct {
	toolsDir  string
	repo      *state.FileRepository
	runner    *fakeRunner
	recorder  *report.Recorder
	hits      map[string]*atomic.Int32
	bodies    map[string][]byte
	serverURL string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		toolsDir: t.TempDir(),
		runner:   &fakeRunner{},
		recorder: &report.Recorder{},
		bodies: map[string][]byte{
			minimalFile: []byte("minimal sdk"),
			overlayFile: []byte("arm toolchain"),
		},
		hits: map[string]*atomic.Int32{
			minimalFile: {},
			overlayFile: {},
		},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := filepath.Base(r.URL.Path)

		counter, ok := f.hits[name]
		if !ok {
			http.NotFound(w, r)

			return
		}

		counter.Add(1)
		_, _ = w.Write(f.bodies[name])
	}))
	t.Cleanup(srv.Close)

	f.serverURL = srv.URL

	repo, err := state.NewFileRepository(f.toolsDir, t.TempDir())
	require.NoError(t, err)

	f.repo = repo

	return f
}

func (f *fixture) writeManifest(t *testing.T, lines ...string) {
	t.Helper()

	dir := filepath.Join(f.toolsDir, "manifests")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0.16.sum"), []byte(strings.Join(lines, "\n")+"\n"), 0o600))
}

func (f *fixture) validManifest(t *testing.T) {
	t.Helper()

	f.writeManifest(t,
		md5Hex(f.bodies[minimalFile])+"  "+minimalFile,
		md5Hex(f.bodies[overlayFile])+"  "+overlayFile,
	)
}

func (f *fixture) driver(platform toolchain.Platform) *Driver {
	cfg := &config.Config{
		ToolsDir:       f.toolsDir,
		ManifestDir:    filepath.Join(f.toolsDir, "manifests"),
		ReleaseBaseURL: f.serverURL,
		TargetTriple:   config.DefaultTargetTriple,
	}

	return New(cfg, f.repo,
		download.New(filepath.Join(f.toolsDir, DownloadsFolder)),
		archive.NewInstaller(f.runner, "tar", "7z"),
		WithPlatform(platform, toolchain.ArchX8664),
		WithReporter(f.recorder),
	)
}

func (f *fixture) cache(t *testing.T, name string, body []byte) {
	t.Helper()

	dir := filepath.Join(f.toolsDir, DownloadsFolder)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), body, 0o600))
}

// TestDriver_InstallRecordsToolchain runs the full pipeline and records the install path.
func TestDriver_InstallRecordsToolchain(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.validManifest(t)

	outcome, err := f.driver(toolchain.PlatformLinux).Install(context.Background(), "0.16")
	require.NoError(t, err)
	require.Len(t, outcome.Descriptors, 2)
	require.Equal(t, "toolchains/", outcome.Descriptors[0].Name)
	require.True(t, outcome.Descriptors[0].ClearTargetBeforeInstall)
	require.Equal(t, "toolchains/zephyr-sdk-0.16", outcome.Descriptors[1].Name)
	require.False(t, outcome.Descriptors[1].ClearTargetBeforeInstall)

	global, err := f.repo.LoadGlobal(context.Background())
	require.NoError(t, err)
	require.Equal(t,
		map[string]string{"0.16": filepath.Join(f.toolsDir, "toolchains", "zephyr-sdk-0.16")},
		global.Toolchains)
	require.Equal(t, toolchain.PlatformLinux, global.Platform)

	workspace, err := f.repo.LoadWorkspace(context.Background())
	require.NoError(t, err)
	require.Equal(t, "0.16", workspace.SelectedToolchain)

	require.Equal(t, int32(1), f.hits[minimalFile].Load())
	require.Equal(t, int32(1), f.hits[overlayFile].Load())
	require.Len(t, f.runner.ran, 2)
	require.Contains(t, f.runner.ran[0], "-xvf")

	require.Equal(t, []string{
		"resolved",
		"downloading", "verifying", "extracting", "post-install",
		"downloading", "verifying", "extracting", "post-install",
		"complete",
	}, f.recorder.Stages())

	require.NoFileExists(t, MarkerPath(f.toolsDir))
}

// TestDriver_ReusesValidCache never fetches archives whose cached copy verifies.
func TestDriver_ReusesValidCache(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.validManifest(t)
	f.cache(t, minimalFile, f.bodies[minimalFile])
	f.cache(t, overlayFile, f.bodies[overlayFile])

	_, err := f.driver(toolchain.PlatformLinux).Install(context.Background(), "0.16")
	require.NoError(t, err)
	require.Zero(t, f.hits[minimalFile].Load())
	require.Zero(t, f.hits[overlayFile].Load())
}

// TestDriver_SingleRefetchOnMismatch fetches a corrupted archive exactly once and gives up on a second mismatch.
func TestDriver_SingleRefetchOnMismatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.writeManifest(t,
		md5Hex([]byte("what the manifest promises"))+"  "+minimalFile,
		md5Hex(f.bodies[overlayFile])+"  "+overlayFile,
	)
	f.cache(t, minimalFile, []byte("corrupted"))

	_, err := f.driver(toolchain.PlatformLinux).Install(context.Background(), "0.16")

	var mismatch *download.ChecksumMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, md5Hex(f.bodies[minimalFile]), mismatch.Actual)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, StageVerifying, stageErr.Stage)

	require.Equal(t, int32(1), f.hits[minimalFile].Load())
	require.Zero(t, f.hits[overlayFile].Load())
	require.Empty(t, f.runner.ran)
	require.NoFileExists(t, state.GlobalPath(f.toolsDir))

	events := f.recorder.Events()
	require.Equal(t, report.KindError, events[len(events)-1].Kind)
}

// TestDriver_MissingOverlay refuses a partial install before any download.
func TestDriver_MissingOverlay(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.writeManifest(t, md5Hex(f.bodies[minimalFile])+"  "+minimalFile)

	_, err := f.driver(toolchain.PlatformLinux).Install(context.Background(), "0.16")
	require.ErrorIs(t, err, manifest.ErrOverlayNotFound)
	require.Zero(t, f.hits[minimalFile].Load())
}

// TestDriver_PostInstallFailureKeepsState leaves earlier installs untouched when post-install fails.
func TestDriver_PostInstallFailureKeepsState(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	macMinimal := "zephyr-sdk-0.16_macos-x86_64_minimal.tar.xz"
	macOverlay := "toolchain_macos-x86_64_arm-zephyr-eabi.tar.xz"

	f.bodies[macMinimal] = []byte("mac minimal")
	f.bodies[macOverlay] = []byte("mac overlay")
	f.hits[macMinimal] = &atomic.Int32{}
	f.hits[macOverlay] = &atomic.Int32{}

	f.writeManifest(t,
		md5Hex(f.bodies[macMinimal])+"  "+macMinimal,
		md5Hex(f.bodies[macOverlay])+"  "+macOverlay,
	)

	_, err := f.repo.UpdateGlobal(context.Background(), func(g *toolchain.GlobalConfig) error {
		g.Toolchains["0.15"] = "/tools/toolchains/zephyr-sdk-0.15"

		return nil
	})
	require.NoError(t, err)

	f.runner.fail = "setup.sh"

	_, err = f.driver(toolchain.PlatformMacOS).Install(context.Background(), "0.16")
	require.ErrorIs(t, err, errSetupFailed)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, StagePostInstall, stageErr.Stage)

	// The overlay is never fetched after the minimal package fails.
	require.Zero(t, f.hits[macOverlay].Load())

	global, err := f.repo.LoadGlobal(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[string]string{"0.15": "/tools/toolchains/zephyr-sdk-0.15"}, global.Toolchains)
}

// TestDriver_RunMarker refuses to run while a live process owns the marker and reclaims stale ones.
func TestDriver_RunMarker(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.validManifest(t)

	d := f.driver(toolchain.PlatformLinux)

	require.NoError(t, os.WriteFile(MarkerPath(f.toolsDir), []byte(strconv.Itoa(os.Getpid())), 0o600))

	_, err := d.Install(context.Background(), "0.16")
	require.ErrorIs(t, err, ErrPipelineBusy)
	require.Zero(t, f.hits[minimalFile].Load())

	// A marker naming a process that does not exist is stale.
	require.NoError(t, os.WriteFile(MarkerPath(f.toolsDir), []byte(fmt.Sprint(1<<30)), 0o600))

	_, err = d.Install(context.Background(), "0.16")
	require.NoError(t, err)
	require.NoFileExists(t, MarkerPath(f.toolsDir))
}

// TestDriver_Busy rejects a second pipeline while one is running in the same driver.
func TestDriver_Busy(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.validManifest(t)

	d := f.driver(toolchain.PlatformLinux)

	d.mu.Lock()
	_, err := d.Install(context.Background(), "0.16")
	d.mu.Unlock()

	require.ErrorIs(t, err, ErrPipelineBusy)
}
