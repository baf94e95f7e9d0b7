package integration

import (
	"context"
	"crypto/md5" //nolint:gosec // Release manifests use MD5.
	"encoding/hex"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/zephyr-tools/internal/archive"
	"github.com/oshokin/zephyr-tools/internal/config"
	"github.com/oshokin/zephyr-tools/internal/domain/toolchain"
	"github.com/oshokin/zephyr-tools/internal/download"
	"github.com/oshokin/zephyr-tools/internal/provision"
	"github.com/oshokin/zephyr-tools/internal/queue"
	"github.com/oshokin/zephyr-tools/internal/report"
	"github.com/oshokin/zephyr-tools/internal/repository/state"
	"github.com/oshokin/zephyr-tools/internal/service/project"
	"github.com/oshokin/zephyr-tools/internal/service/sdk"
	"github.com/oshokin/zephyr-tools/internal/service/setup"
	"github.com/oshokin/zephyr-tools/internal/shell"
)

const (
	sdkVersion  = "0.16.8"
	minimalFile = "zephyr-sdk-" + sdkVersion + "_linux-x86_64_minimal.tar.xz"
	overlayFile = "toolchain_linux-x86_64_arm-zephyr-eabi.tar.xz"
)

// scriptedRunner stands in for the shell: it records every command with its
// environment and answers version probes and west list queries.
type scriptedRunner struct {
	mu  sync.Mutex
	ran []shell.Command
}

func (r *scriptedRunner) Run(_ context.Context, cmd shell.Command) (*shell.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ran = append(r.ran, cmd)

	switch {
	case strings.HasSuffix(cmd.Line, "python3 --version"):
		return &shell.Result{Output: "Python 3.12.1\n"}, nil
	case strings.HasPrefix(cmd.Line, "west list"):
		return &shell.Result{Output: "zephyr\n"}, nil
	default:
		return &shell.Result{}, nil
	}
}

// find returns the last recorded command starting with prefix.
func (r *scriptedRunner) find(prefix string) (shell.Command, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.ran) - 1; i >= 0; i-- {
		if strings.HasPrefix(r.ran[i].Line, prefix) {
			return r.ran[i], true
		}
	}

	return shell.Command{}, false
}

// releaseServer serves SDK archives and counts requests per file.
type releaseServer struct {
	url    string
	bodies map[string][]byte
	hits   map[string]*atomic.Int32
}

func startReleaseServer(t *testing.T) *releaseServer {
	t.Helper()

	rs := &releaseServer{
		bodies: map[string][]byte{
			minimalFile: []byte("minimal sdk archive"),
			overlayFile: []byte("arm toolchain archive"),
		},
		hits: map[string]*atomic.Int32{
			minimalFile: {},
			overlayFile: {},
		},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := filepath.Base(r.URL.Path)

		counter, ok := rs.hits[name]
		if !ok {
			http.NotFound(w, r)

			return
		}

		counter.Add(1)
		_, _ = w.Write(rs.bodies[name])
	}))
	t.Cleanup(srv.Close)

	rs.url = srv.URL

	return rs
}

// manifest renders a checksum manifest for the served archives.
func (rs *releaseServer) manifest() string {
	var b strings.Builder

	for _, name := range []string{minimalFile, overlayFile} {
		sum := md5.Sum(rs.bodies[name]) //nolint:gosec // Release manifests use MD5.
		b.WriteString(hex.EncodeToString(sum[:]) + "  " + name + "\n")
	}

	return b.String()
}

// environment wires every service the way the CLI does, against temporary
// directories and a scripted shell.
type environment struct {
	cfg       *config.Config
	workspace string
	repo      *state.FileRepository
	runner    *scriptedRunner
	queue     *queue.Queue
	recorder  *report.Recorder

	setup   *setup.Service
	sdk     *sdk.Service
	project *project.Service
}

func newEnvironment(t *testing.T, release *releaseServer) *environment {
	t.Helper()

	root := t.TempDir()
	toolsDir := filepath.Join(root, ".zephyrtools")
	workspace := filepath.Join(root, "workspace")

	// Persist settings the way a user would and read them back.
	cfgPath := filepath.Join(root, "zephyr-tools.yaml")
	require.NoError(t, config.Save(cfgPath, &config.Config{
		ToolsDir:       toolsDir,
		ReleaseBaseURL: release.url,
		Python:         "python3",
		Timeout:        5 * time.Second,
	}))

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)

	// Publish the manifest of the served release.
	require.NoError(t, os.MkdirAll(cfg.ManifestDir, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(cfg.ManifestDir, sdkVersion+".sum"), []byte(release.manifest()), 0o600))

	require.NoError(t, os.MkdirAll(workspace, 0o755))

	repo, err := state.NewFileRepository(cfg.ToolsDir, workspace)
	require.NoError(t, err)

	runner := &scriptedRunner{}
	recorder := &report.Recorder{}
	q := queue.New(context.Background(), runner, queue.WithReporter(recorder))

	driver := provision.New(cfg, repo,
		download.New(filepath.Join(cfg.ToolsDir, provision.DownloadsFolder)),
		archive.NewInstaller(runner, cfg.TarBinary, cfg.SevenZipBinary),
		provision.WithPlatform(toolchain.PlatformLinux, toolchain.ArchX8664),
		provision.WithReporter(recorder),
	)

	return &environment{
		cfg:       cfg,
		workspace: workspace,
		repo:      repo,
		runner:    runner,
		queue:     q,
		recorder:  recorder,
		setup:     setup.New(cfg, repo, runner, q),
		sdk:       sdk.New(repo, driver),
		project:   project.New(cfg, workspace, repo, runner, q),
	}
}

// wait blocks until batch finishes and returns its result.
func wait(t *testing.T, batch *queue.Batch) *queue.Result {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := batch.Wait(ctx)
	require.NoError(t, err)

	return result
}

// writeFile creates a file below the workspace.
func (e *environment) writeFile(t *testing.T, rel, contents string) {
	t.Helper()

	p := filepath.Join(e.workspace, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(contents), 0o600))
}

// reservePort finds a free TCP port on localhost for test servers.
func reservePort(t *testing.T) string {
	t.Helper()

	l, err := (&net.ListenConfig{}).Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := l.Addr().String()
	_ = l.Close()

	return addr
}
