package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/oshokin/zephyr-tools/internal/archive"
	"github.com/oshokin/zephyr-tools/internal/config"
	"github.com/oshokin/zephyr-tools/internal/domain/toolchain"
	"github.com/oshokin/zephyr-tools/internal/download"
	"github.com/oshokin/zephyr-tools/internal/logger"
	"github.com/oshokin/zephyr-tools/internal/manifest"
	"github.com/oshokin/zephyr-tools/internal/report"
	"github.com/oshokin/zephyr-tools/internal/repository/state"
)

// Stage is a step of the provisioning pipeline.
type Stage string

// Pipeline stages in the order they are reported. Any stage may move to StageFailed.
const (
	StageResolved    Stage = "resolved"
	StageDownloading Stage = "downloading"
	StageVerifying   Stage = "verifying"
	StageExtracting  Stage = "extracting"
	StagePostInstall Stage = "post-install"
	StageComplete    Stage = "complete"
	StageFailed      Stage = "failed"
)

// Progress increments reported at stage boundaries. Each descriptor adds
// the four per-artifact increments.
const (
	resolvedIncrement    = 10
	downloadingIncrement = 10
	verifyingIncrement   = 10
	extractingIncrement  = 15
	postInstallIncrement = 5
	completeIncrement    = 10
)

const (
	stateDirPermissions = 0o755
	// DownloadsFolder is the cache directory below the tools directory.
	DownloadsFolder = "downloads"
)

// ErrPipelineBusy is returned when another installation is in progress.
var ErrPipelineBusy = errors.New("another toolchain installation is in progress")

// StageError tags a pipeline failure with the stage it happened in.
type StageError struct {
	Stage Stage
	Err   error
}

// Error implements error.
func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error {
	return e.Err
}

// Outcome describes a completed installation.
type Outcome struct {
	Version     string
	InstallPath string
	Descriptors []*toolchain.Descriptor
}

// Driver runs provisioning pipelines. One pipeline runs at a time per
// driver, and the run marker extends that to other processes sharing the
// tools directory.
type Driver struct {
	toolsDir     string
	baseURL      string
	targetTriple string
	platform     toolchain.Platform
	arch         toolchain.Arch

	catalog    *manifest.Catalog
	downloader *download.Downloader
	installer  *archive.Installer
	repo       state.Repository
	reporter   report.Reporter

	mu sync.Mutex
}

// Option customizes a Driver.
type Option func(*Driver)

// WithReporter sets where progress and messages are reported.
func WithReporter(r report.Reporter) Option {
	return func(d *Driver) {
		d.reporter = r
	}
}

// WithPlatform overrides the platform and architecture used for manifest lookups.
func WithPlatform(platform toolchain.Platform, arch toolchain.Arch) Option {
	return func(d *Driver) {
		d.platform = platform
		d.arch = arch
	}
}

// New creates a driver from validated settings.
func New(
	cfg *config.Config,
	repo state.Repository,
	downloader *download.Downloader,
	installer *archive.Installer,
	options ...Option,
) *Driver {
	d := &Driver{
		toolsDir:     cfg.ToolsDir,
		baseURL:      cfg.ReleaseBaseURL,
		targetTriple: cfg.TargetTriple,
		catalog:      manifest.NewCatalog(cfg.ManifestDir),
		downloader:   downloader,
		installer:    installer,
		repo:         repo,
		reporter:     report.Log{},
	}

	for _, option := range options {
		option(d)
	}

	return d
}

// Catalog returns the manifest catalog the driver installs from.
func (d *Driver) Catalog() *manifest.Catalog {
	return d.catalog
}

// InstallPath returns where a version is installed.
func (d *Driver) InstallPath(version string) string {
	return filepath.Join(d.toolsDir, filepath.FromSlash(manifest.InstallName(version)))
}

// Install runs the whole pipeline for version. On success the toolchain
// path table and the workspace selection are updated; on failure the
// persisted records are left as they were.
func (d *Driver) Install(ctx context.Context, version string) (*Outcome, error) {
	if !d.mu.TryLock() {
		return nil, ErrPipelineBusy
	}
	defer d.mu.Unlock()

	ctx = logger.WithKV(logger.WithName(ctx, "provision"), "version", version)

	release, err := acquireMarker(ctx, MarkerPath(d.toolsDir))
	if err != nil {
		return nil, d.fail(ctx, &StageError{Stage: StageResolved, Err: err})
	}
	defer release()

	outcome, err := d.run(ctx, version)
	if err != nil {
		return nil, d.fail(ctx, err)
	}

	d.progress(ctx, StageComplete, completeIncrement, "Installed zephyr-sdk-"+version)
	logger.InfoKV(ctx, "Toolchain installed", "path", outcome.InstallPath)

	return outcome, nil
}

func (d *Driver) run(ctx context.Context, version string) (*Outcome, error) {
	global, err := d.repo.LoadGlobal(ctx)
	if err != nil {
		return nil, &StageError{Stage: StageResolved, Err: err}
	}

	workspace, err := d.repo.LoadWorkspace(ctx)
	if err != nil {
		return nil, &StageError{Stage: StageResolved, Err: err}
	}

	resolution, err := d.resolve(version, global)
	if err != nil {
		return nil, &StageError{Stage: StageResolved, Err: err}
	}

	d.progress(ctx, StageResolved, resolvedIncrement, "Resolved zephyr-sdk-"+version)

	env := toolchain.ShellEnvironment(os.Environ(), global, workspace)
	descriptors := resolution.Descriptors()

	for _, desc := range descriptors {
		if err = d.provision(ctx, desc, env); err != nil {
			return nil, err
		}
	}

	outcome := &Outcome{
		Version:     version,
		InstallPath: d.InstallPath(version),
		Descriptors: descriptors,
	}

	if err = d.record(ctx, outcome); err != nil {
		return nil, &StageError{Stage: StageComplete, Err: err}
	}

	return outcome, nil
}

// resolve reads the version manifest and selects the descriptors for the
// configured platform.
func (d *Driver) resolve(version string, global *toolchain.GlobalConfig) (*manifest.Resolution, error) {
	platform, arch, err := d.hostPlatform(global)
	if err != nil {
		return nil, err
	}

	text, err := d.catalog.Read(version)
	if err != nil {
		return nil, err
	}

	return manifest.ResolveText(text, manifest.Request{
		Version:      version,
		Platform:     platform,
		Arch:         arch,
		TargetTriple: d.targetTriple,
		BaseURL:      d.baseURL,
	})
}

// hostPlatform prefers the override, then the recorded platform, then the running host.
func (d *Driver) hostPlatform(global *toolchain.GlobalConfig) (toolchain.Platform, toolchain.Arch, error) {
	switch {
	case d.platform != "" && d.arch != "":
		return d.platform, d.arch, nil
	case global.Platform != "" && global.Arch != "":
		return global.Platform, global.Arch, nil
	default:
		return toolchain.HostPlatform()
	}
}

// provision downloads, verifies, extracts and post-installs one descriptor.
func (d *Driver) provision(ctx context.Context, desc *toolchain.Descriptor, env []string) error {
	ctx = logger.WithKV(ctx, "artifact", desc.LocalFilename)

	archivePath, err := d.acquire(ctx, desc)
	if err != nil {
		return err
	}

	d.progress(ctx, StageExtracting, extractingIncrement, "Extracting "+desc.LocalFilename)

	target, err := d.installer.Extract(ctx, desc, archivePath, d.toolsDir)
	if err != nil {
		return &StageError{Stage: StageExtracting, Err: err}
	}

	d.progress(ctx, StagePostInstall, postInstallIncrement, "Configuring "+desc.Name)

	if err = d.installer.PostInstall(ctx, desc, target, env); err != nil {
		return &StageError{Stage: StagePostInstall, Err: err}
	}

	return nil
}

// acquire returns a verified local archive. A valid cached file is reused;
// otherwise the archive is fetched once and a mismatch after that is final.
func (d *Driver) acquire(ctx context.Context, desc *toolchain.Descriptor) (string, error) {
	filename := desc.LocalFilename
	if filename == "" {
		name, err := download.LocalFilename(desc.URL)
		if err != nil {
			return "", &StageError{Stage: StageDownloading, Err: err}
		}

		filename = name
	}

	if cached, ok := d.downloader.Exists(filename); ok {
		valid, err := d.downloader.Check(filename, desc.ExpectedChecksum)
		if err != nil {
			return "", &StageError{Stage: StageVerifying, Err: err}
		}

		if valid {
			logger.InfoKV(ctx, "Using cached archive", "path", cached)
			d.progress(ctx, StageDownloading, downloadingIncrement, "Using cached "+filename)
			d.progress(ctx, StageVerifying, verifyingIncrement, "Verified "+filename)

			return cached, nil
		}

		logger.WarnKV(ctx, "Cached archive does not match its checksum, fetching again", "path", cached)
	}

	d.progress(ctx, StageDownloading, downloadingIncrement, "Downloading "+desc.URL)

	fetched, err := d.downloader.Fetch(ctx, desc.URL)
	if err != nil {
		return "", &StageError{Stage: StageDownloading, Err: err}
	}

	if err = d.downloader.Verify(filepath.Base(fetched), desc.ExpectedChecksum); err != nil {
		return "", &StageError{Stage: StageVerifying, Err: err}
	}

	d.progress(ctx, StageVerifying, verifyingIncrement, "Verified "+filename)

	return fetched, nil
}

// record stores the install path and selects the version for the workspace.
func (d *Driver) record(ctx context.Context, outcome *Outcome) error {
	var (
		previous  string
		hadBefore bool
	)

	_, err := d.repo.UpdateGlobal(ctx, func(g *toolchain.GlobalConfig) error {
		previous, hadBefore = g.Toolchains[outcome.Version]

		if g.Platform == "" || g.Arch == "" {
			platform, arch, err := d.hostPlatform(g)
			if err != nil {
				return err
			}

			g.Platform, g.Arch = platform, arch
		}

		g.Toolchains[outcome.Version] = outcome.InstallPath

		return nil
	})
	if err != nil {
		return err
	}

	_, err = d.repo.UpdateWorkspace(ctx, func(w *toolchain.WorkspaceConfig) error {
		w.SelectedToolchain = outcome.Version

		return nil
	})
	if err == nil {
		return nil
	}

	// Keep the two records consistent when the workspace cannot be saved.
	_, rollbackErr := d.repo.UpdateGlobal(ctx, func(g *toolchain.GlobalConfig) error {
		if hadBefore {
			g.Toolchains[outcome.Version] = previous
		} else {
			delete(g.Toolchains, outcome.Version)
		}

		return nil
	})
	if rollbackErr != nil {
		logger.ErrorKV(ctx, "Unable to roll back toolchain record", "error", rollbackErr)
	}

	return err
}

func (d *Driver) progress(ctx context.Context, stage Stage, increment int, message string) {
	logger.DebugKV(ctx, "Pipeline stage", "stage", stage)
	report.Progress(ctx, d.reporter, string(stage), increment, message)
}

// fail logs the full error, reports the failure and returns err.
func (d *Driver) fail(ctx context.Context, err error) error {
	var (
		stage    = StageFailed
		cause    = err
		stageErr *StageError
	)

	if errors.As(err, &stageErr) {
		stage, cause = stageErr.Stage, stageErr.Err
	}

	logger.ErrorKV(ctx, "Toolchain installation failed", "stage", stage, "error", err)
	report.Progress(ctx, d.reporter, string(StageFailed), 0, "Installation failed")
	report.Error(ctx, d.reporter, fmt.Sprintf("Toolchain installation failed during %s: %v", stage, cause))

	return err
}
