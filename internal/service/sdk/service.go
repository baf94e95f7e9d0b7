package sdk

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/oshokin/zephyr-tools/internal/domain/toolchain"
	"github.com/oshokin/zephyr-tools/internal/logger"
	"github.com/oshokin/zephyr-tools/internal/manifest"
	"github.com/oshokin/zephyr-tools/internal/provision"
	"github.com/oshokin/zephyr-tools/internal/repository/state"
	"github.com/oshokin/zephyr-tools/internal/service/common"
)

var (
	// ErrNotInstalled is returned when selecting a version that is not installed.
	ErrNotInstalled = errors.New("toolchain version is not installed")
	// ErrUnknownVersion is returned for versions without a manifest.
	ErrUnknownVersion = errors.New("no manifest for toolchain version")
)

// Version describes one toolchain version.
type Version struct {
	Version     string `json:"version"`
	Available   bool   `json:"available"`
	Installed   bool   `json:"installed"`
	Selected    bool   `json:"selected"`
	InstallPath string `json:"install_path,omitempty"`
}

// Service implements the toolchain commands.
type Service struct {
	repo   state.Repository
	driver *provision.Driver
}

// New creates the service.
func New(repo state.Repository, driver *provision.Driver) *Service {
	return &Service{repo: repo, driver: driver}
}

// List merges the installable and the installed versions, oldest first.
func (s *Service) List(ctx context.Context) ([]Version, error) {
	session, err := common.Load(ctx, s.repo)
	if err != nil {
		return nil, err
	}

	available, err := s.driver.Catalog().Versions()
	if err != nil {
		return nil, err
	}

	byVersion := make(map[string]*Version)

	for _, v := range available {
		byVersion[v] = &Version{Version: v, Available: true}
	}

	for v, p := range session.Global.Toolchains {
		entry, ok := byVersion[v]
		if !ok {
			entry = &Version{Version: v}
			byVersion[v] = entry
		}

		entry.Installed = true
		entry.InstallPath = p
	}

	versions := make([]Version, 0, len(byVersion))
	for _, entry := range byVersion {
		entry.Selected = entry.Version == session.Workspace.SelectedToolchain
		versions = append(versions, *entry)
	}

	slices.SortFunc(versions, func(a, b Version) int {
		return manifest.CompareVersions(a.Version, b.Version)
	})

	return versions, nil
}

// Install runs the provisioning pipeline for version.
func (s *Service) Install(ctx context.Context, version string) (*provision.Outcome, error) {
	session, err := common.Load(ctx, s.repo)
	if err != nil {
		return nil, err
	}

	if err = session.RequireSetup(); err != nil {
		return nil, err
	}

	available, err := s.driver.Catalog().Versions()
	if err != nil {
		return nil, err
	}

	if !slices.Contains(available, version) {
		return nil, fmt.Errorf("%s: %w in %s", version, ErrUnknownVersion, s.driver.Catalog().Dir())
	}

	return s.driver.Install(ctx, version)
}

// Set selects an installed version for the workspace.
func (s *Service) Set(ctx context.Context, version string) error {
	global, err := s.repo.LoadGlobal(ctx)
	if err != nil {
		return err
	}

	if _, ok := global.Toolchains[version]; !ok {
		return fmt.Errorf("%s: %w", version, ErrNotInstalled)
	}

	_, err = s.repo.UpdateWorkspace(ctx, func(w *toolchain.WorkspaceConfig) error {
		w.SelectedToolchain = version

		return nil
	})
	if err != nil {
		return err
	}

	logger.InfoKV(ctx, "Toolchain selected", "version", version)

	return nil
}
