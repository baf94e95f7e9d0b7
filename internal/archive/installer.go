package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/oshokin/zephyr-tools/internal/domain/toolchain"
	"github.com/oshokin/zephyr-tools/internal/logger"
	"github.com/oshokin/zephyr-tools/internal/shell"
)

const (
	installDirPermissions = 0o755
	// executablePermissions is applied to every extracted zip entry.
	executablePermissions = 0o755
)

// Installer extracts descriptors' archives under an install root.
type Installer struct {
	runner         shell.Runner
	tarBinary      string
	sevenZipBinary string
}

// NewInstaller creates an installer running external tools with runner.
func NewInstaller(runner shell.Runner, tarBinary, sevenZipBinary string) *Installer {
	if tarBinary == "" {
		tarBinary = "tar"
	}

	if sevenZipBinary == "" {
		sevenZipBinary = "7z"
	}

	return &Installer{
		runner:         runner,
		tarBinary:      tarBinary,
		sevenZipBinary: sevenZipBinary,
	}
}

// TargetDir returns where a descriptor is installed.
func TargetDir(d *toolchain.Descriptor, installRoot string) string {
	return filepath.Join(installRoot, filepath.FromSlash(d.Name))
}

// Install extracts the archive and runs the post-install commands.
func (i *Installer) Install(ctx context.Context, d *toolchain.Descriptor, archivePath, installRoot string, env []string) error {
	target, err := i.Extract(ctx, d, archivePath, installRoot)
	if err != nil {
		return err
	}

	return i.PostInstall(ctx, d, target, env)
}

// Extract prepares the target directory and unpacks the archive into it.
// It returns the target directory.
func (i *Installer) Extract(ctx context.Context, d *toolchain.Descriptor, archivePath, installRoot string) (string, error) {
	kind, err := DetectKind(archivePath)
	if err != nil {
		return "", err
	}

	target := TargetDir(d, installRoot)

	if d.ClearTargetBeforeInstall {
		cleared := target

		if d.ClearScope != "" {
			cleared, err = safeJoin(target, d.ClearScope)
			if err != nil {
				return "", err
			}
		}

		logger.InfoKV(ctx, "Clearing install directory", "path", cleared)

		if err = os.RemoveAll(cleared); err != nil {
			return "", fmt.Errorf("clear %s: %w", cleared, err)
		}
	}

	if err = os.MkdirAll(target, installDirPermissions); err != nil {
		return "", fmt.Errorf("create install directory: %w", err)
	}

	logger.InfoKV(ctx, "Extracting", "archive", archivePath, "kind", kind.String(), "target", target)

	switch kind {
	case KindZip:
		err = extractZip(archivePath, target)
	case KindTar:
		err = i.run(ctx, target, fmt.Sprintf("%s -xvf %s -C %s",
			i.tarBinary, shell.Quote(archivePath), shell.Quote(target)), nil)
	case Kind7z:
		err = i.run(ctx, target, fmt.Sprintf("%s x -y %s %s",
			i.sevenZipBinary, shell.Quote("-o"+target), shell.Quote(archivePath)), nil)
	}

	if err != nil {
		return "", fmt.Errorf("extract %s: %w", filepath.Base(archivePath), err)
	}

	return target, nil
}

// PostInstall runs the descriptor commands in order inside target and stops
// at the first failure.
func (i *Installer) PostInstall(ctx context.Context, d *toolchain.Descriptor, target string, env []string) error {
	for _, cmd := range d.PostInstall {
		line := ResolveCommand(cmd, target)

		logger.InfoKV(ctx, "Running post-install command", "command", line)

		if err := i.run(ctx, target, line, env); err != nil {
			return fmt.Errorf("post-install %q: %w", cmd.Command, err)
		}
	}

	return nil
}

// ResolveCommand joins the executable of a command with the install
// directory when requested. Arguments are kept verbatim.
func ResolveCommand(cmd toolchain.PostInstallCommand, target string) string {
	if !cmd.ResolveAgainstInstallDir {
		return cmd.Command
	}

	executable, args, _ := strings.Cut(strings.TrimSpace(cmd.Command), " ")

	line := shell.Quote(filepath.Join(target, filepath.FromSlash(executable)))
	if args != "" {
		line += " " + args
	}

	return line
}

func (i *Installer) run(ctx context.Context, dir, line string, env []string) error {
	_, err := i.runner.Run(ctx, shell.Command{
		Line: line,
		Dir:  dir,
		Env:  env,
	})

	return err
}

// extractZip unpacks every entry of a zip archive below target.
func extractZip(archivePath, target string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer reader.Close() //nolint:errcheck // Read-only handle.

	for _, entry := range reader.File {
		if err = extractZipEntry(entry, target); err != nil {
			return err
		}
	}

	return nil
}

func extractZipEntry(entry *zip.File, target string) error {
	path, err := safeJoin(target, entry.Name)
	if err != nil {
		return err
	}

	if entry.FileInfo().IsDir() {
		return os.MkdirAll(path, installDirPermissions)
	}

	if err = os.MkdirAll(filepath.Dir(path), installDirPermissions); err != nil {
		return err
	}

	src, err := entry.Open()
	if err != nil {
		return err
	}
	defer src.Close() //nolint:errcheck // Read-only handle.

	//nolint:gosec // Path is validated by safeJoin.
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, executablePermissions)
	if err != nil {
		return err
	}

	//nolint:gosec // Release archives are trusted by checksum.
	if _, err = io.Copy(dst, src); err != nil {
		_ = dst.Close()

		return err
	}

	if err = dst.Close(); err != nil {
		return err
	}

	// OpenFile is subject to the umask.
	return os.Chmod(path, executablePermissions)
}

// safeJoin joins an archive entry name to base, refusing paths that escape it.
func safeJoin(base, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimSpace(name)))
	if clean == "." || clean == "" {
		return "", fmt.Errorf("invalid archive path: %s", name)
	}

	if filepath.IsAbs(clean) {
		return "", fmt.Errorf("absolute archive path: %s", name)
	}

	target := filepath.Join(base, clean)

	rel, err := filepath.Rel(base, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid archive path: %s", name)
	}

	return target, nil
}
