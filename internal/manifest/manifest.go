package manifest

import (
	"bufio"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/oshokin/zephyr-tools/internal/domain/toolchain"
)

// Shape is a release file name template.
type Shape int

const (
	// ShapeMinimal is zephyr-sdk-<version>_<platform>-<arch>_minimal.
	ShapeMinimal Shape = iota + 1
	// ShapeOverlay is toolchain_<platform>-<arch>_<target-triple>.
	ShapeOverlay
)

var (
	// ErrMinimalNotFound is returned when no minimal package matches the platform.
	ErrMinimalNotFound = errors.New("minimal sdk package not found in manifest")
	// ErrOverlayNotFound is returned when no overlay package matches the platform.
	ErrOverlayNotFound = errors.New("architecture toolchain package not found in manifest")
	// ErrMalformedLine is returned for lines that are not "<checksum> <filename>".
	ErrMalformedLine = errors.New("malformed manifest line")
)

//nolint:gochecknoglobals // Compiled once, read-only.
var (
	minimalPattern = regexp.MustCompile(`^zephyr-sdk-(\d[^_]*)_(macos|linux|windows)-(x86_64|aarch64)_minimal$`)
	overlayPattern = regexp.MustCompile(`^toolchain_(macos|linux|windows)-(x86_64|aarch64)_([A-Za-z0-9_-]+)$`)
	checksumFormat = regexp.MustCompile(`^[0-9A-Fa-f]+$`)
)

// compressionSuffixes wrap an inner archive extension.
var compressionSuffixes = map[string]bool{ //nolint:gochecknoglobals // Read-only table.
	".xz":  true,
	".gz":  true,
	".bz2": true,
	".zst": true,
}

// Package is a classified release file name.
type Package struct {
	Shape    Shape
	Version  string
	Platform toolchain.Platform
	Arch     toolchain.Arch
	// Triple is set for overlay packages.
	Triple string
}

// Request selects the packages to resolve.
type Request struct {
	Version      string
	Platform     toolchain.Platform
	Arch         toolchain.Arch
	TargetTriple string
	// BaseURL is the release root; the URL is <BaseURL>/v<Version>/<filename>.
	BaseURL string
}

// Resolution is the outcome of a successful resolution.
type Resolution struct {
	Minimal *toolchain.Descriptor
	Overlay *toolchain.Descriptor
}

// Descriptors returns the descriptors in install order.
func (r *Resolution) Descriptors() []*toolchain.Descriptor {
	return []*toolchain.Descriptor{r.Minimal, r.Overlay}
}

// Parse splits manifest text into entries. Blank lines are skipped.
func Parse(text string) ([]toolchain.ManifestEntry, error) {
	var (
		entries []toolchain.ManifestEntry
		scanner = bufio.NewScanner(strings.NewReader(text))
		lineNo  = 0
	)

	for scanner.Scan() {
		lineNo++

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		if len(fields) != 2 || !checksumFormat.MatchString(fields[0]) {
			return nil, fmt.Errorf("line %d: %w", lineNo, ErrMalformedLine)
		}

		entries = append(entries, toolchain.ManifestEntry{
			Checksum: strings.ToLower(fields[0]),
			// Some manifests mark binary mode with a leading asterisk.
			Filename: strings.TrimPrefix(fields[1], "*"),
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

// BaseName strips the archive extension, including an outer compression
// suffix: a.tar.xz and a.zip both become a.
func BaseName(filename string) string {
	base := path.Base(filename)

	ext := path.Ext(base)
	base = strings.TrimSuffix(base, ext)

	if compressionSuffixes[strings.ToLower(ext)] {
		base = strings.TrimSuffix(base, path.Ext(base))
	}

	return base
}

// Classify matches a release file name against the known shapes.
func Classify(filename string) (Package, bool) {
	base := BaseName(filename)

	if m := minimalPattern.FindStringSubmatch(base); m != nil {
		return Package{
			Shape:    ShapeMinimal,
			Version:  m[1],
			Platform: toolchain.Platform(m[2]),
			Arch:     toolchain.Arch(m[3]),
		}, true
	}

	if m := overlayPattern.FindStringSubmatch(base); m != nil {
		return Package{
			Shape:    ShapeOverlay,
			Platform: toolchain.Platform(m[1]),
			Arch:     toolchain.Arch(m[2]),
			Triple:   m[3],
		}, true
	}

	return Package{}, false
}

// Resolve selects the minimal and overlay descriptors for req.
// The first matching entry of each shape wins.
func Resolve(entries []toolchain.ManifestEntry, req Request) (*Resolution, error) {
	var resolution Resolution

	for _, entry := range entries {
		pkg, ok := Classify(entry.Filename)
		if !ok || pkg.Platform != req.Platform || pkg.Arch != req.Arch {
			continue
		}

		switch {
		case pkg.Shape == ShapeMinimal && pkg.Version == req.Version && resolution.Minimal == nil:
			resolution.Minimal = minimalDescriptor(entry, req)
		case pkg.Shape == ShapeOverlay && pkg.Triple == req.TargetTriple && resolution.Overlay == nil:
			resolution.Overlay = overlayDescriptor(entry, req)
		}
	}

	switch {
	case resolution.Minimal == nil:
		return nil, fmt.Errorf("%s %s-%s: %w", req.Version, req.Platform, req.Arch, ErrMinimalNotFound)
	case resolution.Overlay == nil:
		return nil, fmt.Errorf("%s %s-%s %s: %w", req.Version, req.Platform, req.Arch, req.TargetTriple, ErrOverlayNotFound)
	}

	return &resolution, nil
}

// ResolveText parses and resolves manifest text.
func ResolveText(text string, req Request) (*Resolution, error) {
	entries, err := Parse(text)
	if err != nil {
		return nil, err
	}

	return Resolve(entries, req)
}

// ReleaseURL builds <base>/v<version>/<filename>.
func ReleaseURL(base, version, filename string) string {
	return strings.TrimRight(base, "/") + "/v" + version + "/" + filename
}

// SDKDirName is the directory the minimal package unpacks into.
func SDKDirName(version string) string {
	return "zephyr-sdk-" + version
}

// InstallName is the install path of a version relative to the tools directory.
func InstallName(version string) string {
	return path.Join("toolchains", SDKDirName(version))
}

func minimalDescriptor(entry toolchain.ManifestEntry, req Request) *toolchain.Descriptor {
	d := &toolchain.Descriptor{
		Name:                     "toolchains/",
		URL:                      ReleaseURL(req.BaseURL, req.Version, entry.Filename),
		ExpectedChecksum:         entry.Checksum,
		LocalFilename:            entry.Filename,
		ClearTargetBeforeInstall: true,
		ClearScope:               SDKDirName(req.Version),
	}

	if req.Platform == toolchain.PlatformMacOS {
		d.PostInstall = []toolchain.PostInstallCommand{{
			Command:                  SDKDirName(req.Version) + "/setup.sh -t " + req.TargetTriple,
			ResolveAgainstInstallDir: true,
		}}
	}

	return d
}

func overlayDescriptor(entry toolchain.ManifestEntry, req Request) *toolchain.Descriptor {
	return &toolchain.Descriptor{
		Name:             InstallName(req.Version),
		URL:              ReleaseURL(req.BaseURL, req.Version, entry.Filename),
		ExpectedChecksum: entry.Checksum,
		LocalFilename:    entry.Filename,
	}
}
