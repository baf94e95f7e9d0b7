package toolchain

import (
	"errors"
	"fmt"
	"runtime"
)

// Platform is the release naming of an operating system.
type Platform string

// Arch is the release naming of a CPU architecture.
type Arch string

const (
	// PlatformMacOS is the release name of darwin.
	PlatformMacOS Platform = "macos"
	// PlatformLinux is the release name of linux.
	PlatformLinux Platform = "linux"
	// PlatformWindows is the release name of windows.
	PlatformWindows Platform = "windows"

	// ArchX8664 is the release name of amd64.
	ArchX8664 Arch = "x86_64"
	// ArchAArch64 is the release name of arm64.
	ArchAArch64 Arch = "aarch64"
)

var (
	// ErrUnsupportedPlatform is returned for operating systems without SDK releases.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	// ErrUnsupportedArch is returned for architectures without SDK releases.
	ErrUnsupportedArch = errors.New("unsupported architecture")
)

// PlatformFromGOOS maps a GOOS value to its release name.
func PlatformFromGOOS(goos string) (Platform, error) {
	switch goos {
	case "darwin":
		return PlatformMacOS, nil
	case "linux":
		return PlatformLinux, nil
	case "windows":
		return PlatformWindows, nil
	default:
		return "", fmt.Errorf("%s: %w", goos, ErrUnsupportedPlatform)
	}
}

// ArchFromGOARCH maps a GOARCH value to its release name.
func ArchFromGOARCH(goarch string) (Arch, error) {
	switch goarch {
	case "amd64":
		return ArchX8664, nil
	case "arm64":
		return ArchAArch64, nil
	default:
		return "", fmt.Errorf("%s: %w", goarch, ErrUnsupportedArch)
	}
}

// HostPlatform returns the release names of the running host.
func HostPlatform() (Platform, Arch, error) {
	platform, err := PlatformFromGOOS(runtime.GOOS)
	if err != nil {
		return "", "", err
	}

	arch, err := ArchFromGOARCH(runtime.GOARCH)
	if err != nil {
		return "", "", err
	}

	return platform, arch, nil
}

// ParsePlatform validates a user supplied platform name.
func ParsePlatform(s string) (Platform, error) {
	switch p := Platform(s); p {
	case PlatformMacOS, PlatformLinux, PlatformWindows:
		return p, nil
	default:
		return "", fmt.Errorf("%s: %w", s, ErrUnsupportedPlatform)
	}
}

// ParseArch validates a user supplied architecture name.
func ParseArch(s string) (Arch, error) {
	switch a := Arch(s); a {
	case ArchX8664, ArchAArch64:
		return a, nil
	default:
		return "", fmt.Errorf("%s: %w", s, ErrUnsupportedArch)
	}
}
