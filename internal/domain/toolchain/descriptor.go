package toolchain

import "slices"

// ManifestEntry is one line of a checksum manifest.
type ManifestEntry struct {
	// Checksum is the hex encoded MD5 of the release file.
	Checksum string
	// Filename is the release file name as published.
	Filename string
}

// PostInstallCommand is run after an archive has been extracted.
type PostInstallCommand struct {
	// Command is the command line to execute.
	Command string
	// ResolveAgainstInstallDir joins the command path with the install directory.
	ResolveAgainstInstallDir bool
}

// Descriptor is the resolved description of one downloadable and
// installable artifact.
type Descriptor struct {
	// Name is the install path relative to the tools directory.
	Name string
	// URL is where the archive is fetched from.
	URL string
	// ExpectedChecksum is the hex encoded MD5 the archive must match.
	ExpectedChecksum string
	// LocalFilename is the cache file name derived from the URL.
	LocalFilename string
	// ClearTargetBeforeInstall discards prior contents before extraction.
	ClearTargetBeforeInstall bool
	// ClearScope narrows the cleared path to a sub directory of the target.
	// Empty means the whole target directory.
	ClearScope string
	// PostInstall commands run in declared order after extraction.
	PostInstall []PostInstallCommand
}

// Clone returns a deep copy of the descriptor.
func (d *Descriptor) Clone() *Descriptor {
	if d == nil {
		return nil
	}

	cloned := *d
	cloned.PostInstall = slices.Clone(d.PostInstall)

	return &cloned
}
