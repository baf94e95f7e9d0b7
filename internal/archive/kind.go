package archive

import (
	"fmt"
	"strings"
)

// Kind is a supported archive format.
type Kind int

const (
	// KindZip is a zip archive.
	KindZip Kind = iota + 1
	// KindTar is any tar variant, compressed or not.
	KindTar
	// Kind7z is a 7-zip archive.
	Kind7z
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindZip:
		return "zip"
	case KindTar:
		return "tar"
	case Kind7z:
		return "7z"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// UnsupportedArchiveError is returned for file names of no known format.
type UnsupportedArchiveError struct {
	Filename string
}

// Error implements error.
func (e *UnsupportedArchiveError) Error() string {
	return "unsupported archive format: " + e.Filename
}

// tarSuffixes are the tar variants published for releases.
var tarSuffixes = []string{".tar", ".tar.xz", ".tar.gz", ".tar.bz2", ".tar.zst", ".tgz", ".txz", ".tbz2"} //nolint:gochecknoglobals // Read-only table.

// DetectKind selects the format from the file name.
func DetectKind(filename string) (Kind, error) {
	lower := strings.ToLower(filename)

	switch {
	case strings.HasSuffix(lower, ".zip"):
		return KindZip, nil
	case strings.HasSuffix(lower, ".7z"):
		return Kind7z, nil
	}

	for _, suffix := range tarSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return KindTar, nil
		}
	}

	return 0, &UnsupportedArchiveError{Filename: filename}
}
