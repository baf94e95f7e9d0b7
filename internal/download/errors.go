package download

import (
	"errors"
	"fmt"
)

var (
	// ErrFetch is returned when a transfer does not complete.
	ErrFetch = errors.New("fetch failed")
	// ErrUnsupportedScheme is returned for URLs no fetcher handles.
	ErrUnsupportedScheme = errors.New("unsupported url scheme")
	// errEmptyFilename is returned when no file name can be derived from a URL.
	errEmptyFilename = errors.New("url has no file name")
)

// ChecksumMismatchError is returned when a cached file does not hash to the expected value.
type ChecksumMismatchError struct {
	Filename string
	Expected string
	Actual   string
}

// Error implements error.
func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s, got %s", e.Filename, e.Expected, e.Actual)
}
