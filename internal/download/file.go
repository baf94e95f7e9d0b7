package download

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
)

// FileFetcher copies from the local filesystem, for offline mirrors.
type FileFetcher struct{}

// Fetch implements Fetcher.
func (FileFetcher) Fetch(_ context.Context, u *url.URL, w io.Writer) error {
	f, err := os.Open(filepath.FromSlash(u.Path))
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck // Read-only handle.

	_, err = io.Copy(w, f)

	return err
}
