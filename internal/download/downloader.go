package download

import (
	"context"
	"crypto"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	goupdate "github.com/doitdistributed/go-update"
	"golang.org/x/time/rate"

	"github.com/oshokin/zephyr-tools/internal/logger"

	// Ensure MD5 is available for manifest checksums.
	_ "crypto/md5"
)

const (
	// ChecksumFunction is the hash used by release manifests.
	ChecksumFunction crypto.Hash = crypto.MD5

	cacheDirPermissions  = 0o755
	cacheFilePermissions = 0o644
)

// Fetcher streams the resource at u into w.
type Fetcher interface {
	Fetch(ctx context.Context, u *url.URL, w io.Writer) error
}

// Downloader manages the download cache directory.
type Downloader struct {
	dir      string
	fetchers map[string]Fetcher
	limiter  *rate.Limiter
}

// Option customizes a Downloader.
type Option func(*Downloader)

// WithFetcher registers a fetcher for a URL scheme.
func WithFetcher(scheme string, f Fetcher) Option {
	return func(d *Downloader) {
		d.fetchers[scheme] = f
	}
}

// WithRateLimit caps the transfer rate in bytes per second. Zero disables the cap.
func WithRateLimit(bytesPerSecond int64) Option {
	return func(d *Downloader) {
		if bytesPerSecond <= 0 {
			d.limiter = nil

			return
		}

		d.limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), int(bytesPerSecond))
	}
}

// New creates a downloader caching files in dir. HTTP(S) and file URLs are
// supported out of the box.
func New(dir string, options ...Option) *Downloader {
	httpFetcher := NewHTTPFetcher(nil)

	d := &Downloader{
		dir: filepath.Clean(dir),
		fetchers: map[string]Fetcher{
			"http":  httpFetcher,
			"https": httpFetcher,
			"file":  FileFetcher{},
		},
	}

	for _, option := range options {
		option(d)
	}

	return d
}

// Dir returns the cache directory.
func (d *Downloader) Dir() string {
	return d.dir
}

// Exists returns the local path of a cached file.
func (d *Downloader) Exists(filename string) (string, bool) {
	p := filepath.Join(d.dir, filename)

	info, err := os.Stat(p)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}

	return p, true
}

// Check reports whether the cached file hashes to expected.
// An absent file is not an error.
func (d *Downloader) Check(filename, expected string) (bool, error) {
	p, ok := d.Exists(filename)
	if !ok {
		return false, nil
	}

	actual, err := FileChecksum(p)
	if err != nil {
		return false, err
	}

	return strings.EqualFold(actual, strings.TrimSpace(expected)), nil
}

// Verify is Check returning a *ChecksumMismatchError on mismatch.
func (d *Downloader) Verify(filename, expected string) error {
	p, ok := d.Exists(filename)
	if !ok {
		return &ChecksumMismatchError{Filename: filename, Expected: expected, Actual: "<absent>"}
	}

	actual, err := FileChecksum(p)
	if err != nil {
		return err
	}

	if !strings.EqualFold(actual, strings.TrimSpace(expected)) {
		return &ChecksumMismatchError{Filename: filename, Expected: expected, Actual: actual}
	}

	return nil
}

// Fetch streams rawURL into the cache under LocalFilename(rawURL) and returns
// the local path. A stale or partial file of the same name is replaced.
func (d *Downloader) Fetch(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrFetch, err)
	}

	fetcher, ok := d.fetchers[u.Scheme]
	if !ok {
		return "", fmt.Errorf("%s: %w", u.Scheme, ErrUnsupportedScheme)
	}

	filename, err := LocalFilename(rawURL)
	if err != nil {
		return "", err
	}

	if err = os.MkdirAll(d.dir, cacheDirPermissions); err != nil {
		return "", fmt.Errorf("create cache directory: %w", err)
	}

	logger.InfoKV(ctx, "Fetching", "url", rawURL, "file", filename)

	partial, err := os.CreateTemp(d.dir, filename+".*.part")
	if err != nil {
		return "", fmt.Errorf("create partial file: %w", err)
	}

	partialName := partial.Name()
	defer os.Remove(partialName) //nolint:errcheck // Best effort cleanup; absent after a successful placement.

	var w io.Writer = partial
	if d.limiter != nil {
		w = &limitedWriter{ctx: ctx, w: partial, limiter: d.limiter}
	}

	if err = fetcher.Fetch(ctx, u, w); err != nil {
		_ = partial.Close()

		return "", fmt.Errorf("%w: %s: %w", ErrFetch, rawURL, err)
	}

	if err = partial.Close(); err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrFetch, rawURL, err)
	}

	target := filepath.Join(d.dir, filename)
	if err = place(partialName, target); err != nil {
		return "", fmt.Errorf("place %s: %w", filename, err)
	}

	logger.DebugKV(ctx, "Fetched", "path", target)

	return target, nil
}

// place swaps the downloaded file into target using go-update.
func place(source, target string) error {
	// go-update replaces an existing target; make sure there is one.
	if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
		f, createErr := os.Create(target) //nolint:gosec // Target is inside the cache directory.
		if createErr != nil {
			return createErr
		}

		_ = f.Close()
	}

	data, err := os.Open(source) //nolint:gosec // Source is our own partial file.
	if err != nil {
		return err
	}
	defer data.Close() //nolint:errcheck // Read-only handle.

	if err = goupdate.Apply(data, goupdate.Options{
		TargetPath: target,
		TargetMode: cacheFilePermissions,
	}); err != nil {
		return err
	}

	// The backup name differs between platforms and library versions.
	for _, oldFileName := range []string{
		target + ".old",
		filepath.Join(filepath.Dir(target), "."+filepath.Base(target)+".old"),
	} {
		if _, err = os.Stat(oldFileName); err == nil {
			_ = os.Remove(oldFileName)
		}
	}

	return nil
}

// LocalFilename derives the deterministic cache name of a URL: the last path segment.
func LocalFilename(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "", fmt.Errorf("%s: %w", rawURL, errEmptyFilename)
	}

	return name, nil
}

// FileChecksum returns the hex encoded MD5 of a file.
func FileChecksum(p string) (string, error) {
	if !ChecksumFunction.Available() {
		return "", fmt.Errorf("%s: hash function unavailable", ChecksumFunction)
	}

	f, err := os.Open(filepath.Clean(p))
	if err != nil {
		return "", err
	}
	defer f.Close() //nolint:errcheck // Read-only handle.

	hasher := ChecksumFunction.New()
	if _, err = io.Copy(hasher, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// limitedWriter throttles writes with a token bucket of bytes.
type limitedWriter struct {
	ctx     context.Context //nolint:containedctx // Scoped to one transfer.
	w       io.Writer
	limiter *rate.Limiter
}

// Write implements io.Writer.
func (l *limitedWriter) Write(p []byte) (int, error) {
	written := 0

	for len(p) > 0 {
		chunk := min(len(p), l.limiter.Burst())

		if err := l.limiter.WaitN(l.ctx, chunk); err != nil {
			return written, err
		}

		n, err := l.w.Write(p[:chunk])
		written += n

		if err != nil {
			return written, err
		}

		p = p[chunk:]
	}

	return written, nil
}
