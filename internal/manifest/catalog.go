package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Extension is the manifest file extension.
const Extension = ".sum"

// Catalog reads manifests from a directory.
type Catalog struct {
	dir string
}

// NewCatalog creates a catalog over dir.
func NewCatalog(dir string) *Catalog {
	return &Catalog{dir: filepath.Clean(dir)}
}

// Dir returns the directory the manifests are read from.
func (c *Catalog) Dir() string {
	return c.dir
}

// Versions lists the installable versions, oldest first.
// A missing directory yields no versions.
func (c *Catalog) Versions() ([]string, error) {
	if _, err := os.Stat(c.dir); os.IsNotExist(err) {
		return nil, nil
	}

	matches, err := doublestar.Glob(os.DirFS(c.dir), "*"+Extension)
	if err != nil {
		return nil, fmt.Errorf("list manifests: %w", err)
	}

	versions := make([]string, 0, len(matches))
	for _, match := range matches {
		versions = append(versions, strings.TrimSuffix(match, Extension))
	}

	slices.SortFunc(versions, CompareVersions)

	return versions, nil
}

// Read returns the manifest text of a version.
func (c *Catalog) Read(version string) (string, error) {
	if version == "" || strings.ContainsAny(version, `/\`) {
		return "", fmt.Errorf("invalid version %q", version)
	}

	data, err := os.ReadFile(filepath.Join(c.dir, version+Extension))
	if err != nil {
		return "", fmt.Errorf("read manifest %s: %w", version, err)
	}

	return string(data), nil
}

// CompareVersions orders dotted versions numerically, falling back to a
// string comparison for non-numeric parts.
func CompareVersions(a, b string) int {
	left := strings.Split(a, ".")
	right := strings.Split(b, ".")

	for i := range max(len(left), len(right)) {
		if i >= len(left) {
			return -1
		}

		if i >= len(right) {
			return 1
		}

		l, lErr := strconv.Atoi(left[i])
		r, rErr := strconv.Atoi(right[i])

		switch {
		case lErr == nil && rErr == nil && l != r:
			if l < r {
				return -1
			}

			return 1
		case (lErr != nil || rErr != nil) && left[i] != right[i]:
			return strings.Compare(left[i], right[i])
		}
	}

	return 0
}
