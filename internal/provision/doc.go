// Package provision installs a toolchain version end to end: it resolves the
// release manifest, downloads and verifies the archives, extracts them, runs
// the post-install commands and records the install in the persisted state.
package provision
