// Package sdk lists, installs and selects toolchain versions.
package sdk
