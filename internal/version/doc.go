// Package version exposes build metadata for zephyr-tools.
//
// Version, Commit and BuildTime are injected via ldflags. Short and Full
// render them for the CLI, UserAgent identifies the tool to release hosts.
package version
