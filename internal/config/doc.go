// Package config defines the tool settings shared by every command and
// provides helpers to load, validate and save them in YAML format.
//
// Load layers built-in defaults, an optional YAML file and ZEPHYR_TOOLS_*
// environment variables. Validate fills derived paths such as the manifest
// directory and the diagnostic log file under the tools directory.
package config
