// Package shell runs external command lines through the platform shell.
//
// Output of every run is captured for the caller and mirrored line by line
// into the diagnostic log.
package shell
