// Package report carries progress increments and user-facing messages from
// the pipelines to whoever drives them: the terminal, the control API or a test.
package report
