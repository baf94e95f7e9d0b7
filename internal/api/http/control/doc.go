// Package control exposes the local HTTP control API used by an editor host.
//
// The API queues build, flash and update batches, reports queue and
// workspace status and lets the caller cancel queued work. A small client is
// provided for commands that talk to a running `serve` process.
package control
