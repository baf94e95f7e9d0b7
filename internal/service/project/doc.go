// Package project manages the projects of a workspace and turns the build
// commands into queued jobs for the active project.
package project
