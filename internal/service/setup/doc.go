// Package setup checks the host prerequisites and provisions the isolated
// Python environment the build tool is installed into.
package setup
