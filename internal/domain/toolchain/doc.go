// Package toolchain contains core domain types for provisioning the SDK and
// driving the meta build tool.
//
// It defines the download descriptors produced from checksum manifests, the
// persisted global and workspace records, project records and the shell
// environment overlay, with Clone helpers to avoid leaking internal references.
package toolchain
