// Package manifest turns SDK checksum manifests into download descriptors.
//
// A manifest is a <version>.sum file with one "<md5>  <filename>" entry per
// line. Resolution picks the minimal base package and the architecture
// overlay package for a platform and fails unless both are present.
package manifest
