// Package download keeps a cache directory of fetched release archives.
//
// Files are addressed by name. Check verifies a cached file against an MD5
// checksum and Fetch streams a URL into the cache, replacing whatever file of
// the same name was there. Fetchers are selected by URL scheme: http(s), s3
// mirrors and local file paths.
package download
