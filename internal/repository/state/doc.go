// Package state persists the global and per-workspace records.
//
// The FileRepository stores each record as a YAML file, validates it against
// an embedded JSON schema on every load and save, and refuses files written
// with a newer schema version. Writes go through a temporary file and a
// rename so an interrupted save keeps the previous record.
package state
