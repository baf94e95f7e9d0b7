// Package common holds helpers shared by the command services: loading the
// persisted records, checking command preconditions and describing the
// local actor.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
