// Package storage defines the persistence contract of the authorization
// server: clients, users, authorization codes, access tokens and refresh
// tokens.
//
// The core never holds state of its own. Every Server is constructed with a
// Store and reads and writes exclusively through it, so separate Server
// instances (or tests) with separate stores never interfere.
//
// Adapters must implement ConsumeAuthorizationCode and ConsumeRefreshToken as
// a single atomic get-and-delete: of any number of concurrent callers for the
// same key, exactly one receives the record.
//
// Implementations are provided in subpackages:
//   - storage/memory: mutex guarded maps for development, tests and single instances
//   - storage/sqlstore: gorm backed SQLite or Postgres
//   - storage/valkey: Valkey/Redis-compatible distributed storage
//   - storage/mock: error injecting wrapper for failure tests
//
// storage/storagetest holds the conformance suite all of them run.
package storage
