// Package store keeps a SQLite history of suite runs.
//
// Each run records its scenarios in input order and each scenario its steps
// in file order, so a stored run reads back exactly as it was reported.
// Writes are idempotent: recording the same run id twice is a no-op.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Schema changes are applied as numbered migrations tracked in
// PRAGMA user_version.
package store
