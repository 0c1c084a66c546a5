// Package store provides SQLite-backed persistence for the feed page cache.
//
// Each row holds the JSON-encoded first page of one feed view together with
// its expiry. Rows past their expiry are never returned by Load; Prune
// removes them.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// The schema is embedded and versioned through PRAGMA user_version.
package store
