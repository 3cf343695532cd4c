// Package store provides SQLite-backed durable storage for workspace blocks.
//
// It is the persistence layer of the reference remote. Every block is kept
// at its latest version in the blocks table, tombstones included, and every
// accepted version is appended to block_history.
//
// # Write rule
//
// Writes are last-writer-wins on update_at, enforced inside the upsert
// statement itself, so concurrent writers cannot reorder versions. A write
// that is not newer than the stored version is dropped and reported as not
// applied.
//
// # Row format
//
// The data column holds the block in its wire JSON form (package wire), so
// what is read back is exactly what a client would receive. parent_id,
// root_id, type, update_at and delete_at are duplicated into columns for
// filtering and ordering.
//
// # Query order
//
// Every list query is ORDER BY update_at ASC, id COLLATE BINARY ASC, so
// results are identical across runs.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
