// Package storage is the local durable cache of source records.
//
// Drivers:
//   - "memory": process-local map (default)
//   - "file": JSON snapshot + JSON Lines journal, compacted periodically
//   - "sqlite": modernc.org/sqlite database in WAL mode
//
// Only the optimistic coordinator writes to a Store; everything else reads.
package storage
