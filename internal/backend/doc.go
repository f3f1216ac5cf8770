// Package backend defines the storage contract every kvsql backend
// satisfies, plus the pieces shared by all implementations: key naming,
// typed errors, glob matching and the transaction helper.
//
// Implementations live in subpackages:
//   - memory: in-process maps, for tests and ephemeral tables
//   - file: one file per key under a hash fan-out directory tree
//   - redis: a networked KV service via go-redis
//   - sqlite: an embedded SQLite database
//
// Only Increment and HashIncrement are required to be atomic under
// concurrent callers. Everything else is last-write-wins.
package backend
