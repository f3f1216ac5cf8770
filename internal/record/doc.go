// Package record is the record store: tables of schema-free rows persisted
// in a backend.Backend, the Record type that wraps one row, and the lazy
// Collection that queries them.
//
// A Registry binds tables to backends and carries every piece of shared
// state (clock, logger, default hooks, scopes, named relations, search
// index). Nothing in this package is global; callers construct a Registry
// and pass it around.
//
// Storage layout per table T, via backend.Keyspace:
//
//	<prefix>.T.rows          hash of id -> JSON attribute object
//	<prefix>.T.id            id counter (atomic Increment)
//	<prefix>.T.lastchange    change watermark, bumped on every write
//	<prefix>.T.rsql.kh.T.*   cache entries (see package cache)
//
// Naming conventions drive relations:
//   - an attribute "<x>_id" makes "<x>" a belongs-to relation on table x
//   - a plural attribute name that is not stored resolves to a has-many
//     relation on the singular table
//   - many-to-many links live in a pivot table named by PivotTable
//
// Collections are lazy and restartable. Every terminal operation (All,
// Count, First, Each, ...) replays the backend scan and the pipeline built
// on top of it.
package record
