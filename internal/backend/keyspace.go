package backend

import (
	"path"
	"strings"
)

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "kvsql"

// Key purposes within a table namespace.
const (
	PurposeRows       = "rows"
	PurposeID         = "id"
	PurposeLastChange = "lastchange"
	PurposeCache      = "rsql.kh"
)

// Keyspace names backend keys as <prefix>.<table>.<purpose>.
type Keyspace struct {
	Prefix string
}

// NewKeyspace returns a Keyspace, defaulting an empty prefix.
func NewKeyspace(prefix string) Keyspace {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Keyspace{Prefix: prefix}
}

// Key returns <prefix>.<table>.<purpose>.
func (k Keyspace) Key(table, purpose string) string {
	return k.Prefix + "." + table + "." + purpose
}

// Rows is the hash holding a table's rows, keyed by id.
func (k Keyspace) Rows(table string) string { return k.Key(table, PurposeRows) }

// ID is the table's id counter.
func (k Keyspace) ID(table string) string { return k.Key(table, PurposeID) }

// LastChange is the table's change watermark.
func (k Keyspace) LastChange(table string) string { return k.Key(table, PurposeLastChange) }

// Cache is the key of a cache entry scoped to table.
func (k Keyspace) Cache(table, key string) string {
	return k.Key(table, PurposeCache+"."+table+"."+key)
}

// CachePattern matches every cache entry of table.
func (k Keyspace) CachePattern(table string) string {
	return k.Cache(table, "*")
}

// Match reports whether key matches a glob pattern. '*' matches any run
// of characters including '.', '?' matches one character and [...]
// matches a class. A malformed pattern matches nothing.
func Match(pattern, key string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	// path.Match treats '/' as a separator; keys never contain one that
	// matters, so swap it out for a byte that cannot occur in a pattern.
	const sep = "\x00"
	ok, err := path.Match(
		strings.ReplaceAll(pattern, "/", sep),
		strings.ReplaceAll(key, "/", sep),
	)
	return err == nil && ok
}
