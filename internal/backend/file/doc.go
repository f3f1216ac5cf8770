// Package file implements backend.Backend on the local filesystem.
//
// Layout: every key is one file under the namespace directory, placed by
// the SHA-256 of the key name:
//
//	<root>/<namespace>/ab/cd/ef/01/<remaining hex>.cache
//
// File content is the JSON envelope of the value, prefixed with
// "<expiry-epoch>%%$$" when the key has a TTL. The envelope records the
// original key name so Keys can list keys without a separate index.
//
// Transactions copy the namespace directory to a sibling snapshot, route
// all I/O to the copy, and swap it in on commit. This makes transactions
// safe but not cheap, and two transactions on one namespace are not
// isolated from each other.
package file
