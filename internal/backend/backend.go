package backend

import (
	"context"
	"time"
)

// Backend is the storage contract for record tables, id counters and
// cache entries.
//
// Every operation takes a context and returns a *Error on storage failure.
// Missing keys are not errors: Get and HashGet report them via their bool.
type Backend interface {
	// Scalar keys.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, keys ...string) (int64, error)
	Increment(ctx context.Context, key string) (int64, error)
	Decrement(ctx context.Context, key string) (int64, error)

	// Hash keys.
	HashSet(ctx context.Context, key, field, value string) error
	HashGet(ctx context.Context, key, field string) (string, bool, error)
	HashGetAll(ctx context.Context, key string) (map[string]string, error)
	HashDelete(ctx context.Context, key string, fields ...string) (int64, error)
	HashIncrement(ctx context.Context, key, field string, by int64) (int64, error)
	HashKeys(ctx context.Context, key string) ([]string, error)
	HashLen(ctx context.Context, key string) (int64, error)
	HashScan(ctx context.Context, key string, cursor uint64, pattern string, count int64) (ScanPage, error)

	// Set keys.
	SetAdd(ctx context.Context, key string, members ...string) (int64, error)
	SetRemove(ctx context.Context, key string, members ...string) (int64, error)
	SetIsMember(ctx context.Context, key, member string) (bool, error)
	SetMembers(ctx context.Context, key string) ([]string, error)
	Intersect(ctx context.Context, keys ...string) ([]string, error)
	Union(ctx context.Context, keys ...string) ([]string, error)
	Diff(ctx context.Context, keys ...string) ([]string, error)

	// Transactions. Begin while a transaction is open returns ErrTxActive;
	// Commit or Rollback without one returns ErrNoTx.
	BeginTransaction(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// Expiry. ExpiryTimestamp returns the absolute epoch second, or 0 when
	// the key has no expiry or does not exist.
	ExpireAt(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ExpiryTimestamp(ctx context.Context, key string) (int64, error)

	// Keys lists live keys matching a glob pattern (see Match).
	Keys(ctx context.Context, pattern string) ([]string, error)

	// DestroyNamespace removes every key this backend owns.
	DestroyNamespace(ctx context.Context) error

	Close() error
}

// ScanPage is one page of a HashScan.
type ScanPage struct {
	// Cursor resumes the scan; 0 means the scan is complete.
	Cursor uint64

	// Entries are the matching field/value pairs on this page.
	Entries []Entry

	// Total is the number of matching fields in the whole hash, or -1 when
	// the backend cannot report it cheaply.
	Total int64
}

// Entry is a hash field and its value.
type Entry struct {
	Field string
	Value string
}

// Transaction runs fn between BeginTransaction and Commit. If fn returns
// an error, the transaction is rolled back and fn's error is returned
// unchanged. If fn panics, the transaction is rolled back and the panic
// continues.
func Transaction(ctx context.Context, b Backend, fn func(ctx context.Context) error) (err error) {
	if err := b.BeginTransaction(ctx); err != nil {
		return err
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		// Rollback failures are secondary to the error or panic in flight.
		_ = b.Rollback(ctx)
	}()

	if err := fn(ctx); err != nil {
		return err
	}

	if err := b.Commit(ctx); err != nil {
		return err
	}
	committed = true
	return nil
}
