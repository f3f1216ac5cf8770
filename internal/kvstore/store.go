// Package kvstore is a namespaced key/value store kept as ordinary records
// of the cachestore table, so it lives on whatever backend that table is
// bound to.
//
// Each entry is one row {ns, key, value, ttl} where ttl is the absolute
// expiry in epoch seconds. Entries stored without a TTL expire ten years
// out. Expired rows read as missing and are removed by Clean, which Keys
// and All run at most once an hour.
package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/kvsql/internal/attr"
	"github.com/roach88/kvsql/internal/compare"
	"github.com/roach88/kvsql/internal/record"
)

// TableName is the table holding every namespace.
const TableName = "cachestore"

// DefaultNamespace is used when New is given an empty namespace.
const DefaultNamespace = "core"

const (
	forever    = 10 * 365 * 24 * time.Hour
	cleanEvery = time.Hour
)

// Store is one namespace of the cachestore table.
type Store struct {
	reg *record.Registry
	tbl *record.Table
	ns  string
}

// New returns the store for namespace.
func New(reg *record.Registry, namespace string) *Store {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Store{reg: reg, tbl: reg.Table(TableName), ns: namespace}
}

// Namespace returns the store's namespace.
func (s *Store) Namespace() string {
	return s.ns
}

func (s *Store) rows() *record.Collection {
	return s.tbl.Query().Filter(func(r *record.Record) bool {
		return r.Text("ns") == s.ns
	})
}

func (s *Store) row(ctx context.Context, key string) (*record.Record, error) {
	return s.rows().Filter(func(r *record.Record) bool {
		return r.Text("key") == key
	}).First(ctx)
}

func (s *Store) live(r *record.Record) bool {
	ttl, ok := attr.AsInt(r.Attr("ttl"))
	return !ok || ttl == 0 || ttl >= s.reg.Now().Unix()
}

func decodeValue(r *record.Record, dst any) error {
	v, _ := r.Value("value").(attr.Value)
	data, err := attr.Encode(v)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", r.Text("key"), err)
	}
	return nil
}

// Get decodes the value of key into dst. It reports false when the key is
// missing or expired; an expired row is removed.
func (s *Store) Get(ctx context.Context, key string, dst any) (bool, error) {
	r, err := s.row(ctx, key)
	if err != nil || r == nil {
		return false, err
	}
	if !s.live(r) {
		_, err := r.Delete(ctx)
		return false, err
	}
	if err := decodeValue(r, dst); err != nil {
		return false, err
	}
	return true, nil
}

// Put stores value under key. A ttl of zero or less keeps the entry for
// ten years.
func (s *Store) Put(ctx context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = forever
	}
	v, err := attr.From(value)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	data := map[string]any{
		"value": v,
		"ttl":   s.reg.Now().Add(ttl).Unix(),
	}

	r, err := s.row(ctx, key)
	if err != nil {
		return err
	}
	if r != nil {
		_, err = r.Update(ctx, data)
		return err
	}
	data["ns"] = s.ns
	data["key"] = key
	_, err = s.tbl.Create(ctx, data)
	return err
}

// Has reports whether key holds a live entry.
func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	r, err := s.row(ctx, key)
	if err != nil || r == nil {
		return false, err
	}
	return s.live(r), nil
}

// Forget removes key and reports whether it was present.
func (s *Store) Forget(ctx context.Context, key string) (bool, error) {
	r, err := s.row(ctx, key)
	if err != nil || r == nil {
		return false, err
	}
	return r.Delete(ctx)
}

// Pull is Get followed by Forget.
func (s *Store) Pull(ctx context.Context, key string, dst any) (bool, error) {
	ok, err := s.Get(ctx, key, dst)
	if err != nil || !ok {
		return ok, err
	}
	_, err = s.Forget(ctx, key)
	return true, err
}

// Add stores value only when key holds no live entry. It reports whether
// it wrote.
func (s *Store) Add(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	ok, err := s.Has(ctx, key)
	if err != nil || ok {
		return false, err
	}
	return true, s.Put(ctx, key, value, ttl)
}

// Increment adds by to the integer under key, treating a missing key as
// zero, and returns the new value. It is not atomic.
func (s *Store) Increment(ctx context.Context, key string, by int64) (int64, error) {
	var n int64
	if _, err := s.Get(ctx, key, &n); err != nil {
		return 0, err
	}
	n += by
	return n, s.Put(ctx, key, n, 0)
}

// Keys lists the live keys matching a like pattern ("*" and "%" are
// wildcards), sorted.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	if err := s.maybeClean(ctx); err != nil {
		return nil, err
	}
	if pattern == "" {
		pattern = "*"
	}
	var keys []string
	err := s.rows().Each(ctx, func(r *record.Record) error {
		key := r.Text("key")
		if s.live(r) && compare.Evaluate(attr.String(key), "like", pattern) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(keys)
	return keys, nil
}

// All returns every live entry of the namespace, values decoded from
// JSON.
func (s *Store) All(ctx context.Context) (map[string]any, error) {
	if err := s.maybeClean(ctx); err != nil {
		return nil, err
	}
	out := make(map[string]any)
	err := s.rows().Each(ctx, func(r *record.Record) error {
		if !s.live(r) {
			return nil
		}
		var v any
		if err := decodeValue(r, &v); err != nil {
			return err
		}
		out[r.Text("key")] = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of rows in the namespace, expired or not.
func (s *Store) Count(ctx context.Context) (int, error) {
	return s.rows().Count(ctx)
}

// Flush removes every row of the namespace.
func (s *Store) Flush(ctx context.Context) error {
	_, err := s.rows().Delete(ctx)
	return err
}

// Clean removes expired rows of every namespace and returns how many
// went.
func (s *Store) Clean(ctx context.Context) (int, error) {
	now := s.reg.Now()
	expired, err := s.tbl.Where("ttl", "<", now.Unix()).IDs(ctx)
	if err != nil {
		return 0, err
	}
	ids := make([]any, len(expired))
	for i, id := range expired {
		ids[i] = id
	}
	n, err := s.tbl.Destroy(ctx, ids...)
	if err != nil {
		return 0, err
	}
	if err := s.reg.Backend(TableName).Set(ctx, s.cleanedKey(), fmt.Sprint(now.Unix())); err != nil {
		return n, err
	}
	s.reg.Logger().Debug("cachestore cleaned", "expired", n)
	return n, nil
}

func (s *Store) cleanedKey() string {
	return s.reg.Keyspace().Key(TableName, "cleaned_at")
}

func (s *Store) maybeClean(ctx context.Context) error {
	raw, ok, err := s.reg.Backend(TableName).Get(ctx, s.cleanedKey())
	if err != nil {
		return err
	}
	if ok {
		var last int64
		if _, err := fmt.Sscan(raw, &last); err == nil && s.reg.Now().Unix()-last <= int64(cleanEvery/time.Second) {
			return nil
		}
	}
	_, err = s.Clean(ctx)
	return err
}

// GetOrCreate returns the value of key, or runs fn and stores its result
// for ttl.
func GetOrCreate[T any](ctx context.Context, s *Store, key string, ttl time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var v T
	ok, err := s.Get(ctx, key, &v)
	if err != nil || ok {
		return v, err
	}
	v, err = fn(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	return v, s.Put(ctx, key, v, ttl)
}
