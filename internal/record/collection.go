package record

import (
	"context"
	"encoding/json"
	"errors"
	"iter"

	"github.com/roach88/kvsql/internal/attr"
)

// source replays a sequence of records. It stops early, returning nil,
// when yield returns false.
type source func(ctx context.Context, yield func(*Record) bool) error

// Collection is a lazy, restartable sequence of records belonging to one
// table. Intermediate operations build a new pipeline; every terminal
// operation replays it from the backend.
type Collection struct {
	table *Table
	src   source

	// computed is the accumulated OrWhere union, nil until OrWhere runs.
	computed []*Record

	// orBase is the branch later OrWhere calls evaluate against. It is set
	// only on collections returned by OrWhere; any other operation starts
	// a new branch.
	orBase *Collection
}

func newCollection(t *Table, src source) *Collection {
	return &Collection{table: t, src: src}
}

// FromRecords wraps already loaded records of t.
func FromRecords(t *Table, recs []*Record) *Collection {
	recs = append([]*Record(nil), recs...)
	return newCollection(t, func(_ context.Context, yield func(*Record) bool) error {
		for _, rec := range recs {
			if !yield(rec) {
				return nil
			}
		}
		return nil
	})
}

// failed returns a collection whose every terminal reports err.
func failed(t *Table, err error) *Collection {
	return newCollection(t, func(context.Context, func(*Record) bool) error {
		return err
	})
}

// Table returns the owning table.
func (c *Collection) Table() *Table {
	return c.table
}

func (c *Collection) derive(src source) *Collection {
	return &Collection{table: c.table, src: src, computed: c.computed}
}

// filterE keeps records for which keep returns true. An error from keep
// stops the replay and is returned by the terminal.
func (c *Collection) filterE(keep func(ctx context.Context, r *Record) (bool, error)) *Collection {
	return c.derive(func(ctx context.Context, yield func(*Record) bool) error {
		var ferr error
		err := c.src(ctx, func(r *Record) bool {
			ok, err := keep(ctx, r)
			if err != nil {
				ferr = err
				return false
			}
			if !ok {
				return true
			}
			return yield(r)
		})
		return errors.Join(err, ferr)
	})
}

func (c *Collection) filter(keep func(r *Record) bool) *Collection {
	return c.filterE(func(_ context.Context, r *Record) (bool, error) {
		return keep(r), nil
	})
}

// materialize replaces the pipeline with fn applied to the fully loaded
// sequence. Sorting and de-duplication need the whole set.
func (c *Collection) materialize(fn func(recs []*Record) ([]*Record, error)) *Collection {
	return c.derive(func(ctx context.Context, yield func(*Record) bool) error {
		recs, err := c.All(ctx)
		if err != nil {
			return err
		}
		out, err := fn(recs)
		if err != nil {
			return err
		}
		for _, r := range out {
			if !yield(r) {
				return nil
			}
		}
		return nil
	})
}

// Filter keeps records for which fn returns true.
func (c *Collection) Filter(fn func(r *Record) bool) *Collection {
	return c.filter(fn)
}

// Map replaces each record with fn's result; nil results are dropped.
func (c *Collection) Map(fn func(r *Record) *Record) *Collection {
	return c.derive(func(ctx context.Context, yield func(*Record) bool) error {
		return c.src(ctx, func(r *Record) bool {
			out := fn(r)
			if out == nil {
				return true
			}
			return yield(out)
		})
	})
}

// Take keeps at most n records.
func (c *Collection) Take(n int) *Collection {
	return c.derive(func(ctx context.Context, yield func(*Record) bool) error {
		if n <= 0 {
			return nil
		}
		seen := 0
		return c.src(ctx, func(r *Record) bool {
			seen++
			if !yield(r) {
				return false
			}
			return seen < n
		})
	})
}

// Skip drops the first n records.
func (c *Collection) Skip(n int) *Collection {
	return c.derive(func(ctx context.Context, yield func(*Record) bool) error {
		skipped := 0
		return c.src(ctx, func(r *Record) bool {
			if skipped < n {
				skipped++
				return true
			}
			return yield(r)
		})
	})
}

// Each calls fn for every record in order. An error from fn stops the
// iteration and is returned.
func (c *Collection) Each(ctx context.Context, fn func(r *Record) error) error {
	var ferr error
	err := c.src(ctx, func(r *Record) bool {
		if err := fn(r); err != nil {
			ferr = err
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	return ferr
}

// Iter returns a range-over-func iterator. A backend error is yielded once
// with a nil record.
func (c *Collection) Iter(ctx context.Context) iter.Seq2[*Record, error] {
	return func(yield func(*Record, error) bool) {
		stopped := false
		err := c.src(ctx, func(r *Record) bool {
			if !yield(r, nil) {
				stopped = true
				return false
			}
			return true
		})
		if err != nil && !stopped {
			yield(nil, err)
		}
	}
}

// All loads every record.
func (c *Collection) All(ctx context.Context) ([]*Record, error) {
	var out []*Record
	err := c.src(ctx, func(r *Record) bool {
		out = append(out, r)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of records.
func (c *Collection) Count(ctx context.Context) (int, error) {
	n := 0
	err := c.src(ctx, func(*Record) bool {
		n++
		return true
	})
	return n, err
}

// First returns the first record, or nil.
func (c *Collection) First(ctx context.Context) (*Record, error) {
	var first *Record
	err := c.src(ctx, func(r *Record) bool {
		first = r
		return false
	})
	if err != nil {
		return nil, err
	}
	return first, nil
}

// Last returns the last record, or nil.
func (c *Collection) Last(ctx context.Context) (*Record, error) {
	var last *Record
	err := c.src(ctx, func(r *Record) bool {
		last = r
		return true
	})
	if err != nil {
		return nil, err
	}
	return last, nil
}

// IsEmpty reports whether the collection has no record.
func (c *Collection) IsEmpty(ctx context.Context) (bool, error) {
	first, err := c.First(ctx)
	return first == nil, err
}

// IsNotEmpty reports whether the collection has a record.
func (c *Collection) IsNotEmpty(ctx context.Context) (bool, error) {
	empty, err := c.IsEmpty(ctx)
	return !empty && err == nil, err
}

// Pluck returns field of every record. Missing fields read as attr.Null;
// json documents are decoded and dotted paths walk into them.
func (c *Collection) Pluck(ctx context.Context, field string) ([]attr.Value, error) {
	var out []attr.Value
	err := c.src(ctx, func(r *Record) bool {
		out = append(out, fieldValue(r, field))
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// IDs returns the id of every record.
func (c *Collection) IDs(ctx context.Context) ([]int64, error) {
	var out []int64
	err := c.src(ctx, func(r *Record) bool {
		out = append(out, r.ID())
		return true
	})
	return out, err
}

// Sum adds the numeric values of field; other values are skipped.
func (c *Collection) Sum(ctx context.Context, field string) (float64, error) {
	total, _, err := c.numeric(ctx, field)
	return total, err
}

// Avg averages the numeric values of field. It returns 0 when there are
// none.
func (c *Collection) Avg(ctx context.Context, field string) (float64, error) {
	total, n, err := c.numeric(ctx, field)
	if err != nil || n == 0 {
		return 0, err
	}
	return total / float64(n), nil
}

func (c *Collection) numeric(ctx context.Context, field string) (float64, int, error) {
	var (
		total float64
		n     int
	)
	err := c.src(ctx, func(r *Record) bool {
		if f, ok := attr.AsFloat(fieldValue(r, field)); ok {
			total += f
			n++
		}
		return true
	})
	return total, n, err
}

// Min returns the smallest non-null value of field, or attr.Null.
func (c *Collection) Min(ctx context.Context, field string) (attr.Value, error) {
	return c.extreme(ctx, field, -1)
}

// Max returns the largest non-null value of field, or attr.Null.
func (c *Collection) Max(ctx context.Context, field string) (attr.Value, error) {
	return c.extreme(ctx, field, 1)
}

func (c *Collection) extreme(ctx context.Context, field string, sign int) (attr.Value, error) {
	var best attr.Value = attr.Null{}
	err := c.src(ctx, func(r *Record) bool {
		v := fieldValue(r, field)
		if attr.IsNull(v) {
			return true
		}
		if attr.IsNull(best) || attr.SortCompare(v, best)*sign > 0 {
			best = v
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return best, nil
}

// Group is one GroupBy bucket.
type Group struct {
	Key     attr.Value
	Records []*Record
}

// GroupBy buckets records by the loose text of field, in first-seen
// order.
func (c *Collection) GroupBy(ctx context.Context, field string) ([]Group, error) {
	var groups []Group
	index := make(map[string]int)
	err := c.src(ctx, func(r *Record) bool {
		v := fieldValue(r, field)
		k := attr.Text(v)
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, Group{Key: v})
		}
		groups[i].Records = append(groups[i].Records, r)
		return true
	})
	if err != nil {
		return nil, err
	}
	return groups, nil
}

// ToJSON renders the records as an indented JSON array.
func (c *Collection) ToJSON(ctx context.Context) ([]byte, error) {
	recs, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []*Record{}
	}
	return json.MarshalIndent(recs, "", "  ")
}

// Computed returns the records accumulated by OrWhere, or nil.
func (c *Collection) Computed() []*Record {
	return c.computed
}
