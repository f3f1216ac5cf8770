package record

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/roach88/kvsql/internal/attr"
)

// mapE replaces each record with fn's result; nil results are dropped and
// an error stops the replay.
func (c *Collection) mapE(fn func(ctx context.Context, r *Record) (*Record, error)) *Collection {
	return c.derive(func(ctx context.Context, yield func(*Record) bool) error {
		var ferr error
		err := c.src(ctx, func(r *Record) bool {
			out, err := fn(ctx, r)
			if err != nil {
				ferr = err
				return false
			}
			if out == nil {
				return true
			}
			return yield(out)
		})
		return errors.Join(err, ferr)
	})
}

// Update applies data to every record, saves them and returns the
// reloaded rows.
func (c *Collection) Update(ctx context.Context, data map[string]any) (*Collection, error) {
	recs, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]any, 0, len(recs))
	for _, rec := range recs {
		saved, err := rec.Update(ctx, data)
		if err != nil {
			return nil, err
		}
		ids = append(ids, saved.ID())
	}
	return c.table.FindMany(ids...), nil
}

// Touch stamps updated_at on every record and returns the touched
// records.
func (c *Collection) Touch(ctx context.Context) ([]*Record, error) {
	recs, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(recs))
	for _, rec := range recs {
		touched, err := rec.Touch(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, touched)
	}
	return out, nil
}

// Delete removes every record. It reports true only when the collection
// was not empty and none of its ids can be found afterwards.
func (c *Collection) Delete(ctx context.Context) (bool, error) {
	recs, err := c.All(ctx)
	if err != nil || len(recs) == 0 {
		return false, err
	}
	ids := make([]any, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.ID())
		if _, err := rec.Delete(ctx); err != nil {
			return false, err
		}
	}
	return c.table.FindMany(ids...).IsEmpty(ctx)
}

// Index adds every record to the search index.
func (c *Collection) Index(ctx context.Context) error {
	return c.Each(ctx, func(r *Record) error {
		return r.Index(ctx)
	})
}

// Unindex removes every record from the search index.
func (c *Collection) Unindex(ctx context.Context) error {
	return c.Each(ctx, func(r *Record) error {
		return r.Unindex(ctx)
	})
}

// Fresh reloads every record; rows deleted since are dropped.
func (c *Collection) Fresh() *Collection {
	return c.mapE(func(ctx context.Context, r *Record) (*Record, error) {
		return r.Fresh(ctx)
	})
}

// Create saves every record and returns the saved instances.
func (c *Collection) Create(ctx context.Context) ([]*Record, error) {
	recs, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(recs))
	for _, rec := range recs {
		saved, err := rec.Save(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, saved)
	}
	return out, nil
}

// Select projects every record onto columns. The id is always kept,
// missing columns read as null and the projections are immutable.
func (c *Collection) Select(columns ...string) *Collection {
	if len(columns) == 0 || slices.Contains(columns, "*") {
		return c
	}
	if !slices.Contains(columns, FieldID) {
		columns = append(slices.Clone(columns), FieldID)
	}
	return c.Map(func(r *Record) *Record {
		obj := attr.NewObject()
		for _, col := range columns {
			obj.Set(col, attr.CloneValue(r.Attr(col)))
		}
		out := r.derive(obj)
		out.immutable = true
		return out
	})
}

// With resolves the named relations of every record and stashes them for
// Related. A dotted name ("author.books") resolves each level and stashes
// nested results on the related records. Collections are stashed as
// []*Record.
func (c *Collection) With(names ...string) *Collection {
	return c.mapE(func(ctx context.Context, r *Record) (*Record, error) {
		for _, name := range names {
			if err := stashPath(ctx, r, strings.Split(name, ".")); err != nil {
				return nil, err
			}
		}
		return r, nil
	})
}

// Deep is With for one relation path given as segments.
func (c *Collection) Deep(path ...string) *Collection {
	return c.With(strings.Join(path, "."))
}

func stashPath(ctx context.Context, r *Record, path []string) error {
	rel, err := r.Relation(ctx, path[0])
	if err != nil {
		return err
	}
	var stash any = rel
	switch v := rel.(type) {
	case *Record:
		if v == nil {
			stash = nil
			break
		}
		if len(path) > 1 {
			if err := stashPath(ctx, v, path[1:]); err != nil {
				return err
			}
		}
	case *Collection:
		recs, err := v.All(ctx)
		if err != nil {
			return err
		}
		if len(path) > 1 {
			for _, rec := range recs {
				if err := stashPath(ctx, rec, path[1:]); err != nil {
					return err
				}
			}
		}
		stash = recs
	}
	r.SetInfo("related_"+path[0], stash)
	return nil
}
