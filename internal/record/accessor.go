package record

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/kvsql/internal/inflect"
)

// Call dispatches a dynamic accessor on the record, trying in order:
//
//	a registered relation      Relation(ctx, name)
//	get<Field>()               Get on the snake-cased field
//	set<Field>(value)          Set, returns the record
//	<name> with <name>_id set  BelongsTo(name)
//	<plural>                   HasMany(singular)
//	findBy<Field>(value)       first record of the table with field = value
//
// Anything else is forwarded to Table.Call.
func (r *Record) Call(ctx context.Context, name string, args ...any) (any, error) {
	if _, ok := r.reg.relation(r.table, name); ok {
		return r.Relation(ctx, name)
	}

	if field, ok := cutPrefix(name, "get"); ok {
		return r.Get(ctx, field)
	}
	if field, ok := cutPrefix(name, "set"); ok {
		if len(args) == 0 {
			return nil, fmt.Errorf("%s.%s: missing value", r.table, name)
		}
		if err := r.Set(field, args[0]); err != nil {
			return nil, err
		}
		return r, nil
	}

	if r.attrs.Has(ForeignKey(name)) {
		rec, err := r.BelongsTo(ctx, name)
		if err != nil || rec == nil {
			return nil, err
		}
		return rec, nil
	}
	if inflect.IsPlural(name) {
		return r.HasMany(inflect.Singularize(name)), nil
	}

	if field, ok := cutPrefix(name, "findBy"); ok && len(args) > 0 {
		return r.reg.Table(r.table).FindOneBy(ctx, field, args[0])
	}

	return r.reg.Table(r.table).Call(ctx, name, args...)
}

// call dispatches the dynamic query methods documented on Table.Call.
func (c *Collection) call(ctx context.Context, name string, args ...any) (any, error) {
	if _, ok := c.table.reg.scope(c.table.name, name); ok {
		return c.Scope(name, args...), nil
	}

	if field, ok := cutPrefix(name, "orderByDesc"); ok {
		return c.OrderByDesc(field), nil
	}
	if field, ok := cutPrefix(name, "orderBy"); ok {
		dir := "asc"
		if len(args) > 0 {
			if s, ok := args[0].(string); ok {
				dir = s
			}
		}
		return c.OrderBy(field, dir), nil
	}
	if field, ok := cutPrefix(name, "groupBy"); ok {
		return c.GroupBy(ctx, field)
	}
	if field, ok := cutPrefix(name, "findOneBy"); ok {
		if len(args) == 0 {
			return c.FirstWhere(ctx, field, "is not", nil)
		}
		return c.FindOneBy(ctx, field, args[0])
	}
	if field, ok := cutPrefix(name, "findBy"); ok {
		if len(args) == 0 {
			return c.Where(field, "is not", nil), nil
		}
		return c.FindBy(field, args[0]), nil
	}
	if field, ok := cutPrefix(name, "firstWhere"); ok {
		return c.FirstWhere(ctx, field, args...)
	}
	if field, ok := cutPrefix(name, "where"); ok {
		return c.Where(field, args...), nil
	}

	return nil, fmt.Errorf("%s.%s: %w", c.table.name, name, ErrUnknownAccessor)
}

// cutPrefix strips a method prefix and snake-cases the remaining field
// name. The remainder must start with an upper-case letter.
func cutPrefix(name, prefix string) (string, bool) {
	rest, ok := strings.CutPrefix(name, prefix)
	if !ok || rest == "" || rest[0] < 'A' || rest[0] > 'Z' {
		return "", false
	}
	return inflect.Snake(rest), true
}
