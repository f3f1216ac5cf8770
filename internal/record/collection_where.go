package record

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/kvsql/internal/attr"
	"github.com/roach88/kvsql/internal/compare"
)

// fieldValue reads field for comparison. json documents are decoded and a
// dotted field that is not stored as-is walks into them ("meta.color",
// "tags.0"). _at attributes stay epoch seconds.
func fieldValue(r *Record, field string) attr.Value {
	if r.attrs.Has(field) || !strings.Contains(field, ".") {
		return decodeMarked(r.Attr(field))
	}
	parts := strings.Split(field, ".")
	v := decodeMarked(r.Attr(parts[0]))
	for _, p := range parts[1:] {
		switch node := v.(type) {
		case *attr.Object:
			next, ok := node.Get(p)
			if !ok {
				return attr.Null{}
			}
			v = decodeMarked(next)
		case attr.Array:
			i, err := strconv.Atoi(p)
			if err != nil || i < 0 || i >= len(node) {
				return attr.Null{}
			}
			v = decodeMarked(node[i])
		default:
			return attr.Null{}
		}
	}
	return v
}

// operand converts a Where operand to the stored representation: times
// become epoch seconds and records become their id.
func operand(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.Unix()
	case *Record:
		if val == nil {
			return nil
		}
		return val.ID()
	case []*Record:
		ids := make([]int64, 0, len(val))
		for _, rec := range val {
			if rec != nil {
				ids = append(ids, rec.ID())
			}
		}
		return ids
	}
	return v
}

// whereArgs maps the Where argument forms to an operator and operand.
func whereArgs(args []any) (string, any) {
	switch len(args) {
	case 0:
		return "true", nil
	case 1:
		return "=", args[0]
	}
	op, ok := args[0].(string)
	if !ok {
		op = fmt.Sprint(args[0])
	}
	return op, args[1]
}

func matcher(field string, args []any) func(*Record) bool {
	if len(args) == 0 {
		return func(r *Record) bool {
			return attr.Truthy(fieldValue(r, field))
		}
	}
	op, expected := whereArgs(args)
	expected = operand(expected)
	return func(r *Record) bool {
		return compare.Evaluate(fieldValue(r, field), op, expected)
	}
}

// Matches reports whether the record satisfies a Where condition.
func (r *Record) Matches(field string, args ...any) bool {
	return matcher(field, args)(r)
}

// Where keeps records whose field matches:
//
//	Where("active")                   field is truthy
//	Where("name", "Hugo")             loose equality
//	Where("age", ">=", 18)            operator and operand
//
// Operators are those of compare.Evaluate.
func (c *Collection) Where(field string, args ...any) *Collection {
	return c.filter(matcher(field, args))
}

// OrWhere evaluates the condition against the branch the chain started
// from and unions the matches with the records accumulated by earlier
// OrWhere calls, so Query().OrWhere(a).OrWhere(b) yields a or b. The
// result is de-duplicated by id when any record has one; Computed returns
// it. OrWhere is eager.
func (c *Collection) OrWhere(ctx context.Context, field string, args ...any) (*Collection, error) {
	base := c.orBase
	if base == nil {
		base = c
	}
	matches, err := base.Where(field, args...).All(ctx)
	if err != nil {
		return nil, err
	}

	union := append(append([]*Record(nil), c.computed...), matches...)
	hasID := false
	for _, rec := range union {
		if rec.Exists() {
			hasID = true
			break
		}
	}
	if hasID {
		union = uniqueByID(union)
	}

	out := FromRecords(c.table, union)
	out.computed = union
	out.orBase = base
	return out, nil
}

func uniqueByID(recs []*Record) []*Record {
	seen := make(map[int64]bool, len(recs))
	out := recs[:0:0]
	for _, rec := range recs {
		id := rec.ID()
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, rec)
	}
	return out
}

// XorWhere keeps records that do not match the condition.
func (c *Collection) XorWhere(field string, args ...any) *Collection {
	return c.Nor(field, args...)
}

// Nor keeps records that do not match the condition.
func (c *Collection) Nor(field string, args ...any) *Collection {
	match := matcher(field, args)
	return c.filter(func(r *Record) bool {
		return !match(r)
	})
}

// In keeps records whose field loosely equals one of values.
func (c *Collection) In(field string, values ...any) *Collection {
	return c.Where(field, "in", operandList(values))
}

// NotIn keeps records whose field equals none of values.
func (c *Collection) NotIn(field string, values ...any) *Collection {
	return c.Where(field, "not in", operandList(values))
}

func operandList(values []any) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = operand(v)
	}
	return out
}

// WhereFunc keeps records for which fn returns true.
func (c *Collection) WhereFunc(fn func(r *Record) bool) *Collection {
	return c.filter(fn)
}

// Custom is WhereFunc.
func (c *Collection) Custom(fn func(r *Record) bool) *Collection {
	return c.filter(fn)
}

// CustomQuery keeps records whose field satisfies fn.
func (c *Collection) CustomQuery(field string, fn compare.Predicate) *Collection {
	return c.Where(field, "custom", fn)
}

// Fulltext keeps records where any attribute contains search, case
// insensitively.
func (c *Collection) Fulltext(search string) *Collection {
	needle := strings.ToLower(search)
	return c.filter(func(r *Record) bool {
		found := false
		r.attrs.Range(func(_ string, v attr.Value) bool {
			if strings.Contains(strings.ToLower(attr.Text(decodeMarked(v))), needle) {
				found = true
				return false
			}
			return true
		})
		return found
	})
}

// Trashed keeps soft-deleted records.
func (c *Collection) Trashed() *Collection {
	return c.filter((*Record).Trashed)
}

// Untrashed keeps records that are not soft-deleted.
func (c *Collection) Untrashed() *Collection {
	return c.filter(func(r *Record) bool {
		return !r.Trashed()
	})
}

// FirstWhere returns the first record matching the condition, or nil.
func (c *Collection) FirstWhere(ctx context.Context, field string, args ...any) (*Record, error) {
	return c.Where(field, args...).First(ctx)
}

// FirstOrFailWhere is FirstWhere returning a *NotFoundError instead of
// nil.
func (c *Collection) FirstOrFailWhere(ctx context.Context, field string, args ...any) (*Record, error) {
	rec, err := c.FirstWhere(ctx, field, args...)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &NotFoundError{Table: c.tableName()}
	}
	return rec, nil
}

// FindBy keeps records whose field equals value.
func (c *Collection) FindBy(field string, value any) *Collection {
	return c.Where(field, value)
}

// FindOneBy returns the first record whose field equals value, or nil.
func (c *Collection) FindOneBy(ctx context.Context, field string, value any) (*Record, error) {
	return c.Where(field, value).First(ctx)
}

// Unique drops records whose field repeats an earlier record's value
// (loose text). The default field is id.
func (c *Collection) Unique(field ...string) *Collection {
	name := FieldID
	if len(field) > 0 {
		name = field[0]
	}
	return c.derive(func(ctx context.Context, yield func(*Record) bool) error {
		seen := make(map[string]bool)
		return c.src(ctx, func(r *Record) bool {
			k := attr.Text(fieldValue(r, name))
			if seen[k] {
				return true
			}
			seen[k] = true
			return yield(r)
		})
	})
}

// Scope applies the scope registered under name for the collection's
// table. An unknown scope yields a collection that fails with
// ErrUnknownScope.
func (c *Collection) Scope(name string, args ...any) *Collection {
	fn, ok := c.table.reg.scope(c.table.name, name)
	if !ok {
		return failed(c.table, fmt.Errorf("%s.%s: %w", c.table.name, name, ErrUnknownScope))
	}
	return fn(c, args...)
}

// WhereHas keeps records whose named relation is not empty. An optional
// constraint narrows the related collection first.
func (c *Collection) WhereHas(relation string, constraint ...func(*Collection) *Collection) *Collection {
	return c.filterE(func(ctx context.Context, r *Record) (bool, error) {
		n, err := relatedCount(ctx, r, relation, constraint)
		return n > 0, err
	})
}

// WhereDoesntHave keeps records whose named relation is empty.
func (c *Collection) WhereDoesntHave(relation string, constraint ...func(*Collection) *Collection) *Collection {
	return c.filterE(func(ctx context.Context, r *Record) (bool, error) {
		n, err := relatedCount(ctx, r, relation, constraint)
		return n == 0, err
	})
}

// WhereRelated keeps records for which fn, applied to the named relation
// as a collection, is not empty.
func (c *Collection) WhereRelated(relation string, fn func(*Collection) *Collection) *Collection {
	return c.WhereHas(relation, fn)
}

func relatedCount(ctx context.Context, r *Record, relation string, constraint []func(*Collection) *Collection) (int, error) {
	if len(constraint) == 0 || constraint[0] == nil {
		return r.relationCount(ctx, relation)
	}
	rel, err := r.Relation(ctx, relation)
	if err != nil {
		return 0, err
	}
	var coll *Collection
	switch v := rel.(type) {
	case *Collection:
		coll = v
	case *Record:
		if v == nil {
			return 0, nil
		}
		coll = FromRecords(r.reg.Table(v.table), []*Record{v})
	default:
		return 0, nil
	}
	return constraint[0](coll).Count(ctx)
}

func (c *Collection) tableName() string {
	if c.table == nil {
		return ""
	}
	return c.table.name
}
