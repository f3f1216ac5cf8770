package query

import (
	"fmt"
	"strings"

	"github.com/roach88/kvsql/internal/compare"
)

// ValidationResult lists the problems found in a query.
type ValidationResult struct {
	// Valid is true when Problems is empty.
	Valid bool

	Problems []string
}

// Err returns the problems as one error, or nil when the query is valid.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return fmt.Errorf("invalid query: %s", strings.Join(r.Problems, "; "))
}

// Validate checks a query before it runs:
//  1. the table is named and Limit and Offset are not negative
//  2. every condition names a field and a known operator
//  3. operators that compare against a value have one
//  4. predicate operators (custom, filter) are rejected, since a query
//     carries data only
//  5. Or is not empty and no predicate slot is nil
//
// Validate is a pure function.
func Validate(q Query) ValidationResult {
	v := &validator{problems: []string{}}

	if strings.TrimSpace(q.Table) == "" {
		v.add("missing table")
	}
	if q.Limit < 0 {
		v.add("negative limit %d", q.Limit)
	}
	if q.Offset < 0 {
		v.add("negative offset %d", q.Offset)
	}
	for i, o := range q.Order {
		if o.Field == "" {
			v.add("order key %d has no field", i)
		}
	}
	if q.Filter != nil {
		v.predicate(q.Filter)
	}

	return ValidationResult{
		Valid:    len(v.problems) == 0,
		Problems: v.problems,
	}
}

type validator struct {
	problems []string
}

func (v *validator) add(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) predicate(p Predicate) {
	switch pred := p.(type) {
	case nil:
		v.add("nil predicate")
	case Cond:
		v.cond(pred)
	case And:
		for _, sub := range pred.Predicates {
			v.predicate(sub)
		}
	case Or:
		if len(pred.Predicates) == 0 {
			v.add("empty or")
		}
		for _, sub := range pred.Predicates {
			v.predicate(sub)
		}
	case Not:
		v.predicate(pred.Predicate)
	default:
		v.add("unknown predicate %T", p)
	}
}

func (v *validator) cond(c Cond) {
	if strings.TrimSpace(c.Field) == "" {
		v.add("condition without field")
	}
	if c.Op == "" {
		return
	}
	op := strings.ToLower(strings.TrimSpace(c.Op))
	switch {
	case !compare.IsKnown(op):
		v.add("%s: unknown operator %q", c.Field, c.Op)
	case op == "custom" || op == "filter":
		v.add("%s: operator %q needs a function", c.Field, c.Op)
	case compare.NeedsOperand(op) && c.Value == nil:
		v.add("%s: operator %q needs a value", c.Field, c.Op)
	}
}
