package query

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/roach88/kvsql/internal/attr"
	"github.com/roach88/kvsql/internal/compare"
)

// operatorsByLength lists the operators longest first so that "is not
// null" wins over "is not" and "is".
var operatorsByLength = func() []string {
	ops := slices.Clone(compare.Operators)
	slices.SortStableFunc(ops, func(a, b string) int {
		return cmp.Compare(len(b), len(a))
	})
	return ops
}()

// ParseCond parses a "field op value" clause:
//
//	pages > 900
//	pages>=900
//	title like %mal
//	tags in ["a","b"]
//	deleted_at is null
//	active                 truthy test
//
// The value is read as JSON when it parses as JSON and as a bare string
// otherwise.
func ParseCond(clause string) (Cond, error) {
	s := strings.TrimSpace(clause)
	if s == "" {
		return Cond{}, fmt.Errorf("empty condition")
	}

	end := strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune("=<>!", r)
	})
	if end < 0 {
		return Cond{Field: s}, nil
	}
	field, rest := s[:end], strings.TrimSpace(s[end:])
	if field == "" {
		return Cond{}, fmt.Errorf("condition %q: missing field", clause)
	}
	if rest == "" {
		return Cond{Field: field}, nil
	}

	lower := strings.ToLower(rest)
	for _, op := range operatorsByLength {
		if !strings.HasPrefix(lower, op) {
			continue
		}
		tail := rest[len(op):]
		if isWord(op) && tail != "" && !unicode.IsSpace(rune(tail[0])) {
			continue
		}
		return Cond{Field: field, Op: op, Value: ParseValue(strings.TrimSpace(tail))}, nil
	}
	return Cond{}, fmt.Errorf("condition %q: unknown operator", clause)
}

func isWord(op string) bool {
	r := rune(op[len(op)-1])
	return unicode.IsLetter(r) || r == '_'
}

// ParseValue reads a literal: JSON when it parses, else the raw string.
// An empty literal is nil.
func ParseValue(raw string) attr.Value {
	if raw == "" {
		return nil
	}
	if attr.ValidJSON(raw) {
		if v, err := attr.Decode([]byte(raw)); err == nil {
			return v
		}
	}
	return attr.String(raw)
}

// ParseOrder parses a sort key: "field", "field desc", "field natural",
// "field natural desc" or "-field" for descending.
func ParseOrder(text string) (Order, error) {
	words := strings.Fields(text)
	if len(words) == 0 {
		return Order{}, fmt.Errorf("empty order")
	}
	o := Order{Field: words[0]}
	if rest, ok := strings.CutPrefix(o.Field, "-"); ok {
		o.Field, o.Desc = rest, true
	}
	for _, w := range words[1:] {
		switch strings.ToLower(w) {
		case "asc":
			o.Desc = false
		case "desc":
			o.Desc = true
		case "natural":
			o.Natural = true
		default:
			return Order{}, fmt.Errorf("order %q: unknown modifier %q", text, w)
		}
	}
	if o.Field == "" {
		return Order{}, fmt.Errorf("order %q: missing field", text)
	}
	return o, nil
}

// Parse builds a query over table from where clauses, which are ANDed,
// and order keys.
func Parse(table string, where, order []string) (Query, error) {
	q := Query{Table: table}
	if len(where) > 0 {
		and := And{Predicates: make([]Predicate, 0, len(where))}
		for _, clause := range where {
			c, err := ParseCond(clause)
			if err != nil {
				return Query{}, err
			}
			and.Predicates = append(and.Predicates, c)
		}
		q.Filter = and
	}
	for _, text := range order {
		o, err := ParseOrder(text)
		if err != nil {
			return Query{}, err
		}
		q.Order = append(q.Order, o)
	}
	return q, nil
}
