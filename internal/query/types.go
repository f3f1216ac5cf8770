package query

import (
	"strings"

	"github.com/roach88/kvsql/internal/attr"
)

// Query is a read over one table: rows matching Filter, sorted by Order,
// windowed by Offset and Limit, projected onto Select.
type Query struct {
	Table  string
	Filter Predicate // nil = every row
	Order  []Order   // first key sorts first
	Offset int
	Limit  int      // 0 = no limit
	Select []string // empty = every column
}

// Predicate is a row condition.
//
// This is a sealed interface: Cond, And, Or and Not are the only
// implementations, so Apply and Validate can switch exhaustively.
type Predicate interface {
	predicateNode()
	String() string
}

// Cond compares one field with a value using a comparison operator.
// An empty Op tests the field for truthiness and ignores Value.
//
// Field may be a dotted path into a JSON attribute ("meta.color").
type Cond struct {
	Field string
	Op    string
	Value attr.Value
}

func (Cond) predicateNode() {}

func (c Cond) String() string {
	if c.Op == "" {
		return c.Field
	}
	if c.Value == nil {
		return c.Field + " " + c.Op
	}
	v, err := attr.Encode(c.Value)
	if err != nil {
		return c.Field + " " + c.Op + " ?"
	}
	return c.Field + " " + c.Op + " " + string(v)
}

// And holds when every predicate holds. An empty And always holds.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

func (a And) String() string {
	return join(a.Predicates, " and ")
}

// Or holds when any predicate holds. An empty Or never holds.
type Or struct {
	Predicates []Predicate
}

func (Or) predicateNode() {}

func (o Or) String() string {
	return join(o.Predicates, " or ")
}

// Not negates a predicate.
type Not struct {
	Predicate Predicate
}

func (Not) predicateNode() {}

func (n Not) String() string {
	if n.Predicate == nil {
		return "not ()"
	}
	return "not (" + n.Predicate.String() + ")"
}

func join(preds []Predicate, sep string) string {
	parts := make([]string, len(preds))
	for i, p := range preds {
		switch p.(type) {
		case And, Or:
			parts[i] = "(" + p.String() + ")"
		case nil:
			parts[i] = "()"
		default:
			parts[i] = p.String()
		}
	}
	return strings.Join(parts, sep)
}

// Order is one sort key.
type Order struct {
	Field string
	Desc  bool

	// Natural sorts case-insensitively with embedded numbers compared
	// by value ("item2" before "item10").
	Natural bool
}

func (o Order) String() string {
	s := o.Field
	if o.Natural {
		s += " natural"
	}
	if o.Desc {
		s += " desc"
	}
	return s
}
