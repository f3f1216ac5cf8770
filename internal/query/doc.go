// Package query describes table reads as data.
//
// A Query names a table, a predicate tree, sort keys, a window and a
// projection. It can be built in code or parsed from "field op value"
// clauses, checked with Validate, and turned into a lazy
// record.Collection with Apply. Queries never carry code: the custom and
// filter operators, which take a Go function, are rejected by Validate.
//
//	q, err := query.Parse("book", []string{"pages > 900", "title like Les%"}, []string{"-pages"})
//	books, err := query.Apply(reg, q)
//
// Predicates form a sealed interface:
//
//	switch p := pred.(type) {
//	case query.Cond:
//	case query.And:
//	case query.Or:
//	case query.Not:
//	}
package query
