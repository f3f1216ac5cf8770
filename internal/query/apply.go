package query

import (
	"fmt"

	"github.com/roach88/kvsql/internal/record"
)

// Apply validates q and returns the lazy collection it describes over the
// registry's table. Nothing is read until a terminal runs.
func Apply(reg *record.Registry, q Query) (*record.Collection, error) {
	if err := Validate(q).Err(); err != nil {
		return nil, err
	}

	c := reg.Table(q.Table).Query()
	if q.Filter != nil {
		match, err := compile(q.Filter)
		if err != nil {
			return nil, err
		}
		c = c.Filter(match)
	}

	// Sorts are stable, so applying the keys last-first orders by the
	// first key, then the second, and so on.
	for i := len(q.Order) - 1; i >= 0; i-- {
		o := q.Order[i]
		switch {
		case o.Natural && o.Desc:
			c = c.NaturalSortDesc(o.Field)
		case o.Natural:
			c = c.NaturalSort(o.Field)
		case o.Desc:
			c = c.OrderByDesc(o.Field)
		default:
			c = c.OrderBy(o.Field)
		}
	}

	if q.Offset > 0 {
		c = c.Skip(q.Offset)
	}
	if q.Limit > 0 {
		c = c.Take(q.Limit)
	}
	if len(q.Select) > 0 {
		c = c.Select(q.Select...)
	}
	return c, nil
}

// Matches reports whether r satisfies p.
func Matches(r *record.Record, p Predicate) (bool, error) {
	match, err := compile(p)
	if err != nil {
		return false, err
	}
	return match(r), nil
}

func compile(p Predicate) (func(*record.Record) bool, error) {
	switch pred := p.(type) {
	case Cond:
		if pred.Op == "" {
			return func(r *record.Record) bool { return r.Matches(pred.Field) }, nil
		}
		return func(r *record.Record) bool {
			return r.Matches(pred.Field, pred.Op, pred.Value)
		}, nil
	case And:
		subs, err := compileAll(pred.Predicates)
		if err != nil {
			return nil, err
		}
		return func(r *record.Record) bool {
			for _, sub := range subs {
				if !sub(r) {
					return false
				}
			}
			return true
		}, nil
	case Or:
		subs, err := compileAll(pred.Predicates)
		if err != nil {
			return nil, err
		}
		return func(r *record.Record) bool {
			for _, sub := range subs {
				if sub(r) {
					return true
				}
			}
			return false
		}, nil
	case Not:
		sub, err := compile(pred.Predicate)
		if err != nil {
			return nil, err
		}
		return func(r *record.Record) bool { return !sub(r) }, nil
	}
	return nil, fmt.Errorf("unsupported predicate %T", p)
}

func compileAll(preds []Predicate) ([]func(*record.Record) bool, error) {
	out := make([]func(*record.Record) bool, len(preds))
	for i, p := range preds {
		m, err := compile(p)
		if err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}
