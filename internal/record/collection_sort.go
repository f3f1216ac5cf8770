package record

import (
	"slices"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/roach88/kvsql/internal/attr"
)

// OrderBy sorts by field, "asc" (default) or "desc". The sort is stable;
// nulls sort first in ascending order.
func (c *Collection) OrderBy(field string, direction ...string) *Collection {
	desc := len(direction) > 0 && strings.EqualFold(direction[0], "desc")
	return c.sortBy(func(a, b *Record) int {
		return attr.SortCompare(fieldValue(a, field), fieldValue(b, field))
	}, desc)
}

// OrderByDesc sorts by field in descending order.
func (c *Collection) OrderByDesc(field string) *Collection {
	return c.OrderBy(field, "desc")
}

// Latest sorts by field (default id), newest first.
func (c *Collection) Latest(field ...string) *Collection {
	return c.OrderByDesc(firstOr(field, FieldID))
}

// Oldest sorts by field (default id), oldest first.
func (c *Collection) Oldest(field ...string) *Collection {
	return c.OrderBy(firstOr(field, FieldID))
}

// NaturalSort orders by the text of field with digit runs compared
// numerically ("item2" before "item10").
func (c *Collection) NaturalSort(field string) *Collection {
	return c.naturalSort(field, false)
}

// NaturalSortDesc is NaturalSort in descending order.
func (c *Collection) NaturalSortDesc(field string) *Collection {
	return c.naturalSort(field, true)
}

func (c *Collection) naturalSort(field string, desc bool) *Collection {
	return c.materialize(func(recs []*Record) ([]*Record, error) {
		col := collate.New(language.Und, collate.Numeric, collate.IgnoreCase)
		slices.SortStableFunc(recs, func(a, b *Record) int {
			n := col.CompareString(attr.Text(fieldValue(a, field)), attr.Text(fieldValue(b, field)))
			if desc {
				return -n
			}
			return n
		})
		return recs, nil
	})
}

func (c *Collection) sortBy(cmp func(a, b *Record) int, desc bool) *Collection {
	return c.materialize(func(recs []*Record) ([]*Record, error) {
		slices.SortStableFunc(recs, func(a, b *Record) int {
			if desc {
				return -cmp(a, b)
			}
			return cmp(a, b)
		})
		return recs, nil
	})
}

func firstOr(values []string, fallback string) string {
	if len(values) > 0 && values[0] != "" {
		return values[0]
	}
	return fallback
}
