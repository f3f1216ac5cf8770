package record

import (
	"strconv"
	"time"

	"github.com/roach88/kvsql/internal/attr"
	"github.com/roach88/kvsql/internal/compare"
)

// dateOf reads field as a time in the registry location. Epoch numbers
// and the layouts accepted by Set are understood.
func dateOf(r *Record, field string) (time.Time, bool) {
	v := fieldValue(r, field)
	if ts, ok := epochOf(v); ok {
		return time.Unix(ts, 0).In(r.reg.location), true
	}
	s, ok := v.(attr.String)
	if !ok {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, string(s), r.reg.location); err == nil {
			return t.In(r.reg.location), true
		}
	}
	return time.Time{}, false
}

// whereDatePart compares part(date) with value. Records without a date
// in field never match.
func (c *Collection) whereDatePart(field, op, value string, part func(time.Time) string) *Collection {
	return c.filter(func(r *Record) bool {
		t, ok := dateOf(r, field)
		if !ok {
			return false
		}
		return compare.Evaluate(attr.String(part(t)), op, value)
	})
}

// WhereDate compares the yyyy-mm-dd date of field with value.
func (c *Collection) WhereDate(field, op, value string) *Collection {
	return c.whereDatePart(field, op, value, func(t time.Time) string {
		return t.Format(time.DateOnly)
	})
}

// WhereDay compares the day of month.
func (c *Collection) WhereDay(field, op, value string) *Collection {
	return c.whereDatePart(field, op, value, func(t time.Time) string {
		return strconv.Itoa(t.Day())
	})
}

// WhereMonth compares the month number.
func (c *Collection) WhereMonth(field, op, value string) *Collection {
	return c.whereDatePart(field, op, value, func(t time.Time) string {
		return strconv.Itoa(int(t.Month()))
	})
}

// WhereYear compares the year.
func (c *Collection) WhereYear(field, op, value string) *Collection {
	return c.whereDatePart(field, op, value, func(t time.Time) string {
		return strconv.Itoa(t.Year())
	})
}

// WhereTime compares the hh:mm:ss time of day.
func (c *Collection) WhereTime(field, op, value string) *Collection {
	return c.whereDatePart(field, op, value, func(t time.Time) string {
		return t.Format(time.TimeOnly)
	})
}

// WhereWeek compares the ISO 8601 week number.
func (c *Collection) WhereWeek(field, op, value string) *Collection {
	return c.whereDatePart(field, op, value, func(t time.Time) string {
		_, week := t.ISOWeek()
		return strconv.Itoa(week)
	})
}

// WhereDayOfWeek compares the ISO day of week, Monday = 1 to Sunday = 7.
func (c *Collection) WhereDayOfWeek(field, op, value string) *Collection {
	return c.whereDatePart(field, op, value, func(t time.Time) string {
		wd := int(t.Weekday())
		if wd == 0 {
			wd = 7
		}
		return strconv.Itoa(wd)
	})
}

// WhereDayOfYear compares the zero-based day of year.
func (c *Collection) WhereDayOfYear(field, op, value string) *Collection {
	return c.whereDatePart(field, op, value, func(t time.Time) string {
		return strconv.Itoa(t.YearDay() - 1)
	})
}

// WhereQuarter compares the quarter, 1 to 4.
func (c *Collection) WhereQuarter(field, op, value string) *Collection {
	return c.whereDatePart(field, op, value, func(t time.Time) string {
		return strconv.Itoa((int(t.Month())-1)/3 + 1)
	})
}

// WhereDateEquals keeps records whose date in field, formatted with
// layout (default yyyy-mm-dd), is exactly value.
func (c *Collection) WhereDateEquals(field, value string, layout ...string) *Collection {
	format := time.DateOnly
	if len(layout) > 0 && layout[0] != "" {
		format = layout[0]
	}
	return c.filter(func(r *Record) bool {
		t, ok := dateOf(r, field)
		return ok && t.Format(format) == value
	})
}
