package record

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/kvsql/internal/attr"
	"github.com/roach88/kvsql/internal/inflect"
)

// jsonMarker prefixes strings that hold pre-encoded JSON documents.
const jsonMarker = "json:"

// Date layouts accepted when writing _at attributes, tried in order.
var dateLayouts = []string{
	"02/01/2006 15:04:05",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

func isDateField(name string) bool {
	return strings.HasSuffix(name, "_at")
}

// Set writes an attribute, applying write coercion in order:
//
//  1. a _at attribute given a time.Time, a "dd/mm/yyyy hh:mm:ss",
//     "yyyy-mm-dd hh:mm:ss" or RFC 3339 string, or a numeric string is
//     stored as epoch seconds
//  2. a string holding a JSON object or array is stored with the "json:"
//     marker
//  3. a plural attribute given a *Record, []*Record or *Collection is not
//     stored; the links are synced into the pivot table on the next Save
//
// Set is a no-op on an immutable record.
func (r *Record) Set(name string, value any) error {
	if r.immutable {
		return nil
	}

	if inflect.IsPlural(name) {
		if c, ok := value.(*Collection); ok {
			r.pivots = append(r.pivots, pendingPivot{related: inflect.Singularize(name), source: c})
			return nil
		}
		if ids, ok := relatedIDs(value); ok {
			r.pivots = append(r.pivots, pendingPivot{related: inflect.Singularize(name), ids: ids})
			return nil
		}
	}

	v, err := r.coerceWrite(name, value)
	if err != nil {
		return fmt.Errorf("set %s.%s: %w", r.table, name, err)
	}
	r.attrs.Set(name, v)
	return nil
}

// SetMany applies Set to every entry of data in key order.
func (r *Record) SetMany(data map[string]any) error {
	for _, k := range sortedKeys(data) {
		if err := r.Set(k, data[k]); err != nil {
			return err
		}
	}
	return nil
}

// Unset removes an attribute. No-op on an immutable record.
func (r *Record) Unset(name string) {
	if r.immutable {
		return
	}
	r.attrs.Delete(name)
}

func (r *Record) coerceWrite(name string, value any) (attr.Value, error) {
	if isDateField(name) {
		switch val := value.(type) {
		case time.Time:
			return attr.Int(val.Unix()), nil
		case *time.Time:
			if val == nil {
				return attr.Null{}, nil
			}
			return attr.Int(val.Unix()), nil
		case string:
			if ts, ok := r.parseDate(val); ok {
				return attr.Int(ts), nil
			}
		case attr.String:
			if ts, ok := r.parseDate(string(val)); ok {
				return attr.Int(ts), nil
			}
		}
	}

	v, err := attr.From(value)
	if err != nil {
		return nil, err
	}
	if s, ok := v.(attr.String); ok && isJSONDocument(string(s)) {
		return attr.String(jsonMarker + string(s)), nil
	}
	return v, nil
}

func (r *Record) parseDate(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, r.reg.location); err == nil {
			return t.Unix(), true
		}
	}
	return 0, false
}

// isJSONDocument reports whether s is a JSON object or array.
func isJSONDocument(s string) bool {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') {
		return false
	}
	return attr.ValidJSON(trimmed)
}

// relatedIDs extracts record ids from a relation assignment. A nil
// *Record clears the relation.
func relatedIDs(value any) ([]int64, bool) {
	switch val := value.(type) {
	case *Record:
		if val == nil {
			return []int64{}, true
		}
		return []int64{val.ID()}, true
	case []*Record:
		ids := make([]int64, 0, len(val))
		for _, rec := range val {
			if rec != nil {
				ids = append(ids, rec.ID())
			}
		}
		return ids, true
	}
	return nil, false
}

// Get reads an attribute with read coercion:
//
//   - a registered relation named name resolves that relation
//   - a plural name that is not stored resolves to a has-many collection
//     of the singular table
//   - when "<name>_id" is stored, the belongs-to record is returned
//   - a "json:" string is decoded into an attr.Value
//   - a numeric _at attribute becomes a time.Time in the registry zone
//
// Plain attributes are returned as attr.Value; missing ones as attr.Null.
func (r *Record) Get(ctx context.Context, name string) (any, error) {
	if fn, ok := r.reg.relation(r.table, name); ok {
		return fn(ctx, r)
	}
	if inflect.IsPlural(name) && !r.attrs.Has(name) {
		return r.HasMany(inflect.Singularize(name)), nil
	}
	if r.attrs.Has(ForeignKey(name)) {
		rec, err := r.BelongsTo(ctx, name)
		if err != nil || rec == nil {
			return nil, err
		}
		return rec, nil
	}
	return r.Value(name), nil
}

// Value reads a stored attribute with the json and date coercions of Get
// but without relation resolution.
func (r *Record) Value(name string) any {
	v := decodeMarked(r.Attr(name))
	if isDateField(name) {
		if ts, ok := epochOf(v); ok {
			return time.Unix(ts, 0).In(r.reg.location)
		}
	}
	return v
}

// Time reads a _at attribute. ok is false when it is missing or not a
// timestamp.
func (r *Record) Time(name string) (time.Time, bool) {
	t, ok := r.Value(name).(time.Time)
	return t, ok
}

// Text reads an attribute as loose text.
func (r *Record) Text(name string) string {
	return attr.Text(decodeMarked(r.Attr(name)))
}

// decodeMarked decodes "json:" strings, leaving other values untouched.
func decodeMarked(v attr.Value) attr.Value {
	s, ok := v.(attr.String)
	if !ok || !strings.HasPrefix(string(s), jsonMarker) {
		return v
	}
	decoded, err := attr.Decode([]byte(strings.TrimPrefix(string(s), jsonMarker)))
	if err != nil {
		return v
	}
	return decoded
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func epochOf(v attr.Value) (int64, bool) {
	switch val := v.(type) {
	case attr.Int:
		return int64(val), true
	case attr.Float:
		return int64(val), true
	case attr.String:
		if n, err := strconv.ParseInt(strings.TrimSpace(string(val)), 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}
