package record

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/kvsql/internal/attr"
)

// Reserved attribute names.
const (
	FieldID        = "id"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
	FieldDeletedAt = "deleted_at"
)

// Record is one row of a table.
//
// A Record is not safe for concurrent mutation. Reads never mutate the
// receiver: Fresh and the relation accessors return new instances.
type Record struct {
	reg   *Registry
	table string

	attrs    *attr.Object
	original *attr.Object

	immutable bool
	hooks     Hooks
	info      map[string]any

	// pivots holds plural attributes assigned records; they are synced
	// into pivot tables on the next Save.
	pivots []pendingPivot

	indexData func(*Record) map[string]any
}

type pendingPivot struct {
	related string
	ids     []int64
	source  *Collection // resolved at Save when set
}

// newRecord builds a record whose original snapshot equals attrs.
func newRecord(reg *Registry, table string, attrs *attr.Object) *Record {
	if attrs == nil {
		attrs = attr.NewObject()
	}
	return &Record{
		reg:      reg,
		table:    table,
		attrs:    attrs,
		original: attrs.Clone(),
	}
}

// Table returns the record's table name.
func (r *Record) Table() string {
	return r.table
}

// Registry returns the registry the record belongs to.
func (r *Record) Registry() *Registry {
	return r.reg
}

// ID returns the record id, or 0 when unassigned.
func (r *Record) ID() int64 {
	v, ok := r.attrs.Get(FieldID)
	if !ok {
		return 0
	}
	id, _ := attr.AsInt(v)
	return id
}

// Exists reports whether the record has an id.
func (r *Record) Exists() bool {
	return r.ID() != 0
}

func (r *Record) idString() string {
	return strconv.FormatInt(r.ID(), 10)
}

// IsDirty reports whether the record needs saving: it has no id, its
// attributes differ from the last loaded or persisted state, or relation
// assignments are pending.
func (r *Record) IsDirty() bool {
	return !r.Exists() || len(r.pivots) > 0 || !attr.Equal(r.original, r.attrs)
}

// IsImmutable reports whether mutating operations are disabled.
func (r *Record) IsImmutable() bool {
	return r.immutable
}

// Immutable sets the immutable flag and returns the receiver.
func (r *Record) Immutable(status bool) *Record {
	r.immutable = status
	return r
}

// Attr returns the stored value of name without coercion. Missing
// attributes read as attr.Null.
func (r *Record) Attr(name string) attr.Value {
	v, ok := r.attrs.Get(name)
	if !ok {
		return attr.Null{}
	}
	return v
}

// Has reports whether name is stored on the record.
func (r *Record) Has(name string) bool {
	return r.attrs.Has(name)
}

// Attributes returns a copy of the stored attributes.
func (r *Record) Attributes() *attr.Object {
	return r.attrs.Clone()
}

// Keys returns the stored attribute names in insertion order.
func (r *Record) Keys() []string {
	return r.attrs.Keys()
}

// Observe registers an instance hook. Once a record has any instance hook
// the registry defaults no longer apply to it.
func (r *Record) Observe(ev Event, hook Hook) *Record {
	if r.hooks == nil {
		r.hooks = make(Hooks)
	}
	r.hooks[ev] = hook
	return r
}

// FlushHooks removes every instance hook.
func (r *Record) FlushHooks() *Record {
	r.hooks = nil
	return r
}

// Info returns a value from the record's side slots.
func (r *Record) Info(key string) any {
	return r.info[key]
}

// SetInfo stores a value in the record's side slots. Side slots are never
// persisted.
func (r *Record) SetInfo(key string, value any) *Record {
	if r.info == nil {
		r.info = make(map[string]any)
	}
	r.info[key] = value
	return r
}

// Related returns a relation stashed by With or Deep. A dotted name walks
// nested stashes ("author.books").
func (r *Record) Related(name string) any {
	head, rest, nested := strings.Cut(name, ".")
	v := r.Info("related_" + head)
	if !nested {
		return v
	}
	child, ok := v.(*Record)
	if !ok || child == nil {
		return nil
	}
	return child.Related(rest)
}

// SetIndexData overrides the document produced by IndexData.
func (r *Record) SetIndexData(fn func(*Record) map[string]any) *Record {
	r.indexData = fn
	return r
}

// ToMap returns the stored attributes as plain Go values.
func (r *Record) ToMap() map[string]any {
	m, _ := attr.ToAny(r.attrs).(map[string]any)
	return m
}

// MarshalJSON encodes the stored attributes in insertion order.
func (r *Record) MarshalJSON() ([]byte, error) {
	return attr.Encode(r.attrs)
}

// String renders the record as table#id.
func (r *Record) String() string {
	if !r.Exists() {
		return r.table + "#new"
	}
	return fmt.Sprintf("%s#%d", r.table, r.ID())
}

// Is reports whether field (default "id") strictly equals value.
func (r *Record) Is(value any, field ...string) bool {
	name := FieldID
	if len(field) > 0 {
		name = field[0]
	}
	v, err := attr.From(value)
	if err != nil {
		return false
	}
	return attr.Equal(r.Attr(name), v)
}

// IsInstanceOf reports whether the record belongs to table.
func (r *Record) IsInstanceOf(table string) bool {
	return r.table == table
}

// Only returns a copy of the record restricted to keys. The id is always
// kept.
func (r *Record) Only(keys ...string) *Record {
	obj := attr.NewObject()
	want := make(map[string]bool, len(keys)+1)
	for _, k := range keys {
		want[k] = true
	}
	want[FieldID] = true
	r.attrs.Range(func(k string, v attr.Value) bool {
		if want[k] {
			obj.Set(k, attr.CloneValue(v))
		}
		return true
	})
	return r.derive(obj)
}

// derive builds a sibling record with the same table, hooks and
// immutability.
func (r *Record) derive(attrs *attr.Object) *Record {
	out := newRecord(r.reg, r.table, attrs)
	out.hooks = r.hooks.clone()
	out.immutable = r.immutable
	out.indexData = r.indexData
	return out
}

// Fill merges data into both the attributes and the original snapshot, so
// filled values do not make the record dirty. Values are stored as given.
func (r *Record) Fill(data map[string]any) error {
	obj, err := objectOf(data)
	if err != nil {
		return err
	}
	r.original.Merge(obj.Clone())
	r.attrs.Merge(obj)
	return nil
}

// ForceFill merges data into the attributes without coercion, ignoring
// immutability.
func (r *Record) ForceFill(data map[string]any) error {
	obj, err := objectOf(data)
	if err != nil {
		return err
	}
	r.attrs.Merge(obj)
	return nil
}

func objectOf(data map[string]any) (*attr.Object, error) {
	if data == nil {
		return attr.NewObject(), nil
	}
	obj, err := attr.ObjectFrom(data)
	if err != nil {
		return nil, fmt.Errorf("record attributes: %w", err)
	}
	return obj, nil
}
