package record

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/kvsql/internal/attr"
	"github.com/roach88/kvsql/internal/backend"
)

// Table is the factory and query entry point for one table. Tables are
// cheap values; Registry.Table may be called freely.
type Table struct {
	reg  *Registry
	name string
}

// Name returns the table name.
func (t *Table) Name() string {
	return t.name
}

// Registry returns the owning registry.
func (t *Table) Registry() *Registry {
	return t.reg
}

// Backend returns the backend the table is bound to.
func (t *Table) Backend() backend.Backend {
	return t.reg.Backend(t.name)
}

func (t *Table) rowsKey() string {
	return t.reg.keys.Rows(t.name)
}

// New builds an unsaved record, applying Set coercion to data.
func (t *Table) New(data map[string]any) (*Record, error) {
	rec := newRecord(t.reg, t.name, nil)
	if err := rec.SetMany(data); err != nil {
		return nil, err
	}
	return rec, nil
}

// Create builds a record from data and saves it.
func (t *Table) Create(ctx context.Context, data map[string]any) (*Record, error) {
	rec, err := t.New(data)
	if err != nil {
		return nil, err
	}
	return rec.Save(ctx)
}

// CreateImmutable creates a record and marks the result immutable.
func (t *Table) CreateImmutable(ctx context.Context, data map[string]any) (*Record, error) {
	rec, err := t.Create(ctx, data)
	if err != nil {
		return nil, err
	}
	return rec.Immutable(true), nil
}

// Find loads the row with id. It returns nil when there is no such row or
// id is not an integer.
func (t *Table) Find(ctx context.Context, id any) (*Record, error) {
	n, ok := idOf(id)
	if !ok {
		return nil, nil
	}
	raw, found, err := t.Backend().HashGet(ctx, t.rowsKey(), strconv.FormatInt(n, 10))
	if err != nil {
		return nil, fmt.Errorf("find %s %d: %w", t.name, n, err)
	}
	if !found {
		return nil, nil
	}
	return t.hydrate(ctx, raw)
}

// FindOrFail is Find returning a *NotFoundError instead of nil.
func (t *Table) FindOrFail(ctx context.Context, id any) (*Record, error) {
	rec, err := t.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &NotFoundError{Table: t.name, ID: fmt.Sprint(id)}
	}
	return rec, nil
}

// FindMany returns the rows with the given ids in argument order, skipping
// missing ones.
func (t *Table) FindMany(ids ...any) *Collection {
	values := make([]attr.Value, 0, len(ids))
	for _, id := range ids {
		v, err := attr.From(id)
		if err != nil {
			return failed(t, fmt.Errorf("find many %s: %w", t.name, err))
		}
		values = append(values, v)
	}
	return t.findMany(values)
}

func (t *Table) findMany(ids []attr.Value) *Collection {
	return newCollection(t, func(ctx context.Context, yield func(*Record) bool) error {
		for _, id := range ids {
			rec, err := t.Find(ctx, id)
			if err != nil {
				return err
			}
			if rec == nil {
				continue
			}
			if !yield(rec) {
				return nil
			}
		}
		return nil
	})
}

// FindBy returns the records whose field equals value.
func (t *Table) FindBy(field string, value any) *Collection {
	return t.Where(field, value)
}

// FindOneBy returns the first record whose field equals value, or nil.
func (t *Table) FindOneBy(ctx context.Context, field string, value any) (*Record, error) {
	return t.Where(field, value).First(ctx)
}

// FirstOrNew returns the first record matching conditions, or an unsaved
// record built from conditions merged with values.
func (t *Table) FirstOrNew(ctx context.Context, conditions, values map[string]any) (*Record, error) {
	rec, err := t.Search(conditions).First(ctx)
	if err != nil || rec != nil {
		return rec, err
	}
	return t.New(mergeData(conditions, values))
}

// FirstOrCreate is FirstOrNew followed by a save of the new record.
func (t *Table) FirstOrCreate(ctx context.Context, conditions, values map[string]any) (*Record, error) {
	rec, err := t.Search(conditions).First(ctx)
	if err != nil || rec != nil {
		return rec, err
	}
	return t.Create(ctx, mergeData(conditions, values))
}

// UpdateOrCreate updates the first record matching conditions with values,
// or creates one from both.
func (t *Table) UpdateOrCreate(ctx context.Context, conditions, values map[string]any) (*Record, error) {
	rec, err := t.Search(conditions).First(ctx)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return rec.Update(ctx, values)
	}
	return t.Create(ctx, mergeData(conditions, values))
}

// Destroy deletes the rows with the given ids and returns how many were
// removed.
func (t *Table) Destroy(ctx context.Context, ids ...any) (int, error) {
	recs, err := t.FindMany(ids...).All(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range recs {
		ok, err := rec.Delete(ctx)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// Query returns a collection over every row, ordered by id.
func (t *Table) Query() *Collection {
	return newCollection(t, t.scan)
}

// All loads every row, ordered by id.
func (t *Table) All(ctx context.Context) ([]*Record, error) {
	return t.Query().All(ctx)
}

// Where starts a query filtered by field; see Collection.Where.
func (t *Table) Where(field string, args ...any) *Collection {
	return t.Query().Where(field, args...)
}

// Search returns the records matching every field = value pair of data.
func (t *Table) Search(data map[string]any) *Collection {
	c := t.Query()
	for _, k := range sortedKeys(data) {
		c = c.Where(k, data[k])
	}
	return c
}

// Contains reports whether any record matches data.
func (t *Table) Contains(ctx context.Context, data map[string]any) (bool, error) {
	return t.Search(data).IsNotEmpty(ctx)
}

// Count returns the number of rows.
func (t *Table) Count(ctx context.Context) (int64, error) {
	n, err := t.Backend().HashLen(ctx, t.rowsKey())
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", t.name, err)
	}
	return n, nil
}

// Scope applies a registered scope to the whole table.
func (t *Table) Scope(name string, args ...any) *Collection {
	return t.Query().Scope(name, args...)
}

// Has returns the records whose named relation is not empty.
func (t *Table) Has(relation string) *Collection {
	return t.Query().WhereHas(relation)
}

// DoesntHave returns the records whose named relation is empty.
func (t *Table) DoesntHave(relation string) *Collection {
	return t.Query().WhereDoesntHave(relation)
}

// Transaction runs fn inside a backend transaction on the table's
// backend.
func (t *Table) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return backend.Transaction(ctx, t.Backend(), fn)
}

// Drop removes every key of the table: rows, id counter, watermark and
// cache entries.
func (t *Table) Drop(ctx context.Context) error {
	keys, err := t.Backend().Keys(ctx, t.reg.keys.Key(t.name, "*"))
	if err != nil {
		return fmt.Errorf("drop %s: %w", t.name, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if _, err := t.Backend().Delete(ctx, keys...); err != nil {
		return fmt.Errorf("drop %s: %w", t.name, err)
	}
	t.reg.logger.Debug("dropped table", "table", t.name, "keys", len(keys))
	return nil
}

// LastInsertID returns the last allocated id, or 0.
func (t *Table) LastInsertID(ctx context.Context) (int64, error) {
	return t.readCounter(ctx, t.reg.keys.ID(t.name))
}

// Watermark returns the table's last-change marker, or 0 before the first
// write.
func (t *Table) Watermark(ctx context.Context) (int64, error) {
	return t.readCounter(ctx, t.reg.keys.LastChange(t.name))
}

func (t *Table) readCounter(ctx context.Context, key string) (int64, error) {
	v, ok, err := t.Backend().Get(ctx, key)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, backend.NewError(backend.CodeCorrupt, "read counter", key, err)
	}
	return n, nil
}

// Columns returns every attribute name used by any row, in first-seen
// order. An empty table reports id, created_at and updated_at.
func (t *Table) Columns(ctx context.Context) ([]string, error) {
	var cols []string
	seen := make(map[string]bool)
	err := t.Query().Each(ctx, func(rec *Record) error {
		for _, k := range rec.Keys() {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return []string{FieldID, FieldCreatedAt, FieldUpdatedAt}, nil
	}
	return cols, nil
}

// HasColumn reports whether any row stores name.
func (t *Table) HasColumn(ctx context.Context, name string) (bool, error) {
	cols, err := t.Columns(ctx)
	if err != nil {
		return false, err
	}
	return slices.Contains(cols, name), nil
}

// ExportJSON renders every row as an indented JSON array.
func (t *Table) ExportJSON(ctx context.Context) ([]byte, error) {
	return t.Query().ToJSON(ctx)
}

// ImportJSON stores every object of a JSON array as a row and returns the
// number of rows written. Objects carrying an id keep it and the id
// counter is raised past it; the others are created.
func (t *Table) ImportJSON(ctx context.Context, data []byte) (int, error) {
	var rows []json.RawMessage
	if err := json.Unmarshal(data, &rows); err != nil {
		return 0, fmt.Errorf("import %s: %w", t.name, err)
	}

	var maxID int64
	for i, raw := range rows {
		obj, err := decodeRow(t.rowsKey(), string(raw))
		if err != nil {
			return i, fmt.Errorf("import %s row %d: %w", t.name, i, err)
		}
		rec := newRecord(t.reg, t.name, obj)
		if rec.Exists() {
			if err := rec.writeRow(ctx); err != nil {
				return i, err
			}
			maxID = max(maxID, rec.ID())
			continue
		}
		if _, err := rec.Save(ctx); err != nil {
			return i, err
		}
	}

	if err := t.raiseCounter(ctx, maxID); err != nil {
		return len(rows), err
	}
	return len(rows), nil
}

// raiseCounter moves the id counter up to at least n.
func (t *Table) raiseCounter(ctx context.Context, n int64) error {
	cur, err := t.LastInsertID(ctx)
	if err != nil || cur >= n {
		return err
	}
	return t.Backend().Set(ctx, t.reg.keys.ID(t.name), strconv.FormatInt(n, 10))
}

// Call dispatches a dynamic query method:
//
//	where<Field>(args...)       Where on the snake-cased field
//	orderBy<Field>()            ascending sort
//	orderByDesc<Field>()        descending sort
//	groupBy<Field>()            GroupBy terminal, returns []Group
//	findBy<Field>(value)        FindBy, returns *Collection
//	findOneBy<Field>(value)     FindOneBy, returns *Record
//	firstWhere<Field>(args...)  FirstWhere, returns *Record
//
// A registered scope with the exact name wins over every prefix. Unknown
// names return ErrUnknownAccessor.
func (t *Table) Call(ctx context.Context, name string, args ...any) (any, error) {
	if _, ok := t.reg.scope(t.name, name); ok {
		return t.Scope(name, args...), nil
	}
	return t.Query().call(ctx, name, args...)
}

// hydrate decodes a stored row and fires retrieved.
func (t *Table) hydrate(ctx context.Context, raw string) (*Record, error) {
	attrs, err := decodeRow(t.rowsKey(), raw)
	if err != nil {
		return nil, err
	}
	rec := newRecord(t.reg, t.name, attrs)
	if err := rec.fire(ctx, EventRetrieved); err != nil {
		return nil, err
	}
	return rec, nil
}

// scan yields every row ordered by numeric id.
func (t *Table) scan(ctx context.Context, yield func(*Record) bool) error {
	rows, err := t.Backend().HashGetAll(ctx, t.rowsKey())
	if err != nil {
		return fmt.Errorf("scan %s: %w", t.name, err)
	}
	ids := make([]string, 0, len(rows))
	for id := range rows {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, compareIDs)

	for _, id := range ids {
		rec, err := t.hydrate(ctx, rows[id])
		if err != nil {
			return err
		}
		if !yield(rec) {
			return nil
		}
	}
	return nil
}

func compareIDs(a, b string) int {
	an, aerr := strconv.ParseInt(a, 10, 64)
	bn, berr := strconv.ParseInt(b, 10, 64)
	if aerr == nil && berr == nil {
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		}
		return 0
	}
	return strings.Compare(a, b)
}

// idOf converts a lookup argument to a positive row id.
func idOf(id any) (int64, bool) {
	switch v := id.(type) {
	case *Record:
		if v == nil {
			return 0, false
		}
		return v.ID(), v.Exists()
	}
	val, err := attr.From(id)
	if err != nil {
		return 0, false
	}
	n, ok := attr.AsInt(val)
	return n, ok && n > 0
}

func mergeData(a, b map[string]any) map[string]any {
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}
