package record

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/roach88/kvsql/internal/attr"
	"github.com/roach88/kvsql/internal/inflect"
)

// PivotTable names the link table between tables a and b: the two names
// sorted and joined by "_" (book, author => author_book).
func PivotTable(a, b string) string {
	names := []string{a, b}
	slices.Sort(names)
	return names[0] + "_" + names[1]
}

// ForeignKey returns the conventional column pointing at table.
func ForeignKey(table string) string {
	return table + "_id"
}

type relConfig struct {
	foreignKey string
	pivot      string
	localKey   string
	relatedKey string
	typeColumn string
	idColumn   string
	ownerKey   string
}

// RelOption overrides a relation naming convention.
type RelOption func(*relConfig)

// WithForeignKey sets the foreign key column of BelongsTo, HasMany and
// HasOne.
func WithForeignKey(column string) RelOption {
	return func(c *relConfig) {
		c.foreignKey = column
	}
}

// WithPivot sets the pivot table of a many-to-many relation.
func WithPivot(table string) RelOption {
	return func(c *relConfig) {
		c.pivot = table
	}
}

// WithPivotKeys sets the pivot columns pointing at the owner and at the
// related table.
func WithPivotKeys(local, related string) RelOption {
	return func(c *relConfig) {
		c.localKey = local
		c.relatedKey = related
	}
}

// WithMorphColumns sets the type and id columns of a polymorphic relation.
func WithMorphColumns(typeColumn, idColumn string) RelOption {
	return func(c *relConfig) {
		c.typeColumn = typeColumn
		c.idColumn = idColumn
	}
}

// WithOwnerKey sets the owner attribute matched by a polymorphic id
// column. Default: id.
func WithOwnerKey(key string) RelOption {
	return func(c *relConfig) {
		c.ownerKey = key
	}
}

func relOptions(opts []RelOption) relConfig {
	var c relConfig
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// BelongsTo returns the record of table referenced by "<table>_id". It
// returns nil when the column is unset or the row is gone.
func (r *Record) BelongsTo(ctx context.Context, table string, opts ...RelOption) (*Record, error) {
	c := relOptions(opts)
	fk := cmp.Or(c.foreignKey, ForeignKey(table))
	id := r.Attr(fk)
	if attr.IsNull(id) {
		return nil, nil
	}
	return r.reg.Table(table).Find(ctx, id)
}

// HasMany returns the records of table whose "<self>_id" is the
// receiver's id.
func (r *Record) HasMany(table string, opts ...RelOption) *Collection {
	c := relOptions(opts)
	fk := cmp.Or(c.foreignKey, ForeignKey(r.table))
	return r.reg.Table(table).Where(fk, r.ID())
}

// HasOne returns the first HasMany match, or nil.
func (r *Record) HasOne(ctx context.Context, table string, opts ...RelOption) (*Record, error) {
	return r.HasMany(table, opts...).First(ctx)
}

// BelongsToMany resolves table through the pivot: pivot rows whose owner
// column matches the receiver's id are projected on the related column
// and the related rows are fetched in pivot order.
func (r *Record) BelongsToMany(table string, opts ...RelOption) *Collection {
	c := relOptions(opts)
	pivot := cmp.Or(c.pivot, PivotTable(r.table, table))
	local := cmp.Or(c.localKey, ForeignKey(r.table))
	related := cmp.Or(c.relatedKey, ForeignKey(table))

	target := r.reg.Table(table)
	links := r.reg.Table(pivot).Where(local, r.ID())
	return newCollection(target, func(ctx context.Context, yield func(*Record) bool) error {
		ids, err := links.Pluck(ctx, related)
		if err != nil {
			return err
		}
		return target.findMany(ids).src(ctx, yield)
	})
}

// HasManyThrough resolves table via the through table, whose rows link
// "<self>_id" to "<table>_id".
func (r *Record) HasManyThrough(table, through string, opts ...RelOption) *Collection {
	return r.BelongsToMany(table, append([]RelOption{WithPivot(through)}, opts...)...)
}

// HasOneThrough returns the first HasManyThrough match, or nil.
func (r *Record) HasOneThrough(ctx context.Context, table, through string, opts ...RelOption) (*Record, error) {
	return r.HasManyThrough(table, through, opts...).First(ctx)
}

// MorphMany returns the records of table that point at the receiver
// through "<table>able_type" (the receiver's table) and "<table>able_id".
func (r *Record) MorphMany(table string, opts ...RelOption) *Collection {
	c := relOptions(opts)
	able := table + "able"
	typeCol := cmp.Or(c.typeColumn, able+"_type")
	idCol := cmp.Or(c.idColumn, able+"_id")
	owner := cmp.Or(c.ownerKey, FieldID)
	return r.reg.Table(table).
		Where(typeCol, r.table).
		Where(idCol, r.Attr(owner))
}

// MorphOne returns the first MorphMany match, or nil.
func (r *Record) MorphOne(ctx context.Context, table string, opts ...RelOption) (*Record, error) {
	return r.MorphMany(table, opts...).First(ctx)
}

// MorphTo returns the first polymorphic row of table attached to the
// receiver, or nil.
func (r *Record) MorphTo(ctx context.Context, table string, opts ...RelOption) (*Record, error) {
	return r.MorphMany(table, opts...).First(ctx)
}

// MorphToMany is MorphMany.
func (r *Record) MorphToMany(table string, opts ...RelOption) *Collection {
	return r.MorphMany(table, opts...)
}

// MorphedByMany is MorphMany.
func (r *Record) MorphedByMany(table string, opts ...RelOption) *Collection {
	return r.MorphMany(table, opts...)
}

// pivotLink returns the pivot table and the link row matching the
// receiver and other.
func (r *Record) pivotLink(other *Record) (*Table, *Collection) {
	pivot := r.reg.Table(PivotTable(r.table, other.table))
	return pivot, pivot.Where(ForeignKey(r.table), r.ID()).Where(ForeignKey(other.table), other.ID())
}

// Attach links other to the receiver through their pivot table, with
// optional extra pivot attributes. It returns false without writing when
// the link already exists.
func (r *Record) Attach(ctx context.Context, other *Record, extra map[string]any) (bool, error) {
	pivot, link := r.pivotLink(other)
	exists, err := link.IsNotEmpty(ctx)
	if err != nil || exists {
		return false, err
	}
	if _, err := r.createLink(ctx, pivot, other.table, other.ID(), extra); err != nil {
		return false, err
	}
	return true, nil
}

// Detach removes the pivot link to other. It returns false when there was
// none.
func (r *Record) Detach(ctx context.Context, other *Record) (bool, error) {
	_, link := r.pivotLink(other)
	exists, err := link.IsNotEmpty(ctx)
	if err != nil || !exists {
		return false, err
	}
	if _, err := link.Delete(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Sync toggles the pivot link to other: an existing link is removed, a
// missing one is created with extra.
func (r *Record) Sync(ctx context.Context, other *Record, extra map[string]any) error {
	pivot, link := r.pivotLink(other)
	exists, err := link.IsNotEmpty(ctx)
	if err != nil {
		return err
	}
	if exists {
		_, err = link.Delete(ctx)
		return err
	}
	_, err = r.createLink(ctx, pivot, other.table, other.ID(), extra)
	return err
}

func (r *Record) createLink(ctx context.Context, pivot *Table, related string, id int64, extra map[string]any) (*Record, error) {
	data := make(map[string]any, len(extra)+2)
	for k, v := range extra {
		data[k] = v
	}
	data[ForeignKey(r.table)] = r.ID()
	data[ForeignKey(related)] = id
	return pivot.Create(ctx, data)
}

// syncPendingPivots replaces the receiver's pivot rows for every plural
// assignment made through Set since the last save. An assignment leaves
// the queue only once it is synced.
func (r *Record) syncPendingPivots(ctx context.Context) error {
	for len(r.pivots) > 0 {
		p := r.pivots[0]
		ids := p.ids
		if p.source != nil {
			recs, err := p.source.All(ctx)
			if err != nil {
				return fmt.Errorf("resolve %s: %w", inflect.Pluralize(p.related), err)
			}
			ids = make([]int64, 0, len(recs))
			for _, rec := range recs {
				ids = append(ids, rec.ID())
			}
		}
		if err := r.replaceLinks(ctx, p.related, ids); err != nil {
			return err
		}
		r.pivots = r.pivots[1:]
	}
	r.pivots = nil
	return nil
}

func (r *Record) replaceLinks(ctx context.Context, related string, ids []int64) error {
	pivot := r.reg.Table(PivotTable(r.table, related))
	if _, err := pivot.Where(ForeignKey(r.table), r.ID()).Delete(ctx); err != nil {
		return fmt.Errorf("clear %s links: %w", pivot.Name(), err)
	}
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, err := r.createLink(ctx, pivot, related, id, nil); err != nil {
			return fmt.Errorf("link %s: %w", pivot.Name(), err)
		}
	}
	r.reg.logger.Debug("synced pivot",
		"pivot", pivot.Name(),
		"owner", r.String(),
		"links", len(ids))
	return nil
}

// Relation resolves a relation by name: a registered relation first, then
// the naming conventions of Get (plural => HasMany of the singular table,
// "<name>_id" set => BelongsTo). The result is a *Record (possibly nil) or
// a *Collection.
func (r *Record) Relation(ctx context.Context, name string) (any, error) {
	if fn, ok := r.reg.relation(r.table, name); ok {
		return fn(ctx, r)
	}
	if inflect.IsPlural(name) {
		return r.HasMany(inflect.Singularize(name)), nil
	}
	if r.attrs.Has(ForeignKey(name)) {
		rec, err := r.BelongsTo(ctx, name)
		if err != nil {
			return nil, err
		}
		return rec, nil
	}
	return nil, fmt.Errorf("%s.%s: %w", r.table, name, ErrUnknownRelation)
}

// Includes reports whether the named relation contains a record whose id
// equals value.
func (r *Record) Includes(ctx context.Context, relation string, value any) (bool, error) {
	rel, err := r.Relation(ctx, relation)
	if err != nil {
		return false, err
	}
	switch v := rel.(type) {
	case *Record:
		return v != nil && v.Is(value), nil
	case *Collection:
		found, err := v.FirstWhere(ctx, FieldID, value)
		if err != nil {
			return false, err
		}
		return found != nil, nil
	}
	return false, nil
}

// relationCount counts the records of a named relation without keeping
// them.
func (r *Record) relationCount(ctx context.Context, name string) (int, error) {
	rel, err := r.Relation(ctx, name)
	if err != nil {
		return 0, err
	}
	switch v := rel.(type) {
	case *Record:
		if v == nil {
			return 0, nil
		}
		return 1, nil
	case *Collection:
		return v.Count(ctx)
	}
	return 0, nil
}
