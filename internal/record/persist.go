package record

import (
	"context"
	"fmt"
	"strconv"

	"github.com/roach88/kvsql/internal/attr"
	"github.com/roach88/kvsql/internal/backend"
)

// Save persists the record when it is dirty and mutable.
//
// Insert path (no id): creating, allocate id, stamp created_at and
// updated_at, store, created, saved. Update path: updating, stamp
// updated_at, store, updated, saved. Both start with saving.
//
// Save returns a new Record holding the persisted state; the receiver is
// also marked clean so a second Save without changes writes nothing.
func (r *Record) Save(ctx context.Context) (*Record, error) {
	if r.immutable || !r.IsDirty() {
		return r, nil
	}

	if err := r.fire(ctx, EventSaving); err != nil {
		return nil, err
	}

	var (
		saved *Record
		err   error
	)
	if r.Exists() {
		saved, err = r.update(ctx)
	} else {
		saved, err = r.insert(ctx)
	}
	if err != nil {
		return nil, err
	}

	if err := saved.fire(ctx, EventSaved); err != nil {
		return nil, err
	}
	return saved, nil
}

func (r *Record) update(ctx context.Context) (*Record, error) {
	if err := r.fire(ctx, EventUpdating); err != nil {
		return nil, err
	}
	attrs := r.attrs.Clone()
	attrs.Set(FieldUpdatedAt, attr.Int(r.reg.now().Unix()))

	updated, err := r.store(ctx, attrs)
	if err != nil {
		return nil, err
	}
	if err := updated.fire(ctx, EventUpdated); err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *Record) insert(ctx context.Context) (*Record, error) {
	if err := r.fire(ctx, EventCreating); err != nil {
		return nil, err
	}

	id, err := r.backend().Increment(ctx, r.keys().ID(r.table))
	if err != nil {
		return nil, fmt.Errorf("allocate %s id: %w", r.table, err)
	}
	now := attr.Int(r.reg.now().Unix())
	attrs := r.attrs.Clone()
	attrs.Set(FieldID, attr.Int(id))
	attrs.Set(FieldCreatedAt, now)
	attrs.Set(FieldUpdatedAt, now)

	inserted, err := r.store(ctx, attrs)
	if err != nil {
		return nil, err
	}
	if err := inserted.fire(ctx, EventCreated); err != nil {
		return nil, err
	}
	return inserted, nil
}

// store writes attrs as the row, bumps the watermark and syncs pending
// pivots. The receiver adopts attrs only once the row is written, and
// stays dirty until every step succeeds.
func (r *Record) store(ctx context.Context, attrs *attr.Object) (*Record, error) {
	if err := r.derive(attrs).putRow(ctx); err != nil {
		return nil, err
	}
	r.attrs = attrs
	if err := bumpWatermark(ctx, r.reg, r.table); err != nil {
		return nil, err
	}
	if err := r.syncPendingPivots(ctx); err != nil {
		return nil, err
	}
	r.original = r.attrs.Clone()
	return r.derive(r.attrs.Clone()), nil
}

func (r *Record) writeRow(ctx context.Context) error {
	if err := r.putRow(ctx); err != nil {
		return err
	}
	return bumpWatermark(ctx, r.reg, r.table)
}

func (r *Record) putRow(ctx context.Context) error {
	data, err := attr.Encode(r.attrs)
	if err != nil {
		return fmt.Errorf("encode %s: %w", r, err)
	}
	if err := r.backend().HashSet(ctx, r.keys().Rows(r.table), r.idString(), string(data)); err != nil {
		return fmt.Errorf("store %s: %w", r, err)
	}
	return nil
}

// bumpWatermark advances the table's lastchange key. The stored value is
// in nanoseconds and strictly increases even when the clock does not.
func bumpWatermark(ctx context.Context, reg *Registry, table string) error {
	b := reg.Backend(table)
	key := reg.keys.LastChange(table)

	next := reg.now().UnixNano()
	cur, ok, err := b.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("read watermark: %w", err)
	}
	if ok {
		if prev, perr := strconv.ParseInt(cur, 10, 64); perr == nil && next <= prev {
			next = prev + 1
		}
	}
	if err := b.Set(ctx, key, strconv.FormatInt(next, 10)); err != nil {
		return fmt.Errorf("write watermark: %w", err)
	}
	return nil
}

// Touch stamps updated_at and stores the row even when nothing changed.
// A record without an id is saved instead.
func (r *Record) Touch(ctx context.Context) (*Record, error) {
	if r.immutable {
		return r, nil
	}
	if !r.Exists() {
		return r.Save(ctx)
	}
	attrs := r.attrs.Clone()
	attrs.Set(FieldUpdatedAt, attr.Int(r.reg.now().Unix()))
	return r.store(ctx, attrs)
}

// Update applies data with Set coercion and saves.
func (r *Record) Update(ctx context.Context, data map[string]any) (*Record, error) {
	if r.immutable {
		return r, nil
	}
	if err := r.SetMany(data); err != nil {
		return nil, err
	}
	return r.Save(ctx)
}

// Delete removes the row. It reports whether the row is absent
// afterwards; immutable records and records without an id report false.
func (r *Record) Delete(ctx context.Context) (bool, error) {
	if r.immutable || !r.Exists() {
		return false, nil
	}

	if err := r.fire(ctx, EventDeleting); err != nil {
		return false, err
	}
	rows := r.keys().Rows(r.table)
	if _, err := r.backend().HashDelete(ctx, rows, r.idString()); err != nil {
		return false, fmt.Errorf("delete %s: %w", r, err)
	}
	if err := bumpWatermark(ctx, r.reg, r.table); err != nil {
		return false, err
	}
	if err := r.fire(ctx, EventDeleted); err != nil {
		return false, err
	}

	_, present, err := r.backend().HashGet(ctx, rows, r.idString())
	if err != nil {
		return false, fmt.Errorf("verify delete %s: %w", r, err)
	}
	return !present, nil
}

// SoftDelete stamps deleted_at and saves. It reports whether the reloaded
// row carries deleted_at.
func (r *Record) SoftDelete(ctx context.Context) (bool, error) {
	if r.immutable || !r.Exists() {
		return false, nil
	}

	if err := r.fire(ctx, EventDeleting); err != nil {
		return false, err
	}
	r.attrs.Set(FieldDeletedAt, attr.Int(r.reg.now().Unix()))
	if _, err := r.Save(ctx); err != nil {
		return false, err
	}
	if err := r.fire(ctx, EventDeleted); err != nil {
		return false, err
	}

	fresh, err := r.Fresh(ctx)
	if err != nil {
		return false, err
	}
	return fresh != nil && !attr.IsNull(fresh.Attr(FieldDeletedAt)), nil
}

// Trashed reports whether the record is soft-deleted.
func (r *Record) Trashed() bool {
	return !attr.IsNull(r.Attr(FieldDeletedAt))
}

// Restore clears deleted_at and saves.
func (r *Record) Restore(ctx context.Context) (*Record, error) {
	if r.immutable || !r.Exists() {
		return r, nil
	}

	if err := r.fire(ctx, EventRestoring); err != nil {
		return nil, err
	}
	r.attrs.Delete(FieldDeletedAt)
	restored, err := r.Save(ctx)
	if err != nil {
		return nil, err
	}
	if err := restored.fire(ctx, EventRestored); err != nil {
		return nil, err
	}
	return restored, nil
}

// Duplicate persists a copy of the record under a new id.
func (r *Record) Duplicate(ctx context.Context) (*Record, error) {
	if r.immutable {
		return r, nil
	}

	if err := r.fire(ctx, EventDuplicating); err != nil {
		return nil, err
	}
	attrs := r.attrs.Clone()
	attrs.Delete(FieldID)
	attrs.Delete(FieldCreatedAt)
	attrs.Delete(FieldUpdatedAt)

	dup := newRecord(r.reg, r.table, attrs)
	dup.hooks = r.hooks.clone()
	dup.indexData = r.indexData
	saved, err := dup.Save(ctx)
	if err != nil {
		return nil, err
	}
	if err := saved.fire(ctx, EventDuplicated); err != nil {
		return nil, err
	}
	return saved, nil
}

// Fresh re-reads the row and returns a new Record. It returns the
// receiver when the record has no id, and nil when the row is gone.
func (r *Record) Fresh(ctx context.Context) (*Record, error) {
	if !r.Exists() {
		return r, nil
	}
	raw, ok, err := r.backend().HashGet(ctx, r.keys().Rows(r.table), r.idString())
	if err != nil {
		return nil, fmt.Errorf("fresh %s: %w", r, err)
	}
	if !ok {
		return nil, nil
	}
	attrs, err := decodeRow(r.keys().Rows(r.table), raw)
	if err != nil {
		return nil, err
	}
	out := r.derive(attrs)
	return out, nil
}

func decodeRow(key, raw string) (*attr.Object, error) {
	v, err := attr.Decode([]byte(raw))
	if err != nil {
		return nil, backend.NewError(backend.CodeCorrupt, "decode row", key, err)
	}
	obj, ok := v.(*attr.Object)
	if !ok {
		return nil, backend.NewError(backend.CodeCorrupt, "decode row", key,
			fmt.Errorf("row is a %s, not an object", attr.Kind(v)))
	}
	return obj, nil
}

func (r *Record) backend() backend.Backend {
	return r.reg.Backend(r.table)
}

func (r *Record) keys() backend.Keyspace {
	return r.reg.keys
}
