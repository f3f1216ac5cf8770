// Package meta attaches free-form named values to any record. Values live
// in the meta table as rows {metable_type, metable_id, name, value}, the
// value JSON-encoded so that any type round-trips.
package meta

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/kvsql/internal/record"
)

// TableName is the table holding metadata rows.
const TableName = "meta"

// Metas returns the metadata rows of owner.
func Metas(owner *record.Record) *record.Collection {
	return owner.MorphMany(TableName, record.WithMorphColumns("metable_type", "metable_id"))
}

func find(ctx context.Context, owner *record.Record, name string) (*record.Record, error) {
	return Metas(owner).Filter(func(r *record.Record) bool {
		return r.Text("name") == name
	}).First(ctx)
}

func encode(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decode(row *record.Record, dst any) error {
	if err := json.Unmarshal([]byte(row.Text("value")), dst); err != nil {
		return fmt.Errorf("meta %s: %w", row.Text("name"), err)
	}
	return nil
}

// Meta decodes the value of name into dst and reports whether it was set.
// dst is left untouched when it was not, so callers may pre-fill a
// default.
func Meta(ctx context.Context, owner *record.Record, name string, dst any) (bool, error) {
	row, err := find(ctx, owner, name)
	if err != nil || row == nil {
		return false, err
	}
	return true, decode(row, dst)
}

// FillMetas sets every entry of metas on owner, updating existing names.
func FillMetas(ctx context.Context, owner *record.Record, metas map[string]any) error {
	if !owner.Exists() {
		return fmt.Errorf("fill metas on unsaved %s", owner.Table())
	}
	metaTable := owner.Registry().Table(TableName)
	for _, name := range slices.Sorted(maps.Keys(metas)) {
		raw, err := encode(metas[name])
		if err != nil {
			return fmt.Errorf("meta %s: %w", name, err)
		}
		row, err := find(ctx, owner, name)
		if err != nil {
			return err
		}
		if row != nil {
			if _, err := row.Update(ctx, map[string]any{"value": raw}); err != nil {
				return err
			}
			continue
		}
		_, err = metaTable.Create(ctx, map[string]any{
			"metable_type": owner.Table(),
			"metable_id":   owner.ID(),
			"name":         name,
			"value":        raw,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// DeleteMeta removes name from owner and reports whether it was set.
func DeleteMeta(ctx context.Context, owner *record.Record, name string) (bool, error) {
	row, err := find(ctx, owner, name)
	if err != nil || row == nil {
		return false, err
	}
	return row.Delete(ctx)
}

// HasMeta reports whether name is set on owner.
func HasMeta(ctx context.Context, owner *record.Record, name string) (bool, error) {
	row, err := find(ctx, owner, name)
	return row != nil, err
}

// AllMetas returns every metadata value of owner, decoded.
func AllMetas(ctx context.Context, owner *record.Record) (map[string]any, error) {
	out := make(map[string]any)
	err := Metas(owner).Each(ctx, func(row *record.Record) error {
		var v any
		if err := decode(row, &v); err != nil {
			return err
		}
		out[row.Text("name")] = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
