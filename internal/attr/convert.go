package attr

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"time"
)

// From converts a Go value into a Value.
//
// Supported inputs: nil, Value, string, bool, every int/uint/float kind,
// json.Number, time.Time (epoch seconds), []byte (as string), slices,
// and maps with string keys (keys sorted, since Go maps are unordered).
// Anything else round-trips through encoding/json.
func From(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case []byte:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int8:
		return Int(val), nil
	case int16:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint:
		return Int(val), nil
	case uint8:
		return Int(val), nil
	case uint16:
		return Int(val), nil
	case uint32:
		return Int(val), nil
	case uint64:
		return Int(val), nil
	case float32:
		return Float(val), nil
	case float64:
		return Float(val), nil
	case json.Number:
		return numberValue(val)
	case time.Time:
		return Int(val.Unix()), nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			av, err := From(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = av
		}
		return arr, nil
	case []string:
		arr := make(Array, len(val))
		for i, s := range val {
			arr[i] = String(s)
		}
		return arr, nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		obj := NewObject()
		for _, k := range keys {
			av, err := From(val[k])
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			obj.Set(k, av)
		}
		return obj, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		arr := make(Array, rv.Len())
		for i := range arr {
			av, err := From(rv.Index(i).Interface())
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = av
		}
		return arr, nil
	case reflect.Pointer:
		if rv.IsNil() {
			return Null{}, nil
		}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("unsupported type %T: %w", v, err)
	}
	return Decode(data)
}

// MustFrom is like From but panics on error. Intended for literals in tests
// and static tables.
func MustFrom(v any) Value {
	av, err := From(v)
	if err != nil {
		panic(err)
	}
	return av
}

// ToAny converts a Value into plain Go values: nil, string, int64, float64,
// bool, []any and map[string]any.
func ToAny(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Float:
		return float64(val)
	case Bool:
		return bool(val)
	case Array:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToAny(elem)
		}
		return out
	case *Object:
		out := make(map[string]any, val.Len())
		val.Range(func(k string, elem Value) bool {
			out[k] = ToAny(elem)
			return true
		})
		return out
	}
	return nil
}

// ObjectFrom converts a map or struct into an *Object.
func ObjectFrom(v any) (*Object, error) {
	if obj, ok := v.(*Object); ok {
		return obj, nil
	}
	av, err := From(v)
	if err != nil {
		return nil, err
	}
	obj, ok := av.(*Object)
	if !ok {
		return nil, fmt.Errorf("attr: %T is not an object", v)
	}
	return obj, nil
}
