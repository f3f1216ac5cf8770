package attr

import "slices"

// Object is an insertion-ordered string-keyed map of values.
// The zero value is ready to use. Use Keys() for stored order and
// SortedKeys() for canonical order.
type Object struct {
	keys []string
	vals map[string]Value
}

func (*Object) attrValue() {}

// Pair is a key/value pair for ordered Object construction.
type Pair struct {
	Key   string
	Value Value
}

// P is a shorthand for Pair.
// Example: NewObject(P("name", String("ann")), P("age", Int(30)))
func P(key string, value Value) Pair {
	return Pair{Key: key, Value: value}
}

// NewObject creates an Object from pairs, in order.
func NewObject(pairs ...Pair) *Object {
	obj := &Object{vals: make(map[string]Value, len(pairs))}
	for _, p := range pairs {
		obj.Set(p.Key, p.Value)
	}
	return obj
}

// Len returns the number of keys.
func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

// Get returns the value stored under key.
func (o *Object) Get(key string) (Value, bool) {
	if o == nil || o.vals == nil {
		return nil, false
	}
	v, ok := o.vals[key]
	return v, ok
}

// Has reports whether key is present, even if its value is Null.
func (o *Object) Has(key string) bool {
	_, ok := o.Get(key)
	return ok
}

// Set stores value under key. New keys are appended; existing keys keep
// their position. A nil value is stored as Null.
func (o *Object) Set(key string, value Value) {
	if value == nil {
		value = Null{}
	}
	if o.vals == nil {
		o.vals = make(map[string]Value)
	}
	if _, ok := o.vals[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.vals[key] = value
}

// Delete removes key. Missing keys are ignored.
func (o *Object) Delete(key string) {
	if o == nil || o.vals == nil {
		return
	}
	if _, ok := o.vals[key]; !ok {
		return
	}
	delete(o.vals, key)
	if i := slices.Index(o.keys, key); i >= 0 {
		o.keys = slices.Delete(o.keys, i, i+1)
	}
}

// Keys returns a copy of the keys in insertion order.
func (o *Object) Keys() []string {
	if o == nil {
		return nil
	}
	return slices.Clone(o.keys)
}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
func (o *Object) SortedKeys() []string {
	keys := o.Keys()
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// Range calls fn for each entry in insertion order until fn returns false.
func (o *Object) Range(fn func(key string, value Value) bool) {
	if o == nil {
		return
	}
	for _, k := range o.keys {
		if !fn(k, o.vals[k]) {
			return
		}
	}
}

// Clone returns a deep copy of o.
func (o *Object) Clone() *Object {
	out := &Object{vals: make(map[string]Value, o.Len())}
	o.Range(func(k string, v Value) bool {
		out.Set(k, CloneValue(v))
		return true
	})
	return out
}

// Merge copies every entry of other into o, overwriting existing keys.
func (o *Object) Merge(other *Object) {
	other.Range(func(k string, v Value) bool {
		o.Set(k, CloneValue(v))
		return true
	})
}

// CloneValue returns a deep copy of v. Scalars are returned unchanged.
func CloneValue(v Value) Value {
	switch val := v.(type) {
	case Array:
		out := make(Array, len(val))
		for i, elem := range val {
			out[i] = CloneValue(elem)
		}
		return out
	case *Object:
		if val == nil {
			return Null{}
		}
		return val.Clone()
	}
	return v
}
