package attr

import (
	"math"
	"strconv"
	"strings"
)

// Value is a sealed interface representing an attribute value.
// Only Null, String, Int, Float, Bool, Array and *Object implement this.
type Value interface {
	attrValue() // Sealed - only these types implement it
}

// Null represents an explicit null attribute.
type Null struct{}

func (Null) attrValue() {}

// String is a text attribute.
type String string

func (String) attrValue() {}

// Int is an integer attribute. Ids and epoch timestamps are always Int.
type Int int64

func (Int) attrValue() {}

// Float is a non-integral numeric attribute.
type Float float64

func (Float) attrValue() {}

// Bool is a boolean attribute.
type Bool bool

func (Bool) attrValue() {}

// Array is an ordered list of values.
type Array []Value

func (Array) attrValue() {}

// Kind names used by Kind and by the instanceof operator.
const (
	KindNull   = "null"
	KindString = "string"
	KindInt    = "int"
	KindFloat  = "float"
	KindBool   = "bool"
	KindArray  = "array"
	KindObject = "object"
)

// Kind returns the lowercase kind name of v. A nil Value reports "null".
func Kind(v Value) string {
	switch v.(type) {
	case nil, Null:
		return KindNull
	case String:
		return KindString
	case Int:
		return KindInt
	case Float:
		return KindFloat
	case Bool:
		return KindBool
	case Array:
		return KindArray
	case *Object:
		return KindObject
	default:
		return "unknown"
	}
}

// IsNull reports whether v is absent or an explicit null.
func IsNull(v Value) bool {
	switch v.(type) {
	case nil, Null:
		return true
	}
	return false
}

// Truthy applies loose truthiness: null, false, 0, 0.0, "", "0" and empty
// collections are false; everything else is true.
func Truthy(v Value) bool {
	switch val := v.(type) {
	case nil, Null:
		return false
	case String:
		return val != "" && val != "0"
	case Int:
		return val != 0
	case Float:
		return val != 0
	case Bool:
		return bool(val)
	case Array:
		return len(val) > 0
	case *Object:
		return val != nil && val.Len() > 0
	}
	return false
}

// IsEmpty is the negation of Truthy.
func IsEmpty(v Value) bool {
	return !Truthy(v)
}

// Text renders v as loose text: strings as-is, numbers in decimal,
// true as "1", false and null as "", collections as canonical JSON.
func Text(v Value) string {
	switch val := v.(type) {
	case nil, Null:
		return ""
	case String:
		return string(val)
	case Int:
		return strconv.FormatInt(int64(val), 10)
	case Float:
		return formatFloat(float64(val))
	case Bool:
		if val {
			return "1"
		}
		return ""
	default:
		b, err := MarshalCanonical(val)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// AsFloat returns the numeric value of v. Numeric strings count as numbers.
func AsFloat(v Value) (float64, bool) {
	switch val := v.(type) {
	case Int:
		return float64(val), true
	case Float:
		return float64(val), true
	case Bool:
		if val {
			return 1, true
		}
		return 0, true
	case String:
		return parseNumeric(string(val))
	}
	return 0, false
}

// AsInt returns v as an int64. Floats are truncated; numeric strings parse.
func AsInt(v Value) (int64, bool) {
	switch val := v.(type) {
	case Int:
		return int64(val), true
	case Float:
		return int64(val), true
	case String:
		s := strings.TrimSpace(string(val))
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
		if f, ok := parseNumeric(s); ok {
			return int64(f), true
		}
	}
	return 0, false
}

// IsNumeric reports whether v is a number or a numeric string.
func IsNumeric(v Value) bool {
	switch val := v.(type) {
	case Int, Float:
		return true
	case String:
		_, ok := parseNumeric(string(val))
		return ok
	}
	return false
}

func parseNumeric(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func formatFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
