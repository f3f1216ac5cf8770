package attr

import (
	"bytes"
	"cmp"
	"strings"
)

// Equal reports structural equality via canonical serialization.
// Numbers compare by value regardless of Int/Float representation.
func Equal(a, b Value) bool {
	ab, errA := MarshalCanonical(a)
	bb, errB := MarshalCanonical(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

// Compare orders two values and reports whether they are comparable.
//
// Numbers and numeric strings compare numerically. Two strings compare
// lexically. Bools order false before true. Null sorts before every other
// value. Collections are not ordered.
func Compare(a, b Value) (int, bool) {
	an, bn := IsNull(a), IsNull(b)
	switch {
	case an && bn:
		return 0, true
	case an:
		return -1, true
	case bn:
		return 1, true
	}

	if as, ok := a.(String); ok {
		if bs, ok := b.(String); ok {
			af, aok := parseNumeric(string(as))
			bf, bok := parseNumeric(string(bs))
			if aok && bok {
				return cmp.Compare(af, bf), true
			}
			return strings.Compare(string(as), string(bs)), true
		}
	}

	if ab, ok := a.(Bool); ok {
		if bb, ok := b.(Bool); ok {
			return cmp.Compare(boolRank(bool(ab)), boolRank(bool(bb))), true
		}
	}

	af, aok := AsFloat(a)
	bf, bok := AsFloat(b)
	if aok && bok {
		return cmp.Compare(af, bf), true
	}

	// Mixed string/non-numeric: fall back to text comparison.
	if isScalar(a) && isScalar(b) {
		return strings.Compare(Text(a), Text(b)), true
	}
	return 0, false
}

// SortCompare is Compare with incomparable pairs treated as equal, for use
// with slices.SortStableFunc.
func SortCompare(a, b Value) int {
	c, _ := Compare(a, b)
	return c
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isScalar(v Value) bool {
	switch v.(type) {
	case String, Int, Float, Bool:
		return true
	}
	return false
}
