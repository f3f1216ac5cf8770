package compare

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/roach88/kvsql/internal/attr"
)

func TestEvaluate(t *testing.T) {
	a, b := 0.1, 0.2

	tests := []struct {
		name     string
		actual   attr.Value
		op       string
		expected any
		want     bool
	}{
		{"loose equal int string", attr.Int(1), "=", "1", true},
		{"equal strings", attr.String("a"), "==", "a", true},
		{"equal arrays", attr.Array{attr.Int(1), attr.Int(2)}, "===", []any{1, 2}, true},
		{"arrays differ by order", attr.Array{attr.Int(2), attr.Int(1)}, "=", []any{1, 2}, false},
		{"not equal", attr.Int(1), "!=", 2, true},
		{"diamond", attr.String("x"), "<>", "x", false},
		{"gt", attr.Int(5), ">", 3, true},
		{"gt numeric strings", attr.String("10"), "gt", "9", true},
		{"lte equal", attr.Int(3), "<=", 3, true},
		{"lt", attr.Float(2.5), "lt", 2, false},
		{"between reversed bounds", attr.Int(5), "between", "10, 1", true},
		{"between array", attr.Int(11), "between", []any{1, 10}, false},
		{"between inclusive", attr.Int(10), "between", []any{1, 10}, true},
		{"not between", attr.Int(11), "not between", "1,10", true},
		{"in csv", attr.String("b"), "in", "a, b, c", true},
		{"in array", attr.Int(2), "in", []any{1, 2}, true},
		{"in array miss", attr.Int(3), "in", []any{1, 2}, false},
		{"between range", attr.Int(5), "between", []any{1, 10}, true},
		{"like accented title", attr.String("Les Fleurs du mal"), "like", "%mal", true},
		{"not in", attr.String("z"), "not in", "a,b", true},
		{"like suffix", attr.String("hello world"), "like", "%world", true},
		{"like prefix", attr.String("Hello"), "LIKE", "hel%", true},
		{"like anchored at end", attr.String("hello"), "like", "%ell", false},
		{"like star", attr.String("report.pdf"), "match", "*.pdf", true},
		{"like literal dot", attr.String("axb"), "like", "a.b", false},
		{"not like", attr.String("hello"), "not like", "%xyz", true},
		{"contains", attr.String("haystack"), "contains", "st", true},
		{"contains any needle", attr.String("abc"), "contains", []any{"x", "b"}, true},
		{"contains empty needle", attr.String("abc"), "contains", "", false},
		{"not contains", attr.String("abc"), "not contains", "z", true},
		{"starts with", attr.String("prefix-x"), "starts with", "prefix", true},
		{"ends_with", attr.String("file.go"), "ends_with", ".go", true},
		{"not ends with", attr.String("file.go"), "not ends with", ".rs", true},
		{"regex delimited", attr.String("abc123"), "regex", `/\d+$/`, true},
		{"regex flags", attr.String("ABC"), "pattern", "/abc/i", true},
		{"regex bare", attr.String("abc"), "regex", "^a", true},
		{"not regex", attr.String("abc"), "not regex", "^z", true},
		{"instanceof kind", attr.Int(1), "instanceof", "int", true},
		{"instanceof number", attr.Float(1.5), "instanceof", "number", true},
		{"instanceof array", attr.Array{}, "instanceof", "array", true},
		{"not instanceof", attr.String("s"), "not instanceof", "int", true},
		{"true", attr.Bool(true), "true", nil, true},
		{"true is strict", attr.Int(1), "true", nil, false},
		{"false", attr.Bool(false), "false", nil, true},
		{"is null", attr.Null{}, "is null", nil, true},
		{"empty string is null", attr.String(""), "is null", nil, true},
		{"is not null", attr.String("x"), "is not null", nil, true},
		{"empty array", attr.Array{}, "empty", nil, true},
		{"fuzzy close", attr.String("kitten"), "fuzzy", "sitten", true},
		{"fuzzy far", attr.String("abc"), "levenshtein", "xyz", false},
		{"not fuzzy", attr.String("abc"), "not fuzzy", "xyz", true},
		{"soundex", attr.String("Robert"), "soundex", "Rupert", true},
		{"not soundex", attr.String("Robert"), "not soundex", "Tymczak", true},
		{"similar text", attr.String("World"), "similar text", "Word", true},
		{"not similar text", attr.String("abc"), "not similar_text", "xyz", true},
		{"almost", attr.Float(a + b), "almost", 0.3, true},
		{"not almost", attr.Int(1), "not almost", 1.1, true},
		{"is json", attr.String(`{"a":1}`), "is json", nil, true},
		{"is json rejects text", attr.String("nope"), "is json", nil, false},
		{"unknown operator", attr.Int(1), "sorta", 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.actual, tt.op, tt.expected))
		})
	}
}

func TestEvaluateExactlyOneObject(t *testing.T) {
	obj := attr.NewObject(attr.P("k", attr.Int(1)))

	assert.False(t, Evaluate(obj, "=", "x"))
	assert.True(t, Evaluate(obj, "!=", "x"))
	assert.True(t, Evaluate(obj, "<>", "x"))
	assert.True(t, Evaluate(obj, "not like", "x"))
	assert.False(t, Evaluate(obj, "like", "x"))
	assert.False(t, Evaluate(attr.String("x"), "contains", obj))

	// Both objects compare structurally.
	same := attr.NewObject(attr.P("k", attr.Int(1)))
	assert.True(t, Evaluate(obj, "=", same))
}

func TestEvaluateCustomPredicate(t *testing.T) {
	even := func(v attr.Value) bool {
		n, ok := attr.AsInt(v)
		return ok && n%2 == 0
	}
	assert.True(t, Evaluate(attr.Int(4), "custom", even))
	assert.False(t, Evaluate(attr.Int(3), "filter", Predicate(even)))
	assert.False(t, Evaluate(attr.Int(4), "custom", "not a function"))
}

func TestEvaluateHash(t *testing.T) {
	hashed, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	stored := attr.String(hashed)
	assert.True(t, Evaluate(stored, "hash", "s3cret"))
	assert.False(t, Evaluate(stored, "hash", "wrong"))
	assert.True(t, Evaluate(stored, "not hash", "wrong"))
	assert.False(t, Evaluate(attr.String(""), "hash", ""))
}

func TestSoundex(t *testing.T) {
	assert.Equal(t, "R163", Soundex("Robert"))
	assert.Equal(t, "R163", Soundex("Rupert"))
	assert.Equal(t, "T522", Soundex("Tymczak"))
	assert.Equal(t, "L000", Soundex("Lee"))
	assert.Equal(t, "", Soundex("123"))
}

func TestSimilarText(t *testing.T) {
	assert.Equal(t, 4, SimilarText("World", "Word"))
	assert.Equal(t, 0, SimilarText("abc", "xyz"))
	assert.Equal(t, 0, SimilarText("", "abc"))
}

func TestIsKnown(t *testing.T) {
	assert.True(t, IsKnown("NOT LIKE"))
	assert.True(t, IsKnown(" between "))
	assert.False(t, IsKnown("approximately"))
	assert.False(t, NeedsOperand("is null"))
	assert.True(t, NeedsOperand("like"))
}
