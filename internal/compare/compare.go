package compare

import (
	"math"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"golang.org/x/crypto/bcrypt"

	"github.com/roach88/kvsql/internal/attr"
)

// Predicate is the operand of the custom and filter operators.
type Predicate func(attr.Value) bool

// almostEpsilon is the tolerance of the almost operator.
const almostEpsilon = 1e-7

// Operators lists every recognised operator spelling in lowercase.
var Operators = []string{
	"=", "==", "===", "!=", "<>", "!==",
	">", "gt", ">=", "gte", "<", "lt", "<=", "lte",
	"between", "not between", "in", "not in",
	"like", "match", "not like", "not match",
	"contains", "not contains",
	"starts with", "starts_with", "not starts with", "not starts_with",
	"ends with", "ends_with", "not ends with", "not ends_with",
	"regex", "pattern", "not regex", "not pattern",
	"instanceof", "not instanceof",
	"true", "false",
	"empty", "null", "is null", "is",
	"not empty", "not null", "is not empty", "is not null", "is not",
	"levenshtein", "fuzzy", "not levenshtein", "not fuzzy",
	"soundex", "not soundex",
	"similar text", "similar_text", "not similar text", "not similar_text",
	"hash", "not hash",
	"almost", "not almost",
	"is json",
	"custom", "filter",
}

// IsKnown reports whether op names a supported operator.
func IsKnown(op string) bool {
	return slices.Contains(Operators, normalize(op))
}

// NeedsOperand reports whether op consumes an expected value. Emptiness,
// boolean and "is json" checks do not.
func NeedsOperand(op string) bool {
	switch normalize(op) {
	case "true", "false", "empty", "null", "is null", "is",
		"not empty", "not null", "is not empty", "is not null", "is not", "is json":
		return false
	}
	return true
}

func normalize(op string) string {
	return strings.ToLower(strings.TrimSpace(op))
}

// Equal is the loose equality used by "=" and by In membership.
func Equal(a, b attr.Value) bool {
	if isCollection(a) || isCollection(b) {
		return attr.Equal(a, b)
	}
	af, aok := numberOf(a)
	bf, bok := numberOf(b)
	if aok && bok {
		return af == bf
	}
	return attr.Text(a) == attr.Text(b)
}

// Evaluate applies op to actual and expected.
func Evaluate(actual attr.Value, op string, expected any) bool {
	op = normalize(op)

	switch op {
	case "custom", "filter":
		switch fn := expected.(type) {
		case Predicate:
			return fn(actual)
		case func(attr.Value) bool:
			return fn(actual)
		}
		return false
	}

	exp, err := attr.From(expected)
	if err != nil {
		exp = attr.Null{}
	}
	if actual == nil {
		actual = attr.Null{}
	}

	if isObject(actual) != isObject(exp) {
		return strings.HasPrefix(op, "not ") || op == "!=" || op == "<>" || op == "!=="
	}

	switch op {
	case "=", "==", "===":
		return Equal(actual, exp)
	case "!=", "<>", "!==":
		return !Equal(actual, exp)
	case ">", "gt":
		c, ok := attr.Compare(actual, exp)
		return ok && c > 0
	case "<", "lt":
		c, ok := attr.Compare(actual, exp)
		return ok && c < 0
	case ">=", "gte":
		c, ok := attr.Compare(actual, exp)
		return ok && c >= 0
	case "<=", "lte":
		c, ok := attr.Compare(actual, exp)
		return ok && c <= 0
	case "between":
		lo, hi, ok := bounds(exp)
		return ok && inRange(actual, lo, hi)
	case "not between":
		lo, hi, ok := bounds(exp)
		return ok && !inRange(actual, lo, hi)
	case "in":
		return contains(listOf(exp), actual)
	case "not in":
		return !contains(listOf(exp), actual)
	case "like", "match":
		return like(attr.Text(actual), attr.Text(exp))
	case "not like", "not match":
		return !like(attr.Text(actual), attr.Text(exp))
	case "contains":
		return anyNeedle(exp, func(n string) bool { return strings.Contains(attr.Text(actual), n) })
	case "not contains":
		return !anyNeedle(exp, func(n string) bool { return strings.Contains(attr.Text(actual), n) })
	case "starts with", "starts_with":
		return anyNeedle(exp, func(n string) bool { return strings.HasPrefix(attr.Text(actual), n) })
	case "not starts with", "not starts_with":
		return !anyNeedle(exp, func(n string) bool { return strings.HasPrefix(attr.Text(actual), n) })
	case "ends with", "ends_with":
		return anyNeedle(exp, func(n string) bool { return strings.HasSuffix(attr.Text(actual), n) })
	case "not ends with", "not ends_with":
		return !anyNeedle(exp, func(n string) bool { return strings.HasSuffix(attr.Text(actual), n) })
	case "regex", "pattern":
		re, ok := compilePattern(attr.Text(exp))
		return ok && re.MatchString(attr.Text(actual))
	case "not regex", "not pattern":
		re, ok := compilePattern(attr.Text(exp))
		return ok && !re.MatchString(attr.Text(actual))
	case "instanceof":
		return instanceOf(actual, exp)
	case "not instanceof":
		return !instanceOf(actual, exp)
	case "true":
		return actual == attr.Bool(true)
	case "false":
		return actual == attr.Bool(false)
	case "empty", "null", "is null", "is":
		return attr.IsEmpty(actual)
	case "not empty", "not null", "is not empty", "is not null", "is not":
		return attr.Truthy(actual)
	case "levenshtein", "fuzzy":
		return withinDistance(attr.Text(actual), attr.Text(exp))
	case "not levenshtein", "not fuzzy":
		return !withinDistance(attr.Text(actual), attr.Text(exp))
	case "soundex":
		return Soundex(attr.Text(actual)) == Soundex(attr.Text(exp))
	case "not soundex":
		return Soundex(attr.Text(actual)) != Soundex(attr.Text(exp))
	case "similar text", "similar_text":
		return SimilarText(attr.Text(actual), attr.Text(exp)) > 0
	case "not similar text", "not similar_text":
		return SimilarText(attr.Text(actual), attr.Text(exp)) == 0
	case "hash":
		return verifyHash(attr.Text(actual), attr.Text(exp))
	case "not hash":
		return !verifyHash(attr.Text(actual), attr.Text(exp))
	case "almost":
		a, aok := numberOf(actual)
		b, bok := numberOf(exp)
		return aok && bok && math.Abs(a-b) < almostEpsilon
	case "not almost":
		a, aok := numberOf(actual)
		b, bok := numberOf(exp)
		return !aok || !bok || math.Abs(a-b) >= almostEpsilon
	case "is json":
		s, ok := actual.(attr.String)
		return ok && attr.ValidJSON(string(s))
	}

	return false
}

func isObject(v attr.Value) bool {
	_, ok := v.(*attr.Object)
	return ok
}

func isCollection(v attr.Value) bool {
	switch v.(type) {
	case attr.Array, *attr.Object:
		return true
	}
	return false
}

// numberOf treats Int, Float and numeric strings as numbers. Bools are not
// numbers here so that "1" and true stay distinguishable by text.
func numberOf(v attr.Value) (float64, bool) {
	if _, ok := v.(attr.Bool); ok {
		return 0, false
	}
	return attr.AsFloat(v)
}

// listOf splits a comma-separated string or returns an array's elements.
func listOf(v attr.Value) []attr.Value {
	switch val := v.(type) {
	case attr.Array:
		return val
	case attr.String:
		parts := strings.Split(string(val), ",")
		out := make([]attr.Value, len(parts))
		for i, p := range parts {
			out[i] = attr.String(strings.TrimSpace(p))
		}
		return out
	case attr.Null:
		return nil
	}
	return []attr.Value{v}
}

func contains(list []attr.Value, v attr.Value) bool {
	for _, elem := range list {
		if Equal(elem, v) {
			return true
		}
	}
	return false
}

// bounds returns the min and max of a range operand, in either order.
func bounds(v attr.Value) (lo, hi attr.Value, ok bool) {
	list := listOf(v)
	if len(list) == 0 {
		return nil, nil, false
	}
	lo, hi = list[0], list[0]
	for _, elem := range list[1:] {
		if c, ok := attr.Compare(elem, lo); ok && c < 0 {
			lo = elem
		}
		if c, ok := attr.Compare(elem, hi); ok && c > 0 {
			hi = elem
		}
	}
	return lo, hi, true
}

func inRange(v, lo, hi attr.Value) bool {
	c1, ok1 := attr.Compare(v, lo)
	c2, ok2 := attr.Compare(v, hi)
	return ok1 && ok2 && c1 >= 0 && c2 <= 0
}

// anyNeedle reports whether fn holds for any non-empty needle. The
// operand may be a single string or an array of strings.
func anyNeedle(v attr.Value, fn func(string) bool) bool {
	var needles []string
	if arr, ok := v.(attr.Array); ok {
		for _, elem := range arr {
			needles = append(needles, attr.Text(elem))
		}
	} else {
		needles = []string{attr.Text(v)}
	}
	for _, n := range needles {
		if n != "" && fn(n) {
			return true
		}
	}
	return false
}

// like matches SQL-style wildcards (% and * match any run), case
// insensitively, anchored at the end of the subject.
func like(subject, pattern string) bool {
	var b strings.Builder
	b.WriteString("(?is)")
	for _, r := range pattern {
		if r == '%' || r == '*' {
			b.WriteString(".*")
			continue
		}
		b.WriteString(regexp.QuoteMeta(string(r)))
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return false
	}
	return re.MatchString(subject)
}

// compilePattern accepts either a bare RE2 expression or a delimited
// pattern like /abc/i. The i, m, s and U modifiers become inline flags.
func compilePattern(p string) (*regexp.Regexp, bool) {
	if body, flags, ok := splitDelimited(p); ok {
		if flags != "" {
			body = "(?" + flags + ")" + body
		}
		re, err := regexp.Compile(body)
		return re, err == nil
	}
	re, err := regexp.Compile(p)
	return re, err == nil
}

func splitDelimited(p string) (body, flags string, ok bool) {
	if len(p) < 2 || !strings.ContainsRune("/#~@!", rune(p[0])) {
		return "", "", false
	}
	end := strings.LastIndexByte(p, p[0])
	if end <= 0 {
		return "", "", false
	}
	for _, m := range p[end+1:] {
		if !strings.ContainsRune("imsxuUD", m) {
			return "", "", false
		}
		if strings.ContainsRune("imsU", m) {
			flags += string(m)
		}
	}
	return p[1:end], flags, true
}

func instanceOf(actual, exp attr.Value) bool {
	want := strings.ToLower(attr.Text(exp))
	kind := attr.Kind(actual)
	switch want {
	case kind:
		return true
	case "number", "numeric":
		return kind == attr.KindInt || kind == attr.KindFloat
	case "integer":
		return kind == attr.KindInt
	case "boolean":
		return kind == attr.KindBool
	case "map":
		return kind == attr.KindObject
	}
	return false
}

func withinDistance(actual, expected string) bool {
	d := fuzzy.LevenshteinDistance(actual, expected)
	return float64(d) <= float64(utf8.RuneCountInString(expected))/3
}

func verifyHash(hashed, plain string) bool {
	if hashed == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain)) == nil
}
