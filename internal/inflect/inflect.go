// Package inflect implements the English naming rules kvsql uses to derive
// table and column names: singular/plural forms and snake_casing.
package inflect

import (
	"regexp"
	"slices"
	"strings"
	"unicode"
)

type rule struct {
	re   *regexp.Regexp
	repl string
}

func rules(pairs ...string) []rule {
	out := make([]rule, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, rule{re: regexp.MustCompile(pairs[i]), repl: pairs[i+1]})
	}
	return out
}

// Rules are tried in order; the first match wins.
var singularRules = rules(
	`(?i)(quiz)zes$`, "${1}",
	`(?i)(matr)ices$`, "${1}ix",
	`(?i)(vert|ind)ices$`, "${1}ex",
	`(?i)^(ox)en$`, "${1}",
	`(?i)(alias)es$`, "${1}",
	`(?i)(octop|vir)i$`, "${1}us",
	`(?i)(cris|ax|test)es$`, "${1}is",
	`(?i)(shoe)s$`, "${1}",
	`(?i)(o)es$`, "${1}",
	`(?i)(bus)es$`, "${1}",
	`(?i)(quizz)es$`, "${1}",
	`(?i)([m|l])ice$`, "${1}ouse",
	`(?i)(x|ch|ss|sh)es$`, "${1}",
	`(?i)(m)ovies$`, "${1}ovie",
	`(?i)(s)eries$`, "${1}eries",
	`(?i)([^aeiouy]|qu)ies$`, "${1}y",
	`(?i)([lr])ves$`, "${1}f",
	`(?i)(tive)s$`, "${1}",
	`(?i)(hive)s$`, "${1}",
	`(?i)(li|wi|kni)ves$`, "${1}fe",
	`(?i)(shea|loa|lea|thie)ves$`, "${1}f",
	`(?i)(^analy)ses$`, "${1}sis",
	`(?i)(ti)a$`, "${1}um",
	`(?i)(n)ews$`, "${1}ews",
	`(?i)(h|bl)ouses$`, "${1}ouse",
	`(?i)(corpse)s$`, "${1}",
	`(?i)(us)es$`, "${1}",
	`(?i)s$`, "",
)

var pluralRules = rules(
	`(?i)(quiz)$`, "${1}zes",
	`(?i)^(ox)$`, "${1}en",
	`(?i)([m|l])ouse$`, "${1}ice",
	`(?i)(matr|vert|vort|ind)ix|ex$`, "${1}ices",
	`(?i)(x|ch|ss|sh)$`, "${1}es",
	`(?i)([^aeiouy]|qu)y$`, "${1}ies",
	`(?i)(hive)$`, "${1}s",
	`(?i)(?:([^f])fe|([lr])f)$`, "${1}${2}ves",
	`(?i)(shea|lea|loa|thie)f$`, "${1}ves",
	`(?i)sis$`, "ses",
	`(?i)([ti])um$`, "${1}a",
	`(?i)(tomat|potat|ech|her|vet)o$`, "${1}oes",
	`(?i)(bu)s$`, "${1}ses",
	`(?i)(alias)$`, "${1}es",
	`(?i)(octop)us$`, "${1}i",
	`(?i)(ax|test)is$`, "${1}es",
	`(?i)(us)$`, "${1}es",
	`(?i)s$`, "s",
	`$`, "s",
)

var (
	uncountableSingular = []string{"equipment", "information", "rice", "news", "money", "species", "series", "fish", "sheep"}
	uncountablePlural   = []string{"equipment", "information", "rice", "money", "species", "series", "fish", "sheep"}
)

// Singularize returns the singular form of word.
// Example: Singularize("categories") == "category"
func Singularize(word string) string {
	if slices.Contains(uncountableSingular, strings.ToLower(word)) {
		return word
	}
	return apply(singularRules, word)
}

// Pluralize returns the plural form of word.
// Example: Pluralize("person") == "persons" (no irregular table)
func Pluralize(word string) string {
	if slices.Contains(uncountablePlural, strings.ToLower(word)) {
		return word
	}
	if out, ok := applyOK(pluralRules, word); ok {
		return out
	}
	return word + "s"
}

// IsPlural reports whether word is a plural form, that is whether
// singularizing it changes it.
func IsPlural(word string) bool {
	return Singularize(word) != word
}

func apply(rs []rule, word string) string {
	out, _ := applyOK(rs, word)
	return out
}

func applyOK(rs []rule, word string) (string, bool) {
	for _, r := range rs {
		if r.re.MatchString(word) {
			return r.re.ReplaceAllString(word, r.repl), true
		}
	}
	return word, false
}

// Uncamelize converts camelCase or PascalCase to lowercase words joined by
// sep. A run of capitals counts as one word boundary.
// Example: Uncamelize("authorId", "_") == "author_id"
func Uncamelize(s, sep string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) && !unicode.IsUpper(runes[i-1]) {
			b.WriteString(sep)
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// Snake is Uncamelize with an underscore separator.
func Snake(s string) string {
	return Uncamelize(s, "_")
}

// Camelize converts snake_case to PascalCase.
// Example: Camelize("author_id") == "AuthorId"
func Camelize(s string) string {
	var b strings.Builder
	upper := true
	for _, r := range s {
		if r == '_' || r == '-' || r == ' ' {
			upper = true
			continue
		}
		if upper {
			b.WriteRune(unicode.ToUpper(r))
			upper = false
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
