// Package compare implements the comparison operator language used by
// collection filters.
//
// Evaluate(actual, operator, expected) is a pure function. Operators are
// case-insensitive strings; IsKnown reports whether a string names one.
// Unknown operators never match.
//
// Operand rules:
//   - expected is converted with attr.From, except for the custom/filter
//     operators whose operand is a predicate
//   - when exactly one side is an *attr.Object, only "not ..." operators
//     and the inequality spellings (!=, <>, !==) report true
//   - scalar equality is loose: numbers compare by value and other scalars
//     by their text form; collections compare by canonical serialization
package compare
