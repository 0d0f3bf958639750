package models

import (
	"fmt"
	"slices"
	"strings"
)

// Comparator is a named predicate used by a condition row. The set is closed:
// values outside it are rejected when settings are decoded.
type Comparator string

// Unary comparators.
const (
	ComparatorExists     Comparator = "exists"
	ComparatorNotExists  Comparator = "does not exist"
	ComparatorIsEmpty    Comparator = "is empty"
	ComparatorIsNotEmpty Comparator = "is not empty"
	ComparatorIsTrue     Comparator = "is true"
	ComparatorIsFalse    Comparator = "is false"
)

// Equality comparators.
const (
	ComparatorEqual    Comparator = "is equal to"
	ComparatorNotEqual Comparator = "is not equal to"
)

// String comparators.
const (
	ComparatorContains      Comparator = "contains"
	ComparatorNotContains   Comparator = "does not contain"
	ComparatorStartsWith    Comparator = "starts with"
	ComparatorNotStartsWith Comparator = "does not start with"
	ComparatorEndsWith      Comparator = "ends with"
	ComparatorNotEndsWith   Comparator = "does not end with"
	ComparatorMatchesRegex  Comparator = "matches regex"
	ComparatorNotMatchRegex Comparator = "does not match regex"
)

// Ordering comparators.
const (
	ComparatorGreater        Comparator = "greater than"
	ComparatorGreaterOrEqual Comparator = "greater than or equal to"
	ComparatorLess           Comparator = "less than"
	ComparatorLessOrEqual    Comparator = "less than or equal to"
)

// Range comparators.
const (
	ComparatorBetween    Comparator = "is between"
	ComparatorNotBetween Comparator = "is not between"
)

// Date and time comparators.
const (
	ComparatorBefore     Comparator = "is before"
	ComparatorAfter      Comparator = "is after"
	ComparatorOnOrBefore Comparator = "is on or before"
	ComparatorOnOrAfter  Comparator = "is on or after"
)

// Array and object comparators.
const (
	ComparatorContainsValue    Comparator = "contains value"
	ComparatorNotContainsValue Comparator = "does not contain value"
	ComparatorLengthEqual      Comparator = "length equal to"
	ComparatorLengthGreater    Comparator = "length greater than"
	ComparatorLengthLess       Comparator = "length less than"
	ComparatorHasKey           Comparator = "has key"
	ComparatorHasProperty      Comparator = "has property"
)

var comparators = map[Comparator]struct{}{
	ComparatorExists: {}, ComparatorNotExists: {}, ComparatorIsEmpty: {}, ComparatorIsNotEmpty: {},
	ComparatorIsTrue: {}, ComparatorIsFalse: {},
	ComparatorEqual: {}, ComparatorNotEqual: {},
	ComparatorContains: {}, ComparatorNotContains: {}, ComparatorStartsWith: {}, ComparatorNotStartsWith: {},
	ComparatorEndsWith: {}, ComparatorNotEndsWith: {}, ComparatorMatchesRegex: {}, ComparatorNotMatchRegex: {},
	ComparatorGreater: {}, ComparatorGreaterOrEqual: {}, ComparatorLess: {}, ComparatorLessOrEqual: {},
	ComparatorBetween: {}, ComparatorNotBetween: {},
	ComparatorBefore: {}, ComparatorAfter: {}, ComparatorOnOrBefore: {}, ComparatorOnOrAfter: {},
	ComparatorContainsValue: {}, ComparatorNotContainsValue: {}, ComparatorLengthEqual: {},
	ComparatorLengthGreater: {}, ComparatorLengthLess: {}, ComparatorHasKey: {}, ComparatorHasProperty: {},
}

// Comparators returns every comparator, sorted.
func Comparators() []Comparator {
	out := make([]Comparator, 0, len(comparators))
	for c := range comparators {
		out = append(out, c)
	}

	slices.Sort(out)

	return out
}

// ParseComparator returns the comparator for a UI label. Matching ignores case and
// surrounding whitespace.
func ParseComparator(s string) (Comparator, error) {
	c := Comparator(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := comparators[c]; !ok {
		return "", fmt.Errorf("unknown comparator %q", s)
	}

	return c, nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Comparator) UnmarshalText(text []byte) error {
	parsed, err := ParseComparator(string(text))
	if err != nil {
		return err
	}

	*c = parsed

	return nil
}

// IsUnary reports whether the comparator ignores the right operand.
func (c Comparator) IsUnary() bool {
	switch c {
	case ComparatorExists, ComparatorNotExists, ComparatorIsEmpty, ComparatorIsNotEmpty,
		ComparatorIsTrue, ComparatorIsFalse:
		return true
	default:
		return false
	}
}

// IsOrdering reports whether the comparator orders its operands, including the
// date/time and range comparators.
func (c Comparator) IsOrdering() bool {
	switch c {
	case ComparatorGreater, ComparatorGreaterOrEqual, ComparatorLess, ComparatorLessOrEqual,
		ComparatorBefore, ComparatorAfter, ComparatorOnOrBefore, ComparatorOnOrAfter,
		ComparatorBetween, ComparatorNotBetween:
		return true
	default:
		return false
	}
}

// IsRange reports whether the right operand is a pair of bounds.
func (c Comparator) IsRange() bool {
	return c == ComparatorBetween || c == ComparatorNotBetween
}

// IsRegex reports whether the right operand is a regular expression.
func (c Comparator) IsRegex() bool {
	return c == ComparatorMatchesRegex || c == ComparatorNotMatchRegex
}

// Joiner links a condition row to the cumulative result of the rows before it.
type Joiner string

const (
	JoinerAnd Joiner = "AND"
	JoinerOr  Joiner = "OR"
)

// UnmarshalText accepts "and"/"or" in any case; an empty joiner means AND.
func (j *Joiner) UnmarshalText(text []byte) error {
	switch strings.ToUpper(strings.TrimSpace(string(text))) {
	case "", string(JoinerAnd):
		*j = JoinerAnd
	case string(JoinerOr):
		*j = JoinerOr
	default:
		return fmt.Errorf("unknown joiner %q", string(text))
	}

	return nil
}

// ConditionRow is one predicate of an If/Switch/Filter node. Left and Right are
// unresolved template strings.
type ConditionRow struct {
	Left       string     `json:"left"             mapstructure:"left"`
	Comparator Comparator `json:"comparator"       mapstructure:"comparator" validate:"required"`
	Right      string     `json:"right,omitempty"  mapstructure:"right"`
	Joiner     Joiner     `json:"joiner,omitempty" mapstructure:"joiner"`
	Name       string     `json:"name,omitempty"   mapstructure:"name"`
}
