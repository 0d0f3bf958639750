package compare

import (
	"cmp"
	"encoding/json"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dukex/canvasflow/pkg/models"
	"github.com/spf13/cast"
)

// Evaluate reports whether left and right satisfy c. Unary comparators never look at
// right. Operands are coerced to the kind inferred from left; values that cannot be
// compared make the comparator false instead of failing.
func Evaluate(c models.Comparator, left, right any) bool {
	switch c {
	case models.ComparatorExists:
		return left != nil
	case models.ComparatorNotExists:
		return left == nil
	case models.ComparatorIsEmpty:
		return IsEmpty(left)
	case models.ComparatorIsNotEmpty:
		return !IsEmpty(left)
	case models.ComparatorIsTrue:
		b, ok := truthy(left)
		return ok && b
	case models.ComparatorIsFalse:
		b, ok := truthy(left)
		return ok && !b

	case models.ComparatorEqual:
		k := InferKind(left)
		return Equal(Coerce(left, k), Coerce(right, k))
	case models.ComparatorNotEqual:
		k := InferKind(left)
		return !Equal(Coerce(left, k), Coerce(right, k))

	case models.ComparatorContains:
		return strings.Contains(Stringify(left), Stringify(right))
	case models.ComparatorNotContains:
		return !strings.Contains(Stringify(left), Stringify(right))
	case models.ComparatorStartsWith:
		return strings.HasPrefix(Stringify(left), Stringify(right))
	case models.ComparatorNotStartsWith:
		return !strings.HasPrefix(Stringify(left), Stringify(right))
	case models.ComparatorEndsWith:
		return strings.HasSuffix(Stringify(left), Stringify(right))
	case models.ComparatorNotEndsWith:
		return !strings.HasSuffix(Stringify(left), Stringify(right))
	case models.ComparatorMatchesRegex:
		matched, ok := matchRegex(left, right)
		return ok && matched
	case models.ComparatorNotMatchRegex:
		matched, ok := matchRegex(left, right)
		return ok && !matched

	case models.ComparatorGreater, models.ComparatorAfter:
		n, ok := order(c, left, right)
		return ok && n > 0
	case models.ComparatorGreaterOrEqual, models.ComparatorOnOrAfter:
		n, ok := order(c, left, right)
		return ok && n >= 0
	case models.ComparatorLess, models.ComparatorBefore:
		n, ok := order(c, left, right)
		return ok && n < 0
	case models.ComparatorLessOrEqual, models.ComparatorOnOrBefore:
		n, ok := order(c, left, right)
		return ok && n <= 0

	case models.ComparatorBetween:
		in, ok := between(left, right)
		return ok && in
	case models.ComparatorNotBetween:
		in, ok := between(left, right)
		return ok && !in

	case models.ComparatorContainsValue:
		found, ok := containsValue(left, right)
		return ok && found
	case models.ComparatorNotContainsValue:
		found, ok := containsValue(left, right)
		return ok && !found
	case models.ComparatorLengthEqual:
		n, ok := lengthCompare(left, right)
		return ok && n == 0
	case models.ComparatorLengthGreater:
		n, ok := lengthCompare(left, right)
		return ok && n > 0
	case models.ComparatorLengthLess:
		n, ok := lengthCompare(left, right)
		return ok && n < 0
	case models.ComparatorHasKey:
		obj, ok := toObject(left)
		if !ok {
			return false
		}

		_, found := obj[Stringify(right)]

		return found
	case models.ComparatorHasProperty:
		return hasPath(left, Stringify(right))
	}

	return false
}

// IsEmpty follows the emptiness rules of condition rows: nil is empty, strings and
// arrays are empty when they have no elements, objects when they have no keys, and
// every other value is never empty.
func IsEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	}

	switch InferKind(v) {
	case KindArray:
		arr, _ := toArray(v)
		return len(arr) == 0
	case KindObject:
		obj, ok := toObject(v)
		return ok && len(obj) == 0
	default:
		return false
	}
}

// Equal compares two values structurally through their canonical JSON form. Instants
// compare by millisecond.
func Equal(a, b any) bool {
	ca, err := canonical(a)
	if err != nil {
		return false
	}

	cb, err := canonical(b)
	if err != nil {
		return false
	}

	return ca == cb
}

func canonical(v any) (string, error) {
	if t, ok := v.(time.Time); ok {
		v = t.UnixMilli()
	}

	// round-trip so that map key order and numeric representations agree
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}

	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return "", err
	}

	data, err = json.Marshal(generic)

	return string(data), err
}

func truthy(v any) (bool, bool) {
	if v == nil {
		return false, false
	}

	if s, ok := v.(string); ok {
		v = strings.TrimSpace(s)
	}

	b, err := cast.ToBoolE(v)

	return b, err == nil
}

func matchRegex(left, right any) (bool, bool) {
	re, err := regexp.Compile(Stringify(right))
	if err != nil {
		return false, false
	}

	return re.MatchString(Stringify(left)), true
}

// orderKind picks the kind ordering comparators work in.
func orderKind(c models.Comparator, left any, rights ...any) Kind {
	k := InferKind(left)

	timeOnly := LooksLikeTime(left)
	for _, r := range rights {
		timeOnly = timeOnly || LooksLikeTime(r)
	}

	switch {
	case timeOnly && (k == KindDate || k == KindTime || k == KindString):
		return KindTime
	case isDateComparator(c) && k != KindTime:
		return KindDate
	default:
		return k
	}
}

func isDateComparator(c models.Comparator) bool {
	switch c {
	case models.ComparatorBefore, models.ComparatorAfter, models.ComparatorOnOrBefore, models.ComparatorOnOrAfter:
		return true
	default:
		return false
	}
}

func order(c models.Comparator, left, right any) (int, bool) {
	k := orderKind(c, left, right)

	return compareAs(k, Coerce(left, k), Coerce(right, k))
}

// compareAs orders two values already coerced to k.
func compareAs(k Kind, a, b any) (int, bool) {
	switch k {
	case KindNumber:
		x, ok1 := a.(float64)
		y, ok2 := b.(float64)

		return cmp.Compare(x, y), ok1 && ok2
	case KindDate:
		x, ok1 := a.(time.Time)
		y, ok2 := b.(time.Time)

		return x.Compare(y), ok1 && ok2
	case KindTime:
		x, ok1 := a.(int64)
		y, ok2 := b.(int64)

		return cmp.Compare(x, y), ok1 && ok2
	case KindBoolean:
		x, ok1 := a.(bool)
		y, ok2 := b.(bool)

		return cmp.Compare(boolRank(x), boolRank(y)), ok1 && ok2
	case KindString:
		return strings.Compare(Stringify(a), Stringify(b)), true
	case KindNull, KindArray, KindObject:
	}

	return 0, false
}

func boolRank(b bool) int {
	if b {
		return 1
	}

	return 0
}

// Pair splits the right operand of a range comparator. It accepts a two element
// array, a JSON array string or a comma-separated string.
func Pair(v any) (any, any, bool) {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if !strings.HasPrefix(s, "[") {
			parts := strings.Split(s, ",")
			if len(parts) != 2 {
				return nil, nil, false
			}

			return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), true
		}
	}

	arr, ok := toArray(v)
	if !ok || len(arr) != 2 {
		return nil, nil, false
	}

	return arr[0], arr[1], true
}

func between(left, right any) (bool, bool) {
	lo, hi, ok := Pair(right)
	if !ok {
		return false, false
	}

	k := orderKind(models.ComparatorBetween, left, lo, hi)
	v, a, b := Coerce(left, k), Coerce(lo, k), Coerce(hi, k)

	// bounds are taken in either order
	n, ok := compareAs(k, a, b)
	if !ok {
		return false, false
	}

	if n > 0 {
		a, b = b, a
	}

	lower, ok1 := compareAs(k, v, a)
	upper, ok2 := compareAs(k, v, b)

	return lower >= 0 && upper <= 0, ok1 && ok2
}

func containsValue(left, right any) (bool, bool) {
	switch InferKind(left) {
	case KindArray:
		arr, _ := toArray(left)
		for _, item := range arr {
			if Equal(Coerce(item, InferKind(item)), Coerce(right, InferKind(item))) {
				return true, true
			}
		}

		return false, true
	case KindObject:
		obj, _ := toObject(left)
		for _, item := range obj {
			if Equal(Coerce(item, InferKind(item)), Coerce(right, InferKind(item))) {
				return true, true
			}
		}

		return false, true
	case KindString:
		return strings.Contains(Stringify(left), Stringify(right)), true
	case KindNull:
		return false, false
	default:
		if arr, ok := toArray(left); ok {
			return containsValue(arr, right)
		}

		return strings.Contains(Stringify(left), Stringify(right)), true
	}
}

func length(v any) (int, bool) {
	switch InferKind(v) {
	case KindArray:
		arr, _ := toArray(v)
		return len(arr), true
	case KindObject:
		obj, ok := toObject(v)
		return len(obj), ok
	case KindNull:
		return 0, false
	default:
		if arr, ok := toArray(v); ok {
			return len(arr), true
		}

		return utf8.RuneCountInString(Stringify(v)), true
	}
}

func lengthCompare(left, right any) (int, bool) {
	n, ok := length(left)
	if !ok {
		return 0, false
	}

	want, err := cast.ToIntE(Coerce(right, KindNumber))
	if err != nil {
		return 0, false
	}

	return cmp.Compare(n, want), true
}

// hasPath reports whether v has the dotted property path p.
func hasPath(v any, p string) bool {
	if p == "" {
		return false
	}

	cur := v
	for part := range strings.SplitSeq(p, ".") {
		obj, ok := toObject(cur)
		if !ok {
			return false
		}

		cur, ok = obj[part]
		if !ok {
			return false
		}
	}

	return true
}
