// Package compare evaluates condition rows against loosely typed values.
package compare

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Kind is the semantic kind of a value as seen by the comparators.
type Kind int

const (
	KindNull Kind = iota
	KindBoolean
	KindNumber
	KindDate
	KindTime
	KindString
	KindArray
	KindObject
)

var kindNames = map[Kind]string{
	KindNull:    "null",
	KindBoolean: "boolean",
	KindNumber:  "number",
	KindDate:    "date",
	KindTime:    "time",
	KindString:  "string",
	KindArray:   "array",
	KindObject:  "object",
}

func (k Kind) String() string {
	return kindNames[k]
}

// InferKind detects arrays and objects structurally; any other value is tried as
// boolean, number, date, time-of-day and string, in that order.
func InferKind(v any) Kind {
	switch t := v.(type) {
	case nil:
		return KindNull
	case bool:
		return KindBoolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return KindNumber
	case time.Time:
		return KindDate
	case string:
		return inferString(t)
	}

	switch reflect.ValueOf(v).Kind() {
	case reflect.Slice, reflect.Array:
		return KindArray
	case reflect.Map, reflect.Struct:
		return KindObject
	default:
		return KindString
	}
}

func inferString(s string) Kind {
	s = strings.TrimSpace(s)

	switch {
	case s == "":
		return KindString
	case strings.EqualFold(s, "true"), strings.EqualFold(s, "false"):
		return KindBoolean
	case isNumeric(s):
		return KindNumber
	}

	if _, ok := parseDateString(s); ok {
		return KindDate
	}

	if LooksLikeTime(s) {
		return KindTime
	}

	return KindString
}

func isNumeric(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && !strings.ContainsRune(".+-eE", r) {
			return false
		}
	}

	_, err := strconv.ParseFloat(s, 64)

	return err == nil
}

// Coerce converts v to kind k. A value that cannot be converted is returned unchanged.
func Coerce(v any, k Kind) any {
	if v == nil {
		return nil
	}

	switch k {
	case KindBoolean:
		if s, ok := v.(string); ok {
			v = strings.TrimSpace(s)
		}

		if b, err := cast.ToBoolE(v); err == nil {
			return b
		}
	case KindNumber:
		if s, ok := v.(string); ok {
			v = strings.TrimSpace(s)
		}

		if f, err := cast.ToFloat64E(v); err == nil {
			return f
		}
	case KindDate:
		if t, ok := ParseDate(v); ok {
			return t
		}
	case KindTime:
		if ms, ok := TimeOfDay(v); ok {
			return ms
		}
	case KindString:
		return Stringify(v)
	case KindArray:
		if arr, ok := toArray(v); ok {
			return arr
		}
	case KindObject:
		if obj, ok := toObject(v); ok {
			return obj
		}
	case KindNull:
	}

	return v
}

// Stringify renders v as text: strings verbatim, nil as "", numbers in their shortest
// form and structures as JSON.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case time.Time:
		return t.Format(time.RFC3339Nano)
	}

	switch InferKind(v) {
	case KindArray, KindObject:
		data, err := json.Marshal(v)
		if err == nil {
			return string(data)
		}
	}

	if s, err := cast.ToStringE(v); err == nil {
		return s
	}

	data, _ := json.Marshal(v)

	return string(data)
}

// AsArray returns the elements of a slice, array or JSON array string.
func AsArray(v any) ([]any, bool) {
	return toArray(v)
}

func toArray(v any) ([]any, bool) {
	if arr, ok := v.([]any); ok {
		return arr, true
	}

	if s, ok := v.(string); ok {
		var arr []any
		if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &arr); err == nil {
			return arr, true
		}

		return nil, false
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}

	arr := make([]any, rv.Len())
	for i := range arr {
		arr[i] = rv.Index(i).Interface()
	}

	return arr, true
}

func toObject(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case string:
		var obj map[string]any
		if err := json.Unmarshal([]byte(strings.TrimSpace(t)), &obj); err == nil && obj != nil {
			return obj, true
		}

		return nil, false
	}

	if InferKind(v) != KindObject {
		return nil, false
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}

	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, false
	}

	return obj, true
}
