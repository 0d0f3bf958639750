package expression

import (
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dukex/canvasflow/pkg/models"
)

// RootSentinel prefixes a direct path expression.
const RootSentinel = "$."

// Scope builds the root object expressions are evaluated against. Node results are
// addressable by node ID, by display name and by "name#id"; variables are merged last
// and win on collisions.
func Scope(s models.ContextSnapshot) map[string]any {
	root := make(map[string]any, len(s.Results)*3+len(s.Variables))

	for id, res := range s.Results {
		root[id] = res
	}

	for id, name := range s.Labels {
		res, ok := s.Results[id]
		if !ok {
			continue
		}

		if _, taken := s.Results[name]; !taken {
			root[name] = res
		}

		root[name+"#"+id] = res
	}

	for k, v := range s.Variables {
		root[k] = v
	}

	return root
}

type segment struct {
	key   string
	index int
	isIdx bool
}

// parsePath splits "a.b[0]["c d"]" into segments. The leading "$" or "$." is optional.
func parsePath(path string) ([]segment, bool) {
	p := strings.TrimSpace(path)
	p = strings.TrimPrefix(p, "$")
	p = strings.TrimPrefix(p, ".")

	var segs []segment

	for len(p) > 0 {
		switch p[0] {
		case '.':
			p = p[1:]
		case '[':
			end := strings.IndexByte(p, ']')
			if end < 0 {
				return nil, false
			}

			inner := strings.TrimSpace(p[1:end])
			p = p[end+1:]

			if unq, err := strconv.Unquote(inner); err == nil {
				segs = append(segs, segment{key: unq})
			} else if strings.HasPrefix(inner, "'") && strings.HasSuffix(inner, "'") && len(inner) >= 2 {
				segs = append(segs, segment{key: inner[1 : len(inner)-1]})
			} else if n, err := strconv.Atoi(inner); err == nil {
				segs = append(segs, segment{index: n, isIdx: true, key: inner})
			} else {
				segs = append(segs, segment{key: inner})
			}
		default:
			end := strings.IndexAny(p, ".[")
			if end < 0 {
				end = len(p)
			}

			segs = append(segs, segment{key: strings.TrimSpace(p[:end])})
			p = p[end:]
		}
	}

	return segs, true
}

// Lookup walks path from root. Map keys match exactly first and then case-insensitively;
// arrays and strings expose "length".
func Lookup(root any, path string) (any, bool) {
	segs, ok := parsePath(path)
	if !ok {
		return nil, false
	}

	cur := root
	for _, seg := range segs {
		cur, ok = step(cur, seg)
		if !ok {
			return nil, false
		}
	}

	return cur, true
}

func step(cur any, seg segment) (any, bool) {
	switch t := cur.(type) {
	case map[string]any:
		if v, ok := t[seg.key]; ok {
			return v, true
		}

		for k, v := range t {
			if strings.EqualFold(k, seg.key) {
				return v, true
			}
		}

		return nil, false
	case []any:
		return index(len(t), seg, func(i int) any { return t[i] })
	case string:
		if strings.EqualFold(seg.key, "length") {
			return utf8.RuneCountInString(t), true
		}

		return nil, false
	case nil:
		return nil, false
	}

	rv := reflect.ValueOf(cur)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return index(rv.Len(), seg, func(i int) any { return rv.Index(i).Interface() })
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}

		for _, k := range rv.MapKeys() {
			if k.String() == seg.key || strings.EqualFold(k.String(), seg.key) {
				return rv.MapIndex(k).Interface(), true
			}
		}
	}

	return nil, false
}

func index(n int, seg segment, at func(int) any) (any, bool) {
	if !seg.isIdx {
		if strings.EqualFold(seg.key, "length") {
			return n, true
		}

		i, err := strconv.Atoi(seg.key)
		if err != nil {
			return nil, false
		}

		seg.index = i
	}

	if seg.index < 0 || seg.index >= n {
		return nil, false
	}

	return at(seg.index), true
}
