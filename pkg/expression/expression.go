// Package expression resolves `$.path` references and `{{ expression }}` templates
// against an execution context.
package expression

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dukex/canvasflow/pkg/compare"
	"github.com/dukex/canvasflow/pkg/models"
	"github.com/robertkrimen/otto"
)

const defaultTimeout = time.Second

var (
	ErrEvaluation = errors.New("expression evaluation failed")
	ErrTimeout    = errors.New("expression evaluation timed out")

	templatePattern = regexp.MustCompile(`(?s)\{\{(.*?)\}\}`)

	// "$.Some Node#id" is not a JavaScript member access; it is rewritten to $["Some Node#id"].
	hashRefPattern = regexp.MustCompile(`\$\.([^.\[\]#{}()+*/%<>=!&|?:,'"$]+#[\w-]+)`)

	// characters that turn a $-prefixed string into an expression rather than a path
	operatorChars = "+*/%()?:=!<>&|,"
)

// Resolver turns configuration strings into runtime values.
type Resolver struct {
	timeout time.Duration
}

type Option func(*Resolver)

// WithTimeout bounds the evaluation of a single expression.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func New(opts ...Option) *Resolver {
	r := &Resolver{timeout: defaultTimeout}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Resolve evaluates input against ec.
//
// A string starting with "$." is a direct path and yields the raw value. A string
// that is exactly one {{ ... }} template yields the raw value of its expression.
// Anything else is interpolated and always yields a string.
func (r *Resolver) Resolve(input string, ec *models.ExecutionContext) (any, error) {
	trimmed := strings.TrimSpace(input)

	if strings.HasPrefix(trimmed, RootSentinel) {
		return r.evaluate(trimmed, scopeOf(ec))
	}

	if inner, ok := singleTemplate(trimmed); ok {
		return r.evaluate(inner, scopeOf(ec))
	}

	if !strings.Contains(input, "{{") {
		return input, nil
	}

	return r.interpolate(input, scopeOf(ec))
}

// Interpolate always renders input as text, even when it is a single template.
func (r *Resolver) Interpolate(input string, ec *models.ExecutionContext) (string, error) {
	if !strings.Contains(input, "{{") {
		return input, nil
	}

	return r.interpolate(input, scopeOf(ec))
}

// ResolveValue resolves every string inside v, descending into maps and slices.
func (r *Resolver) ResolveValue(v any, ec *models.ExecutionContext) (any, error) {
	switch t := v.(type) {
	case string:
		return r.Resolve(t, ec)
	case map[string]any:
		out := make(map[string]any, len(t))

		for k, item := range t {
			resolved, err := r.ResolveValue(item, ec)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}

			out[k] = resolved
		}

		return out, nil
	case []any:
		out := make([]any, len(t))

		for i, item := range t {
			resolved, err := r.ResolveValue(item, ec)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}

			out[i] = resolved
		}

		return out, nil
	default:
		return v, nil
	}
}

// NeedsResolution reports whether s contains a path or a template.
func NeedsResolution(s string) bool {
	t := strings.TrimSpace(s)

	return strings.HasPrefix(t, RootSentinel) || strings.Contains(t, "{{")
}

func scopeOf(ec *models.ExecutionContext) map[string]any {
	if ec == nil {
		return map[string]any{}
	}

	return Scope(ec.Snapshot())
}

func singleTemplate(s string) (string, bool) {
	if !strings.HasPrefix(s, "{{") || !strings.HasSuffix(s, "}}") {
		return "", false
	}

	inner := s[2 : len(s)-2]
	if strings.Contains(inner, "{{") || strings.Contains(inner, "}}") {
		return "", false
	}

	return strings.TrimSpace(inner), true
}

func (r *Resolver) interpolate(input string, scope map[string]any) (string, error) {
	var firstErr error

	out := templatePattern.ReplaceAllStringFunc(input, func(m string) string {
		if firstErr != nil {
			return ""
		}

		v, err := r.evaluate(strings.TrimSpace(m[2:len(m)-2]), scope)
		if err != nil {
			firstErr = err

			return ""
		}

		return compare.Stringify(v)
	})

	if firstErr != nil {
		return "", firstErr
	}

	return out, nil
}

// evaluate returns the raw value of expr. Plain paths are walked directly; anything
// else runs in a fresh JavaScript VM that only sees a copy of scope.
func (r *Resolver) evaluate(expr string, scope map[string]any) (any, error) {
	if expr == "" {
		return nil, nil
	}

	if isPlainPath(expr) {
		v, _ := Lookup(scope, expr)

		return v, nil
	}

	return r.run(expr, scope)
}

func isPlainPath(expr string) bool {
	if expr != "$" && !strings.HasPrefix(expr, RootSentinel) && !strings.HasPrefix(expr, "$[") {
		return false
	}

	if strings.ContainsAny(expr, operatorChars) {
		return false
	}

	_, ok := parsePath(expr)

	return ok
}

func (r *Resolver) run(expr string, scope map[string]any) (result any, err error) {
	data, err := json.Marshal(scope)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding scope: %w", ErrEvaluation, err)
	}

	vm := otto.New()
	vm.Interrupt = make(chan func(), 1)

	halt := errors.New("halt")
	timer := time.AfterFunc(r.timeout, func() {
		vm.Interrupt <- func() { panic(halt) }
	})

	defer timer.Stop()

	defer func() {
		if caught := recover(); caught != nil {
			if caught == halt {
				result, err = nil, fmt.Errorf("%w: %s", ErrTimeout, expr)

				return
			}

			panic(caught)
		}
	}()

	if err := vm.Set("__scope", string(data)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEvaluation, err)
	}

	if err := vm.Set("now", func() string { return time.Now().UTC().Format(time.RFC3339) }); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEvaluation, err)
	}

	src := "var $ = JSON.parse(__scope);\n" +
		"(function () { var __v = (" + hashRefPattern.ReplaceAllString(expr, `$$["$1"]`) + ");\n" +
		"return __v === undefined ? undefined : JSON.stringify(__v); })()"

	value, err := vm.Run(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrEvaluation, expr, err)
	}

	if value.IsUndefined() || value.IsNull() {
		return nil, nil
	}

	var out any
	if err := json.Unmarshal([]byte(value.String()), &out); err != nil {
		return nil, fmt.Errorf("%w: decoding %q: %w", ErrEvaluation, expr, err)
	}

	return out, nil
}
