package action

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dukex/canvasflow/pkg/compare"
	"github.com/dukex/canvasflow/pkg/expression"
	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/nodes"
)

// HTTPMethod is an upper-cased HTTP verb.
type HTTPMethod string

var httpMethods = []string{
	http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch,
	http.MethodDelete, http.MethodHead, http.MethodOptions,
}

func (m *HTTPMethod) UnmarshalText(text []byte) error {
	verb := strings.ToUpper(strings.TrimSpace(string(text)))
	for _, known := range httpMethods {
		if verb == known {
			*m = HTTPMethod(verb)

			return nil
		}
	}

	return fmt.Errorf("unsupported HTTP method %q", string(text))
}

type HTTPSpec struct {
	URL      string         `mapstructure:"url"      validate:"required"`
	Method   HTTPMethod     `mapstructure:"method"`
	Headers  map[string]any `mapstructure:"headers"`
	Query    map[string]any `mapstructure:"query"`
	Body     any            `mapstructure:"body"`
	BodyType string         `mapstructure:"bodyType" validate:"omitempty,oneof=json text form none"`

	Auth     HTTPAuth     `mapstructure:"-"`
	Advanced HTTPAdvanced `mapstructure:"-"`
}

// HTTPAuth is the authentication section of an http-request node.
type HTTPAuth struct {
	Type     string `mapstructure:"type"     validate:"omitempty,oneof=none basic bearer api-key"`
	Username string `mapstructure:"username" validate:"required_if=Type basic"`
	Password string `mapstructure:"password"`
	Token    string `mapstructure:"token"    validate:"required_if=Type bearer"`
	KeyName  string `mapstructure:"keyName"  validate:"required_if=Type api-key"`
	KeyValue string `mapstructure:"keyValue"`
	In       string `mapstructure:"in"       validate:"omitempty,oneof=header query"`
}

// HTTPAdvanced is the advanced section of an http-request node.
type HTTPAdvanced struct {
	Timeout    int `mapstructure:"timeout"    validate:"min=0,max=300"`
	Retries    int `mapstructure:"retries"    validate:"min=0,max=10"`
	RetryDelay int `mapstructure:"retryDelay" validate:"min=0,max=60000"`
}

const defaultTimeout = 30 * time.Second

// maxResponseBody caps how much of a response is kept in the run context.
const maxResponseBody = 10 << 20

func parseHTTP(settings models.NodeSettings) (Spec, error) {
	var s HTTPSpec
	if err := nodes.Decode(settings.General, &s); err != nil {
		return nil, err
	}

	if err := nodes.Decode(settings.Authentication, &s.Auth); err != nil {
		return nil, err
	}

	if err := nodes.Decode(settings.Advanced, &s.Advanced); err != nil {
		return nil, err
	}

	if s.Method == "" {
		s.Method = http.MethodGet
	}

	if !expression.NeedsResolution(s.URL) {
		if _, err := checkURL(s.URL); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func checkURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid URL %q", nodes.ErrInvalidConfig, raw)
	}

	return u, nil
}

// HTTPError is a response outside the 2xx range.
type HTTPError struct {
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	return "HTTP " + e.Status
}

// request is an http-request node after template resolution.
type request struct {
	method      string
	url         *url.URL
	headers     http.Header
	body        []byte
	contentType string
}

func (e *Executor) httpRequest(ctx context.Context, node *models.WorkflowNode, env *nodes.Env, s HTTPSpec) models.NodeResult {
	req, err := e.resolveRequest(env, s)
	if err != nil {
		if errors.Is(err, nodes.ErrInvalidConfig) {
			return env.ConfigError(ctx, node, err)
		}

		return env.ExecutionError(ctx, node, err, nil)
	}

	timeout := defaultTimeout
	if s.Advanced.Timeout > 0 {
		timeout = time.Duration(s.Advanced.Timeout) * time.Second
	}

	var (
		payload map[string]any
		lastErr error
	)

	attempts := s.Advanced.Retries + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 && !e.sleep(ctx, env, time.Duration(s.Advanced.RetryDelay)*time.Millisecond) {
			return models.Cancelled("run stopped while retrying the request")
		}

		payload, lastErr = e.do(ctx, env, req, timeout)
		if lastErr == nil {
			return models.Succeeded(payload)
		}

		// only server errors and transport failures are retried
		var httpErr *HTTPError
		if errors.As(lastErr, &httpErr) && httpErr.StatusCode < 500 {
			break
		}

		env.Log(node).WarnContext(ctx, "HTTP request attempt failed", "attempt", attempt, "error", lastErr)
	}

	if payload != nil {
		return env.ExecutionError(ctx, node, lastErr, payload)
	}

	return env.ExecutionError(ctx, node, fmt.Errorf("HTTP request failed after %d attempts: %w", attempts, lastErr), nil)
}

func (e *Executor) sleep(ctx context.Context, env *nodes.Env, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-env.Stop:
		return false
	case <-ctx.Done():
		return false
	}
}

func (e *Executor) resolveRequest(env *nodes.Env, s HTTPSpec) (*request, error) {
	rawURL, err := env.Resolver.Resolve(s.URL, env.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to render URL template: %w", err)
	}

	u, err := checkURL(compare.Stringify(rawURL))
	if err != nil {
		return nil, err
	}

	req := &request{method: string(s.Method), url: u, headers: http.Header{}}

	query := u.Query()

	for k, v := range s.Query {
		resolved, err := env.Resolver.ResolveValue(v, env.Context)
		if err != nil {
			return nil, fmt.Errorf("resolving query %s: %w", k, err)
		}

		query.Set(k, compare.Stringify(resolved))
	}

	for k, v := range s.Headers {
		resolved, err := env.Resolver.ResolveValue(v, env.Context)
		if err != nil {
			return nil, fmt.Errorf("resolving header %s: %w", k, err)
		}

		req.headers.Set(k, compare.Stringify(resolved))
	}

	if err := applyAuth(env, s.Auth, req.headers, query); err != nil {
		return nil, err
	}

	u.RawQuery = query.Encode()

	if s.Body != nil && s.BodyType != "none" {
		body, err := env.Resolver.ResolveValue(s.Body, env.Context)
		if err != nil {
			return nil, fmt.Errorf("resolving body: %w", err)
		}

		if req.body, req.contentType, err = encodeBody(body, s.BodyType); err != nil {
			return nil, err
		}
	}

	return req, nil
}

func applyAuth(env *nodes.Env, auth HTTPAuth, headers http.Header, query url.Values) error {
	resolve := func(field, tmpl string) (string, error) {
		v, err := env.Resolver.Interpolate(tmpl, env.Context)
		if err != nil {
			return "", fmt.Errorf("resolving %s: %w", field, err)
		}

		return v, nil
	}

	switch auth.Type {
	case "basic":
		user, err := resolve("username", auth.Username)
		if err != nil {
			return err
		}

		pass, err := resolve("password", auth.Password)
		if err != nil {
			return err
		}

		headers.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(user+":"+pass)))
	case "bearer":
		token, err := resolve("token", auth.Token)
		if err != nil {
			return err
		}

		headers.Set("Authorization", "Bearer "+token)
	case "api-key":
		value, err := resolve("keyValue", auth.KeyValue)
		if err != nil {
			return err
		}

		if auth.In == "query" {
			query.Set(auth.KeyName, value)
		} else {
			headers.Set(auth.KeyName, value)
		}
	}

	return nil
}

// encodeBody serializes a resolved body. Without an explicit type, strings are
// sent as text and structures as JSON.
func encodeBody(body any, bodyType string) ([]byte, string, error) {
	text, isText := body.(string)

	switch {
	case bodyType == "form":
		fields, ok := body.(map[string]any)
		if !ok {
			return nil, "", fmt.Errorf("%w: form body must be an object", nodes.ErrInvalidConfig)
		}

		values := url.Values{}
		for k, v := range fields {
			values.Set(k, compare.Stringify(v))
		}

		return []byte(values.Encode()), "application/x-www-form-urlencoded", nil
	case isText && bodyType == "json":
		if !json.Valid([]byte(text)) {
			return nil, "", fmt.Errorf("%w: malformed JSON body", nodes.ErrInvalidConfig)
		}

		return []byte(text), "application/json", nil
	case isText:
		return []byte(text), "text/plain; charset=utf-8", nil
	default:
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, "", fmt.Errorf("%w: body cannot be encoded as JSON: %w", nodes.ErrInvalidConfig, err)
		}

		return encoded, "application/json", nil
	}
}

// do performs one attempt. A non-2xx response returns both the response payload and
// an *HTTPError.
func (e *Executor) do(ctx context.Context, env *nodes.Env, r *request, timeout time.Duration) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, r.url.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header = r.headers.Clone()
	if r.body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", r.contentType)
	}

	client := env.HTTPClient
	if client == nil {
		client = e.client
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	headers := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	var parsed any = string(raw)

	var decoded any
	if len(raw) > 0 && json.Unmarshal(raw, &decoded) == nil {
		parsed = decoded
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	payload := map[string]any{
		"statusCode": resp.StatusCode,
		"status":     resp.Status,
		"headers":    headers,
		"body":       parsed,
		"ok":         ok,
	}

	if !ok {
		return payload, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	return payload, nil
}
