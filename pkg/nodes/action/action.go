// Package action executes the nodes with side effects: HTTP requests, logging,
// data shaping, notifications, delays and chat responses.
package action

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/nodes"
	"github.com/dukex/canvasflow/pkg/notify"
	"github.com/spf13/cast"
)

// Spec is the decoded configuration of one action node.
type Spec interface {
	action()
}

type LogSpec struct {
	Message string `mapstructure:"message" validate:"required"`
	Level   string `mapstructure:"level"   validate:"omitempty,oneof=debug info warn error"`
}

// SetField is one entry written by a set-data node.
type SetField struct {
	Name  string `mapstructure:"name"  validate:"required"`
	Value any    `mapstructure:"value"`
}

type SetDataSpec struct {
	Fields           []SetField `mapstructure:"fields"           validate:"min=1,dive"`
	StoreAsVariables bool       `mapstructure:"storeAsVariables"`
}

type NotificationSpec struct {
	Title   string `mapstructure:"title"`
	Message string `mapstructure:"message" validate:"required"`
	Level   string `mapstructure:"level"   validate:"omitempty,oneof=info success warning warn error"`
}

type DelaySpec struct {
	Duration any `mapstructure:"duration" validate:"required"`

	wait time.Duration
}

type ChatResponseSpec struct {
	Message string `mapstructure:"message" validate:"required"`
}

func (HTTPSpec) action()         {}
func (LogSpec) action()          {}
func (SetDataSpec) action()      {}
func (NotificationSpec) action() {}
func (DelaySpec) action()        {}
func (ChatResponseSpec) action() {}

// MaxDelay bounds the wait of a delay node.
const MaxDelay = 24 * time.Hour

// Parse decodes and checks the settings of an action node.
func Parse(node *models.WorkflowNode) (Spec, error) {
	general := node.Settings.General

	switch node.Type {
	case models.NodeTypeHTTPRequest:
		return parseHTTP(node.Settings)
	case models.NodeTypeLog:
		return decode[LogSpec](general)
	case models.NodeTypeSetData:
		return decode[SetDataSpec](general)
	case models.NodeTypeNotification:
		return decode[NotificationSpec](general)
	case models.NodeTypeDelay:
		var s DelaySpec
		if err := nodes.Decode(general, &s); err != nil {
			return nil, err
		}

		wait, err := parseDuration(s.Duration)
		if err != nil {
			return nil, err
		}

		s.wait = wait

		return s, nil
	case models.NodeTypeChatResponse:
		return decode[ChatResponseSpec](general)
	default:
		return nil, fmt.Errorf("%w: %q is not an action", nodes.ErrUnsupportedNode, node.Type)
	}
}

func decode[T Spec](section map[string]any) (Spec, error) {
	var s T
	if err := nodes.Decode(section, &s); err != nil {
		return nil, err
	}

	return s, nil
}

// parseDuration accepts Go duration strings ("1m30s") and plain numbers of seconds.
func parseDuration(v any) (time.Duration, error) {
	var d time.Duration

	if s, ok := v.(string); ok && strings.IndexFunc(s, func(r rune) bool { return r >= 'a' && r <= 'z' }) >= 0 {
		parsed, err := time.ParseDuration(strings.TrimSpace(s))
		if err != nil {
			return 0, fmt.Errorf("%w: duration: %w", nodes.ErrInvalidConfig, err)
		}

		d = parsed
	} else {
		seconds, err := cast.ToFloat64E(v)
		if err != nil {
			return 0, fmt.Errorf("%w: duration %v is neither a number of seconds nor a duration", nodes.ErrInvalidConfig, v)
		}

		d = time.Duration(seconds * float64(time.Second))
	}

	if d < 0 || d > MaxDelay {
		return 0, fmt.Errorf("%w: duration must be between 0 and %s", nodes.ErrInvalidConfig, MaxDelay)
	}

	return d, nil
}

// Executor runs action nodes.
type Executor struct {
	client *http.Client
}

type Option func(*Executor)

// WithHTTPClient sets the client used when the environment carries none.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) {
		e.client = c
	}
}

func NewExecutor(opts ...Option) *Executor {
	e := &Executor{client: http.DefaultClient}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func (e *Executor) Execute(ctx context.Context, node *models.WorkflowNode, env *nodes.Env) models.NodeResult {
	spec, err := Parse(node)
	if err != nil {
		return env.ConfigError(ctx, node, err)
	}

	var result models.NodeResult

	switch s := spec.(type) {
	case HTTPSpec:
		result = e.httpRequest(ctx, node, env, s)
	case LogSpec:
		result = e.log(ctx, node, env, s)
	case SetDataSpec:
		result = e.setData(ctx, node, env, s)
	case NotificationSpec:
		result = e.notification(ctx, node, env, s)
	case DelaySpec:
		result = e.delay(ctx, env, s)
	case ChatResponseSpec:
		result = e.chatResponse(ctx, node, env, s)
	default:
		return env.Unsupported(ctx, node)
	}

	return env.Finish(ctx, node, result)
}

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func (e *Executor) log(ctx context.Context, node *models.WorkflowNode, env *nodes.Env, s LogSpec) models.NodeResult {
	message, err := env.Resolver.Interpolate(s.Message, env.Context)
	if err != nil {
		return env.ExecutionError(ctx, node, fmt.Errorf("failed to render log message template: %w", err), nil)
	}

	level := s.Level
	if level == "" {
		level = "info"
	}

	env.Log(node).Log(ctx, logLevels[level], message)

	return models.Succeeded(map[string]any{
		"message": message,
		"level":   level,
		"logged":  true,
	})
}

func (e *Executor) setData(ctx context.Context, node *models.WorkflowNode, env *nodes.Env, s SetDataSpec) models.NodeResult {
	data := make(map[string]any, len(s.Fields))

	for _, f := range s.Fields {
		v, err := env.Resolver.ResolveValue(f.Value, env.Context)
		if err != nil {
			return env.ExecutionError(ctx, node, fmt.Errorf("resolving %s: %w", f.Name, err), nil)
		}

		data[f.Name] = v
	}

	if s.StoreAsVariables {
		for name, v := range data {
			env.Context.SetVariable(name, v)
		}
	}

	return models.Succeeded(data)
}

func (e *Executor) notification(ctx context.Context, node *models.WorkflowNode, env *nodes.Env, s NotificationSpec) models.NodeResult {
	message, err := env.Resolver.Interpolate(s.Message, env.Context)
	if err != nil {
		return env.ExecutionError(ctx, node, fmt.Errorf("resolving message: %w", err), nil)
	}

	title := node.DisplayName()
	if s.Title != "" {
		if title, err = env.Resolver.Interpolate(s.Title, env.Context); err != nil {
			return env.ExecutionError(ctx, node, fmt.Errorf("resolving title: %w", err), nil)
		}
	}

	level := notify.ParseLevel(s.Level)

	if env.Notifier != nil {
		env.Notifier.Notify(ctx, notify.Notification{
			Level:      level,
			Title:      title,
			Message:    message,
			NodeID:     node.ID,
			RunID:      env.RunID,
			WorkflowID: env.WorkflowID,
		})
	}

	return models.Succeeded(map[string]any{
		"title":   title,
		"message": message,
		"level":   string(level),
		"sent":    env.Notifier != nil,
	})
}

// delay waits for the configured duration. A stopped run interrupts the wait.
func (e *Executor) delay(ctx context.Context, env *nodes.Env, s DelaySpec) models.NodeResult {
	started := env.Now()

	timer := time.NewTimer(s.wait)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-env.Stop:
		return models.Cancelled("run stopped during delay")
	case <-ctx.Done():
		return models.Cancelled(ctx.Err().Error())
	}

	return models.Succeeded(map[string]any{
		"waited":   env.Now().Sub(started).Milliseconds(),
		"duration": s.wait.String(),
	})
}

func (e *Executor) chatResponse(ctx context.Context, node *models.WorkflowNode, env *nodes.Env, s ChatResponseSpec) models.NodeResult {
	message, err := env.Resolver.Interpolate(s.Message, env.Context)
	if err != nil {
		return env.ExecutionError(ctx, node, fmt.Errorf("resolving message: %w", err), nil)
	}

	if env.Bus == nil {
		return env.ExecutionError(ctx, node, nodes.ErrNoEventChannel, nil)
	}

	env.Respond(ctx, node, message)

	return models.Succeeded(map[string]any{"message": message})
}
