// Package notify is the user-facing notification surface of the engine: validation
// errors, execution failures and informational toasts.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dukex/canvasflow/pkg/eventbus"
	"github.com/dukex/canvasflow/pkg/events"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// ParseLevel maps free text onto a level, defaulting to info.
func ParseLevel(s string) Level {
	switch Level(s) {
	case LevelSuccess, LevelWarning, LevelError:
		return Level(s)
	case "warn":
		return LevelWarning
	default:
		return LevelInfo
	}
}

type Notification struct {
	Level      Level  `json:"level"`
	Title      string `json:"title"`
	Message    string `json:"message"`
	NodeID     string `json:"nodeId,omitempty"`
	RunID      string `json:"runId,omitempty"`
	WorkflowID string `json:"workflowId,omitempty"`
}

// Notifier delivers notifications. Delivery is fire-and-forget for the caller.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// LogNotifier writes notifications to a structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("module", "notify")}
}

func (l *LogNotifier) Notify(ctx context.Context, n Notification) {
	level := slog.LevelInfo

	switch n.Level {
	case LevelWarning:
		level = slog.LevelWarn
	case LevelError:
		level = slog.LevelError
	case LevelInfo, LevelSuccess:
	}

	l.logger.Log(ctx, level, n.Message,
		"title", n.Title,
		"node_id", n.NodeID,
		"run_id", n.RunID,
	)
}

// BusNotifier publishes notifications as events so a UI can render them as toasts.
type BusNotifier struct {
	bus    eventbus.EventPublisher
	logger *slog.Logger
}

func NewBusNotifier(bus eventbus.EventPublisher, logger *slog.Logger) *BusNotifier {
	return &BusNotifier{bus: bus, logger: logger.With("module", "notify")}
}

func (b *BusNotifier) Notify(ctx context.Context, n Notification) {
	event := events.Notification{
		BaseEvent: events.NewBaseEvent(events.NotificationEvent, n.WorkflowID, n.RunID),
		NodeID:    n.NodeID,
		Level:     string(n.Level),
		Title:     n.Title,
		Message:   n.Message,
	}

	if err := b.bus.Publish(ctx, n.RunID, event); err != nil {
		b.logger.WarnContext(ctx, "Failed to publish notification", "error", err)
	}
}

// Multi fans a notification out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) {
	for _, notifier := range m {
		if notifier != nil {
			notifier.Notify(ctx, n)
		}
	}
}

// Discard drops every notification.
type Discard struct{}

func (Discard) Notify(context.Context, Notification) {}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

func (r *Recorder) Notify(_ context.Context, n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items = append(r.items, n)
}

// Notifications returns a copy of what was recorded so far.
func (r *Recorder) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Notification(nil), r.items...)
}

// Count returns how many notifications of level were recorded.
func (r *Recorder) Count(level Level) int {
	n := 0

	for _, item := range r.Notifications() {
		if item.Level == level {
			n++
		}
	}

	return n
}
