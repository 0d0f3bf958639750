package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidSchedule is returned when a schedule trigger carries no usable cron expression.
var ErrInvalidSchedule = errors.New("invalid schedule configuration")

var scheduleParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Schedule is a parsed cron expression of a schedule trigger.
type Schedule struct {
	// Expression is the standard 5-field cron form; "@every 1m", "@daily" and a
	// "CRON_TZ=" prefix are accepted too.
	Expression string

	spec cron.Schedule
}

// ParseSchedule validates expr and returns the schedule.
func ParseSchedule(expr string) (*Schedule, error) {
	if expr == "" {
		return nil, ErrInvalidSchedule
	}

	spec, err := scheduleParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchedule, err)
	}

	return &Schedule{Expression: expr, spec: spec}, nil
}

// Next returns the first activation strictly after ref.
func (s *Schedule) Next(ref time.Time) time.Time {
	return s.spec.Next(ref)
}

// IsDue reports whether an activation planned for dueAt has been reached at now.
func (s *Schedule) IsDue(dueAt, now time.Time) bool {
	return !dueAt.After(now)
}
