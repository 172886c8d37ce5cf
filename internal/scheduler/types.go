package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"contentbot/internal/content"
)

var (
	ErrNoRoute   = errors.New("no delivery route for content kind")
	ErrExhausted = errors.New("schedule exhausted")
	ErrStopped   = errors.New("scheduler stopped")
)

// Deliverer renders and sends one payload. Implementations should honor ctx;
// the scheduler stops waiting at the deadline either way.
type Deliverer interface {
	Deliver(ctx context.Context, kind content.Kind, destinationID int64, data content.Params) error
}

type DeliverFunc func(ctx context.Context, destinationID int64, data content.Params) error

// Routes maps every content kind to a named callback. DailyDigest and
// WeeklySummary fall back to News when unset.
type Routes struct {
	News          DeliverFunc
	Quiz          DeliverFunc
	Debate        DeliverFunc
	Fun           DeliverFunc
	Reminder      DeliverFunc
	Announcement  DeliverFunc
	DailyDigest   DeliverFunc
	WeeklySummary DeliverFunc
}

func (r Routes) route(kind content.Kind) DeliverFunc {
	switch kind {
	case content.KindNews:
		return r.News
	case content.KindQuiz:
		return r.Quiz
	case content.KindDebate:
		return r.Debate
	case content.KindFun:
		return r.Fun
	case content.KindReminder:
		return r.Reminder
	case content.KindAnnouncement:
		return r.Announcement
	case content.KindDailyDigest:
		if r.DailyDigest != nil {
			return r.DailyDigest
		}
		return r.News
	case content.KindWeeklySummary:
		if r.WeeklySummary != nil {
			return r.WeeklySummary
		}
		return r.News
	}
	return nil
}

func (r Routes) Deliver(ctx context.Context, kind content.Kind, destinationID int64, data content.Params) error {
	fn := r.route(kind)
	if fn == nil {
		return fmt.Errorf("%w: %s", ErrNoRoute, kind)
	}
	return fn(ctx, destinationID, data)
}

// DeliveryError is one failed execution attempt. It is logged and counted,
// never retried.
type DeliveryError struct {
	ScheduleID string
	Kind       content.Kind
	Err        error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s (%s): %v", e.ScheduleID, e.Kind, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Store persists schedules across restarts. Save is an upsert.
type Store interface {
	SaveSchedule(ctx context.Context, s content.Schedule) error
	DeleteSchedule(ctx context.Context, id string) error
	LoadSchedules(ctx context.Context) ([]content.Schedule, error)
}

// Request creates a schedule. MaxRuns <= 0 means unlimited (one_time: 1).
type Request struct {
	Kind          content.Kind
	DestinationID int64
	Data          content.Params
	Discipline    content.Discipline
	Config        content.Params
	MaxRuns       int
	Metadata      content.Params
}

// Update carries the mutable fields; nil means unchanged.
type Update struct {
	DestinationID *int64
	Data          content.Params
	Config        content.Params
	MaxRuns       *int
	Metadata      content.Params
	Active        *bool
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	DestinationID int64
	Kind          content.Kind
	ActiveOnly    bool
}

func (f Filter) match(s content.Schedule) bool {
	if f.DestinationID != 0 && s.DestinationID != f.DestinationID {
		return false
	}
	if f.Kind != "" && s.Kind != f.Kind {
		return false
	}
	if f.ActiveOnly && !s.Active {
		return false
	}
	return true
}

type Config struct {
	TickInterval time.Duration
	// DeliveryTimeout bounds one execution; defaults to TickInterval.
	DeliveryTimeout time.Duration
	// ShutdownGrace is how long Stop lets in-flight deliveries finish before
	// cancelling them.
	ShutdownGrace time.Duration
	HistorySize   int
	Defaults      content.Defaults
}

func DefaultConfig() Config {
	return Config{
		TickInterval:  10 * time.Second,
		ShutdownGrace: 5 * time.Second,
		HistorySize:   200,
		Defaults:      content.DefaultDefaults(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.TickInterval <= 0 {
		c.TickInterval = def.TickInterval
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = c.TickInterval
	}
	if c.ShutdownGrace < 0 {
		c.ShutdownGrace = 0
	}
	if c.HistorySize <= 0 {
		c.HistorySize = def.HistorySize
	}
	return c
}

// HistoryItem records one finished execution.
type HistoryItem struct {
	ScheduleID    string        `json:"schedule_id"`
	Kind          content.Kind  `json:"content_kind"`
	DestinationID int64         `json:"destination_id"`
	Started       time.Time     `json:"started"`
	Duration      time.Duration `json:"duration"`
	RunCount      int           `json:"run_count"`
	Error         string        `json:"error,omitempty"`
}

// Health is a point-in-time view for operators.
type Health struct {
	Running         bool       `json:"running"`
	TotalSchedules  int        `json:"total_schedules"`
	ActiveSchedules int        `json:"active_schedule_count"`
	InFlight        int        `json:"in_flight_count"`
	NextDue         *time.Time `json:"next_due_time,omitempty"`
	LastTick        time.Time  `json:"last_tick,omitempty"`
	Ticks           uint64     `json:"ticks"`
}

// Event types published on the bus.
const (
	EventCreated   = "schedule.created"
	EventFired     = "schedule.fired"
	EventCompleted = "schedule.completed"
	EventFailed    = "schedule.failed"
	EventExhausted = "schedule.exhausted"
	EventCancelled = "schedule.cancelled"
)

// EventData is the payload of every schedule.* event.
type EventData struct {
	ScheduleID    string        `json:"schedule_id"`
	Kind          content.Kind  `json:"content_kind"`
	DestinationID int64         `json:"destination_id"`
	RunCount      int           `json:"run_count"`
	Duration      time.Duration `json:"duration,omitempty"`
	Error         string        `json:"error,omitempty"`
}
