// Package content holds the schedule entity and the pure next-run calculator.
//
// Nothing in this package owns goroutines or locks; the scheduler service wraps
// Schedule values with its own synchronization.
package content

import (
	"strings"
	"time"
)

// Kind selects which delivery callback renders the payload.
type Kind string

const (
	KindNews          Kind = "news"
	KindQuiz          Kind = "quiz"
	KindDebate        Kind = "debate"
	KindFun           Kind = "fun"
	KindReminder      Kind = "reminder"
	KindAnnouncement  Kind = "announcement"
	KindDailyDigest   Kind = "daily_digest"
	KindWeeklySummary Kind = "weekly_summary"
)

// Kinds lists every known content kind in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindNews, KindQuiz, KindDebate, KindFun,
		KindReminder, KindAnnouncement, KindDailyDigest, KindWeeklySummary,
	}
}

func (k Kind) Valid() bool {
	for _, v := range Kinds() {
		if k == v {
			return true
		}
	}
	return false
}

// ParseKind normalizes user input ("Daily_Digest ", "news") into a Kind.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	return k, k.Valid()
}

// Discipline governs how NextRun is recomputed.
type Discipline string

const (
	OneTime   Discipline = "one_time"
	Interval  Discipline = "interval"
	Cron      Discipline = "cron"
	Recurring Discipline = "recurring"
)

func (d Discipline) Valid() bool {
	switch d {
	case OneTime, Interval, Cron, Recurring:
		return true
	}
	return false
}

// State is the lifecycle position of a schedule.
//
//	created -> active <-> executing -> active | exhausted | cancelled
type State string

const (
	StateActive    State = "active"
	StateExecuting State = "executing"
	StateExhausted State = "exhausted"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further executions can happen from this state
// without an explicit reactivation.
func (s State) Terminal() bool {
	return s == StateExhausted || s == StateCancelled
}

// Schedule is one unit of timed content delivery.
//
// Zero NextRun/LastRun mean "unset". MaxRuns <= 0 means unlimited, except for
// one_time schedules which always stop after their first attempt.
type Schedule struct {
	ID            string     `json:"id"`
	Kind          Kind       `json:"content_kind"`
	DestinationID int64      `json:"destination_id"`
	Data          Params     `json:"content_data,omitempty"`
	Discipline    Discipline `json:"discipline"`
	Config        Params     `json:"discipline_config,omitempty"`
	Active        bool       `json:"is_active"`
	State         State      `json:"state"`
	CreatedAt     time.Time  `json:"created_at"`
	NextRun       time.Time  `json:"next_run,omitempty"`
	LastRun       time.Time  `json:"last_run,omitempty"`
	RunCount      int        `json:"run_count"`
	MaxRuns       int        `json:"max_runs,omitempty"`
	Metadata      Params     `json:"metadata,omitempty"`
}

// Clone returns a copy that shares no maps with s.
func (s Schedule) Clone() Schedule {
	cp := s
	cp.Data = s.Data.Clone()
	cp.Config = s.Config.Clone()
	cp.Metadata = s.Metadata.Clone()
	return cp
}

// Exhausted reports whether the schedule has used up its run budget.
func (s Schedule) Exhausted() bool {
	limit := s.EffectiveMaxRuns()
	return limit > 0 && s.RunCount >= limit
}

// EffectiveMaxRuns applies the one_time convention: without an explicit limit a
// one-time schedule is allowed exactly one attempt.
func (s Schedule) EffectiveMaxRuns() int {
	if s.MaxRuns > 0 {
		return s.MaxRuns
	}
	if s.Discipline == OneTime {
		return 1
	}
	return 0
}

// Due reports whether an active schedule should fire at now.
func (s Schedule) Due(now time.Time) bool {
	return s.Active && !s.NextRun.IsZero() && !s.NextRun.After(now)
}
