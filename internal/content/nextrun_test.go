package content

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func utcCalc() Calculator {
	d := DefaultDefaults()
	d.Location = time.UTC
	return NewCalculator(d)
}

func TestNextAlwaysAfterNow(t *testing.T) {
	t.Parallel()

	c := utcCalc()
	now := time.Date(2024, 1, 3, 8, 0, 0, 0, time.UTC) // Wednesday
	past := now.Add(-time.Hour)

	tests := []struct {
		name string
		d    Discipline
		p    Params
	}{
		{"one_time empty", OneTime, nil},
		{"one_time past", OneTime, Params{"datetime": past}},
		{"one_time future", OneTime, Params{"datetime": now.Add(time.Hour)}},
		{"interval default", Interval, nil},
		{"interval seconds", Interval, Params{"interval_seconds": 5}},
		{"interval every", Interval, Params{"every": "15m"}},
		{"interval hhmm", Interval, Params{"every": "01:00"}},
		{"interval hours", Interval, Params{"hours": 1}},
		{"cron now", Cron, nil},
		{"cron same minute", Cron, Params{"hour": 8, "minute": 0}},
		{"cron dow today", Cron, Params{"hour": 8, "minute": 0, "day_of_week": 3}},
		{"cron expr", Cron, Params{"expr": "@hourly"}},
		{"recurring", Recurring, Params{"days": []int{3}, "time": "08:00"}},
		{"recurring empty", Recurring, nil},
		{"unknown", Discipline("weird"), nil},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := c.Next(tt.d, tt.p, now)
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if !got.After(now) {
				t.Fatalf("next=%v not after now=%v", got, now)
			}
		})
	}
}

func TestNextOneTime(t *testing.T) {
	t.Parallel()

	c := utcCalc()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	future := now.Add(2 * time.Hour)
	got, err := c.Next(OneTime, Params{"datetime": future}, now)
	if err != nil || !got.Equal(future) {
		t.Fatalf("future datetime: got=%v err=%v", got, err)
	}

	got, err = c.Next(OneTime, Params{"datetime": now.Add(-time.Minute).Format(time.RFC3339)}, now)
	if err != nil || !got.Equal(now.Add(time.Minute)) {
		t.Fatalf("past datetime: got=%v err=%v", got, err)
	}

	_, err = c.Next(OneTime, Params{"datetime": "tomorrow-ish"}, now)
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

// A zone-less datetime is wall-clock time in the configured location.
func TestNextOneTimeUsesLocation(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC+7", 7*3600)
	c := NewCalculator(Defaults{Location: loc})
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, loc)

	got, err := c.Next(OneTime, Params{"datetime": "2024-01-01 15:30"}, now)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	want := time.Date(2024, 1, 1, 15, 30, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestNextInterval(t *testing.T) {
	t.Parallel()

	c := utcCalc()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		p    Params
		want time.Duration
	}{
		{nil, 60 * time.Second},
		{Params{"interval_seconds": float64(30)}, 30 * time.Second},
		{Params{"interval": "90"}, 90 * time.Second},
		{Params{"every": "2h30m"}, 150 * time.Minute},
		{Params{"every": "00:15"}, 15 * time.Minute},
		{Params{"minutes": 15}, 15 * time.Minute},
	}
	for _, tt := range tests {
		got, err := c.Next(Interval, tt.p, now)
		if err != nil {
			t.Fatalf("%v: unexpected err: %v", tt.p, err)
		}
		if d := got.Sub(now); d != tt.want {
			t.Fatalf("%v: got %v want %v", tt.p, d, tt.want)
		}
	}

	for _, bad := range []Params{
		{"interval_seconds": 0},
		{"interval_seconds": -5},
		{"interval_seconds": 1.5},
		{"every": "soon"},
		{"hours": 0, "minutes": 0},
		{"interval_seconds": 10000000000},
		{"interval": int64(math.MaxInt64)},
		{"hours": 3000000},
		{"minutes": 200000000},
	} {
		got, err := c.Next(Interval, bad, now)
		if !errors.Is(err, ErrConfig) {
			t.Fatalf("%v: expected ErrConfig, got next=%v err=%v", bad, got, err)
		}
	}

	_, err := c.Next(Interval, Params{"hours": 3000000}, now)
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Fatalf("oversized hours should report the bound, got %v", err)
	}
}

// Daily cron at 09:00 evaluated at 10:00 fires tomorrow.
func TestNextCronDailyRollsOver(t *testing.T) {
	t.Parallel()

	c := utcCalc()
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	got, err := c.Next(Cron, Params{"hour": 9, "minute": 0}, now)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	want := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}

	got, err = c.Next(Cron, Params{"hour": 11, "minute": 30}, now)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	want = time.Date(2024, 1, 1, 11, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestNextCronWeekday(t *testing.T) {
	t.Parallel()

	c := utcCalc()
	// Monday 2024-01-01 10:00.
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		p    Params
		want time.Time
	}{
		{"monday later today", Params{"hour": 11, "minute": 0, "day_of_week": 1}, time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC)},
		{"monday passed", Params{"hour": 9, "minute": 0, "day_of_week": 1}, time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)},
		{"friday", Params{"hour": 9, "minute": 0, "day_of_week": 5}, time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC)},
		{"sunday", Params{"hour": 9, "minute": 0, "day_of_week": 0}, time.Date(2024, 1, 7, 9, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := c.Next(Cron, tt.p, now)
		if err != nil {
			t.Fatalf("%s: unexpected err: %v", tt.name, err)
		}
		if !got.Equal(tt.want) {
			t.Fatalf("%s: got %v want %v", tt.name, got, tt.want)
		}
	}
}

func TestNextCronDefaultsFromConfig(t *testing.T) {
	t.Parallel()

	h, m := 7, 45
	d := DefaultDefaults()
	d.Location = time.UTC
	d.CronHour, d.CronMinute = &h, &m
	c := NewCalculator(d)

	now := time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC)
	got, err := c.Next(Cron, nil, now)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if want := time.Date(2024, 1, 1, 7, 45, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestNextCronRejectsOutOfRange(t *testing.T) {
	t.Parallel()

	c := utcCalc()
	now := time.Now()
	for _, bad := range []Params{
		{"hour": 24},
		{"minute": 60},
		{"day_of_week": 7},
		{"hour": "nine"},
		{"expr": "not a cron"},
		{"expr": "0 0 30 2 *"},
	} {
		got, err := c.Next(Cron, bad, now)
		var ce *ConfigError
		if !errors.As(err, &ce) {
			t.Fatalf("%v: expected *ConfigError, got next=%v err=%v", bad, got, err)
		}
	}
}

// Recurring Mon/Wed/Fri at 08:00 evaluated Tuesday 07:00 yields Wednesday 08:00.
func TestNextRecurringScan(t *testing.T) {
	t.Parallel()

	c := utcCalc()
	now := time.Date(2024, 1, 2, 7, 0, 0, 0, time.UTC) // Tuesday
	p := Params{"days": []any{float64(1), float64(3), float64(5)}, "time": "08:00"}

	got, err := c.Next(Recurring, p, now)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if want := time.Date(2024, 1, 3, 8, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}

	// Same weekday, time already passed: a full week ahead (8-day scan).
	now = time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)
	got, err = c.Next(Recurring, Params{"days": []int{3}, "time": "08:00"}, now)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if want := time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestNextRecurringRejectsMalformed(t *testing.T) {
	t.Parallel()

	c := utcCalc()
	for _, bad := range []Params{
		{"days": []int{1}, "time": "25:00"},
		{"days": []int{1}, "time": "8am"},
		{"days": []int{9}},
		{"days": []any{"mon"}},
	} {
		if _, err := c.Next(Recurring, bad, time.Now()); !errors.Is(err, ErrConfig) {
			t.Fatalf("%v: expected ErrConfig, got %v", bad, err)
		}
	}
}

func TestValidateRejectsUnknownDiscipline(t *testing.T) {
	t.Parallel()

	c := utcCalc()
	err := c.Validate(Discipline("hourly-ish"), nil, time.Now())
	var ce *ConfigError
	if !errors.As(err, &ce) || ce.Field != "discipline" {
		t.Fatalf("expected discipline ConfigError, got %v", err)
	}
}

func TestScheduleExhaustion(t *testing.T) {
	t.Parallel()

	s := Schedule{Discipline: OneTime}
	if s.EffectiveMaxRuns() != 1 {
		t.Fatalf("one_time should default to one run")
	}
	s.RunCount = 1
	if !s.Exhausted() {
		t.Fatalf("expected exhausted")
	}

	s = Schedule{Discipline: Interval, RunCount: 100}
	if s.Exhausted() {
		t.Fatalf("unlimited interval must not exhaust")
	}
	s.MaxRuns = 3
	if !s.Exhausted() {
		t.Fatalf("expected exhausted with run_count past max")
	}
}

func TestCloneDoesNotShareMaps(t *testing.T) {
	t.Parallel()

	s := Schedule{Data: Params{"a": 1}, Config: Params{"b": 2}}
	cp := s.Clone()
	cp.Data["a"] = 9
	cp.Config["c"] = 3
	if s.Data["a"] != 1 || len(s.Config) != 1 {
		t.Fatalf("clone shares maps: %+v", s)
	}
}

func TestCloneCopiesSlices(t *testing.T) {
	t.Parallel()

	p := Params{
		"categories":    []string{"tech", "news"},
		"content_types": []any{"quote", map[string]any{"w": 1}},
		"days":          []int{1, 3},
	}
	cp := p.Clone()
	cp["categories"].([]string)[0] = "x"
	cp["content_types"].([]any)[0] = "x"
	cp["content_types"].([]any)[1].(map[string]any)["w"] = 2
	cp["days"].([]int)[0] = 9

	if p["categories"].([]string)[0] != "tech" {
		t.Fatalf("[]string shared")
	}
	if p["content_types"].([]any)[0] != "quote" {
		t.Fatalf("[]any shared")
	}
	if p["content_types"].([]any)[1].(map[string]any)["w"] != 1 {
		t.Fatalf("nested map shared")
	}
	if p["days"].([]int)[0] != 1 {
		t.Fatalf("[]int shared")
	}
}
