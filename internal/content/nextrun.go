package content

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Defaults feed the calculator when discipline_config leaves a value unset.
type Defaults struct {
	OneTimeDelay time.Duration // one_time with a missing/past datetime
	Interval     time.Duration // interval with no interval key
	CronHour     *int          // nil => current hour
	CronMinute   *int          // nil => current minute
	RecurringAt  string        // HH:MM used when recurring has no "time"
	Location     *time.Location
}

func DefaultDefaults() Defaults {
	return Defaults{
		OneTimeDelay: time.Minute,
		Interval:     60 * time.Second,
		RecurringAt:  "09:00",
		Location:     time.Local,
	}
}

// Calculator computes next-run instants. It is a pure value: safe to copy and
// to share between goroutines.
type Calculator struct {
	d      Defaults
	parser cron.Parser
}

func NewCalculator(d Defaults) Calculator {
	def := DefaultDefaults()
	if d.OneTimeDelay <= 0 {
		d.OneTimeDelay = def.OneTimeDelay
	}
	if d.Interval <= 0 {
		d.Interval = def.Interval
	}
	if strings.TrimSpace(d.RecurringAt) == "" {
		d.RecurringAt = def.RecurringAt
	}
	if d.Location == nil {
		d.Location = def.Location
	}
	return Calculator{
		d: d,
		parser: cron.NewParser(
			cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		),
	}
}

func (c Calculator) Defaults() Defaults { return c.d }

// Next returns the next firing instant for the discipline. The result is
// strictly after now; malformed params, or params that never produce a later
// instant, yield a *ConfigError.
func (c Calculator) Next(d Discipline, p Params, now time.Time) (time.Time, error) {
	if c.d.Location == nil {
		c = NewCalculator(c.d)
	}
	now = now.In(c.d.Location)
	next, err := c.next(d, p, now)
	if err != nil {
		return time.Time{}, err
	}
	if !next.After(now) {
		return time.Time{}, configErr("discipline_config", "next run %s is not after %s", next.Format(time.RFC3339), now.Format(time.RFC3339))
	}
	return next, nil
}

func (c Calculator) next(d Discipline, p Params, now time.Time) (time.Time, error) {
	switch d {
	case OneTime:
		return c.oneTime(p, now)
	case Interval:
		every, err := c.intervalOf(p)
		if err != nil {
			return time.Time{}, err
		}
		return now.Add(every), nil
	case Cron:
		return c.cronNext(p, now)
	case Recurring:
		return c.recurringNext(p, now)
	default:
		return now.Add(time.Minute), nil
	}
}

// Validate checks a discipline and its config without keeping the result.
func (c Calculator) Validate(d Discipline, p Params, now time.Time) error {
	if !d.Valid() {
		return configErr("discipline", "unknown discipline %q", string(d))
	}
	_, err := c.Next(d, p, now)
	return err
}

func (c Calculator) oneTime(p Params, now time.Time) (time.Time, error) {
	at, ok, err := p.TimeIn("datetime", c.d.Location)
	if err != nil {
		return time.Time{}, configErr("datetime", "%v", err)
	}
	if ok && at.After(now) {
		return at, nil
	}
	return now.Add(c.d.OneTimeDelay), nil
}

// intervalOf accepts interval_seconds (canonical), interval (seconds), every
// (Go duration or HH:MM) and hours/minutes.
func (c Calculator) intervalOf(p Params) (time.Duration, error) {
	for _, key := range []string{"interval_seconds", "interval"} {
		n, ok, err := p.Int(key)
		if err != nil {
			return 0, configErr(key, "%v", err)
		}
		if ok {
			if n <= 0 {
				return 0, configErr(key, "must be > 0, got %d", n)
			}
			if int64(n) > maxSeconds {
				return 0, configErr(key, "too large: %d", n)
			}
			return time.Duration(n) * time.Second, nil
		}
	}
	if s, ok := p.String("every"); ok {
		every, err := parseInterval(s)
		if err != nil {
			return 0, configErr("every", "%v", err)
		}
		return every, nil
	}
	h, hok, err := p.Int("hours")
	if err != nil {
		return 0, configErr("hours", "%v", err)
	}
	m, mok, err := p.Int("minutes")
	if err != nil {
		return 0, configErr("minutes", "%v", err)
	}
	if hok || mok {
		if h < 0 || m < 0 {
			return 0, configErr("hours", "hours/minutes must not be negative")
		}
		if int64(h) > maxSeconds/3600 || int64(m) > maxSeconds/60 || int64(h)*3600+int64(m)*60 > maxSeconds {
			return 0, configErr("hours", "interval too large: %dh%dm", h, m)
		}
		every := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute
		if every <= 0 {
			return 0, configErr("hours", "interval must be > 0")
		}
		return every, nil
	}
	return c.d.Interval, nil
}

func (c Calculator) cronNext(p Params, now time.Time) (time.Time, error) {
	if expr, ok := p.String("expr"); ok && expr != "" {
		sched, err := c.parser.Parse(expr)
		if err != nil {
			return time.Time{}, configErr("expr", "%v", err)
		}
		return cronFire(sched, now)
	}

	hour := now.Hour()
	if c.d.CronHour != nil {
		hour = *c.d.CronHour
	}
	minute := now.Minute()
	if c.d.CronMinute != nil {
		minute = *c.d.CronMinute
	}
	if v, ok, err := p.Int("hour"); err != nil {
		return time.Time{}, configErr("hour", "%v", err)
	} else if ok {
		hour = v
	}
	if v, ok, err := p.Int("minute"); err != nil {
		return time.Time{}, configErr("minute", "%v", err)
	} else if ok {
		minute = v
	}
	if hour < 0 || hour > 23 {
		return time.Time{}, configErr("hour", "out of range 0-23: %d", hour)
	}
	if minute < 0 || minute > 59 {
		return time.Time{}, configErr("minute", "out of range 0-59: %d", minute)
	}

	dow := "*"
	if v, ok, err := p.Int("day_of_week"); err != nil {
		return time.Time{}, configErr("day_of_week", "%v", err)
	} else if ok {
		if v < 0 || v > 6 {
			return time.Time{}, configErr("day_of_week", "out of range 0-6: %d", v)
		}
		dow = strconv.Itoa(v) // Sunday=0, same as cron and time.Weekday
	}

	spec := fmt.Sprintf("%d %d * * %s", minute, hour, dow)
	sched, err := c.parser.Parse(spec)
	if err != nil {
		return time.Time{}, configErr("cron", "%v", err)
	}
	return cronFire(sched, now)
}

// cronFire wraps Schedule.Next, which reports "no match within five years"
// as the zero time.
func cronFire(sched cron.Schedule, now time.Time) (time.Time, error) {
	next := sched.Next(now)
	if next.IsZero() {
		return time.Time{}, configErr("expr", "expression never fires")
	}
	return next, nil
}

func (c Calculator) recurringNext(p Params, now time.Time) (time.Time, error) {
	days, _, err := p.Ints("days")
	if err != nil {
		return time.Time{}, configErr("days", "%v", err)
	}
	at := p.StringOr("time", c.d.RecurringAt)
	hour, minute, err := parseHHMM(at)
	if err != nil {
		return time.Time{}, configErr("time", "%v", err)
	}
	want := make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		if d < 0 || d > 6 {
			return time.Time{}, configErr("days", "weekday out of range 0-6: %d", d)
		}
		want[time.Weekday(d)] = true
	}
	if len(want) == 0 {
		return now.AddDate(0, 0, 1), nil
	}

	for offset := 0; offset < 8; offset++ {
		day := now.AddDate(0, 0, offset)
		if !want[day.Weekday()] {
			continue
		}
		cand := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, now.Location())
		if cand.After(now) {
			return cand, nil
		}
	}
	return now.AddDate(0, 0, 1), nil
}

// maxSeconds is the largest whole-second count a time.Duration can hold.
const maxSeconds = math.MaxInt64 / int64(time.Second)

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// parseInterval accepts "HH:MM" (as a duration) or a Go duration like "15m".
func parseInterval(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, fmt.Errorf("interval required")
	}
	if m := reHHMM.FindStringSubmatch(v); len(m) == 3 {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return 0, fmt.Errorf("invalid minutes in %q", v)
		}
		d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		if d <= 0 {
			return 0, fmt.Errorf("interval must be > 0")
		}
		return d, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '55m'/'2h30m')", v)
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}

// parseHHMM parses a wall-clock time of day.
func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
