package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Validate checks everything that can be checked without side effects. It is
// run on Load and before a hot reload is committed.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	dur("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	dur("telegram.command_timeout", cfg.Telegram.CommandTimeout)

	s := cfg.Scheduler
	dur("scheduler.tick_interval", s.TickInterval)
	dur("scheduler.delivery_timeout", s.DeliveryTimeout)
	dur("scheduler.shutdown_grace", s.ShutdownGrace)
	dur("scheduler.one_time_delay", s.OneTimeDelay)
	dur("scheduler.default_interval", s.DefaultInterval)
	if s.HistorySize < 0 {
		add(errors.New("scheduler.history_size: must be >= 0"))
	}
	if tz := strings.TrimSpace(s.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	if s.CronHour != nil && (*s.CronHour < 0 || *s.CronHour > 23) {
		add(fmt.Errorf("scheduler.cron_hour: out of range 0-23: %d", *s.CronHour))
	}
	if s.CronMinute != nil && (*s.CronMinute < 0 || *s.CronMinute > 59) {
		add(fmt.Errorf("scheduler.cron_minute: out of range 0-59: %d", *s.CronMinute))
	}
	if rt := strings.TrimSpace(s.RecurringTime); rt != "" {
		if _, err := time.Parse("15:04", rt); err != nil {
			add(fmt.Errorf("scheduler.recurring_time: want HH:MM, got %q", rt))
		}
	}

	rl := cfg.RateLimit
	for _, sc := range []struct {
		name string
		ScopeConfig
	}{{"user", rl.User}, {"chat", rl.Chat}, {"global", rl.Global}} {
		if sc.Capacity < 0 {
			add(fmt.Errorf("rate_limit.%s.capacity: must be >= 0", sc.name))
		}
		dur("rate_limit."+sc.name+".window", sc.Window)
	}
	dur("rate_limit.idle_ttl", rl.IdleTTL)
	dur("rate_limit.sweep_interval", rl.SweepInterval)

	if d := cfg.Delivery; d != nil {
		if d.RatePerSec < 0 {
			add(errors.New("delivery.rate_per_sec: must be >= 0"))
		}
		if d.Burst < 0 {
			add(errors.New("delivery.burst: must be >= 0"))
		}
	}

	if st := cfg.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(st.Path) == "" {
				add(errors.New("storage.path: required for driver " + st.Driver))
			}
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
		}
		dur("storage.busy_timeout", st.BusyTimeout)
	}

	if o := cfg.Ops; o.Enabled {
		dur("ops.read_timeout", o.ReadTimeout)
		dur("ops.write_timeout", o.WriteTimeout)
		dur("ops.idle_timeout", o.IdleTimeout)
		if err := checkOpsBind(o); err != nil {
			add(err)
		}
	}

	return errors.Join(errs...)
}

// checkOpsBind refuses a non-loopback listener without a token unless
// allow_insecure is set.
func checkOpsBind(o OpsConfig) error {
	addr := strings.TrimSpace(o.Addr)
	if addr == "" {
		return nil
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("ops.addr: %w", err)
	}
	if strings.TrimSpace(o.Token) != "" || o.AllowInsecure {
		return nil
	}
	if host == "localhost" {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return nil
	}
	return fmt.Errorf("ops.addr: %q is not loopback; set ops.token or ops.allow_insecure", addr)
}
