package app

import (
	"strings"
	"time"

	"contentbot/internal/config"
	"contentbot/internal/content"
	"contentbot/internal/delivery"
	"contentbot/internal/observability/ops"
	"contentbot/internal/ratelimit"
	"contentbot/internal/scheduler"
	"contentbot/internal/storage"
	"contentbot/internal/transport/telegram/adapter"
	"contentbot/internal/transport/telegram/router"
	logx "contentbot/pkg/logx"
)

// The map* helpers turn the on-disk config into component configs. Durations
// have already passed config.Validate, so a bad value falls back to the
// component default instead of failing here.

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
		Ops: logx.OpsChatConfig{
			// The ops-chat sink needs a target; without one it stays off.
			Enabled:    lc.Telegram.Enabled && lc.Telegram.ChatID != 0,
			ChatID:     lc.Telegram.ChatID,
			ThreadID:   lc.Telegram.ThreadID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

// mapStorageConfig reports enabled=false when no driver is configured.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool) {
	sc := cfg.Storage
	if sc == nil {
		return storage.Config{}, false
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false
	}
	if driver == "sqlite3" {
		driver = "sqlite"
	}
	return storage.Config{
		Driver:       driver,
		Path:         strings.TrimSpace(sc.Path),
		BusyTimeout:  config.Duration(sc.BusyTimeout, time.Second),
		CompactEvery: sc.CompactEvery,
	}, true
}

func mapLimiterConfig(cfg *config.Config) ratelimit.Config {
	rl := cfg.RateLimit
	scope := func(s config.ScopeConfig) ratelimit.Scope {
		return ratelimit.Scope{Capacity: s.Capacity, Window: config.Duration(s.Window, 0)}
	}
	return ratelimit.Config{
		Actor:          scope(rl.User),
		Destination:    scope(rl.Chat),
		Global:         scope(rl.Global),
		IdleTTL:        config.Duration(rl.IdleTTL, 0),
		SweepInterval:  config.Duration(rl.SweepInterval, 0),
		RefundOnReject: rl.RefundOnReject,
	}
}

// location resolves scheduler.timezone; empty means local time.
func location(cfg *config.Config) *time.Location {
	tz := strings.TrimSpace(cfg.Scheduler.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	sc := cfg.Scheduler
	def := content.DefaultDefaults()

	out := scheduler.DefaultConfig()
	out.TickInterval = config.Duration(sc.TickInterval, out.TickInterval)
	out.DeliveryTimeout = config.Duration(sc.DeliveryTimeout, 0)
	out.ShutdownGrace = config.Duration(sc.ShutdownGrace, out.ShutdownGrace)
	if sc.HistorySize > 0 {
		out.HistorySize = sc.HistorySize
	}
	out.Defaults = content.Defaults{
		OneTimeDelay: config.Duration(sc.OneTimeDelay, def.OneTimeDelay),
		Interval:     config.Duration(sc.DefaultInterval, def.Interval),
		CronHour:     sc.CronHour,
		CronMinute:   sc.CronMinute,
		RecurringAt:  def.RecurringAt,
		Location:     location(cfg),
	}
	if rt := strings.TrimSpace(sc.RecurringTime); rt != "" {
		out.Defaults.RecurringAt = rt
	}
	return out
}

func mapDeliveryConfig(cfg *config.Config) delivery.Config {
	d := cfg.Delivery
	if d == nil {
		return delivery.DefaultConfig()
	}
	return delivery.Config{
		RatePerSec:     d.RatePerSec,
		Burst:          d.Burst,
		ParseMode:      d.ParseMode,
		DisablePreview: d.DisablePreview,
		Silent:         d.Silent,
	}
}

func mapAdapterConfig(cfg *config.Config) adapter.Config {
	return adapter.Config{
		Token:       strings.TrimSpace(cfg.Telegram.Token),
		PollTimeout: config.Duration(cfg.Telegram.PollTimeout, 10*time.Second),
	}
}

func mapRouterConfig(cfg *config.Config) router.Config {
	return router.Config{
		CommandTimeout: config.Duration(cfg.Telegram.CommandTimeout, 30*time.Second),
		Location:       location(cfg),
		Owners:         cfg.Telegram.OwnerUserIDs,
	}
}

func mapOpsConfig(cfg *config.Config) ops.Config {
	o := cfg.Ops
	return ops.Config{
		Enabled:       o.Enabled,
		Addr:          strings.TrimSpace(o.Addr),
		Token:         strings.TrimSpace(o.Token),
		AllowInsecure: o.AllowInsecure,
		Pprof:         o.Pprof,
		ReadTimeout:   config.Duration(o.ReadTimeout, 10*time.Second),
		WriteTimeout:  config.Duration(o.WriteTimeout, 30*time.Second),
		IdleTimeout:   config.Duration(o.IdleTimeout, time.Minute),
	}
}
