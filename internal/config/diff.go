package config

import (
	"reflect"
	"sort"
	"strconv"
	"strings"

	logx "contentbot/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 24)

	// Telegram (never log token)
	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		strings.TrimSpace(ot.CommandTimeout) != strings.TrimSpace(nt.CommandTimeout) ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		ot.Token != nt.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		)
	}

	// Logging
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	// Scheduler
	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		s := newCfg.Scheduler
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.tick_interval", strings.TrimSpace(s.TickInterval)),
			logx.String("scheduler.delivery_timeout", strings.TrimSpace(s.DeliveryTimeout)),
			logx.String("scheduler.timezone", strings.TrimSpace(s.Timezone)),
			logx.Int("scheduler.history_size", s.HistorySize),
		)
	}

	// Rate limit
	if !reflect.DeepEqual(oldCfg.RateLimit, newCfg.RateLimit) {
		r := newCfg.RateLimit
		changed = append(changed, "rate_limit")
		attrs = append(attrs,
			logx.String("rate_limit.user", scopeString(r.User)),
			logx.String("rate_limit.chat", scopeString(r.Chat)),
			logx.String("rate_limit.global", scopeString(r.Global)),
			logx.Bool("rate_limit.refund_on_reject", r.RefundOnReject),
		)
	}

	// Delivery (nil means defaults)
	var od, nd DeliveryConfig
	if oldCfg.Delivery != nil {
		od = *oldCfg.Delivery
	}
	if newCfg.Delivery != nil {
		nd = *newCfg.Delivery
	}
	if od != nd {
		changed = append(changed, "delivery")
		attrs = append(attrs,
			logx.Float64("delivery.rate_per_sec", nd.RatePerSec),
			logx.Int("delivery.burst", nd.Burst),
			logx.String("delivery.parse_mode", nd.ParseMode),
		)
	}

	// Storage (nil means disabled). Applied on restart only.
	var oldSt, newSt StorageConfig
	if oldCfg.Storage != nil {
		oldSt = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		newSt = *newCfg.Storage
	}
	if oldSt != newSt {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newSt.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newSt.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newSt.BusyTimeout)),
		)
	}

	// Ops (never log token)
	oo, no := oldCfg.Ops, newCfg.Ops
	oo.Token, no.Token = tokenMark(oo.Token), tokenMark(no.Token)
	if oo != no {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", no.Enabled),
			logx.String("ops.addr", strings.TrimSpace(no.Addr)),
			logx.Bool("ops.token_set", no.Token != ""),
			logx.Bool("ops.pprof", no.Pprof),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func scopeString(s ScopeConfig) string {
	if s.Capacity == 0 && strings.TrimSpace(s.Window) == "" {
		return "default"
	}
	return strconv.Itoa(s.Capacity) + "/" + strings.TrimSpace(s.Window)
}

// tokenMark keeps only whether a token is set.
func tokenMark(tok string) string {
	if strings.TrimSpace(tok) == "" {
		return ""
	}
	return "set"
}
