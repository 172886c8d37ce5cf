package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"contentbot/internal/config"
	"contentbot/internal/content"
	"contentbot/internal/scheduler"
	kit "contentbot/internal/transport"
)

type fakeAdapter struct {
	sent chan string
	mu   sync.Mutex
	to   []kit.ChatTarget
	ctx  context.Context
}

func newFakeAdapter() *fakeAdapter { return &fakeAdapter{sent: make(chan string, 64)} }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	f.to = append(f.to, to)
	f.mu.Unlock()
	f.sent <- text
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeAdapter) Start(ctx context.Context, _ chan<- kit.Update) error {
	f.mu.Lock()
	f.ctx = ctx
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) Stop(context.Context) error { return nil }

func (f *fakeAdapter) runCtx() context.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ctx
}

func (f *fakeAdapter) waitFor(t *testing.T, substr string) string {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case text := <-f.sent:
			if strings.Contains(text, substr) {
				return text
			}
		case <-deadline:
			t.Fatalf("no message containing %q", substr)
			return ""
		}
	}
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	body := `{
  "telegram": {"token": "123:abc", "owner_user_ids": [1]},
  "logging": {"level": "error"},
  "scheduler": {"tick_interval": "20ms", "timezone": "UTC", "one_time_delay": "10ms", "shutdown_grace": "100ms"},
  "rate_limit": {"user": {"capacity": 5, "window": "1m"}},
  "storage": {"driver": "file", "path": "` + filepath.ToSlash(filepath.Join(dir, "data", "bot")) + `"}
}`
	p := filepath.Join(dir, "config.json")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func startApp(t *testing.T, path string) (*App, *fakeAdapter) {
	t.Helper()
	fa := newFakeAdapter()
	a, err := New(path, WithAdapter(fa))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	return a, fa
}

func stopApp(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Stop(ctx, StopSignal); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestAppRoutesCommandsAndRestoresSchedules(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir)

	a, fa := startApp(t, path)
	a.updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 100, FromID: 7, Text: "/remind 10m stand up"}}
	fa.waitFor(t, "reminder scheduled")

	if list := a.Scheduler().List(scheduler.Filter{DestinationID: 100}); len(list) != 1 {
		t.Fatalf("schedules=%d", len(list))
	}
	h := a.Health()
	if h.Status != "ok" || !h.Storage || h.Scheduler.ActiveSchedules != 1 || h.RateLimit.ActorLimit != "5/1m0s" {
		t.Fatalf("health: %+v", h)
	}
	if _, ok := h.Buckets["actor"]; !ok {
		t.Fatalf("bucket counts: %+v", h.Buckets)
	}
	if _, ok := h.Supervisors["app"]; !ok {
		t.Fatalf("app supervisor missing from health: %+v", h.Supervisors)
	}
	stopApp(t, a)

	a, _ = startApp(t, path)
	defer stopApp(t, a)
	list := a.Scheduler().List(scheduler.Filter{DestinationID: 100})
	if len(list) != 1 || list[0].Data["message"] != "stand up" {
		t.Fatalf("restored: %+v", list)
	}
}

func TestAppDeliversDueSchedules(t *testing.T) {
	a, fa := startApp(t, writeConfig(t, t.TempDir()))
	defer stopApp(t, a)

	_, err := a.Scheduler().Schedule(context.Background(), scheduler.Request{
		Kind:          content.KindReminder,
		DestinationID: 55,
		Data:          content.Params{"message": "drink water"},
		Discipline:    content.OneTime,
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if got := fa.waitFor(t, "drink water"); got != "⏰ drink water" {
		t.Fatalf("delivered %q", got)
	}
	fa.mu.Lock()
	defer fa.mu.Unlock()
	if last := fa.to[len(fa.to)-1]; last.ChatID != 55 {
		t.Fatalf("delivered to %+v", last)
	}
}

// A scheduler that fails to start must not leave the transport polling.
func TestStartFailureCancelsAdapter(t *testing.T) {
	dir := t.TempDir()
	fa := newFakeAdapter()
	a, err := New(writeConfig(t, dir), WithAdapter(fa))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := a.sched.Stop(context.Background()); err != nil {
		t.Fatalf("stop scheduler: %v", err)
	}

	if err := a.Start(context.Background()); !errors.Is(err, scheduler.ErrStopped) {
		t.Fatalf("start: got %v want ErrStopped", err)
	}
	ctx := fa.runCtx()
	if ctx == nil {
		t.Fatalf("adapter was never started")
	}
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatalf("adapter context still live after failed start")
	}
	select {
	case <-a.Done():
	default:
		t.Fatalf("app not done after failed start")
	}
	stopApp(t, a)
}

func TestApplyConfigReachesComponents(t *testing.T) {
	a, _ := startApp(t, writeConfig(t, t.TempDir()))
	defer stopApp(t, a)

	prev := a.cfgm.Get()
	next := *prev
	next.RateLimit.User = config.ScopeConfig{Capacity: 2, Window: "30s"}
	next.Delivery = &config.DeliveryConfig{RatePerSec: 10}
	a.applyConfig(context.Background(), prev, &next)

	if got := a.limiter.Stats().ActorLimit; got != "2/30s" {
		t.Fatalf("actor limit after reload: %s", got)
	}
	if err := a.validateReload(context.Background(), &config.Config{}); err == nil {
		t.Fatalf("empty token should be rejected")
	}
}

func TestMapConfigs(t *testing.T) {
	t.Parallel()

	hour := 7
	cfg := &config.Config{
		Telegram: config.TelegramConfig{Token: " t ", OwnerUserIDs: []int64{9}, CommandTimeout: "5s"},
		Logging: config.LoggingConfig{
			Level:    "debug",
			Telegram: config.LoggingTelegram{Enabled: true, MinLevel: "warn"},
		},
		Scheduler: config.SchedulerConfig{
			TickInterval:  "2s",
			Timezone:      "Europe/Berlin",
			CronHour:      &hour,
			RecurringTime: "08:15",
		},
		RateLimit: config.RateLimitConfig{
			User:           config.ScopeConfig{Capacity: 3, Window: "10s"},
			Global:         config.ScopeConfig{Capacity: 0, Window: ""},
			RefundOnReject: true,
		},
		Storage: &config.StorageConfig{Driver: "SQLite3", Path: " /tmp/x.db ", BusyTimeout: "3s"},
		Ops:     config.OpsConfig{Enabled: true, Addr: " 127.0.0.1:7000 "},
	}

	if lc := mapLogConfig(cfg); lc.Ops.Enabled {
		t.Fatalf("ops-chat sink without a chat id must stay off: %+v", lc.Ops)
	}
	cfg.Logging.Telegram.ChatID = -100
	if lc := mapLogConfig(cfg); !lc.Ops.Enabled || lc.Ops.ChatID != -100 || lc.Level != "debug" {
		t.Fatalf("log config: %+v", lc)
	}

	sc, ok := mapStorageConfig(cfg)
	if !ok || sc.Driver != "sqlite" || sc.Path != "/tmp/x.db" || sc.BusyTimeout != 3*time.Second {
		t.Fatalf("storage: %+v ok=%v", sc, ok)
	}
	if _, ok := mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "none"}}); ok {
		t.Fatalf("driver none should disable storage")
	}

	lim := mapLimiterConfig(cfg)
	if lim.Actor.Capacity != 3 || lim.Actor.Window != 10*time.Second || lim.Global.Capacity != 0 || !lim.RefundOnReject {
		t.Fatalf("limiter: %+v", lim)
	}

	sch := mapSchedulerConfig(cfg)
	if sch.TickInterval != 2*time.Second || sch.ShutdownGrace != 5*time.Second || sch.HistorySize != 200 {
		t.Fatalf("scheduler: %+v", sch)
	}
	d := sch.Defaults
	if d.Location.String() != "Europe/Berlin" || d.CronHour == nil || *d.CronHour != 7 || d.CronMinute != nil || d.RecurringAt != "08:15" || d.OneTimeDelay != time.Minute {
		t.Fatalf("defaults: %+v", d)
	}

	if dc := mapDeliveryConfig(cfg); dc.RatePerSec != 3 {
		t.Fatalf("delivery default: %+v", dc)
	}
	if ac := mapAdapterConfig(cfg); ac.Token != "t" || ac.PollTimeout != 10*time.Second {
		t.Fatalf("adapter: %+v", ac)
	}
	if rc := mapRouterConfig(cfg); rc.CommandTimeout != 5*time.Second || rc.Location.String() != "Europe/Berlin" || len(rc.Owners) != 1 {
		t.Fatalf("router: %+v", rc)
	}
	if oc := mapOpsConfig(cfg); !oc.Enabled || oc.Addr != "127.0.0.1:7000" || oc.ReadTimeout != 10*time.Second {
		t.Fatalf("ops: %+v", oc)
	}
}
