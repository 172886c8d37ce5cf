package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [1, 2]
  poll_timeout: 10s
logging:
  level: debug
  console: true
scheduler:
  tick_interval: 5s
  timezone: UTC
  cron_hour: 9
rate_limit:
  user: { capacity: 5, window: 1m }
  global: { capacity: 100, window: 1h }
  refund_on_reject: true
storage:
  driver: file
  path: ./data/bot
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()

	m := NewConfigManager(writeFile(t, t.TempDir(), "config.yaml", sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || len(cfg.Telegram.OwnerUserIDs) != 2 {
		t.Fatalf("telegram: %+v", cfg.Telegram)
	}
	if cfg.Scheduler.CronHour == nil || *cfg.Scheduler.CronHour != 9 || cfg.Scheduler.CronMinute != nil {
		t.Fatalf("scheduler: %+v", cfg.Scheduler)
	}
	if cfg.RateLimit.User.Capacity != 5 || cfg.RateLimit.User.Window != "1m" || !cfg.RateLimit.RefundOnReject {
		t.Fatalf("rate_limit: %+v", cfg.RateLimit)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "file" {
		t.Fatalf("storage: %+v", cfg.Storage)
	}
	if m.Get() != cfg {
		t.Fatalf("Load should commit")
	}
}

func TestParseIsStrict(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cases := map[string]string{
		"unknown.json":  `{"telegram":{"token":"x"},"plugins":{}}`,
		"trailing.json": `{"telegram":{"token":"x"}} {}`,
		"unknown.yaml":  "scheduler:\n  workers: 3\n",
	}
	for name, body := range cases {
		m := NewConfigManager(writeFile(t, dir, name, body))
		if _, err := m.Parse(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	hour := 25
	bad := &Config{
		Scheduler: SchedulerConfig{TickInterval: "soon", Timezone: "Mars/Olympus", CronHour: &hour, RecurringTime: "9am"},
		RateLimit: RateLimitConfig{Chat: ScopeConfig{Capacity: -1, Window: "1h"}},
		Storage:   &StorageConfig{Driver: "sqlite"},
		Ops:       OpsConfig{Enabled: true, Addr: "0.0.0.0:6060"},
	}
	err := Validate(bad)
	if err == nil {
		t.Fatalf("expected errors")
	}
	for _, want := range []string{
		"scheduler.tick_interval", "scheduler.timezone", "scheduler.cron_hour",
		"scheduler.recurring_time", "rate_limit.chat.capacity", "storage.path", "ops.addr",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("missing %q in %v", want, err)
		}
	}

	ok := &Config{Ops: OpsConfig{Enabled: true, Addr: "127.0.0.1:6060"}}
	if err := Validate(ok); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	ok.Ops.Addr = ":6060"
	ok.Ops.Token = "secret"
	if err := Validate(ok); err != nil {
		t.Fatalf("token-protected bind rejected: %v", err)
	}
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{Telegram: TelegramConfig{Token: "old-secret"}, Ops: OpsConfig{Token: "a"}}
	newCfg := &Config{
		Telegram:  TelegramConfig{Token: "new-secret"},
		RateLimit: RateLimitConfig{User: ScopeConfig{Capacity: 3, Window: "1m"}},
		Ops:       OpsConfig{Token: "b"},
	}
	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(changed, ",") != "rate_limit,telegram" {
		t.Fatalf("changed=%v", changed)
	}
	if len(attrs) == 0 {
		t.Fatalf("expected attrs")
	}

	if changed, _ := SummarizeConfigChange(newCfg, newCfg); len(changed) != 0 {
		t.Fatalf("identical configs reported %v", changed)
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "config.json", `{"logging":{"level":"info"}}`)
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)

	// Invalid content is rejected and never published.
	writeFile(t, dir, "config.json", `{"scheduler":{"tick_interval":"often"}}`)
	select {
	case cfg := <-ch:
		t.Fatalf("invalid config published: %+v", cfg)
	case <-time.After(600 * time.Millisecond):
	}

	writeFile(t, dir, "config.json", `{"logging":{"level":"debug"}}`)
	select {
	case cfg := <-ch:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("unexpected config: %+v", cfg.Logging)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("config change not published")
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatalf("published config not committed")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Watch did not return after cancel")
	}
}
