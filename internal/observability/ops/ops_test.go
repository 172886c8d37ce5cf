package ops

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"contentbot/internal/content"
	"contentbot/internal/ratelimit"
	"contentbot/internal/scheduler"
	logx "contentbot/pkg/logx"
)

type nopDeliverer struct{}

func (nopDeliverer) Deliver(context.Context, content.Kind, int64, content.Params) error { return nil }

func newSources(t *testing.T) Sources {
	t.Helper()
	cfg := scheduler.DefaultConfig()
	cfg.Defaults.Location = time.UTC
	sch := scheduler.New(cfg, nopDeliverer{}, logx.Nop())
	lim := ratelimit.New(ratelimit.Config{
		Actor:       ratelimit.Scope{Capacity: 1, Window: time.Minute},
		Destination: ratelimit.Scope{Capacity: 10, Window: time.Hour},
		Global:      ratelimit.Scope{Capacity: 100, Window: time.Hour},
	}, logx.Nop())
	return Sources{
		Health:    func() any { return map[string]string{"status": "ok"} },
		Scheduler: sch,
		Limiter:   lim,
	}
}

func do(t *testing.T, h http.Handler, method, target, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTokenProtectsEverythingButHealthz(t *testing.T) {
	t.Parallel()

	h := Handler(newSources(t), HandlerOptions{Token: "s3cret", Log: logx.Nop()})

	if rec := do(t, h, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rec.Code, rec.Body.String())
	}
	for _, path := range []string{"/health", "/schedules", "/ratelimit"} {
		if rec := do(t, h, http.MethodGet, path, ""); rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s without token: %d", path, rec.Code)
		}
		if rec := do(t, h, http.MethodGet, path, "wrong"); rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s with wrong token: %d", path, rec.Code)
		}
		if rec := do(t, h, http.MethodGet, path, "s3cret"); rec.Code != http.StatusOK {
			t.Fatalf("%s with token: %d", path, rec.Code)
		}
	}
	if rec := do(t, h, http.MethodGet, "/health?token=s3cret", ""); rec.Code != http.StatusOK {
		t.Fatalf("query token: %d", rec.Code)
	}
}

func TestScheduleEndpoints(t *testing.T) {
	t.Parallel()

	src := newSources(t)
	h := Handler(src, HandlerOptions{Log: logx.Nop()})
	ctx := context.Background()

	id, err := src.Scheduler.ScheduleDailyQuiz(ctx, 42, "", "")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if _, err := src.Scheduler.ScheduleNewsDigest(ctx, 7, "", nil); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	rec := do(t, h, http.MethodGet, "/schedules?destination_id=42", "")
	var list struct {
		Count     int `json:"count"`
		Schedules []struct {
			ID   string `json:"id"`
			Kind string `json:"content_kind"`
		} `json:"schedules"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Count != 1 || list.Schedules[0].ID != id || list.Schedules[0].Kind != "quiz" {
		t.Fatalf("list: %+v", list)
	}

	if rec := do(t, h, http.MethodGet, "/schedules?kind=weather", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad kind: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/schedules/"+id, ""); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"exhausted":false`) {
		t.Fatalf("get: %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, h, http.MethodDelete, "/schedules/"+id, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("cancel: %d", rec.Code)
	}
	if sc, _ := src.Scheduler.Get(id); sc.Active {
		t.Fatalf("schedule still active after cancel")
	}
	if rec := do(t, h, http.MethodDelete, "/schedules/nope", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("cancel unknown: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/schedules/history", ""); rec.Code != http.StatusOK {
		t.Fatalf("history: %d", rec.Code)
	}
}

func TestRateLimitEndpoints(t *testing.T) {
	t.Parallel()

	src := newSources(t)
	h := Handler(src, HandlerOptions{Log: logx.Nop()})
	src.Limiter.Check(5, 9)

	rec := do(t, h, http.MethodGet, "/ratelimit/wait?actor_id=5&destination_id=9", "")
	var wait map[string]float64
	if err := json.NewDecoder(rec.Body).Decode(&wait); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if wait["actor"] < 59 || wait["actor"] > 60.5 || wait["global"] != 0 {
		t.Fatalf("wait: %v", wait)
	}

	if rec := do(t, h, http.MethodGet, "/ratelimit/wait?actor_id=x", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/ratelimit/reset?actor_id=5", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("reset: %d", rec.Code)
	}
	if !src.Limiter.Check(5, 9) {
		t.Fatalf("actor should pass after reset")
	}

	rec = do(t, h, http.MethodGet, "/ratelimit", "")
	var st ratelimit.Stats
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.ActorBuckets != 1 || st.ActorLimit != "1/1m0s" {
		t.Fatalf("stats: %+v", st)
	}
}

func TestPprofIsOptIn(t *testing.T) {
	t.Parallel()

	if rec := do(t, Handler(Sources{}, HandlerOptions{}), http.MethodGet, "/debug/pprof/", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("pprof should be off: %d", rec.Code)
	}
	rec := do(t, Handler(Sources{}, HandlerOptions{Pprof: true}), http.MethodGet, "/debug/pprof/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("pprof index: %d", rec.Code)
	}
	if rec := do(t, Handler(Sources{}, HandlerOptions{}), http.MethodGet, "/schedules", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("missing scheduler: %d", rec.Code)
	}
}

func TestServiceLifecycle(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, newSources(t), logx.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Start(ctx)

	var addr string
	for addr == "" && ctx.Err() == nil {
		time.Sleep(10 * time.Millisecond)
		addr = s.Addr()
	}
	if addr == "" {
		t.Fatalf("server did not start")
	}
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "ok" {
		t.Fatalf("body=%q", body)
	}

	s.Stop(ctx)
	if s.Supervisor() != nil || s.Addr() != "" {
		t.Fatalf("server still registered after Stop")
	}

	// Public bind without a token is refused.
	s = New(Config{Enabled: true, Addr: "0.0.0.0:0"}, Sources{}, logx.Nop())
	s.Start(ctx)
	time.Sleep(100 * time.Millisecond)
	if s.Addr() != "" {
		t.Fatalf("insecure bind should be refused")
	}
	s.Stop(ctx)
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:1":    true,
		"[::1]:6060":     true,
		":6060":          false,
		"0.0.0.0:6060":   false,
		"10.0.0.1:6060":  false,
		"nonsense":       false,
	}
	for addr, want := range cases {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("%s: got %v want %v", addr, got, want)
		}
	}
}
