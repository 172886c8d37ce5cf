package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"contentbot/internal/transport"
)

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()

	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	l.With(String("comp", "x")).Info("discarded", Int("n", 1))
}

func TestWithFieldsAreWritten(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := NewWriter(&buf, "debug").With(String("comp", "scheduler"))
	l.Warn("tick overran", Duration("took", 2*time.Second), Int64("dest", -100))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode: %v (%q)", err, buf.String())
	}
	if m["comp"] != "scheduler" || m["message"] != "tick overran" || m["level"] != "warn" {
		t.Fatalf("unexpected line: %v", m)
	}
	if c, _ := m["caller"].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller should point at the call site, got %q", c)
	}
}

func TestRenderOpsLine(t *testing.T) {
	t.Parallel()

	got := renderOpsLine([]byte(`{"level":"error","message":"delivery failed","schedule_id":"abc","time":"x"}` + "\n"))
	want := "[ERROR] delivery failed\n- schedule_id=abc"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if got := renderOpsLine([]byte("plain text\n")); got != "plain text" {
		t.Fatalf("non-json line: %q", got)
	}
}

type recSender struct {
	mu   sync.Mutex
	msgs []string
	got  chan struct{}
}

func (r *recSender) SendText(_ context.Context, _ transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	r.mu.Lock()
	r.msgs = append(r.msgs, text)
	r.mu.Unlock()
	select {
	case r.got <- struct{}{}:
	default:
	}
	return transport.MessageRef{}, nil
}

func TestOpsSinkForwardsWarnings(t *testing.T) {
	svc, log := New(Config{Level: "debug", Ops: OpsChatConfig{Enabled: true, ChatID: -42, MinLevel: "warn", RatePerSec: 5}})
	t.Cleanup(func() { _ = svc.Close() })

	rec := &recSender{got: make(chan struct{}, 4)}
	svc.SetSender(rec)

	log.Info("not forwarded")
	log.Warn("forwarded")

	select {
	case <-rec.got:
	case <-time.After(2 * time.Second):
		t.Fatalf("ops sink did not forward")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.msgs) != 1 || !strings.Contains(rec.msgs[0], "forwarded") {
		t.Fatalf("unexpected forwarded lines: %q", rec.msgs)
	}
}
