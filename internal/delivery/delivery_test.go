package delivery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"contentbot/internal/content"
	"contentbot/internal/transport"
	logx "contentbot/pkg/logx"
)

type sent struct {
	to   transport.ChatTarget
	text string
}

type recSender struct {
	mu   sync.Mutex
	msgs []sent
	err  error
}

func (r *recSender) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return transport.MessageRef{}, r.err
	}
	r.msgs = append(r.msgs, sent{to: to, text: text})
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(r.msgs)}, nil
}

func TestReminderAndAnnouncementText(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		got  string
		want string
	}{
		{"reminder", ReminderText(content.Params{"message": "stand-up"}), "⏰ stand-up"},
		{"reminder default", ReminderText(nil), "⏰ Reminder!"},
		{"announcement", AnnouncementText(content.Params{"title": "Release", "message": "v2 is out"}), "Release\n\nv2 is out"},
		{"announcement default", AnnouncementText(content.Params{}), "📢 Announcement\n\nAnnouncement"},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Fatalf("%s: got %q want %q", tc.name, tc.got, tc.want)
		}
	}
}

func TestRoutesSendToDestination(t *testing.T) {
	t.Parallel()

	snd := &recSender{}
	var prompts []Prompt
	gen := GeneratorFunc(func(_ context.Context, p Prompt) (string, error) {
		prompts = append(prompts, p)
		return "generated " + string(p.Kind), nil
	})
	s := New(Config{RatePerSec: 1000, Burst: 100}, snd, gen, logx.Nop())
	r := s.Routes()
	ctx := context.Background()

	if err := r.Deliver(ctx, content.KindReminder, 42, content.Params{"message": "hi"}); err != nil {
		t.Fatalf("reminder: %v", err)
	}
	if err := r.Deliver(ctx, content.KindQuiz, 7, content.Params{"difficulty": "hard"}); err != nil {
		t.Fatalf("quiz: %v", err)
	}
	if err := r.Deliver(ctx, content.KindWeeklySummary, 7, nil); err != nil {
		t.Fatalf("weekly: %v", err)
	}

	if len(snd.msgs) != 3 {
		t.Fatalf("sent=%d", len(snd.msgs))
	}
	if snd.msgs[0].to.ChatID != 42 || snd.msgs[0].text != "⏰ hi" {
		t.Fatalf("reminder message: %+v", snd.msgs[0])
	}
	if snd.msgs[1].text != "generated quiz" || prompts[0].Text != "Daily quiz" || prompts[0].Data["difficulty"] != "hard" {
		t.Fatalf("quiz message: %+v prompt=%+v", snd.msgs[1], prompts[0])
	}
	if prompts[1].Kind != content.KindWeeklySummary {
		t.Fatalf("weekly prompt: %+v", prompts[1])
	}
}

func TestGeneratedDeliveryErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	boom := errors.New("model unavailable")

	s := New(Config{RatePerSec: 1000}, &recSender{}, GeneratorFunc(func(context.Context, Prompt) (string, error) {
		return "", boom
	}), logx.Nop())
	if err := s.Routes().News(ctx, 1, nil); !errors.Is(err, boom) {
		t.Fatalf("generator error not surfaced: %v", err)
	}

	s = New(Config{RatePerSec: 1000}, &recSender{}, GeneratorFunc(func(context.Context, Prompt) (string, error) {
		return "   ", nil
	}), logx.Nop())
	if err := s.Routes().Fun(ctx, 1, nil); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("empty text: %v", err)
	}

	down := errors.New("telegram down")
	s = New(Config{RatePerSec: 1000}, &recSender{err: down}, nil, logx.Nop())
	if err := s.Reminder(ctx, 1, nil); !errors.Is(err, down) {
		t.Fatalf("send error: %v", err)
	}

	s = New(Config{}, nil, nil, logx.Nop())
	if err := s.Reminder(ctx, 1, nil); !errors.Is(err, ErrNoSender) {
		t.Fatalf("no sender: %v", err)
	}
}

func TestSendThrottleHonorsContext(t *testing.T) {
	t.Parallel()

	snd := &recSender{}
	s := New(Config{RatePerSec: 0.001, Burst: 1}, snd, nil, logx.Nop())
	ctx := context.Background()
	if err := s.Reminder(ctx, 1, nil); err != nil {
		t.Fatalf("first send: %v", err)
	}

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := s.Reminder(short, 1, nil); err == nil {
		t.Fatalf("second send should be throttled")
	}
	if len(snd.msgs) != 1 {
		t.Fatalf("throttled message was sent")
	}
}

func TestFallbackGenerator(t *testing.T) {
	t.Parallel()

	text, err := Fallback{}.Generate(context.Background(), Prompt{
		Kind: content.KindNews,
		Text: "Daily news digest",
		Data: content.Params{"categories": []any{"general", "science"}},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(text, "📰 Daily news digest") || !strings.Contains(text, "general, science") {
		t.Fatalf("unexpected text: %q", text)
	}
}
