// Package delivery turns due schedules into chat messages.
//
// Generated kinds (news, quiz, debate, fun and the digests) ask a Generator
// for the text; reminders and announcements are rendered from their payload.
// Every outbound message passes one shared rate limiter so a burst of due
// schedules cannot flood the chat platform.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"contentbot/internal/content"
	"contentbot/internal/scheduler"
	"contentbot/internal/transport"
	logx "contentbot/pkg/logx"
)

var (
	ErrNoSender   = errors.New("delivery: no sender configured")
	ErrEmptyText  = errors.New("delivery: generator returned empty text")
	ErrNoGenerate = errors.New("delivery: no generator configured")
)

// Prompt is what a Generator is asked to produce.
type Prompt struct {
	Kind          content.Kind
	DestinationID int64
	Text          string
	Data          content.Params
}

// Generator produces message text for a generated kind. The production
// implementation lives outside this repo; Fallback is used when none is set.
type Generator interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

type GeneratorFunc func(ctx context.Context, p Prompt) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, p Prompt) (string, error) { return f(ctx, p) }

type Config struct {
	// RatePerSec bounds outbound messages across all destinations.
	RatePerSec float64
	Burst      int

	ParseMode      string
	DisablePreview bool
	Silent         bool
}

func DefaultConfig() Config {
	return Config{RatePerSec: 3, Burst: 3}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.RatePerSec <= 0 {
		c.RatePerSec = def.RatePerSec
	}
	if c.Burst <= 0 {
		c.Burst = max(1, int(c.RatePerSec))
	}
	return c
}

// Service is safe for concurrent use.
type Service struct {
	log    logx.Logger
	sender transport.Sender
	gen    Generator

	mu      sync.RWMutex
	cfg     Config
	limiter *rate.Limiter
}

func New(cfg Config, sender transport.Sender, gen Generator, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if gen == nil {
		gen = Fallback{}
	}
	s := &Service{
		log:    log.With(logx.String("comp", "delivery")),
		sender: sender,
		gen:    gen,
	}
	s.Apply(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	if s.limiter == nil {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)
		return
	}
	s.limiter.SetLimit(rate.Limit(cfg.RatePerSec))
	s.limiter.SetBurst(cfg.Burst)
}

// Routes binds every content kind to this service.
func (s *Service) Routes() scheduler.Routes {
	return scheduler.Routes{
		News:          s.generated(content.KindNews, "Daily news digest"),
		Quiz:          s.generated(content.KindQuiz, "Daily quiz"),
		Debate:        s.generated(content.KindDebate, "Weekly debate topic"),
		Fun:           s.generated(content.KindFun, "Fun content"),
		Reminder:      s.Reminder,
		Announcement:  s.Announcement,
		DailyDigest:   s.generated(content.KindDailyDigest, "Daily digest"),
		WeeklySummary: s.generated(content.KindWeeklySummary, "Weekly summary"),
	}
}

// Reminder sends "⏰ <message>".
func (s *Service) Reminder(ctx context.Context, dest int64, data content.Params) error {
	return s.send(ctx, dest, ReminderText(data))
}

// Announcement sends "<title>\n\n<message>".
func (s *Service) Announcement(ctx context.Context, dest int64, data content.Params) error {
	return s.send(ctx, dest, AnnouncementText(data))
}

func ReminderText(data content.Params) string {
	return "⏰ " + data.StringOr("message", "Reminder!")
}

func AnnouncementText(data content.Params) string {
	return data.StringOr("title", "📢 Announcement") + "\n\n" + data.StringOr("message", "Announcement")
}

func (s *Service) generated(kind content.Kind, prompt string) scheduler.DeliverFunc {
	return func(ctx context.Context, dest int64, data content.Params) error {
		if s.gen == nil {
			return ErrNoGenerate
		}
		text, err := s.gen.Generate(ctx, Prompt{Kind: kind, DestinationID: dest, Text: prompt, Data: data})
		if err != nil {
			return fmt.Errorf("generate %s: %w", kind, err)
		}
		if strings.TrimSpace(text) == "" {
			return ErrEmptyText
		}
		return s.send(ctx, dest, text)
	}
}

func (s *Service) send(ctx context.Context, dest int64, text string) error {
	if s.sender == nil {
		return ErrNoSender
	}
	s.mu.RLock()
	cfg, lim := s.cfg, s.limiter
	s.mu.RUnlock()

	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("send throttle: %w", err)
	}
	opt := &transport.SendOptions{ParseMode: cfg.ParseMode, DisablePreview: cfg.DisablePreview, Silent: cfg.Silent}
	if _, err := s.sender.SendText(ctx, transport.ChatTarget{ChatID: dest}, text, opt); err != nil {
		return err
	}
	s.log.Debug("message sent", logx.Int64("destination_id", dest), logx.Int("len", len(text)))
	return nil
}
