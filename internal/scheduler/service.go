// Package scheduler owns content schedules and dispatches due ones.
//
// A single tick loop scans schedules; every due schedule runs in its own
// cancellable goroutine guarded so that one id never has two executions in
// flight. Bookkeeping (last_run, run_count, next_run) happens when an
// execution finishes, fails, times out or is cancelled.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"contentbot/internal/content"
	"contentbot/internal/eventbus"
	logx "contentbot/pkg/logx"
)

type entry struct {
	mu      sync.Mutex
	s       content.Schedule
	running *execution

	// saveMu orders persistence of successive snapshots of this entry.
	saveMu sync.Mutex
}

type execution struct {
	cancel  context.CancelFunc
	started time.Time
}

type Service struct {
	log     logx.Logger
	bus     eventbus.Bus
	store   Store
	deliver Deliverer
	now     func() time.Time

	mu      sync.RWMutex
	cfg     Config
	calc    content.Calculator
	entries map[string]*entry
	order   []string

	inFlight atomic.Int64
	ticks    atomic.Uint64
	lastTick atomic.Value // time.Time
	wg       sync.WaitGroup

	hmu     sync.Mutex
	history []HistoryItem

	runMu      sync.Mutex
	running    bool
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	execCtx    context.Context
	execCancel context.CancelFunc
	applyCh    chan struct{}
}

type Option func(*Service)

func WithStore(st Store) Option { return func(s *Service) { s.store = st } }

func WithBus(b eventbus.Bus) Option { return func(s *Service) { s.bus = b } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func New(cfg Config, deliver Deliverer, log logx.Logger, opts ...Option) *Service {
	cfg = cfg.withDefaults()
	s := &Service{
		log:     log.With(logx.String("comp", "scheduler")),
		deliver: deliver,
		now:     time.Now,
		cfg:     cfg,
		calc:    content.NewCalculator(cfg.Defaults),
		entries: map[string]*entry{},
		applyCh: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	s.execCtx, s.execCancel = context.WithCancel(context.Background())
	return s
}

// Apply swaps tick/timeout/defaults at runtime. The running loop picks up a
// new tick interval on its next wakeup.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.calc = content.NewCalculator(cfg.Defaults)
	s.mu.Unlock()
	select {
	case s.applyCh <- struct{}{}:
	default:
	}
}

func (s *Service) config() (Config, content.Calculator) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, s.calc
}

// Schedule validates req, computes the first next_run and registers the
// schedule. It never blocks on delivery.
func (s *Service) Schedule(ctx context.Context, req Request) (string, error) {
	if !req.Kind.Valid() {
		return "", &content.ConfigError{Field: "content_kind", Reason: fmt.Sprintf("unknown kind %q", req.Kind)}
	}
	if req.MaxRuns < 0 {
		return "", &content.ConfigError{Field: "max_runs", Reason: "must not be negative"}
	}
	_, calc := s.config()
	now := s.now()
	if err := calc.Validate(req.Discipline, req.Config, now); err != nil {
		return "", err
	}
	next, err := calc.Next(req.Discipline, req.Config, now)
	if err != nil {
		return "", err
	}

	sc := content.Schedule{
		ID:            uuid.NewString(),
		Kind:          req.Kind,
		DestinationID: req.DestinationID,
		Data:          req.Data.Clone(),
		Discipline:    req.Discipline,
		Config:        req.Config.Clone(),
		Active:        true,
		State:         content.StateActive,
		CreatedAt:     now,
		NextRun:       next,
		MaxRuns:       req.MaxRuns,
		Metadata:      req.Metadata.Clone(),
	}
	e := &entry{s: sc}

	s.mu.Lock()
	s.entries[sc.ID] = e
	s.order = append(s.order, sc.ID)
	s.mu.Unlock()

	e.mu.Lock()
	s.unlockAndSave(ctx, e)

	s.log.Info("content scheduled",
		logx.String("schedule_id", sc.ID),
		logx.String("kind", string(sc.Kind)),
		logx.Int64("destination_id", sc.DestinationID),
		logx.String("discipline", string(sc.Discipline)),
		logx.Time("next_run", next),
	)
	s.publish(EventCreated, sc, 0, nil)
	return sc.ID, nil
}

// Cancel deactivates the schedule and aborts its in-flight execution, if any.
// It returns false for unknown ids.
func (s *Service) Cancel(ctx context.Context, id string) bool {
	e := s.entry(id)
	if e == nil {
		return false
	}
	e.mu.Lock()
	e.s.Active = false
	e.s.State = content.StateCancelled
	if e.running != nil {
		e.running.cancel()
	}
	sc := e.s.Clone()
	s.unlockAndSave(ctx, e)

	s.log.Info("schedule cancelled", logx.String("schedule_id", id))
	s.publish(EventCancelled, sc, 0, nil)
	return true
}

// Update applies the non-nil fields of u. A new discipline config is validated
// first and next_run is recomputed from now. It returns false for unknown ids.
func (s *Service) Update(ctx context.Context, id string, u Update) (bool, error) {
	e := s.entry(id)
	if e == nil {
		return false, nil
	}
	if u.MaxRuns != nil && *u.MaxRuns < 0 {
		return false, &content.ConfigError{Field: "max_runs", Reason: "must not be negative"}
	}
	_, calc := s.config()
	now := s.now()

	e.mu.Lock()
	var next time.Time
	if u.Config != nil {
		var err error
		next, err = calc.Next(e.s.Discipline, u.Config, now)
		if err != nil {
			e.mu.Unlock()
			return false, err
		}
	}
	cand := e.s.Clone()
	if u.MaxRuns != nil {
		cand.MaxRuns = *u.MaxRuns
	}
	if u.Active != nil && *u.Active && !e.s.Active && cand.Exhausted() {
		e.mu.Unlock()
		return false, fmt.Errorf("%w: run_count %d reached max_runs", ErrExhausted, cand.RunCount)
	}

	if u.DestinationID != nil {
		e.s.DestinationID = *u.DestinationID
	}
	if u.Data != nil {
		e.s.Data = u.Data.Clone()
	}
	if u.Metadata != nil {
		e.s.Metadata = u.Metadata.Clone()
	}
	if u.MaxRuns != nil {
		e.s.MaxRuns = *u.MaxRuns
	}
	if u.Config != nil {
		e.s.Config = u.Config.Clone()
		e.s.NextRun = next
	}
	if u.Active != nil && *u.Active != e.s.Active {
		if *u.Active {
			if e.s.NextRun.IsZero() || !e.s.NextRun.After(now) {
				n, err := calc.Next(e.s.Discipline, e.s.Config, now)
				if err != nil {
					e.mu.Unlock()
					return false, err
				}
				e.s.NextRun = n
			}
			e.s.Active = true
			e.s.State = content.StateActive
			if e.running != nil {
				e.s.State = content.StateExecuting
			}
		} else {
			e.s.Active = false
			e.s.State = content.StateCancelled
		}
	}
	if e.s.Active && e.running == nil && e.s.Exhausted() {
		e.s.Active = false
		e.s.State = content.StateExhausted
	}
	s.unlockAndSave(ctx, e)

	s.log.Info("schedule updated", logx.String("schedule_id", id))
	return true, nil
}

// List returns copies in insertion order.
func (s *Service) List(f Filter) []content.Schedule {
	out := []content.Schedule{}
	for _, e := range s.snapshotEntries() {
		e.mu.Lock()
		if f.match(e.s) {
			out = append(out, e.s.Clone())
		}
		e.mu.Unlock()
	}
	return out
}

func (s *Service) Get(id string) (content.Schedule, bool) {
	e := s.entry(id)
	if e == nil {
		return content.Schedule{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s.Clone(), true
}

// Purge forgets an inactive, idle schedule. Active or executing schedules are
// kept and false is returned.
func (s *Service) Purge(ctx context.Context, id string) bool {
	e := s.entry(id)
	if e == nil {
		return false
	}
	e.mu.Lock()
	if e.s.Active || e.running != nil {
		e.mu.Unlock()
		return false
	}
	s.mu.Lock()
	delete(s.entries, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	e.saveMu.Lock()
	e.mu.Unlock()
	defer e.saveMu.Unlock()

	if s.store != nil {
		if err := s.store.DeleteSchedule(s.storeCtx(ctx), id); err != nil {
			s.log.Warn("schedule delete failed", logx.String("schedule_id", id), logx.Err(err))
		}
	}
	return true
}

// Health summarizes schedules and executions.
func (s *Service) Health() Health {
	h := Health{InFlight: int(s.inFlight.Load()), Ticks: s.ticks.Load()}
	if t, ok := s.lastTick.Load().(time.Time); ok {
		h.LastTick = t
	}
	s.runMu.Lock()
	h.Running = s.running
	s.runMu.Unlock()

	var next time.Time
	for _, e := range s.snapshotEntries() {
		e.mu.Lock()
		h.TotalSchedules++
		if e.s.Active {
			h.ActiveSchedules++
			if !e.s.NextRun.IsZero() && (next.IsZero() || e.s.NextRun.Before(next)) {
				next = e.s.NextRun
			}
		}
		e.mu.Unlock()
	}
	if !next.IsZero() {
		h.NextDue = &next
	}
	return h
}

// History returns the most recent executions, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) entry(id string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[id]
}

func (s *Service) snapshotEntries() []*entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*entry, 0, len(s.order))
	for _, id := range s.order {
		if e := s.entries[id]; e != nil {
			out = append(out, e)
		}
	}
	return out
}

// unlockAndSave releases e.mu and persists the snapshot taken under it.
func (s *Service) unlockAndSave(ctx context.Context, e *entry) {
	snap := e.s.Clone()
	e.saveMu.Lock()
	e.mu.Unlock()
	defer e.saveMu.Unlock()

	if s.store == nil {
		return
	}
	if err := s.store.SaveSchedule(s.storeCtx(ctx), snap); err != nil {
		s.log.Warn("schedule save failed", logx.String("schedule_id", snap.ID), logx.Err(err))
	}
}

func (s *Service) storeCtx(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(ctx)
}

func (s *Service) publish(typ string, sc content.Schedule, dur time.Duration, err error) {
	if s.bus == nil {
		return
	}
	d := EventData{
		ScheduleID:    sc.ID,
		Kind:          sc.Kind,
		DestinationID: sc.DestinationID,
		RunCount:      sc.RunCount,
		Duration:      dur,
	}
	if err != nil {
		d.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: d})
}

func (s *Service) record(item HistoryItem) {
	cfg, _ := s.config()
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, item)
	if len(s.history) > cfg.HistorySize {
		s.history = s.history[len(s.history)-cfg.HistorySize:]
	}
}

// restore loads persisted schedules. Executions interrupted by a crash are
// resolved to active; active schedules without a future next_run are
// recomputed.
func (s *Service) restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	list, err := s.store.LoadSchedules(ctx)
	if err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}
	_, calc := s.config()
	now := s.now()

	restored := 0
	for _, sc := range list {
		if sc.ID == "" {
			continue
		}
		if sc.State == content.StateExecuting || sc.State == "" {
			if sc.Active {
				sc.State = content.StateActive
			} else {
				sc.State = content.StateCancelled
			}
		}
		if sc.Active && sc.NextRun.IsZero() {
			next, err := calc.Next(sc.Discipline, sc.Config, now)
			if err != nil {
				s.log.Warn("restored schedule has invalid config, deactivating", logx.String("schedule_id", sc.ID), logx.Err(err))
				sc.Active = false
				sc.State = content.StateCancelled
			} else {
				sc.NextRun = next
			}
		}

		s.mu.Lock()
		if _, dup := s.entries[sc.ID]; !dup {
			s.entries[sc.ID] = &entry{s: sc}
			s.order = append(s.order, sc.ID)
			restored++
		}
		s.mu.Unlock()
	}
	if restored > 0 {
		s.log.Info("schedules restored", logx.Int("count", restored))
	}
	return nil
}

var errCancelled = errors.New("execution cancelled")
