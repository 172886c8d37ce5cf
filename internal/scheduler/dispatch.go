package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"contentbot/internal/content"
	logx "contentbot/pkg/logx"
)

// Start restores persisted schedules and launches the tick loop. The loop
// runs until Stop or until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return nil
	}
	if s.execCtx.Err() != nil {
		return ErrStopped
	}
	if err := s.restore(ctx); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.loopCancel = cancel
	s.loopDone = make(chan struct{})
	s.running = true

	go func() {
		defer close(s.loopDone)
		s.loop(loopCtx)
	}()

	cfg, _ := s.config()
	s.log.Info("scheduler started", logx.Duration("tick", cfg.TickInterval), logx.Duration("delivery_timeout", cfg.DeliveryTimeout))
	return nil
}

// Stop ends the tick loop, gives in-flight deliveries the configured grace
// period, then cancels whatever is left and waits for bookkeeping to finish.
// No schedule is left executing once Stop returns nil.
func (s *Service) Stop(ctx context.Context) error {
	s.runMu.Lock()
	wasRunning := s.running
	s.running = false
	cancel, done := s.loopCancel, s.loopDone
	s.runMu.Unlock()

	if wasRunning {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			s.execCancel()
			return ctx.Err()
		}
	}

	cfg, _ := s.config()
	idle := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(idle)
	}()

	if n := s.inFlight.Load(); n > 0 {
		s.log.Info("waiting for in-flight deliveries", logx.Int64("count", n), logx.Duration("grace", cfg.ShutdownGrace))
	}
	grace := time.NewTimer(cfg.ShutdownGrace)
	defer grace.Stop()
	select {
	case <-idle:
		s.execCancel()
		return nil
	case <-grace.C:
	case <-ctx.Done():
	}

	s.execCancel()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) loop(ctx context.Context) {
	cfg, _ := s.config()
	every := cfg.TickInterval
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.applyCh:
			cfg, _ := s.config()
			if cfg.TickInterval != every {
				every = cfg.TickInterval
				t.Reset(every)
				s.log.Info("tick interval changed", logx.Duration("tick", every))
			}
		case <-t.C:
			s.tick(s.execCtx, s.now())
		}
	}
}

// tick dispatches every due schedule. One misbehaving schedule never stops
// the scan of the others.
func (s *Service) tick(ctx context.Context, now time.Time) {
	s.ticks.Add(1)
	s.lastTick.Store(now)
	for _, e := range s.snapshotEntries() {
		s.dispatchOne(ctx, e, now)
	}
}

func (s *Service) dispatchOne(ctx context.Context, e *entry, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("dispatch panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()

	e.mu.Lock()
	if !e.s.Due(now) {
		e.mu.Unlock()
		return
	}
	if e.running != nil {
		id := e.s.ID
		e.mu.Unlock()
		s.log.Debug("schedule still executing, skipping tick", logx.String("schedule_id", id))
		return
	}
	if e.s.Exhausted() {
		e.s.Active = false
		e.s.State = content.StateExhausted
		e.s.NextRun = time.Time{}
		sc := e.s.Clone()
		s.unlockAndSave(ctx, e)
		s.log.Info("schedule exhausted", logx.String("schedule_id", sc.ID), logx.Int("run_count", sc.RunCount))
		s.publish(EventExhausted, sc, 0, nil)
		return
	}

	cfg, _ := s.config()
	runCtx, cancel := context.WithTimeout(ctx, cfg.DeliveryTimeout)
	ex := &execution{cancel: cancel, started: s.now()}
	e.running = ex
	e.s.State = content.StateExecuting
	snap := e.s.Clone()
	s.inFlight.Add(1)
	s.wg.Add(1)
	e.mu.Unlock()

	go s.run(runCtx, e, ex, snap)
}

// run waits for the delivery or the deadline, whichever comes first. A
// delivery that ignores ctx keeps running in the background; its late result
// is discarded.
func (s *Service) run(ctx context.Context, e *entry, ex *execution, snap content.Schedule) {
	defer s.wg.Done()
	defer s.inFlight.Add(-1)
	defer ex.cancel()

	s.log.Debug("schedule firing", logx.String("schedule_id", snap.ID), logx.String("kind", string(snap.Kind)))
	s.publish(EventFired, snap, 0, nil)

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("delivery panicked", logx.String("schedule_id", snap.ID), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		if s.deliver == nil {
			done <- ErrNoRoute
			return
		}
		done <- s.deliver.Deliver(ctx, snap.Kind, snap.DestinationID, snap.Data.Clone())
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
		if errors.Is(err, context.Canceled) {
			err = errCancelled
		}
	}
	s.complete(e, ex, err)
}

// complete applies post-execution bookkeeping. Every attempt counts towards
// max_runs, successful or not.
func (s *Service) complete(e *entry, ex *execution, derr error) {
	_, calc := s.config()
	now := s.now()

	e.mu.Lock()
	if e.running != ex {
		e.mu.Unlock()
		return
	}
	e.running = nil
	e.s.LastRun = now
	e.s.RunCount++

	exhausted := false
	switch {
	case !e.s.Active:
		if e.s.State == content.StateExecuting {
			e.s.State = content.StateCancelled
		}
	case e.s.Exhausted():
		e.s.Active = false
		e.s.State = content.StateExhausted
		e.s.NextRun = time.Time{}
		exhausted = true
	default:
		next, err := calc.Next(e.s.Discipline, e.s.Config, now)
		if err != nil {
			s.log.Warn("next run failed, deactivating schedule", logx.String("schedule_id", e.s.ID), logx.Err(err))
			e.s.Active = false
			e.s.State = content.StateCancelled
		} else {
			e.s.NextRun = next
			e.s.State = content.StateActive
		}
	}
	sc := e.s.Clone()
	s.unlockAndSave(context.Background(), e)

	dur := now.Sub(ex.started)
	item := HistoryItem{
		ScheduleID:    sc.ID,
		Kind:          sc.Kind,
		DestinationID: sc.DestinationID,
		Started:       ex.started,
		Duration:      dur,
		RunCount:      sc.RunCount,
	}
	if derr != nil {
		derr = &DeliveryError{ScheduleID: sc.ID, Kind: sc.Kind, Err: derr}
		item.Error = derr.Error()
		s.log.Warn("delivery failed", logx.String("schedule_id", sc.ID), logx.Err(derr), logx.Int("run_count", sc.RunCount), logx.Duration("dur", dur))
		s.publish(EventFailed, sc, dur, derr)
	} else {
		s.log.Info("delivery completed", logx.String("schedule_id", sc.ID), logx.String("kind", string(sc.Kind)), logx.Int("run_count", sc.RunCount), logx.Duration("dur", dur))
		s.publish(EventCompleted, sc, dur, nil)
	}
	if exhausted {
		s.publish(EventExhausted, sc, 0, nil)
	}
	s.record(item)
}
