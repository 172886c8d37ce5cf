// Package app wires the bot together: config, logging, storage, the admission
// limiter, delivery, the content scheduler, the chat transport, the command
// router and the ops server.
package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"contentbot/internal/config"
	"contentbot/internal/delivery"
	"contentbot/internal/eventbus"
	"contentbot/internal/observability/ops"
	"contentbot/internal/ratelimit"
	"contentbot/internal/runtime/supervisor"
	"contentbot/internal/scheduler"
	"contentbot/internal/storage"
	kit "contentbot/internal/transport"
	"contentbot/internal/transport/telegram/adapter"
	"contentbot/internal/transport/telegram/router"
	logx "contentbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter
	limiter *ratelimit.Limiter
	deliv   *delivery.Service
	sched   *scheduler.Service
	cmdm    *router.CommandManager
	ops     *ops.Service

	started time.Time
	updates chan kit.Update
}

// Option customizes New. Used by tests to swap the transport or the
// content generator.
type Option func(*options)

type options struct {
	adapter   kit.Adapter
	generator delivery.Generator
}

// WithAdapter replaces the Telegram adapter.
func WithAdapter(ad kit.Adapter) Option { return func(o *options) { o.adapter = ad } }

// WithGenerator sets the content generator used for generated kinds.
func WithGenerator(g delivery.Generator) Option { return func(o *options) { o.generator = g } }

// New loads cfgPath and builds every component. Nothing runs until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// The ops-chat sink needs the transport, which is built after logging;
	// the sender is attached once the adapter exists.
	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	ad := o.adapter
	if ad == nil {
		tg, err := adapter.New(mapAdapterConfig(cfg), log.With(logx.String("comp", "telegram")))
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		ad = tg
	}
	logSvc.SetSender(ad)

	var store storage.Store
	if sc, enabled := mapStorageConfig(cfg); enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			_ = logSvc.Close()
			return nil, fmt.Errorf("open storage: %w", err)
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	bus := eventbus.New()
	limiter := ratelimit.New(mapLimiterConfig(cfg), log)
	deliv := delivery.New(mapDeliveryConfig(cfg), ad, o.generator, log)

	schedOpts := []scheduler.Option{scheduler.WithBus(bus)}
	if store != nil {
		schedOpts = append(schedOpts, scheduler.WithStore(store))
	}
	sched := scheduler.New(mapSchedulerConfig(cfg), deliv.Routes(), log, schedOpts...)

	serv := router.Services{Scheduler: sched, Limiter: limiter}
	if store != nil {
		serv.Audit = store
	}
	cmdm := router.NewCommandManager(log.With(logx.String("comp", "commands")), ad, serv, mapRouterConfig(cfg))

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		limiter: limiter,
		deliv:   deliv,
		sched:   sched,
		cmdm:    cmdm,
		updates: make(chan kit.Update, 256),
	}
	a.ops = ops.New(mapOpsConfig(cfg), ops.Sources{
		Health:    func() any { return a.Health() },
		Scheduler: sched,
		Limiter:   limiter,
	}, log)
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Scheduler exposes the content scheduler for embedding callers.
func (a *App) Scheduler() *scheduler.Service { return a.sched }

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.started = time.Now()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validateReload)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		a.sup.Cancel()
		return err
	}
	if err := a.sched.Start(a.sup.Context()); err != nil {
		// The adapter's pollers run on the supervisor context.
		a.sup.Cancel()
		return fmt.Errorf("start scheduler: %w", err)
	}

	a.sup.Go0("ratelimit.sweep", a.limiter.Run)

	a.cmdm.SetRegistry(a.sup.Context(), a.cmdm.DefaultCommands())
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	a.ops.Start(a.sup.Context())

	events, unsub := a.bus.Subscribe(128, "schedule.")
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// validateReload runs after config.Validate and before a reload is committed.
func (a *App) validateReload(_ context.Context, cfg *config.Config) error {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return errors.New("telegram.token: required")
	}
	return nil
}

// applyConfig pushes a committed config to every live component.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if slices.Contains(sections, "storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if prev != nil && prev.Telegram.Token != next.Telegram.Token {
		a.log.Warn("telegram token changed; restart required for changes to take effect")
	}

	a.logs.Apply(mapLogConfig(next))
	a.limiter.Apply(mapLimiterConfig(next))
	a.deliv.Apply(mapDeliveryConfig(next))
	a.sched.Apply(mapSchedulerConfig(next))
	a.cmdm.Apply(mapRouterConfig(next))
	a.ops.Reconfigure(ctx, mapOpsConfig(next))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Health is the document served on the ops /health endpoint.
type Health struct {
	Status      string                         `json:"status"`
	StartedAt   time.Time                      `json:"started_at"`
	Uptime      string                         `json:"uptime"`
	Storage     bool                           `json:"storage_enabled"`
	Scheduler   scheduler.Health               `json:"scheduler"`
	RateLimit   ratelimit.Stats                `json:"rate_limit"`
	Buckets     map[string]int                 `json:"bucket_counts"`
	Supervisors map[string]supervisor.Counters `json:"supervisors,omitempty"`
	Error       string                         `json:"error,omitempty"`
}

func (a *App) Health() Health {
	h := Health{
		Status:    "ok",
		StartedAt: a.started,
		Storage:   a.store != nil,
		Scheduler: a.sched.Health(),
		RateLimit: a.limiter.Stats(),
		Buckets:   a.limiter.BucketCounts(),
	}
	if !a.started.IsZero() {
		h.Uptime = time.Since(a.started).Round(time.Second).String()
	}
	if !h.Scheduler.Running {
		h.Status = "degraded"
	}

	sups := map[string]*supervisor.Supervisor{"app": a.sup, "commands": a.cmdm.Supervisor(), "ops": a.ops.Supervisor()}
	if sp, ok := a.adapter.(interface{ Supervisor() *supervisor.Supervisor }); ok {
		sups["telegram.adapter"] = sp.Supervisor()
	}
	for name, s := range sups {
		if s == nil {
			continue
		}
		if h.Supervisors == nil {
			h.Supervisors = map[string]supervisor.Counters{}
		}
		h.Supervisors[name] = s.Counters()
	}
	if err := a.Err(); err != nil {
		h.Status = "failing"
		h.Error = err.Error()
	}
	return h
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

		// respect the caller's deadline; never extend it
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			// Leak logging: observe when/if the step eventually finishes.
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// The scheduler goes first while the transport can still send, so
	// in-flight deliveries get their grace period.
	schedGrace := mapSchedulerConfig(a.cfgm.Get()).ShutdownGrace
	step("scheduler", schedGrace+2*time.Second, a.sched.Stop)
	step("ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	// Finally, wait for supervised goroutines (config watch/reload, command dispatcher, etc.)
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	return a.logs.Close()
}
