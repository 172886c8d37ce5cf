package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	logx "contentbot/pkg/logx"
)

// Scope is the quota for one bucket: Capacity requests per Window, refilled
// continuously (Capacity/Window tokens per second).
type Scope struct {
	Capacity int
	Window   time.Duration
}

func (s Scope) String() string { return fmt.Sprintf("%d/%s", s.Capacity, s.Window) }

// PerSecond is the refill rate.
func (s Scope) PerSecond() float64 {
	if s.Window <= 0 {
		return 0
	}
	return float64(s.Capacity) / s.Window.Seconds()
}

type Config struct {
	Actor       Scope
	Destination Scope
	Global      Scope

	// IdleTTL reclaims actor/destination buckets with no activity for this long.
	IdleTTL       time.Duration
	SweepInterval time.Duration

	// RefundOnReject hands back tokens taken by earlier scopes when a later
	// scope rejects. Off by default: a rejected request still counts against
	// the global quota.
	RefundOnReject bool
}

func DefaultConfig() Config {
	return Config{
		Actor:         Scope{Capacity: 10, Window: time.Minute},
		Destination:   Scope{Capacity: 50, Window: time.Hour},
		Global:        Scope{Capacity: 1000, Window: time.Hour},
		IdleTTL:       24 * time.Hour,
		SweepInterval: time.Hour,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Actor.Capacity <= 0 || c.Actor.Window <= 0 {
		c.Actor = def.Actor
	}
	if c.Destination.Capacity <= 0 || c.Destination.Window <= 0 {
		c.Destination = def.Destination
	}
	if c.Global.Capacity <= 0 || c.Global.Window <= 0 {
		c.Global = def.Global
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = def.IdleTTL
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
	return c
}

// Decision says which scope, if any, rejected a request.
type Decision struct {
	Allowed bool
	Scope   string // "global" | "actor" | "destination" when rejected
}

const (
	ScopeGlobal      = "global"
	ScopeActor       = "actor"
	ScopeDestination = "destination"
)

// Limiter is safe for concurrent use. Bucket maps are guarded by one RWMutex;
// each bucket serializes its own token arithmetic.
type Limiter struct {
	log logx.Logger
	now func() time.Time

	mu     sync.RWMutex
	cfg    Config
	global *Bucket
	actors map[int64]*Bucket
	dests  map[int64]*Bucket
}

type Option func(*Limiter)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(l *Limiter) { l.now = now } }

func New(cfg Config, log logx.Logger, opts ...Option) *Limiter {
	l := &Limiter{
		log:    log.With(logx.String("comp", "ratelimit")),
		now:    time.Now,
		actors: map[int64]*Bucket{},
		dests:  map[int64]*Bucket{},
	}
	for _, o := range opts {
		o(l)
	}
	l.cfg = cfg.withDefaults()
	l.global = NewBucket(l.cfg.Global.Capacity, l.cfg.Global.PerSecond(), l.now())
	return l
}

// Check admits or rejects one inbound event from actorID in destinationID.
// Zero ids mean "unknown": the event counts against the global bucket and is
// allowed.
func (l *Limiter) Check(actorID, destinationID int64) bool {
	return l.Decide(actorID, destinationID).Allowed
}

// Decide is Check with the rejecting scope reported.
func (l *Limiter) Decide(actorID, destinationID int64) Decision {
	now := l.now()

	l.mu.RLock()
	global := l.global
	refund := l.cfg.RefundOnReject
	l.mu.RUnlock()

	if actorID == 0 || destinationID == 0 {
		global.Consume(now)
		l.log.Warn("missing actor or destination id, allowing",
			logx.Int64("actor_id", actorID), logx.Int64("destination_id", destinationID))
		return Decision{Allowed: true}
	}

	gTok, ok := global.reserve(now)
	if !ok {
		l.log.Warn("global rate limit exceeded")
		return Decision{Scope: ScopeGlobal}
	}
	aTok, ok := l.bucket(ScopeActor, actorID, now).reserve(now)
	if !ok {
		if refund {
			gTok.Refund()
		}
		l.log.Warn("actor rate limit exceeded", logx.Int64("actor_id", actorID))
		return Decision{Scope: ScopeActor}
	}
	if _, ok := l.bucket(ScopeDestination, destinationID, now).reserve(now); !ok {
		if refund {
			aTok.Refund()
			gTok.Refund()
		}
		l.log.Warn("destination rate limit exceeded", logx.Int64("destination_id", destinationID))
		return Decision{Scope: ScopeDestination}
	}
	return Decision{Allowed: true}
}

func (l *Limiter) bucket(scope string, id int64, now time.Time) *Bucket {
	l.mu.RLock()
	b := l.scopeMap(scope)[id]
	l.mu.RUnlock()
	if b != nil {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	m := l.scopeMap(scope)
	if b = m[id]; b == nil {
		sc := l.cfg.Actor
		if scope == ScopeDestination {
			sc = l.cfg.Destination
		}
		b = NewBucket(sc.Capacity, sc.PerSecond(), now)
		m[id] = b
	}
	return b
}

// scopeMap requires l.mu.
func (l *Limiter) scopeMap(scope string) map[int64]*Bucket {
	if scope == ScopeDestination {
		return l.dests
	}
	return l.actors
}

// WaitTimes are per-scope delays until one token is available.
type WaitTimes struct {
	Global      time.Duration `json:"global"`
	Actor       time.Duration `json:"actor"`
	Destination time.Duration `json:"destination"`
}

// Max is the overall delay before a Check could pass.
func (w WaitTimes) Max() time.Duration {
	return max(w.Global, w.Actor, w.Destination)
}

// WaitTime reports delays without consuming. Unknown buckets are full, so
// they report zero.
func (l *Limiter) WaitTime(actorID, destinationID int64) WaitTimes {
	now := l.now()
	l.mu.RLock()
	defer l.mu.RUnlock()

	w := WaitTimes{Global: l.global.WaitTime(now)}
	if b := l.actors[actorID]; b != nil {
		w.Actor = b.WaitTime(now)
	}
	if b := l.dests[destinationID]; b != nil {
		w.Destination = b.WaitTime(now)
	}
	return w
}

// Reset drops the buckets for actorID and/or destinationID. With both zero it
// resets everything, including the global bucket.
func (l *Limiter) Reset(actorID, destinationID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if actorID == 0 && destinationID == 0 {
		l.actors = map[int64]*Bucket{}
		l.dests = map[int64]*Bucket{}
		l.global = NewBucket(l.cfg.Global.Capacity, l.cfg.Global.PerSecond(), l.now())
		l.log.Info("reset all rate limits")
		return
	}
	if actorID != 0 {
		delete(l.actors, actorID)
		l.log.Info("reset actor rate limit", logx.Int64("actor_id", actorID))
	}
	if destinationID != 0 {
		delete(l.dests, destinationID)
		l.log.Info("reset destination rate limit", logx.Int64("destination_id", destinationID))
	}
}

type Stats struct {
	ActorBuckets          int     `json:"active_actor_buckets"`
	DestinationBuckets    int     `json:"active_destination_buckets"`
	GlobalTokensRemaining float64 `json:"global_tokens_remaining"`

	ActorLimit       string `json:"actor_limit"`
	DestinationLimit string `json:"destination_limit"`
	GlobalLimit      string `json:"global_limit"`
}

func (l *Limiter) Stats() Stats {
	now := l.now()
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Stats{
		ActorBuckets:          len(l.actors),
		DestinationBuckets:    len(l.dests),
		GlobalTokensRemaining: l.global.Tokens(now),
		ActorLimit:            l.cfg.Actor.String(),
		DestinationLimit:      l.cfg.Destination.String(),
		GlobalLimit:           l.cfg.Global.String(),
	}
}

// BucketCounts is the health view: lazily created buckets per scope.
func (l *Limiter) BucketCounts() map[string]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return map[string]int{
		ScopeGlobal:      1,
		ScopeActor:       len(l.actors),
		ScopeDestination: len(l.dests),
	}
}

// Apply swaps the configuration. Existing buckets keep their balance and pick
// up the new capacity and rate.
func (l *Limiter) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg = cfg
	l.global.reconfigure(cfg.Global.Capacity, cfg.Global.PerSecond(), now)
	for _, b := range l.actors {
		b.reconfigure(cfg.Actor.Capacity, cfg.Actor.PerSecond(), now)
	}
	for _, b := range l.dests {
		b.reconfigure(cfg.Destination.Capacity, cfg.Destination.PerSecond(), now)
	}
}

// Sweep removes actor/destination buckets idle for longer than IdleTTL and
// returns how many were dropped.
func (l *Limiter) Sweep() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	ttl := l.cfg.IdleTTL
	removed := 0
	for _, m := range []map[int64]*Bucket{l.actors, l.dests} {
		for id, b := range m {
			if now.Sub(b.LastRefill()) > ttl {
				delete(m, id)
				removed++
			}
		}
	}
	if removed > 0 {
		l.log.Info("reclaimed idle rate limit buckets", logx.Int("count", removed))
	}
	return removed
}

// Run sweeps every SweepInterval until ctx is done.
func (l *Limiter) Run(ctx context.Context) {
	l.mu.RLock()
	every := l.cfg.SweepInterval
	l.mu.RUnlock()

	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Sweep()

			l.mu.RLock()
			next := l.cfg.SweepInterval
			l.mu.RUnlock()
			if next != every {
				every = next
				t.Reset(every)
			}
		}
	}
}
