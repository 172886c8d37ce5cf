// Package ratelimit implements hierarchical admission control: one global
// token bucket plus lazily created per-actor and per-destination buckets.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Bucket is a capped, continuously refilling token counter.
//
// Refill is lazy: elapsed time since the previous attempt is converted to
// tokens on every consume, so idle buckets cost nothing.
type Bucket struct {
	mu         sync.Mutex
	lim        *rate.Limiter
	lastRefill time.Time
}

// minRate stands in for "never refills": x/time/rate treats a zero limit as a
// plain counter that cannot be refunded.
const minRate = 1e-9

// NewBucket returns a full bucket. perSecond <= 0 means it practically never refills.
func NewBucket(capacity int, perSecond float64, now time.Time) *Bucket {
	if capacity < 0 {
		capacity = 0
	}
	return &Bucket{
		lim:        rate.NewLimiter(limitOf(perSecond), capacity),
		lastRefill: now,
	}
}

func limitOf(perSecond float64) rate.Limit {
	return rate.Limit(math.Max(perSecond, minRate))
}

// Consume takes one token if available.
func (b *Bucket) Consume(now time.Time) bool {
	_, ok := b.reserve(now)
	return ok
}

// Token is a consumed unit that can be handed back once.
type Token struct {
	b *Bucket
}

// Refund credits the token back at the bucket's latest instant, capped at
// capacity. It is a no-op on the zero Token.
func (t Token) Refund() {
	if t.b == nil {
		return
	}
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	// A negative reservation adds tokens without moving the refill clock.
	t.b.lim.ReserveN(t.b.lastRefill, -1)
}

// clock clamps now to the latest instant the bucket has seen. The limiter
// rewinds its refill clock when handed an older time and would then credit
// the same interval twice. Requires b.mu.
func (b *Bucket) clock(now time.Time) time.Time {
	if now.After(b.lastRefill) {
		b.lastRefill = now
	}
	return b.lastRefill
}

func (b *Bucket) reserve(now time.Time) (Token, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now = b.clock(now)
	r := b.lim.ReserveN(now, 1)
	if !r.OK() {
		return Token{}, false
	}
	if r.DelayFrom(now) > 0 {
		// Not available right now; undo the future reservation.
		r.CancelAt(now)
		return Token{}, false
	}
	return Token{b: b}, true
}

// Tokens reports the (real-valued) balance at now, without consuming.
func (b *Bucket) Tokens(now time.Time) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lim.TokensAt(now)
}

// WaitTime is how long until one token is available, 0 if one is available now.
func (b *Bucket) WaitTime(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	tokens := b.lim.TokensAt(now)
	if tokens >= 1 {
		return 0
	}
	secs := (1 - tokens) / float64(b.lim.Limit())
	if secs >= float64(math.MaxInt64/int64(time.Second)) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(secs * float64(time.Second))
}

func (b *Bucket) Capacity() int {
	return b.lim.Burst()
}

func (b *Bucket) LastRefill() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastRefill
}

func (b *Bucket) reconfigure(capacity int, perSecond float64, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now = b.clock(now)
	b.lim.SetLimitAt(now, limitOf(perSecond))
	b.lim.SetBurstAt(now, capacity)
}
