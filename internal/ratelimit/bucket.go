package ratelimit

import (
	"context"
	"sync"
	"time"

	"ads-console/internal/config"
)

// Bucket is the in-process token-bucket limiter. One instance is shared by
// all callers of a credential; per-account buckets are created lazily.
//
// The bucket is the single piece of shared mutable rate-limit state in the
// process, guarded by one mutex. Waiting happens outside the lock.
type Bucket struct {
	size   float64
	refill float64 // tokens per second

	mu      sync.Mutex
	buckets map[string]*bucketState

	clock func() time.Time
	// sleep is injectable so tests can advance a manual clock instead of
	// waiting in real time.
	sleep func(ctx context.Context, d time.Duration) error
}

type bucketState struct {
	tokens         float64
	last           time.Time
	penalizedUntil time.Time
}

func NewBucket(cfg config.RateConfig) *Bucket {
	return &Bucket{
		size:    float64(cfg.BucketSize),
		refill:  cfg.RefillPerSec,
		buckets: map[string]*bucketState{},
		clock:   time.Now,
		sleep:   sleepCtx,
	}
}

// SetClock overrides time sources for deterministic tests.
func (b *Bucket) SetClock(clock func() time.Time, sleep func(ctx context.Context, d time.Duration) error) {
	b.clock = clock
	b.sleep = sleep
}

func (b *Bucket) Acquire(ctx context.Context, key string, cost int, maxWait time.Duration) error {
	if cost <= 0 {
		cost = 1
	}
	if float64(cost) > b.size {
		return ErrCostTooLarge
	}

	deadline := b.clock().Add(maxWait)
	for {
		wait, ok := b.tryTake(key, float64(cost))
		if ok {
			return nil
		}

		now := b.clock()
		if now.Add(wait).After(deadline) {
			// The tokens cannot arrive inside the wait budget; fail now
			// rather than sleeping into a guaranteed timeout.
			return ErrWaitExceeded
		}
		if err := b.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// tryTake refills and either takes cost tokens or reports how long until
// they could be available.
func (b *Bucket) tryTake(key string, cost float64) (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	st := b.buckets[key]
	if st == nil {
		st = &bucketState{tokens: b.size, last: now}
		b.buckets[key] = st
	}

	if now.Before(st.penalizedUntil) {
		return st.penalizedUntil.Sub(now), false
	}

	elapsed := now.Sub(st.last).Seconds()
	if elapsed > 0 {
		st.tokens += elapsed * b.refill
		if st.tokens > b.size {
			st.tokens = b.size
		}
	}
	st.last = now

	if st.tokens >= cost {
		st.tokens -= cost
		return 0, true
	}

	need := cost - st.tokens
	wait := time.Duration(need / b.refill * float64(time.Second))
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}

func (b *Bucket) Penalize(key string, d time.Duration) {
	if d <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	st := b.buckets[key]
	if st == nil {
		st = &bucketState{last: now}
		b.buckets[key] = st
	}
	st.tokens = 0
	st.last = now
	until := now.Add(d)
	if until.After(st.penalizedUntil) {
		st.penalizedUntil = until
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
