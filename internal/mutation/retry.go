package mutation

import (
	"time"

	"ads-console/internal/ads"
	"ads-console/internal/config"
)

// Attempt states. The retry loop is an explicit state machine with a bounded
// transition count so its behavior is independent of any concurrency
// primitive: pending → attempting → {succeeded, retrying(n), failed}.
type phase int

const (
	phasePending phase = iota
	phaseAttempting
	phaseRetrying
	phaseSucceeded
	phaseFailed
)

type retrier struct {
	cfg     config.RetryConfig
	phase   phase
	attempt int
	backoff time.Duration
}

func newRetrier(cfg config.RetryConfig) *retrier {
	return &retrier{cfg: cfg, phase: phasePending, backoff: cfg.BaseBackoff}
}

// begin marks the next attempt as dispatched. It returns the attempt number,
// starting at 1.
func (r *retrier) begin() int {
	r.attempt++
	r.phase = phaseAttempting
	return r.attempt
}

// resolve consumes the attempt's result and decides the next transition.
// When retry is true, the caller must wait for the returned duration before
// the next begin(). A server retry-after hint stretches the wait but never
// shortens the computed backoff.
func (r *retrier) resolve(err error) (wait time.Duration, retry bool) {
	if err == nil {
		r.phase = phaseSucceeded
		return 0, false
	}
	if !ads.Retryable(err) || r.attempt >= r.cfg.MaxAttempts {
		r.phase = phaseFailed
		return 0, false
	}

	wait = r.backoff
	if hint := ads.RetryAfterHint(err); hint > wait {
		wait = hint
	}

	r.backoff *= 2
	if r.backoff > r.cfg.MaxBackoff {
		r.backoff = r.cfg.MaxBackoff
	}
	r.phase = phaseRetrying
	return wait, true
}
