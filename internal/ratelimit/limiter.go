package ratelimit

import (
	"context"
	"errors"
	"time"
)

// Limiter tracks the remaining external-API request budget per
// credential/account key and enforces spacing before any external call.
//
// The ads platform enforces quotas per developer token and per customer
// account, so callers key buckets as "<developer token>|<account id>".
type Limiter interface {
	// Acquire blocks until cost tokens are available or maxWait elapses.
	// It returns ErrWaitExceeded when the budget cannot be obtained in
	// time, and the context error if ctx is done first.
	Acquire(ctx context.Context, key string, cost int, maxWait time.Duration) error

	// Penalize empties the bucket for at least d. Called when the external
	// API returns an explicit rate-limit signal, so subsequent callers back
	// off proactively instead of re-discovering the limit empirically.
	Penalize(key string, d time.Duration)
}

var (
	ErrWaitExceeded = errors.New("ratelimit: wait budget exhausted")
	ErrCostTooLarge = errors.New("ratelimit: cost exceeds bucket capacity")
)

// Key builds the bucket key for a credential/account pair.
func Key(developerToken, accountID string) string {
	return developerToken + "|" + accountID
}
