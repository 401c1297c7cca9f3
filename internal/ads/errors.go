package ads

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies external failures for retry policy.
// Transient errors (network timeout, 5xx-equivalent, rate-limit signals) are
// worth retrying; terminal errors (invalid request, permission denied) are not.
type ErrorKind int

const (
	KindTransient ErrorKind = iota
	KindTerminal
	KindRateLimited
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindTerminal:
		return "terminal"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// Error is the classified form of an external API failure.
type Error struct {
	Kind   ErrorKind
	Code   string
	Detail string

	// RetryAfter is set when the platform told us how long to back off.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("ads: %s (%s): %s", e.Kind, e.Code, e.Detail)
	}
	return fmt.Sprintf("ads: %s: %s", e.Kind, e.Detail)
}

// Retryable reports whether a retry could help. Rate-limit signals count as
// retryable but additionally require penalizing the local bucket.
func Retryable(err error) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == KindTransient || ae.Kind == KindRateLimited
	}
	return false
}

// IsRateLimited reports whether the platform explicitly signaled quota exhaustion.
func IsRateLimited(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == KindRateLimited
}

// RetryAfterHint extracts the server pacing hint, zero if absent.
func RetryAfterHint(err error) time.Duration {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.RetryAfter
	}
	return 0
}

// ErrorCode extracts the platform error code, empty if the error is not an
// ads.Error.
func ErrorCode(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}
