package audit

import (
	"time"

	"ads-console/internal/ads"
)

// Record is one immutable, append-only audit entry: one external mutation
// attempt and its final outcome.
//
// Invariants:
// - Records are never updated or deleted after append.
// - ID and Timestamp are assigned by the store, not the caller. IDs are
//   strictly increasing and dense per store; they are the sole ordering key
//   for replay and pagination.
// - Outcome reflects what the external call actually returned. It is never
//   set before the call resolves.
// - Corrections are new records under the same CorrelationID, never edits.
type Record struct {
	ID        int64     `json:"id" db:"id"`
	Timestamp time.Time `json:"timestamp" db:"ts"`

	// Actor is the authenticated operator. Required, never empty.
	Actor     string `json:"actor" db:"actor"`
	AccountID string `json:"account_id" db:"account_id"`

	EntityType ads.EntityType `json:"entity_type" db:"entity_type"`
	EntityID   string         `json:"entity_id,omitempty" db:"entity_id"`
	Operation  ads.Operation  `json:"operation" db:"operation"`

	// Before is the field snapshot prior to the mutation; empty for creates.
	// After holds the attempted new values. On partial application After is
	// limited to the subset the platform reports as applied.
	Before map[string]string `json:"before,omitempty" db:"before_state"`
	After  map[string]string `json:"after,omitempty" db:"after_state"`

	Outcome Outcome `json:"outcome" db:"outcome"`

	// ErrorDetail and ErrorCode are populated only on non-Succeeded outcomes.
	ErrorDetail string `json:"error_detail,omitempty" db:"error_detail"`
	ErrorCode   string `json:"error_code,omitempty" db:"error_code"`

	// LatencyMS is the external call duration; zero when no call was made.
	LatencyMS int64 `json:"latency_ms,omitempty" db:"latency_ms"`

	// CorrelationID ties together records produced by one logical user
	// action, e.g. a bulk edit.
	CorrelationID string `json:"correlation_id" db:"correlation_id"`
}

type Outcome string

const (
	OutcomeSucceeded        Outcome = "SUCCEEDED"
	OutcomeFailed           Outcome = "FAILED"
	OutcomeRateLimited      Outcome = "RATE_LIMITED"
	OutcomePartiallyApplied Outcome = "PARTIALLY_APPLIED"
)

func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSucceeded, OutcomeFailed, OutcomeRateLimited, OutcomePartiallyApplied:
		return true
	default:
		return false
	}
}

// Filter is the AND-composed predicate set for audit queries.
// Zero values mean "no constraint on this dimension".
type Filter struct {
	AccountID     string
	Actor         string
	EntityType    ads.EntityType
	Outcome       Outcome
	CorrelationID string
	From          time.Time
	To            time.Time
}

// Page selects a window of results ordered by ID ascending. AfterID is a
// cursor: the page starts strictly after it. Because IDs are monotonic and
// immutable, page boundaries are stable under concurrent appends.
type Page struct {
	AfterID int64
	Limit   int
}

const DefaultPageLimit = 100
const MaxPageLimit = 1000

func (p Page) limit() int {
	if p.Limit <= 0 {
		return DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		return MaxPageLimit
	}
	return p.Limit
}

func (f Filter) matches(r Record) bool {
	if f.AccountID != "" && r.AccountID != f.AccountID {
		return false
	}
	if f.Actor != "" && r.Actor != f.Actor {
		return false
	}
	if f.EntityType != "" && r.EntityType != f.EntityType {
		return false
	}
	if f.Outcome != "" && r.Outcome != f.Outcome {
		return false
	}
	if f.CorrelationID != "" && r.CorrelationID != f.CorrelationID {
		return false
	}
	if !f.From.IsZero() && r.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !r.Timestamp.Before(f.To) {
		return false
	}
	return true
}
