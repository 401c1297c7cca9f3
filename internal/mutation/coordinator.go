package mutation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"ads-console/internal/ads"
	"ads-console/internal/audit"
	"ads-console/internal/auth"
	"ads-console/internal/config"
	"ads-console/internal/ratelimit"

	"github.com/google/uuid"
)

const deadlineExceededDetail = "deadline exceeded"

// Request is one operator intent to change one external entity.
// Immutable once constructed; consumed by exactly one Submit call.
type Request struct {
	AccountID  string
	EntityType ads.EntityType
	EntityID   string // empty for creates
	Operation  ads.Operation
	Changes    ads.FieldChanges // nil allowed for removes
}

// Coordinator couples every external mutation with exactly one audit record.
//
// Guarantees:
// - No code path performs an external mutation without attempting to record it.
// - The record's outcome is set only after the external call resolves.
// - Transient failures are retried with bounded exponential backoff inside
//   one Submit; intermediate attempts produce no records.
// - A deadline that fires while no call is in flight aborts with one Failed
//   record; a dispatched call is always waited out, so an outcome is never
//   recorded for a call whose result is unknown.
type Coordinator struct {
	client  ads.Client
	store   audit.Store
	limiter ratelimit.Limiter
	creds   auth.Credentials

	retryCfg    config.RetryConfig
	acquireWait time.Duration
	acquireCost int

	clock func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	log   *slog.Logger
}

type Option func(*Coordinator)

// WithClock overrides time sources for deterministic tests.
func WithClock(clock func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Coordinator) {
		c.clock = clock
		c.sleep = sleep
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

func NewCoordinator(
	client ads.Client,
	store audit.Store,
	limiter ratelimit.Limiter,
	creds auth.Credentials,
	retryCfg config.RetryConfig,
	rateCfg config.RateConfig,
	opts ...Option,
) *Coordinator {
	c := &Coordinator{
		client:      client,
		store:       store,
		limiter:     limiter,
		creds:       creds,
		retryCfg:    retryCfg,
		acquireWait: rateCfg.DefaultMaxWait,
		acquireCost: 1,
		clock:       time.Now,
		sleep:       sleepCtx,
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Submit validates, snapshots, rate-limits, mutates, and records.
//
// The returned error is nil for every attempted outcome (Succeeded, Failed,
// RateLimited, PartiallyApplied); callers read the record's Outcome. A
// non-nil error is either ErrValidation (nothing attempted, no record),
// ErrPrecheckFailed (recorded, returned alongside the record), or a
// *PersistenceError (record state unknown).
func (c *Coordinator) Submit(ctx context.Context, req Request, actor auth.Identity, correlationID string) (audit.Record, error) {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	if err := validateRequest(req, actor); err != nil {
		return audit.Record{}, err
	}

	rec := audit.Record{
		Actor:         actor.UserID,
		AccountID:     req.AccountID,
		EntityType:    req.EntityType,
		EntityID:      req.EntityID,
		Operation:     req.Operation,
		CorrelationID: correlationID,
	}
	if req.Changes != nil {
		rec.After = req.Changes.Fields()
	}

	// Read-before-write snapshot. A failed fetch is still an attempted
	// external action, so it is recorded.
	if req.Operation == ads.OpUpdate || req.Operation == ads.OpRemove {
		entities, err := c.client.Get(ctx, ads.Selector{
			AccountID:  req.AccountID,
			EntityType: req.EntityType,
			EntityID:   req.EntityID,
		})
		if err != nil {
			rec.Outcome = audit.OutcomeFailed
			rec.ErrorDetail = fmt.Sprintf("precheck: %v", err)
			rec.ErrorCode = ads.ErrorCode(err)
			persisted, perr := c.append(ctx, rec)
			if perr != nil {
				return audit.Record{}, perr
			}
			return persisted, fmt.Errorf("%w: %v", ErrPrecheckFailed, err)
		}
		if len(entities) > 0 {
			rec.Before = entities[0].Fields
		}
	}

	// Rate-limit gate. No external call is made without a permit.
	key := ratelimit.Key(c.creds.DeveloperToken, req.AccountID)
	if err := c.limiter.Acquire(ctx, key, c.acquireCost, c.acquireWait); err != nil {
		switch {
		case errors.Is(err, ratelimit.ErrWaitExceeded), errors.Is(err, ratelimit.ErrCostTooLarge):
			rec.Outcome = audit.OutcomeRateLimited
			rec.ErrorDetail = err.Error()
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			// No call was in flight; safe to record the abort.
			rec.Outcome = audit.OutcomeFailed
			rec.ErrorDetail = deadlineExceededDetail
		default:
			rec.Outcome = audit.OutcomeFailed
			rec.ErrorDetail = err.Error()
		}
		persisted, perr := c.append(ctx, rec)
		if perr != nil {
			return audit.Record{}, perr
		}
		return persisted, nil
	}

	resp, latency, mutErr := c.mutateWithRetry(ctx, key, ads.MutateRequest{
		AccountID:  req.AccountID,
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		Operation:  req.Operation,
		Fields:     rec.After,
	})
	rec.LatencyMS = latency.Milliseconds()
	c.finalize(&rec, resp, mutErr)

	persisted, perr := c.append(ctx, rec)
	if perr != nil {
		return audit.Record{}, perr
	}
	return persisted, nil
}

// SubmitBatch submits several mutations as one logical user action. Every
// request gets its own record; all records share one correlation id. The
// batch stops early only on a persistence failure, since from that point on
// mutation/audit consistency cannot be guaranteed.
func (c *Coordinator) SubmitBatch(ctx context.Context, reqs []Request, actor auth.Identity) (string, []audit.Record, error) {
	correlationID := uuid.NewString()
	records := make([]audit.Record, 0, len(reqs))
	var firstErr error

	for _, req := range reqs {
		rec, err := c.Submit(ctx, req, actor, correlationID)
		var pe *PersistenceError
		if errors.As(err, &pe) {
			return correlationID, records, err
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if rec.ID != 0 {
			records = append(records, rec)
		}
	}
	return correlationID, records, firstErr
}

// mutateWithRetry drives the attempt state machine. Rate-limit signals
// penalize the shared bucket before the retry wait so concurrent callers
// back off too.
func (c *Coordinator) mutateWithRetry(ctx context.Context, key string, wreq ads.MutateRequest) (ads.MutateResponse, time.Duration, error) {
	r := newRetrier(c.retryCfg)
	var latency time.Duration

	for {
		attempt := r.begin()

		start := c.clock()
		resp, err := c.client.Mutate(ctx, wreq)
		latency += c.clock().Sub(start)

		wait, retry := r.resolve(err)

		// An explicit rate-limit signal always informs the shared bucket,
		// whether or not a retry follows.
		if ads.IsRateLimited(err) {
			penalty := ads.RetryAfterHint(err)
			if penalty <= 0 {
				penalty = wait
			}
			if penalty <= 0 {
				penalty = c.retryCfg.BaseBackoff
			}
			c.limiter.Penalize(key, penalty)
		}

		if !retry {
			return resp, latency, err
		}

		c.log.Debug("mutation retry",
			"attempt", attempt,
			"wait", wait.String(),
			"err", err.Error(),
		)

		// The previous call has resolved; only the backoff wait itself can
		// be interrupted, so the deadline abort below never races an
		// in-flight call.
		if serr := c.sleep(ctx, wait); serr != nil {
			return resp, latency, serr
		}
	}
}

// finalize derives the record's outcome from the resolved external result.
func (c *Coordinator) finalize(rec *audit.Record, resp ads.MutateResponse, err error) {
	if err != nil {
		rec.Outcome = audit.OutcomeFailed
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			rec.ErrorDetail = deadlineExceededDetail
			return
		}
		rec.ErrorDetail = err.Error()
		rec.ErrorCode = ads.ErrorCode(err)
		return
	}

	switch {
	case resp.AllOK():
		rec.Outcome = audit.OutcomeSucceeded
		if rec.EntityID == "" && len(resp.Items) > 0 {
			rec.EntityID = resp.Items[0].EntityID
		}
	case resp.AnyOK():
		// Per-item partial application: afterState must reflect only the
		// subset actually applied, never the full intent.
		rec.Outcome = audit.OutcomePartiallyApplied
		applied := map[string]string{}
		var failures []string
		for _, it := range resp.Items {
			if it.OK {
				for k, v := range it.Applied {
					applied[k] = v
				}
				continue
			}
			failures = append(failures, fmt.Sprintf("%s: %s %s", it.EntityID, it.ErrorCode, it.ErrorDetail))
			if rec.ErrorCode == "" {
				rec.ErrorCode = it.ErrorCode
			}
		}
		rec.After = applied
		sort.Strings(failures)
		rec.ErrorDetail = "partial application: " + strings.Join(failures, "; ")
	default:
		rec.Outcome = audit.OutcomeFailed
		if len(resp.Items) == 0 {
			rec.ErrorDetail = "empty mutate response"
			return
		}
		var failures []string
		for _, it := range resp.Items {
			failures = append(failures, fmt.Sprintf("%s: %s %s", it.EntityID, it.ErrorCode, it.ErrorDetail))
			if rec.ErrorCode == "" {
				rec.ErrorCode = it.ErrorCode
			}
		}
		sort.Strings(failures)
		rec.ErrorDetail = strings.Join(failures, "; ")
	}
}

// append is the last step of every attempted mutation. Its failure is fatal
// for the operation and surfaced as a distinct condition.
func (c *Coordinator) append(ctx context.Context, rec audit.Record) (audit.Record, error) {
	// The record must land even when the caller's deadline has already
	// fired; an external side effect may exist and must not go unrecorded.
	appendCtx := context.WithoutCancel(ctx)
	persisted, err := c.store.Append(appendCtx, rec)
	if err != nil {
		c.log.Error("audit append failed, mutation state unknown",
			"actor", rec.Actor,
			"entity_type", string(rec.EntityType),
			"correlation_id", rec.CorrelationID,
			"err", err,
		)
		return audit.Record{}, &PersistenceError{Err: err}
	}
	return persisted, nil
}

func validateRequest(req Request, actor auth.Identity) error {
	if actor.UserID == "" {
		return fmt.Errorf("%w: actor required", ErrValidation)
	}
	if req.AccountID == "" {
		return fmt.Errorf("%w: account_id required", ErrValidation)
	}
	if !req.EntityType.Valid() {
		return fmt.Errorf("%w: unknown entity type %q", ErrValidation, req.EntityType)
	}
	if !req.Operation.Valid() {
		return fmt.Errorf("%w: unknown operation %q", ErrValidation, req.Operation)
	}

	switch req.Operation {
	case ads.OpCreate:
		if req.EntityID != "" {
			return fmt.Errorf("%w: create must not carry entity_id", ErrValidation)
		}
		if req.Changes == nil {
			return fmt.Errorf("%w: create requires field changes", ErrValidation)
		}
	case ads.OpUpdate:
		if req.EntityID == "" {
			return fmt.Errorf("%w: update requires entity_id", ErrValidation)
		}
		if req.Changes == nil || len(req.Changes.Fields()) == 0 {
			return fmt.Errorf("%w: update requires at least one field change", ErrValidation)
		}
	case ads.OpRemove:
		if req.EntityID == "" {
			return fmt.Errorf("%w: remove requires entity_id", ErrValidation)
		}
	}

	if req.Changes != nil {
		if req.Changes.EntityType() != req.EntityType {
			return fmt.Errorf("%w: changes are for %q, request targets %q", ErrValidation, req.Changes.EntityType(), req.EntityType)
		}
		if err := req.Changes.Validate(req.Operation); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	return nil
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
