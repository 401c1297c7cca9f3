package mutation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"ads-console/internal/ads"
	"ads-console/internal/audit"
	"ads-console/internal/auth"
	"ads-console/internal/config"
	"ads-console/internal/ratelimit"
)

var testActor = auth.Identity{UserID: "alice", AccountID: "123-456-7890", Role: "operator"}

const testAccount = "123-456-7890"

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Unix(1700000000, 0).UTC()}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

type stubLimiter struct {
	mu         sync.Mutex
	acquireErr error
	penalties  []time.Duration
}

func (s *stubLimiter) Acquire(ctx context.Context, key string, cost int, maxWait time.Duration) error {
	return s.acquireErr
}

func (s *stubLimiter) Penalize(key string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.penalties = append(s.penalties, d)
}

func (s *stubLimiter) penalized() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.penalties...)
}

func testRetryCfg() config.RetryConfig {
	return config.RetryConfig{MaxAttempts: 3, BaseBackoff: 100 * time.Millisecond, MaxBackoff: 5 * time.Second}
}

func testRateCfg() config.RateConfig {
	return config.RateConfig{BucketSize: 100, RefillPerSec: 100, DefaultMaxWait: time.Second}
}

func newTestCoordinator(client ads.Client, store audit.Store, limiter ratelimit.Limiter) (*Coordinator, *manualClock) {
	clk := newManualClock()
	c := NewCoordinator(
		client, store, limiter,
		auth.Credentials{DeveloperToken: "dev-token"},
		testRetryCfg(), testRateCfg(),
		WithClock(clk.Now, clk.Sleep),
	)
	return c, clk
}

func allRecords(t *testing.T, store audit.Store) []audit.Record {
	t.Helper()
	recs, err := store.Query(context.Background(), audit.Filter{}, audit.Page{Limit: audit.MaxPageLimit})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	return recs
}

func TestSubmit_UpdateKeywordBidSucceeds(t *testing.T) {
	fake := ads.NewFake()
	fake.Seed(testAccount, ads.Entity{
		EntityType: ads.EntityKeyword,
		EntityID:   "kw-1",
		Fields:     map[string]string{"cpc_bid_micros": "1000000", "text": "running shoes"},
	})
	store := audit.NewMemoryStore()
	c, _ := newTestCoordinator(fake, store, &stubLimiter{})

	bid := int64(1_500_000)
	rec, err := c.Submit(context.Background(), Request{
		AccountID:  testAccount,
		EntityType: ads.EntityKeyword,
		EntityID:   "kw-1",
		Operation:  ads.OpUpdate,
		Changes:    ads.KeywordChanges{CPCBidMicros: &bid},
	}, testActor, "corr-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if rec.Outcome != audit.OutcomeSucceeded {
		t.Fatalf("outcome = %s, want SUCCEEDED", rec.Outcome)
	}
	if rec.Actor != "alice" {
		t.Fatalf("actor = %q", rec.Actor)
	}
	if rec.Before["cpc_bid_micros"] != "1000000" {
		t.Fatalf("before = %v", rec.Before)
	}
	if rec.After["cpc_bid_micros"] != "1500000" {
		t.Fatalf("after = %v", rec.After)
	}

	recs := allRecords(t, store)
	if len(recs) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(recs))
	}
}

func TestSubmit_ValidationErrorProducesNoRecord(t *testing.T) {
	fake := ads.NewFake()
	store := audit.NewMemoryStore()
	c, _ := newTestCoordinator(fake, store, &stubLimiter{})

	cases := []struct {
		name string
		req  Request
	}{
		{"missing account", Request{EntityType: ads.EntityCampaign, Operation: ads.OpCreate, Changes: ads.CampaignChanges{Name: "x", BudgetMicros: i64(1)}}},
		{"unknown entity type", Request{AccountID: testAccount, EntityType: "WIDGET", Operation: ads.OpCreate}},
		{"remove without id", Request{AccountID: testAccount, EntityType: ads.EntityCampaign, Operation: ads.OpRemove}},
		{"update without changes", Request{AccountID: testAccount, EntityType: ads.EntityCampaign, EntityID: "c-1", Operation: ads.OpUpdate}},
		{"create with entity id", Request{AccountID: testAccount, EntityType: ads.EntityCampaign, EntityID: "c-1", Operation: ads.OpCreate, Changes: ads.CampaignChanges{Name: "x", BudgetMicros: i64(1)}}},
		{"changes entity mismatch", Request{AccountID: testAccount, EntityType: ads.EntityCampaign, Operation: ads.OpCreate, Changes: ads.KeywordChanges{Text: "x", AdGroupID: "ag"}}},
		{"invalid change set", Request{AccountID: testAccount, EntityType: ads.EntityCampaign, Operation: ads.OpCreate, Changes: ads.CampaignChanges{}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Submit(context.Background(), tc.req, testActor, "")
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}

	if fake.MutateCalls != 0 || fake.GetCalls != 0 {
		t.Fatalf("validation errors must not reach the external client")
	}
	if recs := allRecords(t, store); len(recs) != 0 {
		t.Fatalf("validation errors must not be recorded, got %d records", len(recs))
	}
}

func i64(v int64) *int64 { return &v }

func TestSubmit_TransientErrorsRetriedThenSucceeds(t *testing.T) {
	fake := ads.NewFake()
	fake.MutateErrs = []error{
		&ads.Error{Kind: ads.KindTransient, Detail: "timeout"},
		&ads.Error{Kind: ads.KindTransient, Detail: "503"},
		nil,
	}
	store := audit.NewMemoryStore()
	c, _ := newTestCoordinator(fake, store, &stubLimiter{})

	rec, err := c.Submit(context.Background(), Request{
		AccountID:  testAccount,
		EntityType: ads.EntityCampaign,
		Operation:  ads.OpCreate,
		Changes:    ads.CampaignChanges{Name: "brand", BudgetMicros: i64(5_000_000)},
	}, testActor, "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if rec.Outcome != audit.OutcomeSucceeded {
		t.Fatalf("outcome = %s, want SUCCEEDED", rec.Outcome)
	}
	if fake.MutateCalls != 3 {
		t.Fatalf("expected 3 attempts, got %d", fake.MutateCalls)
	}
	// No intermediate records for the failed attempts.
	if recs := allRecords(t, store); len(recs) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(recs))
	}
}

func TestSubmit_TerminalErrorNotRetried(t *testing.T) {
	fake := ads.NewFake()
	fake.MutateErrs = []error{
		&ads.Error{Kind: ads.KindTerminal, Code: "PERMISSION_DENIED", Detail: "no access"},
	}
	store := audit.NewMemoryStore()
	c, _ := newTestCoordinator(fake, store, &stubLimiter{})

	rec, err := c.Submit(context.Background(), Request{
		AccountID:  testAccount,
		EntityType: ads.EntityCampaign,
		Operation:  ads.OpCreate,
		Changes:    ads.CampaignChanges{Name: "brand", BudgetMicros: i64(5_000_000)},
	}, testActor, "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if rec.Outcome != audit.OutcomeFailed {
		t.Fatalf("outcome = %s, want FAILED", rec.Outcome)
	}
	if rec.ErrorCode != "PERMISSION_DENIED" {
		t.Fatalf("error code = %q", rec.ErrorCode)
	}
	if fake.MutateCalls != 1 {
		t.Fatalf("terminal errors must not retry, got %d attempts", fake.MutateCalls)
	}
}

func TestSubmit_RetryBudgetExhausted(t *testing.T) {
	fake := ads.NewFake()
	fake.MutateErrs = []error{
		&ads.Error{Kind: ads.KindTransient, Detail: "timeout"},
		&ads.Error{Kind: ads.KindTransient, Detail: "timeout"},
		&ads.Error{Kind: ads.KindTransient, Detail: "timeout"},
	}
	store := audit.NewMemoryStore()
	c, _ := newTestCoordinator(fake, store, &stubLimiter{})

	rec, err := c.Submit(context.Background(), Request{
		AccountID:  testAccount,
		EntityType: ads.EntityCampaign,
		Operation:  ads.OpCreate,
		Changes:    ads.CampaignChanges{Name: "brand", BudgetMicros: i64(5_000_000)},
	}, testActor, "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if rec.Outcome != audit.OutcomeFailed {
		t.Fatalf("outcome = %s, want FAILED after retries exhaust", rec.Outcome)
	}
	if fake.MutateCalls != 3 {
		t.Fatalf("expected 3 attempts, got %d", fake.MutateCalls)
	}
	if recs := allRecords(t, store); len(recs) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(recs))
	}
}

func TestSubmit_RateLimitSignalPenalizesBucket(t *testing.T) {
	fake := ads.NewFake()
	fake.MutateErrs = []error{
		&ads.Error{Kind: ads.KindRateLimited, Code: "RESOURCE_EXHAUSTED", Detail: "quota", RetryAfter: 30 * time.Second},
		nil,
	}
	store := audit.NewMemoryStore()
	lim := &stubLimiter{}
	c, _ := newTestCoordinator(fake, store, lim)

	rec, err := c.Submit(context.Background(), Request{
		AccountID:  testAccount,
		EntityType: ads.EntityCampaign,
		Operation:  ads.OpCreate,
		Changes:    ads.CampaignChanges{Name: "brand", BudgetMicros: i64(5_000_000)},
	}, testActor, "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if rec.Outcome != audit.OutcomeSucceeded {
		t.Fatalf("outcome = %s", rec.Outcome)
	}
	pen := lim.penalized()
	if len(pen) != 1 || pen[0] != 30*time.Second {
		t.Fatalf("expected Penalize(30s), got %v", pen)
	}
}

func TestSubmit_RateLimitOnFinalAttemptStillPenalizes(t *testing.T) {
	fake := ads.NewFake()
	fake.MutateErrs = []error{
		&ads.Error{Kind: ads.KindRateLimited, Code: "RESOURCE_EXHAUSTED", Detail: "quota", RetryAfter: 30 * time.Second},
	}
	store := audit.NewMemoryStore()
	lim := &stubLimiter{}

	clk := newManualClock()
	c := NewCoordinator(
		fake, store, lim,
		auth.Credentials{DeveloperToken: "dev-token"},
		config.RetryConfig{MaxAttempts: 1, BaseBackoff: 100 * time.Millisecond, MaxBackoff: 5 * time.Second},
		testRateCfg(),
		WithClock(clk.Now, clk.Sleep),
	)

	rec, err := c.Submit(context.Background(), Request{
		AccountID:  testAccount,
		EntityType: ads.EntityCampaign,
		Operation:  ads.OpCreate,
		Changes:    ads.CampaignChanges{Name: "brand", BudgetMicros: i64(5_000_000)},
	}, testActor, "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if rec.Outcome != audit.OutcomeFailed {
		t.Fatalf("outcome = %s, want FAILED after budget exhaustion", rec.Outcome)
	}
	if fake.MutateCalls != 1 {
		t.Fatalf("expected 1 attempt, got %d", fake.MutateCalls)
	}
	pen := lim.penalized()
	if len(pen) != 1 || pen[0] != 30*time.Second {
		t.Fatalf("expected Penalize(30s) on explicit rate-limit signal, got %v", pen)
	}
}

func TestSubmit_RateLimitWithoutHintPenalizesBaseBackoff(t *testing.T) {
	fake := ads.NewFake()
	fake.MutateErrs = []error{
		&ads.Error{Kind: ads.KindRateLimited, Code: "RESOURCE_EXHAUSTED", Detail: "quota"},
	}
	lim := &stubLimiter{}

	clk := newManualClock()
	c := NewCoordinator(
		fake, audit.NewMemoryStore(), lim,
		auth.Credentials{DeveloperToken: "dev-token"},
		config.RetryConfig{MaxAttempts: 1, BaseBackoff: 100 * time.Millisecond, MaxBackoff: 5 * time.Second},
		testRateCfg(),
		WithClock(clk.Now, clk.Sleep),
	)

	_, err := c.Submit(context.Background(), Request{
		AccountID:  testAccount,
		EntityType: ads.EntityCampaign,
		Operation:  ads.OpCreate,
		Changes:    ads.CampaignChanges{Name: "brand", BudgetMicros: i64(5_000_000)},
	}, testActor, "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	pen := lim.penalized()
	if len(pen) != 1 || pen[0] != 100*time.Millisecond {
		t.Fatalf("expected base-backoff penalty without a server hint, got %v", pen)
	}
}

func TestSubmit_PenalizedBucketReportsRateLimited(t *testing.T) {
	fake := ads.NewFake()
	store := audit.NewMemoryStore()

	clk := newManualClock()
	bucket := ratelimit.NewBucket(config.RateConfig{BucketSize: 10, RefillPerSec: 10})
	bucket.SetClock(clk.Now, clk.Sleep)
	bucket.Penalize(ratelimit.Key("dev-token", testAccount), 30*time.Second)

	c := NewCoordinator(fake, store, bucket,
		auth.Credentials{DeveloperToken: "dev-token"},
		testRetryCfg(), config.RateConfig{BucketSize: 10, RefillPerSec: 10, DefaultMaxWait: 2 * time.Second},
		WithClock(clk.Now, clk.Sleep),
	)

	rec, err := c.Submit(context.Background(), Request{
		AccountID:  testAccount,
		EntityType: ads.EntityCampaign,
		Operation:  ads.OpCreate,
		Changes:    ads.CampaignChanges{Name: "brand", BudgetMicros: i64(5_000_000)},
	}, testActor, "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if rec.Outcome != audit.OutcomeRateLimited {
		t.Fatalf("outcome = %s, want RATE_LIMITED", rec.Outcome)
	}
	if fake.MutateCalls != 0 {
		t.Fatalf("no external call may happen without a permit")
	}
	if recs := allRecords(t, store); len(recs) != 1 {
		t.Fatalf("rate-limited submits are recorded exactly once, got %d", len(recs))
	}
}

func TestSubmit_DeadlineWhileWaitingOnLimiter(t *testing.T) {
	fake := ads.NewFake()
	store := audit.NewMemoryStore()
	lim := &stubLimiter{acquireErr: context.DeadlineExceeded}
	c, _ := newTestCoordinator(fake, store, lim)

	rec, err := c.Submit(context.Background(), Request{
		AccountID:  testAccount,
		EntityType: ads.EntityCampaign,
		Operation:  ads.OpCreate,
		Changes:    ads.CampaignChanges{Name: "brand", BudgetMicros: i64(5_000_000)},
	}, testActor, "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if rec.Outcome != audit.OutcomeFailed || rec.ErrorDetail != deadlineExceededDetail {
		t.Fatalf("expected Failed(deadline exceeded), got %s %q", rec.Outcome, rec.ErrorDetail)
	}
	if fake.MutateCalls != 0 {
		t.Fatalf("external client must never be invoked after a deadline abort")
	}
	if recs := allRecords(t, store); len(recs) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(recs))
	}
}

func TestSubmit_DeadlineDuringBackoffRecordsFailed(t *testing.T) {
	fake := ads.NewFake()
	fake.MutateErrs = []error{&ads.Error{Kind: ads.KindTransient, Detail: "timeout"}}
	store := audit.NewMemoryStore()
	c, _ := newTestCoordinator(fake, store, &stubLimiter{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // the backoff sleep sees a dead context after the first attempt resolves

	rec, err := c.Submit(ctx, Request{
		AccountID:  testAccount,
		EntityType: ads.EntityCampaign,
		Operation:  ads.OpCreate,
		Changes:    ads.CampaignChanges{Name: "brand", BudgetMicros: i64(5_000_000)},
	}, testActor, "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if rec.Outcome != audit.OutcomeFailed || rec.ErrorDetail != deadlineExceededDetail {
		t.Fatalf("expected Failed(deadline exceeded), got %s %q", rec.Outcome, rec.ErrorDetail)
	}
	if fake.MutateCalls != 1 {
		t.Fatalf("the in-flight attempt must resolve before recording, got %d calls", fake.MutateCalls)
	}
}

func TestSubmit_PrecheckFailureIsRecorded(t *testing.T) {
	fake := ads.NewFake()
	fake.GetErr = &ads.Error{Kind: ads.KindTransient, Code: "UNAVAILABLE", Detail: "backend down"}
	store := audit.NewMemoryStore()
	c, _ := newTestCoordinator(fake, store, &stubLimiter{})

	bid := int64(1_500_000)
	rec, err := c.Submit(context.Background(), Request{
		AccountID:  testAccount,
		EntityType: ads.EntityKeyword,
		EntityID:   "kw-1",
		Operation:  ads.OpUpdate,
		Changes:    ads.KeywordChanges{CPCBidMicros: &bid},
	}, testActor, "")
	if !errors.Is(err, ErrPrecheckFailed) {
		t.Fatalf("expected ErrPrecheckFailed, got %v", err)
	}

	if rec.Outcome != audit.OutcomeFailed {
		t.Fatalf("outcome = %s, want FAILED", rec.Outcome)
	}
	if !strings.HasPrefix(rec.ErrorDetail, "precheck:") {
		t.Fatalf("detail = %q", rec.ErrorDetail)
	}
	if fake.MutateCalls != 0 {
		t.Fatalf("mutation must be aborted after a failed precheck")
	}
	if recs := allRecords(t, store); len(recs) != 1 {
		t.Fatalf("failed prechecks are attempted actions and must be recorded")
	}
}

// partialClient reports one applied and one rejected sub-operation.
type partialClient struct{}

func (partialClient) Get(ctx context.Context, sel ads.Selector) ([]ads.Entity, error) {
	return nil, &ads.Error{Kind: ads.KindTerminal, Code: "NOT_FOUND"}
}

func (partialClient) Mutate(ctx context.Context, req ads.MutateRequest) (ads.MutateResponse, error) {
	return ads.MutateResponse{Items: []ads.ItemResult{
		{EntityID: "c-1", OK: true, Applied: map[string]string{"name": "brand"}},
		{EntityID: "c-1-budget", OK: false, ErrorCode: "BUDGET_ERROR", ErrorDetail: "budget rejected"},
	}}, nil
}

func TestSubmit_PartialApplicationRecordsAppliedSubset(t *testing.T) {
	store := audit.NewMemoryStore()
	c, _ := newTestCoordinator(partialClient{}, store, &stubLimiter{})

	rec, err := c.Submit(context.Background(), Request{
		AccountID:  testAccount,
		EntityType: ads.EntityCampaign,
		Operation:  ads.OpCreate,
		Changes:    ads.CampaignChanges{Name: "brand", BudgetMicros: i64(5_000_000)},
	}, testActor, "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if rec.Outcome != audit.OutcomePartiallyApplied {
		t.Fatalf("outcome = %s, want PARTIALLY_APPLIED", rec.Outcome)
	}
	if len(rec.After) != 1 || rec.After["name"] != "brand" {
		t.Fatalf("after must hold only the applied subset, got %v", rec.After)
	}
	if rec.ErrorCode != "BUDGET_ERROR" {
		t.Fatalf("error code = %q", rec.ErrorCode)
	}
}

// emptyClient answers mutations with no error and no items.
type emptyClient struct{}

func (emptyClient) Get(ctx context.Context, sel ads.Selector) ([]ads.Entity, error) {
	return nil, nil
}

func (emptyClient) Mutate(ctx context.Context, req ads.MutateRequest) (ads.MutateResponse, error) {
	return ads.MutateResponse{}, nil
}

func TestSubmit_EmptyMutateResponseFailsWithDetail(t *testing.T) {
	store := audit.NewMemoryStore()
	c, _ := newTestCoordinator(emptyClient{}, store, &stubLimiter{})

	rec, err := c.Submit(context.Background(), Request{
		AccountID:  testAccount,
		EntityType: ads.EntityCampaign,
		Operation:  ads.OpCreate,
		Changes:    ads.CampaignChanges{Name: "brand", BudgetMicros: i64(5_000_000)},
	}, testActor, "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if rec.Outcome != audit.OutcomeFailed {
		t.Fatalf("outcome = %s, want FAILED for an empty response", rec.Outcome)
	}
	if rec.ErrorDetail != "empty mutate response" {
		t.Fatalf("detail = %q", rec.ErrorDetail)
	}
}

// failingStore rejects every append.
type failingStore struct {
	audit.MemoryStore
}

func (s *failingStore) Append(ctx context.Context, r audit.Record) (audit.Record, error) {
	return audit.Record{}, errors.New("disk full")
}

func TestSubmit_AppendFailureIsFatal(t *testing.T) {
	fake := ads.NewFake()
	c, _ := newTestCoordinator(fake, &failingStore{}, &stubLimiter{})

	_, err := c.Submit(context.Background(), Request{
		AccountID:  testAccount,
		EntityType: ads.EntityCampaign,
		Operation:  ads.OpCreate,
		Changes:    ads.CampaignChanges{Name: "brand", BudgetMicros: i64(5_000_000)},
	}, testActor, "")

	var pe *PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
}

func TestSubmitBatch_SharedCorrelation(t *testing.T) {
	fake := ads.NewFake()
	store := audit.NewMemoryStore()
	c, _ := newTestCoordinator(fake, store, &stubLimiter{})

	corrID, recs, err := c.SubmitBatch(context.Background(), []Request{
		{AccountID: testAccount, EntityType: ads.EntityCampaign, Operation: ads.OpCreate, Changes: ads.CampaignChanges{Name: "brand", BudgetMicros: i64(5_000_000)}},
		{AccountID: testAccount, EntityType: ads.EntityKeyword, Operation: ads.OpCreate, Changes: ads.KeywordChanges{Text: "shoes", AdGroupID: "ag-1"}},
	}, testActor)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}

	byCorr, err := store.GetByCorrelation(context.Background(), testAccount, corrID)
	if err != nil || len(byCorr) != 2 {
		t.Fatalf("correlation lookup: %d records, err %v", len(byCorr), err)
	}
}

func TestSubmit_ConcurrentSubmitsProduceDenseIDs(t *testing.T) {
	fake := ads.NewFake()
	store := audit.NewMemoryStore()
	c, _ := newTestCoordinator(fake, store, &stubLimiter{})

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := c.Submit(context.Background(), Request{
				AccountID:  testAccount,
				EntityType: ads.EntityCampaign,
				Operation:  ads.OpCreate,
				Changes:    ads.CampaignChanges{Name: "brand", BudgetMicros: i64(5_000_000)},
			}, testActor, "")
			if err != nil {
				t.Errorf("submit: %v", err)
			}
		}()
	}
	wg.Wait()

	recs := allRecords(t, store)
	if len(recs) != n {
		t.Fatalf("expected %d records, got %d", n, len(recs))
	}
	for i, r := range recs {
		if r.ID != int64(i)+1 {
			t.Fatalf("ids not dense: position %d has id %d", i, r.ID)
		}
	}
}
