package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"ads-console/internal/ads"
)

func testRecord(actor string) Record {
	return Record{
		Actor:         actor,
		AccountID:     "123-456-7890",
		EntityType:    ads.EntityCampaign,
		EntityID:      "c-1",
		Operation:     ads.OpUpdate,
		Before:        map[string]string{"status": "ENABLED"},
		After:         map[string]string{"status": "PAUSED"},
		Outcome:       OutcomeSucceeded,
		CorrelationID: "corr-1",
	}
}

func TestMemoryStore_AppendAssignsIDAndTimestamp(t *testing.T) {
	s := NewMemoryStore()
	now := time.Unix(1700000000, 0).UTC()
	s.SetClock(func() time.Time { return now })

	in := testRecord("alice")
	in.ID = 999 // must be ignored
	out, err := s.Append(context.Background(), in)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if out.ID != 1 {
		t.Fatalf("expected id 1, got %d", out.ID)
	}
	if !out.Timestamp.Equal(now) {
		t.Fatalf("expected store-assigned timestamp, got %v", out.Timestamp)
	}
}

func TestMemoryStore_AppendRejectsInvalid(t *testing.T) {
	s := NewMemoryStore()

	cases := []struct {
		name   string
		mutate func(*Record)
	}{
		{"missing actor", func(r *Record) { r.Actor = "" }},
		{"missing account", func(r *Record) { r.AccountID = "" }},
		{"bad entity type", func(r *Record) { r.EntityType = "WIDGET" }},
		{"bad operation", func(r *Record) { r.Operation = "UPSERT" }},
		{"bad outcome", func(r *Record) { r.Outcome = "MAYBE" }},
		{"missing correlation", func(r *Record) { r.CorrelationID = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := testRecord("alice")
			tc.mutate(&r)
			if _, err := s.Append(context.Background(), r); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestMemoryStore_ConcurrentAppendsDenseIDs(t *testing.T) {
	s := NewMemoryStore()

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if _, err := s.Append(context.Background(), testRecord("alice")); err != nil {
				t.Errorf("append: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := s.Query(context.Background(), Filter{}, Page{Limit: n})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != n {
		t.Fatalf("expected %d records, got %d", n, len(got))
	}
	for i, r := range got {
		if r.ID != int64(i)+1 {
			t.Fatalf("ids not dense ascending: position %d has id %d", i, r.ID)
		}
	}
}

func TestMemoryStore_AppendCopiesStateMaps(t *testing.T) {
	s := NewMemoryStore()

	before := map[string]string{"status": "ENABLED"}
	r := testRecord("alice")
	r.Before = before

	if _, err := s.Append(context.Background(), r); err != nil {
		t.Fatalf("append: %v", err)
	}
	before["status"] = "TAMPERED"

	got, err := s.Query(context.Background(), Filter{}, Page{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if got[0].Before["status"] != "ENABLED" {
		t.Fatalf("stored record must not alias caller map")
	}
}

func TestMemoryStore_QueryFiltersAndCursor(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a := testRecord("alice")
	b := testRecord("bob")
	b.Outcome = OutcomeFailed
	b.ErrorDetail = "quota exceeded"
	c := testRecord("alice")
	c.EntityType = ads.EntityKeyword
	c.CorrelationID = "corr-2"

	for _, r := range []Record{a, b, c} {
		if _, err := s.Append(ctx, r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	byActor, err := s.Query(ctx, Filter{Actor: "alice"}, Page{})
	if err != nil || len(byActor) != 2 {
		t.Fatalf("actor filter: got %d records, err %v", len(byActor), err)
	}

	byOutcome, err := s.Query(ctx, Filter{Actor: "alice", Outcome: OutcomeSucceeded, EntityType: ads.EntityKeyword}, Page{})
	if err != nil || len(byOutcome) != 1 || byOutcome[0].CorrelationID != "corr-2" {
		t.Fatalf("AND filter composition failed: %+v err %v", byOutcome, err)
	}

	afterFirst, err := s.Query(ctx, Filter{}, Page{AfterID: 1})
	if err != nil || len(afterFirst) != 2 || afterFirst[0].ID != 2 {
		t.Fatalf("cursor pagination failed: %+v err %v", afterFirst, err)
	}

	corr, err := s.GetByCorrelation(ctx, "123-456-7890", "corr-1")
	if err != nil || len(corr) != 2 {
		t.Fatalf("correlation lookup: got %d, err %v", len(corr), err)
	}
}

func TestMemoryStore_QueryTimeRange(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	t0 := time.Unix(1700000000, 0).UTC()
	now := t0
	s.SetClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		if _, err := s.Append(ctx, testRecord("alice")); err != nil {
			t.Fatalf("append: %v", err)
		}
		now = now.Add(time.Hour)
	}

	got, err := s.Query(ctx, Filter{From: t0.Add(30 * time.Minute), To: t0.Add(90 * time.Minute)}, Page{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].ID != 2 {
		t.Fatalf("time range filter: %+v", got)
	}
}
