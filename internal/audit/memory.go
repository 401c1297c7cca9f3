package audit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory append-only store for tests and early
// development. It satisfies the same ID-density and ordering guarantees as
// the Postgres store but is not durable.
type MemoryStore struct {
	mu      sync.Mutex
	records []Record
	clock   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{clock: time.Now}
}

// SetClock overrides the timestamp source for deterministic tests.
func (s *MemoryStore) SetClock(clock func() time.Time) { s.clock = clock }

func (s *MemoryStore) Append(ctx context.Context, r Record) (Record, error) {
	if err := validate(r); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r.ID = int64(len(s.records)) + 1
	r.Timestamp = s.clock().UTC()
	r.Before = cloneMap(r.Before)
	r.After = cloneMap(r.After)

	s.records = append(s.records, r)
	return r, nil
}

func (s *MemoryStore) Query(ctx context.Context, f Filter, p Page) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := p.limit()
	out := make([]Record, 0)
	for _, r := range s.records {
		if r.ID <= p.AfterID {
			continue
		}
		if !f.matches(r) {
			continue
		}
		out = append(out, r)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) GetByCorrelation(ctx context.Context, accountID, correlationID string) ([]Record, error) {
	return s.Query(ctx, Filter{AccountID: accountID, CorrelationID: correlationID}, Page{Limit: MaxPageLimit})
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
