package query

import (
	"context"
	"errors"
	"fmt"

	"ads-console/internal/audit"
)

var ErrInvalidFilter = errors.New("query: invalid filter")

// Engine is the read side of the audit trail. It never mutates records and is
// safe to call concurrently with appends: results are ordered by record ID,
// and a repeated query over an unchanged window returns identical results.
type Engine struct {
	store audit.Store
}

func NewEngine(store audit.Store) *Engine {
	return &Engine{store: store}
}

// List returns one page of matching records, ordered by ID ascending.
func (e *Engine) List(ctx context.Context, f audit.Filter, p audit.Page) ([]audit.Record, error) {
	if err := checkFilter(f); err != nil {
		return nil, err
	}
	return e.store.Query(ctx, f, p)
}

// ByCorrelation returns every record of one logical user action, ordered by ID.
func (e *Engine) ByCorrelation(ctx context.Context, accountID, correlationID string) ([]audit.Record, error) {
	if accountID == "" || correlationID == "" {
		return nil, fmt.Errorf("%w: account_id and correlation_id required", ErrInvalidFilter)
	}
	return e.store.GetByCorrelation(ctx, accountID, correlationID)
}

// Walk streams every matching record through fn in ID order, paging through
// the store with a cursor so arbitrarily large result sets never load at once.
// fn returning an error stops the walk.
func (e *Engine) Walk(ctx context.Context, f audit.Filter, fn func(audit.Record) error) error {
	if err := checkFilter(f); err != nil {
		return err
	}

	var after int64
	for {
		page, err := e.store.Query(ctx, f, audit.Page{AfterID: after, Limit: audit.MaxPageLimit})
		if err != nil {
			return err
		}
		for _, r := range page {
			if err := fn(r); err != nil {
				return err
			}
		}
		if len(page) < audit.MaxPageLimit {
			return nil
		}
		after = page[len(page)-1].ID
	}
}

func checkFilter(f audit.Filter) error {
	if f.Outcome != "" && !f.Outcome.Valid() {
		return fmt.Errorf("%w: unknown outcome %q", ErrInvalidFilter, f.Outcome)
	}
	if f.EntityType != "" && !f.EntityType.Valid() {
		return fmt.Errorf("%w: unknown entity type %q", ErrInvalidFilter, f.EntityType)
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return fmt.Errorf("%w: time range is inverted", ErrInvalidFilter)
	}
	return nil
}
