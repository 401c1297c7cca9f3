package audit

import (
	"context"
	"errors"
)

// Store is the persistence contract for audit records.
//
// It MUST be append-only. No Update/Delete methods are provided by design.
//
// Durability: once Append returns, the record survives a process restart.
// Concurrency: concurrent Appends never produce duplicate or skipped IDs;
// implementations serialize ID assignment.
type Store interface {
	// Append persists the record, assigning ID and Timestamp. The input
	// record's ID and Timestamp are ignored.
	Append(ctx context.Context, r Record) (Record, error)

	// Query returns records matching the filter, ordered by ID ascending.
	Query(ctx context.Context, f Filter, p Page) ([]Record, error)

	// GetByCorrelation returns all records of one logical user action,
	// ordered by ID ascending.
	GetByCorrelation(ctx context.Context, accountID, correlationID string) ([]Record, error)
}

var ErrInvalidRecord = errors.New("audit: invalid record")

// validate enforces the fields every record must carry before append.
func validate(r Record) error {
	if r.Actor == "" {
		return errors.Join(ErrInvalidRecord, errors.New("actor required"))
	}
	if r.AccountID == "" {
		return errors.Join(ErrInvalidRecord, errors.New("account_id required"))
	}
	if !r.EntityType.Valid() {
		return errors.Join(ErrInvalidRecord, errors.New("unknown entity_type"))
	}
	if !r.Operation.Valid() {
		return errors.Join(ErrInvalidRecord, errors.New("unknown operation"))
	}
	if !r.Outcome.Valid() {
		return errors.Join(ErrInvalidRecord, errors.New("unknown outcome"))
	}
	if r.CorrelationID == "" {
		return errors.Join(ErrInvalidRecord, errors.New("correlation_id required"))
	}
	return nil
}
