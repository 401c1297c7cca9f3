package mutation

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation means the request was structurally invalid. Nothing was
	// sent externally and no audit record exists; this is the only path
	// that produces no record, because no external-facing action happened.
	ErrValidation = errors.New("mutation: invalid request")

	// ErrPrecheckFailed means the read-before-write fetch failed. The
	// attempt was recorded with outcome Failed; it is not retried
	// automatically.
	ErrPrecheckFailed = errors.New("mutation: before-state fetch failed")
)

// PersistenceError is fatal for the operation: the external side effect may
// have happened but the audit append failed, so mutation state is unknown.
// Callers must surface this loudly and alert an operator; it is never
// folded into a normal outcome.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("mutation: audit append failed, mutation state unknown: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
