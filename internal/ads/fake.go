package ads

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Client for tests and local development.
// It stores entities keyed by account+type+id and can be scripted to fail.
type Fake struct {
	mu       sync.Mutex
	entities map[string]Entity
	nextID   int

	// MutateErrs is consumed one per Mutate call; a nil entry means the
	// call succeeds. Once drained, calls succeed.
	MutateErrs []error
	// GetErr fails every Get when set.
	GetErr error
	// PartialFail marks these entity ids as failed in otherwise-OK responses.
	PartialFail map[string]string // entity id -> error code

	MutateCalls int
	GetCalls    int
}

func NewFake() *Fake {
	return &Fake{entities: map[string]Entity{}}
}

func (f *Fake) key(accountID string, t EntityType, id string) string {
	return accountID + "|" + string(t) + "|" + id
}

// Seed installs an entity without going through Mutate.
func (f *Fake) Seed(accountID string, e Entity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entities[f.key(accountID, e.EntityType, e.EntityID)] = e
}

func (f *Fake) Get(ctx context.Context, sel Selector) ([]Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.GetCalls++

	if f.GetErr != nil {
		return nil, f.GetErr
	}
	e, ok := f.entities[f.key(sel.AccountID, sel.EntityType, sel.EntityID)]
	if !ok {
		return nil, &Error{Kind: KindTerminal, Code: "NOT_FOUND", Detail: fmt.Sprintf("%s %s not found", sel.EntityType, sel.EntityID)}
	}
	return []Entity{e}, nil
}

func (f *Fake) Mutate(ctx context.Context, req MutateRequest) (MutateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.MutateCalls++

	if len(f.MutateErrs) > 0 {
		err := f.MutateErrs[0]
		f.MutateErrs = f.MutateErrs[1:]
		if err != nil {
			return MutateResponse{RetryAfter: RetryAfterHint(err)}, err
		}
	}

	id := req.EntityID
	if req.Operation == OpCreate && id == "" {
		f.nextID++
		id = fmt.Sprintf("%s-%d", req.EntityType, f.nextID)
	}

	if code, bad := f.PartialFail[id]; bad {
		return MutateResponse{Items: []ItemResult{
			{EntityID: id, OK: false, ErrorCode: code, ErrorDetail: "sub-operation rejected"},
		}}, nil
	}

	k := f.key(req.AccountID, req.EntityType, id)
	switch req.Operation {
	case OpCreate:
		f.entities[k] = Entity{EntityType: req.EntityType, EntityID: id, Fields: cloneFields(req.Fields)}
	case OpUpdate:
		e, ok := f.entities[k]
		if !ok {
			return MutateResponse{}, &Error{Kind: KindTerminal, Code: "NOT_FOUND", Detail: "update target missing"}
		}
		merged := cloneFields(e.Fields)
		for fk, fv := range req.Fields {
			merged[fk] = fv
		}
		e.Fields = merged
		f.entities[k] = e
	case OpRemove:
		delete(f.entities, k)
	}

	return MutateResponse{Items: []ItemResult{
		{EntityID: id, OK: true, Applied: cloneFields(req.Fields)},
	}}, nil
}

func cloneFields(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
