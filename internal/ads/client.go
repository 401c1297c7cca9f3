package ads

import "context"

// Client is the boundary to the external ads platform RPC client.
//
// The wire protocol is the collaborator's concern. Implementations must
// classify failures as *ads.Error so the mutation layer can apply retry
// policy; any other error is treated as terminal.
type Client interface {
	// Get fetches current entity state for a selector. Used for
	// before-state snapshots ahead of updates and removes.
	Get(ctx context.Context, sel Selector) ([]Entity, error)

	// Mutate applies one mutation. The response carries per-item statuses
	// because the platform may apply sub-operations independently.
	Mutate(ctx context.Context, req MutateRequest) (MutateResponse, error)
}
