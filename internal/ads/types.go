package ads

import "time"

// EntityType enumerates the external entities operators may mutate.
// The set mirrors the services exposed by the ads platform API.
type EntityType string

const (
	EntityCampaign         EntityType = "CAMPAIGN"
	EntityAdGroup          EntityType = "AD_GROUP"
	EntityKeyword          EntityType = "KEYWORD"
	EntityBiddingStrategy  EntityType = "BIDDING_STRATEGY"
	EntityExtension        EntityType = "EXTENSION"
	EntityConversionAction EntityType = "CONVERSION_ACTION"
)

func (t EntityType) Valid() bool {
	switch t {
	case EntityCampaign, EntityAdGroup, EntityKeyword,
		EntityBiddingStrategy, EntityExtension, EntityConversionAction:
		return true
	default:
		return false
	}
}

type Operation string

const (
	OpCreate Operation = "CREATE"
	OpUpdate Operation = "UPDATE"
	OpRemove Operation = "REMOVE"
)

func (o Operation) Valid() bool {
	switch o {
	case OpCreate, OpUpdate, OpRemove:
		return true
	default:
		return false
	}
}

// Selector identifies one entity for a read-before-write fetch.
type Selector struct {
	AccountID  string
	EntityType EntityType
	EntityID   string
}

// Entity is the platform's view of one entity, flattened to the field names
// used in audit snapshots.
type Entity struct {
	EntityType EntityType        `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Fields     map[string]string `json:"fields"`
}

// MutateRequest is the wire-level mutation handed to the external client.
// Fields is already flattened from the typed change set; the client treats
// it opaquely.
type MutateRequest struct {
	AccountID  string            `json:"account_id"`
	EntityType EntityType        `json:"entity_type"`
	EntityID   string            `json:"entity_id,omitempty"`
	Operation  Operation         `json:"operation"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// ItemResult reports the outcome of one sub-operation of a mutate call.
// The platform may split a single logical mutation into several operations
// (a campaign create also creates its budget) and apply them independently.
type ItemResult struct {
	EntityID    string            `json:"entity_id"`
	Applied     map[string]string `json:"applied,omitempty"`
	OK          bool              `json:"ok"`
	ErrorCode   string            `json:"error_code,omitempty"`
	ErrorDetail string            `json:"error_detail,omitempty"`
}

// MutateResponse carries per-item statuses. RetryAfter is the server-supplied
// pacing hint, zero when the server sent none.
type MutateResponse struct {
	Items      []ItemResult  `json:"items"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// AllOK reports whether every sub-operation was applied.
func (r MutateResponse) AllOK() bool {
	for _, it := range r.Items {
		if !it.OK {
			return false
		}
	}
	return len(r.Items) > 0
}

// AnyOK reports whether at least one sub-operation was applied.
func (r MutateResponse) AnyOK() bool {
	for _, it := range r.Items {
		if it.OK {
			return true
		}
	}
	return false
}
