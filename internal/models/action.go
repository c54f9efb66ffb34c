package models

import "time"

// ActionStatus is the lifecycle state of a queued mutation.
type ActionStatus string

const (
	ActionStatusQueued    ActionStatus = "queued"
	ActionStatusApproved  ActionStatus = "approved"
	ActionStatusDeploying ActionStatus = "deploying"
	ActionStatusPending   ActionStatus = "pending"
	ActionStatusSuccess   ActionStatus = "success"
	ActionStatusFailed    ActionStatus = "failed"
	ActionStatusCanceled  ActionStatus = "canceled"
)

// Terminal returns true once an action can no longer change state.
func (s ActionStatus) Terminal() bool {
	switch s {
	case ActionStatusSuccess, ActionStatusFailed, ActionStatusCanceled:
		return true
	default:
		return false
	}
}

// Valid returns true if the status is known.
func (s ActionStatus) Valid() bool {
	switch s {
	case ActionStatusQueued, ActionStatusApproved, ActionStatusDeploying,
		ActionStatusPending, ActionStatusSuccess, ActionStatusFailed, ActionStatusCanceled:
		return true
	default:
		return false
	}
}

// ActionType is the kind of allocation mutation an action performs.
// The set is closed: preparation, execution confirmation and
// reconciliation all dispatch on it exhaustively.
type ActionType string

const (
	ActionTypeAllocate   ActionType = "allocate"
	ActionTypeUnallocate ActionType = "unallocate"
	ActionTypeReallocate ActionType = "reallocate"
)

// Valid returns true if the action type is known.
func (t ActionType) Valid() bool {
	switch t {
	case ActionTypeAllocate, ActionTypeUnallocate, ActionTypeReallocate:
		return true
	default:
		return false
	}
}

// Action is a pending state change against the protocol.
type Action struct {
	ID              int64        `json:"id"`
	Status          ActionStatus `json:"status"`
	Type            ActionType   `json:"type"`
	DeploymentID    string       `json:"deploymentID"`
	AllocationID    *string      `json:"allocationID,omitempty"`
	Amount          *string      `json:"amount,omitempty"`
	POI             *string      `json:"poi,omitempty"`
	Force           bool         `json:"force"`
	Priority        int          `json:"priority"`
	Source          string       `json:"source"`
	Reason          string       `json:"reason"`
	IsLegacy        bool         `json:"isLegacy"`
	SyncingNetwork  bool         `json:"syncingNetwork"`
	Transaction     *string      `json:"transaction,omitempty"`
	FailureReason   *string      `json:"failureReason,omitempty"`
	ProtocolNetwork string       `json:"protocolNetwork"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// ActionFilter selects actions in queries. Nil fields match everything.
type ActionFilter struct {
	IDs             []int64
	Status          *ActionStatus
	Type            *ActionType
	DeploymentID    *string
	AllocationID    *string
	Amount          *string
	POI             *string
	Force           *bool
	Priority        *int
	Source          *string
	Reason          *string
	Transaction     *string
	FailureReason   *string
	ProtocolNetwork *string
	// CreatedSince matches actions with createdAt >= now - CreatedSince.
	CreatedSince *time.Duration
	// UpdatedSince matches actions with updatedAt >= now - UpdatedSince.
	UpdatedSince *time.Duration
}

// ActionOrderBy names an Action column used for ordering fetch results.
type ActionOrderBy string

// ActionColumns are the orderable Action columns, keyed by API name.
var ActionColumns = map[ActionOrderBy]string{
	"id":              "id",
	"status":          "status",
	"type":            "type",
	"deploymentID":    "deployment_id",
	"allocationID":    "allocation_id",
	"amount":          "amount",
	"poi":             "poi",
	"force":           "force",
	"priority":        "priority",
	"source":          "source",
	"reason":          "reason",
	"transaction":     "transaction",
	"failureReason":   "failure_reason",
	"protocolNetwork": "protocol_network",
	"createdAt":       "created_at",
	"updatedAt":       "updated_at",
}

// OrderDirection is the sort direction for fetch results.
type OrderDirection string

const (
	OrderAsc  OrderDirection = "asc"
	OrderDesc OrderDirection = "desc"
)
