package models

import "time"

// GlobalIdentifier is the sentinel identifier of the per-network global
// rule. The global rule always exists and supplies defaults for every
// field a deployment rule leaves unset.
const GlobalIdentifier = "global"

// IdentifierType describes what an indexing rule identifier refers to.
type IdentifierType string

const (
	IdentifierTypeDeployment IdentifierType = "deployment"
	IdentifierTypeSubgraph   IdentifierType = "subgraph"
	IdentifierTypeGroup      IdentifierType = "group"
)

// Valid returns true if the identifier type is known.
func (t IdentifierType) Valid() bool {
	switch t {
	case IdentifierTypeDeployment, IdentifierTypeSubgraph, IdentifierTypeGroup:
		return true
	default:
		return false
	}
}

// DecisionBasis determines how the reconciler treats a deployment.
type DecisionBasis string

const (
	// DecisionBasisRules allocates when the rule's thresholds pass.
	DecisionBasisRules DecisionBasis = "rules"
	// DecisionBasisNever neither indexes nor allocates.
	DecisionBasisNever DecisionBasis = "never"
	// DecisionBasisAlways allocates regardless of thresholds.
	DecisionBasisAlways DecisionBasis = "always"
	// DecisionBasisOffchain keeps the deployment syncing without allocating.
	DecisionBasisOffchain DecisionBasis = "offchain"
	// DecisionBasisDips delegates the decision to indexing agreements.
	DecisionBasisDips DecisionBasis = "dips"
)

// Valid returns true if the decision basis is known.
func (b DecisionBasis) Valid() bool {
	switch b {
	case DecisionBasisRules, DecisionBasisNever, DecisionBasisAlways, DecisionBasisOffchain, DecisionBasisDips:
		return true
	default:
		return false
	}
}

// String returns the string representation.
func (b DecisionBasis) String() string {
	return string(b)
}

// IndexingRule declares under which conditions a deployment is indexed
// and allocated to. Pointer fields are nullable: a nil field on a
// deployment rule inherits the global rule's value when merged.
type IndexingRule struct {
	Identifier              string         `json:"identifier"`
	IdentifierType          IdentifierType `json:"identifierType"`
	ProtocolNetwork         string         `json:"protocolNetwork"`
	AllocationAmount        *string        `json:"allocationAmount,omitempty"`
	AllocationLifetime      *int           `json:"allocationLifetime,omitempty"`
	AutoRenewal             bool           `json:"autoRenewal"`
	ParallelAllocations     *int           `json:"parallelAllocations,omitempty"`
	MaxAllocationPercentage *float64       `json:"maxAllocationPercentage,omitempty"`
	MinSignal               *string        `json:"minSignal,omitempty"`
	MaxSignal               *string        `json:"maxSignal,omitempty"`
	MinStake                *string        `json:"minStake,omitempty"`
	MinAverageQueryFees     *string        `json:"minAverageQueryFees,omitempty"`
	Custom                  *string        `json:"custom,omitempty"`
	DecisionBasis           DecisionBasis  `json:"decisionBasis"`
	RequireSupported        bool           `json:"requireSupported"`
	Safety                  bool           `json:"safety"`
	CreatedAt               time.Time      `json:"createdAt"`
	UpdatedAt               time.Time      `json:"updatedAt"`
}

// IsGlobal returns true for the per-network global rule.
func (r *IndexingRule) IsGlobal() bool {
	return r.Identifier == GlobalIdentifier
}

// DefaultGlobalRule returns the global rule the agent installs for a
// network at startup and reinstalls whenever the global rule is deleted.
func DefaultGlobalRule(protocolNetwork, defaultAllocationAmount string) *IndexingRule {
	parallel := 1
	amount := defaultAllocationAmount
	return &IndexingRule{
		Identifier:          GlobalIdentifier,
		IdentifierType:      IdentifierTypeGroup,
		ProtocolNetwork:     protocolNetwork,
		AllocationAmount:    &amount,
		ParallelAllocations: &parallel,
		DecisionBasis:       DecisionBasisRules,
		AutoRenewal:         true,
		RequireSupported:    true,
		Safety:              true,
	}
}
