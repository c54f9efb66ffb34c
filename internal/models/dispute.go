package models

import "time"

// POIDispute records a divergent proof of indexing observed for a
// closed allocation. Rows are keyed by (allocation_id, protocol_network)
// and upserts merge the proof fields.
type POIDispute struct {
	AllocationID                string    `json:"allocationID"`
	SubgraphDeploymentID        string    `json:"subgraphDeploymentID"`
	AllocationIndexer           string    `json:"allocationIndexer"`
	AllocationAmount            string    `json:"allocationAmount"`
	AllocationProof             string    `json:"allocationProof"`
	ClosedEpoch                 int       `json:"closedEpoch"`
	ClosedEpochStartBlockHash   string    `json:"closedEpochStartBlockHash"`
	ClosedEpochReferenceProof   *string   `json:"closedEpochReferenceProof,omitempty"`
	PreviousEpochStartBlockHash string    `json:"previousEpochStartBlockHash"`
	PreviousEpochReferenceProof *string   `json:"previousEpochReferenceProof,omitempty"`
	Status                      string    `json:"status"`
	ProtocolNetwork             string    `json:"protocolNetwork"`
	CreatedAt                   time.Time `json:"createdAt"`
	UpdatedAt                   time.Time `json:"updatedAt"`
}
