package api

import (
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	graphql "github.com/graph-gophers/graphql-go"

	"github.com/Bidon15/indexer-agent/internal/executor"
	"github.com/Bidon15/indexer-agent/internal/models"
	"github.com/Bidon15/indexer-agent/internal/network"
)

type costModelInput struct {
	Deployment string
	Model      *string
	Variables  *string
}

// inferIdentifierType classifies a validated rule identifier.
func inferIdentifierType(value string) models.IdentifierType {
	switch {
	case value == models.GlobalIdentifier:
		return models.IdentifierTypeGroup
	case strings.HasPrefix(value, "Qm"):
		return models.IdentifierTypeDeployment
	default:
		return models.IdentifierTypeSubgraph
	}
}

func parseAddress(s string) common.Address {
	return common.HexToAddress(s)
}

func int32Ptr(v *int) *int32 {
	if v == nil {
		return nil
	}
	i := int32(*v)
	return &i
}

type ruleResolver struct {
	rule *models.IndexingRule
}

func (r *ruleResolver) Identifier() string        { return r.rule.Identifier }
func (r *ruleResolver) IdentifierType() string    { return string(r.rule.IdentifierType) }
func (r *ruleResolver) ProtocolNetwork() string   { return r.rule.ProtocolNetwork }
func (r *ruleResolver) AllocationAmount() *string { return r.rule.AllocationAmount }
func (r *ruleResolver) AllocationLifetime() *int32 {
	return int32Ptr(r.rule.AllocationLifetime)
}
func (r *ruleResolver) AutoRenewal() bool { return r.rule.AutoRenewal }
func (r *ruleResolver) ParallelAllocations() *int32 {
	return int32Ptr(r.rule.ParallelAllocations)
}
func (r *ruleResolver) MaxAllocationPercentage() *float64 { return r.rule.MaxAllocationPercentage }
func (r *ruleResolver) MinSignal() *string                { return r.rule.MinSignal }
func (r *ruleResolver) MaxSignal() *string                { return r.rule.MaxSignal }
func (r *ruleResolver) MinStake() *string                 { return r.rule.MinStake }
func (r *ruleResolver) MinAverageQueryFees() *string      { return r.rule.MinAverageQueryFees }
func (r *ruleResolver) Custom() *string                   { return r.rule.Custom }
func (r *ruleResolver) DecisionBasis() string             { return string(r.rule.DecisionBasis) }
func (r *ruleResolver) RequireSupported() bool            { return r.rule.RequireSupported }
func (r *ruleResolver) Safety() bool                      { return r.rule.Safety }

type costModelResolver struct {
	model *models.CostModel
}

func (r *costModelResolver) Deployment() string { return r.model.Deployment }
func (r *costModelResolver) Model() *string     { return r.model.Model }
func (r *costModelResolver) Variables() *string { return r.model.Variables }

type actionResolver struct {
	action *models.Action
}

func (r *actionResolver) ID() graphql.ID {
	return graphql.ID(strconv.FormatInt(r.action.ID, 10))
}
func (r *actionResolver) Status() string          { return string(r.action.Status) }
func (r *actionResolver) Type() string            { return string(r.action.Type) }
func (r *actionResolver) DeploymentID() string    { return r.action.DeploymentID }
func (r *actionResolver) AllocationID() *string   { return r.action.AllocationID }
func (r *actionResolver) Amount() *string         { return r.action.Amount }
func (r *actionResolver) Poi() *string            { return r.action.POI }
func (r *actionResolver) Force() bool             { return r.action.Force }
func (r *actionResolver) Priority() int32         { return int32(r.action.Priority) }
func (r *actionResolver) Source() string          { return r.action.Source }
func (r *actionResolver) Reason() string          { return r.action.Reason }
func (r *actionResolver) Transaction() *string    { return r.action.Transaction }
func (r *actionResolver) FailureReason() *string  { return r.action.FailureReason }
func (r *actionResolver) ProtocolNetwork() string { return r.action.ProtocolNetwork }

type disputeResolver struct {
	dispute *models.POIDispute
}

func (r *disputeResolver) AllocationID() string         { return r.dispute.AllocationID }
func (r *disputeResolver) SubgraphDeploymentID() string { return r.dispute.SubgraphDeploymentID }
func (r *disputeResolver) AllocationIndexer() string    { return r.dispute.AllocationIndexer }
func (r *disputeResolver) AllocationAmount() string     { return r.dispute.AllocationAmount }
func (r *disputeResolver) AllocationProof() string      { return r.dispute.AllocationProof }
func (r *disputeResolver) ClosedEpoch() int32           { return int32(r.dispute.ClosedEpoch) }
func (r *disputeResolver) ClosedEpochStartBlockHash() string {
	return r.dispute.ClosedEpochStartBlockHash
}
func (r *disputeResolver) ClosedEpochReferenceProof() *string {
	return r.dispute.ClosedEpochReferenceProof
}
func (r *disputeResolver) PreviousEpochStartBlockHash() string {
	return r.dispute.PreviousEpochStartBlockHash
}
func (r *disputeResolver) PreviousEpochReferenceProof() *string {
	return r.dispute.PreviousEpochReferenceProof
}
func (r *disputeResolver) Status() string          { return r.dispute.Status }
func (r *disputeResolver) ProtocolNetwork() string { return r.dispute.ProtocolNetwork }

type allocationResolver struct {
	allocation *models.Allocation
}

func (r *allocationResolver) ID() string     { return r.allocation.ID.Hex() }
func (r *allocationResolver) Status() string { return r.allocation.Status.String() }
func (r *allocationResolver) SubgraphDeployment() string {
	return r.allocation.SubgraphDeployment.Base58()
}
func (r *allocationResolver) Indexer() string { return r.allocation.Indexer.Hex() }
func (r *allocationResolver) AllocatedTokens() string {
	if r.allocation.AllocatedTokens == nil {
		return "0"
	}
	return r.allocation.AllocatedTokens.String()
}
func (r *allocationResolver) CreatedAtEpoch() int32 { return int32(r.allocation.CreatedAtEpoch) }
func (r *allocationResolver) ClosedAtEpoch() *int32 {
	if r.allocation.ClosedAtEpoch == 0 {
		return nil
	}
	v := int32(r.allocation.ClosedAtEpoch)
	return &v
}

type allocationResultResolver struct {
	result executor.Result
}

func (r *allocationResultResolver) ActionID() graphql.ID {
	return graphql.ID(strconv.FormatInt(r.result.Action.ID, 10))
}
func (r *allocationResultResolver) Status() string { return string(r.result.Status) }
func (r *allocationResultResolver) Allocation() *string {
	if r.result.AllocationID == nil {
		return nil
	}
	s := r.result.AllocationID.Hex()
	return &s
}
func (r *allocationResultResolver) Deployment() string { return r.result.Action.DeploymentID }
func (r *allocationResultResolver) FailureReason() *string {
	if r.result.FailureReason == "" {
		return nil
	}
	return &r.result.FailureReason
}
func (r *allocationResultResolver) Transaction() *string { return r.result.Transaction }

type registrationResolver struct {
	bundle *NetworkBundle
}

func (r *registrationResolver) Address() string         { return r.bundle.IndexerAddress }
func (r *registrationResolver) ProtocolNetwork() string { return r.bundle.Identifier }
func (r *registrationResolver) Registered() bool        { return true }

type endpointResolver struct {
	endpoint Endpoint
	network  string
}

func (r *endpointResolver) Name() string            { return r.endpoint.Name }
func (r *endpointResolver) URL() string             { return r.endpoint.URL }
func (r *endpointResolver) ProtocolNetwork() string { return r.network }

type deploymentStatusResolver struct {
	deployment network.LocalDeployment
}

func (r *deploymentStatusResolver) SubgraphDeployment() string {
	return r.deployment.ID.Base58()
}
func (r *deploymentStatusResolver) Node() string   { return r.deployment.NodeID }
func (r *deploymentStatusResolver) Paused() bool   { return r.deployment.Paused }
func (r *deploymentStatusResolver) Synced() bool   { return r.deployment.Synced }
func (r *deploymentStatusResolver) Health() string { return r.deployment.Health }
