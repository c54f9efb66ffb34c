package api

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"time"

	graphql "github.com/graph-gophers/graphql-go"

	"github.com/Bidon15/indexer-agent/internal/actions"
	"github.com/Bidon15/indexer-agent/internal/allocations"
	"github.com/Bidon15/indexer-agent/internal/executor"
	"github.com/Bidon15/indexer-agent/internal/ident"
	"github.com/Bidon15/indexer-agent/internal/models"
	"github.com/Bidon15/indexer-agent/internal/network"
	ierrors "github.com/Bidon15/indexer-agent/internal/pkg/errors"
	"github.com/Bidon15/indexer-agent/internal/repository"
	"github.com/Bidon15/indexer-agent/internal/rules"
)

// Endpoint is a public endpoint the indexer advertises.
type Endpoint struct {
	Name string
	URL  string
}

// NetworkBundle groups one network's collaborators for the API.
type NetworkBundle struct {
	Identifier     string
	IndexerAddress string
	Monitor        network.Monitor
	Engine         *rules.Engine
	Rules          repository.RuleRepository
	Queue          *actions.Queue
	Manager        *allocations.Manager
	Executor       *executor.Executor
	Endpoints      []Endpoint
}

// Resolver is the GraphQL root resolver.
type Resolver struct {
	networks   map[string]*NetworkBundle
	order      []string
	costModels repository.CostModelRepository
	disputes   repository.DisputeRepository
	// queue with no network binding, for operations that only touch the
	// action store.
	queue  *actions.Queue
	logger *slog.Logger
}

// NewResolver creates the root resolver over the configured networks.
func NewResolver(bundles []*NetworkBundle, costModels repository.CostModelRepository, disputes repository.DisputeRepository, actionRepo repository.ActionRepository, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	networks := make(map[string]*NetworkBundle, len(bundles))
	order := make([]string, 0, len(bundles))
	for _, b := range bundles {
		networks[b.Identifier] = b
		order = append(order, b.Identifier)
	}
	return &Resolver{
		networks:   networks,
		order:      order,
		costModels: costModels,
		disputes:   disputes,
		queue:      actions.NewQueue(actionRepo, nil, 0, logger),
		logger:     logger,
	}
}

func (r *Resolver) bundle(protocolNetwork string) (*NetworkBundle, error) {
	id, err := ident.ResolveChainID(protocolNetwork)
	if err != nil {
		return nil, err
	}
	b, ok := r.networks[id]
	if !ok {
		return nil, ierrors.Newf(ierrors.CodeInvalidProtocolNetwork,
			"protocol network '%s' is not configured", protocolNetwork)
	}
	return b, nil
}

// --- indexing rules ---

type ruleArgs struct {
	Identifier      string
	ProtocolNetwork string
	Merged          bool
}

func (r *Resolver) IndexingRule(ctx context.Context, args ruleArgs) (*ruleResolver, error) {
	b, err := r.bundle(args.ProtocolNetwork)
	if err != nil {
		return nil, err
	}
	var rule *models.IndexingRule
	if args.Merged {
		rule, err = b.Engine.MergedRule(ctx, b.Identifier, args.Identifier)
	} else {
		rule, err = b.Rules.Get(ctx, args.Identifier, b.Identifier)
	}
	if err != nil || rule == nil {
		return nil, err
	}
	return &ruleResolver{rule}, nil
}

func (r *Resolver) IndexingRules(ctx context.Context, args struct {
	Merged          bool
	ProtocolNetwork *string
}) ([]*ruleResolver, error) {
	var bundles []*NetworkBundle
	if args.ProtocolNetwork != nil {
		b, err := r.bundle(*args.ProtocolNetwork)
		if err != nil {
			return nil, err
		}
		bundles = append(bundles, b)
	} else {
		for _, id := range r.order {
			bundles = append(bundles, r.networks[id])
		}
	}

	out := []*ruleResolver{}
	for _, b := range bundles {
		var (
			list []*models.IndexingRule
			err  error
		)
		if args.Merged {
			list, err = b.Engine.MergedRules(ctx, b.Identifier)
		} else {
			list, err = b.Rules.List(ctx, &b.Identifier)
		}
		if err != nil {
			return nil, err
		}
		for _, rule := range list {
			out = append(out, &ruleResolver{rule})
		}
	}
	return out, nil
}

type ruleInput struct {
	Identifier              string
	IdentifierType          *string
	ProtocolNetwork         string
	AllocationAmount        *string
	AllocationLifetime      *int32
	AutoRenewal             *bool
	ParallelAllocations     *int32
	MaxAllocationPercentage *float64
	MinSignal               *string
	MaxSignal               *string
	MinStake                *string
	MinAverageQueryFees     *string
	Custom                  *string
	DecisionBasis           *string
	RequireSupported        *bool
	Safety                  *bool
}

func (r *Resolver) SetIndexingRule(ctx context.Context, args struct{ Rule ruleInput }) (*ruleResolver, error) {
	b, err := r.bundle(args.Rule.ProtocolNetwork)
	if err != nil {
		return nil, err
	}
	tagged, err := ident.Parse(args.Rule.Identifier)
	if err != nil {
		return nil, err
	}

	rule := &models.IndexingRule{
		Identifier:              tagged.Value,
		IdentifierType:          inferIdentifierType(tagged.Value),
		ProtocolNetwork:         b.Identifier,
		AllocationAmount:        args.Rule.AllocationAmount,
		AllocationLifetime:      intPtr(args.Rule.AllocationLifetime),
		ParallelAllocations:     intPtr(args.Rule.ParallelAllocations),
		MaxAllocationPercentage: args.Rule.MaxAllocationPercentage,
		MinSignal:               args.Rule.MinSignal,
		MaxSignal:               args.Rule.MaxSignal,
		MinStake:                args.Rule.MinStake,
		MinAverageQueryFees:     args.Rule.MinAverageQueryFees,
		Custom:                  args.Rule.Custom,
		DecisionBasis:           models.DecisionBasisRules,
		AutoRenewal:             true,
		RequireSupported:        true,
		Safety:                  true,
	}
	if args.Rule.IdentifierType != nil {
		rule.IdentifierType = models.IdentifierType(*args.Rule.IdentifierType)
	}
	if args.Rule.DecisionBasis != nil {
		rule.DecisionBasis = models.DecisionBasis(*args.Rule.DecisionBasis)
		if !rule.DecisionBasis.Valid() {
			return nil, ierrors.Newf(ierrors.CodeInvalidIdentifier, "unknown decisionBasis '%s'", *args.Rule.DecisionBasis)
		}
	}
	if args.Rule.AutoRenewal != nil {
		rule.AutoRenewal = *args.Rule.AutoRenewal
	}
	if args.Rule.RequireSupported != nil {
		rule.RequireSupported = *args.Rule.RequireSupported
	}
	if args.Rule.Safety != nil {
		rule.Safety = *args.Rule.Safety
	}

	stored, err := b.Rules.Upsert(ctx, rule)
	if err != nil {
		return nil, err
	}
	return &ruleResolver{stored}, nil
}

func (r *Resolver) DeleteIndexingRule(ctx context.Context, args struct {
	Identifier      string
	ProtocolNetwork string
}) (bool, error) {
	b, err := r.bundle(args.ProtocolNetwork)
	if err != nil {
		return false, err
	}
	n, err := b.Rules.Delete(ctx, b.Identifier, []string{args.Identifier})
	return n > 0, err
}

func (r *Resolver) DeleteIndexingRules(ctx context.Context, args struct {
	Identifiers     []string
	ProtocolNetwork string
}) (bool, error) {
	b, err := r.bundle(args.ProtocolNetwork)
	if err != nil {
		return false, err
	}
	n, err := b.Rules.Delete(ctx, b.Identifier, args.Identifiers)
	return n > 0, err
}

// --- cost models ---

func (r *Resolver) CostModel(ctx context.Context, args struct{ Deployment string }) (*costModelResolver, error) {
	model, err := r.costModels.Latest(ctx, args.Deployment)
	if err != nil {
		return nil, err
	}
	if model == nil {
		// Global fallback applies when the deployment has no model of
		// its own.
		model, err = r.costModels.Latest(ctx, repository.GlobalCostModel)
		if err != nil || model == nil {
			return nil, err
		}
		fallback := *model
		fallback.Deployment = args.Deployment
		model = &fallback
	}
	return &costModelResolver{model}, nil
}

func (r *Resolver) CostModels(ctx context.Context, args struct{ Deployments *[]string }) ([]*costModelResolver, error) {
	var filter []string
	if args.Deployments != nil {
		filter = *args.Deployments
	}
	list, err := r.costModels.LatestAll(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]*costModelResolver, 0, len(list))
	byDeployment := make(map[string]bool, len(list))
	for _, m := range list {
		byDeployment[m.Deployment] = true
		out = append(out, &costModelResolver{m})
	}

	// Explicitly requested deployments without a model of their own get
	// the global fallback, same as the singular lookup.
	if len(filter) > 0 {
		var global *models.CostModel
		for _, deployment := range filter {
			if byDeployment[deployment] || deployment == repository.GlobalCostModel {
				continue
			}
			if global == nil {
				global, err = r.costModels.Latest(ctx, repository.GlobalCostModel)
				if err != nil {
					return nil, err
				}
				if global == nil {
					break
				}
			}
			fallback := *global
			fallback.Deployment = deployment
			out = append(out, &costModelResolver{&fallback})
		}
	}
	return out, nil
}

func (r *Resolver) SetCostModel(ctx context.Context, args struct{ CostModel costModelInput }) (*costModelResolver, error) {
	if args.CostModel.Deployment != repository.GlobalCostModel {
		if _, err := models.ParseDeploymentID(args.CostModel.Deployment); err != nil {
			return nil, ierrors.Wrap(ierrors.CodeInvalidIdentifier, err, "invalid deployment '%s'", args.CostModel.Deployment)
		}
	}
	stored, err := r.costModels.Set(ctx, &models.CostModel{
		Deployment: args.CostModel.Deployment,
		Model:      args.CostModel.Model,
		Variables:  args.CostModel.Variables,
	})
	if err != nil {
		return nil, err
	}
	return &costModelResolver{stored}, nil
}

func (r *Resolver) DeleteCostModels(ctx context.Context, args struct{ Deployments []string }) (int32, error) {
	n, err := r.costModels.Delete(ctx, args.Deployments)
	return int32(n), err
}

// --- actions ---

type actionInput struct {
	Status          *string
	Type            string
	DeploymentID    string
	AllocationID    *string
	Amount          *string
	Poi             *string
	Force           *bool
	Priority        *int32
	Source          string
	Reason          string
	ProtocolNetwork string
}

func (r *Resolver) QueueActions(ctx context.Context, args struct{ Actions []actionInput }) ([]*actionResolver, error) {
	out := []*actionResolver{}
	for _, in := range args.Actions {
		b, err := r.bundle(in.ProtocolNetwork)
		if err != nil {
			return nil, err
		}
		action := &models.Action{
			Type:            models.ActionType(in.Type),
			DeploymentID:    in.DeploymentID,
			AllocationID:    in.AllocationID,
			Amount:          in.Amount,
			POI:             in.Poi,
			Source:          in.Source,
			Reason:          in.Reason,
			ProtocolNetwork: b.Identifier,
		}
		if in.Status != nil {
			action.Status = models.ActionStatus(*in.Status)
		}
		if in.Force != nil {
			action.Force = *in.Force
		}
		if in.Priority != nil {
			action.Priority = int(*in.Priority)
		}
		stored, err := b.Queue.Queue(ctx, []*models.Action{action})
		if err != nil {
			return nil, err
		}
		for _, a := range stored {
			out = append(out, &actionResolver{a})
		}
	}
	return out, nil
}

func (r *Resolver) ApproveActions(ctx context.Context, args struct{ ActionIDs []graphql.ID }) ([]*actionResolver, error) {
	ids, err := parseActionIDs(args.ActionIDs)
	if err != nil {
		return nil, err
	}
	updated, err := r.queue.Approve(ctx, ids)
	if err != nil {
		return nil, err
	}
	return wrapActions(updated), nil
}

func (r *Resolver) CancelActions(ctx context.Context, args struct{ ActionIDs []graphql.ID }) ([]*actionResolver, error) {
	ids, err := parseActionIDs(args.ActionIDs)
	if err != nil {
		return nil, err
	}
	updated, err := r.queue.Cancel(ctx, ids)
	if err != nil {
		return nil, err
	}
	return wrapActions(updated), nil
}

func (r *Resolver) DeleteActions(ctx context.Context, args struct{ ActionIDs []graphql.ID }) (int32, error) {
	ids, err := parseActionIDs(args.ActionIDs)
	if err != nil {
		return 0, err
	}
	n, err := r.queue.Delete(ctx, ids)
	return int32(n), err
}

type actionFilterInput struct {
	ID                  *graphql.ID
	Status              *string
	Type                *string
	DeploymentID        *string
	AllocationID        *string
	Amount              *string
	Poi                 *string
	Force               *bool
	Priority            *int32
	Source              *string
	Reason              *string
	Transaction         *string
	FailureReason       *string
	ProtocolNetwork     *string
	CreatedSinceSeconds *int32
	UpdatedSinceSeconds *int32
}

func (r *Resolver) Actions(ctx context.Context, args struct {
	Filter         actionFilterInput
	OrderBy        *string
	OrderDirection *string
}) ([]*actionResolver, error) {
	filter := models.ActionFilter{
		DeploymentID:  args.Filter.DeploymentID,
		AllocationID:  args.Filter.AllocationID,
		Amount:        args.Filter.Amount,
		POI:           args.Filter.Poi,
		Force:         args.Filter.Force,
		Source:        args.Filter.Source,
		Reason:        args.Filter.Reason,
		Transaction:   args.Filter.Transaction,
		FailureReason: args.Filter.FailureReason,
	}
	if args.Filter.Priority != nil {
		priority := int(*args.Filter.Priority)
		filter.Priority = &priority
	}
	if args.Filter.ID != nil {
		id, err := strconv.ParseInt(string(*args.Filter.ID), 10, 64)
		if err != nil {
			return nil, ierrors.Newf(ierrors.CodeInvalidIdentifier, "invalid action id '%s'", string(*args.Filter.ID))
		}
		filter.IDs = []int64{id}
	}
	if args.Filter.Status != nil {
		status := models.ActionStatus(*args.Filter.Status)
		if !status.Valid() {
			return nil, ierrors.Newf(ierrors.CodeInvalidIdentifier, "unknown action status '%s'", *args.Filter.Status)
		}
		filter.Status = &status
	}
	if args.Filter.Type != nil {
		typ := models.ActionType(*args.Filter.Type)
		if !typ.Valid() {
			return nil, ierrors.Newf(ierrors.CodeInvalidIdentifier, "unknown action type '%s'", *args.Filter.Type)
		}
		filter.Type = &typ
	}
	if args.Filter.ProtocolNetwork != nil {
		id, err := ident.ResolveChainID(*args.Filter.ProtocolNetwork)
		if err != nil {
			return nil, err
		}
		filter.ProtocolNetwork = &id
	}
	if args.Filter.CreatedSinceSeconds != nil {
		window := time.Duration(*args.Filter.CreatedSinceSeconds) * time.Second
		filter.CreatedSince = &window
	}
	if args.Filter.UpdatedSinceSeconds != nil {
		window := time.Duration(*args.Filter.UpdatedSinceSeconds) * time.Second
		filter.UpdatedSince = &window
	}

	var orderBy *models.ActionOrderBy
	if args.OrderBy != nil {
		validated, err := validateOrderBy(*args.OrderBy)
		if err != nil {
			return nil, err
		}
		orderBy = &validated
	}
	var direction *models.OrderDirection
	if args.OrderDirection != nil {
		d := models.OrderDirection(*args.OrderDirection)
		direction = &d
	}

	list, err := r.queue.Fetch(ctx, filter, orderBy, direction)
	if err != nil {
		return nil, err
	}
	return wrapActions(list), nil
}

// validateOrderBy checks an ActionParams value against the Action
// columns and suggests the closest match on failure.
func validateOrderBy(field string) (models.ActionOrderBy, error) {
	if _, ok := models.ActionColumns[models.ActionOrderBy(field)]; ok {
		return models.ActionOrderBy(field), nil
	}
	candidates := make([]string, 0, len(models.ActionColumns))
	for name := range models.ActionColumns {
		candidates = append(candidates, string(name))
	}
	sort.Strings(candidates)
	closest := candidates[0]
	best := editDistance(field, closest)
	for _, c := range candidates[1:] {
		if d := editDistance(field, c); d < best {
			best, closest = d, c
		}
	}
	return "", ierrors.Newf(ierrors.CodeInvalidOrderBy,
		"invalid orderBy value '%s', did you mean '%s'?", field, closest)
}

func editDistance(a, b string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, min(cur[j-1]+1, prev[j-1]+cost))
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// --- disputes ---

func (r *Resolver) Disputes(ctx context.Context, args struct {
	Status          *string
	ProtocolNetwork *string
}) ([]*disputeResolver, error) {
	var networkID *string
	if args.ProtocolNetwork != nil {
		id, err := ident.ResolveChainID(*args.ProtocolNetwork)
		if err != nil {
			return nil, err
		}
		networkID = &id
	}
	list, err := r.disputes.List(ctx, args.Status, networkID)
	if err != nil {
		return nil, err
	}
	out := make([]*disputeResolver, 0, len(list))
	for _, d := range list {
		out = append(out, &disputeResolver{d})
	}
	return out, nil
}

type disputeInput struct {
	AllocationID                string
	SubgraphDeploymentID        string
	AllocationIndexer           string
	AllocationAmount            string
	AllocationProof             string
	ClosedEpoch                 int32
	ClosedEpochStartBlockHash   string
	ClosedEpochReferenceProof   *string
	PreviousEpochStartBlockHash string
	PreviousEpochReferenceProof *string
	Status                      string
	ProtocolNetwork             string
}

func (r *Resolver) StoreDisputes(ctx context.Context, args struct{ Disputes []disputeInput }) ([]*disputeResolver, error) {
	rows := make([]*models.POIDispute, 0, len(args.Disputes))
	for _, in := range args.Disputes {
		networkID, err := ident.ResolveChainID(in.ProtocolNetwork)
		if err != nil {
			return nil, err
		}
		rows = append(rows, &models.POIDispute{
			AllocationID:                in.AllocationID,
			SubgraphDeploymentID:        in.SubgraphDeploymentID,
			AllocationIndexer:           in.AllocationIndexer,
			AllocationAmount:            in.AllocationAmount,
			AllocationProof:             in.AllocationProof,
			ClosedEpoch:                 int(in.ClosedEpoch),
			ClosedEpochStartBlockHash:   in.ClosedEpochStartBlockHash,
			ClosedEpochReferenceProof:   in.ClosedEpochReferenceProof,
			PreviousEpochStartBlockHash: in.PreviousEpochStartBlockHash,
			PreviousEpochReferenceProof: in.PreviousEpochReferenceProof,
			Status:                      in.Status,
			ProtocolNetwork:             networkID,
		})
	}
	stored, err := r.disputes.Upsert(ctx, rows)
	if err != nil {
		return nil, err
	}
	out := make([]*disputeResolver, 0, len(stored))
	for _, d := range stored {
		out = append(out, &disputeResolver{d})
	}
	return out, nil
}

func (r *Resolver) DeleteDisputes(ctx context.Context, args struct {
	AllocationIDs   []string
	ProtocolNetwork string
}) (int32, error) {
	networkID, err := ident.ResolveChainID(args.ProtocolNetwork)
	if err != nil {
		return 0, err
	}
	n, err := r.disputes.Delete(ctx, networkID, args.AllocationIDs)
	return int32(n), err
}

// --- allocations ---

type allocationFilterInput struct {
	Status          *string
	Deployment      *string
	ProtocolNetwork string
}

func (r *Resolver) Allocations(ctx context.Context, args struct{ Filter allocationFilterInput }) ([]*allocationResolver, error) {
	b, err := r.bundle(args.Filter.ProtocolNetwork)
	if err != nil {
		return nil, err
	}
	status := models.AllocationStatusActive
	if args.Filter.Status != nil {
		parsed, err := parseAllocationStatus(*args.Filter.Status)
		if err != nil {
			return nil, err
		}
		status = parsed
	}
	list, err := b.Monitor.Allocations(ctx, status)
	if err != nil {
		return nil, err
	}
	out := []*allocationResolver{}
	for _, a := range list {
		if args.Filter.Deployment != nil && a.SubgraphDeployment.Base58() != *args.Filter.Deployment {
			continue
		}
		out = append(out, &allocationResolver{a})
	}
	return out, nil
}

func (r *Resolver) IndexerAllocations(ctx context.Context, args struct{ ProtocolNetwork string }) ([]*allocationResolver, error) {
	b, err := r.bundle(args.ProtocolNetwork)
	if err != nil {
		return nil, err
	}
	list, err := b.Monitor.Allocations(ctx, models.AllocationStatusActive)
	if err != nil {
		return nil, err
	}
	out := make([]*allocationResolver, 0, len(list))
	for _, a := range list {
		out = append(out, &allocationResolver{a})
	}
	return out, nil
}

func (r *Resolver) CreateAllocation(ctx context.Context, args struct {
	Deployment      string
	Amount          string
	ProtocolNetwork string
}) (*allocationResultResolver, error) {
	b, err := r.bundle(args.ProtocolNetwork)
	if err != nil {
		return nil, err
	}
	amount := args.Amount
	return r.executeSync(ctx, b, &models.Action{
		Type:            models.ActionTypeAllocate,
		DeploymentID:    args.Deployment,
		Amount:          &amount,
		Status:          models.ActionStatusApproved,
		Source:          "operator",
		Reason:          "manual allocation",
		ProtocolNetwork: b.Identifier,
	})
}

func (r *Resolver) CloseAllocation(ctx context.Context, args struct {
	Allocation      string
	Poi             *string
	Force           *bool
	ProtocolNetwork string
}) (*allocationResultResolver, error) {
	b, err := r.bundle(args.ProtocolNetwork)
	if err != nil {
		return nil, err
	}
	allocation, err := r.lookupActive(ctx, b, args.Allocation)
	if err != nil {
		return nil, err
	}
	id := args.Allocation
	action := &models.Action{
		Type:            models.ActionTypeUnallocate,
		DeploymentID:    allocation.SubgraphDeployment.Base58(),
		AllocationID:    &id,
		POI:             args.Poi,
		Status:          models.ActionStatusApproved,
		Source:          "operator",
		Reason:          "manual unallocation",
		ProtocolNetwork: b.Identifier,
	}
	if args.Force != nil {
		action.Force = *args.Force
	}
	return r.executeSync(ctx, b, action)
}

func (r *Resolver) ReallocateAllocation(ctx context.Context, args struct {
	Allocation      string
	Poi             *string
	Amount          string
	Force           *bool
	ProtocolNetwork string
}) (*allocationResultResolver, error) {
	b, err := r.bundle(args.ProtocolNetwork)
	if err != nil {
		return nil, err
	}
	allocation, err := r.lookupActive(ctx, b, args.Allocation)
	if err != nil {
		return nil, err
	}
	id := args.Allocation
	amount := args.Amount
	action := &models.Action{
		Type:            models.ActionTypeReallocate,
		DeploymentID:    allocation.SubgraphDeployment.Base58(),
		AllocationID:    &id,
		Amount:          &amount,
		POI:             args.Poi,
		Status:          models.ActionStatusApproved,
		Source:          "operator",
		Reason:          "manual reallocation",
		ProtocolNetwork: b.Identifier,
	}
	if args.Force != nil {
		action.Force = *args.Force
	}
	return r.executeSync(ctx, b, action)
}

func (r *Resolver) lookupActive(ctx context.Context, b *NetworkBundle, id string) (*models.Allocation, error) {
	allocation, err := b.Monitor.Allocation(ctx, parseAddress(id))
	if err != nil {
		return nil, err
	}
	if allocation == nil || allocation.Status != models.AllocationStatusActive {
		return nil, ierrors.Newf(ierrors.CodeAllocationNotActive,
			"An active allocation does not exist with id = '%s'", id)
	}
	return allocation, nil
}

// executeSync queues one approved action and drives it through a batch
// of its own.
func (r *Resolver) executeSync(ctx context.Context, b *NetworkBundle, action *models.Action) (*allocationResultResolver, error) {
	stored, err := b.Queue.Queue(ctx, []*models.Action{action})
	if err != nil {
		return nil, err
	}
	results, err := b.Executor.Execute(ctx, stored)
	if err != nil {
		return nil, err
	}
	if len(results) != 1 {
		return nil, ierrors.Newf(ierrors.CodeUnknown, "expected one batch result, got %d", len(results))
	}
	return &allocationResultResolver{results[0]}, nil
}

// --- status surface ---

func (r *Resolver) IndexerRegistration(ctx context.Context, args struct{ ProtocolNetwork string }) (*registrationResolver, error) {
	b, err := r.bundle(args.ProtocolNetwork)
	if err != nil {
		return nil, err
	}
	return &registrationResolver{bundle: b}, nil
}

func (r *Resolver) IndexerEndpoints(ctx context.Context, args struct{ ProtocolNetwork *string }) ([]*endpointResolver, error) {
	var bundles []*NetworkBundle
	if args.ProtocolNetwork != nil {
		b, err := r.bundle(*args.ProtocolNetwork)
		if err != nil {
			return nil, err
		}
		bundles = append(bundles, b)
	} else {
		for _, id := range r.order {
			bundles = append(bundles, r.networks[id])
		}
	}
	out := []*endpointResolver{}
	for _, b := range bundles {
		for _, e := range b.Endpoints {
			out = append(out, &endpointResolver{endpoint: e, network: b.Identifier})
		}
	}
	return out, nil
}

func (r *Resolver) IndexerDeployments(ctx context.Context) ([]*deploymentStatusResolver, error) {
	out := []*deploymentStatusResolver{}
	for _, id := range r.order {
		b := r.networks[id]
		local, err := b.Monitor.LocalDeployments(ctx)
		if err != nil {
			return nil, err
		}
		for _, d := range local {
			out = append(out, &deploymentStatusResolver{d})
		}
		// Every network shares the same graph node; one listing covers
		// all of them.
		break
	}
	return out, nil
}

// --- helpers ---

func parseActionIDs(ids []graphql.ID) ([]int64, error) {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		v, err := strconv.ParseInt(string(id), 10, 64)
		if err != nil {
			return nil, ierrors.Newf(ierrors.CodeInvalidIdentifier, "invalid action id '%s'", string(id))
		}
		out = append(out, v)
	}
	return out, nil
}

func wrapActions(list []*models.Action) []*actionResolver {
	out := make([]*actionResolver, 0, len(list))
	for _, a := range list {
		out = append(out, &actionResolver{a})
	}
	return out
}

func parseAllocationStatus(s string) (models.AllocationStatus, error) {
	switch s {
	case "active", "Active":
		return models.AllocationStatusActive, nil
	case "closed", "Closed":
		return models.AllocationStatusClosed, nil
	case "finalized", "Finalized":
		return models.AllocationStatusFinalized, nil
	case "claimed", "Claimed":
		return models.AllocationStatusClaimed, nil
	default:
		return models.AllocationStatusNull, ierrors.Newf(ierrors.CodeInvalidIdentifier, "unknown allocation status '%s'", s)
	}
}

func intPtr(v *int32) *int {
	if v == nil {
		return nil
	}
	i := int(*v)
	return &i
}
