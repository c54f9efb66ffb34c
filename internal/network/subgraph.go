package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Bidon15/indexer-agent/internal/models"
	ierrors "github.com/Bidon15/indexer-agent/internal/pkg/errors"
)

// subgraphPageSize is the protocol subgraph's page size. A page shorter
// than this means there are no further results; a full page means there
// may be more.
const subgraphPageSize = 1000

// SubgraphClient queries the protocol indexing subgraph.
type SubgraphClient struct {
	endpoint string
	client   *http.Client
}

// NewSubgraphClient creates a client for the protocol subgraph endpoint.
func NewSubgraphClient(endpoint string, client *http.Client) *SubgraphClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &SubgraphClient{endpoint: endpoint, client: client}
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
}

// Query posts a GraphQL query and decodes the data payload into out.
func (c *SubgraphClient) Query(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return ierrors.Wrap(ierrors.CodeSubgraphQuery, err, "subgraph query failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ierrors.Newf(ierrors.CodeSubgraphQuery, "subgraph query failed: status %d", resp.StatusCode)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphqlError  `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return ierrors.Wrap(ierrors.CodeSubgraphQuery, err, "subgraph response malformed")
	}
	if len(envelope.Errors) > 0 {
		return ierrors.Newf(ierrors.CodeSubgraphQuery, "subgraph query failed: %s", envelope.Errors[0].Message)
	}
	return json.Unmarshal(envelope.Data, out)
}

type subgraphAllocation struct {
	ID                 string  `json:"id"`
	Status             string  `json:"status"`
	AllocatedTokens    string  `json:"allocatedTokens"`
	CreatedAtEpoch     int     `json:"createdAtEpoch"`
	ClosedAtEpoch      *int    `json:"closedAtEpoch"`
	POI                *string `json:"poi"`
	SubgraphDeployment struct {
		IpfsHash string `json:"ipfsHash"`
	} `json:"subgraphDeployment"`
	Indexer struct {
		ID string `json:"id"`
	} `json:"indexer"`
}

const allocationsQuery = `
	query allocations($indexer: String!, $status: AllocationStatus!, $lastId: String!) {
		allocations(
			where: { indexer: $indexer, status: $status, id_gt: $lastId }
			orderBy: id
			orderDirection: asc
			first: 1000
		) {
			id
			status
			allocatedTokens
			createdAtEpoch
			closedAtEpoch
			poi
			subgraphDeployment { ipfsHash }
			indexer { id }
		}
	}`

// Allocations pages through the indexer's allocations with the given
// status, following id > lastId until a short page is returned.
func (c *SubgraphClient) Allocations(ctx context.Context, indexer common.Address, status models.AllocationStatus) ([]*models.Allocation, error) {
	var (
		result []*models.Allocation
		lastID = ""
	)
	statusName := titleCase(status.String())
	for {
		var page struct {
			Allocations []subgraphAllocation `json:"allocations"`
		}
		err := c.Query(ctx, allocationsQuery, map[string]any{
			"indexer": strings.ToLower(indexer.Hex()),
			"status":  statusName,
			"lastId":  lastID,
		}, &page)
		if err != nil {
			return nil, err
		}
		for i := range page.Allocations {
			alloc, err := convertAllocation(&page.Allocations[i])
			if err != nil {
				return nil, err
			}
			result = append(result, alloc)
		}
		if len(page.Allocations) < subgraphPageSize {
			return result, nil
		}
		lastID = page.Allocations[len(page.Allocations)-1].ID
	}
}

const allocationQuery = `
	query allocation($id: String!) {
		allocation(id: $id) {
			id
			status
			allocatedTokens
			createdAtEpoch
			closedAtEpoch
			poi
			subgraphDeployment { ipfsHash }
			indexer { id }
		}
	}`

// Allocation returns a single allocation by id, or nil when unknown.
func (c *SubgraphClient) Allocation(ctx context.Context, id common.Address) (*models.Allocation, error) {
	var result struct {
		Allocation *subgraphAllocation `json:"allocation"`
	}
	err := c.Query(ctx, allocationQuery, map[string]any{"id": strings.ToLower(id.Hex())}, &result)
	if err != nil {
		return nil, err
	}
	if result.Allocation == nil {
		return nil, nil
	}
	return convertAllocation(result.Allocation)
}

const deploymentQuery = `
	query deployment($id: String!) {
		subgraphDeployments(where: { ipfsHash: $id }, first: 1) {
			ipfsHash
			deniedAt
			stakedTokens
			signalledTokens
			queryFeesAmount
		}
	}`

// Deployment returns the subgraph's view of a deployment, or nil when
// the deployment has never been published to the network.
func (c *SubgraphClient) Deployment(ctx context.Context, id models.DeploymentID) (*models.SubgraphDeployment, error) {
	var result struct {
		SubgraphDeployments []struct {
			IpfsHash        string `json:"ipfsHash"`
			DeniedAt        int    `json:"deniedAt"`
			StakedTokens    string `json:"stakedTokens"`
			SignalledTokens string `json:"signalledTokens"`
			QueryFeesAmount string `json:"queryFeesAmount"`
		} `json:"subgraphDeployments"`
	}
	err := c.Query(ctx, deploymentQuery, map[string]any{"id": id.Base58()}, &result)
	if err != nil {
		return nil, err
	}
	if len(result.SubgraphDeployments) == 0 {
		return nil, nil
	}
	d := result.SubgraphDeployments[0]
	parsed, err := models.DeploymentIDFromBase58(d.IpfsHash)
	if err != nil {
		return nil, err
	}
	return &models.SubgraphDeployment{
		ID:              parsed,
		DeniedAt:        d.DeniedAt,
		StakedTokens:    mustBig(d.StakedTokens),
		SignalledTokens: mustBig(d.SignalledTokens),
		QueryFeesAmount: mustBig(d.QueryFeesAmount),
	}, nil
}

func convertAllocation(a *subgraphAllocation) (*models.Allocation, error) {
	deployment, err := models.DeploymentIDFromBase58(a.SubgraphDeployment.IpfsHash)
	if err != nil {
		return nil, fmt.Errorf("allocation %s: %w", a.ID, err)
	}
	alloc := &models.Allocation{
		ID:                 common.HexToAddress(a.ID),
		Status:             parseAllocationStatus(a.Status),
		SubgraphDeployment: deployment,
		Indexer:            common.HexToAddress(a.Indexer.ID),
		AllocatedTokens:    mustBig(a.AllocatedTokens),
		CreatedAtEpoch:     a.CreatedAtEpoch,
	}
	if a.ClosedAtEpoch != nil {
		alloc.ClosedAtEpoch = *a.ClosedAtEpoch
	}
	if a.POI != nil {
		h := common.HexToHash(*a.POI)
		alloc.POI = &h
	}
	return alloc, nil
}

func parseAllocationStatus(s string) models.AllocationStatus {
	switch strings.ToLower(s) {
	case "active":
		return models.AllocationStatusActive
	case "closed":
		return models.AllocationStatusClosed
	case "finalized":
		return models.AllocationStatusFinalized
	case "claimed":
		return models.AllocationStatusClaimed
	default:
		return models.AllocationStatusNull
	}
}

// titleCase capitalises the subgraph's enum values (Active, Closed, ...).
func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func mustBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return big.NewInt(0)
	}
	return v
}
