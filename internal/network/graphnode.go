package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Bidon15/indexer-agent/internal/models"
	ierrors "github.com/Bidon15/indexer-agent/internal/pkg/errors"
)

// RemovedNodeID is the sentinel index node that both removes a
// deployment from indexing and, on older protocol versions, marks it
// "virtually paused".
const RemovedNodeID = "removed"

// GraphNode talks to the local graph node's admin JSON-RPC and status
// endpoints. Deployment requests carry a hard timeout: the admin
// endpoint can hang while the node catches up on a large subgraph.
type GraphNode struct {
	adminEndpoint  string
	statusEndpoint string
	nodeID         string
	deployTimeout  time.Duration
	client         *http.Client
}

// NewGraphNode creates a graph node client. nodeID is the index node
// deployments are assigned to.
func NewGraphNode(adminEndpoint, statusEndpoint, nodeID string, deployTimeout time.Duration) *GraphNode {
	if deployTimeout <= 0 {
		deployTimeout = 120 * time.Second
	}
	return &GraphNode{
		adminEndpoint:  adminEndpoint,
		statusEndpoint: statusEndpoint,
		nodeID:         nodeID,
		deployTimeout:  deployTimeout,
		client:         &http.Client{},
	}
}

type jsonrpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type jsonrpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (g *GraphNode) call(ctx context.Context, method string, params any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, g.deployTimeout)
	defer cancel()

	body, err := json.Marshal(jsonrpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.adminEndpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return ierrors.Wrap(ierrors.CodeGraphNodeError, err, "graph node %s failed", method)
	}
	defer resp.Body.Close()

	var rpcResp jsonrpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return ierrors.Wrap(ierrors.CodeGraphNodeError, err, "graph node %s response malformed", method)
	}
	if rpcResp.Error != nil {
		return ierrors.Newf(ierrors.CodeGraphNodeError, "graph node %s failed: %s", method, rpcResp.Error.Message)
	}
	if out != nil && len(rpcResp.Result) > 0 {
		return json.Unmarshal(rpcResp.Result, out)
	}
	return nil
}

// subgraphName derives the local subgraph name for a deployment.
func subgraphName(id models.DeploymentID) string {
	return "indexer-agent/" + id.Base58()
}

// Create registers the subgraph name. Creating an existing name is not
// an error; every other failure propagates.
func (g *GraphNode) Create(ctx context.Context, id models.DeploymentID) error {
	err := g.call(ctx, "subgraph_create", map[string]any{"name": subgraphName(id)}, nil)
	if err != nil && strings.Contains(err.Error(), "already exists") {
		return nil
	}
	return err
}

// Deploy deploys the subgraph and assigns it to the configured node.
func (g *GraphNode) Deploy(ctx context.Context, id models.DeploymentID) error {
	return g.call(ctx, "subgraph_deploy", map[string]any{
		"name":      subgraphName(id),
		"ipfs_hash": id.Base58(),
		"node_id":   g.nodeID,
	}, nil)
}

// Reassign moves a deployment to a different index node. Passing
// RemovedNodeID removes the deployment from indexing.
func (g *GraphNode) Reassign(ctx context.Context, id models.DeploymentID, nodeID string) error {
	return g.call(ctx, "subgraph_reassign", map[string]any{
		"node_id":   nodeID,
		"ipfs_hash": id.Base58(),
	}, nil)
}

// Pause pauses indexing for a deployment.
func (g *GraphNode) Pause(ctx context.Context, id models.DeploymentID) error {
	return g.call(ctx, "subgraph_pause", map[string]any{
		"deployment": id.Base58(),
	}, nil)
}

// statusQuery reads the indexing status surface.
const statusQuery = `
	query indexingStatuses {
		indexingStatuses {
			subgraphDeployment: subgraph
			synced
			health
			paused
			node
		}
	}`

// LocalDeployments lists the deployments the graph node knows about.
func (g *GraphNode) LocalDeployments(ctx context.Context) ([]LocalDeployment, error) {
	var result struct {
		IndexingStatuses []struct {
			SubgraphDeployment string `json:"subgraphDeployment"`
			Synced             bool   `json:"synced"`
			Health             string `json:"health"`
			Paused             *bool  `json:"paused"`
			Node               string `json:"node"`
		} `json:"indexingStatuses"`
	}
	if err := g.status(ctx, statusQuery, nil, &result); err != nil {
		return nil, err
	}
	deployments := make([]LocalDeployment, 0, len(result.IndexingStatuses))
	for _, s := range result.IndexingStatuses {
		id, err := models.DeploymentIDFromBase58(s.SubgraphDeployment)
		if err != nil {
			continue
		}
		d := LocalDeployment{ID: id, NodeID: s.Node, Synced: s.Synced, Health: s.Health}
		if s.Paused != nil {
			d.Paused = *s.Paused
		}
		deployments = append(deployments, d)
	}
	return deployments, nil
}

// proofOfIndexingQuery asks the graph node for the canonical POI of a
// deployment at a block.
const proofOfIndexingQuery = `
	query proofOfIndexing($subgraph: String!, $blockNumber: Int!, $blockHash: String!, $indexer: String!) {
		proofOfIndexing(
			subgraph: $subgraph
			blockNumber: $blockNumber
			blockHash: $blockHash
			indexer: $indexer
		)
	}`

// ProofOfIndexing returns the POI for a deployment at a block, or nil
// when the graph node cannot produce one.
func (g *GraphNode) ProofOfIndexing(ctx context.Context, id models.DeploymentID, blockNumber int64, blockHash, indexer string) (*string, error) {
	var result struct {
		ProofOfIndexing *string `json:"proofOfIndexing"`
	}
	err := g.status(ctx, proofOfIndexingQuery, map[string]any{
		"subgraph":    id.Base58(),
		"blockNumber": blockNumber,
		"blockHash":   blockHash,
		"indexer":     indexer,
	}, &result)
	if err != nil {
		return nil, err
	}
	return result.ProofOfIndexing, nil
}

func (g *GraphNode) status(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.statusEndpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return ierrors.Wrap(ierrors.CodeGraphNodeError, err, "graph node status query failed")
	}
	defer resp.Body.Close()

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphqlError  `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return ierrors.Wrap(ierrors.CodeGraphNodeError, err, "graph node status response malformed")
	}
	if len(envelope.Errors) > 0 {
		return ierrors.Newf(ierrors.CodeGraphNodeError, "graph node status query failed: %s", envelope.Errors[0].Message)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("graph node status decode: %w", err)
	}
	return nil
}
