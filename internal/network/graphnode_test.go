package network

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bidon15/indexer-agent/internal/models"
	ierrors "github.com/Bidon15/indexer-agent/internal/pkg/errors"
)

const testCID = "Qmew9PZUJCoDzXqqU6vGyTENTKHrrN4dy5h94kertfudqy"

func adminServer(t *testing.T, response string) *GraphNode {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return NewGraphNode(srv.URL, srv.URL, "default", 5*time.Second)
}

func testDeployment(t *testing.T) models.DeploymentID {
	t.Helper()
	id, err := models.DeploymentIDFromBase58(testCID)
	require.NoError(t, err)
	return id
}

func TestCreateSuccess(t *testing.T) {
	g := adminServer(t, `{"jsonrpc":"2.0","id":1,"result":null}`)
	require.NoError(t, g.Create(context.Background(), testDeployment(t)))
}

func TestCreateAlreadyExistsIsIdempotent(t *testing.T) {
	g := adminServer(t, `{"jsonrpc":"2.0","id":1,"error":{"code":500,"message":"subgraph already exists"}}`)
	require.NoError(t, g.Create(context.Background(), testDeployment(t)))
}

func TestCreatePropagatesOtherFailures(t *testing.T) {
	g := adminServer(t, `{"jsonrpc":"2.0","id":1,"error":{"code":500,"message":"store unavailable"}}`)
	err := g.Create(context.Background(), testDeployment(t))
	require.Error(t, err)
	assert.True(t, ierrors.Is(err, ierrors.CodeGraphNodeError))
	assert.Contains(t, err.Error(), "store unavailable")
}

func TestDeployPropagatesFailures(t *testing.T) {
	g := adminServer(t, `{"jsonrpc":"2.0","id":1,"error":{"code":500,"message":"ipfs hash not found"}}`)
	err := g.Deploy(context.Background(), testDeployment(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ipfs hash not found")
}
