package allocations

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bidon15/indexer-agent/internal/models"
)

func TestLogCollectorRecordsLifecycle(t *testing.T) {
	var buf bytes.Buffer
	c := NewLogCollector(slog.New(slog.NewJSONHandler(&buf, nil)))

	id := common.HexToAddress("0x8f63930129e585c69482b56390a09b6b176f4a4c")
	require.NoError(t, c.RememberAllocations(context.Background(), []common.Address{id}))
	require.NoError(t, c.CollectReceipts(context.Background(), &models.Allocation{
		ID:     id,
		Status: models.AllocationStatusClosed,
	}))
	assert.Contains(t, buf.String(), id.Hex())
}
