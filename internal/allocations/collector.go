package allocations

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Bidon15/indexer-agent/internal/models"
)

// LogCollector records allocation lifecycle notifications in the log.
// It stands in until an external receipt service is configured; the
// lifecycle hooks still fire so the rule back-writes stay exercised.
type LogCollector struct {
	logger *slog.Logger
}

var _ ReceiptCollector = (*LogCollector)(nil)

// NewLogCollector creates a collector that only logs.
func NewLogCollector(logger *slog.Logger) *LogCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogCollector{logger: logger}
}

func (c *LogCollector) RememberAllocations(ctx context.Context, ids []common.Address) error {
	hexes := make([]string, len(ids))
	for i, id := range ids {
		hexes[i] = id.Hex()
	}
	c.logger.Info("tracking new allocations for receipt collection",
		slog.Any("allocations", hexes))
	return nil
}

func (c *LogCollector) CollectReceipts(ctx context.Context, allocation *models.Allocation) error {
	c.logger.Info("closed allocation entered the rebate window",
		slog.String("allocation", allocation.ID.Hex()),
		slog.String("deployment", allocation.SubgraphDeployment.Base58()))
	return nil
}
