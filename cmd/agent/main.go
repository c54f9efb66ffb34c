// Package main is the entry point for the indexer agent.
package main

import (
	"context"
	"log"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/Bidon15/indexer-agent/internal/actions"
	"github.com/Bidon15/indexer-agent/internal/allocations"
	"github.com/Bidon15/indexer-agent/internal/api"
	"github.com/Bidon15/indexer-agent/internal/config"
	"github.com/Bidon15/indexer-agent/internal/contracts"
	"github.com/Bidon15/indexer-agent/internal/database"
	"github.com/Bidon15/indexer-agent/internal/executor"
	"github.com/Bidon15/indexer-agent/internal/ident"
	"github.com/Bidon15/indexer-agent/internal/models"
	"github.com/Bidon15/indexer-agent/internal/multinetwork"
	"github.com/Bidon15/indexer-agent/internal/network"
	"github.com/Bidon15/indexer-agent/internal/reconciler"
	"github.com/Bidon15/indexer-agent/internal/repository"
	"github.com/Bidon15/indexer-agent/internal/rules"
)

// networkSide is one protocol network's read surface.
type networkSide struct {
	id      string
	monitor network.Monitor
}

func (n *networkSide) Identifier() string { return n.id }

// operatorSide is the acting half of one network.
type operatorSide struct {
	id         string
	reconciler *reconciler.Reconciler
}

func (o *operatorSide) Identifier() string { return o.id }

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if len(cfg.Networks) == 0 {
		log.Fatalf("No protocol networks configured")
	}

	logger.Info("Starting indexer agent",
		slog.String("environment", cfg.Server.Environment),
		slog.Int("port", cfg.Server.Port),
		slog.Int("networks", len(cfg.Networks)),
	)

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL")

	if err := db.RunMigrations(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("Database migrations completed")

	var redis *database.Redis
	if cfg.Redis.Enabled {
		redis, err = database.NewRedis(cfg.Redis)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redis.Close()
		logger.Info("Connected to Redis")
	}

	// Default allocation amounts seed each network's global rule.
	defaultAmounts := make(map[string]string, len(cfg.Networks))
	for _, nc := range cfg.Networks {
		id, err := ident.ResolveChainID(nc.Identifier)
		if err != nil {
			log.Fatalf("Invalid network identifier %q: %v", nc.Identifier, err)
		}
		amount := nc.DefaultAllocationAmount
		if amount == "" {
			amount = "0"
		}
		defaultAmounts[id] = amount
	}

	pool := db.Pool()
	ruleRepo := repository.NewRuleRepository(pool, func(protocolNetwork string) *models.IndexingRule {
		amount, ok := defaultAmounts[protocolNetwork]
		if !ok {
			amount = "0"
		}
		return models.DefaultGlobalRule(protocolNetwork, amount)
	})
	actionRepo := repository.NewActionRepository(pool)
	costRepo := repository.NewCostModelRepository(pool)
	disputeRepo := repository.NewDisputeRepository(pool)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Actions stuck mid-flight from a previous run cannot make progress.
	if n, err := actionRepo.MarkStaleFailed(ctx, cfg.Reconciler.StaleActionTimeout); err != nil {
		log.Fatalf("Failed to recover stale actions: %v", err)
	} else if n > 0 {
		logger.Warn("recovered stale actions from previous run", slog.Int("count", n))
	}

	graphNode := network.NewGraphNode(
		cfg.GraphNode.AdminEndpoint,
		cfg.GraphNode.StatusEndpoint,
		cfg.GraphNode.DefaultNodeID,
		cfg.GraphNode.DeployTimeout,
	)
	engine := rules.NewEngine(ruleRepo, logger)

	var (
		nets     []*networkSide
		ops      []*operatorSide
		bundles  []*api.NetworkBundle
		recByNet = map[string]*reconciler.Reconciler{}
	)
	for _, nc := range cfg.Networks {
		networkID := ident.MustChainID(nc.Identifier)
		netLogger := logger.With(slog.String("network", networkID))

		if err := ruleRepo.EnsureGlobal(ctx, networkID); err != nil {
			log.Fatalf("Failed to install global rule for %s: %v", networkID, err)
		}

		client, err := ethclient.Dial(nc.RPCEndpoint)
		if err != nil {
			log.Fatalf("Failed to dial %s RPC: %v", networkID, err)
		}
		bundle, err := contracts.NewBundle(
			common.HexToAddress(nc.StakingContract),
			common.HexToAddress(nc.EpochManagerContract),
		)
		if err != nil {
			log.Fatalf("Failed to parse contract ABIs: %v", err)
		}

		indexer := common.HexToAddress(nc.IndexerAddress)
		monitor := network.NewMonitor(network.MonitorConfig{
			Chain:     client,
			Contracts: bundle,
			Subgraph:  network.NewSubgraphClient(nc.SubgraphEndpoint, nil),
			GraphNode: graphNode,
			Indexer:   indexer,
			Logger:    netLogger,
		})
		monitor = network.WithRedisCache(monitor, redis, networkID, netLogger)

		wallet, err := allocations.NewWallet(nc.Mnemonic)
		if err != nil {
			log.Fatalf("Invalid mnemonic for %s: %v", networkID, err)
		}
		operatorKey, err := wallet.OperatorKey()
		if err != nil {
			log.Fatalf("Failed to derive operator key for %s: %v", networkID, err)
		}

		manager := allocations.NewManager(allocations.ManagerConfig{
			Monitor:         monitor,
			Contracts:       bundle,
			Engine:          engine,
			RuleRepo:        ruleRepo,
			Collector:       allocations.NewLogCollector(netLogger),
			Wallet:          wallet,
			Indexer:         indexer,
			ProtocolNetwork: networkID,
			Logger:          netLogger,
		})
		queue := actions.NewQueue(actionRepo, monitor, cfg.Reconciler.ActionThrottle, netLogger)
		exec := executor.New(executor.Config{
			Manager:         manager,
			Contracts:       bundle,
			TxManager:       executor.NewChainTxManager(client, operatorKey, chainNumericID(networkID)),
			Actions:         actionRepo,
			ProtocolNetwork: networkID,
			Logger:          netLogger,
		})
		rec := reconciler.New(reconciler.Config{
			Monitor:         monitor,
			Engine:          engine,
			Queue:           queue,
			Executor:        exec,
			CostModels:      costRepo,
			ProtocolNetwork: networkID,
			Interval:        cfg.Reconciler.Interval,
			Logger:          netLogger,
		})
		recByNet[networkID] = rec

		nets = append(nets, &networkSide{id: networkID, monitor: monitor})
		ops = append(ops, &operatorSide{id: networkID, reconciler: rec})
		bundles = append(bundles, &api.NetworkBundle{
			Identifier:     networkID,
			IndexerAddress: indexer.Hex(),
			Monitor:        monitor,
			Engine:         engine,
			Rules:          ruleRepo,
			Queue:          queue,
			Manager:        manager,
			Executor:       exec,
			Endpoints: []api.Endpoint{
				{Name: "service", URL: cfg.GraphNode.QueryEndpoint},
				{Name: "status", URL: cfg.GraphNode.StatusEndpoint},
			},
		})
	}

	// Construction-time validation of the (network, operator) pairing.
	multi, err := multinetwork.New(nets, ops)
	if err != nil {
		log.Fatalf("Network/operator configuration mismatch: %v", err)
	}

	// One-shot migration of deployments parked on the removed node.
	for _, id := range multi.Identifiers() {
		if err := recByNet[id].MigrateVirtuallyPaused(ctx); err != nil {
			logger.Warn("virtually paused migration failed",
				slog.String("network", id), slog.String("err", err.Error()))
		}
	}

	// Cost model change feed.
	costChanges, err := db.ListenCostModels(ctx, logger)
	if err != nil {
		log.Fatalf("Failed to listen for cost model changes: %v", err)
	}
	go func() {
		for change := range costChanges {
			logger.Info("cost model changed",
				slog.String("op", change.Op),
				slog.String("deployment", change.Deployment),
			)
		}
	}()

	resolver := api.NewResolver(bundles, costRepo, disputeRepo, actionRepo, logger)
	srv, err := api.NewServer(cfg.Server, resolver, db, logger)
	if err != nil {
		log.Fatalf("Failed to build management API: %v", err)
	}

	go func() {
		logger.Info("Management API listening", slog.String("addr", srv.Addr()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	go func() {
		if err := multi.MapOperators(ctx, func(ctx context.Context, o *operatorSide) error {
			o.reconciler.Run(ctx)
			return nil
		}); err != nil {
			logger.Error("reconciler fan-out stopped", slog.String("err", err.Error()))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("Shutting down", slog.String("signal", sig.String()))
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server shutdown error: %v", err)
	}
	logger.Info("Agent stopped gracefully")
}

// chainNumericID extracts the numeric chain id from an eip155 CAIP-2
// identifier.
func chainNumericID(caip2 string) *big.Int {
	n, err := strconv.ParseInt(strings.TrimPrefix(caip2, "eip155:"), 10, 64)
	if err != nil {
		return big.NewInt(1)
	}
	return big.NewInt(n)
}
