package network

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"time"

	"github.com/Bidon15/indexer-agent/internal/database"
	"github.com/Bidon15/indexer-agent/internal/models"
)

// deploymentCacheTTL bounds staleness between reconciler passes.
const deploymentCacheTTL = 60 * time.Second

// cachedMonitor decorates a Monitor with a Redis cache for deployment
// lookups, the read the queue and the reconciler repeat most. Cache
// misses and Redis failures fall through to the inner monitor.
type cachedMonitor struct {
	Monitor
	redis   *database.Redis
	network string
	logger  *slog.Logger
}

// cachedDeployment is the Redis representation of a deployment read.
// Found distinguishes a cached "not published" answer from a miss.
type cachedDeployment struct {
	Found      bool                `json:"found"`
	Deployment *subgraphDeployment `json:"deployment,omitempty"`
}

type subgraphDeployment struct {
	ID              models.DeploymentID `json:"id"`
	DeniedAt        int                 `json:"deniedAt"`
	StakedTokens    string              `json:"stakedTokens"`
	SignalledTokens string              `json:"signalledTokens"`
	QueryFeesAmount string              `json:"queryFeesAmount"`
}

// WithRedisCache wraps a monitor with a per-network Redis cache. A nil
// redis returns the monitor unchanged.
func WithRedisCache(inner Monitor, redis *database.Redis, protocolNetwork string, logger *slog.Logger) Monitor {
	if redis == nil {
		return inner
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &cachedMonitor{Monitor: inner, redis: redis, network: protocolNetwork, logger: logger}
}

func (c *cachedMonitor) key(id models.DeploymentID) string {
	return "monitor:" + c.network + ":deployment:" + id.Base58()
}

func (c *cachedMonitor) Deployment(ctx context.Context, id models.DeploymentID) (*models.SubgraphDeployment, error) {
	if raw, err := c.redis.Get(ctx, c.key(id)); err == nil && raw != "" {
		var cached cachedDeployment
		if err := json.Unmarshal([]byte(raw), &cached); err == nil {
			return cached.toModel(), nil
		}
	}

	deployment, err := c.Monitor.Deployment(ctx, id)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(fromModel(deployment)); err == nil {
		if err := c.redis.Set(ctx, c.key(id), string(raw), deploymentCacheTTL); err != nil {
			c.logger.Debug("deployment cache write failed", slog.String("err", err.Error()))
		}
	}
	return deployment, nil
}

// InvalidateCache drops both the in-memory and the Redis layer.
func (c *cachedMonitor) InvalidateCache(ctx context.Context) error {
	if err := c.redis.DeletePrefix(ctx, "monitor:"+c.network+":"); err != nil {
		c.logger.Debug("redis cache invalidation failed", slog.String("err", err.Error()))
	}
	return c.Monitor.InvalidateCache(ctx)
}

func fromModel(d *models.SubgraphDeployment) cachedDeployment {
	if d == nil {
		return cachedDeployment{Found: false}
	}
	return cachedDeployment{
		Found: true,
		Deployment: &subgraphDeployment{
			ID:              d.ID,
			DeniedAt:        d.DeniedAt,
			StakedTokens:    bigString(d.StakedTokens),
			SignalledTokens: bigString(d.SignalledTokens),
			QueryFeesAmount: bigString(d.QueryFeesAmount),
		},
	}
}

func (c cachedDeployment) toModel() *models.SubgraphDeployment {
	if !c.Found || c.Deployment == nil {
		return nil
	}
	return &models.SubgraphDeployment{
		ID:              c.Deployment.ID,
		DeniedAt:        c.Deployment.DeniedAt,
		StakedTokens:    bigFromString(c.Deployment.StakedTokens),
		SignalledTokens: bigFromString(c.Deployment.SignalledTokens),
		QueryFeesAmount: bigFromString(c.Deployment.QueryFeesAmount),
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func bigFromString(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return big.NewInt(0)
	}
	return v
}
