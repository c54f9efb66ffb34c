package api

import (
	"context"
	"testing"
	"time"

	graphql "github.com/graph-gophers/graphql-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Bidon15/indexer-agent/internal/models"
	ierrors "github.com/Bidon15/indexer-agent/internal/pkg/errors"
	"github.com/Bidon15/indexer-agent/internal/repository"
)

// MockActionRepository is a mock implementation of repository.ActionRepository.
type MockActionRepository struct {
	mock.Mock
}

func (m *MockActionRepository) Upsert(ctx context.Context, action *models.Action) (*models.Action, error) {
	args := m.Called(ctx, action)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Action), args.Error(1)
}

func (m *MockActionRepository) GetByIDs(ctx context.Context, ids []int64) ([]*models.Action, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Action), args.Error(1)
}

func (m *MockActionRepository) Find(ctx context.Context, filter models.ActionFilter, orderBy *models.ActionOrderBy, direction *models.OrderDirection) ([]*models.Action, error) {
	args := m.Called(ctx, filter, orderBy, direction)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Action), args.Error(1)
}

func (m *MockActionRepository) UpdateStatus(ctx context.Context, ids []int64, status models.ActionStatus, failureReason, transaction *string) ([]*models.Action, error) {
	args := m.Called(ctx, ids, status, failureReason, transaction)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Action), args.Error(1)
}

func (m *MockActionRepository) Delete(ctx context.Context, ids []int64) (int, error) {
	args := m.Called(ctx, ids)
	return args.Int(0), args.Error(1)
}

func (m *MockActionRepository) HasRecentTerminal(ctx context.Context, deploymentID, protocolNetwork string, actionType models.ActionType, window time.Duration) (bool, error) {
	args := m.Called(ctx, deploymentID, protocolNetwork, actionType, window)
	return args.Bool(0), args.Error(1)
}

func (m *MockActionRepository) MarkStaleFailed(ctx context.Context, timeout time.Duration) (int, error) {
	args := m.Called(ctx, timeout)
	return args.Int(0), args.Error(1)
}

// MockCostModelRepository is a mock implementation of repository.CostModelRepository.
type MockCostModelRepository struct {
	mock.Mock
}

func (m *MockCostModelRepository) Set(ctx context.Context, model *models.CostModel) (*models.CostModel, error) {
	args := m.Called(ctx, model)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CostModel), args.Error(1)
}

func (m *MockCostModelRepository) Latest(ctx context.Context, deployment string) (*models.CostModel, error) {
	args := m.Called(ctx, deployment)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CostModel), args.Error(1)
}

func (m *MockCostModelRepository) LatestAll(ctx context.Context, deployments []string) ([]*models.CostModel, error) {
	args := m.Called(ctx, deployments)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.CostModel), args.Error(1)
}

func (m *MockCostModelRepository) Delete(ctx context.Context, deployments []string) (int, error) {
	args := m.Called(ctx, deployments)
	return args.Int(0), args.Error(1)
}

func TestValidateOrderBy(t *testing.T) {
	for _, field := range []string{"id", "status", "priority", "createdAt", "protocolNetwork"} {
		got, err := validateOrderBy(field)
		require.NoError(t, err, field)
		assert.Equal(t, models.ActionOrderBy(field), got)
	}
}

func TestValidateOrderBySuggestsClosest(t *testing.T) {
	_, err := validateOrderBy("prority")
	require.Error(t, err)
	assert.True(t, ierrors.Is(err, ierrors.CodeInvalidOrderBy))
	assert.Equal(t, "invalid orderBy value 'prority', did you mean 'priority'?", err.Error())

	_, err = validateOrderBy("deployment")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did you mean 'deploymentID'?")
}

func TestEditDistance(t *testing.T) {
	assert.Equal(t, 0, editDistance("status", "status"))
	assert.Equal(t, 1, editDistance("prority", "priority"))
	assert.Equal(t, 3, editDistance("abc", ""))
	assert.Equal(t, 3, editDistance("", "abc"))
	assert.Equal(t, 3, editDistance("kitten", "sitting"))
}

func TestInferIdentifierType(t *testing.T) {
	assert.Equal(t, models.IdentifierTypeGroup, inferIdentifierType("global"))
	assert.Equal(t, models.IdentifierTypeDeployment,
		inferIdentifierType("Qmew9PZUJCoDzXqqU6vGyTENTKHrrN4dy5h94kertfudqy"))
	assert.Equal(t, models.IdentifierTypeSubgraph,
		inferIdentifierType("https://example.com/subgraph"))
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }
func i32Ptr(i int32) *int32   { return &i }

func TestActionsFilterCoversAllColumns(t *testing.T) {
	actionRepo := new(MockActionRepository)
	r := NewResolver(nil, nil, nil, actionRepo, nil)

	var got models.ActionFilter
	actionRepo.On("Find", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			got = args.Get(1).(models.ActionFilter)
		}).
		Return([]*models.Action{}, nil)

	_, err := r.Actions(context.Background(), struct {
		Filter         actionFilterInput
		OrderBy        *string
		OrderDirection *string
	}{
		Filter: actionFilterInput{
			Status:              strPtr("failed"),
			Type:                strPtr("allocate"),
			DeploymentID:        strPtr("Qmew9PZUJCoDzXqqU6vGyTENTKHrrN4dy5h94kertfudqy"),
			AllocationID:        strPtr("0x8f63930129e585c69482b56390a09b6b176f4a4c"),
			Amount:              strPtr("5000"),
			Poi:                 strPtr("0xab"),
			Force:               boolPtr(true),
			Priority:            i32Ptr(7),
			Source:              strPtr("indexerAgent"),
			Reason:              strPtr("indexingRule"),
			Transaction:         strPtr("0xdeadbeef"),
			FailureReason:       strPtr("IE013"),
			ProtocolNetwork:     strPtr("eip155:42161"),
			CreatedSinceSeconds: i32Ptr(3600),
			UpdatedSinceSeconds: i32Ptr(600),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, models.ActionStatusFailed, *got.Status)
	assert.Equal(t, models.ActionTypeAllocate, *got.Type)
	assert.Equal(t, "Qmew9PZUJCoDzXqqU6vGyTENTKHrrN4dy5h94kertfudqy", *got.DeploymentID)
	assert.Equal(t, "0x8f63930129e585c69482b56390a09b6b176f4a4c", *got.AllocationID)
	assert.Equal(t, "5000", *got.Amount)
	assert.Equal(t, "0xab", *got.POI)
	assert.True(t, *got.Force)
	assert.Equal(t, 7, *got.Priority)
	assert.Equal(t, "indexerAgent", *got.Source)
	assert.Equal(t, "indexingRule", *got.Reason)
	assert.Equal(t, "0xdeadbeef", *got.Transaction)
	assert.Equal(t, "IE013", *got.FailureReason)
	assert.Equal(t, "eip155:42161", *got.ProtocolNetwork)
	assert.Equal(t, time.Hour, *got.CreatedSince)
	assert.Equal(t, 10*time.Minute, *got.UpdatedSince)
}

func TestCostModelsFillsGlobalFallback(t *testing.T) {
	costModels := new(MockCostModelRepository)
	r := NewResolver(nil, costModels, nil, nil, nil)

	modeled := "Qmew9PZUJCoDzXqqU6vGyTENTKHrrN4dy5h94kertfudqy"
	bare := "QmXKwSEMirgWVn41nRzkT3hpUBw29cp619Gx3UQXVDmBtj"
	own := "default => 0.001;"
	global := "default => 0.00025;"
	filter := []string{modeled, bare}

	costModels.On("LatestAll", mock.Anything, filter).Return([]*models.CostModel{
		{Deployment: modeled, Model: &own},
	}, nil)
	costModels.On("Latest", mock.Anything, repository.GlobalCostModel).Return(&models.CostModel{
		Deployment: repository.GlobalCostModel,
		Model:      &global,
	}, nil)

	out, err := r.CostModels(context.Background(), struct{ Deployments *[]string }{&filter})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, modeled, out[0].Deployment())
	assert.Equal(t, own, *out[0].Model())

	// The bare deployment inherits the global model under its own name.
	assert.Equal(t, bare, out[1].Deployment())
	assert.Equal(t, global, *out[1].Model())
}

func TestCostModelsWithoutFilterSkipsFallback(t *testing.T) {
	costModels := new(MockCostModelRepository)
	r := NewResolver(nil, costModels, nil, nil, nil)

	costModels.On("LatestAll", mock.Anything, []string(nil)).Return([]*models.CostModel{}, nil)

	out, err := r.CostModels(context.Background(), struct{ Deployments *[]string }{nil})
	require.NoError(t, err)
	assert.Empty(t, out)
	costModels.AssertNotCalled(t, "Latest", mock.Anything, mock.Anything)
}

func TestSchemaParses(t *testing.T) {
	// A nil resolver skips resolver matching but still validates the SDL.
	_, err := graphql.ParseSchema(Schema, nil)
	require.NoError(t, err)
}
