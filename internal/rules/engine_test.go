package rules

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Bidon15/indexer-agent/internal/models"
)

// MockRuleRepository is a mock implementation of repository.RuleRepository.
type MockRuleRepository struct {
	mock.Mock
}

func (m *MockRuleRepository) Upsert(ctx context.Context, rule *models.IndexingRule) (*models.IndexingRule, error) {
	args := m.Called(ctx, rule)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.IndexingRule), args.Error(1)
}

func (m *MockRuleRepository) Get(ctx context.Context, identifier, protocolNetwork string) (*models.IndexingRule, error) {
	args := m.Called(ctx, identifier, protocolNetwork)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.IndexingRule), args.Error(1)
}

func (m *MockRuleRepository) List(ctx context.Context, protocolNetwork *string) ([]*models.IndexingRule, error) {
	args := m.Called(ctx, protocolNetwork)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.IndexingRule), args.Error(1)
}

func (m *MockRuleRepository) Delete(ctx context.Context, protocolNetwork string, identifiers []string) (int, error) {
	args := m.Called(ctx, protocolNetwork, identifiers)
	return args.Int(0), args.Error(1)
}

func (m *MockRuleRepository) EnsureGlobal(ctx context.Context, protocolNetwork string) error {
	args := m.Called(ctx, protocolNetwork)
	return args.Error(0)
}

func strPtr(s string) *string { return &s }
func intP(i int) *int         { return &i }

func TestMergeOverlaysUnsetFields(t *testing.T) {
	global := &models.IndexingRule{
		Identifier:          models.GlobalIdentifier,
		ProtocolNetwork:     "eip155:42161",
		AllocationLifetime:  intP(15),
		MinAverageQueryFees: strPtr("1"),
		DecisionBasis:       models.DecisionBasisRules,
		AutoRenewal:         true,
	}
	rule := &models.IndexingRule{
		Identifier:         "Qmew9PZUJCoDzXqqU6vGyTENTKHrrN4dy5h94kertfudqy",
		ProtocolNetwork:    "eip155:42161",
		AllocationLifetime: intP(10),
		DecisionBasis:      models.DecisionBasisOffchain,
		AutoRenewal:        false,
	}

	merged := Merge(rule, global)
	require.NotNil(t, merged)
	assert.Equal(t, 10, *merged.AllocationLifetime)
	assert.Equal(t, "1", *merged.MinAverageQueryFees)
	assert.Equal(t, models.DecisionBasisOffchain, merged.DecisionBasis)
	assert.False(t, merged.AutoRenewal)
}

func TestMergeIdempotent(t *testing.T) {
	global := &models.IndexingRule{
		Identifier:          models.GlobalIdentifier,
		AllocationAmount:    strPtr("5000"),
		AllocationLifetime:  intP(15),
		ParallelAllocations: intP(2),
		MinSignal:           strPtr("100"),
		DecisionBasis:       models.DecisionBasisRules,
	}
	rule := &models.IndexingRule{
		Identifier:       "Qmew9PZUJCoDzXqqU6vGyTENTKHrrN4dy5h94kertfudqy",
		AllocationAmount: strPtr("10000"),
		DecisionBasis:    models.DecisionBasisRules,
	}

	once := Merge(rule, global)
	twice := Merge(once, global)
	assert.Equal(t, once, twice)
}

func TestMergeNilInputs(t *testing.T) {
	global := &models.IndexingRule{Identifier: models.GlobalIdentifier, AllocationAmount: strPtr("1")}

	merged := Merge(nil, global)
	require.NotNil(t, merged)
	assert.Equal(t, "1", *merged.AllocationAmount)

	rule := &models.IndexingRule{Identifier: "x", AllocationAmount: strPtr("2")}
	merged = Merge(rule, nil)
	require.NotNil(t, merged)
	assert.Equal(t, "2", *merged.AllocationAmount)

	assert.Nil(t, Merge(nil, nil))
}

func TestMergedRuleReadsGlobal(t *testing.T) {
	repo := new(MockRuleRepository)
	engine := NewEngine(repo, nil)

	networkID := "eip155:42161"
	deployment := "Qmew9PZUJCoDzXqqU6vGyTENTKHrrN4dy5h94kertfudqy"
	repo.On("Get", mock.Anything, deployment, networkID).Return(&models.IndexingRule{
		Identifier:         deployment,
		ProtocolNetwork:    networkID,
		AllocationLifetime: intP(10),
		DecisionBasis:      models.DecisionBasisOffchain,
	}, nil)
	repo.On("Get", mock.Anything, models.GlobalIdentifier, networkID).Return(&models.IndexingRule{
		Identifier:          models.GlobalIdentifier,
		ProtocolNetwork:     networkID,
		AllocationLifetime:  intP(15),
		MinAverageQueryFees: strPtr("1"),
		DecisionBasis:       models.DecisionBasisRules,
	}, nil)

	merged, err := engine.MergedRule(context.Background(), networkID, deployment)
	require.NoError(t, err)
	require.NotNil(t, merged)
	assert.Equal(t, 10, *merged.AllocationLifetime)
	assert.Equal(t, "1", *merged.MinAverageQueryFees)
	assert.Equal(t, models.DecisionBasisOffchain, merged.DecisionBasis)
	repo.AssertExpectations(t)
}

func TestSelectsDecisionBasis(t *testing.T) {
	deployment := &models.SubgraphDeployment{
		SignalledTokens: big.NewInt(1000),
		StakedTokens:    big.NewInt(1000),
	}

	assert.False(t, Selects(&models.IndexingRule{DecisionBasis: models.DecisionBasisNever}, deployment))
	assert.False(t, Selects(&models.IndexingRule{DecisionBasis: models.DecisionBasisOffchain}, deployment))
	assert.True(t, Selects(&models.IndexingRule{DecisionBasis: models.DecisionBasisAlways}, deployment))
}

func TestSelectsThresholds(t *testing.T) {
	deployment := &models.SubgraphDeployment{
		SignalledTokens: big.NewInt(500),
		StakedTokens:    big.NewInt(2000),
	}

	// Passing threshold selects.
	rule := &models.IndexingRule{
		DecisionBasis: models.DecisionBasisRules,
		MinSignal:     strPtr("100"),
	}
	assert.True(t, Selects(rule, deployment))

	// Failing threshold rejects.
	rule.MinSignal = strPtr("1000")
	assert.False(t, Selects(rule, deployment))

	// maxSignal caps selection.
	rule = &models.IndexingRule{
		DecisionBasis: models.DecisionBasisRules,
		MinSignal:     strPtr("100"),
		MaxSignal:     strPtr("300"),
	}
	assert.False(t, Selects(rule, deployment))

	// With no thresholds at all, "rules" does not select.
	rule = &models.IndexingRule{DecisionBasis: models.DecisionBasisRules}
	assert.False(t, Selects(rule, deployment))
}

func TestSelectsRequireSupported(t *testing.T) {
	denied := &models.SubgraphDeployment{
		DeniedAt:        42,
		SignalledTokens: big.NewInt(1000),
	}
	rule := &models.IndexingRule{
		DecisionBasis:    models.DecisionBasisRules,
		RequireSupported: true,
		MinSignal:        strPtr("1"),
	}
	assert.False(t, Selects(rule, denied))

	rule.RequireSupported = false
	assert.True(t, Selects(rule, denied))
}
