package allocations

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Bidon15/indexer-agent/internal/contracts"
	"github.com/Bidon15/indexer-agent/internal/models"
	"github.com/Bidon15/indexer-agent/internal/network"
	ierrors "github.com/Bidon15/indexer-agent/internal/pkg/errors"
	"github.com/Bidon15/indexer-agent/internal/rules"
)

const (
	testCID     = "Qmew9PZUJCoDzXqqU6vGyTENTKHrrN4dy5h94kertfudqy"
	testNetwork = "eip155:42161"
)

// MockMonitor is a mock implementation of network.Monitor.
type MockMonitor struct {
	mock.Mock
}

func (m *MockMonitor) CurrentEpoch(ctx context.Context) (*network.Epoch, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*network.Epoch), args.Error(1)
}

func (m *MockMonitor) MaxAllocationEpochs(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockMonitor) FreeStake(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*big.Int), args.Error(1)
}

func (m *MockMonitor) Allocations(ctx context.Context, status models.AllocationStatus) ([]*models.Allocation, error) {
	args := m.Called(ctx, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Allocation), args.Error(1)
}

func (m *MockMonitor) Allocation(ctx context.Context, id common.Address) (*models.Allocation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Allocation), args.Error(1)
}

func (m *MockMonitor) AllocationState(ctx context.Context, id common.Address) (models.AllocationStatus, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(models.AllocationStatus), args.Error(1)
}

func (m *MockMonitor) Deployment(ctx context.Context, id models.DeploymentID) (*models.SubgraphDeployment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SubgraphDeployment), args.Error(1)
}

func (m *MockMonitor) EnsureDeployed(ctx context.Context, id models.DeploymentID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockMonitor) RemoveDeployment(ctx context.Context, id models.DeploymentID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockMonitor) PauseDeployment(ctx context.Context, id models.DeploymentID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockMonitor) LocalDeployments(ctx context.Context) ([]network.LocalDeployment, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]network.LocalDeployment), args.Error(1)
}

func (m *MockMonitor) ResolvePOI(ctx context.Context, allocation *models.Allocation, userPOI *string, force bool) ([32]byte, error) {
	args := m.Called(ctx, allocation, userPOI, force)
	return args.Get(0).([32]byte), args.Error(1)
}

func (m *MockMonitor) InvalidateCache(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

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

// MockCollector is a mock implementation of ReceiptCollector.
type MockCollector struct {
	mock.Mock
}

func (m *MockCollector) RememberAllocations(ctx context.Context, ids []common.Address) error {
	args := m.Called(ctx, ids)
	return args.Error(0)
}

func (m *MockCollector) CollectReceipts(ctx context.Context, allocation *models.Allocation) error {
	args := m.Called(ctx, allocation)
	return args.Error(0)
}

type managerFixture struct {
	manager  *Manager
	monitor  *MockMonitor
	ruleRepo *MockRuleRepository
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	wallet, err := NewWallet(testMnemonic)
	require.NoError(t, err)
	bundle, err := contracts.NewBundle(common.Address{}, common.Address{})
	require.NoError(t, err)

	monitor := new(MockMonitor)
	ruleRepo := new(MockRuleRepository)
	manager := NewManager(ManagerConfig{
		Monitor:         monitor,
		Contracts:       bundle,
		Engine:          rules.NewEngine(ruleRepo, nil),
		RuleRepo:        ruleRepo,
		Wallet:          wallet,
		Indexer:         common.HexToAddress("0xf55041e37e12cd407ad00ce2910b8269b01263b9"),
		ProtocolNetwork: testNetwork,
	})
	return &managerFixture{manager: manager, monitor: monitor, ruleRepo: ruleRepo}
}

func mustDeployment(t *testing.T) models.DeploymentID {
	t.Helper()
	id, err := models.ParseDeploymentID(testCID)
	require.NoError(t, err)
	return id
}

func allocateAction(amount string) *models.Action {
	return &models.Action{
		Type:            models.ActionTypeAllocate,
		Status:          models.ActionStatusApproved,
		DeploymentID:    testCID,
		Amount:          &amount,
		Source:          "indexerAgent",
		ProtocolNetwork: testNetwork,
	}
}

func TestPrepareAllocateExistingActive(t *testing.T) {
	f := newManagerFixture(t)
	existing := &models.Allocation{
		ID:                 common.HexToAddress("0x8f63930129e585c69482b56390a09b6b176f4a4c"),
		Status:             models.AllocationStatusActive,
		SubgraphDeployment: mustDeployment(t),
	}
	f.monitor.On("Allocations", mock.Anything, models.AllocationStatusActive).Return([]*models.Allocation{existing}, nil)

	_, err := f.manager.Prepare(context.Background(), allocateAction("10000"))
	require.Error(t, err)
	assert.True(t, ierrors.Is(err, ierrors.CodeAllocationExists))
	assert.Contains(t, err.Error(), testCID)
	assert.Contains(t, err.Error(), existing.ID.Hex())
}

func TestPrepareAllocateInsufficientStake(t *testing.T) {
	f := newManagerFixture(t)
	f.monitor.On("Allocations", mock.Anything, models.AllocationStatusActive).Return([]*models.Allocation{}, nil)
	f.monitor.On("FreeStake", mock.Anything).Return(big.NewInt(500), nil)

	_, err := f.manager.Prepare(context.Background(), allocateAction("10000"))
	require.Error(t, err)
	assert.True(t, ierrors.Is(err, ierrors.CodeInsufficientStake))
	assert.Equal(t, "allocation amount '10000' exceeds the indexer's free stake of '500'", err.Error())
}

func TestPrepareAllocateZeroAmount(t *testing.T) {
	f := newManagerFixture(t)
	f.monitor.On("Allocations", mock.Anything, models.AllocationStatusActive).Return([]*models.Allocation{}, nil)

	_, err := f.manager.Prepare(context.Background(), allocateAction("0"))
	require.Error(t, err)
	assert.True(t, ierrors.Is(err, ierrors.CodeZeroAmount))
}

func TestPrepareAllocateSuccess(t *testing.T) {
	f := newManagerFixture(t)
	f.monitor.On("Allocations", mock.Anything, models.AllocationStatusActive).Return([]*models.Allocation{}, nil)
	f.monitor.On("FreeStake", mock.Anything).Return(big.NewInt(1000000), nil)
	f.monitor.On("EnsureDeployed", mock.Anything, mustDeployment(t)).Return(nil)
	f.monitor.On("CurrentEpoch", mock.Anything).Return(&network.Epoch{Number: 500}, nil)
	f.monitor.On("AllocationState", mock.Anything, mock.Anything).Return(models.AllocationStatusNull, nil)

	prepared, err := f.manager.Prepare(context.Background(), allocateAction("10000"))
	require.NoError(t, err)
	require.NotNil(t, prepared)
	assert.Equal(t, mustDeployment(t), prepared.Deployment)
	assert.NotEqual(t, common.Address{}, prepared.NewAllocationID)
	assert.Equal(t, big.NewInt(10000), prepared.Amount)
	assert.NotEmpty(t, prepared.Calldata)
	f.monitor.AssertExpectations(t)
}

func TestPrepareAllocateRejectsOnchainCollision(t *testing.T) {
	f := newManagerFixture(t)
	f.monitor.On("Allocations", mock.Anything, models.AllocationStatusActive).Return([]*models.Allocation{}, nil)
	f.monitor.On("FreeStake", mock.Anything).Return(big.NewInt(1000000), nil)
	f.monitor.On("EnsureDeployed", mock.Anything, mock.Anything).Return(nil)
	f.monitor.On("CurrentEpoch", mock.Anything).Return(&network.Epoch{Number: 500}, nil)
	f.monitor.On("AllocationState", mock.Anything, mock.Anything).Return(models.AllocationStatusClosed, nil)

	_, err := f.manager.Prepare(context.Background(), allocateAction("10000"))
	require.Error(t, err)
	assert.True(t, ierrors.Is(err, ierrors.CodeAllocationOnchain))
}

func TestPrepareUnallocateSameEpochRejected(t *testing.T) {
	f := newManagerFixture(t)
	allocationID := "0x8f63930129e585c69482b56390a09b6b176f4a4c"
	allocation := &models.Allocation{
		ID:                 common.HexToAddress(allocationID),
		Status:             models.AllocationStatusActive,
		SubgraphDeployment: mustDeployment(t),
		CreatedAtEpoch:     500,
	}
	f.monitor.On("Allocation", mock.Anything, allocation.ID).Return(allocation, nil)
	f.monitor.On("CurrentEpoch", mock.Anything).Return(&network.Epoch{Number: 500}, nil)

	_, err := f.manager.Prepare(context.Background(), &models.Action{
		Type:            models.ActionTypeUnallocate,
		DeploymentID:    testCID,
		AllocationID:    &allocationID,
		ProtocolNetwork: testNetwork,
	})
	require.Error(t, err)
	assert.True(t, ierrors.Is(err, ierrors.CodeSameEpochClose))
	assert.Contains(t, err.Error(), "cannot be closed before epoch 501")
}

func TestPrepareUnallocateInactiveRejected(t *testing.T) {
	f := newManagerFixture(t)
	allocationID := "0x8f63930129e585c69482b56390a09b6b176f4a4c"
	f.monitor.On("Allocation", mock.Anything, common.HexToAddress(allocationID)).Return(nil, nil)

	_, err := f.manager.Prepare(context.Background(), &models.Action{
		Type:            models.ActionTypeUnallocate,
		DeploymentID:    testCID,
		AllocationID:    &allocationID,
		ProtocolNetwork: testNetwork,
	})
	require.Error(t, err)
	assert.Equal(t,
		"An active allocation does not exist with id = '0x8f63930129e585c69482b56390a09b6b176f4a4c'",
		err.Error())
}

func TestPrepareUnallocateSuccess(t *testing.T) {
	f := newManagerFixture(t)
	allocationID := "0x8f63930129e585c69482b56390a09b6b176f4a4c"
	allocation := &models.Allocation{
		ID:                 common.HexToAddress(allocationID),
		Status:             models.AllocationStatusActive,
		SubgraphDeployment: mustDeployment(t),
		CreatedAtEpoch:     490,
	}
	poi := [32]byte{0xab, 0xcd}
	f.monitor.On("Allocation", mock.Anything, allocation.ID).Return(allocation, nil)
	f.monitor.On("CurrentEpoch", mock.Anything).Return(&network.Epoch{Number: 500}, nil)
	f.monitor.On("ResolvePOI", mock.Anything, allocation, (*string)(nil), false).Return(poi, nil)

	prepared, err := f.manager.Prepare(context.Background(), &models.Action{
		Type:            models.ActionTypeUnallocate,
		DeploymentID:    testCID,
		AllocationID:    &allocationID,
		ProtocolNetwork: testNetwork,
	})
	require.NoError(t, err)
	assert.Equal(t, allocation.ID, prepared.ClosingAllocationID)
	assert.Equal(t, poi, prepared.POI)
	assert.NotEmpty(t, prepared.Calldata)
}

func TestPrepareReallocateCountsFreedStake(t *testing.T) {
	f := newManagerFixture(t)
	allocationID := "0x8f63930129e585c69482b56390a09b6b176f4a4c"
	allocation := &models.Allocation{
		ID:                 common.HexToAddress(allocationID),
		Status:             models.AllocationStatusActive,
		SubgraphDeployment: mustDeployment(t),
		AllocatedTokens:    big.NewInt(9900),
		CreatedAtEpoch:     490,
	}
	amount := "10000"
	f.monitor.On("Allocation", mock.Anything, allocation.ID).Return(allocation, nil)
	f.monitor.On("CurrentEpoch", mock.Anything).Return(&network.Epoch{Number: 500}, nil)
	f.monitor.On("ResolvePOI", mock.Anything, allocation, (*string)(nil), false).Return([32]byte{0x01}, nil)
	// Free stake alone cannot cover the amount; the closing allocation's
	// stake makes up the difference.
	f.monitor.On("FreeStake", mock.Anything).Return(big.NewInt(100), nil)
	f.monitor.On("Allocations", mock.Anything, models.AllocationStatusActive).Return([]*models.Allocation{allocation}, nil)
	f.monitor.On("AllocationState", mock.Anything, mock.Anything).Return(models.AllocationStatusNull, nil)

	prepared, err := f.manager.Prepare(context.Background(), &models.Action{
		Type:            models.ActionTypeReallocate,
		DeploymentID:    testCID,
		AllocationID:    &allocationID,
		Amount:          &amount,
		ProtocolNetwork: testNetwork,
	})
	require.NoError(t, err)
	assert.Equal(t, allocation.ID, prepared.ClosingAllocationID)
	assert.NotEqual(t, common.Address{}, prepared.NewAllocationID)
	assert.NotEqual(t, allocation.ID, prepared.NewAllocationID)
}

func TestConfirmAllocateInstallsAlwaysRule(t *testing.T) {
	f := newManagerFixture(t)
	deployment := mustDeployment(t)
	id := common.HexToAddress("0x1111111111111111111111111111111111111111")

	// No rule selects the deployment, so an always rule keeps it alive.
	f.ruleRepo.On("Get", mock.Anything, testCID, testNetwork).Return(nil, nil)
	f.ruleRepo.On("Get", mock.Anything, models.GlobalIdentifier, testNetwork).Return(&models.IndexingRule{
		Identifier:      models.GlobalIdentifier,
		ProtocolNetwork: testNetwork,
		DecisionBasis:   models.DecisionBasisRules,
	}, nil)
	f.monitor.On("Deployment", mock.Anything, deployment).Return(&models.SubgraphDeployment{
		ID:              deployment,
		SignalledTokens: big.NewInt(0),
		StakedTokens:    big.NewInt(0),
	}, nil)
	f.ruleRepo.On("Upsert", mock.Anything, mock.MatchedBy(func(rule *models.IndexingRule) bool {
		return rule.Identifier == testCID &&
			rule.DecisionBasis == models.DecisionBasisAlways &&
			rule.AutoRenewal && rule.Safety
	})).Return(&models.IndexingRule{}, nil)

	err := f.manager.ConfirmAllocate(context.Background(), deployment, id)
	require.NoError(t, err)
	f.ruleRepo.AssertExpectations(t)
}

func TestConfirmUnallocateDropsToOffchain(t *testing.T) {
	f := newManagerFixture(t)
	collector := new(MockCollector)
	f.manager.collector = collector

	allocation := &models.Allocation{
		ID:                 common.HexToAddress("0x8f63930129e585c69482b56390a09b6b176f4a4c"),
		Status:             models.AllocationStatusClosed,
		SubgraphDeployment: mustDeployment(t),
	}
	collector.On("CollectReceipts", mock.Anything, allocation).Return(nil)
	f.ruleRepo.On("Upsert", mock.Anything, mock.MatchedBy(func(rule *models.IndexingRule) bool {
		return rule.Identifier == testCID && rule.DecisionBasis == models.DecisionBasisOffchain
	})).Return(&models.IndexingRule{}, nil)

	err := f.manager.ConfirmUnallocate(context.Background(), allocation)
	require.NoError(t, err)
	collector.AssertExpectations(t)
	f.ruleRepo.AssertExpectations(t)
}
