package executor

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Bidon15/indexer-agent/internal/allocations"
	"github.com/Bidon15/indexer-agent/internal/contracts"
	"github.com/Bidon15/indexer-agent/internal/models"
	"github.com/Bidon15/indexer-agent/internal/network"
	"github.com/Bidon15/indexer-agent/internal/rules"
)

const (
	testMnemonic = "test test test test test test test test test test test junk"
	testCID      = "Qmew9PZUJCoDzXqqU6vGyTENTKHrrN4dy5h94kertfudqy"
	testNetwork  = "eip155:42161"
)

// MockTxManager is a mock implementation of TransactionManager.
type MockTxManager struct {
	mock.Mock
}

func (m *MockTxManager) Execute(ctx context.Context, to common.Address, calldata []byte) (*types.Receipt, error) {
	args := m.Called(ctx, to, calldata)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Receipt), args.Error(1)
}

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

type executorFixture struct {
	exec     *Executor
	bundle   *contracts.Bundle
	monitor  *MockMonitor
	ruleRepo *MockRuleRepository
	actions  *MockActionRepository
	txm      *MockTxManager
}

func newExecutorFixture(t *testing.T) *executorFixture {
	t.Helper()
	wallet, err := allocations.NewWallet(testMnemonic)
	require.NoError(t, err)
	bundle, err := contracts.NewBundle(common.HexToAddress("0x00000000000000000000000000000000deadbeef"), common.Address{})
	require.NoError(t, err)

	monitor := new(MockMonitor)
	ruleRepo := new(MockRuleRepository)
	actionRepo := new(MockActionRepository)
	txm := new(MockTxManager)

	manager := allocations.NewManager(allocations.ManagerConfig{
		Monitor:         monitor,
		Contracts:       bundle,
		Engine:          rules.NewEngine(ruleRepo, nil),
		RuleRepo:        ruleRepo,
		Wallet:          wallet,
		Indexer:         common.HexToAddress("0xf55041e37e12cd407ad00ce2910b8269b01263b9"),
		ProtocolNetwork: testNetwork,
	})
	exec := New(Config{
		Manager:         manager,
		Contracts:       bundle,
		TxManager:       txm,
		Actions:         actionRepo,
		ProtocolNetwork: testNetwork,
	})
	return &executorFixture{
		exec:     exec,
		bundle:   bundle,
		monitor:  monitor,
		ruleRepo: ruleRepo,
		actions:  actionRepo,
		txm:      txm,
	}
}

func mustDeployment(t *testing.T) models.DeploymentID {
	t.Helper()
	id, err := models.ParseDeploymentID(testCID)
	require.NoError(t, err)
	return id
}

func approvedAllocate(id int64, amount string) *models.Action {
	return &models.Action{
		ID:              id,
		Type:            models.ActionTypeAllocate,
		Status:          models.ActionStatusApproved,
		DeploymentID:    testCID,
		Amount:          &amount,
		Source:          "indexerAgent",
		ProtocolNetwork: testNetwork,
	}
}

// mockAllocatePrepare satisfies every monitor read an allocate action
// needs to prepare.
func (f *executorFixture) mockAllocatePrepare(t *testing.T) {
	t.Helper()
	f.monitor.On("Allocations", mock.Anything, models.AllocationStatusActive).Return([]*models.Allocation{}, nil)
	f.monitor.On("FreeStake", mock.Anything).Return(big.NewInt(1000000), nil)
	f.monitor.On("EnsureDeployed", mock.Anything, mustDeployment(t)).Return(nil)
	f.monitor.On("CurrentEpoch", mock.Anything).Return(&network.Epoch{Number: 500}, nil)
	f.monitor.On("AllocationState", mock.Anything, mock.Anything).Return(models.AllocationStatusNull, nil)
}

// allocationCreatedLog builds a log the staking contract would emit for
// a confirmed allocate.
func (f *executorFixture) allocationCreatedLog(t *testing.T, indexer, allocationID common.Address, deployment [32]byte) *types.Log {
	t.Helper()
	event := f.bundle.Staking.Events["AllocationCreated"]
	data, err := event.Inputs.NonIndexed().Pack(big.NewInt(500), big.NewInt(10000), [32]byte{})
	require.NoError(t, err)
	return &types.Log{
		Topics: []common.Hash{
			event.ID,
			common.BytesToHash(indexer.Bytes()),
			common.Hash(deployment),
			common.BytesToHash(allocationID.Bytes()),
		},
		Data: data,
	}
}

func TestExecuteEmptyBatch(t *testing.T) {
	f := newExecutorFixture(t)
	results, err := f.exec.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestExecuteUnauthorizedFailsWholeBatch(t *testing.T) {
	f := newExecutorFixture(t)
	f.mockAllocatePrepare(t)
	f.txm.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(nil, ErrUnauthorized)
	f.actions.On("UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]*models.Action{}, nil)

	results, err := f.exec.Execute(context.Background(), []*models.Action{approvedAllocate(1, "10000")})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.ActionStatusFailed, results[0].Status)
	assert.Contains(t, results[0].FailureReason, "Operator not authorized")
	f.actions.AssertCalled(t, "UpdateStatus", mock.Anything, []int64{1}, models.ActionStatusFailed, mock.Anything, mock.Anything)
}

func TestExecuteAllocateSuccess(t *testing.T) {
	f := newExecutorFixture(t)
	f.mockAllocatePrepare(t)

	allocationID := common.HexToAddress("0x2222222222222222222222222222222222222222")
	receipt := &types.Receipt{
		TxHash: common.HexToHash("0x01"),
		Logs: []*types.Log{
			f.allocationCreatedLog(t,
				common.HexToAddress("0xf55041e37e12cd407ad00ce2910b8269b01263b9"),
				allocationID,
				mustDeployment(t).Bytes32()),
		},
	}
	f.txm.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(receipt, nil)

	// An always rule already covers the deployment, so no rule write.
	f.ruleRepo.On("Get", mock.Anything, testCID, testNetwork).Return(&models.IndexingRule{
		Identifier:      testCID,
		ProtocolNetwork: testNetwork,
		DecisionBasis:   models.DecisionBasisAlways,
	}, nil)
	f.ruleRepo.On("Get", mock.Anything, models.GlobalIdentifier, testNetwork).Return(nil, nil)
	f.monitor.On("Deployment", mock.Anything, mustDeployment(t)).Return(&models.SubgraphDeployment{
		ID:              mustDeployment(t),
		SignalledTokens: big.NewInt(1000),
	}, nil)
	f.actions.On("UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]*models.Action{}, nil)

	results, err := f.exec.Execute(context.Background(), []*models.Action{approvedAllocate(1, "10000")})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.ActionStatusSuccess, results[0].Status)
	require.NotNil(t, results[0].AllocationID)
	assert.Equal(t, allocationID, *results[0].AllocationID)
	require.NotNil(t, results[0].Transaction)
	assert.Equal(t, receipt.TxHash.Hex(), *results[0].Transaction)
	f.ruleRepo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

// allocationClosedLog builds a log the staking contract would emit for
// a confirmed close.
func (f *executorFixture) allocationClosedLog(t *testing.T, indexer, allocationID common.Address, deployment [32]byte) *types.Log {
	t.Helper()
	event := f.bundle.Staking.Events["AllocationClosed"]
	data, err := event.Inputs.NonIndexed().Pack(big.NewInt(500), big.NewInt(9900), indexer, [32]byte{0xab}, false)
	require.NoError(t, err)
	return &types.Log{
		Topics: []common.Hash{
			event.ID,
			common.BytesToHash(indexer.Bytes()),
			common.Hash(deployment),
			common.BytesToHash(allocationID.Bytes()),
		},
		Data: data,
	}
}

func TestExecuteReallocateKeepsUserRule(t *testing.T) {
	f := newExecutorFixture(t)
	indexer := common.HexToAddress("0xf55041e37e12cd407ad00ce2910b8269b01263b9")
	oldID := common.HexToAddress("0x3333333333333333333333333333333333333333")
	newID := common.HexToAddress("0x4444444444444444444444444444444444444444")
	deployment := mustDeployment(t)

	f.monitor.On("Allocation", mock.Anything, oldID).Return(&models.Allocation{
		ID:                 oldID,
		Status:             models.AllocationStatusActive,
		SubgraphDeployment: deployment,
		AllocatedTokens:    big.NewInt(9900),
		CreatedAtEpoch:     400,
	}, nil)
	f.monitor.On("CurrentEpoch", mock.Anything).Return(&network.Epoch{Number: 500}, nil)
	f.monitor.On("ResolvePOI", mock.Anything, mock.Anything, (*string)(nil), false).Return([32]byte{0xab}, nil)
	f.monitor.On("FreeStake", mock.Anything).Return(big.NewInt(1000000), nil)
	f.monitor.On("Allocations", mock.Anything, models.AllocationStatusActive).Return([]*models.Allocation{}, nil)
	f.monitor.On("AllocationState", mock.Anything, mock.Anything).Return(models.AllocationStatusNull, nil)

	receipt := &types.Receipt{
		TxHash: common.HexToHash("0x04"),
		Logs: []*types.Log{
			f.allocationClosedLog(t, indexer, oldID, deployment.Bytes32()),
			f.allocationCreatedLog(t, indexer, newID, deployment.Bytes32()),
		},
	}
	f.txm.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(receipt, nil)

	// A threshold rule the user configured still selects the deployment,
	// so the renewal must leave it untouched.
	minSignal := "100"
	f.ruleRepo.On("Get", mock.Anything, testCID, testNetwork).Return(&models.IndexingRule{
		Identifier:      testCID,
		IdentifierType:  models.IdentifierTypeDeployment,
		ProtocolNetwork: testNetwork,
		DecisionBasis:   models.DecisionBasisRules,
		MinSignal:       &minSignal,
	}, nil)
	f.ruleRepo.On("Get", mock.Anything, models.GlobalIdentifier, testNetwork).Return(nil, nil)
	f.monitor.On("Deployment", mock.Anything, deployment).Return(&models.SubgraphDeployment{
		ID:              deployment,
		SignalledTokens: big.NewInt(500),
	}, nil)
	f.actions.On("UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]*models.Action{}, nil)

	oldHex := oldID.Hex()
	amount := "10000"
	results, err := f.exec.Execute(context.Background(), []*models.Action{{
		ID:              7,
		Type:            models.ActionTypeReallocate,
		Status:          models.ActionStatusApproved,
		DeploymentID:    testCID,
		AllocationID:    &oldHex,
		Amount:          &amount,
		Source:          "indexerAgent",
		ProtocolNetwork: testNetwork,
	}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.ActionStatusSuccess, results[0].Status)
	require.NotNil(t, results[0].AllocationID)
	assert.Equal(t, newID, *results[0].AllocationID)
	f.ruleRepo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestExecuteMissingEventNeverMined(t *testing.T) {
	f := newExecutorFixture(t)
	f.mockAllocatePrepare(t)
	receipt := &types.Receipt{TxHash: common.HexToHash("0x02")}
	f.txm.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(receipt, nil)
	f.actions.On("UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]*models.Action{}, nil)

	results, err := f.exec.Execute(context.Background(), []*models.Action{approvedAllocate(1, "10000")})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.ActionStatusFailed, results[0].Status)
	assert.Contains(t, results[0].FailureReason, "never mined")
}

func TestExecutePrepareFailureDoesNotBlockBatch(t *testing.T) {
	f := newExecutorFixture(t)
	f.mockAllocatePrepare(t)
	receipt := &types.Receipt{TxHash: common.HexToHash("0x03")}
	f.txm.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(receipt, nil)
	f.actions.On("UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]*models.Action{}, nil)

	batch := []*models.Action{
		approvedAllocate(1, "not-a-number"),
		approvedAllocate(2, "10000"),
	}
	results, err := f.exec.Execute(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Every input ends terminal; the malformed action does not stop the
	// rest of the batch from being submitted.
	for _, r := range results {
		assert.Contains(t, []models.ActionStatus{models.ActionStatusSuccess, models.ActionStatusFailed}, r.Status)
	}
	assert.Equal(t, int64(1), results[0].Action.ID)
	assert.Contains(t, results[0].FailureReason, "invalid allocation amount")
	f.txm.AssertNumberOfCalls(t, "Execute", 1)
}
