package custody

import (
	"context"
	"math/big"
	"testing"

	"github.com/DCA-MiniApp/dca-core-engine/internal/executor"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

type fakeChain struct {
	allowances map[string]*big.Int
}

func key(token, owner, spender common.Address) string {
	return token.Hex() + owner.Hex() + spender.Hex()
}

func (f *fakeChain) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	if v, ok := f.allowances[key(token, owner, spender)]; ok {
		return v, nil
	}
	return big.NewInt(0), nil
}

func (f *fakeChain) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}

type fakeExecutor struct {
	batches [][]executor.TransactionPlan
}

func (f *fakeExecutor) ExecuteBatch(ctx context.Context, planIDTag string, txs []executor.TransactionPlan) (executor.Result, error) {
	f.batches = append(f.batches, txs)
	return executor.Result{}, nil
}

var (
	token    = common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831")
	router   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	execAddr = common.HexToAddress("0x2222222222222222222222222222222222222222")
	user     = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

func TestEnsureCustody_SelfExecution_SkipsApproveIfSufficient(t *testing.T) {
	chain := &fakeChain{allowances: map[string]*big.Int{
		key(token, execAddr, router): big.NewInt(1_000_000_000),
	}}
	exec := &fakeExecutor{}
	m := New(chain, exec)

	err := m.EnsureCustody(context.Background(), "plan-1", token, big.NewInt(100_000_000), execAddr, execAddr, router)
	assert.NoError(t, err)
	assert.Empty(t, exec.batches)
}

func TestEnsureCustody_SelfExecution_ApprovesWhenInsufficient(t *testing.T) {
	chain := &fakeChain{allowances: map[string]*big.Int{}}
	exec := &fakeExecutor{}
	m := New(chain, exec)

	err := m.EnsureCustody(context.Background(), "plan-2", token, big.NewInt(100_000_000), execAddr, execAddr, router)
	assert.NoError(t, err)
	assert.Len(t, exec.batches, 1)
}

func TestEnsureCustody_SeparateExecutor_FailsOnInsufficientUserAllowance(t *testing.T) {
	chain := &fakeChain{allowances: map[string]*big.Int{
		key(token, execAddr, router): big.NewInt(1_000_000_000),
		key(token, user, execAddr):   big.NewInt(50),
	}}
	exec := &fakeExecutor{}
	m := New(chain, exec)

	err := m.EnsureCustody(context.Background(), "plan-3", token, big.NewInt(100_000_000), user, execAddr, router)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient user approval")
	assert.Empty(t, exec.batches)
}

func TestEnsureCustody_SeparateExecutor_PullsFundsWhenAllowed(t *testing.T) {
	chain := &fakeChain{allowances: map[string]*big.Int{
		key(token, execAddr, router): big.NewInt(1_000_000_000),
		key(token, user, execAddr):   big.NewInt(1_000_000_000),
	}}
	exec := &fakeExecutor{}
	m := New(chain, exec)

	err := m.EnsureCustody(context.Background(), "plan-4", token, big.NewInt(100_000_000), user, execAddr, router)
	assert.NoError(t, err)
	assert.Len(t, exec.batches, 1)
}
