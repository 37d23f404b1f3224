package vault

import (
	"context"
	"math/big"
	"testing"

	"github.com/DCA-MiniApp/dca-core-engine/internal/executor"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

type fakeChain struct {
	allowance     *big.Int
	balances      map[common.Address]*big.Int
	vaultDecimals int
	tokenDecimals int
	balanceSeq    []*big.Int
	balanceCalls  int
}

func (f *fakeChain) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return f.allowance, nil
}

func (f *fakeChain) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	if len(f.balanceSeq) > 0 {
		v := f.balanceSeq[f.balanceCalls]
		f.balanceCalls++
		return v, nil
	}
	return f.balances[owner], nil
}

func (f *fakeChain) Decimals(ctx context.Context, contract common.Address) (int, error) {
	return f.vaultDecimals, nil
}

type fakeExecutor struct {
	result executor.Result
	calls  int
}

func (f *fakeExecutor) ExecuteBatch(ctx context.Context, planIDTag string, txs []executor.TransactionPlan) (executor.Result, error) {
	f.calls++
	return f.result, nil
}

var (
	vaultAddr = common.HexToAddress("0x4444444444444444444444444444444444444444")
	token     = common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831")
	user      = common.HexToAddress("0x1111111111111111111111111111111111111111")
	execAddr  = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func TestERC4626Adapter_Deposit_ComputesSharesFromDiff(t *testing.T) {
	chain := &fakeChain{
		allowance:     big.NewInt(1_000_000_000),
		vaultDecimals: 18,
		balanceSeq: []*big.Int{
			big.NewInt(1_000_000_000_000),  // checkBalance (executor balance)
			big.NewInt(10_000_000_000_000), // before snapshot
			big.NewInt(99_010_000_000_000), // after snapshot
		},
	}
	chain.balances = map[common.Address]*big.Int{execAddr: big.NewInt(1_000_000_000_000)}
	exec := &fakeExecutor{result: executor.Result{FinalTxHash: common.HexToHash("0xabc")}}

	a := NewERC4626Adapter(chain, exec, vaultAddr)
	result, err := a.Deposit(context.Background(), "plan-1", token, big.NewInt(100_000_000), 6, user, execAddr)
	assert.NoError(t, err)
	assert.Contains(t, result.DepositTxHash, "abc")
	assert.NotEmpty(t, result.ShareTokensHuman)
}

func TestERC4626Adapter_Deposit_FailsOnInsufficientBalance(t *testing.T) {
	chain := &fakeChain{allowance: big.NewInt(0), balances: map[common.Address]*big.Int{execAddr: big.NewInt(0)}}
	exec := &fakeExecutor{}
	a := NewERC4626Adapter(chain, exec, vaultAddr)

	_, err := a.Deposit(context.Background(), "plan-2", token, big.NewInt(100), 6, user, execAddr)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient balance")
	assert.Equal(t, 0, exec.calls)
}

func TestSimpleAdapter_Deposit_UsesExecutorBalanceSnapshot(t *testing.T) {
	chain := &fakeChain{
		allowance:     big.NewInt(1_000_000_000),
		vaultDecimals: 18,
		balanceSeq: []*big.Int{
			big.NewInt(1_000_000_000), // checkBalance
			big.NewInt(0),             // before
			big.NewInt(500),           // after
		},
	}
	exec := &fakeExecutor{result: executor.Result{FinalTxHash: common.HexToHash("0xdef")}}

	a := NewSimpleAdapter(chain, exec, vaultAddr)
	result, err := a.Deposit(context.Background(), "plan-3", token, big.NewInt(100_000_000), 6, user, execAddr)
	assert.NoError(t, err)
	assert.NotEmpty(t, result.ShareTokensHuman)
}

func TestERC4626Adapter_VaultAddress(t *testing.T) {
	a := NewERC4626Adapter(&fakeChain{}, &fakeExecutor{}, vaultAddr)
	assert.Equal(t, vaultAddr, a.VaultAddress())
}
