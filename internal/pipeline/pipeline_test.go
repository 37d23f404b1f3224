package pipeline

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/DCA-MiniApp/dca-core-engine/internal/executor"
	"github.com/DCA-MiniApp/dca-core-engine/internal/quoteclient"
	"github.com/DCA-MiniApp/dca-core-engine/internal/store"
	"github.com/DCA-MiniApp/dca-core-engine/internal/tokenregistry"
	"github.com/DCA-MiniApp/dca-core-engine/internal/vault"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

type fakeRegistry struct {
	descriptors map[string]tokenregistry.Descriptor
}

func (f *fakeRegistry) Lookup(symbol string, chainID int64) (tokenregistry.Descriptor, bool) {
	d, ok := f.descriptors[symbol]
	return d, ok
}

type fakeCustody struct {
	err   error
	calls int
}

func (f *fakeCustody) EnsureCustody(ctx context.Context, planIDTag string, tokenAddress common.Address, atomicAmount *big.Int, userAddress, executorAddress, routerAddress common.Address) error {
	f.calls++
	return f.err
}

type fakeQuoter struct {
	plan *quoteclient.SwapPlan
	err  error
	req  quoteclient.CreateSwapRequest
}

func (f *fakeQuoter) CreateSwap(ctx context.Context, req quoteclient.CreateSwapRequest) (*quoteclient.SwapPlan, error) {
	f.req = req
	return f.plan, f.err
}

type fakeChain struct {
	balanceSeq   []*big.Int
	balanceCalls int
}

func (f *fakeChain) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	v := f.balanceSeq[f.balanceCalls]
	f.balanceCalls++
	return v, nil
}

type fakeExecutor struct {
	result  executor.Result
	err     error
	address common.Address
	lastTxs []executor.TransactionPlan
}

func (f *fakeExecutor) ExecuteBatch(ctx context.Context, planIDTag string, txs []executor.TransactionPlan) (executor.Result, error) {
	f.lastTxs = txs
	return f.result, f.err
}

func (f *fakeExecutor) Address() common.Address { return f.address }

type fakeStore struct {
	successes []store.Execution
	failures  []store.Execution
	holdings  int
}

func (f *fakeStore) RecordSuccess(ctx context.Context, exec store.Execution, now time.Time) error {
	f.successes = append(f.successes, exec)
	return nil
}

func (f *fakeStore) RecordFailure(ctx context.Context, exec store.Execution) error {
	f.failures = append(f.failures, exec)
	return nil
}

func (f *fakeStore) UpsertVaultHolding(ctx context.Context, userAddress, vaultAddress, tokenSymbol, deltaSharesHuman string, decimals int) error {
	f.holdings++
	return nil
}

type fakeVaultAdapter struct {
	address common.Address
	result  vault.DepositResult
	err     error
}

func (f *fakeVaultAdapter) VaultAddress() common.Address { return f.address }

func (f *fakeVaultAdapter) Deposit(ctx context.Context, planIDTag string, token common.Address, amount *big.Int, tokenDecimals int, userAddress, executorAddress common.Address) (vault.DepositResult, error) {
	return f.result, f.err
}

func (f *fakeVaultAdapter) Withdraw(ctx context.Context, planIDTag string, token common.Address, shares *big.Int, shareDecimals int, userAddress, executorAddress common.Address) (vault.WithdrawResult, error) {
	return vault.WithdrawResult{}, nil
}

var (
	usdc = tokenregistry.Descriptor{Symbol: "USDC", ChainID: arbitrumChainID, Address: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", Decimals: 6}
	weth = tokenregistry.Descriptor{Symbol: "WETH", ChainID: arbitrumChainID, Address: "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1", Decimals: 18}
	user     = common.HexToAddress("0x1111111111111111111111111111111111111111")
	execAddr = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func newTestPipeline(registry *fakeRegistry, custody *fakeCustody, quoter *fakeQuoter, chain *fakeChain, ex *fakeExecutor, st *fakeStore, vaults []VaultBinding) *Pipeline {
	return New(registry, custody, quoter, chain, ex, st, common.HexToAddress("0x3333333333333333333333333333333333333333"), vaults)
}

func TestRun_FailsOnUnknownFromToken(t *testing.T) {
	registry := &fakeRegistry{descriptors: map[string]tokenregistry.Descriptor{"WETH": weth}}
	p := newTestPipeline(registry, &fakeCustody{}, &fakeQuoter{}, &fakeChain{}, &fakeExecutor{}, &fakeStore{}, nil)

	_, err := p.Run(context.Background(), Input{PlanID: "plan-1", FromTokenSymbol: "USDC", ToTokenSymbol: "WETH", AmountHuman: "100", UserAddress: user})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "token not found")
}

func TestRun_FailsOnQuoteUnavailable_AndRecordsFailure(t *testing.T) {
	registry := &fakeRegistry{descriptors: map[string]tokenregistry.Descriptor{"USDC": usdc, "WETH": weth}}
	custody := &fakeCustody{}
	quoter := &fakeQuoter{err: errors.New("service unreachable")}
	st := &fakeStore{}
	p := newTestPipeline(registry, custody, quoter, &fakeChain{}, &fakeExecutor{}, st, nil)

	_, err := p.Run(context.Background(), Input{PlanID: "plan-2", FromTokenSymbol: "USDC", ToTokenSymbol: "WETH", AmountHuman: "100", UserAddress: user})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "quote unavailable")
	assert.Equal(t, 1, custody.calls)
	assert.Len(t, st.failures, 1)
	assert.Equal(t, store.ExecutionStatusFailed, st.failures[0].Status)
}

func TestRun_SucceedsWithoutVault(t *testing.T) {
	registry := &fakeRegistry{descriptors: map[string]tokenregistry.Descriptor{"USDC": usdc, "WETH": weth}}
	custody := &fakeCustody{}
	quoter := &fakeQuoter{plan: &quoteclient.SwapPlan{
		Transactions: []quoteclient.Transaction{
			{ChainID: arbitrumChainID, To: "0x4444444444444444444444444444444444444444", Data: "0xabcdef", Value: "0x0"},
		},
		DisplayToAmount: "0.05",
	}}
	st := &fakeStore{}
	ex := &fakeExecutor{address: execAddr, result: executor.Result{FinalTxHash: common.HexToHash("0xaaaa"), GasCostEth: "0.001"}}
	p := newTestPipeline(registry, custody, quoter, &fakeChain{}, ex, st, nil)

	result, err := p.Run(context.Background(), Input{PlanID: "plan-3", FromTokenSymbol: "USDC", ToTokenSymbol: "WETH", AmountHuman: "100", UserAddress: user, SlippagePercent: "0.1"})
	assert.NoError(t, err)
	assert.Equal(t, "0.05", result.ToAmountHuman)
	assert.Len(t, ex.lastTxs, 1)
	assert.Equal(t, common.HexToAddress("0x4444444444444444444444444444444444444444"), ex.lastTxs[0].To)
	assert.Len(t, st.successes, 1)
	assert.Equal(t, minSlippagePercent, quoter.req.SlippageTolerance)
	assert.Empty(t, result.VaultAddress)
}

func TestRun_SucceedsWithVaultDeposit(t *testing.T) {
	registry := &fakeRegistry{descriptors: map[string]tokenregistry.Descriptor{"USDC": usdc, "WETH": weth}}
	custody := &fakeCustody{}
	quoter := &fakeQuoter{plan: &quoteclient.SwapPlan{
		Transactions:    []quoteclient.Transaction{{ChainID: arbitrumChainID, To: "0x4444444444444444444444444444444444444444", Data: "0x"}},
		DisplayToAmount: "0.05",
	}}
	chain := &fakeChain{balanceSeq: []*big.Int{big.NewInt(0), big.NewInt(50_000_000_000_000_000)}}
	ex := &fakeExecutor{address: execAddr, result: executor.Result{FinalTxHash: common.HexToHash("0xbbbb")}}
	st := &fakeStore{}
	adapter := &fakeVaultAdapter{address: common.HexToAddress("0x5555555555555555555555555555555555555555"), result: vault.DepositResult{ShareTokensHuman: "49.5", DepositTxHash: "0xcccc"}}

	p := newTestPipeline(registry, custody, quoter, chain, ex, st, []VaultBinding{{ToTokenSymbol: "weth", Adapter: adapter}})

	result, err := p.Run(context.Background(), Input{PlanID: "plan-4", FromTokenSymbol: "USDC", ToTokenSymbol: "WETH", AmountHuman: "100", UserAddress: user})
	assert.NoError(t, err)
	assert.Equal(t, "49.5", result.ShareTokensHuman)
	assert.Equal(t, "0xcccc", result.DepositTxHash)
	assert.Equal(t, 1, st.holdings)
	assert.Len(t, st.successes, 1)
	assert.NotNil(t, st.successes[0].VaultAddress)
}

func TestRun_SkipsVaultDepositWhenNothingReceived(t *testing.T) {
	registry := &fakeRegistry{descriptors: map[string]tokenregistry.Descriptor{"USDC": usdc, "WETH": weth}}
	custody := &fakeCustody{}
	quoter := &fakeQuoter{plan: &quoteclient.SwapPlan{
		Transactions:    []quoteclient.Transaction{{ChainID: arbitrumChainID, To: "0x4444444444444444444444444444444444444444", Data: "0x"}},
		DisplayToAmount: "0.05",
	}}
	chain := &fakeChain{balanceSeq: []*big.Int{big.NewInt(1000), big.NewInt(1000)}}
	ex := &fakeExecutor{address: execAddr, result: executor.Result{FinalTxHash: common.HexToHash("0xdddd")}}
	st := &fakeStore{}
	adapter := &fakeVaultAdapter{}

	p := newTestPipeline(registry, custody, quoter, chain, ex, st, []VaultBinding{{ToTokenSymbol: "WETH", Adapter: adapter}})

	result, err := p.Run(context.Background(), Input{PlanID: "plan-5", FromTokenSymbol: "USDC", ToTokenSymbol: "WETH", AmountHuman: "100", UserAddress: user})
	assert.NoError(t, err)
	assert.Empty(t, result.VaultAddress)
	assert.Equal(t, 0, st.holdings)
}

func TestClampSlippage(t *testing.T) {
	assert.Equal(t, "0.3", clampSlippage("0.1"))
	assert.Equal(t, "1.5", clampSlippage("1.5"))
	assert.Equal(t, "0.3", clampSlippage("not-a-number"))
}

func TestToTransactionPlan_ParsesHexFields(t *testing.T) {
	tx := quoteclient.Transaction{
		ChainID:      arbitrumChainID,
		To:           "0x4444444444444444444444444444444444444444",
		Data:         "0xa9059cbb",
		Value:        "0x5",
		MaxFeePerGas: "1000000000",
	}
	plan, err := toTransactionPlan(tx)
	assert.NoError(t, err)
	assert.Equal(t, []byte{0xa9, 0x05, 0x9c, 0xbb}, plan.Data)
	assert.Equal(t, big.NewInt(5), plan.Value)
	assert.Equal(t, big.NewInt(1000000000), plan.MaxFeePerGas)
}
