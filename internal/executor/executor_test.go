package executor

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
)

type fakeChain struct {
	ethBalance   *big.Int
	gasEstimate  uint64
	nonce        uint64
	nonceCalls   int
	tip          *big.Int
	baseFee      *big.Int
	sendErrs     []error
	sendCalls    int
	lastGasLimit uint64
}

func (f *fakeChain) EthBalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return f.ethBalance, nil
}

func (f *fakeChain) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return f.gasEstimate, nil
}

func (f *fakeChain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.nonceCalls++
	return f.nonce, nil
}

func (f *fakeChain) SuggestGasTipCap(ctx context.Context) (*big.Int, error) { return f.tip, nil }
func (f *fakeChain) LatestBaseFee(ctx context.Context) (*big.Int, error)    { return f.baseFee, nil }

func (f *fakeChain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	idx := f.sendCalls
	f.sendCalls++
	if idx < len(f.sendErrs) {
		return f.sendErrs[idx]
	}
	return nil
}

type fakeCaller struct {
	err error
}

func (f *fakeCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return nil, f.err
}

type fakeListener struct {
	receipt *types.Receipt
	err     error
}

func (f *fakeListener) WaitForTransactionContext(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return f.receipt, f.err
}

func TestExecuteBatch_Success(t *testing.T) {
	key, err := crypto.GenerateKey()
	assert.NoError(t, err)

	chain := &fakeChain{
		ethBalance:  big.NewInt(0),
		gasEstimate: 100000,
		nonce:       5,
		tip:         big.NewInt(1_000_000_000),
		baseFee:     big.NewInt(10_000_000_000),
	}
	listener := &fakeListener{receipt: &types.Receipt{
		Status:            types.ReceiptStatusSuccessful,
		GasUsed:           120000,
		EffectiveGasPrice: big.NewInt(12_000_000_000),
	}}

	exec := newForTest(chain, &fakeCaller{}, listener, key)

	plans := []TransactionPlan{
		{ChainID: ArbitrumChainID, To: common.HexToAddress("0x1111111111111111111111111111111111111111"), Data: []byte{0x01}},
	}

	result, err := exec.ExecuteBatch(context.Background(), "plan-1", plans)
	assert.NoError(t, err)
	assert.Equal(t, uint64(120000), result.GasUsed)
	assert.NotEmpty(t, result.GasCostEth)
	assert.Equal(t, 1, chain.nonceCalls)
}

func TestExecuteBatch_RejectsWrongChainID(t *testing.T) {
	key, err := crypto.GenerateKey()
	assert.NoError(t, err)
	exec := newForTest(&fakeChain{}, &fakeCaller{}, &fakeListener{}, key)

	_, err = exec.ExecuteBatch(context.Background(), "plan-2", []TransactionPlan{
		{ChainID: 1, To: common.HexToAddress("0x1111111111111111111111111111111111111111")},
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported chain id")
}

func TestExecuteBatch_InsufficientEth(t *testing.T) {
	key, err := crypto.GenerateKey()
	assert.NoError(t, err)
	chain := &fakeChain{ethBalance: big.NewInt(10)}
	exec := newForTest(chain, &fakeCaller{}, &fakeListener{}, key)

	_, err = exec.ExecuteBatch(context.Background(), "plan-3", []TransactionPlan{
		{ChainID: ArbitrumChainID, To: common.HexToAddress("0x1111111111111111111111111111111111111111"), Value: big.NewInt(1000)},
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient eth")
}

func TestExecuteBatch_RetriesOnNonceError(t *testing.T) {
	key, err := crypto.GenerateKey()
	assert.NoError(t, err)

	chain := &fakeChain{
		ethBalance:  big.NewInt(0),
		gasEstimate: 21000,
		nonce:       7,
		tip:         big.NewInt(1),
		baseFee:     big.NewInt(1),
		sendErrs:    []error{errors.New("nonce too low")},
	}
	listener := &fakeListener{receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful, GasUsed: 21000, EffectiveGasPrice: big.NewInt(1)}}

	exec := newForTest(chain, &fakeCaller{}, listener, key)

	result, err := exec.ExecuteBatch(context.Background(), "plan-4", []TransactionPlan{
		{ChainID: ArbitrumChainID, To: common.HexToAddress("0x2222222222222222222222222222222222222222")},
	})
	assert.NoError(t, err)
	assert.Equal(t, uint64(21000), result.GasUsed)
	assert.Equal(t, 2, chain.sendCalls)
	assert.True(t, chain.nonceCalls >= 2)
}

func TestExecuteBatch_RevertedTransaction(t *testing.T) {
	key, err := crypto.GenerateKey()
	assert.NoError(t, err)

	chain := &fakeChain{ethBalance: big.NewInt(0), gasEstimate: 21000, nonce: 1, tip: big.NewInt(1), baseFee: big.NewInt(1)}
	listener := &fakeListener{receipt: &types.Receipt{Status: types.ReceiptStatusFailed, GasUsed: 21000}}
	exec := newForTest(chain, &fakeCaller{err: errors.New("execution reverted: insufficient output")}, listener, key)

	_, err = exec.ExecuteBatch(context.Background(), "plan-5", []TransactionPlan{
		{ChainID: ArbitrumChainID, To: common.HexToAddress("0x3333333333333333333333333333333333333333")},
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "reverted")
}

func TestExtractRevertString_DecodesABIEncodedReason(t *testing.T) {
	// Error(string) selector 0x08c379a0 + offset(32) + length(32) + "bad" padded
	hexPayload := "0x08c379a0" +
		"0000000000000000000000000000000000000000000000000000000000000020" +
		"0000000000000000000000000000000000000000000000000000000000000003" +
		"6261640000000000000000000000000000000000000000000000000000000000"
	reason := extractRevertString("execution reverted, data: " + hexPayload)
	assert.Equal(t, "bad", reason)
}

func TestWeiToEth(t *testing.T) {
	eth := weiToEth(big.NewInt(1_000_000_000_000_000_000))
	assert.Contains(t, eth, "1.000000000000000000")
}
