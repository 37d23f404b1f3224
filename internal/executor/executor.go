// Package executor is the Transaction Executor (spec §4.4): the single
// writer of signed transactions. It owns the hot key, the nonce cache, and
// EIP-1559/legacy fee assembly, and is the only component in this module
// that ever calls chainclient.SendTransaction — the Custody Manager and
// Vault Integration build call data via internal/chainclient's Pack*
// helpers and hand it here to actually sign and broadcast.
package executor

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/DCA-MiniApp/dca-core-engine/internal/chainclient"
	"github.com/DCA-MiniApp/dca-core-engine/internal/dcaerr"
	"github.com/DCA-MiniApp/dca-core-engine/internal/retry"
	"github.com/DCA-MiniApp/dca-core-engine/internal/txlistener"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	gasBufferNumerator   = 12
	gasBufferDenominator = 10
	nonceCacheWindow     = 5 * time.Second
	receiptTimeout       = 120 * time.Second
	sendRetries          = 3
	sendRetryDelay       = 2 * time.Second

	// ArbitrumChainID is the only chain this executor will sign for
	// (spec §9 single-chain assumption).
	ArbitrumChainID int64 = 42161
)

// TransactionPlan is the executor's view of one atomic transaction handed
// down from the Quote Client (spec §3 TransactionPlan). Values here are
// treated as immutable input.
type TransactionPlan struct {
	ChainID              int64
	To                   common.Address
	Data                 []byte
	Value                *big.Int
	Gas                  *uint64
	GasPrice             *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// Result is the outcome of a successful ExecuteBatch (spec §4.4).
type Result struct {
	FinalTxHash common.Hash
	GasUsed     uint64
	GasCostEth  string
}

type nonceCache struct {
	mu          sync.Mutex
	value       uint64
	populated   bool
	lastUpdated time.Time
}

// chainReader is the subset of *chainclient.Client the executor depends
// on, narrowed to an interface the way the teacher's Blackhole struct
// depends on the ContractClient/TxListener interfaces rather than concrete
// types — lets tests fake the chain without dialing an RPC.
type chainReader interface {
	EthBalanceOf(ctx context.Context, account common.Address) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	LatestBaseFee(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// receiptWaiter is the subset of *txlistener.TxListener the executor needs.
type receiptWaiter interface {
	WaitForTransactionContext(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// callContractor is the subset needed for revert-reason replay; split from
// chainReader since it reaches into the raw ethclient for eth_call at a
// specific block.
type callContractor interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Executor signs and broadcasts transaction batches for a single hot key.
// writeMu is the single-writer lock spec §5 requires: only one batch may
// occupy the executor at a time so nonce sequencing stays correct.
type Executor struct {
	chain      chainReader
	caller     callContractor
	listener   receiptWaiter
	privateKey *ecdsa.PrivateKey
	address    common.Address

	writeMu sync.Mutex
	nonces  nonceCache
}

// New builds an Executor bound to one hot key. listener waits for receipts
// after broadcast.
func New(chain *chainclient.Client, listener *txlistener.TxListener, privateKey *ecdsa.PrivateKey) *Executor {
	publicKey := privateKey.Public().(*ecdsa.PublicKey)
	return &Executor{
		chain:      chain,
		caller:     chain.Eth,
		listener:   listener,
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(*publicKey),
	}
}

// newForTest wires arbitrary fakes, used only by this package's tests.
func newForTest(chain chainReader, caller callContractor, listener receiptWaiter, privateKey *ecdsa.PrivateKey) *Executor {
	publicKey := privateKey.Public().(*ecdsa.PublicKey)
	return &Executor{
		chain:      chain,
		caller:     caller,
		listener:   listener,
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(*publicKey),
	}
}

// Address returns the executor's signing address.
func (e *Executor) Address() common.Address {
	return e.address
}

// ExecuteBatch signs and broadcasts txs in order, waiting for each receipt
// before sending the next (spec §4.4 algorithm). planIDTag is used only in
// wrapped error messages for traceability.
func (e *Executor) ExecuteBatch(ctx context.Context, planIDTag string, txs []TransactionPlan) (Result, error) {
	if len(txs) == 0 {
		return Result{}, fmt.Errorf("executor: %s: %w: empty transaction batch", planIDTag, dcaerr.ErrValidation)
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.resetNonceCache()

	var (
		finalHash  common.Hash
		gasUsed    uint64
		gasCostWei = new(big.Int)
	)

	for i, plan := range txs {
		if err := validatePlan(plan); err != nil {
			return Result{}, fmt.Errorf("executor: %s: tx %d: %w", planIDTag, i, err)
		}

		if plan.Value != nil && plan.Value.Sign() > 0 {
			balance, err := e.chain.EthBalanceOf(ctx, e.address)
			if err != nil {
				return Result{}, fmt.Errorf("executor: %s: tx %d: failed to read eth balance: %w", planIDTag, i, err)
			}
			if balance.Cmp(plan.Value) < 0 {
				return Result{}, fmt.Errorf("executor: %s: tx %d: %w: need %s wei, have %s", planIDTag, i, dcaerr.ErrInsufficientEth, plan.Value, balance)
			}
		}

		receipt, hash, err := e.sendWithRetry(ctx, planIDTag, i, plan)
		if err != nil {
			return Result{}, err
		}

		if receipt.Status != types.ReceiptStatusSuccessful {
			reason := e.decodeRevertReason(ctx, plan, receipt)
			return Result{}, &dcaerr.RevertedError{TxHash: hash.Hex(), Reason: reason}
		}

		gasUsed += receipt.GasUsed
		effectivePrice := receipt.EffectiveGasPrice
		if effectivePrice == nil || effectivePrice.Sign() == 0 {
			effectivePrice = effectiveFeeFallback(plan)
		}
		gasCostWei.Add(gasCostWei, new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), effectivePrice))
		finalHash = hash
	}

	return Result{
		FinalTxHash: finalHash,
		GasUsed:     gasUsed,
		GasCostEth:  weiToEth(gasCostWei),
	}, nil
}

// sendWithRetry sends one transaction, retrying on nonce-shaped errors per
// spec §4.4 ("Retry" paragraph): up to 3 attempts, 2s backoff, cache reset
// before each retry.
func (e *Executor) sendWithRetry(ctx context.Context, planIDTag string, index int, plan TransactionPlan) (*types.Receipt, common.Hash, error) {
	var (
		receipt *types.Receipt
		hash    common.Hash
	)

	err := retry.Do(ctx, fmt.Sprintf("executor.send[%s:%d]", planIDTag, index), sendRetries, sendRetryDelay, retry.Nonce, func() error {
		nonce, err := e.nextNonce(ctx, false)
		if err != nil {
			return fmt.Errorf("failed to acquire nonce: %w", err)
		}

		gasLimit, err := e.estimateGasWithBuffer(ctx, plan)
		if err != nil {
			return fmt.Errorf("failed to estimate gas: %w", err)
		}

		signedTx, err := e.buildAndSign(ctx, plan, nonce, gasLimit)
		if err != nil {
			return fmt.Errorf("failed to sign transaction: %w", err)
		}

		if sendErr := e.chain.SendTransaction(ctx, signedTx); sendErr != nil {
			e.resetNonceCache()
			return fmt.Errorf("failed to broadcast transaction: %w", sendErr)
		}

		waitCtx, cancel := context.WithTimeout(ctx, receiptTimeout)
		defer cancel()
		r, waitErr := e.listener.WaitForTransactionContext(waitCtx, signedTx.Hash())
		if waitErr != nil {
			e.resetNonceCache()
			return fmt.Errorf("failed waiting for receipt: %w", waitErr)
		}

		receipt = r
		hash = signedTx.Hash()
		return nil
	})
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("executor: %s: tx %d: %w", planIDTag, index, err)
	}
	return receipt, hash, nil
}

func (e *Executor) estimateGasWithBuffer(ctx context.Context, plan TransactionPlan) (uint64, error) {
	if plan.Gas != nil {
		return *plan.Gas, nil
	}
	value := plan.Value
	if value == nil {
		value = big.NewInt(0)
	}
	estimate, err := e.chain.EstimateGas(ctx, ethereum.CallMsg{
		From:  e.address,
		To:    &plan.To,
		Data:  plan.Data,
		Value: value,
	})
	if err != nil {
		return 0, err
	}
	return estimate * gasBufferNumerator / gasBufferDenominator, nil
}

func (e *Executor) buildAndSign(ctx context.Context, plan TransactionPlan, nonce, gasLimit uint64) (*types.Transaction, error) {
	value := plan.Value
	if value == nil {
		value = big.NewInt(0)
	}

	var txData types.TxData
	if plan.MaxFeePerGas != nil && plan.MaxPriorityFeePerGas != nil {
		txData = &types.DynamicFeeTx{
			ChainID:   big.NewInt(plan.ChainID),
			Nonce:     nonce,
			GasTipCap: plan.MaxPriorityFeePerGas,
			GasFeeCap: plan.MaxFeePerGas,
			Gas:       gasLimit,
			To:        &plan.To,
			Value:     value,
			Data:      plan.Data,
		}
	} else if plan.GasPrice != nil {
		txData = &types.LegacyTx{
			Nonce:    nonce,
			GasPrice: plan.GasPrice,
			Gas:      gasLimit,
			To:       &plan.To,
			Value:    value,
			Data:     plan.Data,
		}
	} else {
		tip, err := e.chain.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to suggest gas tip cap: %w", err)
		}
		baseFee, err := e.chain.LatestBaseFee(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read latest base fee: %w", err)
		}
		feeCap := new(big.Int).Add(baseFee, baseFee)
		feeCap.Add(feeCap, tip)
		txData = &types.DynamicFeeTx{
			ChainID:   big.NewInt(plan.ChainID),
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gasLimit,
			To:        &plan.To,
			Value:     value,
			Data:      plan.Data,
		}
	}

	signer := types.LatestSignerForChainID(big.NewInt(plan.ChainID))
	return types.SignNewTx(e.privateKey, signer, txData)
}

// nextNonce implements spec §4.4's caching algorithm: a cached value valid
// for 5 seconds, refreshed from chain on expiry, force-refresh, or on a
// cold cache.
func (e *Executor) nextNonce(ctx context.Context, forceRefresh bool) (uint64, error) {
	e.nonces.mu.Lock()
	defer e.nonces.mu.Unlock()

	expired := !e.nonces.populated || time.Since(e.nonces.lastUpdated) > nonceCacheWindow
	if forceRefresh || expired {
		fresh, err := e.chain.PendingNonceAt(ctx, e.address)
		if err != nil {
			return 0, err
		}
		e.nonces.value = fresh
		e.nonces.populated = true
		e.nonces.lastUpdated = time.Now()
		return e.nonces.value, nil
	}

	e.nonces.value++
	return e.nonces.value, nil
}

func (e *Executor) resetNonceCache() {
	e.nonces.mu.Lock()
	e.nonces.populated = false
	e.nonces.mu.Unlock()
}

func validatePlan(plan TransactionPlan) error {
	if plan.ChainID != ArbitrumChainID {
		return fmt.Errorf("%w: unsupported chain id %d", dcaerr.ErrValidation, plan.ChainID)
	}
	if plan.To == (common.Address{}) {
		return fmt.Errorf("%w: missing destination address", dcaerr.ErrValidation)
	}
	return nil
}

// effectiveFeeFallback mirrors spec §4.4 step 2h's fallback: use the
// transaction's own gasPrice/maxFeePerGas when the receipt doesn't report
// an effective gas price.
func effectiveFeeFallback(plan TransactionPlan) *big.Int {
	if plan.GasPrice != nil {
		return plan.GasPrice
	}
	if plan.MaxFeePerGas != nil {
		return plan.MaxFeePerGas
	}
	return big.NewInt(0)
}

// decodeRevertReason best-effort replays the reverted call at the mined
// block to recover its revert string (spec §4.4 step 2g: "attempt to
// decode revert reason from the error cause chain"). A plain receipt
// carries no reason, so the call is replayed via eth_call, which surfaces
// the same revert data the node rejected the transaction with. Returns ""
// when nothing decodable is found — callers still surface
// TransactionReverted either way.
func (e *Executor) decodeRevertReason(ctx context.Context, plan TransactionPlan, receipt *types.Receipt) string {
	value := plan.Value
	if value == nil {
		value = big.NewInt(0)
	}
	_, callErr := e.caller.CallContract(ctx, ethereum.CallMsg{
		From:  e.address,
		To:    &plan.To,
		Data:  plan.Data,
		Value: value,
	}, receipt.BlockNumber)
	if callErr == nil {
		return ""
	}
	return extractRevertString(callErr.Error())
}

// extractRevertString pulls a human-readable reason out of an ABI-encoded
// Error(string) revert payload embedded in an error message, if present.
func extractRevertString(msg string) string {
	const marker = "0x08c379a0"
	idx := strings.Index(msg, marker)
	if idx < 0 {
		return strings.TrimSpace(msg)
	}
	raw := strings.TrimPrefix(msg[idx:], "0x")
	data, err := hex.DecodeString(raw)
	if err != nil || len(data) < 4+32+32 {
		return strings.TrimSpace(msg)
	}
	length := new(big.Int).SetBytes(data[4+32 : 4+64]).Uint64()
	if uint64(len(data)) < 4+64+length {
		return strings.TrimSpace(msg)
	}
	return string(data[4+64 : 4+64+length])
}

func weiToEth(wei *big.Int) string {
	ethFloat := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e18))
	return ethFloat.Text('f', 18)
}
