// Package pipeline is the Swap Pipeline (spec §4.2): executes exactly one
// DCA iteration for a plan, orchestrating token resolution, custody, the
// quote, the transaction batch, an optional vault deposit, and the
// Execution/Plan bookkeeping that follows.
package pipeline

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/DCA-MiniApp/dca-core-engine/internal/dcaerr"
	"github.com/DCA-MiniApp/dca-core-engine/internal/decimal"
	"github.com/DCA-MiniApp/dca-core-engine/internal/executor"
	"github.com/DCA-MiniApp/dca-core-engine/internal/quoteclient"
	"github.com/DCA-MiniApp/dca-core-engine/internal/store"
	"github.com/DCA-MiniApp/dca-core-engine/internal/tokenregistry"
	"github.com/DCA-MiniApp/dca-core-engine/internal/vault"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// arbitrumChainID is the only chain the pipeline resolves tokens or builds
// transaction plans for (spec §9 single-chain assumption).
const arbitrumChainID int64 = 42161

// minSlippagePercent is the floor spec §4.2 requires: values below this are
// clamped up before being sent to the quote.
const minSlippagePercent = "0.3"

// tokenResolver is the subset of *tokenregistry.Registry the pipeline reads.
type tokenResolver interface {
	Lookup(symbol string, chainID int64) (tokenregistry.Descriptor, bool)
}

// custodyEnsurer is the subset of *custody.Manager the pipeline calls.
type custodyEnsurer interface {
	EnsureCustody(ctx context.Context, planIDTag string, tokenAddress common.Address, atomicAmount *big.Int, userAddress, executorAddress, routerAddress common.Address) error
}

// swapQuoter is the subset of *quoteclient.Client the pipeline calls.
type swapQuoter interface {
	CreateSwap(ctx context.Context, req quoteclient.CreateSwapRequest) (*quoteclient.SwapPlan, error)
}

// chainReads is the subset of *chainclient.Client the pipeline needs for its
// own pre/post balance snapshots around a vault deposit.
type chainReads interface {
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
}

// batchExecutor is the subset of *executor.Executor the pipeline hands the
// quote's transaction batch to.
type batchExecutor interface {
	ExecuteBatch(ctx context.Context, planIDTag string, txs []executor.TransactionPlan) (executor.Result, error)
	Address() common.Address
}

// planStore is the subset of *store.Store the pipeline writes bookkeeping
// rows through.
type planStore interface {
	RecordSuccess(ctx context.Context, exec store.Execution, now time.Time) error
	RecordFailure(ctx context.Context, exec store.Execution) error
	UpsertVaultHolding(ctx context.Context, userAddress, vaultAddress, tokenSymbol, deltaSharesHuman string, decimals int) error
}

// VaultBinding pairs a vault adapter with the destination token symbol it
// accepts deposits for (spec §4.2 step 4, "if the destination token has a
// configured vault").
type VaultBinding struct {
	ToTokenSymbol string
	Adapter       vault.Adapter
}

// Pipeline wires the Swap Pipeline's collaborators together. Router and the
// vault bindings are fixed at construction time, the way the deployment's
// router/vault addresses are fixed configuration (spec §9).
type Pipeline struct {
	registry tokenResolver
	custody  custodyEnsurer
	quote    swapQuoter
	chain    chainReads
	exec     batchExecutor
	store    planStore
	router   common.Address
	vaults   map[string]vault.Adapter
}

// New builds a Swap Pipeline. vaults maps an uppercase token symbol to the
// adapter that accepts deposits of that token; a symbol with no entry has no
// vault configured.
func New(registry tokenResolver, custody custodyEnsurer, quote swapQuoter, chain chainReads, exec batchExecutor, planStore planStore, router common.Address, vaults []VaultBinding) *Pipeline {
	byToken := make(map[string]vault.Adapter, len(vaults))
	for _, v := range vaults {
		byToken[normalizeSymbol(v.ToTokenSymbol)] = v.Adapter
	}
	return &Pipeline{
		registry: registry,
		custody:  custody,
		quote:    quote,
		chain:    chain,
		exec:     exec,
		store:    planStore,
		router:   router,
		vaults:   byToken,
	}
}

// Input is one DCA iteration's instruction set (spec §4.2 "Inputs").
type Input struct {
	PlanID          string
	FromTokenSymbol string
	ToTokenSymbol   string
	AmountHuman     string
	UserAddress     common.Address
	SlippagePercent string
}

// Result is what a successful iteration produced. Run has already recorded
// the matching Execution row itself; the scheduler discards the Result, and
// it is returned for callers invoking the pipeline directly (e.g. a manual
// "run now").
type Result struct {
	FinalTxHash      string
	FromAmountHuman  string
	ToAmountHuman    string
	ExchangeRate     string
	GasFeeEth        string
	VaultAddress     string
	ShareTokensHuman string
	DepositTxHash    string
}

// Run executes spec §4.2's seven-step algorithm for one iteration. On
// success it writes a SUCCESS Execution and advances the Plan; on any
// failure it writes a FAILED Execution (when in.PlanID is non-empty) and
// returns the error without advancing anything.
func (p *Pipeline) Run(ctx context.Context, in Input) (Result, error) {
	result, err := p.run(ctx, in)
	if err != nil {
		p.recordFailure(ctx, in, err)
		return Result{}, err
	}
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, in Input) (Result, error) {
	fromDesc, ok := p.registry.Lookup(in.FromTokenSymbol, arbitrumChainID)
	if !ok {
		return Result{}, fmt.Errorf("pipeline: %s: %w: %s", in.PlanID, dcaerr.ErrTokenNotFound, in.FromTokenSymbol)
	}
	toDesc, ok := p.registry.Lookup(in.ToTokenSymbol, arbitrumChainID)
	if !ok {
		return Result{}, fmt.Errorf("pipeline: %s: %w: %s", in.PlanID, dcaerr.ErrTokenNotFound, in.ToTokenSymbol)
	}

	fromToken := common.HexToAddress(fromDesc.Address)
	toToken := common.HexToAddress(toDesc.Address)
	executorAddress := p.exec.Address()

	atomicAmount, err := decimal.ParseUnits(in.AmountHuman, fromDesc.Decimals)
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: %s: %w: %s", in.PlanID, dcaerr.ErrValidation, err)
	}

	if err := p.custody.EnsureCustody(ctx, in.PlanID, fromToken, atomicAmount, in.UserAddress, executorAddress, p.router); err != nil {
		return Result{}, fmt.Errorf("pipeline: %s: custody: %w", in.PlanID, err)
	}

	plan, err := p.quote.CreateSwap(ctx, quoteclient.CreateSwapRequest{
		BaseToken:         fromDesc.Address,
		QuoteToken:        toDesc.Address,
		Amount:            atomicAmount.String(),
		Recipient:         in.UserAddress.Hex(),
		SlippageTolerance: clampSlippage(in.SlippagePercent),
	})
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: %s: %w: %s", in.PlanID, dcaerr.ErrQuoteUnavailable, err)
	}

	vaultAdapter, hasVault := p.vaults[normalizeSymbol(in.ToTokenSymbol)]

	var balanceBefore *big.Int
	if hasVault {
		balanceBefore, err = p.chain.BalanceOf(ctx, toToken, executorAddress)
		if err != nil {
			return Result{}, fmt.Errorf("pipeline: %s: failed to snapshot pre-swap balance: %w", in.PlanID, err)
		}
	}

	txs := make([]executor.TransactionPlan, len(plan.Transactions))
	for i, tx := range plan.Transactions {
		converted, err := toTransactionPlan(tx)
		if err != nil {
			return Result{}, fmt.Errorf("pipeline: %s: tx %d: %w", in.PlanID, i, err)
		}
		txs[i] = converted
	}

	execResult, err := p.exec.ExecuteBatch(ctx, in.PlanID, txs)
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: %s: execute: %w", in.PlanID, err)
	}

	result := Result{
		FinalTxHash:     execResult.FinalTxHash.Hex(),
		FromAmountHuman: in.AmountHuman,
		ToAmountHuman:   plan.DisplayToAmount,
		ExchangeRate:    plan.Estimation.EffectivePrice,
		GasFeeEth:       execResult.GasCostEth,
	}

	if hasVault {
		balanceAfter, err := p.chain.BalanceOf(ctx, toToken, executorAddress)
		if err != nil {
			return Result{}, fmt.Errorf("pipeline: %s: failed to snapshot post-swap balance: %w", in.PlanID, err)
		}
		received := new(big.Int).Sub(balanceAfter, balanceBefore)
		if received.Sign() > 0 {
			depositResult, err := vaultAdapter.Deposit(ctx, in.PlanID, toToken, received, toDesc.Decimals, in.UserAddress, executorAddress)
			if err != nil {
				return Result{}, fmt.Errorf("pipeline: %s: vault deposit: %w", in.PlanID, err)
			}
			vaultAddress := vaultAdapter.VaultAddress()
			if err := p.store.UpsertVaultHolding(ctx, in.UserAddress.Hex(), vaultAddress.Hex(), in.ToTokenSymbol, depositResult.ShareTokensHuman, toDesc.Decimals); err != nil {
				return Result{}, fmt.Errorf("pipeline: %s: failed to update vault holding: %w", in.PlanID, err)
			}
			result.VaultAddress = vaultAddress.Hex()
			result.ShareTokensHuman = depositResult.ShareTokensHuman
			result.DepositTxHash = depositResult.DepositTxHash
		}
	}

	if err := p.recordSuccess(ctx, in, result); err != nil {
		return Result{}, fmt.Errorf("pipeline: %s: %w", in.PlanID, err)
	}

	return result, nil
}

// recordSuccess writes the SUCCESS Execution row; the Plan advance itself
// (executionCount, status, nextExecutionAt) is store.RecordSuccess's job per
// spec §4.2 step 7.
func (p *Pipeline) recordSuccess(ctx context.Context, in Input, result Result) error {
	if in.PlanID == "" {
		return nil
	}
	planID := in.PlanID
	txHash := result.FinalTxHash
	gasFee := result.GasFeeEth

	exec := store.Execution{
		ID:           uuid.NewString(),
		PlanID:       &planID,
		ExecutedAt:   time.Now(),
		FromAmount:   result.FromAmountHuman,
		ToAmount:     result.ToAmountHuman,
		ExchangeRate: result.ExchangeRate,
		GasFee:       &gasFee,
		TxHash:       &txHash,
		Status:       store.ExecutionStatusSuccess,
	}
	if result.VaultAddress != "" {
		exec.VaultAddress = &result.VaultAddress
		exec.ShareTokens = &result.ShareTokensHuman
		exec.DepositTxHash = &result.DepositTxHash
	}
	return p.store.RecordSuccess(ctx, exec, time.Now())
}

// recordFailure writes the FAILED Execution row spec §4.2's "On any
// failure" paragraph requires, when a planId is present. Errors from this
// best-effort write are intentionally swallowed: the original error is what
// the caller needs to see and act on.
func (p *Pipeline) recordFailure(ctx context.Context, in Input, runErr error) {
	if in.PlanID == "" {
		return
	}
	planID := in.PlanID
	msg := runErr.Error()
	exec := store.Execution{
		ID:           uuid.NewString(),
		PlanID:       &planID,
		ExecutedAt:   time.Now(),
		FromAmount:   in.AmountHuman,
		ToAmount:     "0",
		ExchangeRate: "0",
		Status:       store.ExecutionStatusFailed,
		ErrorMessage: &msg,
	}
	_ = p.store.RecordFailure(ctx, exec)
}

// toTransactionPlan converts one quoteclient.Transaction's string-encoded
// fields into the typed form executor.ExecuteBatch requires.
func toTransactionPlan(tx quoteclient.Transaction) (executor.TransactionPlan, error) {
	data, err := hexToBytes(tx.Data)
	if err != nil {
		return executor.TransactionPlan{}, fmt.Errorf("invalid data: %w", err)
	}

	out := executor.TransactionPlan{
		ChainID: tx.ChainID,
		To:      common.HexToAddress(tx.To),
		Data:    data,
	}

	if tx.Value != "" {
		v, ok := new(big.Int).SetString(tx.Value, 0)
		if !ok {
			return executor.TransactionPlan{}, fmt.Errorf("invalid value %q", tx.Value)
		}
		out.Value = v
	}
	if tx.Gas != "" {
		g, ok := new(big.Int).SetString(tx.Gas, 0)
		if !ok {
			return executor.TransactionPlan{}, fmt.Errorf("invalid gas %q", tx.Gas)
		}
		gas := g.Uint64()
		out.Gas = &gas
	}
	if tx.GasPrice != "" {
		v, ok := new(big.Int).SetString(tx.GasPrice, 0)
		if !ok {
			return executor.TransactionPlan{}, fmt.Errorf("invalid gasPrice %q", tx.GasPrice)
		}
		out.GasPrice = v
	}
	if tx.MaxFeePerGas != "" {
		v, ok := new(big.Int).SetString(tx.MaxFeePerGas, 0)
		if !ok {
			return executor.TransactionPlan{}, fmt.Errorf("invalid maxFeePerGas %q", tx.MaxFeePerGas)
		}
		out.MaxFeePerGas = v
	}
	if tx.MaxPriorityFeePerGas != "" {
		v, ok := new(big.Int).SetString(tx.MaxPriorityFeePerGas, 0)
		if !ok {
			return executor.TransactionPlan{}, fmt.Errorf("invalid maxPriorityFeePerGas %q", tx.MaxPriorityFeePerGas)
		}
		out.MaxPriorityFeePerGas = v
	}
	return out, nil
}

func hexToBytes(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s)%2 != 0 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

// clampSlippage enforces spec §4.2's 0.3% floor.
func clampSlippage(percent string) string {
	v, ok := new(big.Float).SetString(percent)
	if !ok {
		return minSlippagePercent
	}
	floor, _ := new(big.Float).SetString(minSlippagePercent)
	if v.Cmp(floor) < 0 {
		return minSlippagePercent
	}
	return percent
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(symbol)
}
