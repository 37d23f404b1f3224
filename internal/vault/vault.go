// Package vault is the Vault Integration (spec §4.5): optional post-swap
// deposit of received assets into a yield vault, and withdrawal back out,
// using balance-diff accounting rather than trusting any contract return
// value (spec §9 "Balance-delta accounting").
package vault

import (
	"context"
	"fmt"
	"math/big"

	"github.com/DCA-MiniApp/dca-core-engine/internal/chainclient"
	"github.com/DCA-MiniApp/dca-core-engine/internal/dcaerr"
	"github.com/DCA-MiniApp/dca-core-engine/internal/decimal"
	"github.com/DCA-MiniApp/dca-core-engine/internal/executor"

	"github.com/ethereum/go-ethereum/common"
)

// maxUint256 mirrors custody's approval ceiling.
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// DepositResult is returned by Adapter.Deposit.
type DepositResult struct {
	ShareTokensHuman string
	DepositTxHash    string
}

// WithdrawResult is returned by Adapter.Withdraw.
type WithdrawResult struct {
	AssetsReceivedHuman string
	WithdrawTxHash      string
}

// chainReads is the subset of chainclient.Client the vault adapters read
// from, narrowed to an interface for testability.
type chainReads interface {
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
	Decimals(ctx context.Context, contract common.Address) (int, error)
}

// batchExecutor mirrors custody's dependency on the single Transaction
// Executor for every signed write.
type batchExecutor interface {
	ExecuteBatch(ctx context.Context, planIDTag string, txs []executor.TransactionPlan) (executor.Result, error)
}

// Adapter is the single interface the Swap Pipeline depends on, with two
// concrete implementations selected at configuration time (spec §9 "Vault
// interface variance").
type Adapter interface {
	VaultAddress() common.Address
	Deposit(ctx context.Context, planIDTag string, token common.Address, amount *big.Int, tokenDecimals int, userAddress, executorAddress common.Address) (DepositResult, error)
	Withdraw(ctx context.Context, planIDTag string, token common.Address, shares *big.Int, shareDecimals int, userAddress, executorAddress common.Address) (WithdrawResult, error)
}

// base holds the fields and the deposit pre-flight both adapters share:
// balance check and allowance top-up. Each adapter reads the vault's
// decimals itself.
type base struct {
	chain chainReads
	exec  batchExecutor
	vault common.Address
}

func (b *base) VaultAddress() common.Address { return b.vault }

// ensureAllowance tops up the executor→vault allowance if insufficient,
// mirroring the Custody Manager's approve-if-insufficient pattern (spec
// §4.5 step 2).
func (b *base) ensureAllowance(ctx context.Context, planIDTag string, token common.Address, executorAddress common.Address, amount *big.Int) error {
	allowance, err := b.chain.Allowance(ctx, token, executorAddress, b.vault)
	if err != nil {
		return fmt.Errorf("vault: %s: failed to read vault allowance: %w", planIDTag, err)
	}
	if allowance.Cmp(amount) >= 0 {
		return nil
	}
	data, err := chainclient.PackApprove(b.vault, maxUint256)
	if err != nil {
		return fmt.Errorf("vault: %s: failed to pack vault approve: %w", planIDTag, err)
	}
	_, err = b.exec.ExecuteBatch(ctx, planIDTag+":approve-vault", []executor.TransactionPlan{
		{ChainID: executor.ArbitrumChainID, To: token, Data: data},
	})
	if err != nil {
		return fmt.Errorf("vault: %s: failed to approve vault: %w", planIDTag, err)
	}
	return nil
}

func (b *base) checkBalance(ctx context.Context, planIDTag string, token, owner common.Address, amount *big.Int) error {
	balance, err := b.chain.BalanceOf(ctx, token, owner)
	if err != nil {
		return fmt.Errorf("vault: %s: failed to read balance: %w", planIDTag, err)
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("vault: %s: %w: have %s, need %s", planIDTag, dcaerr.ErrInsufficientBalance, balance, amount)
	}
	return nil
}

// ERC4626Adapter deposits/redeems through the ERC-4626 form: deposit takes
// a receiver, redeem takes receiver and owner (spec §4.5, §6).
type ERC4626Adapter struct {
	base
}

// NewERC4626Adapter builds an adapter for a vault exposing the ERC-4626
// deposit/redeem signatures.
func NewERC4626Adapter(chain chainReads, exec batchExecutor, vaultAddress common.Address) *ERC4626Adapter {
	return &ERC4626Adapter{base{chain: chain, exec: exec, vault: vaultAddress}}
}

// Deposit runs spec §4.5's deposit algorithm: balance check, allowance
// top-up, snapshot the receiver's vault-token balance, submit
// deposit(amount, receiver=user), snapshot again, diff.
func (a *ERC4626Adapter) Deposit(ctx context.Context, planIDTag string, token common.Address, amount *big.Int, tokenDecimals int, userAddress, executorAddress common.Address) (DepositResult, error) {
	if err := a.checkBalance(ctx, planIDTag, token, executorAddress, amount); err != nil {
		return DepositResult{}, err
	}
	if err := a.ensureAllowance(ctx, planIDTag, token, executorAddress, amount); err != nil {
		return DepositResult{}, err
	}

	shareDecimals, err := a.chain.Decimals(ctx, a.vault)
	if err != nil {
		return DepositResult{}, fmt.Errorf("vault: %s: failed to read vault decimals: %w", planIDTag, err)
	}

	before, err := a.chain.BalanceOf(ctx, a.vault, userAddress)
	if err != nil {
		return DepositResult{}, fmt.Errorf("vault: %s: failed to snapshot pre-deposit vault balance: %w", planIDTag, err)
	}

	data, err := chainclient.PackERC4626Deposit(amount, userAddress)
	if err != nil {
		return DepositResult{}, fmt.Errorf("vault: %s: failed to pack erc4626 deposit: %w", planIDTag, err)
	}
	result, err := a.exec.ExecuteBatch(ctx, planIDTag+":vault-deposit", []executor.TransactionPlan{
		{ChainID: executor.ArbitrumChainID, To: a.vault, Data: data},
	})
	if err != nil {
		return DepositResult{}, fmt.Errorf("vault: %s: failed to deposit: %w", planIDTag, err)
	}

	after, err := a.chain.BalanceOf(ctx, a.vault, userAddress)
	if err != nil {
		return DepositResult{}, fmt.Errorf("vault: %s: failed to snapshot post-deposit vault balance: %w", planIDTag, err)
	}

	shares := new(big.Int).Sub(after, before)
	return DepositResult{
		ShareTokensHuman: decimal.FormatUnits(shares, shareDecimals),
		DepositTxHash:    result.FinalTxHash.Hex(),
	}, nil
}

// Withdraw runs spec §4.5's withdrawal algorithm: redeem(shares,
// receiver=executor, owner=user). It measures the assets received by
// diffing the executor's token balance around the redeem, and reports that
// amount (at the token's decimals) along with the tx hash.
func (a *ERC4626Adapter) Withdraw(ctx context.Context, planIDTag string, token common.Address, shares *big.Int, shareDecimals int, userAddress, executorAddress common.Address) (WithdrawResult, error) {
	data, err := chainclient.PackERC4626Redeem(shares, executorAddress, userAddress)
	if err != nil {
		return WithdrawResult{}, fmt.Errorf("vault: %s: failed to pack erc4626 redeem: %w", planIDTag, err)
	}

	before, err := a.chain.BalanceOf(ctx, token, executorAddress)
	if err != nil {
		return WithdrawResult{}, fmt.Errorf("vault: %s: failed to snapshot pre-withdraw token balance: %w", planIDTag, err)
	}

	result, err := a.exec.ExecuteBatch(ctx, planIDTag+":vault-withdraw", []executor.TransactionPlan{
		{ChainID: executor.ArbitrumChainID, To: a.vault, Data: data},
	})
	if err != nil {
		return WithdrawResult{}, fmt.Errorf("vault: %s: failed to redeem: %w", planIDTag, err)
	}

	after, err := a.chain.BalanceOf(ctx, token, executorAddress)
	if err != nil {
		return WithdrawResult{}, fmt.Errorf("vault: %s: failed to snapshot post-withdraw token balance: %w", planIDTag, err)
	}

	tokenDecimals, err := a.chain.Decimals(ctx, token)
	if err != nil {
		return WithdrawResult{}, fmt.Errorf("vault: %s: failed to read token decimals: %w", planIDTag, err)
	}

	received := new(big.Int).Sub(after, before)
	return WithdrawResult{
		AssetsReceivedHuman: decimal.FormatUnits(received, tokenDecimals),
		WithdrawTxHash:      result.FinalTxHash.Hex(),
	}, nil
}

// SimpleAdapter deposits/withdraws through the "simple" form: deposit(amount)
// credits the caller directly, withdraw(shares) the same way — no receiver
// parameter, so balance snapshots are always taken against the executor
// (spec §4.5 step 3 "or the executor's balance if the vault's deposit
// signature does not accept a receiver").
type SimpleAdapter struct {
	base
}

// NewSimpleAdapter builds an adapter for a vault exposing the simplified
// deposit(amount)/withdraw(shares) signatures.
func NewSimpleAdapter(chain chainReads, exec batchExecutor, vaultAddress common.Address) *SimpleAdapter {
	return &SimpleAdapter{base{chain: chain, exec: exec, vault: vaultAddress}}
}

func (a *SimpleAdapter) Deposit(ctx context.Context, planIDTag string, token common.Address, amount *big.Int, tokenDecimals int, userAddress, executorAddress common.Address) (DepositResult, error) {
	if err := a.checkBalance(ctx, planIDTag, token, executorAddress, amount); err != nil {
		return DepositResult{}, err
	}
	if err := a.ensureAllowance(ctx, planIDTag, token, executorAddress, amount); err != nil {
		return DepositResult{}, err
	}

	shareDecimals, err := a.chain.Decimals(ctx, a.vault)
	if err != nil {
		return DepositResult{}, fmt.Errorf("vault: %s: failed to read vault decimals: %w", planIDTag, err)
	}

	before, err := a.chain.BalanceOf(ctx, a.vault, executorAddress)
	if err != nil {
		return DepositResult{}, fmt.Errorf("vault: %s: failed to snapshot pre-deposit vault balance: %w", planIDTag, err)
	}

	data, err := chainclient.PackSimpleDeposit(amount)
	if err != nil {
		return DepositResult{}, fmt.Errorf("vault: %s: failed to pack simple deposit: %w", planIDTag, err)
	}
	result, err := a.exec.ExecuteBatch(ctx, planIDTag+":vault-deposit", []executor.TransactionPlan{
		{ChainID: executor.ArbitrumChainID, To: a.vault, Data: data},
	})
	if err != nil {
		return DepositResult{}, fmt.Errorf("vault: %s: failed to deposit: %w", planIDTag, err)
	}

	after, err := a.chain.BalanceOf(ctx, a.vault, executorAddress)
	if err != nil {
		return DepositResult{}, fmt.Errorf("vault: %s: failed to snapshot post-deposit vault balance: %w", planIDTag, err)
	}

	shares := new(big.Int).Sub(after, before)
	return DepositResult{
		ShareTokensHuman: decimal.FormatUnits(shares, shareDecimals),
		DepositTxHash:    result.FinalTxHash.Hex(),
	}, nil
}

func (a *SimpleAdapter) Withdraw(ctx context.Context, planIDTag string, token common.Address, shares *big.Int, shareDecimals int, userAddress, executorAddress common.Address) (WithdrawResult, error) {
	data, err := chainclient.PackSimpleWithdraw(shares)
	if err != nil {
		return WithdrawResult{}, fmt.Errorf("vault: %s: failed to pack simple withdraw: %w", planIDTag, err)
	}

	before, err := a.chain.BalanceOf(ctx, token, executorAddress)
	if err != nil {
		return WithdrawResult{}, fmt.Errorf("vault: %s: failed to snapshot pre-withdraw token balance: %w", planIDTag, err)
	}

	result, err := a.exec.ExecuteBatch(ctx, planIDTag+":vault-withdraw", []executor.TransactionPlan{
		{ChainID: executor.ArbitrumChainID, To: a.vault, Data: data},
	})
	if err != nil {
		return WithdrawResult{}, fmt.Errorf("vault: %s: failed to withdraw: %w", planIDTag, err)
	}

	after, err := a.chain.BalanceOf(ctx, token, executorAddress)
	if err != nil {
		return WithdrawResult{}, fmt.Errorf("vault: %s: failed to snapshot post-withdraw token balance: %w", planIDTag, err)
	}

	tokenDecimals, err := a.chain.Decimals(ctx, token)
	if err != nil {
		return WithdrawResult{}, fmt.Errorf("vault: %s: failed to read token decimals: %w", planIDTag, err)
	}

	received := new(big.Int).Sub(after, before)
	return WithdrawResult{
		AssetsReceivedHuman: decimal.FormatUnits(received, tokenDecimals),
		WithdrawTxHash:      result.FinalTxHash.Hex(),
	}, nil
}
