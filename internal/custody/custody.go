// Package custody is the Custody Manager (spec §4.3): guarantees the
// executor holds the amount a swap needs and has granted the router
// sufficient allowance, before the Swap Pipeline hands transactions to the
// Transaction Executor.
package custody

import (
	"context"
	"fmt"
	"math/big"

	"github.com/DCA-MiniApp/dca-core-engine/internal/chainclient"
	"github.com/DCA-MiniApp/dca-core-engine/internal/dcaerr"
	"github.com/DCA-MiniApp/dca-core-engine/internal/executor"

	"github.com/ethereum/go-ethereum/common"
)

// maxUint256 is the UINT256_MAX approval amount spec §4.3 specifies.
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// chainReads is the subset of chainclient.Client the Custody Manager reads
// from. Narrowed to an interface for testability, following the teacher's
// ContractClient-as-interface idiom.
type chainReads interface {
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
}

// batchExecutor is the subset of executor.Executor the Custody Manager
// writes through — every approve/transferFrom is signed and broadcast by
// the single Transaction Executor, never directly here.
type batchExecutor interface {
	ExecuteBatch(ctx context.Context, planIDTag string, txs []executor.TransactionPlan) (executor.Result, error)
}

// Manager implements the Custody Manager.
type Manager struct {
	chain chainReads
	exec  batchExecutor
}

// New builds a Custody Manager over chain reads and the shared executor.
func New(chain chainReads, exec batchExecutor) *Manager {
	return &Manager{chain: chain, exec: exec}
}

// EnsureCustody runs the Case A (self-execution) or Case B (separate
// executor) algorithm from spec §4.3, returning once the executor holds
// atomicAmount of fromToken and has granted the router sufficient
// allowance.
func (m *Manager) EnsureCustody(ctx context.Context, planIDTag string, tokenAddress common.Address, atomicAmount *big.Int, userAddress, executorAddress, routerAddress common.Address) error {
	if userAddress == executorAddress {
		return m.ensureSelfExecution(ctx, planIDTag, tokenAddress, atomicAmount, executorAddress, routerAddress)
	}
	return m.ensureSeparateExecutor(ctx, planIDTag, tokenAddress, atomicAmount, userAddress, executorAddress, routerAddress)
}

// ensureSelfExecution is spec §4.3 Case A: the user's own key is the
// executor, so only the router allowance needs to be topped up.
func (m *Manager) ensureSelfExecution(ctx context.Context, planIDTag string, tokenAddress common.Address, atomicAmount *big.Int, executorAddress, routerAddress common.Address) error {
	allowance, err := m.chain.Allowance(ctx, tokenAddress, executorAddress, routerAddress)
	if err != nil {
		return fmt.Errorf("custody: %s: failed to read router allowance: %w", planIDTag, err)
	}
	if allowance.Cmp(atomicAmount) >= 0 {
		return nil
	}
	return m.approveRouter(ctx, planIDTag, tokenAddress, routerAddress)
}

// ensureSeparateExecutor is spec §4.3 Case B: top up the executor→router
// allowance, verify the user has granted enough user→executor allowance,
// then pull the funds via transferFrom.
func (m *Manager) ensureSeparateExecutor(ctx context.Context, planIDTag string, tokenAddress common.Address, atomicAmount *big.Int, userAddress, executorAddress, routerAddress common.Address) error {
	routerAllowance, err := m.chain.Allowance(ctx, tokenAddress, executorAddress, routerAddress)
	if err != nil {
		return fmt.Errorf("custody: %s: failed to read router allowance: %w", planIDTag, err)
	}
	if routerAllowance.Cmp(atomicAmount) < 0 {
		if err := m.approveRouter(ctx, planIDTag, tokenAddress, routerAddress); err != nil {
			return err
		}
	}

	userAllowance, err := m.chain.Allowance(ctx, tokenAddress, userAddress, executorAddress)
	if err != nil {
		return fmt.Errorf("custody: %s: failed to read user allowance: %w", planIDTag, err)
	}
	if userAllowance.Cmp(atomicAmount) < 0 {
		return fmt.Errorf("custody: %s: %w: have %s, need %s", planIDTag, dcaerr.ErrInsufficientUserApproval, userAllowance, atomicAmount)
	}

	return m.pullFromUser(ctx, planIDTag, tokenAddress, atomicAmount, userAddress, executorAddress)
}

func (m *Manager) approveRouter(ctx context.Context, planIDTag string, tokenAddress, routerAddress common.Address) error {
	data, err := chainclient.PackApprove(routerAddress, maxUint256)
	if err != nil {
		return fmt.Errorf("custody: %s: failed to pack approve: %w", planIDTag, err)
	}
	_, err = m.exec.ExecuteBatch(ctx, planIDTag+":approve-router", []executor.TransactionPlan{
		{ChainID: executor.ArbitrumChainID, To: tokenAddress, Data: data},
	})
	if err != nil {
		return fmt.Errorf("custody: %s: failed to approve router: %w", planIDTag, err)
	}
	return nil
}

func (m *Manager) pullFromUser(ctx context.Context, planIDTag string, tokenAddress common.Address, atomicAmount *big.Int, userAddress, executorAddress common.Address) error {
	data, err := chainclient.PackTransferFrom(userAddress, executorAddress, atomicAmount)
	if err != nil {
		return fmt.Errorf("custody: %s: failed to pack transferFrom: %w", planIDTag, err)
	}
	_, err = m.exec.ExecuteBatch(ctx, planIDTag+":pull-from-user", []executor.TransactionPlan{
		{ChainID: executor.ArbitrumChainID, To: tokenAddress, Data: data},
	})
	if err != nil {
		return fmt.Errorf("custody: %s: failed to pull funds from user: %w", planIDTag, err)
	}
	return nil
}
