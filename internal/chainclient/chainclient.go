// Package chainclient is the Chain Client (spec §4, §6): the RPC gateway
// used to read allowances/balances, estimate gas, send signed transactions,
// and wait for receipts. It wraps go-ethereum's ethclient.Client the way
// the teacher's (test-specified but source-missing) pkg/contractclient
// wraps a single contract — generalized here to the handful of ERC-20 and
// vault calls the Custody Manager, Vault Integration, and Transaction
// Executor need.
package chainclient

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/DCA-MiniApp/dca-core-engine/internal/retry"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

const (
	readRetries    = 3
	readRetryDelay = 2 * time.Second
)

// Client wraps an ethclient.Client with the read/write primitives the core
// components need. The read calls are wrapped in the spec's network retry
// policy (spec §4.6); SendTransaction and TransactionReceipt call the
// ethclient directly, with no retry.
type Client struct {
	Eth *ethclient.Client
}

// New dials rpcURL and returns a ready Client.
func New(rpcURL string) (*Client, error) {
	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RPC %s: %w", rpcURL, err)
	}
	return &Client{Eth: eth}, nil
}

// NewFromEthClient wraps an already-dialed ethclient.Client, used in tests.
func NewFromEthClient(eth *ethclient.Client) *Client {
	return &Client{Eth: eth}
}

func (c *Client) withReadRetry(ctx context.Context, name string, op func() error) error {
	return retry.Do(ctx, name, readRetries, readRetryDelay, retry.Network, op)
}

// Allowance reads ERC-20 allowance(owner, spender).
func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	var out *big.Int
	err := c.withReadRetry(ctx, "Allowance", func() error {
		data, err := erc20ABI.Pack("allowance", owner, spender)
		if err != nil {
			return fmt.Errorf("failed to pack allowance call: %w", err)
		}
		result, err := c.Eth.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
		if err != nil {
			return fmt.Errorf("failed to call allowance: %w", err)
		}
		vals, err := erc20ABI.Unpack("allowance", result)
		if err != nil {
			return fmt.Errorf("failed to unpack allowance: %w", err)
		}
		out = vals[0].(*big.Int)
		return nil
	})
	return out, err
}

// BalanceOf reads ERC-20 balanceOf(account).
func (c *Client) BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error) {
	var out *big.Int
	err := c.withReadRetry(ctx, "BalanceOf", func() error {
		data, err := erc20ABI.Pack("balanceOf", account)
		if err != nil {
			return fmt.Errorf("failed to pack balanceOf call: %w", err)
		}
		result, err := c.Eth.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
		if err != nil {
			return fmt.Errorf("failed to call balanceOf: %w", err)
		}
		vals, err := erc20ABI.Unpack("balanceOf", result)
		if err != nil {
			return fmt.Errorf("failed to unpack balanceOf: %w", err)
		}
		out = vals[0].(*big.Int)
		return nil
	})
	return out, err
}

// EthBalanceOf reads the native ETH balance, used by the executor's
// InsufficientEth check (spec §4.4 step 2b).
func (c *Client) EthBalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	var out *big.Int
	err := c.withReadRetry(ctx, "EthBalanceOf", func() error {
		bal, err := c.Eth.BalanceAt(ctx, account, nil)
		if err != nil {
			return fmt.Errorf("failed to read eth balance: %w", err)
		}
		out = bal
		return nil
	})
	return out, err
}

// Decimals reads decimals() from either an ERC-20 token or an ERC-4626
// vault (the ABI fragment is identical).
func (c *Client) Decimals(ctx context.Context, contract common.Address) (int, error) {
	var out uint8
	err := c.withReadRetry(ctx, "Decimals", func() error {
		data, err := erc20ABI.Pack("decimals")
		if err != nil {
			return fmt.Errorf("failed to pack decimals call: %w", err)
		}
		result, err := c.Eth.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
		if err != nil {
			return fmt.Errorf("failed to call decimals: %w", err)
		}
		vals, err := erc20ABI.Unpack("decimals", result)
		if err != nil {
			return fmt.Errorf("failed to unpack decimals: %w", err)
		}
		out = vals[0].(uint8)
		return nil
	})
	return int(out), err
}

// EstimateGas estimates gas for a call, wrapped in network retry.
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	var out uint64
	err := c.withReadRetry(ctx, "EstimateGas", func() error {
		gas, err := c.Eth.EstimateGas(ctx, msg)
		if err != nil {
			return fmt.Errorf("failed to estimate gas: %w", err)
		}
		out = gas
		return nil
	})
	return out, err
}

// PendingNonceAt reads the account's pending transaction count, the fresh
// nonce source for the executor's cache (spec §4.4 nonce management).
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	var out uint64
	err := c.withReadRetry(ctx, "PendingNonceAt", func() error {
		n, err := c.Eth.PendingNonceAt(ctx, account)
		if err != nil {
			return fmt.Errorf("failed to read pending nonce: %w", err)
		}
		out = n
		return nil
	})
	return out, err
}

// SuggestGasTipCap and SuggestGasPrice back the executor's fee assembly
// when a transaction plan doesn't specify its own fee fields.

func (c *Client) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	var out *big.Int
	err := c.withReadRetry(ctx, "SuggestGasTipCap", func() error {
		tip, err := c.Eth.SuggestGasTipCap(ctx)
		if err != nil {
			return fmt.Errorf("failed to suggest gas tip cap: %w", err)
		}
		out = tip
		return nil
	})
	return out, err
}

func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var out *big.Int
	err := c.withReadRetry(ctx, "SuggestGasPrice", func() error {
		price, err := c.Eth.SuggestGasPrice(ctx)
		if err != nil {
			return fmt.Errorf("failed to suggest gas price: %w", err)
		}
		out = price
		return nil
	})
	return out, err
}

// LatestBaseFee reads the latest header's base fee, used for EIP-1559 fee
// assembly.
func (c *Client) LatestBaseFee(ctx context.Context) (*big.Int, error) {
	var out *big.Int
	err := c.withReadRetry(ctx, "LatestBaseFee", func() error {
		header, err := c.Eth.HeaderByNumber(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to read latest header: %w", err)
		}
		out = header.BaseFee
		return nil
	})
	return out, err
}

// SendTransaction broadcasts a signed transaction with no retry of its own:
// the executor wraps its sends in the nonce retry, since only the executor
// knows whether a resend needs a fresh nonce.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return c.Eth.SendTransaction(ctx, tx)
}

// TransactionReceipt reads a mined receipt, or returns
// ethereum.NotFound-wrapping error while still pending.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return c.Eth.TransactionReceipt(ctx, hash)
}

// ChainID reads the connected chain's id.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	var out *big.Int
	err := c.withReadRetry(ctx, "ChainID", func() error {
		id, err := c.Eth.ChainID(ctx)
		if err != nil {
			return fmt.Errorf("failed to read chain id: %w", err)
		}
		out = id
		return nil
	})
	return out, err
}

// PackApprove encodes ERC-20 approve(spender, amount).
func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	data, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to pack approve: %w", err)
	}
	return data, nil
}

// PackTransferFrom encodes ERC-20 transferFrom(from, to, amount).
func PackTransferFrom(from, to common.Address, amount *big.Int) ([]byte, error) {
	data, err := erc20ABI.Pack("transferFrom", from, to, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to pack transferFrom: %w", err)
	}
	return data, nil
}

// PackERC4626Deposit encodes deposit(assets, receiver).
func PackERC4626Deposit(assets *big.Int, receiver common.Address) ([]byte, error) {
	data, err := erc4626ABI.Pack("deposit", assets, receiver)
	if err != nil {
		return nil, fmt.Errorf("failed to pack erc4626 deposit: %w", err)
	}
	return data, nil
}

// PackERC4626Redeem encodes redeem(shares, receiver, owner).
func PackERC4626Redeem(shares *big.Int, receiver, owner common.Address) ([]byte, error) {
	data, err := erc4626ABI.Pack("redeem", shares, receiver, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to pack erc4626 redeem: %w", err)
	}
	return data, nil
}

// PackSimpleDeposit encodes deposit(amount) for the "simple" vault form.
func PackSimpleDeposit(amount *big.Int) ([]byte, error) {
	data, err := simpleVaultABI.Pack("deposit", amount)
	if err != nil {
		return nil, fmt.Errorf("failed to pack simple deposit: %w", err)
	}
	return data, nil
}

// PackSimpleWithdraw encodes withdraw(shares) for the "simple" vault form.
func PackSimpleWithdraw(shares *big.Int) ([]byte, error) {
	data, err := simpleVaultABI.Pack("withdraw", shares)
	if err != nil {
		return nil, fmt.Errorf("failed to pack simple withdraw: %w", err)
	}
	return data, nil
}
