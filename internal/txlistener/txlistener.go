// Package txlistener polls for a submitted transaction's receipt, the way
// the teacher's pkg/txlistener does for every blackholedex operation that
// needs confirmation before continuing (approve before swap, mint before
// stake, and so on).
package txlistener

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const (
	defaultPollInterval = 3 * time.Second
	defaultTimeout      = 5 * time.Minute
)

// ErrTimeout is returned when a transaction doesn't confirm within the
// configured timeout.
var ErrTimeout = errors.New("txlistener: timed out waiting for transaction")

// receiptFetcher is the subset of ethclient.Client the listener polls.
// Kept as an interface (rather than chainclient.Client directly) so tests
// can fake it without dialing an RPC.
type receiptFetcher interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// TxListener polls a node for a transaction receipt until it's mined or a
// timeout elapses, mirroring the teacher's NewTxListener/WithPollInterval/
// WithTimeout functional-option shape.
type TxListener struct {
	client       receiptFetcher
	pollInterval time.Duration
	timeout      time.Duration
}

// Option configures a TxListener.
type Option func(*TxListener)

// WithPollInterval overrides the default 3s poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(l *TxListener) { l.pollInterval = d }
}

// WithTimeout overrides the default 5 minute wait timeout.
func WithTimeout(d time.Duration) Option {
	return func(l *TxListener) { l.timeout = d }
}

// NewTxListener builds a listener around any client exposing
// TransactionReceipt (ethclient.Client and chainclient.Client both qualify).
func NewTxListener(client receiptFetcher, opts ...Option) *TxListener {
	l := &TxListener{
		client:       client,
		pollInterval: defaultPollInterval,
		timeout:      defaultTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WaitForTransaction polls until txHash is mined, returning its receipt, or
// returns ErrTimeout once the configured timeout elapses. A background
// context with the listener's own timeout is used so callers don't need to
// thread one through (matching the teacher's fire-and-poll usage at every
// call site in blackhole.go).
func (l *TxListener) WaitForTransaction(txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	return l.WaitForTransactionContext(ctx, txHash)
}

// WaitForTransactionContext is the context-aware form, used by components
// that already carry a request-scoped context (the Swap Pipeline, the
// Transaction Executor).
func (l *TxListener) WaitForTransactionContext(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := l.client.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("txlistener: failed to fetch receipt for %s: %w", txHash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, ErrTimeout
		case <-ticker.C:
		}
	}
}
