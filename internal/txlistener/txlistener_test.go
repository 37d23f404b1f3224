package txlistener

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
)

type fakeFetcher struct {
	attempts  int
	failUntil int
	receipt   *types.Receipt
	err       error
}

func (f *fakeFetcher) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.attempts++
	if f.err != nil {
		return nil, f.err
	}
	if f.attempts <= f.failUntil {
		return nil, ethereum.NotFound
	}
	return f.receipt, nil
}

func TestWaitForTransaction_ReturnsOnceMined(t *testing.T) {
	fake := &fakeFetcher{failUntil: 2, receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful}}
	l := NewTxListener(fake, WithPollInterval(time.Millisecond), WithTimeout(time.Second))

	receipt, err := l.WaitForTransaction(common.HexToHash("0x1"))
	assert.NoError(t, err)
	assert.Equal(t, uint64(1), receipt.Status)
	assert.True(t, fake.attempts >= 3)
}

func TestWaitForTransaction_TimesOut(t *testing.T) {
	fake := &fakeFetcher{failUntil: 1000}
	l := NewTxListener(fake, WithPollInterval(time.Millisecond), WithTimeout(20*time.Millisecond))

	_, err := l.WaitForTransaction(common.HexToHash("0x2"))
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestWaitForTransaction_PropagatesNonNotFoundError(t *testing.T) {
	fake := &fakeFetcher{err: errors.New("boom")}
	l := NewTxListener(fake, WithPollInterval(time.Millisecond), WithTimeout(time.Second))

	_, err := l.WaitForTransaction(common.HexToHash("0x3"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
