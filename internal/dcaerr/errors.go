// Package dcaerr defines the error taxonomy shared across the scheduler,
// swap pipeline, custody manager, and transaction executor.
package dcaerr

import "errors"

var (
	// ErrValidation covers malformed plan fields, bad addresses, bad hex data.
	ErrValidation = errors.New("validation error")

	// ErrTokenNotFound means a symbol is not registered for the target chain.
	ErrTokenNotFound = errors.New("token not found in registry")

	// ErrInsufficientUserApproval means the user has not granted the executor
	// enough allowance in separate-executor custody mode.
	ErrInsufficientUserApproval = errors.New("insufficient user approval")

	// ErrInsufficientBalance means the executor lacks the token balance a
	// step requires (custody or vault deposit).
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInsufficientEth means the executor lacks native ETH to cover a
	// transaction's value.
	ErrInsufficientEth = errors.New("insufficient eth")

	// ErrQuoteUnavailable means the quoting service returned zero
	// transactions or an invalid payload.
	ErrQuoteUnavailable = errors.New("quote unavailable")

	// ErrNetwork marks a transient RPC or quote-transport failure.
	ErrNetwork = errors.New("network error")

	// ErrNonce marks a nonce-shaped send failure.
	ErrNonce = errors.New("nonce error")

	// ErrTransactionReverted means the receipt status was reverted.
	ErrTransactionReverted = errors.New("transaction reverted")

	// ErrInternal is the catch-all for unexpected conditions.
	ErrInternal = errors.New("internal error")
)

// RevertedError wraps ErrTransactionReverted with a decoded revert reason,
// when one could be extracted from the receipt's error cause chain.
type RevertedError struct {
	TxHash string
	Reason string
}

func (e *RevertedError) Error() string {
	if e.Reason == "" {
		return "transaction reverted: " + e.TxHash
	}
	return "transaction reverted: " + e.TxHash + ": " + e.Reason
}

func (e *RevertedError) Unwrap() error {
	return ErrTransactionReverted
}
