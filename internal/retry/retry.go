// Package retry implements the single generic retry combinator spec'd for
// the Quote Client, Chain Client, and Transaction Executor: run an
// operation, classify any error with a predicate, and retry with
// progressive backoff when the predicate says it's worth it.
package retry

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Predicate decides whether an error is worth retrying.
type Predicate func(err error) bool

// Op is the operation wrapped by Do.
type Op func() error

// Do runs op, retrying up to maxAttempts total tries. Between attempts it
// sleeps baseDelay*attempt (progressive backoff, attempt starting at 1).
// Non-retryable errors propagate immediately on first failure.
func Do(ctx context.Context, name string, maxAttempts int, baseDelay time.Duration, isRetryable Predicate, op Op) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}
		if attempt == maxAttempts {
			break
		}

		delay := baseDelay * time.Duration(attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s: giving up after %d attempts: %w", name, maxAttempts, lastErr)
}

// Network is the retryable predicate used by the Quote Client and the
// Chain Client: network/timeout-shaped error messages.
func Network(err error) bool {
	return containsAny(err, "fetch failed", "etimedout", "econnreset", "enotfound", "network", "timeout")
}

// Nonce is the retryable predicate used by the Transaction Executor.
func Nonce(err error) bool {
	return containsAny(err, "nonce", "transaction underpriced", "already known")
}

func containsAny(err error, needles ...string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, n := range needles {
		if strings.Contains(msg, n) {
			return true
		}
	}
	return false
}
