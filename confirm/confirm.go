// Package confirm waits for a submitted payment to become final.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	x402 "github.com/Zyzgsfi/agentpay"
)

// PollFunc observes every receipt lookup. receipt is nil when err is set.
type PollFunc func(attempt int, receipt *x402.TransactionReceipt, err error)

// Waiter polls a ReceiptSource until a transaction is final or the attempt
// budget runs out. A Waiter holds no per-transaction state and may be shared.
type Waiter struct {
	source x402.ReceiptSource
	config x402.ConfirmationConfig
	logger *slog.Logger
	onPoll PollFunc

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Waiter.
type Option func(*Waiter)

// WithConfig sets the poll interval and attempt budget.
func WithConfig(cfg x402.ConfirmationConfig) Option {
	return func(w *Waiter) {
		w.config = cfg
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(w *Waiter) {
		w.logger = logger
	}
}

// WithPollHook registers fn to run after every lookup.
func WithPollHook(fn PollFunc) Option {
	return func(w *Waiter) {
		w.onPoll = fn
	}
}

// NewWaiter creates a Waiter using x402.DefaultConfirmation unless overridden.
// A config without an attempt budget is replaced by the default as a whole.
func NewWaiter(source x402.ReceiptSource, opts ...Option) *Waiter {
	w := &Waiter{
		source: source,
		config: x402.DefaultConfirmation,
		logger: slog.Default(),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.config.MaxAttempts <= 0 {
		w.config = x402.DefaultConfirmation
	}
	return w
}

// Config returns the confirmation budget in use.
func (w *Waiter) Config() x402.ConfirmationConfig {
	return w.config
}

// Wait blocks until txID is final.
//
// A successful receipt is returned as soon as it is seen. A failed one
// aborts with ErrTransactionReverted. Lookup errors and pending receipts
// only use up attempts; after MaxAttempts lookups Wait gives up with
// ErrConfirmationTimeout. Cancelling ctx stops the wait but does not
// undo the payment.
func (w *Waiter) Wait(ctx context.Context, txID string) (*x402.TransactionReceipt, error) {
	var lastErr error

	for attempt := 1; attempt <= w.config.MaxAttempts; attempt++ {
		receipt, err := w.source.GetReceipt(ctx, txID)
		if err == nil && receipt == nil {
			err = x402.ErrReceiptNotFound
		}
		if w.onPoll != nil {
			w.onPoll(attempt, receipt, err)
		}

		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("waiting for %s: %w", txID, ctxErr)
			}
			lastErr = err
			w.logger.Debug("receipt lookup failed", "txHash", txID, "attempt", attempt, "error", err)
		case receipt.Status == x402.TxStatusSuccess:
			w.logger.Info("payment confirmed", "txHash", txID, "attempt", attempt, "blockNumber", receipt.BlockNumber)
			return receipt, nil
		case receipt.Status == x402.TxStatusFailed:
			return nil, x402.NewPaymentError(x402.ErrCodeTransactionReverted, "transaction reverted", x402.ErrTransactionReverted).
				WithDetails("txHash", txID).
				WithDetails("blockNumber", receipt.BlockNumber)
		default:
			lastErr = nil
		}

		if attempt == w.config.MaxAttempts {
			break
		}
		if err := w.sleep(ctx, w.config.PollInterval); err != nil {
			return nil, fmt.Errorf("waiting for %s: %w", txID, err)
		}
	}

	pe := x402.NewPaymentError(x402.ErrCodeConfirmationTimeout, "transaction confirmation timeout", x402.ErrConfirmationTimeout).
		WithDetails("txHash", txID).
		WithDetails("attempts", w.config.MaxAttempts)
	if lastErr != nil {
		pe.WithDetails("lastError", lastErr.Error())
	}
	return nil, pe
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsTerminal reports whether err ended a wait for a reason other than cancellation.
func IsTerminal(err error) bool {
	return errors.Is(err, x402.ErrTransactionReverted) || errors.Is(err, x402.ErrConfirmationTimeout)
}
