package mcp

import (
	"errors"
	"fmt"

	x402 "github.com/Zyzgsfi/agentpay"
)

var (
	// ErrNoPaymentRequirements indicates a 402 error without a usable challenge.
	ErrNoPaymentRequirements = errors.New("no payment requirements in 402 error")

	// ErrPaymentRejected indicates the server refused a presented proof.
	ErrPaymentRejected = errors.New("payment rejected by mcp server")
)

// PaymentError wraps a payment failure with the tool it happened for.
type PaymentError struct {
	Err  error
	Tool string
}

func (e *PaymentError) Error() string {
	if e.Tool != "" {
		return fmt.Sprintf("payment error for tool %s: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("payment error: %v", e.Err)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// WrapError wraps err as a PaymentError for tool. A nil err stays nil.
func WrapError(err error, tool string) error {
	if err == nil {
		return nil
	}
	return &PaymentError{Err: err, Tool: tool}
}

// IsPaymentError checks if an error is payment-related.
func IsPaymentError(err error) bool {
	if err == nil {
		return false
	}
	var paymentErr *PaymentError
	if errors.As(err, &paymentErr) {
		return true
	}
	return x402.CodeOf(err) != "" ||
		errors.Is(err, ErrNoPaymentRequirements) ||
		errors.Is(err, ErrPaymentRejected) ||
		errors.Is(err, x402.ErrPaymentLimitExceeded) ||
		errors.Is(err, x402.ErrTransactionReverted) ||
		errors.Is(err, x402.ErrConfirmationTimeout) ||
		errors.Is(err, x402.ErrInvalidRequirements)
}
