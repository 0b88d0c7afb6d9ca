// Package client provides an MCP client transport that pays for x402 tools.
package client

import (
	"fmt"
	"log/slog"
	"math/big"

	x402 "github.com/Zyzgsfi/agentpay"
)

// Config holds configuration for the MCP client with x402 payment support.
type Config struct {
	// Ledger pays for tool calls.
	Ledger x402.Ledger

	// MaxAmount is the per-call limit in atomic units. Nil means no limit.
	MaxAmount *big.Int

	// Confirmation bounds the wait for a payment to become final.
	Confirmation x402.ConfirmationConfig

	// OnPaymentAttempt is called when a payment attempt is made.
	OnPaymentAttempt x402.PaymentCallback

	// OnPaymentSuccess is called when a payment succeeds.
	OnPaymentSuccess x402.PaymentCallback

	// OnPaymentFailure is called when a payment fails.
	OnPaymentFailure x402.PaymentCallback

	Logger *slog.Logger
}

// Option is a functional option for configuring the Transport.
type Option func(*Config) error

// WithLedger sets the ledger the transport pays from.
func WithLedger(ledger x402.Ledger) Option {
	return func(c *Config) error {
		c.Ledger = ledger
		return nil
	}
}

// WithMaxPayment sets the per-call limit as a decimal in whole tokens.
func WithMaxPayment(amount string) Option {
	return func(c *Config) error {
		maxAmount, err := x402.AmountToBigInt(amount, x402.DefaultDecimals)
		if err != nil {
			return fmt.Errorf("invalid max payment %q: %w", amount, err)
		}
		c.MaxAmount = maxAmount
		return nil
	}
}

// WithConfirmation sets how long the transport waits for its payment.
func WithConfirmation(cfg x402.ConfirmationConfig) Option {
	return func(c *Config) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		c.Confirmation = cfg
		return nil
	}
}

// WithPaymentCallback sets a unified payment callback for all events.
func WithPaymentCallback(callback x402.PaymentCallback) Option {
	return func(c *Config) error {
		c.OnPaymentAttempt = callback
		c.OnPaymentSuccess = callback
		c.OnPaymentFailure = callback
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) error {
		c.Logger = logger
		return nil
	}
}

// DefaultConfig returns a Config with default settings.
func DefaultConfig() *Config {
	return &Config{
		Confirmation: x402.DefaultConfirmation,
		Logger:       slog.Default(),
	}
}
