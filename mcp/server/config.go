// Package server provides an MCP server whose tools can require x402 payments.
package server

import (
	"fmt"
	"log/slog"

	x402 "github.com/Zyzgsfi/agentpay"
	x402http "github.com/Zyzgsfi/agentpay/http"
)

// Config holds configuration for the MCP server with x402 payment support.
type Config struct {
	// Issuer prices paid tools. Required before AddPayableTool.
	Issuer *x402.Issuer

	// Verifier checks proofs presented in params._meta. Required before AddPayableTool.
	Verifier x402http.ProofVerifier

	// OnPayment receives verified and rejected events.
	OnPayment x402.PaymentCallback

	// Logger is the logger for the server.
	// If not set, slog.Default() is used.
	Logger *slog.Logger

	gates map[string]*x402http.Gate
}

// AddPaymentTool prices toolName at price, a decimal amount in whole tokens.
func (c *Config) AddPaymentTool(toolName, price string) error {
	gate, err := x402http.NewGate(x402http.Config{
		Issuer:    c.Issuer,
		Price:     price,
		Verifier:  c.Verifier,
		Logger:    c.logger(),
		OnPayment: c.OnPayment,
		Method:    "MCP",
	})
	if err != nil {
		return fmt.Errorf("payable tool %s: %w", toolName, err)
	}
	if c.gates == nil {
		c.gates = make(map[string]*x402http.Gate)
	}
	c.gates[toolName] = gate
	return nil
}

// RequiresPayment checks if a tool requires payment.
func (c *Config) RequiresPayment(toolName string) bool {
	_, ok := c.gates[toolName]
	return ok
}

// Requirement returns the requirement of a paid tool.
func (c *Config) Requirement(toolName string) (x402.PaymentRequirement, bool) {
	gate, ok := c.gates[toolName]
	if !ok {
		return x402.PaymentRequirement{}, false
	}
	return gate.Requirement(), true
}

func (c *Config) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
