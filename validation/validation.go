// Package validation checks the structure of x402 payment data.
// It validates addresses, amounts, CAIP-2 networks, requirements and proofs.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	x402 "github.com/Zyzgsfi/agentpay"
)

var (
	// evmAddressRegex matches Ethereum-style addresses (0x followed by 40 hex chars)
	evmAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

	// solanaAddressRegex matches Solana base58 addresses (32-44 chars, base58 charset)
	solanaAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)

	// caip2Regex matches CAIP-2 network identifiers (namespace:reference)
	caip2Regex = regexp.MustCompile(`^[a-z0-9]+:[a-zA-Z0-9]+$`)
)

// ValidateAmount validates that an amount string is a positive integer in atomic units.
func ValidateAmount(amount string) error {
	if amount == "" {
		return fmt.Errorf("amount cannot be empty")
	}
	amt, ok := x402.ParseAtomic(amount)
	if !ok {
		return fmt.Errorf("invalid amount format: %s", amount)
	}
	if amt.Sign() == 0 {
		return fmt.Errorf("amount must be positive, got: %s", amount)
	}
	return nil
}

// ValidatePrice validates a human-readable decimal price such as "0.05".
func ValidatePrice(price string, decimals int) error {
	amt, err := x402.AmountToBigInt(price, decimals)
	if err != nil {
		return fmt.Errorf("invalid price %q: %w", price, err)
	}
	if amt.Sign() == 0 {
		return fmt.Errorf("price must be positive, got: %s", price)
	}
	return nil
}

// ValidateNetwork validates a CAIP-2 network identifier.
func ValidateNetwork(network string) error {
	if network == "" {
		return fmt.Errorf("network cannot be empty")
	}
	if !caip2Regex.MatchString(network) {
		return fmt.Errorf("invalid CAIP-2 network format: %s (expected namespace:reference)", network)
	}
	_, err := x402.ValidateNetwork(network)
	return err
}

// ValidateAddress validates an address based on the network type.
// An empty network accepts either address family.
func ValidateAddress(address string, network string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if network == "" {
		if evmAddressRegex.MatchString(address) || solanaAddressRegex.MatchString(address) {
			return nil
		}
		return fmt.Errorf("invalid address format: %s", address)
	}

	networkType, err := x402.ValidateNetwork(network)
	if err != nil {
		return fmt.Errorf("cannot validate address: %w", err)
	}

	switch networkType {
	case x402.NetworkTypeEVM:
		if !evmAddressRegex.MatchString(address) {
			return fmt.Errorf("invalid EVM address format: %s (expected 0x followed by 40 hex characters)", address)
		}
	case x402.NetworkTypeSVM:
		if !solanaAddressRegex.MatchString(address) {
			return fmt.Errorf("invalid Solana address format: %s (expected base58 string 32-44 chars)", address)
		}
	default:
		return fmt.Errorf("unsupported network type for address validation: %d", networkType)
	}
	return nil
}

// ValidatePaymentRequirement validates a single requirement as issued by a resource server.
func ValidatePaymentRequirement(req x402.PaymentRequirement) error {
	if err := ValidateAmount(req.Amount); err != nil {
		return fmt.Errorf("invalid requirement: %w", err)
	}
	if err := ValidateNetwork(req.Network); err != nil {
		return fmt.Errorf("invalid requirement: %w", err)
	}
	if err := ValidateAddress(req.PayTo, req.Network); err != nil {
		return fmt.Errorf("invalid requirement: payTo %w", err)
	}
	if req.Asset == "" {
		return fmt.Errorf("invalid requirement: asset address cannot be empty")
	}
	if err := ValidateAddress(req.Asset, req.Network); err != nil {
		return fmt.Errorf("invalid requirement: asset %w", err)
	}

	switch req.Scheme {
	case x402.SchemeERC20, x402.SchemeSPL:
	case "":
		return fmt.Errorf("invalid requirement: scheme cannot be empty")
	default:
		return fmt.Errorf("invalid requirement: unsupported scheme %s", req.Scheme)
	}

	if req.ChainID != 0 {
		id, err := x402.GetChainID(req.Network)
		if err != nil || id != req.ChainID {
			return fmt.Errorf("invalid requirement: chainId %d does not match network %s", req.ChainID, req.Network)
		}
	}
	return nil
}

// ValidatePaymentRequired validates a complete 402 response body.
func ValidatePaymentRequired(pr x402.PaymentRequired) error {
	if len(pr.PaymentRequirements) == 0 {
		return fmt.Errorf("invalid payment required: paymentRequirements cannot be empty")
	}
	for i, req := range pr.PaymentRequirements {
		if err := ValidatePaymentRequirement(req); err != nil {
			return fmt.Errorf("invalid payment required: paymentRequirements[%d] %w", i, err)
		}
	}
	return nil
}

// ValidateProof checks that a decoded proof names a transaction and an
// integer amount. It says nothing about whether the payment happened.
func ValidateProof(proof x402.PaymentProof) error {
	if strings.TrimSpace(proof.TxHash) == "" {
		return fmt.Errorf("proof is missing txHash")
	}
	if proof.Amount == "" {
		return fmt.Errorf("proof is missing amount")
	}
	if _, ok := x402.ParseAtomic(proof.Amount); !ok {
		return fmt.Errorf("proof amount is not an integer: %s", proof.Amount)
	}
	return nil
}
