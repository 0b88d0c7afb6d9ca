package x402

import (
	"fmt"
	"strings"
)

// IssuerConfig describes where and in what a resource server wants to be paid.
type IssuerConfig struct {
	// PayTo is the address that receives payments.
	PayTo string

	// Asset is the token contract or mint. Defaults to USDC on Network.
	Asset string

	// Network is the CAIP-2 network identifier. Defaults to Base Sepolia.
	Network string

	// ChainID is derived from Network for EVM chains when zero.
	ChainID int64

	// Decimals of the asset. Defaults to DefaultDecimals.
	Decimals int

	// Symbol is used in challenge messages. Defaults to "USDC".
	Symbol string
}

// Issuer builds payment challenges. It is immutable and safe for concurrent use.
type Issuer struct {
	cfg    IssuerConfig
	scheme string
}

// NewIssuer validates cfg, fills defaults and returns an Issuer.
func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	if strings.TrimSpace(cfg.PayTo) == "" {
		return nil, fmt.Errorf("%w: payTo address is required", ErrInvalidRequirements)
	}
	if cfg.Network == "" {
		cfg.Network = NetworkBaseSepolia
	}

	networkType, err := ValidateNetwork(cfg.Network)
	if err != nil {
		return nil, err
	}

	chain, known := chainConfigByNetwork[cfg.Network]
	if cfg.Asset == "" {
		if !known {
			return nil, fmt.Errorf("%w: asset is required for %s", ErrInvalidRequirements, cfg.Network)
		}
		cfg.Asset = chain.USDCAddress
	}
	if cfg.Decimals == 0 {
		cfg.Decimals = DefaultDecimals
	}
	if cfg.Symbol == "" {
		cfg.Symbol = "USDC"
	}
	if networkType == NetworkTypeEVM && cfg.ChainID == 0 {
		if cfg.ChainID, err = GetChainID(cfg.Network); err != nil {
			return nil, err
		}
	}

	scheme, _ := SchemeForNetwork(cfg.Network)
	return &Issuer{cfg: cfg, scheme: scheme}, nil
}

// Config returns the effective configuration.
func (i *Issuer) Config() IssuerConfig {
	return i.cfg
}

// Requirement prices a resource. price is a decimal in whole tokens ("0.05").
// Zero, negative and over-precise prices fail with ErrInvalidAmount.
func (i *Issuer) Requirement(price string) (PaymentRequirement, error) {
	amount, err := AmountToBigInt(price, i.cfg.Decimals)
	if err != nil {
		return PaymentRequirement{}, fmt.Errorf("%w: %q", err, price)
	}
	if amount.Sign() <= 0 {
		return PaymentRequirement{}, fmt.Errorf("%w: price must be positive, got %q", ErrInvalidAmount, price)
	}

	return PaymentRequirement{
		Scheme:   i.scheme,
		Amount:   amount.String(),
		PayTo:    i.cfg.PayTo,
		Asset:    i.cfg.Asset,
		Network:  i.cfg.Network,
		ChainID:  i.cfg.ChainID,
		Decimals: i.cfg.Decimals,
	}, nil
}

// Challenge wraps a requirement in the 402 response body.
func (i *Issuer) Challenge(req PaymentRequirement) PaymentRequired {
	amount, _ := ParseAtomic(req.Amount)
	return PaymentRequired{
		PaymentRequirements: []PaymentRequirement{req},
		Message: fmt.Sprintf("Payment of %s %s required to access this resource",
			FormatAmount(amount, i.cfg.Decimals), i.cfg.Symbol),
	}
}
