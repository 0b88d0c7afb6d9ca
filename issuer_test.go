package x402

import (
	"errors"
	"testing"
)

const issuerPayee = "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"

func TestNewIssuer_Defaults(t *testing.T) {
	iss, err := NewIssuer(IssuerConfig{PayTo: issuerPayee})
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	cfg := iss.Config()
	if cfg.Network != NetworkBaseSepolia || cfg.Asset != BaseSepolia.USDCAddress || cfg.ChainID != 84532 || cfg.Decimals != 6 {
		t.Errorf("Config() = %+v", cfg)
	}

	if _, err := NewIssuer(IssuerConfig{}); !errors.Is(err, ErrInvalidRequirements) {
		t.Errorf("missing payTo error = %v", err)
	}
	if _, err := NewIssuer(IssuerConfig{PayTo: issuerPayee, Network: "eip155:999"}); !errors.Is(err, ErrInvalidRequirements) {
		t.Errorf("unknown network without asset error = %v", err)
	}
	if _, err := NewIssuer(IssuerConfig{PayTo: issuerPayee, Network: "base"}); !errors.Is(err, ErrInvalidNetwork) {
		t.Errorf("bad network error = %v", err)
	}
}

func TestIssuer_Requirement(t *testing.T) {
	iss, _ := NewIssuer(IssuerConfig{PayTo: issuerPayee})

	tests := []struct {
		price   string
		want    string
		wantErr bool
	}{
		{"0.05", "50000", false},
		{"0.01", "10000", false},
		{"0.25", "250000", false},
		{"1", "1000000", false},
		{"0", "", true},
		{"-0.05", "", true},
		{"0.0000001", "", true},
		{"free", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.price, func(t *testing.T) {
			req, err := iss.Requirement(tt.price)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAmount) {
					t.Fatalf("Requirement(%q) error = %v; want ErrInvalidAmount", tt.price, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Requirement(%q) error = %v", tt.price, err)
			}
			if req.Amount != tt.want || req.Scheme != SchemeERC20 || req.PayTo != issuerPayee || req.ChainID != 84532 {
				t.Errorf("Requirement(%q) = %+v", tt.price, req)
			}
		})
	}
}

func TestIssuer_Challenge(t *testing.T) {
	iss, _ := NewIssuer(IssuerConfig{PayTo: issuerPayee})
	req, _ := iss.Requirement("0.05")
	ch := iss.Challenge(req)

	if len(ch.PaymentRequirements) != 1 || ch.PaymentRequirements[0] != req {
		t.Errorf("PaymentRequirements = %+v", ch.PaymentRequirements)
	}
	if ch.Message != "Payment of 0.05 USDC required to access this resource" {
		t.Errorf("Message = %q", ch.Message)
	}
}

func TestIssuer_Solana(t *testing.T) {
	iss, err := NewIssuer(IssuerConfig{PayTo: "DRpbCBMxVnDK7maPM5tGv6MvB3v1sRMC86PZ8okm21hy", Network: NetworkSolanaDevnet})
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	req, _ := iss.Requirement("0.10")
	if req.Scheme != SchemeSPL || req.ChainID != 0 || req.Asset != SolanaDevnet.USDCAddress || req.Amount != "100000" {
		t.Errorf("Requirement() = %+v", req)
	}
}
