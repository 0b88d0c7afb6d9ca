package main

import (
	"bytes"
	"context"
	"math/big"
	"strings"
	"testing"

	x402 "github.com/Zyzgsfi/agentpay"
	"github.com/Zyzgsfi/agentpay/config"
	"github.com/Zyzgsfi/agentpay/ledger/memory"
)

const sepoliaUSDC = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"

func TestReportBalance(t *testing.T) {
	tests := []struct {
		name     string
		native   int64
		tokens   int64
		want     []string
		warnings int
	}{
		{"funded", 5e16, 1_250_000, []string{"ETH balance: 0.05 ETH", "USDC balance: 1.25 USDC"}, 0},
		{"low fees", 1e15, 10_000, []string{"ETH balance: 0.001 ETH", "low ETH balance"}, 1},
		{"empty", 0, 0, []string{"no ETH to pay transaction fees", "no USDC to pay for services"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := memory.New(x402.NetworkBaseSepolia, payerAddress,
				memory.WithBalance(memory.NativeAsset, big.NewInt(tt.native)),
				memory.WithBalance(sepoliaUSDC, big.NewInt(tt.tokens)))
			var out bytes.Buffer
			if err := reportBalance(context.Background(), &out, ledger, sepoliaUSDC, 6); err != nil {
				t.Fatalf("reportBalance() error = %v", err)
			}
			for _, want := range tt.want {
				if !strings.Contains(out.String(), want) {
					t.Errorf("output missing %q:\n%s", want, out.String())
				}
			}
			if got := strings.Count(out.String(), "warning:"); got != tt.warnings {
				t.Errorf("%d warnings; want %d:\n%s", got, tt.warnings, out.String())
			}
			if !strings.Contains(out.String(), "Account: "+payerAddress) {
				t.Errorf("output missing account:\n%s", out.String())
			}
		})
	}
}

func TestDefaultAsset(t *testing.T) {
	asset, err := defaultAsset(config.BlockchainConfig{}, x402.NetworkBaseSepolia)
	if err != nil || asset != sepoliaUSDC {
		t.Errorf("defaultAsset() = %q, %v; want %s", asset, err, sepoliaUSDC)
	}
	asset, _ = defaultAsset(config.BlockchainConfig{USDCAddress: "0xabc"}, x402.NetworkBaseSepolia)
	if asset != "0xabc" {
		t.Errorf("defaultAsset() = %q; want configured address", asset)
	}
	if _, err := defaultAsset(config.BlockchainConfig{}, "eip155:999999"); err == nil {
		t.Error("defaultAsset() for an unknown chain should fail")
	}
}
