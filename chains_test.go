package x402

import (
	"errors"
	"testing"
)

func TestChainConfigs(t *testing.T) {
	for network, cfg := range chainConfigByNetwork {
		if cfg.Network != network {
			t.Errorf("%s: Network = %s", network, cfg.Network)
		}
		if cfg.USDCAddress == "" {
			t.Errorf("%s: USDCAddress is empty", network)
		}
		if cfg.Decimals != 6 {
			t.Errorf("%s: Decimals = %d; want 6", network, cfg.Decimals)
		}
		if cfg.RPCURL == "" {
			t.Errorf("%s: RPCURL is empty", network)
		}
	}

	if BaseSepolia.USDCAddress != "0x036CbD53842c5426634e7929541eC2318f3dCF7e" {
		t.Errorf("BaseSepolia USDC = %s", BaseSepolia.USDCAddress)
	}
}

func TestValidateNetwork(t *testing.T) {
	tests := []struct {
		network string
		want    NetworkType
		wantErr bool
	}{
		{NetworkBaseSepolia, NetworkTypeEVM, false},
		{"eip155:999999", NetworkTypeEVM, false},
		{NetworkSolanaDevnet, NetworkTypeSVM, false},
		{"", NetworkTypeUnknown, true},
		{"base-sepolia", NetworkTypeUnknown, true},
		{"eip155:", NetworkTypeUnknown, true},
		{"eip155:abc", NetworkTypeUnknown, true},
		{"solana:short", NetworkTypeUnknown, true},
		{"cosmos:hub", NetworkTypeUnknown, true},
	}

	for _, tt := range tests {
		t.Run(tt.network, func(t *testing.T) {
			got, err := ValidateNetwork(tt.network)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateNetwork(%q) error = %v, wantErr %v", tt.network, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidNetwork) {
				t.Errorf("error should wrap ErrInvalidNetwork, got %v", err)
			}
			if got != tt.want {
				t.Errorf("ValidateNetwork(%q) = %v; want %v", tt.network, got, tt.want)
			}
		})
	}
}

func TestGetChainID(t *testing.T) {
	id, err := GetChainID(NetworkBaseSepolia)
	if err != nil {
		t.Fatalf("GetChainID() error = %v", err)
	}
	if id != 84532 {
		t.Errorf("GetChainID() = %d; want 84532", id)
	}

	if _, err := GetChainID(NetworkSolanaMainnet); err == nil {
		t.Error("GetChainID() should fail for a Solana network")
	}
	if got := NetworkForChainID(84532); got != NetworkBaseSepolia {
		t.Errorf("NetworkForChainID() = %s; want %s", got, NetworkBaseSepolia)
	}
}

func TestGetChainConfig(t *testing.T) {
	cfg, err := GetChainConfig(NetworkSepolia)
	if err != nil {
		t.Fatalf("GetChainConfig() error = %v", err)
	}
	if cfg.USDCAddress != "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238" {
		t.Errorf("USDCAddress = %s", cfg.USDCAddress)
	}

	if _, err := GetChainConfig("eip155:1234567"); !errors.Is(err, ErrInvalidNetwork) {
		t.Errorf("GetChainConfig(unknown) error = %v; want ErrInvalidNetwork", err)
	}
}

func TestSchemeForNetwork(t *testing.T) {
	if s, _ := SchemeForNetwork(NetworkBase); s != SchemeERC20 {
		t.Errorf("SchemeForNetwork(base) = %s", s)
	}
	if s, _ := SchemeForNetwork(NetworkSolanaMainnet); s != SchemeSPL {
		t.Errorf("SchemeForNetwork(solana) = %s", s)
	}
	if _, err := SchemeForNetwork("nope"); err == nil {
		t.Error("SchemeForNetwork() should reject invalid networks")
	}
}

func TestGetSolanaGenesisHash(t *testing.T) {
	hash, err := GetSolanaGenesisHash(NetworkSolanaDevnet)
	if err != nil || hash != "EtWTRABZaYq6iMfeYKouRu166VU2xqa1" {
		t.Errorf("GetSolanaGenesisHash() = %q, %v", hash, err)
	}
	if _, err := GetSolanaGenesisHash(NetworkBase); err == nil {
		t.Error("GetSolanaGenesisHash() should fail for EVM networks")
	}
}
