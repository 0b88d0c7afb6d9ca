package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	x402 "github.com/Zyzgsfi/agentpay"
	"github.com/Zyzgsfi/agentpay/config"
)

// lowNative is the fee coin balance below which a warning is printed.
const lowNative = "0.01"

func runBalance(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("balance", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	asset := fs.String("asset", "", "Token to check (default blockchain.usdc_address or the network's USDC)")
	_ = fs.Parse(args)

	rt, err := setup(ctx, common)
	if err != nil {
		return err
	}
	defer rt.close()

	if *asset == "" {
		if *asset, err = defaultAsset(rt.cfg.Blockchain, rt.ledger.Network()); err != nil {
			return err
		}
	}
	return reportBalance(ctx, os.Stdout, rt.ledger, *asset, rt.cfg.Blockchain.Decimals)
}

func defaultAsset(cfg config.BlockchainConfig, network string) (string, error) {
	if cfg.USDCAddress != "" {
		return cfg.USDCAddress, nil
	}
	chain, err := x402.GetChainConfig(network)
	if err != nil {
		return "", fmt.Errorf("no USDC known for %s, pass -asset: %w", network, err)
	}
	return chain.USDCAddress, nil
}

// reportBalance writes the balances of ledger's address to w with a
// warning for each one that cannot pay for services.
func reportBalance(ctx context.Context, w io.Writer, ledger x402.Ledger, asset string, decimals int) error {
	reader, ok := ledger.(x402.BalanceReader)
	if !ok {
		return fmt.Errorf("%T cannot report balances", ledger)
	}
	b, err := reader.Balance(ctx, asset)
	if err != nil {
		return err
	}
	if decimals <= 0 {
		decimals = x402.DefaultDecimals
	}
	symbol := "ETH"
	if networkType, _ := x402.ValidateNetwork(b.Network); networkType == x402.NetworkTypeSVM {
		symbol = "SOL"
	}

	fmt.Fprintf(w, "Account: %s\n", b.Address)
	fmt.Fprintf(w, "Network: %s\n", b.Network)
	fmt.Fprintf(w, "%s balance: %s %s\n", symbol, x402.FormatAmount(b.Native, b.NativeDecimals), symbol)
	low, _ := x402.AmountToBigInt(lowNative, b.NativeDecimals)
	switch {
	case b.Native.Sign() == 0:
		fmt.Fprintf(w, "  warning: no %s to pay transaction fees\n", symbol)
	case b.Native.Cmp(low) < 0:
		fmt.Fprintf(w, "  warning: low %s balance, below %s\n", symbol, lowNative)
	}
	fmt.Fprintf(w, "USDC balance: %s USDC (%s)\n", x402.FormatAmount(b.Token, decimals), b.Asset)
	if b.Token.Sign() == 0 {
		fmt.Fprintln(w, "  warning: no USDC to pay for services")
	}
	return nil
}
