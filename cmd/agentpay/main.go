// Command agentpay runs the payment server, service agents, a paying
// client and an MCP server over the same configuration.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	x402 "github.com/Zyzgsfi/agentpay"
	"github.com/Zyzgsfi/agentpay/config"
	"github.com/Zyzgsfi/agentpay/events/rabbitmq"
	x402http "github.com/Zyzgsfi/agentpay/http"
	"github.com/Zyzgsfi/agentpay/ledger/evm"
	"github.com/Zyzgsfi/agentpay/ledger/memory"
	"github.com/Zyzgsfi/agentpay/ledger/svm"
	"github.com/Zyzgsfi/agentpay/telemetry"
	"github.com/Zyzgsfi/agentpay/verifier"
)

const version = "0.1.0"

// demoAddress receives payments when the memory ledger runs without agent.address.
const demoAddress = "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "server":
		err = runServer(ctx, os.Args[2:])
	case "agent":
		err = runAgent(ctx, os.Args[2:])
	case "client":
		err = runClient(ctx, os.Args[2:])
	case "mcp":
		err = runMCP(ctx, os.Args[2:])
	case "balance":
		err = runBalance(ctx, os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("agentpay - pay-per-request HTTP payments for agents")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  agentpay server [flags]  - Run the directory, facilitator and paid demo routes")
	fmt.Println("  agentpay agent [flags]   - Run a service agent selling demo services")
	fmt.Println("  agentpay client [flags]  - Call a paid endpoint, paying if asked to")
	fmt.Println("  agentpay mcp [flags]     - Run an MCP server with directory tools and a paid tool")
	fmt.Println("  agentpay balance [flags] - Show the fee coin and USDC balance of the configured key")
	fmt.Println()
	fmt.Println("Run 'agentpay <command> --help' for more information.")
}

// commonFlags are accepted by every subcommand.
type commonFlags struct {
	config string
	ledger string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.config, "config", "", "Path to a YAML config file")
	fs.StringVar(&c.ledger, "ledger", "memory", "Ledger to pay and verify with: memory, evm or svm")
}

// runtime is what every subcommand shares once configuration is loaded.
type runtime struct {
	cfg       *config.Config
	logger    *slog.Logger
	ledger    x402.Ledger
	onPayment x402.PaymentCallback
	closers   []func(context.Context) error
}

func setup(ctx context.Context, flags commonFlags) (*runtime, error) {
	cfg, err := config.Load(flags.config)
	if err != nil {
		return nil, err
	}
	logger := cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	rt := &runtime{cfg: cfg, logger: logger}
	if rt.ledger, err = newLedger(ctx, flags.ledger, cfg, logger); err != nil {
		return nil, err
	}

	shutdownTelemetry, err := telemetry.Init(ctx, "agentpay", version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		Interval:     cfg.Telemetry.Interval,
	})
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, shutdownTelemetry)

	metrics, err := telemetry.NewMetrics(nil)
	if err != nil {
		rt.close()
		return nil, err
	}
	callbacks := []x402.PaymentCallback{metrics.Callback()}

	if cfg.RabbitMQ.URL != "" {
		publisher, err := rabbitmq.Dial(ctx, rabbitmq.Config{
			URL:           cfg.RabbitMQ.URL,
			Exchange:      cfg.RabbitMQ.Exchange,
			RoutingPrefix: cfg.RabbitMQ.RoutingKey,
			Logger:        logger,
		})
		if err != nil {
			rt.close()
			return nil, err
		}
		callbacks = append(callbacks, publisher.Callback())
		rt.closers = append(rt.closers, func(context.Context) error { return publisher.Close() })
	}
	rt.onPayment = x402.MultiCallback(callbacks...)

	logger.Info("configuration loaded",
		"network", cfg.Blockchain.Network,
		"ledger", flags.ledger,
		"address", rt.ledger.Address(),
		"telemetry", cfg.Telemetry.Exporter,
		"events", cfg.RabbitMQ.URL != "")
	return rt, nil
}

func newLedger(ctx context.Context, kind string, cfg *config.Config, logger *slog.Logger) (x402.Ledger, error) {
	network := cfg.Blockchain.Network
	switch kind {
	case "memory":
		address := cfg.Agent.Address
		if address == "" {
			address = demoAddress
		}
		return memory.New(network, address), nil
	case "evm":
		if cfg.Agent.PrivateKey == "" {
			return nil, errors.New("agent.private_key is required for the evm ledger")
		}
		return evm.Dial(ctx, network, cfg.Blockchain.RPCURL, cfg.Agent.PrivateKey, evm.WithLogger(logger))
	case "svm":
		if cfg.Agent.PrivateKey == "" {
			return nil, errors.New("agent.private_key is required for the svm ledger")
		}
		return svm.Dial(ctx, network, cfg.Blockchain.RPCURL, cfg.Agent.PrivateKey,
			svm.WithDecimals(cfg.Blockchain.Decimals),
			svm.WithLogger(logger))
	default:
		return nil, fmt.Errorf("unknown ledger %q (want memory, evm or svm)", kind)
	}
}

// issuer prices resources in the configured asset, payable to server.pay_to
// or the ledger's own address.
func (rt *runtime) issuer() (*x402.Issuer, error) {
	payTo := rt.cfg.Server.PayTo
	if payTo == "" {
		payTo = rt.ledger.Address()
	}
	return x402.NewIssuer(x402.IssuerConfig{
		PayTo:    payTo,
		Asset:    rt.cfg.Blockchain.USDCAddress,
		Network:  rt.cfg.Blockchain.Network,
		ChainID:  rt.cfg.Blockchain.ChainID,
		Decimals: rt.cfg.Blockchain.Decimals,
	})
}

// proofVerifier delegates to x402.facilitator_url when set and otherwise
// reads receipts from the local ledger.
func (rt *runtime) proofVerifier() x402http.ProofVerifier {
	if url := rt.cfg.X402.FacilitatorURL; url != "" {
		return &x402http.FacilitatorVerifier{
			Primary: &x402http.FacilitatorClient{
				BaseURL:    url,
				Timeouts:   x402.DefaultTimeouts,
				MaxRetries: 2,
			},
			Decimals: rt.cfg.Blockchain.Decimals,
		}
	}
	return verifier.New(rt.ledger,
		verifier.WithDecimals(rt.cfg.Blockchain.Decimals),
		verifier.WithLogger(rt.logger))
}

func (rt *runtime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			rt.logger.Warn("shutdown", "error", err)
		}
	}
}
