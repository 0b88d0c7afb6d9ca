// Package config loads agentpay settings from defaults, an optional YAML
// file, a .env file and AGENTPAY_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	x402 "github.com/Zyzgsfi/agentpay"
	"github.com/Zyzgsfi/agentpay/validation"
)

// EnvPrefix prefixes every environment override: AGENTPAY_SERVER_PORT sets server.port.
const EnvPrefix = "AGENTPAY_"

type Config struct {
	Log          LogConfig          `koanf:"log"`
	Server       ServerConfig       `koanf:"server"`
	Blockchain   BlockchainConfig   `koanf:"blockchain"`
	Agent        AgentConfig        `koanf:"agent"`
	X402         X402Config         `koanf:"x402"`
	Confirmation ConfirmationConfig `koanf:"confirmation"`
	Registry     RegistryConfig     `koanf:"registry"`
	RabbitMQ     RabbitMQConfig     `koanf:"rabbitmq"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

// ServerConfig is the listen address. PayTo receives payments for served
// routes and defaults to the ledger's address.
type ServerConfig struct {
	Port    int    `koanf:"port"`
	Address string `koanf:"address"`
	PayTo   string `koanf:"pay_to"`
}

type BlockchainConfig struct {
	RPCURL      string `koanf:"rpc_url"`
	Network     string `koanf:"network"`
	ChainID     int64  `koanf:"chain_id"`
	USDCAddress string `koanf:"usdc_address"`
	Decimals    int    `koanf:"decimals"`
}

// AgentConfig holds the paying identity. PrivateKey is hex for EVM
// networks and base58 for Solana.
type AgentConfig struct {
	PrivateKey string `koanf:"private_key"`
	Address    string `koanf:"address"`
	MaxPayment string `koanf:"max_payment"`
}

type X402Config struct {
	FacilitatorURL string `koanf:"facilitator_url"`
}

type ConfirmationConfig struct {
	PollInterval time.Duration `koanf:"poll_interval"`
	MaxAttempts  int           `koanf:"max_attempts"`
}

type RegistryConfig struct {
	Driver string `koanf:"driver"` // memory, sqlite
	DSN    string `koanf:"dsn"`
}

// RabbitMQConfig enables event publishing when URL is set.
type RabbitMQConfig struct {
	URL        string `koanf:"url"`
	Exchange   string `koanf:"exchange"`
	RoutingKey string `koanf:"routing_key"`
}

type TelemetryConfig struct {
	Exporter     string        `koanf:"exporter"` // none, stdout, otlp
	OTLPEndpoint string        `koanf:"otlp_endpoint"`
	OTLPInsecure bool          `koanf:"otlp_insecure"`
	Interval     time.Duration `koanf:"interval"`
}

var defaults = map[string]interface{}{
	"log.level":                  "info",
	"log.format":                 "text",
	"server.port":                3000,
	"blockchain.network":         x402.NetworkBaseSepolia,
	"blockchain.decimals":        x402.DefaultDecimals,
	"agent.max_payment":          "1.0",
	"confirmation.poll_interval": x402.DefaultConfirmation.PollInterval,
	"confirmation.max_attempts":  x402.DefaultConfirmation.MaxAttempts,
	"registry.driver":            "memory",
	"registry.dsn":               "agentpay.db",
	"rabbitmq.exchange":          "agentpay.payments",
	"rabbitmq.routing_key":       "payment",
	"telemetry.exporter":         "none",
	"telemetry.interval":         time.Minute,
}

// Load reads the configuration. path may be empty. The .env file in the
// working directory is optional and never overrides variables already set.
func Load(path string) (*Config, error) {
	return load(path, ".env")
}

func load(path, dotenv string) (*Config, error) {
	k := koanf.New(".")
	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return nil, err
		}
	}

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	// 2. Load .env into the process environment
	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", dotenv, err)
		}
	}

	// 3. Load from ENV (AGENTPAY_BLOCKCHAIN_RPC_URL -> blockchain.rpc_url)
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, EnvPrefix)), "_", ".", 1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	if _, err := x402.ValidateNetwork(c.Blockchain.Network); err != nil {
		return fmt.Errorf("blockchain.network: %w", err)
	}
	if c.Blockchain.Decimals < 0 || c.Blockchain.Decimals > 18 {
		return fmt.Errorf("blockchain.decimals must be between 0 and 18, got %d", c.Blockchain.Decimals)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if err := c.Confirmation.Value().Validate(); err != nil {
		return fmt.Errorf("confirmation: %w", err)
	}
	if err := validation.ValidatePrice(c.Agent.MaxPayment, c.Blockchain.Decimals); err != nil {
		return fmt.Errorf("agent.max_payment: %w", err)
	}
	for key, addr := range map[string]string{
		"server.pay_to":           c.Server.PayTo,
		"blockchain.usdc_address": c.Blockchain.USDCAddress,
		"agent.address":           c.Agent.Address,
	} {
		if addr == "" {
			continue
		}
		if err := validation.ValidateAddress(addr, c.Blockchain.Network); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	switch c.Registry.Driver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("registry.driver must be memory or sqlite, got %q", c.Registry.Driver)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// Addr is the listen address of the server section.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Address, s.Port)
}

// Value converts to the confirmation budget used by payers.
func (c ConfirmationConfig) Value() x402.ConfirmationConfig {
	return x402.ConfirmationConfig{PollInterval: c.PollInterval, MaxAttempts: c.MaxAttempts}
}

// NewLogger builds a slog logger writing to w.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
