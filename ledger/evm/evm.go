// Package evm provides an x402.Ledger that pays with ERC-20 transfers on
// EVM chains and reads receipts through a JSON-RPC node.
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	x402 "github.com/Zyzgsfi/agentpay"
)

// erc20JSON is the part of the ERC-20 ABI the ledger calls and decodes.
const erc20JSON = `[
	{"type":"function","name":"transfer","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"event","name":"Transfer","anonymous":false,
	 "inputs":[{"name":"from","type":"address","indexed":true},
	           {"name":"to","type":"address","indexed":true},
	           {"name":"value","type":"uint256","indexed":false}]}
]`

var (
	erc20ABI = mustParseABI(erc20JSON)

	transferEvent = erc20ABI.Events["Transfer"]

	// transferTopic is the topic of Transfer(address,address,uint256).
	transferTopic = transferEvent.ID
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("evm: parse ERC-20 ABI: %v", err))
	}
	return parsed
}

// nativeDecimals is the precision of wei.
const nativeDecimals = 18

// Backend is the subset of ethclient.Client the ledger needs.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Ledger pays from one key on one EVM chain.
type Ledger struct {
	backend    Backend
	privateKey *ecdsa.PrivateKey
	address    common.Address
	network    string
	chainID    *big.Int
	gasLimit   uint64
	logger     *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger) error

// WithGasLimit fixes the gas limit instead of estimating it per transfer.
func WithGasLimit(limit uint64) Option {
	return func(l *Ledger) error {
		if limit == 0 {
			return errors.New("evm: gas limit must be positive")
		}
		l.gasLimit = limit
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) error {
		l.logger = logger
		return nil
	}
}

// New creates a Ledger for network paying from the hex-encoded privateKeyHex.
func New(network, privateKeyHex string, backend Backend, opts ...Option) (*Ledger, error) {
	privateKeyHex = strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, x402.ErrInvalidKey
	}
	return NewFromKey(network, privateKey, backend, opts...)
}

// NewFromKey creates a Ledger from an existing key.
func NewFromKey(network string, key *ecdsa.PrivateKey, backend Backend, opts ...Option) (*Ledger, error) {
	if backend == nil {
		return nil, errors.New("evm: backend is required")
	}
	chainID, err := x402.GetChainID(network)
	if err != nil {
		return nil, err
	}
	if networkType, _ := x402.ValidateNetwork(network); networkType != x402.NetworkTypeEVM {
		return nil, fmt.Errorf("%w: expected EVM network, got %s", x402.ErrInvalidNetwork, network)
	}

	l := &Ledger{
		backend:    backend,
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
		network:    network,
		chainID:    big.NewInt(chainID),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Dial connects to rpcURL and returns a Ledger over it. An empty rpcURL
// uses the chain's public endpoint. The node must serve network's chain.
func Dial(ctx context.Context, network, rpcURL, privateKeyHex string, opts ...Option) (*Ledger, error) {
	if rpcURL == "" {
		chain, err := x402.GetChainConfig(network)
		if err != nil {
			return nil, err
		}
		rpcURL = chain.RPCURL
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", x402.ErrLedgerUnavailable, rpcURL, err)
	}
	l, err := New(network, privateKeyHex, client, opts...)
	if err != nil {
		client.Close()
		return nil, err
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: chain id from %s: %v", x402.ErrLedgerUnavailable, rpcURL, err)
	}
	if served := x402.NetworkForChainID(chainID.Int64()); served != network {
		client.Close()
		return nil, fmt.Errorf("%w: %s serves %s, not %s", x402.ErrInvalidNetwork, rpcURL, served, network)
	}
	return l, nil
}

// Network implements x402.Ledger.
func (l *Ledger) Network() string { return l.network }

// Address implements x402.Ledger.
func (l *Ledger) Address() string { return l.address.Hex() }

// SubmitTransfer implements x402.Ledger with an ERC-20 transfer call on asset.
func (l *Ledger) SubmitTransfer(ctx context.Context, amount *big.Int, payee, asset string) (string, error) {
	if amount == nil || amount.Sign() <= 0 {
		return "", x402.ErrInvalidAmount
	}
	if !common.IsHexAddress(payee) {
		return "", fmt.Errorf("%w: invalid payee address %q", x402.ErrInvalidRequirements, payee)
	}
	if !common.IsHexAddress(asset) {
		return "", fmt.Errorf("%w: invalid token address %q", x402.ErrInvalidRequirements, asset)
	}
	token := common.HexToAddress(asset)
	data, err := TransferCalldata(common.HexToAddress(payee), amount)
	if err != nil {
		return "", fmt.Errorf("%w: %v", x402.ErrInvalidAmount, err)
	}

	nonce, err := l.backend.PendingNonceAt(ctx, l.address)
	if err != nil {
		return "", fmt.Errorf("%w: nonce: %v", x402.ErrLedgerUnavailable, err)
	}
	gasPrice, err := l.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: gas price: %v", x402.ErrLedgerUnavailable, err)
	}
	gasLimit := l.gasLimit
	if gasLimit == 0 {
		gasLimit, err = l.backend.EstimateGas(ctx, ethereum.CallMsg{From: l.address, To: &token, Data: data})
		if err != nil {
			return "", fmt.Errorf("estimate gas: %w", err)
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &token,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(l.chainID), l.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}
	if err := l.backend.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}

	l.logger.Info("transfer submitted",
		"tx", signed.Hash().Hex(), "to", payee, "token", asset, "amount", amount.String(), "nonce", nonce)
	return signed.Hash().Hex(), nil
}

// Balance implements x402.BalanceReader. asset is an ERC-20 contract.
func (l *Ledger) Balance(ctx context.Context, asset string) (*x402.Balance, error) {
	if !common.IsHexAddress(asset) {
		return nil, fmt.Errorf("%w: invalid token address %q", x402.ErrInvalidRequirements, asset)
	}
	native, err := l.backend.BalanceAt(ctx, l.address, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: balance: %v", x402.ErrLedgerUnavailable, err)
	}

	token := common.HexToAddress(asset)
	call, err := erc20ABI.Pack("balanceOf", l.address)
	if err != nil {
		return nil, err
	}
	out, err := l.backend.CallContract(ctx, ethereum.CallMsg{From: l.address, To: &token, Data: call}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: balanceOf: %v", x402.ErrLedgerUnavailable, err)
	}
	values, err := erc20ABI.Unpack("balanceOf", out)
	if err != nil || len(values) != 1 {
		return nil, fmt.Errorf("%w: %s did not answer balanceOf: %v", x402.ErrLedgerUnavailable, asset, err)
	}
	tokens, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected balanceOf result %T", x402.ErrLedgerUnavailable, values[0])
	}

	return &x402.Balance{
		Address:        l.Address(),
		Network:        l.network,
		Native:         native,
		NativeDecimals: nativeDecimals,
		Asset:          token.Hex(),
		Token:          tokens,
	}, nil
}

// GetReceipt implements x402.ReceiptSource.
func (l *Ledger) GetReceipt(ctx context.Context, txID string) (*x402.TransactionReceipt, error) {
	if !isTxHash(txID) {
		return nil, fmt.Errorf("%w: %q is not a transaction hash", x402.ErrReceiptNotFound, txID)
	}
	hash := common.HexToHash(txID)

	receipt, err := l.backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		// Known to the node but not mined yet, or mined and not yet indexed.
		_, _, err := l.backend.TransactionByHash(ctx, hash)
		switch {
		case errors.Is(err, ethereum.NotFound):
			return nil, x402.ErrReceiptNotFound
		case err != nil:
			return nil, fmt.Errorf("%w: %v", x402.ErrLedgerUnavailable, err)
		}
		return &x402.TransactionReceipt{TxHash: hash.Hex(), Status: x402.TxStatusPending}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrLedgerUnavailable, err)
	}
	if receipt == nil {
		return nil, x402.ErrReceiptNotFound
	}
	return convertReceipt(hash, receipt), nil
}

func convertReceipt(hash common.Hash, r *types.Receipt) *x402.TransactionReceipt {
	out := &x402.TransactionReceipt{
		TxHash:  hash.Hex(),
		Status:  x402.TxStatusFailed,
		GasUsed: r.GasUsed,
	}
	if r.Status == types.ReceiptStatusSuccessful {
		out.Status = x402.TxStatusSuccess
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	for _, log := range r.Logs {
		if t, ok := decodeTransfer(log); ok {
			out.Transfers = append(out.Transfers, t)
		}
	}
	return out
}

// transferParties receives the indexed arguments of a Transfer event.
// Field names follow the ABI argument names.
type transferParties struct {
	From common.Address
	To   common.Address
}

// decodeTransfer decodes ERC-20 Transfer logs. ERC-721 shares the event
// signature but indexes the third argument, so its logs carry four topics
// and are skipped.
func decodeTransfer(log *types.Log) (x402.Transfer, bool) {
	if log == nil || len(log.Topics) != 3 || log.Topics[0] != transferTopic {
		return x402.Transfer{}, false
	}
	values, err := erc20ABI.Unpack(transferEvent.Name, log.Data)
	if err != nil || len(values) != 1 {
		return x402.Transfer{}, false
	}
	amount, ok := values[0].(*big.Int)
	if !ok {
		return x402.Transfer{}, false
	}
	var parties transferParties
	if err := abi.ParseTopics(&parties, indexedArgs(transferEvent.Inputs), log.Topics[1:]); err != nil {
		return x402.Transfer{}, false
	}
	return x402.Transfer{
		Asset:  log.Address.Hex(),
		From:   parties.From.Hex(),
		To:     parties.To.Hex(),
		Amount: amount,
	}, true
}

func indexedArgs(args abi.Arguments) abi.Arguments {
	var out abi.Arguments
	for _, arg := range args {
		if arg.Indexed {
			out = append(out, arg)
		}
	}
	return out
}

// TransferCalldata encodes transfer(to, amount).
func TransferCalldata(to common.Address, amount *big.Int) ([]byte, error) {
	return erc20ABI.Pack("transfer", to, amount)
}

func isTxHash(s string) bool {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return false
	}
	s = s[2:]
	if len(s) != 2*common.HashLength {
		return false
	}
	for _, c := range s {
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F') {
			return false
		}
	}
	return true
}

var (
	_ x402.Ledger        = (*Ledger)(nil)
	_ x402.BalanceReader = (*Ledger)(nil)
)
