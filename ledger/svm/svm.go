// Package svm provides an x402.Ledger that pays with SPL token transfers on
// Solana.
package svm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	x402 "github.com/Zyzgsfi/agentpay"
	solutil "github.com/Zyzgsfi/agentpay/internal/solana"
)

// RPCClient is the subset of rpc.Client the ledger needs.
type RPCClient interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetTransaction(ctx context.Context, sig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error)
}

// lamportDecimals is the precision of SOL.
const lamportDecimals = 9

// Ledger pays from one keypair on one Solana cluster.
type Ledger struct {
	client     RPCClient
	privateKey solana.PrivateKey
	publicKey  solana.PublicKey
	network    string
	decimals   uint8
	commitment rpc.CommitmentType
	logger     *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger) error

// WithDecimals sets the mint decimals used in TransferChecked. Default 6.
func WithDecimals(decimals int) Option {
	return func(l *Ledger) error {
		if decimals < 0 || decimals > 255 {
			return fmt.Errorf("svm: invalid decimals %d", decimals)
		}
		l.decimals = uint8(decimals)
		return nil
	}
}

// WithCommitment sets the commitment a transfer needs to count as final.
// Only confirmed and finalized are accepted. Default confirmed.
func WithCommitment(commitment rpc.CommitmentType) Option {
	return func(l *Ledger) error {
		if commitment != rpc.CommitmentConfirmed && commitment != rpc.CommitmentFinalized {
			return fmt.Errorf("svm: unsupported commitment %q", commitment)
		}
		l.commitment = commitment
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

// New creates a Ledger from a base58-encoded private key.
func New(network, privateKeyBase58 string, client RPCClient, opts ...Option) (*Ledger, error) {
	key, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, x402.ErrInvalidKey
	}
	return NewFromKey(network, key, client, opts...)
}

// NewFromKeygenFile creates a Ledger from a solana-keygen JSON file holding
// the 64-byte keypair as a number array.
func NewFromKeygenFile(network, path string, client RPCClient, opts ...Option) (*Ledger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrInvalidKey, err)
	}
	var raw []byte
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: invalid keygen file", x402.ErrInvalidKey)
	}
	if len(raw) != 64 {
		return nil, fmt.Errorf("%w: key must be 64 bytes, got %d", x402.ErrInvalidKey, len(raw))
	}
	return NewFromKey(network, solana.PrivateKey(raw), client, opts...)
}

// NewFromKey creates a Ledger from an existing key.
func NewFromKey(network string, key solana.PrivateKey, client RPCClient, opts ...Option) (*Ledger, error) {
	networkType, err := x402.ValidateNetwork(network)
	if err != nil {
		return nil, err
	}
	if networkType != x402.NetworkTypeSVM {
		return nil, fmt.Errorf("%w: expected Solana network, got %s", x402.ErrInvalidNetwork, network)
	}
	if client == nil {
		return nil, errors.New("svm: rpc client is required")
	}

	l := &Ledger{
		client:     client,
		privateKey: key,
		publicKey:  key.PublicKey(),
		network:    network,
		decimals:   x402.DefaultDecimals,
		commitment: rpc.CommitmentConfirmed,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Dial returns a Ledger over rpcURL. An empty rpcURL uses the cluster's
// public endpoint. The node's genesis hash must match network.
func Dial(ctx context.Context, network, rpcURL, privateKeyBase58 string, opts ...Option) (*Ledger, error) {
	if rpcURL == "" {
		var err error
		if rpcURL, err = solutil.RPCURL(network); err != nil {
			return nil, err
		}
	}
	client := rpc.New(rpcURL)
	l, err := New(network, privateKeyBase58, client, opts...)
	if err != nil {
		return nil, err
	}
	reference, err := x402.GetSolanaGenesisHash(network)
	if err != nil {
		return nil, err
	}
	genesis, err := client.GetGenesisHash(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: genesis hash from %s: %v", x402.ErrLedgerUnavailable, rpcURL, err)
	}
	// CAIP-2 references are the first 32 characters of the genesis hash.
	if !strings.HasPrefix(genesis.String(), reference) {
		return nil, fmt.Errorf("%w: %s serves cluster %s, not %s", x402.ErrInvalidNetwork, rpcURL, genesis, network)
	}
	return l, nil
}

// Network implements x402.Ledger.
func (l *Ledger) Network() string { return l.network }

// Address implements x402.Ledger.
func (l *Ledger) Address() string { return l.publicKey.String() }

// SubmitTransfer implements x402.Ledger. The ledger's key pays the fee and
// signs as token owner.
func (l *Ledger) SubmitTransfer(ctx context.Context, amount *big.Int, payee, asset string) (string, error) {
	if amount == nil || amount.Sign() <= 0 || !amount.IsUint64() {
		return "", x402.ErrInvalidAmount
	}
	recipient, err := solana.PublicKeyFromBase58(payee)
	if err != nil {
		return "", fmt.Errorf("%w: invalid payee %q", x402.ErrInvalidRequirements, payee)
	}
	mint, err := solana.PublicKeyFromBase58(asset)
	if err != nil {
		return "", fmt.Errorf("%w: invalid mint %q", x402.ErrInvalidRequirements, asset)
	}

	instructions, err := solutil.TransferInstructions(l.publicKey, l.publicKey, recipient, mint, amount.Uint64(), l.decimals)
	if err != nil {
		return "", err
	}

	recent, err := l.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", fmt.Errorf("%w: blockhash: %v", x402.ErrLedgerUnavailable, err)
	}

	tx, err := solana.NewTransaction(instructions, recent.Value.Blockhash, solana.TransactionPayer(l.publicKey))
	if err != nil {
		return "", fmt.Errorf("build transaction: %w", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(l.publicKey) {
			return &l.privateKey
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}

	sig, err := l.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{PreflightCommitment: l.commitment})
	if err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}

	l.logger.Info("transfer submitted", "tx", sig.String(), "to", payee, "mint", asset, "amount", amount.String())
	return sig.String(), nil
}

// Balance implements x402.BalanceReader. asset is an SPL mint; the token
// balance is that of the ledger's associated token account, zero when the
// account does not exist yet.
func (l *Ledger) Balance(ctx context.Context, asset string) (*x402.Balance, error) {
	mint, err := solana.PublicKeyFromBase58(asset)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid mint %q", x402.ErrInvalidRequirements, asset)
	}
	lamports, err := l.client.GetBalance(ctx, l.publicKey, l.commitment)
	if err != nil {
		return nil, fmt.Errorf("%w: balance: %v", x402.ErrLedgerUnavailable, err)
	}
	native := new(big.Int)
	if lamports != nil {
		native.SetUint64(lamports.Value)
	}
	out := &x402.Balance{
		Address:        l.Address(),
		Network:        l.network,
		Native:         native,
		NativeDecimals: lamportDecimals,
		Asset:          mint.String(),
		Token:          new(big.Int),
	}

	ata, err := solutil.AssociatedTokenAddress(l.publicKey, mint)
	if err != nil {
		return nil, err
	}
	if _, err := l.client.GetAccountInfo(ctx, ata); errors.Is(err, rpc.ErrNotFound) {
		return out, nil
	} else if err != nil {
		return nil, fmt.Errorf("%w: token account: %v", x402.ErrLedgerUnavailable, err)
	}
	tokens, err := l.client.GetTokenAccountBalance(ctx, ata, l.commitment)
	if err != nil {
		return nil, fmt.Errorf("%w: token balance: %v", x402.ErrLedgerUnavailable, err)
	}
	if tokens == nil || tokens.Value == nil {
		return out, nil
	}
	if _, ok := out.Token.SetString(tokens.Value.Amount, 10); !ok {
		return nil, fmt.Errorf("%w: token balance %q is not an integer", x402.ErrLedgerUnavailable, tokens.Value.Amount)
	}
	return out, nil
}

// GetReceipt implements x402.ReceiptSource.
func (l *Ledger) GetReceipt(ctx context.Context, txID string) (*x402.TransactionReceipt, error) {
	sig, err := solana.SignatureFromBase58(txID)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a transaction signature", x402.ErrReceiptNotFound, txID)
	}

	statuses, err := l.client.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrLedgerUnavailable, err)
	}
	if statuses == nil || len(statuses.Value) == 0 || statuses.Value[0] == nil {
		return nil, x402.ErrReceiptNotFound
	}
	status := statuses.Value[0]

	if status.Err != nil {
		return &x402.TransactionReceipt{TxHash: txID, Status: x402.TxStatusFailed, BlockNumber: status.Slot}, nil
	}
	pending := &x402.TransactionReceipt{TxHash: txID, Status: x402.TxStatusPending}
	if !l.committed(status.ConfirmationStatus) {
		return pending, nil
	}

	maxVersion := uint64(0)
	tx, err := l.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     l.commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		// Status is ahead of the transaction index.
		return pending, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrLedgerUnavailable, err)
	}
	if tx == nil {
		return pending, nil
	}

	receipt := &x402.TransactionReceipt{TxHash: txID, Status: x402.TxStatusSuccess, BlockNumber: tx.Slot}
	if tx.Meta != nil {
		if tx.Meta.Err != nil {
			receipt.Status = x402.TxStatusFailed
		}
		receipt.GasUsed = tx.Meta.Fee
		receipt.Transfers = tokenTransfers(tx.Meta.PreTokenBalances, tx.Meta.PostTokenBalances)
	}
	return receipt, nil
}

func (l *Ledger) committed(status rpc.ConfirmationStatusType) bool {
	switch status {
	case rpc.ConfirmationStatusFinalized:
		return true
	case rpc.ConfirmationStatusConfirmed:
		return l.commitment == rpc.CommitmentConfirmed
	default:
		return false
	}
}

type balanceKey struct {
	owner string
	mint  string
}

// tokenTransfers derives transfers from token balance changes. Each owner
// whose balance of a mint grew is a recipient; the sender is the owner whose
// balance of that mint shrank, when there is exactly one.
func tokenTransfers(pre, post []rpc.TokenBalance) []x402.Transfer {
	deltas := make(map[balanceKey]*big.Int)
	var order []balanceKey
	apply := func(balances []rpc.TokenBalance, sign int) {
		for _, b := range balances {
			if b.Owner == nil || b.UiTokenAmount == nil {
				continue
			}
			v, ok := new(big.Int).SetString(b.UiTokenAmount.Amount, 10)
			if !ok {
				continue
			}
			key := balanceKey{owner: b.Owner.String(), mint: b.Mint.String()}
			d, seen := deltas[key]
			if !seen {
				d = new(big.Int)
				deltas[key] = d
				order = append(order, key)
			}
			if sign < 0 {
				d.Sub(d, v)
			} else {
				d.Add(d, v)
			}
		}
	}
	apply(pre, -1)
	apply(post, 1)

	senders := make(map[string][]string)
	for _, key := range order {
		if deltas[key].Sign() < 0 {
			senders[key.mint] = append(senders[key.mint], key.owner)
		}
	}

	var transfers []x402.Transfer
	for _, key := range order {
		if deltas[key].Sign() <= 0 {
			continue
		}
		t := x402.Transfer{Asset: key.mint, To: key.owner, Amount: deltas[key]}
		if from := senders[key.mint]; len(from) == 1 {
			t.From = from[0]
		}
		transfers = append(transfers, t)
	}
	return transfers
}

var (
	_ x402.Ledger        = (*Ledger)(nil)
	_ x402.BalanceReader = (*Ledger)(nil)
)
