package x402

import (
	"context"
	"math/big"
)

// ReceiptSource looks up transactions on a ledger.
//
// GetReceipt returns ErrReceiptNotFound when the ledger has no record of the
// transaction and an error wrapping ErrLedgerUnavailable when the ledger
// cannot be reached. A known but unfinished transaction is returned with
// TxStatusPending.
type ReceiptSource interface {
	GetReceipt(ctx context.Context, txID string) (*TransactionReceipt, error)
}

// Ledger is a ReceiptSource that can also move funds on behalf of one payer.
// Implementations exist for EVM chains, Solana and an in-memory ledger.
type Ledger interface {
	ReceiptSource

	// SubmitTransfer sends amount atomic units of asset to payee and returns
	// the transaction id as soon as the ledger has accepted it. The transfer
	// is not final when SubmitTransfer returns.
	SubmitTransfer(ctx context.Context, amount *big.Int, payee, asset string) (string, error)

	// Network returns the CAIP-2 network identifier the ledger settles on.
	Network() string

	// Address returns the payer address.
	Address() string
}

// ReceiptSourceFunc adapts a function to ReceiptSource.
type ReceiptSourceFunc func(ctx context.Context, txID string) (*TransactionReceipt, error)

// GetReceipt implements ReceiptSource.
func (f ReceiptSourceFunc) GetReceipt(ctx context.Context, txID string) (*TransactionReceipt, error) {
	return f(ctx, txID)
}

// Balance is what a ledger's own address holds, in atomic units.
type Balance struct {
	Address string
	Network string

	// Native is the chain's fee coin (wei, lamports) with NativeDecimals.
	Native         *big.Int
	NativeDecimals int

	// Token is the balance of Asset.
	Asset string
	Token *big.Int
}

// BalanceReader is implemented by ledgers that can report their holdings.
// Every ledger in this module implements it.
type BalanceReader interface {
	Balance(ctx context.Context, asset string) (*Balance, error)
}
