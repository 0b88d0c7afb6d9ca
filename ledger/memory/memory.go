// Package memory provides an in-process ledger for tests and offline demos.
//
// Submitted transfers become final after a configurable number of receipt
// lookups, which makes the confirmation wait observable without a chain.
package memory

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	x402 "github.com/Zyzgsfi/agentpay"
)

// NativeAsset names the fee coin in WithBalance.
const NativeAsset = ""

// ErrInsufficientFunds is returned by SubmitTransfer when a funded asset's
// balance does not cover the transfer.
var ErrInsufficientFunds = errors.New("memory: insufficient funds")

type entry struct {
	receipt   x402.TransactionReceipt
	confirmAt int
	final     x402.TxStatus
	polls     int
}

// Ledger is an in-memory x402.Ledger. It is safe for concurrent use.
type Ledger struct {
	network string
	address string

	confirmAfter int
	finalStatus  x402.TxStatus
	submitErr    error
	blockHeight  uint64

	mu          sync.Mutex
	txs         map[string]*entry
	balances    map[string]*big.Int
	submissions int
	lookups     int
	unavailable bool
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithConfirmAfter makes submitted transfers final on the n-th receipt lookup.
// Lookups before that report the transaction as pending. The default is 1.
func WithConfirmAfter(n int) Option {
	return func(l *Ledger) {
		l.confirmAfter = n
	}
}

// WithFinalStatus sets the status submitted transfers end in.
func WithFinalStatus(status x402.TxStatus) Option {
	return func(l *Ledger) {
		l.finalStatus = status
	}
}

// WithSubmitError makes every SubmitTransfer call fail with err.
func WithSubmitError(err error) Option {
	return func(l *Ledger) {
		l.submitErr = err
	}
}

// WithBalance funds asset with amount. Funded assets are debited by every
// transfer and refuse transfers they cannot cover; assets that were never
// funded are not metered and read as zero.
func WithBalance(asset string, amount *big.Int) Option {
	return func(l *Ledger) {
		l.balances[asset] = new(big.Int).Set(amount)
	}
}

// New creates an empty ledger settling on network for the payer address.
func New(network, address string, opts ...Option) *Ledger {
	l := &Ledger{
		network:      network,
		address:      address,
		confirmAfter: 1,
		finalStatus:  x402.TxStatusSuccess,
		blockHeight:  1000,
		txs:          make(map[string]*entry),
		balances:     make(map[string]*big.Int),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Network implements x402.Ledger.
func (l *Ledger) Network() string { return l.network }

// Address implements x402.Ledger.
func (l *Ledger) Address() string { return l.address }

// SubmitTransfer implements x402.Ledger.
func (l *Ledger) SubmitTransfer(ctx context.Context, amount *big.Int, payee, asset string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.submissions++
	if l.submitErr != nil {
		return "", l.submitErr
	}
	if amount == nil || amount.Sign() <= 0 {
		return "", x402.ErrInvalidAmount
	}
	if funds, metered := l.balances[asset]; metered {
		if funds.Cmp(amount) < 0 {
			return "", fmt.Errorf("%w: %s of %s, need %s", ErrInsufficientFunds, funds, asset, amount)
		}
		funds.Sub(funds, amount)
	}

	l.blockHeight++
	txID := fmt.Sprintf("0x%064x", l.blockHeight)
	l.txs[txID] = &entry{
		receipt: x402.TransactionReceipt{
			TxHash:      txID,
			BlockNumber: l.blockHeight,
			GasUsed:     21000,
			Transfers: []x402.Transfer{{
				Asset:  asset,
				From:   l.address,
				To:     payee,
				Amount: new(big.Int).Set(amount),
			}},
		},
		confirmAt: l.confirmAfter,
		final:     l.finalStatus,
	}
	return txID, nil
}

// GetReceipt implements x402.ReceiptSource.
func (l *Ledger) GetReceipt(ctx context.Context, txID string) (*x402.TransactionReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.lookups++
	if l.unavailable {
		return nil, fmt.Errorf("%w: memory ledger offline", x402.ErrLedgerUnavailable)
	}

	e, ok := l.txs[txID]
	if !ok {
		return nil, x402.ErrReceiptNotFound
	}
	e.polls++

	receipt := e.receipt
	receipt.Transfers = append([]x402.Transfer(nil), e.receipt.Transfers...)
	if e.polls < e.confirmAt {
		receipt.Status = x402.TxStatusPending
		receipt.BlockNumber = 0
		receipt.GasUsed = 0
	} else {
		receipt.Status = e.final
	}
	return &receipt, nil
}

// Balance implements x402.BalanceReader.
func (l *Ledger) Balance(ctx context.Context, asset string) (*x402.Balance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.unavailable {
		return nil, fmt.Errorf("%w: memory ledger offline", x402.ErrLedgerUnavailable)
	}
	return &x402.Balance{
		Address:        l.address,
		Network:        l.network,
		Native:         l.funds(NativeAsset),
		NativeDecimals: 18,
		Asset:          asset,
		Token:          l.funds(asset),
	}, nil
}

func (l *Ledger) funds(asset string) *big.Int {
	if b, ok := l.balances[asset]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Put records a receipt that every lookup returns as is.
func (l *Ledger) Put(receipt x402.TransactionReceipt) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.txs[receipt.TxHash] = &entry{receipt: receipt, final: receipt.Status}
}

// SetUnavailable makes lookups fail as if the ledger could not be reached.
func (l *Ledger) SetUnavailable(unavailable bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unavailable = unavailable
}

// Submissions returns how many times SubmitTransfer was called.
func (l *Ledger) Submissions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.submissions
}

// Lookups returns how many times GetReceipt was called.
func (l *Ledger) Lookups() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lookups
}

// Polls returns how many lookups hit txID.
func (l *Ledger) Polls(txID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.txs[txID]; ok {
		return e.polls
	}
	return 0
}

var (
	_ x402.Ledger        = (*Ledger)(nil)
	_ x402.BalanceReader = (*Ledger)(nil)
)
