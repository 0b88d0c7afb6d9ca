// Package verifier checks payment proofs against a ledger.
//
// A proof passes when it parses, names the payee, asset and amount of the
// requirement, and the ledger reports the transaction as successful with a
// matching token transfer inside it. The verifier never settles anything.
package verifier

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	x402 "github.com/Zyzgsfi/agentpay"
	"github.com/Zyzgsfi/agentpay/encoding"
	"github.com/Zyzgsfi/agentpay/validation"
)

// Result is the outcome of a successful verification.
type Result struct {
	// Proof is the decoded proof.
	Proof x402.PaymentProof

	// Receipt is what the resource server reports back to the client.
	Receipt x402.VerificationReceipt

	// Transaction is the ledger receipt the decision was based on.
	Transaction *x402.TransactionReceipt
}

// Verifier validates payment proofs. It is safe for concurrent use.
type Verifier struct {
	source        x402.ReceiptSource
	transferCheck bool
	decimals      int
	logger        *slog.Logger
	now           func() time.Time

	mu       sync.Mutex
	redeemed *expirable.LRU[string, time.Time]
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithoutTransferCheck accepts a successful receipt without looking for a
// matching token transfer in it. Use it only with ledgers that cannot
// report transfers.
func WithoutTransferCheck() Option {
	return func(v *Verifier) {
		v.transferCheck = false
	}
}

// WithReplayProtection rejects a transaction hash that was already accepted
// within ttl. At most size hashes are remembered.
func WithReplayProtection(size int, ttl time.Duration) Option {
	return func(v *Verifier) {
		v.redeemed = expirable.NewLRU[string, time.Time](size, nil, ttl)
	}
}

// WithDecimals sets the decimals used to format amounts in receipts.
func WithDecimals(decimals int) Option {
	return func(v *Verifier) {
		v.decimals = decimals
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(v *Verifier) {
		v.logger = logger
	}
}

// WithClock overrides the time source used for receipt timestamps.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		v.now = now
	}
}

// New creates a Verifier that looks transactions up in source.
func New(source x402.ReceiptSource, opts ...Option) *Verifier {
	v := &Verifier{
		source:        source,
		transferCheck: true,
		decimals:      x402.DefaultDecimals,
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify decodes an X-Payment header value and verifies it against req.
func (v *Verifier) Verify(ctx context.Context, header string, req x402.PaymentRequirement) (*Result, error) {
	proof, err := encoding.DecodeProof(header)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeMalformedProof, "invalid payment proof format", x402.ErrMalformedProof).
			WithDetails("reason", err.Error())
	}
	return v.VerifyProof(ctx, proof, req)
}

// VerifyProof verifies an already decoded proof against req.
func (v *Verifier) VerifyProof(ctx context.Context, proof x402.PaymentProof, req x402.PaymentRequirement) (*Result, error) {
	if err := validation.ValidateProof(proof); err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeMalformedProof, "invalid payment proof format", x402.ErrMalformedProof).
			WithDetails("reason", err.Error())
	}

	if !x402.MatchesRequirement(&proof, &req) {
		return nil, x402.NewPaymentError(x402.ErrCodeRequirementMismatch, "payment details do not match requirements", x402.ErrRequirementMismatch).
			WithDetails("expected", req).
			WithDetails("received", proof)
	}

	if v.seen(proof.TxHash) {
		return nil, x402.NewPaymentError(x402.ErrCodePaymentReplayed, "payment already redeemed", x402.ErrPaymentReplayed).
			WithDetails("txHash", proof.TxHash)
	}

	tx, err := v.source.GetReceipt(ctx, proof.TxHash)
	if err == nil && tx == nil {
		err = x402.ErrReceiptNotFound
	}
	if err != nil {
		if errors.Is(err, x402.ErrReceiptNotFound) {
			return nil, x402.NewPaymentError(x402.ErrCodeUnconfirmedPayment, "payment transaction not found", x402.ErrUnconfirmedPayment).
				WithDetails("txHash", proof.TxHash)
		}
		v.logger.Error("receipt lookup failed", "txHash", proof.TxHash, "error", err)
		return nil, x402.NewPaymentError(x402.ErrCodeVerificationUnavailable, "payment verification failed", x402.ErrVerificationUnavailable).
			WithDetails("reason", err.Error())
	}

	switch tx.Status {
	case x402.TxStatusSuccess:
	case x402.TxStatusFailed:
		return nil, x402.NewPaymentError(x402.ErrCodeRejectedPayment, "payment transaction failed", x402.ErrRejectedPayment).
			WithDetails("txHash", proof.TxHash)
	default:
		return nil, x402.NewPaymentError(x402.ErrCodeUnconfirmedPayment, "payment transaction not confirmed", x402.ErrUnconfirmedPayment).
			WithDetails("txHash", proof.TxHash).
			WithDetails("status", string(tx.Status))
	}

	if v.transferCheck && !hasMatchingTransfer(tx.Transfers, req) {
		return nil, x402.NewPaymentError(x402.ErrCodeRequirementMismatch, "transaction does not pay the required amount", x402.ErrRequirementMismatch).
			WithDetails("txHash", proof.TxHash)
	}

	if !v.redeem(proof.TxHash) {
		return nil, x402.NewPaymentError(x402.ErrCodePaymentReplayed, "payment already redeemed", x402.ErrPaymentReplayed).
			WithDetails("txHash", proof.TxHash)
	}

	paid, _ := x402.ParseAtomic(proof.Amount)
	return &Result{
		Proof: proof,
		Receipt: x402.VerificationReceipt{
			Status:    x402.StatusVerified,
			TxHash:    proof.TxHash,
			Amount:    x402.FormatAmount(paid, v.decimals),
			Timestamp: v.now().UTC().Format(time.RFC3339),
		},
		Transaction: tx,
	}, nil
}

func hasMatchingTransfer(transfers []x402.Transfer, req x402.PaymentRequirement) bool {
	want, ok := x402.ParseAtomic(req.Amount)
	if !ok {
		return false
	}
	for _, t := range transfers {
		if t.Amount == nil {
			continue
		}
		if !x402.SameAddress(req.Network, t.Asset, req.Asset) || !x402.SameAddress(req.Network, t.To, req.PayTo) {
			continue
		}
		if t.Amount.Cmp(want) >= 0 {
			return true
		}
	}
	return false
}

func (v *Verifier) seen(txHash string) bool {
	if v.redeemed == nil {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.redeemed.Contains(normalizeHash(txHash))
}

// redeem marks txHash as used. It returns false if another request got there first.
func (v *Verifier) redeem(txHash string) bool {
	if v.redeemed == nil {
		return true
	}
	key := normalizeHash(txHash)
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.redeemed.Contains(key) {
		return false
	}
	v.redeemed.Add(key, v.now())
	return true
}

func normalizeHash(txHash string) string {
	if strings.HasPrefix(txHash, "0x") || strings.HasPrefix(txHash, "0X") {
		return strings.ToLower(txHash)
	}
	return txHash
}
