// Package x402 implements a pay-per-request protocol for HTTP resources.
//
// A resource server answers an unpaid request with HTTP 402 and a
// PaymentRequired challenge. The caller settles the payment on a ledger,
// then repeats the request with a PaymentProof in the X-Payment header.
// The server checks the proof against the ledger before serving the
// resource and reports the outcome in the X-Payment-Response header.
//
// Import path: github.com/Zyzgsfi/agentpay
package x402

import (
	"math/big"
	"strings"
)

// HTTP headers used by the protocol.
const (
	// HeaderPayment carries the JSON-encoded PaymentProof on the retried request.
	HeaderPayment = "X-Payment"

	// HeaderPaymentResponse carries the JSON-encoded VerificationReceipt on success.
	HeaderPaymentResponse = "X-Payment-Response"
)

// Payment schemes.
const (
	// SchemeERC20 is a plain ERC-20 transfer on an EVM chain.
	SchemeERC20 = "erc20"

	// SchemeSPL is an SPL token transfer on Solana.
	SchemeSPL = "spl-token"
)

// DefaultDecimals is the number of decimal places used when a requirement
// does not say otherwise. USDC uses 6 on every supported chain.
const DefaultDecimals = 6

// StatusVerified is the only status reported in a VerificationReceipt.
const StatusVerified = "verified"

// PaymentRequirement describes the payment a resource server will accept.
// A requirement is built fresh for every challenge and never stored.
type PaymentRequirement struct {
	// Scheme is the payment scheme identifier (e.g., "erc20").
	Scheme string `json:"scheme"`

	// Amount is the price in atomic units of the asset (e.g., "50000" for 0.05 USDC).
	Amount string `json:"amount"`

	// PayTo is the address that must receive the payment.
	PayTo string `json:"to"`

	// Asset is the token contract address (EVM) or mint address (Solana).
	Asset string `json:"token"`

	// Network is the CAIP-2 network identifier (e.g., "eip155:84532").
	Network string `json:"network"`

	// ChainID is the EVM chain id, omitted for non-EVM networks.
	ChainID int64 `json:"chainId,omitempty"`

	// Decimals is informational; the amount is always atomic.
	Decimals int `json:"decimals,omitempty"`
}

// PaymentRequired is the 402 response body sent by resource servers.
type PaymentRequired struct {
	// PaymentRequirements lists the payment options the server accepts.
	PaymentRequirements []PaymentRequirement `json:"paymentRequirements"`

	// Message is a human-readable description of the charge.
	Message string `json:"message"`
}

// PaymentProof is the client's claim that it has paid. The server treats
// every field as untrusted until it has been checked against the ledger.
type PaymentProof struct {
	// TxHash is the ledger transaction identifier.
	TxHash string `json:"txHash"`

	// Amount is the paid amount in atomic units.
	Amount string `json:"amount"`

	// PayTo is the recipient the client paid.
	PayTo string `json:"to"`

	// Asset is the token the client paid with.
	Asset string `json:"token"`

	// Payer is the address that paid.
	Payer string `json:"from"`
}

// VerificationReceipt is returned to the client in the X-Payment-Response header.
type VerificationReceipt struct {
	// Status is always StatusVerified.
	Status string `json:"status"`

	// TxHash is the verified transaction.
	TxHash string `json:"txHash"`

	// Amount is the verified amount as a normalized decimal (e.g., "0.05").
	Amount string `json:"amount"`

	// Timestamp is the verification time in RFC 3339 format.
	Timestamp string `json:"timestamp"`
}

// TxStatus is the ledger-reported state of a transaction.
type TxStatus string

const (
	// TxStatusPending means the transaction is known but not final.
	TxStatusPending TxStatus = "pending"

	// TxStatusSuccess means the transaction executed successfully.
	TxStatusSuccess TxStatus = "success"

	// TxStatusFailed means the transaction was included but reverted.
	TxStatusFailed TxStatus = "failed"
)

// Transfer is a token movement observed inside a transaction.
type Transfer struct {
	Asset  string   `json:"asset"`
	From   string   `json:"from"`
	To     string   `json:"to"`
	Amount *big.Int `json:"amount"`
}

// TransactionReceipt is the ledger's view of a transaction. It is read
// during verification or a confirmation wait and not kept afterwards.
type TransactionReceipt struct {
	// TxHash is the transaction identifier.
	TxHash string `json:"transactionHash"`

	// Status is the transaction state.
	Status TxStatus `json:"status"`

	// BlockNumber is the block (or slot) the transaction landed in, zero while pending.
	BlockNumber uint64 `json:"blockNumber"`

	// GasUsed is the resource-usage metric reported by the ledger (gas or fee).
	GasUsed uint64 `json:"gasUsed"`

	// Transfers lists the token movements in the transaction, if the ledger reports them.
	Transfers []Transfer `json:"transfers,omitempty"`
}

// Terminal reports whether the receipt is in a final state.
func (r *TransactionReceipt) Terminal() bool {
	return r != nil && (r.Status == TxStatusSuccess || r.Status == TxStatusFailed)
}

// AmountToBigInt converts a decimal amount string to *big.Int in atomic units.
// For example, "1.5" with 6 decimals becomes 1500000.
// Returns ErrInvalidAmount if the amount is negative, has more precision than
// decimals allows, or decimals is negative.
func AmountToBigInt(amount string, decimals int) (*big.Int, error) {
	if decimals < 0 {
		return nil, ErrInvalidAmount
	}

	value := new(big.Rat)
	if _, ok := value.SetString(strings.TrimSpace(amount)); !ok {
		return nil, ErrInvalidAmount
	}
	if value.Sign() < 0 {
		return nil, ErrInvalidAmount
	}

	value.Mul(value, new(big.Rat).SetInt(pow10(decimals)))
	if !value.IsInt() {
		return nil, ErrInvalidAmount
	}
	return new(big.Int).Set(value.Num()), nil
}

// BigIntToAmount converts a *big.Int in atomic units to a decimal string
// with exactly decimals places. 1500000 with 6 decimals becomes "1.500000".
func BigIntToAmount(value *big.Int, decimals int) string {
	if value == nil {
		return "0"
	}
	rat := new(big.Rat).SetFrac(value, pow10(decimals))
	return rat.FloatString(decimals)
}

// FormatAmount converts atomic units to the shortest decimal string.
// 50000 with 6 decimals becomes "0.05", 1000000 becomes "1".
func FormatAmount(value *big.Int, decimals int) string {
	s := BigIntToAmount(value, decimals)
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// ParseAtomic parses an atomic-unit amount. Only non-negative base-10
// integers are accepted.
func ParseAtomic(s string) (*big.Int, bool) {
	if s == "" || strings.HasPrefix(s, "+") {
		return nil, false
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, false
	}
	return v, true
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
