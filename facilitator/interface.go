// Package facilitator defines the facilitator contract and a local implementation.
//
// A facilitator answers three questions for resource servers that do not
// talk to a ledger themselves: is this proof valid, may it be treated as
// settled, and what is the status of a transaction. Payments in this
// protocol are already on the ledger when the proof arrives, so settling
// only confirms what verifying established.
package facilitator

import (
	"context"

	x402 "github.com/Zyzgsfi/agentpay"
)

// Interface defines the facilitator contract.
// Both the local Service and the remote http.FacilitatorClient satisfy it.
type Interface interface {
	// Verify checks a proof against a requirement. Failures are returned as
	// errors wrapping the matching x402 sentinel.
	Verify(ctx context.Context, proof x402.PaymentProof, requirement x402.PaymentRequirement) (*VerifyResponse, error)

	// Settle verifies the proof and reports it as settled.
	Settle(ctx context.Context, proof x402.PaymentProof, requirement x402.PaymentRequirement) (*SettleResponse, error)

	// Status reports the ledger status of a transaction.
	Status(ctx context.Context, txHash string) (*PaymentStatus, error)
}

// VerifyRequest is the request payload sent to POST /verify.
type VerifyRequest struct {
	// PaymentPayload is the proof presented by the client.
	PaymentPayload x402.PaymentProof `json:"paymentPayload"`

	// PaymentRequirements is the requirement the proof must satisfy.
	PaymentRequirements x402.PaymentRequirement `json:"paymentRequirements"`
}

// SettleRequest is the request payload sent to POST /settle.
type SettleRequest = VerifyRequest

// VerifyResponse is returned by POST /verify.
type VerifyResponse struct {
	Valid           bool   `json:"valid"`
	TransactionHash string `json:"transactionHash,omitempty"`
	BlockNumber     uint64 `json:"blockNumber,omitempty"`
	GasUsed         uint64 `json:"gasUsed,omitempty"`
	Timestamp       string `json:"timestamp,omitempty"`
	Payer           string `json:"payer,omitempty"`
}

// SettleResponse is returned by POST /settle.
type SettleResponse struct {
	Settled         bool   `json:"settled"`
	TransactionHash string `json:"transactionHash,omitempty"`
	SettlementTime  string `json:"settlementTime,omitempty"`
	Status          string `json:"status,omitempty"`
}

// PaymentStatus is returned by GET /payment/:txHash.
type PaymentStatus struct {
	TransactionHash string          `json:"transactionHash"`
	Status          x402.TxStatus   `json:"status"`
	BlockNumber     uint64          `json:"blockNumber"`
	GasUsed         uint64          `json:"gasUsed"`
	Timestamp       string          `json:"timestamp"`
	Transfers       []x402.Transfer `json:"transfers,omitempty"`
}

// ErrorResponse is the body of every non-200 facilitator answer.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Code    x402.ErrorCode `json:"code,omitempty"`
	Valid   *bool          `json:"valid,omitempty"`
	Settled *bool          `json:"settled,omitempty"`
}

// SettlementStatusCompleted is the status reported for a settled payment.
const SettlementStatusCompleted = "completed"

// Receipt converts a status into the ledger receipt it was built from.
func (s *PaymentStatus) Receipt() *x402.TransactionReceipt {
	return &x402.TransactionReceipt{
		TxHash:      s.TransactionHash,
		Status:      s.Status,
		BlockNumber: s.BlockNumber,
		GasUsed:     s.GasUsed,
		Transfers:   s.Transfers,
	}
}
