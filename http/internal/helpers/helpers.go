// Package helpers provides internal HTTP utilities shared by the net/http
// and gin adapters.
package helpers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	x402 "github.com/Zyzgsfi/agentpay"
	"github.com/Zyzgsfi/agentpay/encoding"
	"github.com/Zyzgsfi/agentpay/validation"
)

// ErrNilProof is returned when proof is nil in BuildPaymentHeader.
var ErrNilProof = errors.New("proof is nil")

// maxChallengeBytes caps how much of a 402 body is read.
const maxChallengeBytes = 1 << 20

// ErrorBody is the JSON body of a rejected proof.
type ErrorBody struct {
	Error   string         `json:"error"`
	Code    x402.ErrorCode `json:"code,omitempty"`
	Message string         `json:"message,omitempty"`
}

// SendPaymentRequired writes a 402 Payment Required response with the given challenge.
func SendPaymentRequired(w http.ResponseWriter, challenge x402.PaymentRequired) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	if err := json.NewEncoder(w).Encode(challenge); err != nil {
		return fmt.Errorf("encoding PaymentRequired response: %w", err)
	}
	return nil
}

// RejectionBody converts a verification error into the response body.
func RejectionBody(err error) ErrorBody {
	body := ErrorBody{Error: "Payment verification failed", Code: x402.CodeOf(err), Message: err.Error()}
	switch {
	case errors.Is(err, x402.ErrMalformedProof):
		body.Error = "Invalid payment proof format"
	case errors.Is(err, x402.ErrRequirementMismatch):
		body.Error = "Payment details do not match requirements"
	case errors.Is(err, x402.ErrUnconfirmedPayment):
		body.Error = "Payment transaction not confirmed"
	case errors.Is(err, x402.ErrRejectedPayment):
		body.Error = "Payment transaction failed"
	case errors.Is(err, x402.ErrPaymentReplayed):
		body.Error = "Payment already redeemed"
	}
	return body
}

// SendRejection writes the status and JSON body for a verification error.
func SendRejection(w http.ResponseWriter, err error) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(x402.HTTPStatus(err))
	if encErr := json.NewEncoder(w).Encode(RejectionBody(err)); encErr != nil {
		return fmt.Errorf("encoding rejection: %w", encErr)
	}
	return nil
}

// AddPaymentResponseHeader adds the X-Payment-Response header.
func AddPaymentResponseHeader(w http.ResponseWriter, receipt x402.VerificationReceipt) error {
	encoded, err := encoding.EncodeReceipt(receipt)
	if err != nil {
		return fmt.Errorf("AddPaymentResponseHeader: %w", err)
	}
	w.Header().Set(x402.HeaderPaymentResponse, encoded)
	return nil
}

// ParsePaymentRequirements extracts PaymentRequired from a 402 response body
// and checks every requirement in it.
func ParsePaymentRequirements(resp *http.Response) (*x402.PaymentRequired, error) {
	if resp == nil || resp.Body == nil {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidRequirements, "missing response or body", x402.ErrInvalidRequirements)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxChallengeBytes))
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeNetworkError, "failed to read payment requirements", err)
	}
	required, err := encoding.DecodeRequirements(body)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidRequirements, "failed to decode payment requirements", x402.ErrInvalidRequirements).
			WithDetails("reason", err.Error())
	}
	if len(required.PaymentRequirements) == 0 {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidRequirements, "no payment requirements in response", x402.ErrInvalidRequirements)
	}
	// One malformed entry rejects the whole challenge.
	if err := validation.ValidatePaymentRequired(required); err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidRequirements, "malformed payment requirements", x402.ErrInvalidRequirements).
			WithDetails("reason", err.Error())
	}
	return &required, nil
}

// ParseReceipt extracts the X-Payment-Response header.
// Returns nil if the header is empty or cannot be parsed.
func ParseReceipt(headerValue string) *x402.VerificationReceipt {
	if headerValue == "" {
		return nil
	}
	receipt, err := encoding.DecodeReceipt(headerValue)
	if err != nil {
		return nil
	}
	return &receipt
}

// BuildPaymentHeader creates the X-Payment header value.
func BuildPaymentHeader(proof *x402.PaymentProof) (string, error) {
	if proof == nil {
		return "", fmt.Errorf("BuildPaymentHeader: %w", ErrNilProof)
	}
	encoded, err := encoding.EncodeProof(*proof)
	if err != nil {
		return "", fmt.Errorf("BuildPaymentHeader: %w", err)
	}
	return encoded, nil
}

// BuildResourceURL constructs the full URL for the protected resource from the request.
func BuildResourceURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.RequestURI
}
