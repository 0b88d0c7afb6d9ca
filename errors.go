package x402

import (
	"errors"
	"net/http"
)

// Sentinel errors for verification failures. All of them except
// ErrVerificationUnavailable are the caller's fault and map to HTTP 400.
var (
	// ErrMalformedProof indicates the X-Payment header could not be parsed.
	ErrMalformedProof = errors.New("x402: malformed payment proof")

	// ErrRequirementMismatch indicates the proof does not satisfy the requirement.
	ErrRequirementMismatch = errors.New("x402: payment does not match requirement")

	// ErrUnconfirmedPayment indicates the ledger has no final record of the transaction.
	ErrUnconfirmedPayment = errors.New("x402: payment not confirmed")

	// ErrRejectedPayment indicates the ledger recorded the transaction as failed.
	ErrRejectedPayment = errors.New("x402: payment transaction failed")

	// ErrPaymentReplayed indicates the transaction was already redeemed.
	ErrPaymentReplayed = errors.New("x402: payment already redeemed")

	// ErrVerificationUnavailable indicates the ledger could not be reached.
	ErrVerificationUnavailable = errors.New("x402: payment verification unavailable")
)

// Sentinel errors for the paying side.
var (
	// ErrPaymentLimitExceeded indicates the challenge asks for more than the caller allows.
	ErrPaymentLimitExceeded = errors.New("x402: payment amount exceeds limit")

	// ErrTransactionReverted indicates the submitted payment failed on the ledger.
	ErrTransactionReverted = errors.New("x402: transaction reverted")

	// ErrConfirmationTimeout indicates the payment did not reach a final state in time.
	ErrConfirmationTimeout = errors.New("x402: payment confirmation timed out")

	// ErrServiceRequestFailed indicates the paid retry did not succeed.
	ErrServiceRequestFailed = errors.New("x402: service request failed")
)

// Other sentinel errors.
var (
	// ErrAgentNotFound indicates no agent is registered under the id.
	ErrAgentNotFound = errors.New("x402: agent not found")

	// ErrReceiptNotFound indicates the ledger does not know the transaction.
	ErrReceiptNotFound = errors.New("x402: transaction receipt not found")

	// ErrLedgerUnavailable indicates the ledger could not be reached.
	ErrLedgerUnavailable = errors.New("x402: ledger unavailable")

	// ErrInvalidRequirements indicates the payment requirements from the server are invalid.
	ErrInvalidRequirements = errors.New("x402: invalid payment requirements")

	// ErrInvalidAmount indicates an invalid amount string.
	ErrInvalidAmount = errors.New("x402: invalid amount")

	// ErrInvalidKey indicates an invalid private key.
	ErrInvalidKey = errors.New("x402: invalid private key")

	// ErrInvalidNetwork indicates an unsupported network.
	ErrInvalidNetwork = errors.New("x402: invalid or unsupported network")

	// ErrFacilitatorUnavailable indicates the facilitator service is unavailable.
	ErrFacilitatorUnavailable = errors.New("x402: facilitator service unavailable")
)

// ErrorCode represents payment error codes for programmatic handling.
type ErrorCode string

const (
	ErrCodeMalformedProof          ErrorCode = "MALFORMED_PROOF"
	ErrCodeRequirementMismatch     ErrorCode = "REQUIREMENT_MISMATCH"
	ErrCodeUnconfirmedPayment      ErrorCode = "UNCONFIRMED_PAYMENT"
	ErrCodeRejectedPayment         ErrorCode = "REJECTED_PAYMENT"
	ErrCodePaymentReplayed         ErrorCode = "PAYMENT_REPLAYED"
	ErrCodeVerificationUnavailable ErrorCode = "VERIFICATION_UNAVAILABLE"
	ErrCodePaymentLimitExceeded    ErrorCode = "PAYMENT_LIMIT_EXCEEDED"
	ErrCodeTransactionReverted     ErrorCode = "TRANSACTION_REVERTED"
	ErrCodeConfirmationTimeout     ErrorCode = "CONFIRMATION_TIMEOUT"
	ErrCodeServiceRequestFailed    ErrorCode = "SERVICE_REQUEST_FAILED"
	ErrCodeInvalidRequirements     ErrorCode = "INVALID_REQUIREMENTS"
	ErrCodeNetworkError            ErrorCode = "NETWORK_ERROR"
	ErrCodeAgentNotFound           ErrorCode = "AGENT_NOT_FOUND"
)

// PaymentError provides structured error information.
type PaymentError struct {
	// Code is the error code for programmatic handling.
	Code ErrorCode

	// Message is the human-readable error message.
	Message string

	// Details contains additional error context.
	Details map[string]interface{}

	// StatusCode is the HTTP status of the failed service request, if any.
	StatusCode int

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *PaymentError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *PaymentError) Unwrap() error {
	return e.Err
}

// NewPaymentError creates a new PaymentError with the given code and message.
func NewPaymentError(code ErrorCode, message string, err error) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// WithDetails adds additional context to the error.
// Lazily initializes the Details map if nil.
func (e *PaymentError) WithDetails(key string, value interface{}) *PaymentError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithStatus records the HTTP status of a failed service request.
func (e *PaymentError) WithStatus(status int) *PaymentError {
	e.StatusCode = status
	return e.WithDetails("status", status)
}

// CodeOf returns the ErrorCode carried by err, or "" if err is not a PaymentError.
func CodeOf(err error) ErrorCode {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// HTTPStatus maps a verification error to the status a resource server
// answers with. Unavailability of the ledger is a server fault; every other
// verification failure is the client's.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrVerificationUnavailable), errors.Is(err, ErrLedgerUnavailable):
		return http.StatusInternalServerError
	case errors.Is(err, ErrAgentNotFound), errors.Is(err, ErrReceiptNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrMalformedProof),
		errors.Is(err, ErrRequirementMismatch),
		errors.Is(err, ErrUnconfirmedPayment),
		errors.Is(err, ErrRejectedPayment),
		errors.Is(err, ErrPaymentReplayed):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

var sentinelByCode = map[ErrorCode]error{
	ErrCodeMalformedProof:          ErrMalformedProof,
	ErrCodeRequirementMismatch:     ErrRequirementMismatch,
	ErrCodeUnconfirmedPayment:      ErrUnconfirmedPayment,
	ErrCodeRejectedPayment:         ErrRejectedPayment,
	ErrCodePaymentReplayed:         ErrPaymentReplayed,
	ErrCodeVerificationUnavailable: ErrVerificationUnavailable,
	ErrCodePaymentLimitExceeded:    ErrPaymentLimitExceeded,
	ErrCodeTransactionReverted:     ErrTransactionReverted,
	ErrCodeConfirmationTimeout:     ErrConfirmationTimeout,
	ErrCodeServiceRequestFailed:    ErrServiceRequestFailed,
	ErrCodeInvalidRequirements:     ErrInvalidRequirements,
	ErrCodeAgentNotFound:           ErrAgentNotFound,
}

// SentinelFor returns the sentinel error for a wire error code, or nil if
// the code is unknown. Remote clients use it to rebuild typed errors.
func SentinelFor(code ErrorCode) error {
	return sentinelByCode[code]
}
