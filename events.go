package x402

import "time"

// PaymentEventType represents the type of payment event.
type PaymentEventType string

const (
	// PaymentEventAttempt indicates a payment is being attempted.
	PaymentEventAttempt PaymentEventType = "attempt"

	// PaymentEventSuccess indicates a payment succeeded.
	PaymentEventSuccess PaymentEventType = "success"

	// PaymentEventFailure indicates a payment failed.
	PaymentEventFailure PaymentEventType = "failure"

	// PaymentEventVerified indicates a resource server accepted a proof.
	PaymentEventVerified PaymentEventType = "verified"

	// PaymentEventRejected indicates a resource server refused a proof.
	PaymentEventRejected PaymentEventType = "rejected"
)

// PaymentEvent represents a payment lifecycle event, emitted by both the
// paying client and the verifying middleware.
type PaymentEvent struct {
	// Type is the event type.
	Type PaymentEventType `json:"type"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Method is the transport ("HTTP" or "MCP").
	Method string `json:"method"`

	// Tool is the MCP tool being accessed (MCP only).
	Tool string `json:"tool,omitempty"`

	// URL is the HTTP URL being accessed (HTTP only).
	URL string `json:"url,omitempty"`

	// Amount is the payment amount in atomic units.
	Amount string `json:"amount,omitempty"`

	// Asset is the token address or mint.
	Asset string `json:"asset,omitempty"`

	// Network is the CAIP-2 network identifier.
	Network string `json:"network,omitempty"`

	// Recipient is the payment recipient address.
	Recipient string `json:"recipient,omitempty"`

	// Payer is the address that made the payment.
	Payer string `json:"payer,omitempty"`

	// Transaction is the ledger transaction hash (available once submitted).
	Transaction string `json:"transaction,omitempty"`

	// Polls is the number of receipt lookups the confirmation wait made.
	Polls int `json:"polls,omitempty"`

	// Error contains error details (available on failure).
	Error error `json:"-"`

	// Duration is the time taken for the payment operation.
	Duration time.Duration `json:"duration"`
}

// PaymentCallback handles payment events. Callbacks run synchronously on
// the payment path and must return quickly.
type PaymentCallback func(PaymentEvent)

// MultiCallback returns a callback that calls every non-nil cb in order.
// It returns nil when no cb is set.
func MultiCallback(cbs ...PaymentCallback) PaymentCallback {
	var set []PaymentCallback
	for _, cb := range cbs {
		if cb != nil {
			set = append(set, cb)
		}
	}
	switch len(set) {
	case 0:
		return nil
	case 1:
		return set[0]
	}
	return func(event PaymentEvent) {
		for _, cb := range set {
			cb(event)
		}
	}
}
