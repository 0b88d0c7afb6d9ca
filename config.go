package x402

import (
	"fmt"
	"time"
)

// TimeoutConfig holds timeout configuration for facilitator calls.
type TimeoutConfig struct {
	// VerifyTimeout is the maximum time to wait for payment verification.
	VerifyTimeout time.Duration

	// SettleTimeout is the maximum time to wait for payment settlement.
	SettleTimeout time.Duration

	// RequestTimeout is the overall timeout for HTTP requests.
	RequestTimeout time.Duration
}

// DefaultTimeouts provides sensible defaults for facilitator calls.
var DefaultTimeouts = TimeoutConfig{
	VerifyTimeout:  10 * time.Second,
	SettleTimeout:  30 * time.Second,
	RequestTimeout: 120 * time.Second,
}

// WithVerifyTimeout returns a new TimeoutConfig with updated verify timeout.
func (tc TimeoutConfig) WithVerifyTimeout(d time.Duration) TimeoutConfig {
	tc.VerifyTimeout = d
	return tc
}

// WithSettleTimeout returns a new TimeoutConfig with updated settle timeout.
func (tc TimeoutConfig) WithSettleTimeout(d time.Duration) TimeoutConfig {
	tc.SettleTimeout = d
	return tc
}

// Validate ensures timeout values are reasonable.
func (tc TimeoutConfig) Validate() error {
	if tc.VerifyTimeout <= 0 {
		return fmt.Errorf("verify timeout must be positive, got %v", tc.VerifyTimeout)
	}
	if tc.SettleTimeout <= 0 {
		return fmt.Errorf("settle timeout must be positive, got %v", tc.SettleTimeout)
	}
	if tc.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %v", tc.RequestTimeout)
	}
	return nil
}

// ConfirmationConfig bounds how long a payer waits for its payment to become final.
type ConfirmationConfig struct {
	// PollInterval is the pause between two receipt lookups.
	PollInterval time.Duration

	// MaxAttempts is the number of receipt lookups before giving up.
	MaxAttempts int
}

// DefaultConfirmation polls every 2 seconds, 30 times.
var DefaultConfirmation = ConfirmationConfig{
	PollInterval: 2 * time.Second,
	MaxAttempts:  30,
}

// Bound returns the longest time a wait can take, ignoring lookup latency.
func (cc ConfirmationConfig) Bound() time.Duration {
	if cc.MaxAttempts <= 1 {
		return 0
	}
	return time.Duration(cc.MaxAttempts-1) * cc.PollInterval
}

// Validate ensures the confirmation budget is usable.
func (cc ConfirmationConfig) Validate() error {
	if cc.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive, got %d", cc.MaxAttempts)
	}
	if cc.PollInterval < 0 {
		return fmt.Errorf("poll interval must not be negative, got %v", cc.PollInterval)
	}
	return nil
}
