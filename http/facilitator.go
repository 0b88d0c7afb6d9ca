// Package http provides HTTP client and server implementations for the x402 protocol.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"

	x402 "github.com/Zyzgsfi/agentpay"
	"github.com/Zyzgsfi/agentpay/encoding"
	"github.com/Zyzgsfi/agentpay/facilitator"
	"github.com/Zyzgsfi/agentpay/verifier"
)

// AuthorizationProvider is a function that returns an Authorization header value.
// This is useful for dynamic tokens (e.g., JWT refresh) where the value may change.
//
// The provider is called on each HTTP request, including retry attempts, and
// calls are not serialized.
type AuthorizationProvider func(*http.Request) string

// OnBeforeFunc is a callback invoked before a verify or settle operation.
// Return an error to abort the operation.
type OnBeforeFunc func(context.Context, x402.PaymentProof, x402.PaymentRequirement) error

// OnAfterVerifyFunc is a callback invoked after a Verify operation completes.
type OnAfterVerifyFunc func(context.Context, x402.PaymentProof, x402.PaymentRequirement, *facilitator.VerifyResponse, error)

// OnAfterSettleFunc is a callback invoked after a Settle operation completes.
type OnAfterSettleFunc func(context.Context, x402.PaymentProof, x402.PaymentRequirement, *facilitator.SettleResponse, error)

// FacilitatorClient talks to a remote facilitator service.
type FacilitatorClient struct {
	// BaseURL is the facilitator service URL (e.g., "http://localhost:8080/facilitator").
	BaseURL string

	// Client is the HTTP client to use for requests. If nil, http.DefaultClient is used.
	Client *http.Client

	// Timeouts contains timeout configuration for payment operations.
	Timeouts x402.TimeoutConfig

	// MaxRetries is the maximum number of retry attempts when the facilitator
	// cannot be reached (default: 0).
	MaxRetries int

	// RetryDelay is the initial delay between retry attempts (default: 100ms).
	// Exponential backoff is applied with a multiplier of 2.0.
	RetryDelay time.Duration

	// Authorization is a static Authorization header value (e.g., "Bearer token").
	// If AuthorizationProvider is also set, the provider takes precedence.
	Authorization string

	// AuthorizationProvider returns the Authorization header value per request.
	AuthorizationProvider AuthorizationProvider

	// OnBeforeVerify is called before the Verify operation starts.
	// If it returns an error, the operation is aborted immediately.
	OnBeforeVerify OnBeforeFunc

	// OnAfterVerify is called after the Verify operation completes (success or failure).
	OnAfterVerify OnAfterVerifyFunc

	// OnBeforeSettle is called before the Settle operation starts.
	// If it returns an error, the operation is aborted immediately.
	OnBeforeSettle OnBeforeFunc

	// OnAfterSettle is called after the Settle operation completes (success or failure).
	OnAfterSettle OnAfterSettleFunc
}

var (
	_ facilitator.Interface = (*FacilitatorClient)(nil)
	_ x402.ReceiptSource    = (*FacilitatorClient)(nil)
)

// httpClient returns the HTTP client to use, defaulting to http.DefaultClient.
func (c *FacilitatorClient) httpClient() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}

// setAuthorizationHeader sets the Authorization header on the request if configured.
func (c *FacilitatorClient) setAuthorizationHeader(req *http.Request) {
	var authValue string
	if c.AuthorizationProvider != nil {
		authValue = c.AuthorizationProvider(req)
	} else if c.Authorization != "" {
		authValue = c.Authorization
	}
	if authValue != "" {
		req.Header.Set("Authorization", authValue)
	}
}

// retryOptions returns the backoff options based on client settings.
func (c *FacilitatorClient) retryOptions() []backoff.RetryOption {
	retryDelay := c.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 100 * time.Millisecond
	}

	maxRetries := c.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryDelay
	b.MaxInterval = retryDelay * 4
	b.Multiplier = 2.0
	b.RandomizationFactor = 0

	return []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(maxRetries + 1)), // MaxRetries counts retries, not attempts
	}
}

// withRetry runs op, retrying only while the facilitator is unreachable.
func withRetry[T any](ctx context.Context, c *FacilitatorClient, op func() (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		res, err := op()
		if err != nil && !isFacilitatorUnavailableError(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}, c.retryOptions()...)
}

// timeoutContext applies d unless ctx already carries a deadline.
func timeoutContext(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return ctx, func() {}
}

// post sends body as JSON to path and decodes a 200 answer into out.
func (c *FacilitatorClient) post(ctx context.Context, path string, timeout time.Duration, body []byte, out interface{}) error {
	reqCtx, cancel := timeoutContext(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.setAuthorizationHeader(httpReq)

	httpResp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", x402.ErrFacilitatorUnavailable, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return parseErrorResponse(httpResp)
	}
	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// Verify asks the facilitator to check proof against requirement.
func (c *FacilitatorClient) Verify(ctx context.Context, proof x402.PaymentProof, requirement x402.PaymentRequirement) (*facilitator.VerifyResponse, error) {
	if c.OnBeforeVerify != nil {
		if err := c.OnBeforeVerify(ctx, proof, requirement); err != nil {
			return nil, err
		}
	}

	data, err := json.Marshal(facilitator.VerifyRequest{PaymentPayload: proof, PaymentRequirements: requirement})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, resultErr := withRetry(ctx, c, func() (*facilitator.VerifyResponse, error) {
		var verifyResp facilitator.VerifyResponse
		if err := c.post(ctx, "/verify", c.Timeouts.VerifyTimeout, data, &verifyResp); err != nil {
			return nil, err
		}
		if verifyResp.Payer == "" {
			verifyResp.Payer = proof.Payer
		}
		return &verifyResp, nil
	})

	if c.OnAfterVerify != nil {
		c.OnAfterVerify(ctx, proof, requirement, resp, resultErr)
	}
	return resp, resultErr
}

// Settle asks the facilitator to settle a verified proof.
func (c *FacilitatorClient) Settle(ctx context.Context, proof x402.PaymentProof, requirement x402.PaymentRequirement) (*facilitator.SettleResponse, error) {
	if c.OnBeforeSettle != nil {
		if err := c.OnBeforeSettle(ctx, proof, requirement); err != nil {
			return nil, err
		}
	}

	data, err := json.Marshal(facilitator.SettleRequest{PaymentPayload: proof, PaymentRequirements: requirement})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, resultErr := withRetry(ctx, c, func() (*facilitator.SettleResponse, error) {
		var settleResp facilitator.SettleResponse
		if err := c.post(ctx, "/settle", c.Timeouts.SettleTimeout, data, &settleResp); err != nil {
			return nil, err
		}
		return &settleResp, nil
	})

	if c.OnAfterSettle != nil {
		c.OnAfterSettle(ctx, proof, requirement, resp, resultErr)
	}
	return resp, resultErr
}

// Status queries the facilitator for the ledger status of txHash.
// Unknown transactions return an error wrapping x402.ErrReceiptNotFound.
func (c *FacilitatorClient) Status(ctx context.Context, txHash string) (*facilitator.PaymentStatus, error) {
	return withRetry(ctx, c, func() (*facilitator.PaymentStatus, error) {
		reqCtx, cancel := timeoutContext(ctx, c.Timeouts.VerifyTimeout)
		defer cancel()

		httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.BaseURL+"/payment/"+url.PathEscape(txHash), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		c.setAuthorizationHeader(httpReq)

		httpResp, err := c.httpClient().Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", x402.ErrFacilitatorUnavailable, err)
		}
		defer httpResp.Body.Close()

		switch httpResp.StatusCode {
		case http.StatusOK:
		case http.StatusNotFound:
			return nil, fmt.Errorf("%w: %s", x402.ErrReceiptNotFound, txHash)
		default:
			return nil, parseErrorResponse(httpResp)
		}

		var status facilitator.PaymentStatus
		if err := json.NewDecoder(httpResp.Body).Decode(&status); err != nil {
			return nil, fmt.Errorf("failed to decode status response: %w", err)
		}
		return &status, nil
	})
}

// GetReceipt implements x402.ReceiptSource, letting a remote facilitator
// stand in for a ledger in the verifier or a confirmation waiter.
func (c *FacilitatorClient) GetReceipt(ctx context.Context, txID string) (*x402.TransactionReceipt, error) {
	status, err := c.Status(ctx, txID)
	switch {
	case errors.Is(err, x402.ErrReceiptNotFound):
		return nil, err
	case err != nil:
		return nil, fmt.Errorf("%w: %v", x402.ErrLedgerUnavailable, err)
	}
	return status.Receipt(), nil
}

// parseErrorResponse turns a non-200 facilitator answer into an error.
// A known code in the body is mapped back to its sentinel.
func parseErrorResponse(resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var body facilitator.ErrorResponse
	if err := json.Unmarshal(bodyBytes, &body); err == nil {
		if sentinel := x402.SentinelFor(body.Code); sentinel != nil {
			return x402.NewPaymentError(body.Code, body.Error, sentinel).WithStatus(resp.StatusCode)
		}
		if body.Error != "" {
			return fmt.Errorf("facilitator error: status %d, reason: %s", resp.StatusCode, body.Error)
		}
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: status %d", x402.ErrFacilitatorUnavailable, resp.StatusCode)
	}
	if len(bodyBytes) > 0 && len(bodyBytes) < 500 {
		return fmt.Errorf("facilitator error: status %d, body: %s", resp.StatusCode, string(bodyBytes))
	}
	return fmt.Errorf("facilitator error: status %d", resp.StatusCode)
}

// isFacilitatorUnavailableError checks if an error is a facilitator unavailable error.
func isFacilitatorUnavailableError(err error) bool {
	return errors.Is(err, x402.ErrFacilitatorUnavailable)
}

// FacilitatorVerifier is a ProofVerifier that delegates to remote facilitators.
// Fallback, if set, is consulted only when Primary cannot be reached.
type FacilitatorVerifier struct {
	Primary  *FacilitatorClient
	Fallback *FacilitatorClient

	// Decimals converts the verified amount for the receipt (default: x402.DefaultDecimals).
	Decimals int

	now func() time.Time
}

var _ ProofVerifier = (*FacilitatorVerifier)(nil)

// Verify implements ProofVerifier.
func (f *FacilitatorVerifier) Verify(ctx context.Context, header string, req x402.PaymentRequirement) (*verifier.Result, error) {
	proof, err := encoding.DecodeProof(header)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeMalformedProof, "invalid payment proof format", x402.ErrMalformedProof).
			WithDetails("reason", err.Error())
	}

	resp, err := f.Primary.Verify(ctx, proof, req)
	if err != nil && f.Fallback != nil && isFacilitatorUnavailableError(err) {
		resp, err = f.Fallback.Verify(ctx, proof, req)
	}
	if err != nil {
		if isFacilitatorUnavailableError(err) {
			return nil, x402.NewPaymentError(x402.ErrCodeVerificationUnavailable, "payment verification failed", x402.ErrVerificationUnavailable).
				WithDetails("reason", err.Error())
		}
		return nil, err
	}
	if !resp.Valid {
		return nil, x402.NewPaymentError(x402.ErrCodeRequirementMismatch, "payment rejected by facilitator", x402.ErrRequirementMismatch)
	}

	decimals := f.Decimals
	if decimals == 0 {
		decimals = x402.DefaultDecimals
	}
	atomic, ok := x402.ParseAtomic(proof.Amount)
	if !ok {
		return nil, x402.NewPaymentError(x402.ErrCodeMalformedProof, "invalid payment proof format", x402.ErrMalformedProof)
	}

	now := time.Now
	if f.now != nil {
		now = f.now
	}
	timestamp := resp.Timestamp
	if timestamp == "" {
		timestamp = now().UTC().Format(time.RFC3339)
	}

	return &verifier.Result{
		Proof: proof,
		Receipt: x402.VerificationReceipt{
			Status:    x402.StatusVerified,
			TxHash:    proof.TxHash,
			Amount:    x402.FormatAmount(atomic, decimals),
			Timestamp: timestamp,
		},
		Transaction: &x402.TransactionReceipt{
			TxHash:      resp.TransactionHash,
			Status:      x402.TxStatusSuccess,
			BlockNumber: resp.BlockNumber,
			GasUsed:     resp.GasUsed,
		},
	}, nil
}
