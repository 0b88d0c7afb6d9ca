package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"

	x402 "github.com/Zyzgsfi/agentpay"
	"github.com/Zyzgsfi/agentpay/http/internal/helpers"
)

// DefaultMaxPayment is the per-call limit used when none is configured.
const DefaultMaxPayment = "1.0"

// Client is an HTTP client that pays for 402 responses.
// It wraps a standard http.Client and adds payment handling via X402Transport.
type Client struct {
	*http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client) error

// NewClient creates a paying HTTP client. Without WithLedger the client
// fails on any 402 with ErrNoLedger.
func NewClient(opts ...ClientOption) (*Client, error) {
	maxAmount, _ := x402.AmountToBigInt(DefaultMaxPayment, x402.DefaultDecimals)
	client := &Client{
		Client: &http.Client{
			Transport: &X402Transport{
				Base:         http.DefaultTransport,
				MaxAmount:    maxAmount,
				Confirmation: x402.DefaultConfirmation,
			},
		},
	}

	for _, opt := range opts {
		if err := opt(client); err != nil {
			return nil, err
		}
	}
	return client, nil
}

// WithHTTPClient sets the underlying HTTP client. Its transport becomes the
// base transport for unpaid requests.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) error {
		transport := getOrCreateTransport(c)
		transport.Base = httpClient.Transport
		if transport.Base == nil {
			transport.Base = http.DefaultTransport
		}
		clone := *httpClient
		clone.Transport = transport
		c.Client = &clone
		return nil
	}
}

// WithLedger sets the ledger the client pays from.
func WithLedger(ledger x402.Ledger) ClientOption {
	return func(c *Client) error {
		getOrCreateTransport(c).Ledger = ledger
		return nil
	}
}

// WithMaxPayment sets the per-call limit as a decimal in whole tokens, e.g. "0.50".
func WithMaxPayment(amount string) ClientOption {
	return func(c *Client) error {
		maxAmount, err := x402.AmountToBigInt(amount, x402.DefaultDecimals)
		if err != nil {
			return fmt.Errorf("invalid max payment %q: %w", amount, err)
		}
		getOrCreateTransport(c).MaxAmount = maxAmount
		return nil
	}
}

// WithMaxAmount sets the per-call limit in atomic units. Nil removes the limit.
func WithMaxAmount(amount *big.Int) ClientOption {
	return func(c *Client) error {
		getOrCreateTransport(c).MaxAmount = amount
		return nil
	}
}

// WithConfirmation sets how long the client waits for its payment to become final.
func WithConfirmation(cfg x402.ConfirmationConfig) ClientOption {
	return func(c *Client) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		getOrCreateTransport(c).Confirmation = cfg
		return nil
	}
}

// WithLogger sets the logger used by the payment flow.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		getOrCreateTransport(c).Logger = logger
		return nil
	}
}

// WithPaymentCallback sets a callback for a specific payment event type.
func WithPaymentCallback(eventType x402.PaymentEventType, callback x402.PaymentCallback) ClientOption {
	return func(c *Client) error {
		transport := getOrCreateTransport(c)
		switch eventType {
		case x402.PaymentEventAttempt:
			transport.OnPaymentAttempt = callback
		case x402.PaymentEventSuccess:
			transport.OnPaymentSuccess = callback
		case x402.PaymentEventFailure:
			transport.OnPaymentFailure = callback
		default:
			return fmt.Errorf("unknown payment event type: %s", eventType)
		}
		return nil
	}
}

// WithPaymentCallbacks sets all payment callbacks at once.
// Pass nil for any callback you don't want to set.
func WithPaymentCallbacks(onAttempt, onSuccess, onFailure x402.PaymentCallback) ClientOption {
	return func(c *Client) error {
		transport := getOrCreateTransport(c)
		if onAttempt != nil {
			transport.OnPaymentAttempt = onAttempt
		}
		if onSuccess != nil {
			transport.OnPaymentSuccess = onSuccess
		}
		if onFailure != nil {
			transport.OnPaymentFailure = onFailure
		}
		return nil
	}
}

// getOrCreateTransport gets the X402Transport or creates one if it doesn't exist.
func getOrCreateTransport(c *Client) *X402Transport {
	transport, ok := c.Transport.(*X402Transport)
	if !ok {
		base := c.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		transport = &X402Transport{Base: base, Confirmation: x402.DefaultConfirmation}
		c.Transport = transport
	}
	return transport
}

// PaymentTransport returns the payment transport.
func (c *Client) PaymentTransport() *X402Transport {
	return getOrCreateTransport(c)
}

// Call sends a request, paying if asked to, and decodes a JSON response
// into out (which may be nil). in, if non-nil, is sent as a JSON body.
// Any non-2xx outcome is reported as ErrServiceRequestFailed.
func (c *Client) Call(ctx context.Context, method, target string, in, out interface{}) (*x402.VerificationReceipt, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Do(req)
	if err != nil {
		return nil, unwrapURLError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, x402.NewPaymentError(x402.ErrCodeServiceRequestFailed, "Service request failed", x402.ErrServiceRequestFailed).
			WithStatus(resp.StatusCode).
			WithDetails("body", string(data))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}
	return GetReceipt(resp), nil
}

// GetReceipt extracts the verification receipt from an HTTP response.
// Returns nil if no receipt header is present or if parsing fails.
func GetReceipt(resp *http.Response) *x402.VerificationReceipt {
	return helpers.ParseReceipt(resp.Header.Get(x402.HeaderPaymentResponse))
}

// unwrapURLError strips the *url.Error that http.Client adds around payment failures.
func unwrapURLError(err error) error {
	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		return err
	}
	var pe *x402.PaymentError
	if errors.As(urlErr.Err, &pe) {
		return pe
	}
	return err
}
