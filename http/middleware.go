package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	x402 "github.com/Zyzgsfi/agentpay"
	"github.com/Zyzgsfi/agentpay/http/internal/helpers"
	"github.com/Zyzgsfi/agentpay/validation"
	"github.com/Zyzgsfi/agentpay/verifier"
)

// ProofVerifier checks an X-Payment header value against a requirement.
// *verifier.Verifier checks against a ledger directly; FacilitatorVerifier
// delegates to a remote facilitator.
type ProofVerifier interface {
	Verify(ctx context.Context, header string, req x402.PaymentRequirement) (*verifier.Result, error)
}

// Config holds the configuration for the x402 middleware.
type Config struct {
	// Issuer builds the challenge. Required.
	Issuer *x402.Issuer

	// Price is the decimal price of the resource in whole tokens, e.g. "0.05".
	Price string

	// Verifier checks presented proofs. Required.
	Verifier ProofVerifier

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// OnPayment receives verified and rejected events.
	OnPayment x402.PaymentCallback

	// Method labels emitted events. Defaults to "HTTP".
	Method string
}

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// PaymentContextKey is the context key for storing verified payment information.
const PaymentContextKey = contextKey("x402_payment")

// Gate is the transport-independent part of the middleware: it owns the
// requirement for one price and decides about presented proofs.
type Gate struct {
	requirement x402.PaymentRequirement
	challenge   x402.PaymentRequired
	verifier    ProofVerifier
	logger      *slog.Logger
	onPayment   x402.PaymentCallback
	method      string
}

// NewGate validates config and prices the resource once.
func NewGate(config Config) (*Gate, error) {
	if config.Issuer == nil {
		return nil, errors.New("x402 middleware: issuer is required")
	}
	if config.Verifier == nil {
		return nil, errors.New("x402 middleware: verifier is required")
	}
	req, err := config.Issuer.Requirement(config.Price)
	if err != nil {
		return nil, err
	}
	if err := validation.ValidatePaymentRequirement(req); err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrInvalidRequirements, err)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	method := config.Method
	if method == "" {
		method = "HTTP"
	}
	return &Gate{
		requirement: req,
		challenge:   config.Issuer.Challenge(req),
		verifier:    config.Verifier,
		logger:      logger,
		onPayment:   config.OnPayment,
		method:      method,
	}, nil
}

// Requirement returns the requirement every proof is checked against.
func (g *Gate) Requirement() x402.PaymentRequirement {
	return g.requirement
}

// Logger returns the logger the gate reports to.
func (g *Gate) Logger() *slog.Logger {
	return g.logger
}

// Challenge returns the 402 body sent when no proof is presented.
func (g *Gate) Challenge() x402.PaymentRequired {
	return g.challenge
}

// Check verifies header for the resource at url.
func (g *Gate) Check(ctx context.Context, header, url string) (*verifier.Result, error) {
	start := time.Now()
	result, err := g.verifier.Verify(ctx, header, g.requirement)

	event := x402.PaymentEvent{
		Timestamp: start,
		Method:    g.method,
		URL:       url,
		Amount:    g.requirement.Amount,
		Asset:     g.requirement.Asset,
		Network:   g.requirement.Network,
		Recipient: g.requirement.PayTo,
		Duration:  time.Since(start),
	}

	if err != nil {
		if x402.HTTPStatus(err) >= http.StatusInternalServerError {
			g.logger.Error("payment verification unavailable", "url", url, "error", err)
		} else {
			g.logger.Warn("payment rejected", "url", url, "code", x402.CodeOf(err), "error", err)
		}
		event.Type = x402.PaymentEventRejected
		event.Error = err
		g.emit(event)
		return nil, err
	}

	g.logger.Info("payment verified", "url", url, "txHash", result.Receipt.TxHash, "amount", result.Receipt.Amount)
	event.Type = x402.PaymentEventVerified
	event.Transaction = result.Receipt.TxHash
	event.Payer = result.Proof.Payer
	g.emit(event)
	return result, nil
}

func (g *Gate) emit(event x402.PaymentEvent) {
	if g.onPayment != nil {
		g.onPayment(event)
	}
}

// NewX402Middleware creates payment-gating middleware for net/http.
//
// Requests without an X-Payment header get a 402 with the challenge.
// Requests with a proof that fails verification get 400, or 500 when the
// ledger cannot be reached, and never reach next. Verified requests carry
// the X-Payment-Response header and the result in their context.
func NewX402Middleware(config Config) (func(http.Handler) http.Handler, error) {
	gate, err := NewGate(config)
	if err != nil {
		return nil, err
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			paymentHeader := r.Header.Get(x402.HeaderPayment)
			if paymentHeader == "" {
				gate.logger.Info("no payment header provided", "path", r.URL.Path)
				if err := helpers.SendPaymentRequired(w, gate.challenge); err != nil {
					gate.logger.Error("failed to send payment required response", "error", err)
				}
				return
			}

			result, err := gate.Check(r.Context(), paymentHeader, helpers.BuildResourceURL(r))
			if err != nil {
				if err := helpers.SendRejection(w, err); err != nil {
					gate.logger.Error("failed to send rejection", "error", err)
				}
				return
			}

			if err := helpers.AddPaymentResponseHeader(w, result.Receipt); err != nil {
				gate.logger.Warn("failed to add payment response header", "error", err)
			}

			ctx := context.WithValue(r.Context(), PaymentContextKey, result)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}, nil
}

// GetPaymentFromContext extracts the verified payment from the request context.
// Returns nil if no payment was verified.
func GetPaymentFromContext(ctx context.Context) *verifier.Result {
	result, _ := ctx.Value(PaymentContextKey).(*verifier.Result)
	return result
}
