// Package gin provides Gin-compatible middleware for x402 payment gating.
// This package is a thin adapter that translates gin.Context to stdlib http patterns
// and delegates all verification logic to the x402http.Gate.
package gin

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	x402 "github.com/Zyzgsfi/agentpay"
	x402http "github.com/Zyzgsfi/agentpay/http"
	"github.com/Zyzgsfi/agentpay/http/internal/helpers"
	"github.com/Zyzgsfi/agentpay/verifier"
)

// Config is an alias for x402http.Config for convenience.
type Config = x402http.Config

// PaymentContextKey is the gin context key for storing verified payment information.
const PaymentContextKey = "x402_payment"

// NewX402Middleware creates payment-gating middleware for one price.
//
// The middleware:
//   - Returns 402 Payment Required with the challenge if X-Payment is missing
//   - Returns 400 (or 500 when the ledger is unreachable) if the proof fails
//   - Calls c.Abort() on payment failure to stop the handler chain
//   - Stores the *verifier.Result via c.Set("x402_payment", result)
//   - Sets X-Payment-Response and calls c.Next() on success
//
// Example usage:
//
//	issuer, _ := x402.NewIssuer(x402.IssuerConfig{PayTo: "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0"})
//	mw, err := gin.NewX402Middleware(gin.Config{
//	    Issuer:   issuer,
//	    Price:    "0.05",
//	    Verifier: verifier.New(ledger),
//	})
//	r.POST("/process", mw, func(c *gin.Context) {
//	    result := gin.GetPayment(c)
//	    c.JSON(200, gin.H{"payer": result.Proof.Payer})
//	})
func NewX402Middleware(config Config) (gin.HandlerFunc, error) {
	gate, err := x402http.NewGate(config)
	if err != nil {
		return nil, err
	}
	logger := gate.Logger()

	return func(c *gin.Context) {
		paymentHeader := c.GetHeader(x402.HeaderPayment)
		if paymentHeader == "" {
			logger.Info("no payment header provided", "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gate.Challenge())
			return
		}

		result, err := gate.Check(c.Request.Context(), paymentHeader, helpers.BuildResourceURL(c.Request))
		if err != nil {
			c.AbortWithStatusJSON(x402.HTTPStatus(err), helpers.RejectionBody(err))
			return
		}

		if err := helpers.AddPaymentResponseHeader(c.Writer, result.Receipt); err != nil {
			logger.Warn("failed to add payment response header", "error", err)
		}

		c.Set(PaymentContextKey, result)
		ctx := context.WithValue(c.Request.Context(), x402http.PaymentContextKey, result)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}, nil
}

// GetPayment returns the verified payment stored by the middleware, or nil.
func GetPayment(c *gin.Context) *verifier.Result {
	v, ok := c.Get(PaymentContextKey)
	if !ok {
		return nil
	}
	result, _ := v.(*verifier.Result)
	return result
}
