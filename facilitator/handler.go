package facilitator

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	x402 "github.com/Zyzgsfi/agentpay"
)

// Handler exposes a facilitator over HTTP.
type Handler struct {
	svc Interface
}

// NewHandler creates a Handler serving svc.
func NewHandler(svc Interface) *Handler {
	return &Handler{svc: svc}
}

// Register mounts POST /verify, POST /settle and GET /payment/:txHash on r.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/verify", h.verify)
	r.POST("/settle", h.settle)
	r.GET("/payment/:txHash", h.status)
}

func (h *Handler) verify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid := false
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: x402.ErrCodeMalformedProof, Valid: &invalid})
		return
	}

	resp, err := h.svc.Verify(c.Request.Context(), req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		invalid := false
		c.JSON(x402.HTTPStatus(err), ErrorResponse{Error: err.Error(), Code: codeFor(err), Valid: &invalid})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) settle(c *gin.Context) {
	var req SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		unsettled := false
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: x402.ErrCodeMalformedProof, Settled: &unsettled})
		return
	}

	resp, err := h.svc.Settle(c.Request.Context(), req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		unsettled := false
		c.JSON(x402.HTTPStatus(err), ErrorResponse{Error: err.Error(), Code: codeFor(err), Settled: &unsettled})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) status(c *gin.Context) {
	txHash := c.Param("txHash")
	resp, err := h.svc.Status(c.Request.Context(), txHash)
	switch {
	case errors.Is(err, x402.ErrReceiptNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "transaction not found"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to get payment status", Code: x402.ErrCodeVerificationUnavailable})
	default:
		c.JSON(http.StatusOK, resp)
	}
}

// codeFor returns the wire code for err, falling back to the sentinel it wraps.
func codeFor(err error) x402.ErrorCode {
	if code := x402.CodeOf(err); code != "" {
		return code
	}
	if errors.Is(err, x402.ErrLedgerUnavailable) {
		return x402.ErrCodeVerificationUnavailable
	}
	return ""
}
