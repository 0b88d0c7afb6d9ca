package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	x402 "github.com/Zyzgsfi/agentpay"
	"github.com/Zyzgsfi/agentpay/encoding"
	"github.com/Zyzgsfi/agentpay/mcp"
)

// X402Handler wraps an MCP HTTP handler and gates paid tools/call requests.
type X402Handler struct {
	mcpHandler http.Handler
	config     *Config
}

// NewX402Handler creates a new x402 payment handler.
func NewX402Handler(mcpHandler http.Handler, config *Config) *X402Handler {
	if config == nil {
		config = &Config{}
	}
	return &X402Handler{mcpHandler: mcpHandler, config: config}
}

type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

type toolCallParams struct {
	Name string                     `json:"name"`
	Meta map[string]json.RawMessage `json:"_meta"`
}

// RejectionData is the error data of a refused proof.
type RejectionData struct {
	Code    x402.ErrorCode `json:"code,omitempty"`
	Message string         `json:"message"`
}

// ServeHTTP intercepts HTTP requests to check for x402 payments.
func (h *X402Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.config.logger()
	// Only intercept POST requests (JSON-RPC calls)
	if r.Method != http.MethodPost {
		h.mcpHandler.ServeHTTP(w, r)
		return
	}

	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, nil, -32700, "Parse error", nil)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	var req jsonrpcRequest
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		h.writeError(w, nil, -32700, "Parse error", nil)
		return
	}
	if req.Method != "tools/call" {
		h.mcpHandler.ServeHTTP(w, r)
		return
	}

	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		h.writeError(w, req.ID, -32602, "Invalid params", nil)
		return
	}

	gate, paid := h.config.gates[params.Name]
	if !paid {
		h.mcpHandler.ServeHTTP(w, r)
		return
	}
	logger = logger.With("requestID", req.ID, "tool", params.Name)

	raw, ok := params.Meta[mcp.MetaPayment]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		logger.Info("no payment provided")
		h.writeError(w, req.ID, mcp.CodePaymentRequired, "Payment required", gate.Challenge())
		return
	}

	header, err := proofHeader(raw)
	if err != nil {
		h.writeError(w, req.ID, mcp.CodePaymentRequired, fmt.Sprintf("Payment invalid: %v", err),
			RejectionData{Code: x402.ErrCodeMalformedProof, Message: err.Error()})
		return
	}

	result, err := gate.Check(r.Context(), header, mcp.ToolResource(params.Name))
	if err != nil {
		data := RejectionData{Code: x402.CodeOf(err), Message: err.Error()}
		if x402.HTTPStatus(err) >= http.StatusInternalServerError {
			h.writeError(w, req.ID, -32603, fmt.Sprintf("Verification failed: %v", err), data)
			return
		}
		h.writeError(w, req.ID, mcp.CodePaymentRequired, fmt.Sprintf("Payment invalid: %v", err), data)
		return
	}

	r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	h.forwardWithReceipt(w, r, result.Receipt)
}

// proofHeader turns the _meta proof object into the header form verifiers accept.
func proofHeader(raw json.RawMessage) (string, error) {
	var proof x402.PaymentProof
	if err := json.Unmarshal(raw, &proof); err != nil {
		return "", x402.ErrMalformedProof
	}
	return encoding.EncodeProof(proof)
}

// forwardWithReceipt runs the tool and injects the receipt into result._meta.
// A tool that fails keeps its own error; the payment is already final.
func (h *X402Handler) forwardWithReceipt(w http.ResponseWriter, r *http.Request, receipt x402.VerificationReceipt) {
	recorder := &responseRecorder{
		headerMap:  make(http.Header),
		statusCode: http.StatusOK,
	}
	h.mcpHandler.ServeHTTP(recorder, r)

	var resp struct {
		JSONRPC string          `json:"jsonrpc"`
		Result  json.RawMessage `json:"result,omitempty"`
		Error   interface{}     `json:"error,omitempty"`
		ID      interface{}     `json:"id"`
	}
	if err := json.Unmarshal(recorder.body.Bytes(), &resp); err != nil || resp.Result == nil {
		recorder.flush(w, recorder.body.Bytes())
		return
	}

	var result map[string]interface{}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		recorder.flush(w, recorder.body.Bytes())
		return
	}
	meta, ok := result["_meta"].(map[string]interface{})
	if !ok {
		meta = make(map[string]interface{})
	}
	meta[mcp.MetaPaymentResponse] = receipt
	result["_meta"] = meta

	modified, err := json.Marshal(result)
	if err != nil {
		recorder.flush(w, recorder.body.Bytes())
		return
	}
	resp.Result = modified
	out, err := json.Marshal(resp)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	recorder.headerMap.Del("Content-Length")
	recorder.flush(w, out)
}

// writeError writes a JSON-RPC error response.
func (h *X402Handler) writeError(w http.ResponseWriter, id interface{}, code int, message string, data interface{}) {
	errorBody := map[string]interface{}{
		"code":    code,
		"message": message,
	}
	if data != nil {
		errorBody["data"] = data
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK) // JSON-RPC errors use 200 status
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   errorBody,
	})
}

// responseRecorder records HTTP responses for modification.
type responseRecorder struct {
	headerMap  http.Header
	body       bytes.Buffer
	statusCode int
}

func (r *responseRecorder) Header() http.Header {
	return r.headerMap
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	return r.body.Write(b)
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
}

func (r *responseRecorder) flush(w http.ResponseWriter, body []byte) {
	for k, v := range r.headerMap {
		w.Header()[k] = v
	}
	w.WriteHeader(r.statusCode)
	_, _ = w.Write(body)
}
