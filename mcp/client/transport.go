package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/client/transport"
	mcpproto "github.com/mark3labs/mcp-go/mcp"

	x402 "github.com/Zyzgsfi/agentpay"
	"github.com/Zyzgsfi/agentpay/confirm"
	"github.com/Zyzgsfi/agentpay/mcp"
	"github.com/Zyzgsfi/agentpay/validation"
)

// ErrNoLedger is returned when a paid tool is called without a ledger.
var ErrNoLedger = errors.New("x402 mcp: no ledger configured")

// Transport wraps an MCP transport and pays for tool calls answered with 402.
//
// Each call is paid at most once: a proof the server refuses is reported
// and never replaced by a second transfer.
type Transport struct {
	baseTransport transport.Interface
	config        *Config
}

// NewTransport creates a streamable HTTP transport for serverURL.
func NewTransport(serverURL string, opts ...Option) (*Transport, error) {
	baseTransport, err := transport.NewStreamableHTTP(serverURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create base transport: %w", err)
	}
	return Wrap(baseTransport, opts...)
}

// Wrap adds payment handling to an existing transport.
func Wrap(base transport.Interface, opts ...Option) (*Transport, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Transport{baseTransport: base, config: config}, nil
}

// Start starts the MCP connection.
func (t *Transport) Start(ctx context.Context) error {
	return t.baseTransport.Start(ctx)
}

// SendRequest implements transport.Interface by intercepting 402 errors.
func (t *Transport) SendRequest(ctx context.Context, req transport.JSONRPCRequest) (*transport.JSONRPCResponse, error) {
	resp, err := t.baseTransport.SendRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Error == nil || resp.Error.Code != mcp.CodePaymentRequired {
		return resp, nil
	}

	tool := toolName(req)
	challenge, err := extractChallenge(resp.Error.Data)
	if err != nil {
		return resp, mcp.WrapError(err, tool)
	}

	event := x402.PaymentEvent{Method: "MCP", Tool: tool, URL: mcp.ToolResource(tool)}
	proof, start, err := t.pay(ctx, challenge, &event)
	if err != nil {
		return resp, mcp.WrapError(err, tool)
	}

	paidReq, err := injectPaymentMeta(req, proof)
	if err != nil {
		return resp, fmt.Errorf("failed to inject payment: %w", err)
	}
	return t.retryWithPayment(ctx, paidReq, event, start)
}

// pay satisfies one requirement of challenge and waits for the transfer to be final.
func (t *Transport) pay(ctx context.Context, challenge []x402.PaymentRequirement, event *x402.PaymentEvent) (*x402.PaymentProof, time.Time, error) {
	start := time.Now()
	logger := t.config.Logger

	if t.config.Ledger == nil {
		return nil, start, ErrNoLedger
	}
	ledger := t.config.Ledger

	selection, err := x402.SelectRequirement(challenge, ledger.Network(), t.config.MaxAmount)
	if err != nil {
		logger.Warn("payment refused", "tool", event.Tool, "error", err)
		t.fail(*event, start, err)
		return nil, start, err
	}
	chosen := selection.Requirement
	event.Amount = selection.Amount.String()
	event.Asset = chosen.Asset
	event.Network = chosen.Network
	event.Recipient = chosen.PayTo
	event.Payer = ledger.Address()

	if t.config.OnPaymentAttempt != nil {
		attempt := *event
		attempt.Type = x402.PaymentEventAttempt
		attempt.Timestamp = start
		t.config.OnPaymentAttempt(attempt)
	}

	txID, err := ledger.SubmitTransfer(ctx, selection.Amount, chosen.PayTo, chosen.Asset)
	if err != nil {
		err = x402.NewPaymentError(x402.ErrCodeNetworkError, "failed to submit payment", err)
		t.fail(*event, start, err)
		return nil, start, err
	}
	event.Transaction = txID

	waiter := confirm.NewWaiter(ledger,
		confirm.WithConfig(t.config.Confirmation),
		confirm.WithLogger(logger),
		confirm.WithPollHook(func(int, *x402.TransactionReceipt, error) { event.Polls++ }),
	)
	if _, err := waiter.Wait(ctx, txID); err != nil {
		if confirm.IsTerminal(err) {
			logger.Error("payment not confirmed", "tool", event.Tool, "txHash", txID, "polls", event.Polls, "error", err)
		} else {
			logger.Warn("confirmation wait abandoned, transfer may still settle", "tool", event.Tool, "txHash", txID, "polls", event.Polls, "error", err)
		}
		t.fail(*event, start, err)
		return nil, start, err
	}

	return &x402.PaymentProof{
		TxHash: txID,
		Amount: selection.Amount.String(),
		PayTo:  chosen.PayTo,
		Asset:  chosen.Asset,
		Payer:  ledger.Address(),
	}, start, nil
}

// SendNotification sends a notification to the server.
func (t *Transport) SendNotification(ctx context.Context, notif mcpproto.JSONRPCNotification) error {
	return t.baseTransport.SendNotification(ctx, notif)
}

// SetNotificationHandler sets the notification handler.
func (t *Transport) SetNotificationHandler(handler func(mcpproto.JSONRPCNotification)) {
	t.baseTransport.SetNotificationHandler(handler)
}

// Close closes the transport.
func (t *Transport) Close() error {
	return t.baseTransport.Close()
}

// GetSessionId returns the session ID.
func (t *Transport) GetSessionId() string {
	return t.baseTransport.GetSessionId()
}

// extractChallenge decodes the PaymentRequired carried as 402 error data.
func extractChallenge(data interface{}) ([]x402.PaymentRequirement, error) {
	if data == nil {
		return nil, mcp.ErrNoPaymentRequirements
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal error data: %w", err)
	}
	var challenge x402.PaymentRequired
	if err := json.Unmarshal(raw, &challenge); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment requirements: %w", err)
	}
	if len(challenge.PaymentRequirements) == 0 {
		return nil, mcp.ErrNoPaymentRequirements
	}
	if err := validation.ValidatePaymentRequired(challenge); err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrInvalidRequirements, err)
	}
	return challenge.PaymentRequirements, nil
}

// rejection rebuilds the typed error of a refused proof.
func rejection(message string, data interface{}) error {
	err := fmt.Errorf("%w: %s", mcp.ErrPaymentRejected, message)
	raw, mErr := json.Marshal(data)
	if mErr != nil {
		return err
	}
	var body struct {
		Code x402.ErrorCode `json:"code"`
	}
	if json.Unmarshal(raw, &body) != nil {
		return err
	}
	if sentinel := x402.SentinelFor(body.Code); sentinel != nil {
		return x402.NewPaymentError(body.Code, message, errors.Join(mcp.ErrPaymentRejected, sentinel))
	}
	return err
}

func toolName(req transport.JSONRPCRequest) string {
	raw, err := json.Marshal(req.Params)
	if err != nil {
		return ""
	}
	var params struct {
		Name string `json:"name"`
	}
	_ = json.Unmarshal(raw, &params)
	return params.Name
}

// injectPaymentMeta injects the proof into request params._meta.
func injectPaymentMeta(req transport.JSONRPCRequest, proof *x402.PaymentProof) (transport.JSONRPCRequest, error) {
	params, ok := req.Params.(map[string]interface{})
	if !ok {
		params = make(map[string]interface{})
		if req.Params != nil {
			data, err := json.Marshal(req.Params)
			if err != nil {
				return req, fmt.Errorf("failed to marshal params: %w", err)
			}
			if err := json.Unmarshal(data, &params); err != nil {
				return req, fmt.Errorf("failed to unmarshal params: %w", err)
			}
		}
	} else {
		copied := make(map[string]interface{}, len(params)+1)
		for k, v := range params {
			copied[k] = v
		}
		params = copied
	}

	meta := make(map[string]interface{})
	if existing, ok := params["_meta"].(map[string]interface{}); ok {
		for k, v := range existing {
			meta[k] = v
		}
	}
	meta[mcp.MetaPayment] = proof
	params["_meta"] = meta

	modifiedReq := req
	modifiedReq.Params = params
	return modifiedReq, nil
}

// retryWithPayment repeats the request with the proof attached.
func (t *Transport) retryWithPayment(ctx context.Context, req transport.JSONRPCRequest, event x402.PaymentEvent, start time.Time) (*transport.JSONRPCResponse, error) {
	resp, err := t.baseTransport.SendRequest(ctx, req)
	if err != nil {
		t.fail(event, start, err)
		return resp, err
	}

	if resp.Error != nil {
		if resp.Error.Code == mcp.CodePaymentRequired || (resp.Error.Code == -32603 && resp.Error.Data != nil) {
			err := rejection(resp.Error.Message, resp.Error.Data)
			t.config.Logger.Error("paid tool call rejected", "tool", event.Tool, "txHash", event.Transaction, "error", err)
			t.fail(event, start, err)
			return resp, mcp.WrapError(err, event.Tool)
		}
		err := x402.NewPaymentError(x402.ErrCodeServiceRequestFailed, resp.Error.Message, x402.ErrServiceRequestFailed).
			WithDetails("txHash", event.Transaction)
		t.fail(event, start, err)
		return resp, nil
	}

	if t.config.OnPaymentSuccess != nil {
		success := event
		success.Type = x402.PaymentEventSuccess
		success.Timestamp = time.Now()
		success.Duration = time.Since(start)
		t.config.OnPaymentSuccess(success)
	}
	return resp, nil
}

func (t *Transport) fail(event x402.PaymentEvent, start time.Time, err error) {
	if t.config.OnPaymentFailure == nil {
		return
	}
	event.Type = x402.PaymentEventFailure
	event.Timestamp = time.Now()
	event.Duration = time.Since(start)
	event.Error = err
	t.config.OnPaymentFailure(event)
}

// Receipt extracts the verification receipt from a paid tool result.
func Receipt(result *mcpproto.CallToolResult) *x402.VerificationReceipt {
	if result == nil {
		return nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil
	}
	var body struct {
		Meta map[string]json.RawMessage `json:"_meta"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil
	}
	raw, ok := body.Meta[mcp.MetaPaymentResponse]
	if !ok {
		return nil
	}
	var receipt x402.VerificationReceipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return nil
	}
	return &receipt
}
