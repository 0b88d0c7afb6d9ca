package client

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/client/transport"
	mcpproto "github.com/mark3labs/mcp-go/mcp"

	x402 "github.com/Zyzgsfi/agentpay"
	"github.com/Zyzgsfi/agentpay/ledger/memory"
	"github.com/Zyzgsfi/agentpay/mcp"
	"github.com/Zyzgsfi/agentpay/verifier"
)

const (
	payTo = "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"
	payer = "0x857b06519E91e3A54538791bDbb0E22373e36b66"
)

var fastConfirmation = x402.ConfirmationConfig{PollInterval: 0, MaxAttempts: 5}

// paidServer answers tools/call like an x402 MCP server charging price atomic units.
type paidServer struct {
	t        *testing.T
	verifier *verifier.Verifier
	price    string
	requests []transport.JSONRPCRequest
	toolErr  bool
}

func (s *paidServer) Start(context.Context) error { return nil }
func (s *paidServer) SendNotification(context.Context, mcpproto.JSONRPCNotification) error {
	return nil
}
func (s *paidServer) SetNotificationHandler(func(mcpproto.JSONRPCNotification)) {}
func (s *paidServer) Close() error                                              { return nil }
func (s *paidServer) GetSessionId() string                                      { return "session-1" }

func (s *paidServer) SendRequest(ctx context.Context, req transport.JSONRPCRequest) (*transport.JSONRPCResponse, error) {
	s.requests = append(s.requests, req)
	raw, _ := json.Marshal(req.Params)
	var params struct {
		Meta map[string]json.RawMessage `json:"_meta"`
	}
	_ = json.Unmarshal(raw, &params)

	requirement := x402.PaymentRequirement{
		Scheme:  x402.SchemeERC20,
		Amount:  s.price,
		PayTo:   payTo,
		Asset:   x402.BaseSepolia.USDCAddress,
		Network: x402.NetworkBaseSepolia,
	}
	proofRaw, ok := params.Meta[mcp.MetaPayment]
	if !ok {
		data, _ := json.Marshal(x402.PaymentRequired{PaymentRequirements: []x402.PaymentRequirement{requirement}})
		return s.reply(`{"jsonrpc":"2.0","id":1,"error":{"code":402,"message":"Payment required","data":` + string(data) + `}}`), nil
	}

	var proof x402.PaymentProof
	if err := json.Unmarshal(proofRaw, &proof); err != nil {
		s.t.Fatalf("proof is not an object: %s", proofRaw)
	}
	result, err := s.verifier.VerifyProof(ctx, proof, requirement)
	if err != nil {
		return s.reply(`{"jsonrpc":"2.0","id":1,"error":{"code":402,"message":"Payment invalid","data":{"code":"` + string(x402.CodeOf(err)) + `"}}}`), nil
	}
	if s.toolErr {
		return s.reply(`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"tool exploded"}}`), nil
	}
	receipt, _ := json.Marshal(result.Receipt)
	return s.reply(`{"jsonrpc":"2.0","id":1,"result":{"content":[{"type":"text","text":"results"}],"_meta":{"x402/payment-response":` + string(receipt) + `}}}`), nil
}

func (s *paidServer) reply(body string) *transport.JSONRPCResponse {
	var resp transport.JSONRPCResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		s.t.Fatalf("bad fixture %s: %v", body, err)
	}
	return &resp
}

func toolCall(name string) transport.JSONRPCRequest {
	return transport.JSONRPCRequest{
		Method: "tools/call",
		Params: mcpproto.CallToolParams{
			Name:      name,
			Arguments: map[string]interface{}{"query": "hello"},
		},
	}
}

type recorder struct {
	events []x402.PaymentEvent
}

func (r *recorder) record(e x402.PaymentEvent) { r.events = append(r.events, e) }

func (r *recorder) types() []x402.PaymentEventType {
	var out []x402.PaymentEventType
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func setup(t *testing.T, price string, opts ...Option) (*Transport, *paidServer, *memory.Ledger, *recorder) {
	t.Helper()
	ledger := memory.New(x402.NetworkBaseSepolia, payer, memory.WithConfirmAfter(2))
	server := &paidServer{t: t, verifier: verifier.New(ledger), price: price}
	rec := &recorder{}
	opts = append([]Option{
		WithLedger(ledger),
		WithConfirmation(fastConfirmation),
		WithPaymentCallback(rec.record),
	}, opts...)
	tr, err := Wrap(server, opts...)
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}
	return tr, server, ledger, rec
}

func TestTransport_PaysOnce(t *testing.T) {
	tr, server, ledger, rec := setup(t, "50000", WithMaxPayment("0.50"))

	resp, err := tr.SendRequest(context.Background(), toolCall("search"))
	if err != nil {
		t.Fatalf("SendRequest() error = %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("response error = %+v", resp.Error)
	}
	if ledger.Submissions() != 1 || len(server.requests) != 2 {
		t.Errorf("submissions = %d, requests = %d; want 1 and 2", ledger.Submissions(), len(server.requests))
	}

	var result mcpproto.CallToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	receipt := Receipt(&result)
	if receipt == nil || receipt.Amount != "0.05" || receipt.Status != x402.StatusVerified {
		t.Errorf("Receipt() = %+v", receipt)
	}

	got := rec.types()
	if len(got) != 2 || got[0] != x402.PaymentEventAttempt || got[1] != x402.PaymentEventSuccess {
		t.Fatalf("events = %v", got)
	}
	success := rec.events[1]
	if success.Method != "MCP" || success.Tool != "search" || success.Amount != "50000" || success.Polls != 2 {
		t.Errorf("success event = %+v", success)
	}
}

func TestTransport_OverLimit(t *testing.T) {
	tr, server, ledger, rec := setup(t, "150000", WithMaxPayment("0.10"))

	_, err := tr.SendRequest(context.Background(), toolCall("search"))
	if !errors.Is(err, x402.ErrPaymentLimitExceeded) {
		t.Fatalf("error = %v; want ErrPaymentLimitExceeded", err)
	}
	if !mcp.IsPaymentError(err) {
		t.Error("IsPaymentError() = false")
	}
	if ledger.Submissions() != 0 || ledger.Lookups() != 0 || len(server.requests) != 1 {
		t.Errorf("ledger calls %d/%d, requests %d", ledger.Submissions(), ledger.Lookups(), len(server.requests))
	}
	if got := rec.types(); len(got) != 1 || got[0] != x402.PaymentEventFailure {
		t.Errorf("events = %v", got)
	}
}

func TestTransport_ConfirmationTimeout(t *testing.T) {
	tr, server, ledger, _ := setup(t, "50000")
	tr.config.Confirmation = x402.ConfirmationConfig{MaxAttempts: 1}

	_, err := tr.SendRequest(context.Background(), toolCall("search"))
	if !errors.Is(err, x402.ErrConfirmationTimeout) {
		t.Fatalf("error = %v; want ErrConfirmationTimeout", err)
	}
	if ledger.Submissions() != 1 || len(server.requests) != 1 {
		t.Errorf("submissions %d, requests %d; a timed out payment must not be presented", ledger.Submissions(), len(server.requests))
	}
}

func TestTransport_Rejected(t *testing.T) {
	tr, server, ledger, rec := setup(t, "50000")
	// The server checks a ledger that never saw the transfer.
	server.verifier = verifier.New(memory.New(x402.NetworkBaseSepolia, payer))

	_, err := tr.SendRequest(context.Background(), toolCall("search"))
	if !errors.Is(err, mcp.ErrPaymentRejected) || !errors.Is(err, x402.ErrUnconfirmedPayment) {
		t.Fatalf("error = %v; want rejected and unconfirmed", err)
	}
	if ledger.Submissions() != 1 {
		t.Errorf("submissions = %d; a rejected proof must not be paid again", ledger.Submissions())
	}
	if got := rec.types(); got[len(got)-1] != x402.PaymentEventFailure {
		t.Errorf("events = %v", got)
	}
}

func TestTransport_ToolErrorAfterPayment(t *testing.T) {
	tr, server, _, rec := setup(t, "50000")
	server.toolErr = true

	resp, err := tr.SendRequest(context.Background(), toolCall("search"))
	if err != nil {
		t.Fatalf("SendRequest() error = %v", err)
	}
	if resp.Error == nil || resp.Error.Message != "tool exploded" {
		t.Errorf("response error = %+v", resp.Error)
	}
	last := rec.events[len(rec.events)-1]
	if last.Type != x402.PaymentEventFailure || !errors.Is(last.Error, x402.ErrServiceRequestFailed) {
		t.Errorf("last event = %+v", last)
	}
}

func TestTransport_NoLedger(t *testing.T) {
	server := &paidServer{t: t, price: "50000"}
	tr, err := Wrap(server)
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}
	if _, err := tr.SendRequest(context.Background(), toolCall("search")); !errors.Is(err, ErrNoLedger) {
		t.Errorf("error = %v; want ErrNoLedger", err)
	}
}

func TestExtractChallenge(t *testing.T) {
	option := func(amount, to string) map[string]interface{} {
		return map[string]interface{}{
			"scheme":  x402.SchemeERC20,
			"network": x402.NetworkBaseSepolia,
			"amount":  amount,
			"to":      to,
			"token":   x402.BaseSepolia.USDCAddress,
		}
	}
	tests := []struct {
		name    string
		data    interface{}
		want    int
		wantErr error
	}{
		{"nil", nil, 0, mcp.ErrNoPaymentRequirements},
		{"empty", map[string]interface{}{"paymentRequirements": []interface{}{}}, 0, mcp.ErrNoPaymentRequirements},
		{"two options", map[string]interface{}{"paymentRequirements": []interface{}{
			option("10000", payTo),
			option("20000", payTo),
		}}, 2, nil},
		{"malformed payTo", map[string]interface{}{"paymentRequirements": []interface{}{
			option("10000", payTo),
			option("20000", "0xa"),
		}}, 0, x402.ErrInvalidRequirements},
		{"missing network", map[string]interface{}{"paymentRequirements": []interface{}{
			map[string]interface{}{"amount": "10000", "to": payTo},
		}}, 0, x402.ErrInvalidRequirements},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reqs, err := extractChallenge(tt.data)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v; want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil || len(reqs) != tt.want {
				t.Errorf("extractChallenge() = %d, %v", len(reqs), err)
			}
		})
	}
}

func TestInjectPaymentMeta(t *testing.T) {
	proof := &x402.PaymentProof{TxHash: "0xabc", Amount: "10000"}

	tests := []struct {
		name   string
		params interface{}
	}{
		{"nil params", nil},
		{"struct params", mcpproto.CallToolParams{Name: "search"}},
		{"existing _meta", map[string]interface{}{
			"name":  "search",
			"_meta": map[string]interface{}{"progressToken": "p1"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := transport.JSONRPCRequest{Method: "tools/call", Params: tt.params}
			out, err := injectPaymentMeta(req, proof)
			if err != nil {
				t.Fatalf("injectPaymentMeta() error = %v", err)
			}
			meta := out.Params.(map[string]interface{})["_meta"].(map[string]interface{})
			if meta[mcp.MetaPayment] != proof {
				t.Errorf("_meta = %v", meta)
			}
			if original, ok := tt.params.(map[string]interface{}); ok {
				if meta["progressToken"] != "p1" {
					t.Error("existing _meta keys must survive")
				}
				if _, leaked := original["_meta"].(map[string]interface{})[mcp.MetaPayment]; leaked {
					t.Error("caller's params must not be modified")
				}
			}
		})
	}
}

func TestOptions(t *testing.T) {
	if _, err := Wrap(&paidServer{}, WithMaxPayment("lots")); err == nil {
		t.Error("invalid max payment should fail")
	}
	if _, err := Wrap(&paidServer{}, WithConfirmation(x402.ConfirmationConfig{})); err == nil {
		t.Error("zero confirmation attempts should fail")
	}
	tr, err := Wrap(&paidServer{}, WithMaxPayment("0.25"))
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}
	if tr.config.MaxAmount.Cmp(big.NewInt(250000)) != 0 {
		t.Errorf("MaxAmount = %s", tr.config.MaxAmount)
	}
	if tr.config.Confirmation != x402.DefaultConfirmation {
		t.Errorf("Confirmation = %+v", tr.config.Confirmation)
	}
	if tr.GetSessionId() != "session-1" || !strings.HasPrefix(mcp.ToolResource("x"), "mcp://") {
		t.Error("pass-through accessors broken")
	}
}
