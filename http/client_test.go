package http

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	x402 "github.com/Zyzgsfi/agentpay"
	"github.com/Zyzgsfi/agentpay/ledger/memory"
	"github.com/Zyzgsfi/agentpay/verifier"
)

func TestNewClient(t *testing.T) {
	client, err := NewClient()
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if client.Client == nil {
		t.Fatal("expected non-nil underlying HTTP client")
	}

	transport := client.PaymentTransport()
	if transport.MaxAmount == nil || transport.MaxAmount.Cmp(big.NewInt(1000000)) != 0 {
		t.Errorf("default MaxAmount = %v; want 1000000", transport.MaxAmount)
	}
	if transport.Confirmation != x402.DefaultConfirmation {
		t.Errorf("default Confirmation = %+v", transport.Confirmation)
	}
}

func TestClient_Options(t *testing.T) {
	ledger := memory.New(x402.NetworkBaseSepolia, testPayer)
	base := &http.Client{Timeout: 5 * time.Second}

	client, err := NewClient(
		WithHTTPClient(base),
		WithLedger(ledger),
		WithMaxPayment("0.50"),
		WithConfirmation(x402.ConfirmationConfig{PollInterval: time.Second, MaxAttempts: 10}),
	)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	if client.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v; want 5s", client.Timeout)
	}
	transport := client.PaymentTransport()
	if transport.Ledger != ledger {
		t.Error("ledger not installed")
	}
	if transport.MaxAmount.Cmp(big.NewInt(500000)) != 0 {
		t.Errorf("MaxAmount = %v; want 500000", transport.MaxAmount)
	}
	if transport.Confirmation.MaxAttempts != 10 {
		t.Errorf("Confirmation = %+v", transport.Confirmation)
	}
	if transport.Base != http.DefaultTransport {
		t.Error("base transport should default to http.DefaultTransport")
	}
}

func TestClient_InvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opt  ClientOption
	}{
		{"bad max payment", WithMaxPayment("lots")},
		{"zero attempts", WithConfirmation(x402.ConfirmationConfig{PollInterval: time.Second})},
		{"unknown callback type", WithPaymentCallback(x402.PaymentEventVerified, func(x402.PaymentEvent) {})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewClient(tt.opt); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestClient_PaymentCallbacks(t *testing.T) {
	noop := func(x402.PaymentEvent) {}
	client, err := NewClient(
		WithPaymentCallbacks(noop, nil, noop),
		WithPaymentCallback(x402.PaymentEventSuccess, noop),
	)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	transport := client.PaymentTransport()
	if transport.OnPaymentAttempt == nil || transport.OnPaymentSuccess == nil || transport.OnPaymentFailure == nil {
		t.Error("expected all callbacks to be set")
	}
}

// TestClient_EndToEnd runs the paying client against the gating middleware
// over one shared ledger.
func TestClient_EndToEnd(t *testing.T) {
	ledger := memory.New(x402.NetworkBaseSepolia, testPayer, memory.WithConfirmAfter(3))

	middleware, err := NewX402Middleware(Config{
		Issuer:   testIssuer(t),
		Price:    "0.05",
		Verifier: verifier.New(ledger),
	})
	if err != nil {
		t.Fatalf("NewX402Middleware() error = %v", err)
	}
	var served int
	srv := httptest.NewServer(middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":"processed"}`))
	})))
	defer srv.Close()

	var events []x402.PaymentEventType
	record := func(e x402.PaymentEvent) { events = append(events, e.Type) }
	client, err := NewClient(
		WithLedger(ledger),
		WithMaxPayment("0.50"),
		WithConfirmation(fastConfirmation),
		WithPaymentCallbacks(record, record, record),
	)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	var out struct {
		Result string `json:"result"`
	}
	receipt, err := client.Call(context.Background(), http.MethodPost, srv.URL+"/process", map[string]string{"input": "x"}, &out)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if out.Result != "processed" {
		t.Errorf("result = %q", out.Result)
	}
	if receipt == nil {
		t.Fatal("expected a payment receipt")
	}
	if receipt.Status != x402.StatusVerified || receipt.Amount != "0.05" {
		t.Errorf("receipt = %+v", receipt)
	}
	if ledger.Submissions() != 1 {
		t.Errorf("submissions = %d; want 1", ledger.Submissions())
	}
	if got := ledger.Polls(receipt.TxHash); got != 4 {
		// three confirmation polls plus the server-side verification lookup
		t.Errorf("lookups for tx = %d; want 4", got)
	}
	if served != 1 {
		t.Errorf("handler served %d times; want 1", served)
	}
	if len(events) != 2 || events[0] != x402.PaymentEventAttempt || events[1] != x402.PaymentEventSuccess {
		t.Errorf("events = %v; want [attempt success]", events)
	}
}

func TestClient_CallLimitExceeded(t *testing.T) {
	ledger := memory.New(x402.NetworkBaseSepolia, testPayer)
	middleware, err := NewX402Middleware(Config{Issuer: testIssuer(t), Price: "0.25", Verifier: verifier.New(ledger)})
	if err != nil {
		t.Fatalf("NewX402Middleware() error = %v", err)
	}
	srv := httptest.NewServer(middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run")
	})))
	defer srv.Close()

	client, err := NewClient(WithLedger(ledger), WithMaxPayment("0.10"))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	_, err = client.Call(context.Background(), http.MethodGet, srv.URL, nil, nil)
	if !errors.Is(err, x402.ErrPaymentLimitExceeded) {
		t.Fatalf("Call() error = %v; want ErrPaymentLimitExceeded", err)
	}
	if ledger.Submissions() != 0 {
		t.Errorf("submissions = %d; want 0", ledger.Submissions())
	}
}

func TestClient_CallServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, _ := NewClient()
	_, err := client.Call(context.Background(), http.MethodGet, srv.URL, nil, nil)
	if !errors.Is(err, x402.ErrServiceRequestFailed) {
		t.Fatalf("Call() error = %v; want ErrServiceRequestFailed", err)
	}
	var pe *x402.PaymentError
	if errors.As(err, &pe) && pe.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d; want 500", pe.StatusCode)
	}
}

func TestGetReceipt_NoHeader(t *testing.T) {
	if got := GetReceipt(&http.Response{Header: http.Header{}}); got != nil {
		t.Errorf("GetReceipt() = %+v; want nil", got)
	}
}
