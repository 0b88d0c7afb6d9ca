package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	x402 "github.com/Zyzgsfi/agentpay"
	"github.com/Zyzgsfi/agentpay/config"
	"github.com/Zyzgsfi/agentpay/agent"
	x402http "github.com/Zyzgsfi/agentpay/http"
	"github.com/Zyzgsfi/agentpay/ledger/memory"
	"github.com/Zyzgsfi/agentpay/registry"
	"github.com/Zyzgsfi/agentpay/verifier"
)

const payerAddress = "0x857b06519E91e3A54538791bDbb0E22373e36b66"

var fixedNow = func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }

func init() {
	gin.SetMode(gin.TestMode)
}

func testRuntime(t *testing.T) (*runtime, *memory.Ledger) {
	t.Helper()
	ledger := memory.New(x402.NetworkBaseSepolia, payerAddress)
	cfg := &config.Config{
		Server: config.ServerConfig{Port: 3000, PayTo: demoAddress},
		Blockchain: config.BlockchainConfig{
			Network:  x402.NetworkBaseSepolia,
			Decimals: x402.DefaultDecimals,
		},
	}
	return &runtime{cfg: cfg, logger: slog.New(slog.NewTextHandler(io.Discard, nil)), ledger: ledger}, ledger
}

func newTestServer(t *testing.T, onPayment x402.PaymentCallback) (*httptest.Server, *memory.Ledger) {
	t.Helper()
	rt, ledger := testRuntime(t)
	issuer, err := rt.issuer()
	if err != nil {
		t.Fatalf("issuer() error = %v", err)
	}
	engine, err := newServerEngine(serverDeps{
		issuer:    issuer,
		verifier:  rt.proofVerifier(),
		receipts:  ledger,
		registry:  registry.New(registry.NewMemoryStore()),
		onPayment: onPayment,
		logger:    rt.logger,
		now:       fixedNow,
	})
	if err != nil {
		t.Fatalf("newServerEngine() error = %v", err)
	}
	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	return srv, ledger
}

func TestServerHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
		Network   string `json:"network"`
		ChainID   int64  `json:"chainId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "healthy" || body.Network != x402.NetworkBaseSepolia || body.ChainID != 84532 || body.Timestamp != "2026-05-01T12:00:00Z" {
		t.Errorf("health = %+v", body)
	}
}

func TestServerChallenges(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	tests := []struct {
		method string
		path   string
		amount string
	}{
		{http.MethodPost, "/api/services/process-data", "50000"},
		{http.MethodPost, "/api/services/ai-compute", "100000"},
		{http.MethodPost, "/api/services/generate-image", "250000"},
		{http.MethodPost, "/api/services/store-data", "20000"},
		{http.MethodGet, "/api/premium-data", "10000"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, srv.URL+tt.path, nil)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusPaymentRequired {
				t.Fatalf("status = %d; want 402", resp.StatusCode)
			}
			var challenge x402.PaymentRequired
			if err := json.NewDecoder(resp.Body).Decode(&challenge); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(challenge.PaymentRequirements) != 1 {
				t.Fatalf("requirements = %+v", challenge.PaymentRequirements)
			}
			got := challenge.PaymentRequirements[0]
			if got.Amount != tt.amount || got.PayTo != demoAddress {
				t.Errorf("requirement = %+v; want amount %s to %s", got, tt.amount, demoAddress)
			}
		})
	}
}

func TestServerPaidRoute(t *testing.T) {
	var events []x402.PaymentEventType
	srv, ledger := newTestServer(t, func(e x402.PaymentEvent) { events = append(events, e.Type) })

	client, err := x402http.NewClient(
		x402http.WithLedger(ledger),
		x402http.WithConfirmation(x402.ConfirmationConfig{MaxAttempts: 3}),
	)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	var out demoResponse
	receipt, err := client.Call(context.Background(), http.MethodPost, srv.URL+"/api/services/process-data", map[string]string{"data": "hello"}, &out)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if receipt == nil || receipt.Amount != "0.05" {
		t.Fatalf("receipt = %+v", receipt)
	}
	result, _ := out.Result.(map[string]interface{})
	if !out.Success || out.Cost != "0.05 USDC" || result["processed"] != "HELLO" || out.TxHash != receipt.TxHash {
		t.Errorf("response = %+v", out)
	}
	if len(events) != 1 || events[0] != x402.PaymentEventVerified {
		t.Errorf("server events = %v", events)
	}
}

func TestServerDirectoryAndFacilitator(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	dir := registry.NewClient(srv.URL + "/api/agents")
	record, err := dir.Register(context.Background(), "translator", []string{"translation"}, payerAddress)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if record.Reputation != registry.StartingReputation {
		t.Errorf("reputation = %d", record.Reputation)
	}
	found, err := dir.Discover(context.Background(), "translation")
	if err != nil || len(found) != 1 || found[0].ID != record.ID {
		t.Errorf("Discover() = %+v, %v", found, err)
	}

	body := bytes.NewBufferString(`{"not":"a request"`)
	resp, err := http.Post(srv.URL+"/api/x402/verify", "application/json", body)
	if err != nil {
		t.Fatalf("POST /api/x402/verify: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("verify status = %d; want 400", resp.StatusCode)
	}
}

func TestHireFromDirectory(t *testing.T) {
	dir, _ := newTestServer(t, nil)
	rt, ledger := testRuntime(t)
	rt.cfg.Confirmation = config.ConfirmationConfig{MaxAttempts: 3}

	seller, err := agent.New(agent.Config{
		ID:       "translator",
		Ledger:   memory.New(x402.NetworkBaseSepolia, demoAddress),
		Verifier: verifier.New(ledger),
		Logger:   rt.logger,
	})
	if err != nil {
		t.Fatalf("agent.New() error = %v", err)
	}
	for _, def := range aiServices(fixedNow) {
		if err := seller.AddService(def); err != nil {
			t.Fatalf("AddService(%s) error = %v", def.Name, err)
		}
	}
	sellerSrv := httptest.NewServer(seller.Handler())
	defer sellerSrv.Close()
	if _, err := registry.NewClient(dir.URL+"/api/agents").Register(context.Background(),
		"translator", []string{"translation"}, demoAddress, registry.WithEndpoint(sellerSrv.URL)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	hire, err := hireFor(context.Background(), rt, "1.0", dir.URL, "translation", map[string]string{"text": "Hello", "toLang": "es"})
	if err != nil {
		t.Fatalf("hireFor() error = %v", err)
	}
	var out struct {
		Translated string `json:"translated"`
	}
	if err := json.Unmarshal(hire.Response, &out); err != nil || out.Translated != "hola" {
		t.Errorf("response = %s, %v", hire.Response, err)
	}
	if hire.Receipt == nil || hire.Receipt.Amount != "0.1" || hire.Agent.Endpoint != sellerSrv.URL {
		t.Errorf("hire = %+v", hire)
	}
}

func TestNewLedger(t *testing.T) {
	cfg := &config.Config{Blockchain: config.BlockchainConfig{Network: x402.NetworkBaseSepolia}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	l, err := newLedger(context.Background(), "memory", cfg, logger)
	if err != nil {
		t.Fatalf("newLedger(memory) error = %v", err)
	}
	if l.Address() != demoAddress || l.Network() != x402.NetworkBaseSepolia {
		t.Errorf("memory ledger = %s on %s", l.Address(), l.Network())
	}

	for _, kind := range []string{"evm", "svm", "bitcoin"} {
		if _, err := newLedger(context.Background(), kind, cfg, logger); err == nil {
			t.Errorf("newLedger(%s) without a key should fail", kind)
		}
	}
}

func TestProofVerifierSelection(t *testing.T) {
	rt, _ := testRuntime(t)
	if _, ok := rt.proofVerifier().(*verifier.Verifier); !ok {
		t.Errorf("proofVerifier() = %T; want a local verifier", rt.proofVerifier())
	}
	rt.cfg.X402.FacilitatorURL = "http://facilitator.local"
	if _, ok := rt.proofVerifier().(*x402http.FacilitatorVerifier); !ok {
		t.Errorf("proofVerifier() = %T; want a facilitator verifier", rt.proofVerifier())
	}
}
