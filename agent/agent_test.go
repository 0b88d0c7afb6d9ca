package agent

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	x402 "github.com/Zyzgsfi/agentpay"
	x402gin "github.com/Zyzgsfi/agentpay/http/gin"
	"github.com/Zyzgsfi/agentpay/ledger/memory"
	"github.com/Zyzgsfi/agentpay/registry"
	"github.com/Zyzgsfi/agentpay/verifier"
)

const (
	buyerAddress  = "0x857b06519E91e3A54538791bDbb0E22373e36b66"
	sellerAddress = "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"
)

var fastConfirmation = x402.ConfirmationConfig{PollInterval: 0, MaxAttempts: 5}

func init() {
	gin.SetMode(gin.TestMode)
}

// newPair returns a buyer and a seller whose verifier reads the buyer's ledger.
func newPair(t *testing.T) (buyer, seller *ServiceAgent, ledger *memory.Ledger) {
	t.Helper()
	ledger = memory.New(x402.NetworkBaseSepolia, buyerAddress)

	var err error
	buyer, err = New(Config{ID: "buyer", Ledger: ledger, Confirmation: fastConfirmation})
	if err != nil {
		t.Fatalf("New(buyer) error = %v", err)
	}
	seller, err = New(Config{
		ID:       "seller",
		Ledger:   memory.New(x402.NetworkBaseSepolia, sellerAddress),
		Verifier: verifier.New(ledger),
	})
	if err != nil {
		t.Fatalf("New(seller) error = %v", err)
	}
	return buyer, seller, ledger
}

func translate(c *gin.Context) {
	var in struct {
		Text string `json:"text"`
	}
	_ = c.ShouldBindJSON(&in)
	payment := x402gin.GetPayment(c)
	c.JSON(http.StatusOK, gin.H{"translated": "[es] " + in.Text, "txHash": payment.Proof.TxHash})
}

func TestNew_RequiresLedger(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("New() without ledger should fail")
	}
}

func TestNew_DefaultID(t *testing.T) {
	a, err := New(Config{Ledger: memory.New(x402.NetworkBaseSepolia, sellerAddress)})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if len(a.ID()) <= len("agent-") || a.ID()[:6] != "agent-" {
		t.Errorf("ID() = %q; want agent-<uuid>", a.ID())
	}
	if a.Address() != sellerAddress {
		t.Errorf("Address() = %q", a.Address())
	}
}

func TestAddService_Validation(t *testing.T) {
	_, seller, _ := newPair(t)
	tests := []struct {
		name string
		def  ServiceDefinition
	}{
		{"no name", ServiceDefinition{Endpoint: "/x", Price: "0.1", Handler: translate}},
		{"no handler", ServiceDefinition{Name: "x", Endpoint: "/x", Price: "0.1"}},
		{"bad price", ServiceDefinition{Name: "x", Endpoint: "/x", Price: "free", Handler: translate}},
		{"bad method", ServiceDefinition{Name: "x", Endpoint: "/x", Price: "0.1", Method: "PATCHY", Handler: translate}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := seller.AddService(tt.def); err == nil {
				t.Error("AddService() should fail")
			}
		})
	}

	def := ServiceDefinition{Name: "translation", Endpoint: "/translate", Price: "0.10", Handler: translate}
	if err := seller.AddService(def); err != nil {
		t.Fatalf("AddService() error = %v", err)
	}
	def.Endpoint = "/translate2"
	if err := seller.AddService(def); err == nil {
		t.Error("AddService() with a duplicate name should fail")
	}
}

func TestHealthAndServices(t *testing.T) {
	_, seller, _ := newPair(t)
	seller.now = func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }
	_ = seller.AddService(ServiceDefinition{Name: "translation", Endpoint: "/translate", Price: "0.10", Description: "Translate text", Handler: translate})
	_ = seller.AddService(ServiceDefinition{Name: "sentiment-analysis", Endpoint: "/sentiment", Price: "0.07", Method: "get", Handler: translate})

	w := httptest.NewRecorder()
	seller.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	var health HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "healthy" || health.AgentID != "seller" || health.Address != sellerAddress {
		t.Errorf("health = %+v", health)
	}
	if len(health.Services) != 2 || health.Services[0] != "translation" || health.Timestamp != "2026-05-01T12:00:00Z" {
		t.Errorf("health = %+v", health)
	}

	w = httptest.NewRecorder()
	seller.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/services", nil))
	var list ServicesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode services: %v", err)
	}
	if list.Total != 2 || list.Services[0].Method != http.MethodPost || list.Services[1].Method != http.MethodGet {
		t.Errorf("services = %+v", list)
	}
}

func TestServiceRequiresPayment(t *testing.T) {
	_, seller, _ := newPair(t)
	_ = seller.AddService(ServiceDefinition{Name: "translation", Endpoint: "/translate", Price: "0.10", Handler: translate})

	w := httptest.NewRecorder()
	seller.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/translate", nil))
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d; want 402", w.Code)
	}
	var challenge x402.PaymentRequired
	if err := json.Unmarshal(w.Body.Bytes(), &challenge); err != nil {
		t.Fatalf("decode challenge: %v", err)
	}
	if len(challenge.PaymentRequirements) != 1 || challenge.PaymentRequirements[0].PayTo != sellerAddress {
		t.Errorf("challenge = %+v", challenge)
	}
}

func TestBuyService(t *testing.T) {
	buyer, seller, ledger := newPair(t)
	_ = seller.AddService(ServiceDefinition{Name: "translation", Endpoint: "/translate", Price: "0.10", Handler: translate})
	srv := httptest.NewServer(seller.Handler())
	defer srv.Close()

	out, receipt, err := buyer.BuyService(context.Background(), srv.URL+"/", "/translate", map[string]string{"text": "hello"})
	if err != nil {
		t.Fatalf("BuyService() error = %v", err)
	}
	var body struct {
		Translated string `json:"translated"`
		TxHash     string `json:"txHash"`
	}
	if err := json.Unmarshal(out, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Translated != "[es] hello" {
		t.Errorf("translated = %q", body.Translated)
	}
	if receipt == nil || receipt.Status != "verified" || receipt.TxHash != body.TxHash || receipt.Amount != "0.1" {
		t.Errorf("receipt = %+v", receipt)
	}
	if ledger.Submissions() != 1 {
		t.Errorf("Submissions() = %d; want 1", ledger.Submissions())
	}
}

func TestOnPayment(t *testing.T) {
	ledger := memory.New(x402.NetworkBaseSepolia, buyerAddress)
	var bought, sold []x402.PaymentEventType
	buyer, err := New(Config{
		ID:           "buyer",
		Ledger:       ledger,
		Confirmation: fastConfirmation,
		OnPayment:    func(e x402.PaymentEvent) { bought = append(bought, e.Type) },
	})
	if err != nil {
		t.Fatalf("New(buyer) error = %v", err)
	}
	seller, err := New(Config{
		ID:        "seller",
		Ledger:    memory.New(x402.NetworkBaseSepolia, sellerAddress),
		Verifier:  verifier.New(ledger),
		OnPayment: func(e x402.PaymentEvent) { sold = append(sold, e.Type) },
	})
	if err != nil {
		t.Fatalf("New(seller) error = %v", err)
	}
	_ = seller.AddService(ServiceDefinition{Name: "translation", Endpoint: "/translate", Price: "0.10", Handler: translate})
	srv := httptest.NewServer(seller.Handler())
	defer srv.Close()

	if _, _, err := buyer.BuyService(context.Background(), srv.URL, "/translate", map[string]string{"text": "hi"}); err != nil {
		t.Fatalf("BuyService() error = %v", err)
	}
	if len(bought) != 2 || bought[0] != x402.PaymentEventAttempt || bought[1] != x402.PaymentEventSuccess {
		t.Errorf("buyer events = %v", bought)
	}
	if len(sold) != 1 || sold[0] != x402.PaymentEventVerified {
		t.Errorf("seller events = %v", sold)
	}
}

func TestBuyService_OverLimit(t *testing.T) {
	buyer, seller, ledger := newPair(t)
	_ = seller.AddService(ServiceDefinition{Name: "generate-image", Endpoint: "/image", Price: "2.50", Handler: translate})
	srv := httptest.NewServer(seller.Handler())
	defer srv.Close()

	_, _, err := buyer.BuyService(context.Background(), srv.URL, "/image", map[string]string{"prompt": "cat"})
	if !errors.Is(err, x402.ErrPaymentLimitExceeded) {
		t.Fatalf("BuyService() error = %v; want ErrPaymentLimitExceeded", err)
	}
	if ledger.Submissions() != 0 {
		t.Errorf("Submissions() = %d; want 0", ledger.Submissions())
	}
}

func TestCollaborateWith(t *testing.T) {
	buyer, seller, _ := newPair(t)
	_ = seller.AddService(ServiceDefinition{Name: "sentiment-analysis", Endpoint: "/sentiment", Price: "0.07", Description: "Score text mood", Handler: translate})
	_ = seller.AddService(ServiceDefinition{Name: "translation", Endpoint: "/translate", Price: "0.10", Description: "Translate text to Spanish", Handler: translate})
	srv := httptest.NewServer(seller.Handler())
	defer srv.Close()

	out, receipt, err := buyer.CollaborateWith(context.Background(), srv.URL, "SPANISH", map[string]string{"text": "hi"})
	if err != nil {
		t.Fatalf("CollaborateWith() error = %v", err)
	}
	if receipt == nil || receipt.Amount != "0.1" {
		t.Errorf("receipt = %+v", receipt)
	}
	if len(out) == 0 {
		t.Error("empty output")
	}

	if _, _, err := buyer.CollaborateWith(context.Background(), srv.URL, "juggling", nil); !errors.Is(err, ErrNoSuitableService) {
		t.Errorf("CollaborateWith(juggling) error = %v; want ErrNoSuitableService", err)
	}
}

func TestRegisterWithDirectory(t *testing.T) {
	_, seller, _ := newPair(t)
	_ = seller.AddService(ServiceDefinition{Name: "translation", Endpoint: "/translate", Price: "0.10", Handler: translate})

	reg := registry.New(nil)
	r := gin.New()
	registry.NewHandler(reg).Register(r.Group("/api/agents"))
	dir := httptest.NewServer(r)
	defer dir.Close()

	if err := seller.Heartbeat(context.Background()); err == nil {
		t.Error("Heartbeat() before registering should fail")
	}

	record, err := seller.RegisterWithDirectory(context.Background(), dir.URL, nil)
	if err != nil {
		t.Fatalf("RegisterWithDirectory() error = %v", err)
	}
	if record.Name != "PaymentAgent_seller" || record.Address != sellerAddress || !record.Offers("translation") {
		t.Errorf("record = %+v", record)
	}

	found, err := reg.List(context.Background(), "translation")
	if err != nil || len(found) != 1 {
		t.Fatalf("List() = %+v, %v", found, err)
	}
	if err := seller.Heartbeat(context.Background()); err != nil {
		t.Errorf("Heartbeat() error = %v", err)
	}
}

func newDirectoryServer(t *testing.T) (*httptest.Server, *registry.Registry) {
	t.Helper()
	reg := registry.New(nil)
	r := gin.New()
	registry.NewHandler(reg).Register(r.Group("/api/agents"))
	dir := httptest.NewServer(r)
	t.Cleanup(dir.Close)
	return dir, reg
}

func TestHireFor(t *testing.T) {
	buyer, seller, ledger := newPair(t)
	_ = seller.AddService(ServiceDefinition{Name: "translation", Endpoint: "/translate", Price: "0.10", Handler: translate})
	srv := httptest.NewServer(seller.Handler())
	defer srv.Close()
	seller.publicURL = srv.URL

	dir, reg := newDirectoryServer(t)
	ctx := context.Background()

	// A higher-reputed entry with no endpoint and one that does not sell
	// translation are both passed over.
	unreachable, _ := reg.Register(ctx, "ghost", []string{"translation"}, sellerAddress)
	_, _ = reg.AdjustReputation(ctx, unreachable.ID, 500)
	other, err := New(Config{ID: "other", Ledger: memory.New(x402.NetworkBaseSepolia, sellerAddress), Verifier: verifier.New(ledger)})
	if err != nil {
		t.Fatalf("New(other) error = %v", err)
	}
	_ = other.AddService(ServiceDefinition{Name: "sentiment-analysis", Endpoint: "/sentiment", Price: "0.07", Description: "Score text mood", Handler: translate})
	otherSrv := httptest.NewServer(other.Handler())
	defer otherSrv.Close()
	liar, _ := reg.Register(ctx, "liar", []string{"translation"}, sellerAddress, registry.WithEndpoint(otherSrv.URL))
	_, _ = reg.AdjustReputation(ctx, liar.ID, 400)

	record, err := seller.RegisterWithDirectory(ctx, dir.URL, nil)
	if err != nil {
		t.Fatalf("RegisterWithDirectory() error = %v", err)
	}
	if record.Endpoint != srv.URL {
		t.Errorf("Endpoint = %q; want %q", record.Endpoint, srv.URL)
	}

	found, err := buyer.Discover(ctx, dir.URL, "translation")
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(found) != 2 || found[0].ID != liar.ID || found[1].ID != record.ID {
		t.Fatalf("Discover() = %+v; want liar then seller", found)
	}
	if mine, _ := seller.Discover(ctx, dir.URL, "translation"); len(mine) != 1 || mine[0].ID != liar.ID {
		t.Errorf("seller Discover() = %+v; want itself left out", mine)
	}

	hire, err := buyer.HireFor(ctx, dir.URL, "translation", map[string]string{"text": "hello"})
	if err != nil {
		t.Fatalf("HireFor() error = %v", err)
	}
	if hire.Agent.ID != record.ID || hire.Receipt == nil || hire.Receipt.Amount != "0.1" {
		t.Errorf("hire = %+v", hire)
	}
	var body struct {
		Translated string `json:"translated"`
	}
	if err := json.Unmarshal(hire.Response, &body); err != nil || body.Translated != "[es] hello" {
		t.Errorf("response = %s, %v", hire.Response, err)
	}
	if ledger.Submissions() != 1 {
		t.Errorf("Submissions() = %d; want 1", ledger.Submissions())
	}

	if _, err := buyer.HireFor(ctx, dir.URL, "juggling", nil); !errors.Is(err, ErrNoSuitableService) {
		t.Errorf("HireFor(juggling) error = %v; want ErrNoSuitableService", err)
	}
}

func TestBalance(t *testing.T) {
	usdc := "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	ledger := memory.New(x402.NetworkBaseSepolia, buyerAddress, memory.WithBalance(usdc, big.NewInt(2_000_000)))
	a, err := New(Config{Ledger: ledger})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	b, err := a.Balance(context.Background())
	if err != nil {
		t.Fatalf("Balance() error = %v", err)
	}
	if b.Asset != usdc || b.Token.Int64() != 2_000_000 || b.Address != buyerAddress {
		t.Errorf("balance = %+v", b)
	}

	bare, err := New(Config{Ledger: receiptOnlyLedger{ledger}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := bare.Balance(context.Background()); !errors.Is(err, ErrBalanceUnsupported) {
		t.Errorf("Balance() error = %v; want ErrBalanceUnsupported", err)
	}
}

// receiptOnlyLedger hides every method but those of x402.Ledger.
type receiptOnlyLedger struct{ x402.Ledger }

func TestStartShutdown(t *testing.T) {
	_, seller, _ := newPair(t)
	if err := seller.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() before Start error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- seller.Start("127.0.0.1:0") }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		seller.mu.Lock()
		started := seller.server != nil
		seller.mu.Unlock()
		if started || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := seller.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after Shutdown")
	}
}
