// Package agent provides ServiceAgent, an HTTP service that sells its
// endpoints per request and buys from other agents with the same client.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	x402 "github.com/Zyzgsfi/agentpay"
	x402http "github.com/Zyzgsfi/agentpay/http"
	x402gin "github.com/Zyzgsfi/agentpay/http/gin"
	"github.com/Zyzgsfi/agentpay/registry"
	"github.com/Zyzgsfi/agentpay/verifier"
)

var (
	// ErrNoSuitableService indicates no service of the other agent matches the task.
	ErrNoSuitableService = errors.New("agent: no suitable service found")

	// ErrBalanceUnsupported indicates the agent's ledger cannot report balances.
	ErrBalanceUnsupported = errors.New("agent: ledger cannot report balances")
)

// ServiceDefinition describes one paid endpoint.
type ServiceDefinition struct {
	Name        string          `json:"name"`
	Endpoint    string          `json:"endpoint"`
	Price       string          `json:"price"`
	Description string          `json:"description"`
	Method      string          `json:"method"`
	Handler     gin.HandlerFunc `json:"-"`
}

// Config configures a ServiceAgent.
type Config struct {
	// ID defaults to "agent-<uuid>".
	ID string

	// Ledger pays for bought services and receives payments. Required.
	Ledger x402.Ledger

	// Network and Asset describe what sold services charge in.
	// Network defaults to the ledger's network.
	Network string
	Asset   string

	// Verifier checks proofs for sold services. Defaults to a verifier over Ledger.
	Verifier x402http.ProofVerifier

	// MaxPayment caps every purchase (default x402http.DefaultMaxPayment).
	MaxPayment string

	// Confirmation bounds the wait for outgoing payments.
	Confirmation x402.ConfirmationConfig

	// ClientOptions are appended to the buying client's options.
	ClientOptions []x402http.ClientOption

	// OnPayment receives the events of both sides: purchases and sales.
	OnPayment x402.PaymentCallback

	// PublicURL is the base URL other agents reach this one at. It is
	// advertised to the directory on registration.
	PublicURL string

	Logger *slog.Logger
}

// ServiceAgent sells services over HTTP and buys from other agents.
type ServiceAgent struct {
	id        string
	ledger    x402.Ledger
	issuer    *x402.Issuer
	verifier  x402http.ProofVerifier
	client    *x402http.Client
	engine    *gin.Engine
	logger    *slog.Logger
	onPayment x402.PaymentCallback
	publicURL string
	now       func() time.Time

	mu        sync.Mutex
	services  []ServiceDefinition
	server    *http.Server
	directory *registry.Client
	record    *registry.AgentRecord
}

// New creates a ServiceAgent with /health and /services mounted.
func New(cfg Config) (*ServiceAgent, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("agent: ledger is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := cfg.ID
	if id == "" {
		id = "agent-" + uuid.NewString()
	}
	network := cfg.Network
	if network == "" {
		network = cfg.Ledger.Network()
	}

	issuer, err := x402.NewIssuer(x402.IssuerConfig{
		PayTo:   cfg.Ledger.Address(),
		Asset:   cfg.Asset,
		Network: network,
	})
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}

	v := cfg.Verifier
	if v == nil {
		v = verifier.New(cfg.Ledger, verifier.WithLogger(logger))
	}

	maxPayment := cfg.MaxPayment
	if maxPayment == "" {
		maxPayment = x402http.DefaultMaxPayment
	}
	opts := []x402http.ClientOption{
		x402http.WithLedger(cfg.Ledger),
		x402http.WithMaxPayment(maxPayment),
		x402http.WithLogger(logger),
	}
	if cfg.Confirmation.MaxAttempts > 0 {
		opts = append(opts, x402http.WithConfirmation(cfg.Confirmation))
	}
	if cfg.OnPayment != nil {
		opts = append(opts, x402http.WithPaymentCallbacks(cfg.OnPayment, cfg.OnPayment, cfg.OnPayment))
	}
	client, err := x402http.NewClient(append(opts, cfg.ClientOptions...)...)
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}

	a := &ServiceAgent{
		id:        id,
		ledger:    cfg.Ledger,
		issuer:    issuer,
		verifier:  v,
		client:    client,
		engine:    gin.New(),
		logger:    logger,
		onPayment: cfg.OnPayment,
		publicURL: cfg.PublicURL,
		now:       time.Now,
	}
	a.engine.Use(gin.Recovery())
	a.engine.GET("/health", a.health)
	a.engine.GET("/services", a.listServices)
	return a, nil
}

// ID returns the agent id.
func (a *ServiceAgent) ID() string { return a.id }

// Address returns the address the agent pays from and is paid to.
func (a *ServiceAgent) Address() string { return a.ledger.Address() }

// Balance reports what the agent's address holds of the fee coin and of
// the asset its services charge in.
func (a *ServiceAgent) Balance(ctx context.Context) (*x402.Balance, error) {
	reader, ok := a.ledger.(x402.BalanceReader)
	if !ok {
		return nil, ErrBalanceUnsupported
	}
	return reader.Balance(ctx, a.issuer.Config().Asset)
}

// Client returns the paying HTTP client.
func (a *ServiceAgent) Client() *x402http.Client { return a.client }

// Handler returns the agent's HTTP handler.
func (a *ServiceAgent) Handler() http.Handler { return a.engine }

// AddService mounts def behind payment gating at its price. Services must
// be added before Start.
func (a *ServiceAgent) AddService(def ServiceDefinition) error {
	if def.Name == "" || def.Endpoint == "" || def.Handler == nil {
		return errors.New("agent: service needs a name, an endpoint and a handler")
	}
	method := strings.ToUpper(def.Method)
	if method == "" {
		method = http.MethodPost
	}
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
	default:
		return fmt.Errorf("agent: unsupported method %q for service %s", def.Method, def.Name)
	}
	def.Method = method

	gate, err := x402gin.NewX402Middleware(x402gin.Config{
		Issuer:    a.issuer,
		Price:     def.Price,
		Verifier:  a.verifier,
		Logger:    a.logger,
		OnPayment: a.onPayment,
	})
	if err != nil {
		return fmt.Errorf("agent: service %s: %w", def.Name, err)
	}

	a.mu.Lock()
	for _, s := range a.services {
		if s.Name == def.Name {
			a.mu.Unlock()
			return fmt.Errorf("agent: service %s already exists", def.Name)
		}
	}
	a.services = append(a.services, def)
	a.mu.Unlock()

	a.engine.Handle(method, def.Endpoint, gate, def.Handler)
	a.logger.Info("service added", "name", def.Name, "endpoint", def.Endpoint, "price", def.Price)
	return nil
}

// Services returns the registered service definitions in insertion order.
func (a *ServiceAgent) Services() []ServiceDefinition {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ServiceDefinition(nil), a.services...)
}

func (a *ServiceAgent) serviceNames() []string {
	services := a.Services()
	names := make([]string, len(services))
	for i, s := range services {
		names[i] = s.Name
	}
	return names
}

// HealthResponse is served at GET /health.
type HealthResponse struct {
	Status    string   `json:"status"`
	AgentID   string   `json:"agentId"`
	Address   string   `json:"address"`
	Services  []string `json:"services"`
	Timestamp string   `json:"timestamp"`
}

// ServicesResponse is served at GET /services.
type ServicesResponse struct {
	AgentID  string              `json:"agentId"`
	Services []ServiceDefinition `json:"services"`
	Total    int                 `json:"total"`
}

func (a *ServiceAgent) health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		AgentID:   a.id,
		Address:   a.Address(),
		Services:  a.serviceNames(),
		Timestamp: a.now().UTC().Format(time.RFC3339),
	})
}

func (a *ServiceAgent) listServices(c *gin.Context) {
	services := a.Services()
	c.JSON(http.StatusOK, ServicesResponse{AgentID: a.id, Services: services, Total: len(services)})
}

// BuyService calls endpoint on the agent at targetURL, paying if asked.
// With data the request is a JSON POST, otherwise a GET.
func (a *ServiceAgent) BuyService(ctx context.Context, targetURL, endpoint string, data interface{}) (json.RawMessage, *x402.VerificationReceipt, error) {
	method := http.MethodGet
	if data != nil {
		method = http.MethodPost
	}
	var out json.RawMessage
	receipt, err := a.client.Call(ctx, method, strings.TrimRight(targetURL, "/")+endpoint, data, &out)
	if err != nil {
		return nil, nil, err
	}
	return out, receipt, nil
}

// CollaborateWith discovers the services of the agent at otherURL and buys
// the first one whose name or description mentions task.
func (a *ServiceAgent) CollaborateWith(ctx context.Context, otherURL, task string, data interface{}) (json.RawMessage, *x402.VerificationReceipt, error) {
	var offered ServicesResponse
	if _, err := a.client.Call(ctx, http.MethodGet, strings.TrimRight(otherURL, "/")+"/services", nil, &offered); err != nil {
		return nil, nil, fmt.Errorf("discover services: %w", err)
	}

	needle := strings.ToLower(task)
	for _, s := range offered.Services {
		if strings.Contains(strings.ToLower(s.Name), needle) || strings.Contains(strings.ToLower(s.Description), needle) {
			a.logger.Info("collaborating", "agent", offered.AgentID, "service", s.Name, "price", s.Price)
			return a.BuyService(ctx, otherURL, s.Endpoint, data)
		}
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrNoSuitableService, task)
}

// RegisterWithDirectory registers the agent with the directory served by
// the main server at serverURL.
func (a *ServiceAgent) RegisterWithDirectory(ctx context.Context, serverURL string, services []string) (registry.AgentRecord, error) {
	if len(services) == 0 {
		services = a.serviceNames()
	}
	dir := a.directoryClient(serverURL)
	var opts []registry.RegisterOption
	if a.publicURL != "" {
		opts = append(opts, registry.WithEndpoint(a.publicURL))
	}
	record, err := dir.Register(ctx, "PaymentAgent_"+a.id, services, a.Address(), opts...)
	if err != nil {
		return registry.AgentRecord{}, err
	}

	a.mu.Lock()
	a.directory = dir
	a.record = &record
	a.mu.Unlock()
	a.logger.Info("registered with directory", "directoryId", record.ID, "services", services)
	return record, nil
}

func (a *ServiceAgent) directoryClient(serverURL string) *registry.Client {
	dir := registry.NewClient(strings.TrimRight(serverURL, "/") + "/api/agents")
	dir.HTTPClient = a.client.Client
	return dir
}

// Discover asks the directory served at serverURL for reachable agents
// offering capability, best reputation first. The agent itself and records
// without an endpoint are left out.
func (a *ServiceAgent) Discover(ctx context.Context, serverURL, capability string) ([]registry.AgentRecord, error) {
	found, err := a.directoryClient(serverURL).Discover(ctx, capability)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", capability, err)
	}

	a.mu.Lock()
	self := a.record
	a.mu.Unlock()

	out := found[:0]
	for _, rec := range found {
		if rec.Endpoint == "" || (self != nil && rec.ID == self.ID) {
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Reputation > out[j].Reputation })
	return out, nil
}

// Hire is the outcome of HireFor.
type Hire struct {
	Agent    registry.AgentRecord
	Response json.RawMessage
	Receipt  *x402.VerificationReceipt
}

// HireFor finds agents offering capability in the directory at serverURL
// and buys the matching service from the best-reputed one. Candidates that
// turn out not to sell a matching service are skipped; any other failure
// ends the search.
func (a *ServiceAgent) HireFor(ctx context.Context, serverURL, capability string, data interface{}) (*Hire, error) {
	candidates, err := a.Discover(ctx, serverURL, capability)
	if err != nil {
		return nil, err
	}
	for _, rec := range candidates {
		out, receipt, err := a.CollaborateWith(ctx, rec.Endpoint, capability, data)
		if errors.Is(err, ErrNoSuitableService) {
			a.logger.Warn("directory entry does not sell capability", "agent", rec.ID, "capability", capability)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("hire %s: %w", rec.ID, err)
		}
		return &Hire{Agent: rec, Response: out, Receipt: receipt}, nil
	}
	return nil, fmt.Errorf("%w: no agent in the directory offers %s", ErrNoSuitableService, capability)
}

// Heartbeat refreshes the agent's directory entry.
func (a *ServiceAgent) Heartbeat(ctx context.Context) error {
	a.mu.Lock()
	dir, record := a.directory, a.record
	a.mu.Unlock()
	if dir == nil || record == nil {
		return errors.New("agent: not registered with a directory")
	}
	return dir.Heartbeat(ctx, record.ID)
}

// Start serves on addr until Shutdown is called.
func (a *ServiceAgent) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.mu.Lock()
	a.server = srv
	a.mu.Unlock()

	a.logger.Info("service agent listening", "agentId", a.id, "addr", addr, "address", a.Address(), "services", a.serviceNames())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops a running agent.
func (a *ServiceAgent) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	srv := a.server
	a.mu.Unlock()
	if srv == nil {
		return nil
	}
	a.logger.Info("service agent stopping", "agentId", a.id)
	return srv.Shutdown(ctx)
}
