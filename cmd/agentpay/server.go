package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	x402 "github.com/Zyzgsfi/agentpay"
	"github.com/Zyzgsfi/agentpay/config"
	"github.com/Zyzgsfi/agentpay/facilitator"
	x402http "github.com/Zyzgsfi/agentpay/http"
	x402gin "github.com/Zyzgsfi/agentpay/http/gin"
	"github.com/Zyzgsfi/agentpay/registry"
)

// paidRoute is one demo resource and its price in whole tokens.
type paidRoute struct {
	method  string
	path    string
	price   string
	handler gin.HandlerFunc
}

func demoRoutes(now func() time.Time) []paidRoute {
	return []paidRoute{
		{http.MethodPost, "/api/services/process-data", "0.05", processData(now)},
		{http.MethodPost, "/api/services/ai-compute", "0.10", aiCompute(now)},
		{http.MethodPost, "/api/services/generate-image", "0.25", generateImage(now)},
		{http.MethodPost, "/api/services/store-data", "0.02", storeData(now)},
		{http.MethodGet, "/api/premium-data", "0.01", premiumData(now)},
	}
}

// serverDeps is everything the main server engine is built from.
type serverDeps struct {
	issuer    *x402.Issuer
	verifier  x402http.ProofVerifier
	receipts  x402.ReceiptSource
	registry  *registry.Registry
	onPayment x402.PaymentCallback
	logger    *slog.Logger
	now       func() time.Time
}

func newServerEngine(deps serverDeps) (*gin.Engine, error) {
	if deps.now == nil {
		deps.now = time.Now
	}
	r := gin.New()
	r.Use(gin.Recovery())

	issued := deps.issuer.Config()
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": deps.now().UTC().Format(time.RFC3339),
			"network":   issued.Network,
			"chainId":   issued.ChainID,
		})
	})

	registry.NewHandler(deps.registry).Register(r.Group("/api/agents"))
	facilitator.NewHandler(facilitator.NewService(deps.receipts, deps.logger)).Register(r.Group("/api/x402"))

	for _, route := range demoRoutes(deps.now) {
		mw, err := x402gin.NewX402Middleware(x402gin.Config{
			Issuer:    deps.issuer,
			Price:     route.price,
			Verifier:  deps.verifier,
			Logger:    deps.logger,
			OnPayment: deps.onPayment,
		})
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", route.path, err)
		}
		r.Handle(route.method, route.path, mw, route.handler)
	}
	return r, nil
}

func openStore(cfg config.RegistryConfig) (registry.Store, func() error, error) {
	if cfg.Driver == "sqlite" {
		store, err := registry.OpenSQLite(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}
	return registry.NewMemoryStore(), func() error { return nil }, nil
}

func runServer(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	port := fs.Int("port", 0, "Server port (overrides server.port)")
	_ = fs.Parse(args)

	rt, err := setup(ctx, common)
	if err != nil {
		return err
	}
	defer rt.close()
	if *port != 0 {
		rt.cfg.Server.Port = *port
	}

	store, closeStore, err := openStore(rt.cfg.Registry)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	issuer, err := rt.issuer()
	if err != nil {
		return err
	}
	engine, err := newServerEngine(serverDeps{
		issuer:    issuer,
		verifier:  rt.proofVerifier(),
		receipts:  rt.ledger,
		registry:  registry.New(store, registry.WithLogger(rt.logger)),
		onPayment: rt.onPayment,
		logger:    rt.logger,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{Addr: rt.cfg.Server.Addr(), Handler: engine, ReadHeaderTimeout: 10 * time.Second}
	return serve(ctx, srv, rt.logger, "payment server",
		"payTo", issuer.Config().PayTo,
		"network", issuer.Config().Network,
		"registry", rt.cfg.Registry.Driver)
}

// serve runs srv until ctx is cancelled, then shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server, logger *slog.Logger, name string, attrs ...any) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting "+name, append([]any{"addr", srv.Addr}, attrs...)...)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down " + name)
	return srv.Shutdown(shutdownCtx)
}
