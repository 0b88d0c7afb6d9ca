package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Zyzgsfi/agentpay/agent"
)

func runAgent(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("agent", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	port := fs.Int("port", 3001, "Agent port")
	id := fs.String("id", "", "Agent id (default agent-<uuid>)")
	profile := fs.String("profile", "ai", "Services to sell: "+strings.Join(profileNames(), ", "))
	directory := fs.String("directory", "", "Main server URL to register with, e.g. http://localhost:3000")
	heartbeat := fs.Duration("heartbeat", 30*time.Second, "Directory heartbeat interval")
	publicURL := fs.String("public-url", "", "URL advertised to the directory (default http://localhost:<port>)")
	_ = fs.Parse(args)
	if *publicURL == "" {
		*publicURL = fmt.Sprintf("http://localhost:%d", *port)
	}

	services, ok := serviceProfiles[*profile]
	if !ok {
		return fmt.Errorf("unknown profile %q", *profile)
	}

	rt, err := setup(ctx, common)
	if err != nil {
		return err
	}
	defer rt.close()

	a, err := agent.New(agent.Config{
		ID:           *id,
		Ledger:       rt.ledger,
		Network:      rt.cfg.Blockchain.Network,
		Asset:        rt.cfg.Blockchain.USDCAddress,
		Verifier:     rt.proofVerifier(),
		MaxPayment:   rt.cfg.Agent.MaxPayment,
		Confirmation: rt.cfg.Confirmation.Value(),
		OnPayment:    rt.onPayment,
		PublicURL:    *publicURL,
		Logger:       rt.logger,
	})
	if err != nil {
		return err
	}
	for _, def := range services(time.Now) {
		if err := a.AddService(def); err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.Start(fmt.Sprintf(":%d", *port)) }()

	if *directory != "" {
		if _, err := a.RegisterWithDirectory(ctx, *directory, nil); err != nil {
			rt.logger.Error("failed to register with directory", "directory", *directory, "error", err)
		} else {
			go keepAlive(ctx, a, *heartbeat)
		}
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return a.Shutdown(shutdownCtx)
}

// keepAlive refreshes the directory entry every interval until ctx ends.
func keepAlive(ctx context.Context, a *agent.ServiceAgent, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.Heartbeat(ctx); err != nil {
				slog.Warn("heartbeat failed", "agentId", a.ID(), "error", err)
			}
		}
	}
}

func profileNames() []string {
	names := make([]string, 0, len(serviceProfiles))
	for name := range serviceProfiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
