package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"time"

	mcpproto "github.com/mark3labs/mcp-go/mcp"

	mcpserver "github.com/Zyzgsfi/agentpay/mcp/server"
	"github.com/Zyzgsfi/agentpay/registry"
)

// sentimentPrice is what one analyze_sentiment call costs.
const sentimentPrice = "0.07"

func newMCPServer(rt *runtime, reg *registry.Registry) (*mcpserver.X402Server, error) {
	issuer, err := rt.issuer()
	if err != nil {
		return nil, err
	}
	s := mcpserver.NewX402Server("agentpay", version, &mcpserver.Config{
		Issuer:    issuer,
		Verifier:  rt.proofVerifier(),
		OnPayment: rt.onPayment,
		Logger:    rt.logger,
	})
	s.AddDirectoryTools(reg)

	tool := mcpproto.NewTool("analyze_sentiment",
		mcpproto.WithDescription(fmt.Sprintf("Analyze the sentiment of text (%s USDC per call)", sentimentPrice)),
		mcpproto.WithString("text", mcpproto.Required(), mcpproto.Description("Text to analyze")),
	)
	err = s.AddPayableTool(tool, sentimentPrice, func(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
		text, _ := req.GetArguments()["text"].(string)
		if text == "" {
			return mcpproto.NewToolResultError("text is required"), nil
		}
		label, score, _, _, _ := sentiment(text)
		return mcpproto.NewToolResultText(fmt.Sprintf("%s (%.1f)", label, score)), nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func runMCP(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	port := fs.Int("port", 8090, "MCP server port")
	_ = fs.Parse(args)

	rt, err := setup(ctx, common)
	if err != nil {
		return err
	}
	defer rt.close()

	store, closeStore, err := openStore(rt.cfg.Registry)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	s, err := newMCPServer(rt, registry.New(store, registry.WithLogger(rt.logger)))
	if err != nil {
		return err
	}
	srv := &http.Server{Addr: fmt.Sprintf(":%d", *port), Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	return serve(ctx, srv, rt.logger, "x402 MCP server", "paidTool", "analyze_sentiment", "price", sentimentPrice)
}
