package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	mcpproto "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	x402 "github.com/Zyzgsfi/agentpay"
	"github.com/Zyzgsfi/agentpay/registry"
)

// X402Server wraps an MCP server and adds x402 payment protection.
type X402Server struct {
	mcpServer *mcpserver.MCPServer
	config    *Config
}

// NewX402Server creates a new MCP server with x402 payment support.
func NewX402Server(name, version string, config *Config) *X402Server {
	if config == nil {
		config = &Config{}
	}
	return &X402Server{
		mcpServer: mcpserver.NewMCPServer(name, version, mcpserver.WithToolCapabilities(true)),
		config:    config,
	}
}

// AddTool adds a free tool (no payment required).
func (s *X402Server) AddTool(tool mcpproto.Tool, handler mcpserver.ToolHandlerFunc) {
	s.mcpServer.AddTool(tool, handler)
}

// AddPayableTool adds a tool that costs price, in whole tokens, per call.
func (s *X402Server) AddPayableTool(tool mcpproto.Tool, price string, handler mcpserver.ToolHandlerFunc) error {
	if err := s.config.AddPaymentTool(tool.Name, price); err != nil {
		return err
	}
	s.mcpServer.AddTool(tool, handler)
	return nil
}

// AddDirectoryTools exposes reg as the free tools list_agents and get_agent.
func (s *X402Server) AddDirectoryTools(reg *registry.Registry) {
	s.AddTool(
		mcpproto.NewTool("list_agents",
			mcpproto.WithDescription("List registered agents, optionally only those offering a capability"),
			mcpproto.WithString("capability", mcpproto.Description("Service the agents must offer")),
		),
		func(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
			capability, _ := req.GetArguments()["capability"].(string)
			agents, err := reg.List(ctx, capability)
			if err != nil {
				return nil, err
			}
			return jsonResult(map[string]interface{}{"agents": agents, "total": len(agents)})
		},
	)

	s.AddTool(
		mcpproto.NewTool("get_agent",
			mcpproto.WithDescription("Look up a registered agent by id"),
			mcpproto.WithString("id", mcpproto.Required(), mcpproto.Description("Agent id")),
		),
		func(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
			id, _ := req.GetArguments()["id"].(string)
			if id == "" {
				return mcpproto.NewToolResultError("id is required"), nil
			}
			agent, err := reg.Lookup(ctx, id)
			if errors.Is(err, x402.ErrAgentNotFound) {
				return mcpproto.NewToolResultError("agent not found: " + id), nil
			}
			if err != nil {
				return nil, err
			}
			return jsonResult(agent)
		},
	)
}

func jsonResult(v interface{}) (*mcpproto.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcpproto.NewToolResultText(string(data)), nil
}

// Handler returns the streamable HTTP handler wrapped with payment gating.
func (s *X402Server) Handler() http.Handler {
	return NewX402Handler(mcpserver.NewStreamableHTTPServer(s.mcpServer), s.config)
}

// Start starts the MCP server on the given address.
func (s *X402Server) Start(addr string) error {
	s.config.logger().Info("starting x402 MCP server", "addr", addr, "paidTools", len(s.config.gates))
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

// GetMCPServer returns the underlying MCP server (for advanced usage).
func (s *X402Server) GetMCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}
