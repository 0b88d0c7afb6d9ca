package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	x402 "github.com/Zyzgsfi/agentpay"
)

// Client talks to a remote agent directory.
type Client struct {
	// BaseURL is where the directory routes are mounted, e.g. "http://localhost:3000/api/agents".
	BaseURL string

	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// NewClient creates a directory client for baseURL.
func NewClient(baseURL string) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/")}
}

// Register registers an agent and returns its record. Of opts only
// WithEndpoint is sent to the directory.
func (c *Client) Register(ctx context.Context, name string, services []string, address string, opts ...RegisterOption) (AgentRecord, error) {
	var draft AgentRecord
	for _, opt := range opts {
		opt(&draft)
	}
	var resp RegisterResponse
	err := c.do(ctx, http.MethodPost, "/register", RegisterRequest{Name: name, Services: services, Address: address, Endpoint: draft.Endpoint}, &resp)
	return resp.Agent, err
}

// Get fetches one record.
func (c *Client) Get(ctx context.Context, id string) (AgentRecord, error) {
	var record AgentRecord
	err := c.do(ctx, http.MethodGet, "/"+url.PathEscape(id), nil, &record)
	return record, err
}

// Discover lists agents offering capability. An empty capability lists all.
func (c *Client) Discover(ctx context.Context, capability string) ([]AgentRecord, error) {
	path := "/"
	if capability != "" {
		path += "?service=" + url.QueryEscape(capability)
	}
	var resp ListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Agents, nil
}

// Heartbeat refreshes the agent's last-seen time.
func (c *Client) Heartbeat(ctx context.Context, id string) error {
	var resp HeartbeatResponse
	return c.do(ctx, http.MethodPost, "/"+url.PathEscape(id)+"/heartbeat", nil, &resp)
}

// AdjustReputation changes the agent's reputation by change.
func (c *Client) AdjustReputation(ctx context.Context, id string, change int, reason string) (AgentRecord, error) {
	var resp ReputationResponse
	err := c.do(ctx, http.MethodPost, "/"+url.PathEscape(id)+"/reputation", ReputationRequest{Change: change, Reason: reason}, &resp)
	return resp.Agent, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("directory request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", x402.ErrAgentNotFound, path)
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrInvalidAgent, readError(resp.Body))
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("directory returned %d: %s", resp.StatusCode, readError(resp.Body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func readError(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 4<<10))
	var body errorResponse
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(data))
}
