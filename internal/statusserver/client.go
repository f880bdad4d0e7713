package statusserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client fetches the read-only API of a running status server.
type Client struct {
	base   string
	client *http.Client
}

// NewClient returns a client for the status server at addr. A bare host:port
// is assumed to be plain HTTP.
func NewClient(addr string) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}

	return &Client{
		base:   strings.TrimRight(addr, "/"),
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Status fetches the loading summary and the tracked operation records.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	resp := StatusResponse{}
	if err := c.get(ctx, "/status", http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Errors fetches the archived error events.
func (c *Client) Errors(ctx context.Context) (*ErrorsResponse, error) {
	resp := ErrorsResponse{}
	if err := c.get(ctx, "/errors", http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health fetches the health check summary. A failing summary is a valid
// response, not an error: callers inspect Status themselves.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/healthz", nil)
	if err != nil {
		return nil, fmt.Errorf("could not build request: %w", err)
	}

	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not reach status server: %w", err)
	}
	defer httpResp.Body.Close()

	// Unhealthy servers answer 503 with the same payload.
	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusServiceUnavailable {
		return nil, fmt.Errorf("status server returned %s", httpResp.Status)
	}

	resp := HealthResponse{}
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("could not decode response: %w", err)
	}

	return &resp, nil
}

func (c *Client) get(ctx context.Context, path string, want int, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("could not build request: %w", err)
	}

	httpResp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("could not reach status server: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != want {
		return fmt.Errorf("status server returned %s", httpResp.Status)
	}

	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return fmt.Errorf("could not decode response: %w", err)
	}

	return nil
}
