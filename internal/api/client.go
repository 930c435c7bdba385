package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/banshee-data/rssi.map/internal/httputil"
)

// DefaultClientTimeout bounds a rebuild request when no client is supplied.
const DefaultClientTimeout = 5 * time.Minute

// Client calls a running rssi-map service.
type Client struct {
	baseURL string
	http    httputil.HTTPClient
}

// NewClient returns a client for the service at baseURL. A nil hc uses an
// http.Client with DefaultClientTimeout.
func NewClient(baseURL string, hc httputil.HTTPClient) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: DefaultClientTimeout}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// Rebuild triggers POST /api/map/rebuild. A failed rebuild is returned as an
// error naming the step; the decoded response is returned either way when
// the server produced one.
func (c *Client) Rebuild(ctx context.Context) (*RebuildResponse, error) {
	var resp RebuildResponse
	status, err := c.do(ctx, http.MethodPost, "/api/map/rebuild", &resp)
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		if resp.Step != "" {
			return &resp, fmt.Errorf("rebuild failed at %s: %s", resp.Step, resp.Error)
		}
		return &resp, fmt.Errorf("rebuild failed (HTTP %d): %s", status, resp.Error)
	}
	return &resp, nil
}

// LatestEstimates fetches GET /api/estimates.
func (c *Client) LatestEstimates(ctx context.Context) (*EstimatesResponse, error) {
	var resp EstimatesResponse
	status, err := c.do(ctx, http.MethodGet, "/api/estimates", &resp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", status)
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, out interface{}) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return res.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return res.StatusCode, fmt.Errorf("failed to decode response (HTTP %d): %w", res.StatusCode, err)
	}
	return res.StatusCode, nil
}
