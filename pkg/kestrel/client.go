// Package kestrel provides a Go SDK for the kestrel trader API.
package kestrel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"kestrel/internal/domain"
	"kestrel/internal/engine"
	"kestrel/internal/httpapi"
)

// Client talks to a running kestrel-trader instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the API at baseURL (e.g.
// "http://127.0.0.1:8480").
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Status returns the engine's per-symbol lane state and latest snapshot.
func (c *Client) Status(ctx context.Context) (*engine.Status, error) {
	var resp httpapi.StatusResponse
	if err := c.get(ctx, "/api/v1/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Status, nil
}

// Portfolio returns the current portfolio snapshot.
func (c *Client) Portfolio(ctx context.Context) (*domain.PortfolioSnapshot, error) {
	var resp httpapi.PortfolioResponse
	if err := c.get(ctx, "/api/v1/portfolio", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Snapshot, nil
}

// Orders lists orders, optionally filtered by status.
func (c *Client) Orders(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	params := url.Values{}
	if status != "" {
		params.Set("status", string(status))
	}
	var resp httpapi.OrdersResponse
	if err := c.get(ctx, "/api/v1/orders", params, &resp); err != nil {
		return nil, err
	}
	return resp.Orders, nil
}

// Order returns a single order with its fills.
func (c *Client) Order(ctx context.Context, id string) (*domain.Order, []domain.Fill, error) {
	var resp httpapi.OrderResponse
	if err := c.get(ctx, "/api/v1/orders/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, nil, err
	}
	return &resp.Order, resp.Fills, nil
}

// Signals lists recorded signals, newest first. strategy filters by strategy
// name when non-empty; limit caps the result (0 uses the server default).
func (c *Client) Signals(ctx context.Context, strategy string, limit int) ([]domain.Signal, error) {
	params := url.Values{}
	if strategy != "" {
		params.Set("strategy", strategy)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var resp httpapi.SignalsResponse
	if err := c.get(ctx, "/api/v1/signals", params, &resp); err != nil {
		return nil, err
	}
	return resp.Signals, nil
}

// Stop requests a graceful engine shutdown.
func (c *Client) Stop(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/stop", nil)
	if err != nil {
		return err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return apiError(res)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return apiError(res)
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func apiError(res *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return fmt.Errorf("api: %s (%d)", e.Error, res.StatusCode)
	}
	return fmt.Errorf("api: unexpected status %d", res.StatusCode)
}
