package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nxtg-ai/forge-sync/internal/model"
)

// GetDashboardState fetches the full state snapshot: the polling equivalent
// of everything the push channel delivers incrementally.
func (c *Client) GetDashboardState(ctx context.Context) (*model.DashboardState, error) {
	body, err := c.doWithRetry(ctx, http.MethodGet, "/api/v1/state", nil)
	if err != nil {
		return nil, fmt.Errorf("get dashboard state: %w", err)
	}

	state, err := model.DecodeDashboardState(body)
	if err != nil {
		return nil, fmt.Errorf("decode dashboard state: %w", err)
	}

	return &state, nil
}

// healthResponse is the wire shape of the server's health endpoint.
type healthResponse struct {
	Status string `json:"status"`
}

// Healthy reports whether the dashboard server answers its health endpoint.
func (c *Client) Healthy(ctx context.Context) (bool, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/api/v1/health", nil)
	if err != nil {
		return false, err
	}

	var h healthResponse
	if err := json.Unmarshal(body, &h); err != nil {
		return false, fmt.Errorf("parse health response: %w", err)
	}
	return h.Status == "ok", nil
}
