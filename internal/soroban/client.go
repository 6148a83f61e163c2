// Package soroban calls the platform's contract-deployment gateway, which
// registers each tenant on the Soroban ledger and returns the contract id.
package soroban

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to the contract-deployment gateway. The gateway is treated as
// an unreliable remote call: one bounded attempt, no implicit retry.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// DeployRequest is the gateway's deployment payload.
type DeployRequest struct {
	TenantID   uint   `json:"tenant_id"`
	TenantName string `json:"tenant_name"`
}

// DeployResponse carries the opaque contract reference.
type DeployResponse struct {
	ContractID string `json:"contract_id"`
}

// ErrorResponse represents a gateway error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewClient creates a gateway client with the given request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// Deploy registers the tenant on the ledger and returns the contract id.
func (c *Client) Deploy(ctx context.Context, tenantID uint, tenantName string) (string, error) {
	payload, err := json.Marshal(DeployRequest{TenantID: tenantID, TenantName: tenantName})
	if err != nil {
		return "", fmt.Errorf("marshal deploy request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/deployments", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build deploy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call deployment gateway: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read gateway response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		var errResp ErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			return "", fmt.Errorf("deployment gateway returned %d: %s", resp.StatusCode, errResp.Error)
		}
		return "", fmt.Errorf("deployment gateway returned %d", resp.StatusCode)
	}

	var deployResp DeployResponse
	if err := json.Unmarshal(body, &deployResp); err != nil {
		return "", fmt.Errorf("decode gateway response: %w", err)
	}
	if deployResp.ContractID == "" {
		return "", fmt.Errorf("deployment gateway returned empty contract id")
	}

	return deployResp.ContractID, nil
}
