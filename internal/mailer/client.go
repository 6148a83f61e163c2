// Package mailer sends admin notifications through the platform mail gateway.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Client talks to the mail gateway. Welcome sends can fail the caller;
// failure notices never do.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	log        *zap.Logger
}

// Message is the gateway's send payload.
type Message struct {
	To       string            `json:"to"`
	Template string            `json:"template"`
	Data     map[string]string `json:"data"`
}

// NewClient creates a mail gateway client with the given request timeout.
func NewClient(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// SendWelcome notifies the admin that the tenant is fully onboarded.
func (c *Client) SendWelcome(ctx context.Context, tenantName, adminEmail, adminName, tenantURL string) error {
	return c.send(ctx, Message{
		To:       adminEmail,
		Template: "tenant_welcome",
		Data: map[string]string{
			"tenant_name": tenantName,
			"admin_name":  adminName,
			"tenant_url":  tenantURL,
		},
	})
}

// SendFailure notifies the admin that provisioning failed. Errors are logged
// and swallowed: notification is a side channel, not part of the pipeline's
// correctness.
func (c *Client) SendFailure(ctx context.Context, adminEmail, tenantName, errorMessage string) {
	err := c.send(ctx, Message{
		To:       adminEmail,
		Template: "tenant_provisioning_failed",
		Data: map[string]string{
			"tenant_name": tenantName,
			"error":       errorMessage,
		},
	})
	if err != nil {
		c.log.Warn("Failure notification not delivered",
			zap.String("admin_email", adminEmail),
			zap.String("tenant_name", tenantName),
			zap.Error(err))
	}
}

func (c *Client) send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal mail message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/send", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("call mail gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("mail gateway returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}
