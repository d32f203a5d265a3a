package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client calls the external notification dispatch service. The service
// owns the actual push/SMS/WhatsApp transports; this client only hands
// over requests.
type Client struct {
	baseURL string
	http    *http.Client
	skip    bool
}

// NewClient creates a client. skip short-circuits delivery for dev
// environments without a dispatch service.
func NewClient(baseURL string, skip bool) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		skip:    skip,
	}
}

// Health checks the dispatch service.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("notification service unhealthy: %d", resp.StatusCode)
	}
	return nil
}

// Deliver posts one event to the dispatch service.
func (c *Client) Deliver(ctx context.Context, evt Event) error {
	if c.skip {
		return nil
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/notifications", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notification dispatch failed: %d: %s", resp.StatusCode, msg)
	}
	return nil
}
