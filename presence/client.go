package presence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client calls the presence tracker from other services (the gateway on
// join and cursor-move). Errors are soft for callers: presence must
// never block the edit path.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a tracker client with the service-to-service timeout.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Upsert posts a presence heartbeat.
func (c *Client) Upsert(ctx context.Context, documentID, userID string, req UpsertRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal presence payload: %w", err)
	}

	url := fmt.Sprintf("%s/presence/%s/%s", c.baseURL, documentID, userID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("presence upsert request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("presence upsert returned %d", resp.StatusCode)
	}
	return nil
}

// List fetches the document's active users.
func (c *Client) List(ctx context.Context, documentID string) ([]Record, error) {
	url := fmt.Sprintf("%s/presence/%s", c.baseURL, documentID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("presence list request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("presence list returned %d", resp.StatusCode)
	}

	var payload struct {
		Users []Record `json:"users"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode presence list: %w", err)
	}
	return payload.Users, nil
}
