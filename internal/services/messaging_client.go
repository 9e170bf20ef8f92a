package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// HTTPMessagingClient sends email and SMS through the messaging gateway's
// HTTP API. A shared circuit breaker keeps a flapping gateway from stalling
// every automation fan-out behind full timeouts.
type HTTPMessagingClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

var (
	_ EmailSender = (*HTTPMessagingClient)(nil)
	_ SMSSender   = (*HTTPMessagingClient)(nil)
)

// NewHTTPMessagingClient creates a new HTTPMessagingClient.
func NewHTTPMessagingClient(baseURL, apiKey string) *HTTPMessagingClient {
	return &HTTPMessagingClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "messaging-gateway",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

type sendResponse struct {
	ExternalID string `json:"external_id"`
}

// SendEmail submits an email to the gateway and returns its external id.
func (c *HTTPMessagingClient) SendEmail(ctx context.Context, to, subject, body string) (string, error) {
	return c.send(ctx, "/v1/email", map[string]string{
		"to":      to,
		"subject": subject,
		"body":    body,
	})
}

// SendSMS submits an SMS to the gateway and returns its external id.
func (c *HTTPMessagingClient) SendSMS(ctx context.Context, to, body string) (string, error) {
	return c.send(ctx, "/v1/sms", map[string]string{
		"to":   to,
		"body": body,
	})
}

func (c *HTTPMessagingClient) send(ctx context.Context, path string, payload map[string]string) (string, error) {
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(requestBody))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to make request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
			return nil, fmt.Errorf("messaging gateway returned status %d", resp.StatusCode)
		}

		var sr sendResponse
		if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
			return nil, fmt.Errorf("failed to decode response body: %w", err)
		}
		return sr.ExternalID, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}
