package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shivanshkc/byteevents/pkg/httpx"
)

// Retry policy of every request.
const (
	maxAttempts = 20
	retryDelay  = 50 * time.Millisecond
)

// Client represents a byte event server client.
type Client struct {
	baseURL    string
	httpClient *httpx.RetryClient
}

// NewClient returns a new Client instance.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &httpx.RetryClient{Client: &http.Client{}},
	}
}

// Ping calls the /ping API and returns the round trip time.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	endpoint, err := url.JoinPath(c.baseURL, "ping")
	if err != nil {
		return 0, fmt.Errorf("failed to form API endpoint URL: %w", err)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	start := time.Now()
	response, err := c.httpClient.DoRetry(httpRequest, maxAttempts, retryDelay)
	if err != nil {
		return 0, fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer func() { _ = response.Body.Close() }()

	body, err := io.ReadAll(response.Body)
	rtt := time.Since(start)
	if err != nil {
		return 0, fmt.Errorf("failed to read response body: %w", err)
	}
	if response.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status code: %d, body: %s", response.StatusCode, string(body))
	}
	return rtt, nil
}

// Stream is a wrapper for the /stream API.
//
// Events whose data does not have the requested size carry an error.
func (c *Client) Stream(ctx context.Context, req StreamRequest) (<-chan httpx.Event, error) {
	endpoint, err := url.JoinPath(c.baseURL, "stream")
	if err != nil {
		return nil, fmt.Errorf("failed to form API endpoint URL: %w", err)
	}
	if query := req.query(); len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpRequest.Header.Set("Accept", "text/event-stream")

	// Execute request with retries.
	response, err := c.httpClient.DoRetry(httpRequest, maxAttempts, retryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to execute HTTP request: %w", err)
	}

	// In case of error, return the status code with the body.
	if response.StatusCode != http.StatusOK {
		defer func() { _ = response.Body.Close() }()
		responseBody, err := io.ReadAll(response.Body)
		if err != nil {
			responseBody = []byte("failed to read response body: " + err.Error())
		}
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", response.StatusCode, string(responseBody))
	}

	// The reader owns the body from here.
	sseChan := httpx.ReadEvents(ctx, response.Body)

	eventChan := make(chan httpx.Event, 100)
	go func() {
		defer close(eventChan)
		for event := range sseChan {
			eventChan <- checkEvent(event, req.Size)
		}
	}()

	return eventChan, nil
}

// checkEvent flags events whose data does not have the expected size.
func checkEvent(event httpx.Event, size int) httpx.Event {
	if event.Error != nil {
		event.Error = fmt.Errorf("failed to read server-sent event: %w", event.Error)
		return event
	}
	if size > 0 && len(event.Data) != size {
		event.Error = fmt.Errorf("event %d has %d data bytes, expected %d", event.Index, len(event.Data), size)
	}
	return event
}
