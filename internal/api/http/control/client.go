package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/zephyr-tools/internal/config"
	"github.com/oshokin/zephyr-tools/internal/queue"
	"github.com/oshokin/zephyr-tools/internal/version"
)

// Client calls a running control API.
type Client struct {
	// baseURL is the API root, e.g. http://127.0.0.1:7420.
	baseURL string
	// http performs the requests.
	http *http.Client

	// callTimeout is the default timeout for individual calls.
	callTimeout time.Duration
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for API calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// APIError is an error response returned by the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("control API %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// errAddressRequired is returned when no address is provided.
var errAddressRequired = errors.New("address must be provided")

// NewClient creates a client for address, given as host:port or a URL.
func NewClient(address string, opts ...Option) (*Client, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, errAddressRequired
	}

	baseURL := address
	if !strings.Contains(address, "://") {
		if _, _, err := net.SplitHostPort(address); err != nil {
			return nil, fmt.Errorf("invalid control address %q: %w", address, err)
		}

		baseURL = "http://" + address
	}

	client := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		http:        &http.Client{},
		callTimeout: config.DefaultTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// Health checks that the server answers.
func (c *Client) Health(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/healthz", nil)
}

// Status retrieves the queue and workspace status.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var response StatusResponse
	if err := c.call(ctx, http.MethodGet, "/v1/status", &response); err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}

	return &response, nil
}

// Command runs a named command. Queued commands return their batch ID.
func (c *Client) Command(ctx context.Context, name string) (*CommandResponse, error) {
	var response CommandResponse
	if err := c.call(ctx, http.MethodPost, "/v1/commands/"+name, &response); err != nil {
		return nil, fmt.Errorf("run %s: %w", name, err)
	}

	return &response, nil
}

// Batch retrieves a batch result.
func (c *Client) Batch(ctx context.Context, id uuid.UUID) (*queue.Result, error) {
	var response queue.Result
	if err := c.call(ctx, http.MethodGet, "/v1/batches/"+id.String(), &response); err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}

	return &response, nil
}

// WaitBatch polls a batch until it leaves the pending status or ctx is done.
func (c *Client) WaitBatch(ctx context.Context, id uuid.UUID, interval time.Duration) (*queue.Result, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		result, err := c.Batch(ctx, id)
		if err != nil {
			return nil, err
		}

		if result.Status != queue.StatusPending {
			return result, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Cancel stops queued work.
func (c *Client) Cancel(ctx context.Context) (*QueueStatus, error) {
	var response QueueStatus
	if err := c.call(ctx, http.MethodPost, "/v1/queue/cancel", &response); err != nil {
		return nil, fmt.Errorf("cancel queue: %w", err)
	}

	return &response, nil
}

// call performs one request and decodes the response into out when set.
func (c *Client) call(ctx context.Context, method, path string, out any) error {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, method, c.baseURL+path, http.NoBody)
	if err != nil {
		return err
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}

		var errResp ErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error.Code != "" {
			apiErr.Code = errResp.Error.Code
			apiErr.Message = errResp.Error.Message
		} else {
			apiErr.Message = string(bytes.TrimSpace(body))
		}

		return apiErr
	}

	if out == nil {
		return nil
	}

	if err = json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}
