package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// ErrNoFrame is returned by Frame before the daemon has decoded anything.
var ErrNoFrame = errors.New("no frame received yet")

// APIError carries the status code and message of a failed request.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Message)
}

// Client provides HTTP client functionality to communicate with the trunkwatch daemon
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Token   string       // Bearer token for commands when the daemon has auth enabled
	Logger  *slog.Logger // Optional logger for client operations
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:9180/api",
		Timeout: 60 * time.Second,
	}
}

// New creates a new trunkwatch API client
func New(config Config) *Client {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: config.BaseURL,
		token:   config.Token,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	_, err := c.Status(ctx)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	return true
}

// Status fetches the current status snapshot.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var s Status
	err := c.do(ctx, http.MethodGet, "/status", nil, &s)
	return s, err
}

// Frame fetches the latest decoded frame.
func (c *Client) Frame(ctx context.Context) (Frame, error) {
	var f Frame
	err := c.do(ctx, http.MethodGet, "/frame", nil, &f)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return f, ErrNoFrame
	}
	return f, err
}

// Command sends start, stop, restart, reset or shutdown. With wait the call
// returns once the daemon has applied it, bounded by timeout (0 uses the
// daemon default); without wait it returns as soon as it is queued.
func (c *Client) Command(ctx context.Context, name string, wait bool, timeout time.Duration) (CommandResult, error) {
	c.logger.Debug("Sending command", "command", name, "wait", wait)
	q := url.Values{}
	if !wait {
		q.Set("wait", "false")
	} else if timeout > 0 {
		q.Set("timeout", timeout.String())
	}
	var res CommandResult
	err := c.do(ctx, http.MethodPost, "/commands/"+url.PathEscape(name), q, &res)
	return res, err
}

// KillOrphans asks the daemon to terminate stray decoder processes and
// returns the PIDs it killed.
func (c *Client) KillOrphans(ctx context.Context) ([]int, error) {
	var res struct {
		Killed []int `json:"killed"`
	}
	err := c.do(ctx, http.MethodPost, "/orphans/kill", nil, &res)
	return res.Killed, err
}

// do performs HTTP request with common error handling
func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.token != "" && method != http.MethodGet {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "url", u)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.handleErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var errorResp ErrorResponse
	if err := json.Unmarshal(body, &errorResp); err != nil {
		c.logger.Debug("Failed to decode error response", "status", resp.StatusCode)
		return &APIError{Status: resp.StatusCode}
	}
	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return &APIError{Status: resp.StatusCode, Message: errorResp.Error}
}
