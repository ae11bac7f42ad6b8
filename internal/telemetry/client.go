package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/loykin/trunkwatch/internal/latest"
	"github.com/loykin/trunkwatch/internal/metrics"
)

const (
	DefaultPollInterval        = 500 * time.Millisecond
	DefaultConnectTimeout      = 5 * time.Second
	DefaultDegradedThreshold   = 3
	DefaultDisconnectThreshold = 5

	maxBodyBytes = 1 << 20
)

// Config controls polling cadence and the failure thresholds.
type Config struct {
	URL                 string        `json:"url" mapstructure:"url"`
	Protocol            string        `json:"protocol" mapstructure:"protocol"`
	PollInterval        time.Duration `json:"poll_interval" mapstructure:"poll_interval"`
	ConnectTimeout      time.Duration `json:"connect_timeout" mapstructure:"connect_timeout"`
	DegradedThreshold   int           `json:"degraded_threshold" mapstructure:"degraded_threshold"`
	DisconnectThreshold int           `json:"disconnect_threshold" mapstructure:"disconnect_threshold"`
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.DegradedThreshold <= 0 {
		c.DegradedThreshold = DefaultDegradedThreshold
	}
	if c.DisconnectThreshold <= 0 {
		c.DisconnectThreshold = DefaultDisconnectThreshold
	}
	return c
}

// Validate reports configuration that would make the state machine meaningless.
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.New("telemetry url is required")
	}
	if _, err := ProtocolByName(c.Protocol); err != nil {
		return err
	}
	c = c.withDefaults()
	if c.DisconnectThreshold <= c.DegradedThreshold {
		return fmt.Errorf("disconnect_threshold (%d) must be greater than degraded_threshold (%d)", c.DisconnectThreshold, c.DegradedThreshold)
	}
	return nil
}

// Gate reports whether the decoder is in a pollable state and an epoch that
// changes every time it (re)enters that state.
type Gate func() (running bool, epoch uint64)

// Stats is a point-in-time copy of the client's counters.
type Stats struct {
	State               ConnectionState `json:"state"`
	ConsecutiveFailures int             `json:"consecutive_failures"`
	TotalPolls          uint64          `json:"total_polls"`
	TotalFailures       uint64          `json:"total_failures"`
	LastError           string          `json:"last_error,omitempty"`
	LastSuccess         time.Time       `json:"last_success,omitempty"`
	FailingSince        time.Time       `json:"failing_since,omitempty"`
}

// Client polls the decoder and publishes the latest frame into a single-slot cell.
type Client struct {
	cfg    Config
	proto  Protocol
	http   *http.Client
	log    *slog.Logger
	gate   Gate
	frames *latest.Cell[Frame]
	now    func() time.Time

	mu    sync.RWMutex
	stats Stats
	epoch uint64
}

type Option func(*Client)

func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.log = l } }

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithGate restricts polling to periods where gate reports the decoder running.
func WithGate(g Gate) Option { return func(c *Client) { c.gate = g } }

// WithCell publishes frames into a cell owned by the caller.
func WithCell(cell *latest.Cell[Frame]) Option { return func(c *Client) { c.frames = cell } }

func withClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }

func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	proto, _ := ProtocolByName(cfg.Protocol)
	c := &Client{
		cfg:   cfg,
		proto: proto,
		log:   slog.Default(),
		gate:  func() (bool, uint64) { return true, 0 },
		now:   time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: cfg.ConnectTimeout}
	}
	if c.frames == nil {
		c.frames = &latest.Cell[Frame]{}
	}
	c.log = c.log.With("component", "telemetry", "url", cfg.URL, "protocol", proto.Name())
	c.stats.State = Disconnected
	return c, nil
}

// LatestFrame returns the most recent successfully parsed frame. It never blocks
// on the network and reports false until the first successful poll.
func (c *Client) LatestFrame() (Frame, bool) { return c.frames.Load() }

func (c *Client) ConnectionState() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats.State
}

func (c *Client) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// UnreachableFor is how long the current run of consecutive failures has lasted.
func (c *Client) UnreachableFor(now time.Time) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stats.ConsecutiveFailures == 0 || c.stats.FailingSince.IsZero() {
		return 0
	}
	return now.Sub(c.stats.FailingSince)
}

// Run polls every PollInterval until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	c.log.Debug("polling started", "interval", c.cfg.PollInterval)
	for {
		c.PollOnce(ctx)
		select {
		case <-ctx.Done():
			c.log.Debug("polling stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// PollOnce performs a single poll when the gate allows it and updates state.
func (c *Client) PollOnce(ctx context.Context) {
	running, epoch := c.gate()
	if !running {
		c.idle()
		return
	}
	c.beginAttempt(epoch)

	frame, err := c.fetch(ctx)
	if ctx.Err() != nil {
		return // shutting down; not a decoder failure
	}
	if err != nil {
		c.recordFailure(err)
		return
	}
	c.frames.Store(frame)
	c.recordSuccess()
}

func (c *Client) fetch(ctx context.Context) (Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()
	req, err := c.proto.NewRequest(ctx, c.cfg.URL)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return Frame{}, statusError{code: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Frame{}, fmt.Errorf("%w: read body: %v", ErrNetworkUnavailable, err)
	}
	return c.proto.Decode(body, c.now())
}

// idle drops to Disconnected while the decoder is not running. The last frame is kept.
func (c *Client) idle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stats.State == Disconnected && c.stats.ConsecutiveFailures == 0 {
		return
	}
	c.stats.ConsecutiveFailures = 0
	c.stats.FailingSince = time.Time{}
	c.setStateLocked(Disconnected, "decoder not running")
	metrics.SetConsecutiveFailures(0)
}

func (c *Client) beginAttempt(epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		// decoder was relaunched: failures of the previous instance do not count
		c.epoch = epoch
		c.stats.ConsecutiveFailures = 0
		c.stats.FailingSince = time.Time{}
		if c.stats.State != Disconnected {
			c.setStateLocked(Disconnected, "decoder relaunched")
		}
	}
	c.stats.TotalPolls++
	if c.stats.State == Disconnected {
		c.setStateLocked(Connecting, "")
	}
}

func (c *Client) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.ConsecutiveFailures = 0
	c.stats.FailingSince = time.Time{}
	c.stats.LastError = ""
	c.stats.LastSuccess = c.now()
	c.setStateLocked(Connected, "")
	metrics.IncPoll("ok")
	metrics.SetConsecutiveFailures(0)
}

func (c *Client) recordFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.ConsecutiveFailures++
	c.stats.TotalFailures++
	c.stats.LastError = err.Error()
	if c.stats.ConsecutiveFailures == 1 {
		c.stats.FailingSince = c.now()
	}
	n := c.stats.ConsecutiveFailures

	result := "network"
	var se statusError
	switch {
	case errors.Is(err, ErrMalformedPayload):
		result = "malformed"
	case errors.As(err, &se):
		result = "status"
	}
	metrics.IncPoll(result)
	metrics.SetConsecutiveFailures(n)
	c.log.Debug("poll failed", "error", err, "consecutive_failures", n)

	switch {
	case n >= c.cfg.DisconnectThreshold:
		c.setStateLocked(Disconnected, err.Error())
	case n >= c.cfg.DegradedThreshold && (c.stats.State == Connected || c.stats.State == Degraded):
		c.setStateLocked(Degraded, err.Error())
	}
}

func (c *Client) setStateLocked(to ConnectionState, reason string) {
	from := c.stats.State
	if from == to {
		return
	}
	c.stats.State = to
	metrics.SetConnectionState(from.String(), to.String())
	attrs := []any{"from", from.String(), "to", to.String(), "consecutive_failures", c.stats.ConsecutiveFailures}
	if reason != "" {
		attrs = append(attrs, "reason", reason)
	}
	retrying := c.stats.ConsecutiveFailures > 0 &&
		((from == Disconnected && to == Connecting) || (from == Connecting && to == Disconnected))
	switch {
	case retrying:
		c.log.Debug("connection state changed", attrs...)
	case to == Disconnected || to == Degraded:
		c.log.Warn("connection state changed", attrs...)
	default:
		c.log.Info("connection state changed", attrs...)
	}
}

// statusError is a non-2xx reply; it counts as the endpoint being unavailable.
type statusError struct{ code int }

func (e statusError) Error() string {
	return fmt.Sprintf("%v: status %d", ErrNetworkUnavailable, e.code)
}
func (e statusError) Unwrap() error { return ErrNetworkUnavailable }
