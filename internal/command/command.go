// Package command forwards spoken command identifiers to a remote automation
// receiver.
//
// [Client.Send] POSTs {"command": id} as JSON to the configured endpoint. The
// receiver's response body is logged; failures are returned to the caller but
// are never fatal to the listening pipeline. Every send is guarded by a
// [resilience.Breaker] so an unreachable receiver is not hammered with
// requests. Sends are never retried.
package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/livewhisper/internal/observe"
	"github.com/MrWong99/livewhisper/internal/resilience"
)

// DefaultTimeout bounds a single command request.
const DefaultTimeout = 2 * time.Second

// maxLoggedBody caps how much of the receiver's response is logged.
const maxLoggedBody = 4096

// Sender delivers a command identifier to a remote receiver.
type Sender interface {
	Send(ctx context.Context, id string) error
}

var _ Sender = (*Client)(nil)

// Option configures a [Client].
type Option func(*Client)

// WithTimeout overrides the per-request timeout. Defaults to [DefaultTimeout].
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *Client) {
		c.breaker = b
	}
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// Client sends commands over HTTP.
type Client struct {
	endpoint   string
	httpClient *http.Client
	breaker    *resilience.Breaker
	metrics    *observe.Metrics
}

// New creates a Client posting to endpoint.
func New(endpoint string, opts ...Option) (*Client, error) {
	if endpoint == "" {
		return nil, errors.New("command: endpoint must not be empty")
	}
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	if c.breaker == nil {
		c.breaker = resilience.NewBreaker(resilience.BreakerConfig{Name: "command"})
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c, nil
}

// Send posts id to the receiver. The returned error describes a transport
// failure, a non-2xx response, or an open breaker.
func (c *Client) Send(ctx context.Context, id string) error {
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		return c.post(ctx, id)
	})
	switch {
	case err == nil:
		c.metrics.RecordCommand(ctx, id, "ok")
	case errors.Is(err, resilience.ErrCircuitOpen):
		c.metrics.RecordCommand(ctx, id, "rejected")
		return fmt.Errorf("command: send %q: %w", id, err)
	default:
		c.metrics.RecordCommand(ctx, id, "error")
		return err
	}
	return nil
}

func (c *Client) post(ctx context.Context, id string) error {
	payload, err := json.Marshal(struct {
		Command string `json:"command"`
	}{Command: id})
	if err != nil {
		return fmt.Errorf("command: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("command: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("command: send %q: %w", id, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxLoggedBody))
	text := strings.TrimSpace(string(body))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("command: send %q: receiver returned HTTP %d: %s", id, resp.StatusCode, text)
	}
	slog.InfoContext(ctx, "command: response", "command", id, "status", resp.StatusCode, "body", text)
	return nil
}
