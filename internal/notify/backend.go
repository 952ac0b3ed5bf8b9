// Package notify delivers canonical payloads to the backend application.
// Delivery is best-effort and at-most-once: failures are logged, never
// retried or queued.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/leandrotocalini/wagateway/internal/payload"
)

const (
	defaultTimeout = 10 * time.Second

	// breakerTrips is the number of consecutive failures that open the breaker.
	breakerTrips = 5
	// breakerCooldown is how long the breaker stays open before probing.
	breakerCooldown = 30 * time.Second
)

// ErrBackendDown is returned while the circuit breaker is open.
var ErrBackendDown = errors.New("backend circuit open")

// Sink receives canonical payloads.
type Sink interface {
	Notify(ctx context.Context, account string, p payload.Payload) error
}

// Backend posts payloads to the backend's update endpoint.
type Backend struct {
	url        string
	secret     string
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
	breaker    *gobreaker.CircuitBreaker[struct{}]
}

// Option configures a Backend.
type Option func(*Backend)

// WithHTTPClient sets a custom HTTP client (useful for testing).
func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) {
		b.httpClient = c
	}
}

// WithTimeout bounds each delivery attempt.
func WithTimeout(d time.Duration) Option {
	return func(b *Backend) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = l
	}
}

type envelope struct {
	Secret  string          `json:"secret"`
	Account string          `json:"uuid"`
	Data    payload.Payload `json:"data"`
}

// NewBackend creates a notifier posting to url with the shared secret.
func NewBackend(url, secret string, opts ...Option) *Backend {
	b := &Backend{
		url:        url,
		secret:     secret,
		httpClient: &http.Client{},
		timeout:    defaultTimeout,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    "backend",
		Timeout: breakerCooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= breakerTrips
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("backend breaker state change", "from", from.String(), "to", to.String())
		},
	})
	return b
}

// Notify posts one payload. The returned error is informational; callers
// must not retry.
func (b *Backend) Notify(ctx context.Context, account string, p payload.Payload) error {
	raw, err := json.Marshal(envelope{Secret: b.secret, Account: account, Data: p})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = b.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, b.post(ctx, raw)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		b.logger.Warn("backend unavailable, payload dropped", "account", account, "type", string(p.Type))
		return ErrBackendDown
	}
	if err != nil {
		b.logger.Error("backend notify failed", "account", account, "type", string(p.Type), "error", err)
		return err
	}

	b.logger.Debug("backend notified", "account", account, "type", string(p.Type))
	return nil
}

func (b *Backend) post(ctx context.Context, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("backend returned HTTP %d", resp.StatusCode)
	}
	return nil
}
