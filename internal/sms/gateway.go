package sms

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

	"selfcare/pkg/platform/circuit"
)

// ErrCircuitOpen wraps delivery failures while the gateway breaker is open,
// so operators can tell a dead aggregator from a one-off timeout in logs.
var ErrCircuitOpen = errors.New("sms gateway circuit open")

// GatewayConfig configures the HTTP SMS gateway provider.
type GatewayConfig struct {
	URL     string
	APIKey  string
	Sender  string
	Timeout time.Duration
	// Retries is the number of delivery attempts for transient failures.
	Retries int
	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
}

// DefaultGatewayConfig returns delivery settings suitable for the national
// SMS aggregator: short timeout, one retry.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Timeout:    5 * time.Second,
		Retries:    2,
		RetryDelay: 500 * time.Millisecond,
	}
}

// Gateway sends messages through a JSON-over-HTTP SMS aggregator API.
type Gateway struct {
	cfg     GatewayConfig
	client  *http.Client
	logger  *slog.Logger
	breaker *circuit.Breaker
}

func NewGateway(cfg GatewayConfig, logger *slog.Logger) *Gateway {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultGatewayConfig().Timeout
	}
	if cfg.Retries == 0 {
		cfg.Retries = DefaultGatewayConfig().Retries
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = DefaultGatewayConfig().RetryDelay
	}
	return &Gateway{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
		breaker: circuit.New("sms-gateway"),
	}
}

type gatewayRequest struct {
	To      string `json:"to"`
	From    string `json:"from,omitempty"`
	Message string `json:"message"`
}

// Send posts the message to the gateway, retrying transient failures. A 4xx
// response is not retried: the request itself is wrong and resending the
// same payload cannot help.
func (g *Gateway) Send(ctx context.Context, phone, message string) error {
	body, err := json.Marshal(gatewayRequest{To: phone, From: g.cfg.Sender, Message: message})
	if err != nil {
		return fmt.Errorf("encode sms request: %w", err)
	}

	// While the circuit is open, a single probe decides: no retries against
	// a gateway we already believe is down.
	retries := g.cfg.Retries
	if g.breaker.IsOpen() {
		retries = 1
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(g.cfg.RetryDelay):
			}
		}

		lastErr = g.post(ctx, body)
		if lastErr == nil {
			if _, change := g.breaker.RecordSuccess(); change.Closed {
				g.logger.InfoContext(ctx, "sms gateway circuit closed")
			}
			return nil
		}
		var permanent *permanentError
		if errors.As(lastErr, &permanent) {
			// A rejected payload says nothing about gateway health.
			return lastErr
		}
		g.logger.WarnContext(ctx, "sms delivery attempt failed",
			"attempt", attempt+1,
			"error", lastErr,
		)
	}

	if _, change := g.breaker.RecordFailure(); change.Opened {
		g.logger.ErrorContext(ctx, "sms gateway circuit opened", "error", lastErr)
	}
	if g.breaker.IsOpen() {
		return fmt.Errorf("%w: %w", ErrCircuitOpen, lastErr)
	}
	return lastErr
}

func (g *Gateway) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms gateway request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &permanentError{status: resp.StatusCode}
	default:
		return fmt.Errorf("sms gateway returned status %d", resp.StatusCode)
	}
}

type permanentError struct {
	status int
}

func (e *permanentError) Error() string {
	return fmt.Sprintf("sms gateway rejected request with status %d", e.status)
}
