// Package gateway talks to the Razorpay-compatible payment gateway and
// verifies the signatures it hands back.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"venfurneer-orders/config"
	"venfurneer-orders/internal/models"
	"venfurneer-orders/internal/util"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Intent is the remote payment order created at the gateway. The client
// hands its ID to the payment UI.
type Intent struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type intentRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

// Client creates payment intents at the gateway. Credentials are injected
// and the secret is never logged.
type Client struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
	keyID   string
	logger  *zap.Logger
}

// NewClient creates a gateway client with a bounded timeout and a circuit
// breaker in front of the remote API.
func NewClient(cfg config.GatewayConfig) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetBasicAuth(cfg.KeyID, cfg.KeySecret).
		SetTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second).
		SetRetryCount(0)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: 3,
		Interval:    15 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			util.GetLogger().Info("Gateway circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Client{
		http:    httpClient,
		breaker: breaker,
		keyID:   cfg.KeyID,
		logger:  util.GetLogger(),
	}
}

// KeyID returns the public key id the payment UI needs.
func (c *Client) KeyID() string {
	return c.keyID
}

// CreateIntent creates a remote payment order for amountPaise (smallest
// currency unit, caller converts). Network and auth failures surface as
// models.ErrGatewayUnavailable, deadline overruns as models.ErrGatewayTimeout;
// both are retryable from the caller's point of view.
func (c *Client) CreateIntent(ctx context.Context, amountPaise int64, currency, receipt string, notes map[string]string) (*Intent, error) {
	if amountPaise <= 0 {
		return nil, fmt.Errorf("%w: %d", models.ErrInvalidAmount, amountPaise)
	}

	start := time.Now()
	defer func() {
		util.GatewayRequestLatency.Observe(time.Since(start).Seconds())
	}()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		var intent Intent
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(intentRequest{
				Amount:   amountPaise,
				Currency: currency,
				Receipt:  receipt,
				Notes:    notes,
			}).
			SetResult(&intent).
			Post("/v1/orders")
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, fmt.Errorf("gateway returned status %d", resp.StatusCode())
		}
		return &intent, nil
	})

	if err != nil {
		return nil, c.mapError(err, receipt)
	}

	return result.(*Intent), nil
}

func (c *Client) mapError(err error, receipt string) error {
	c.logger.Warn("Gateway intent creation failed",
		zap.String("receipt", receipt),
		zap.Error(err))

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: circuit open", models.ErrGatewayUnavailable)
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", models.ErrGatewayTimeout, err)
	}

	return fmt.Errorf("%w: %v", models.ErrGatewayUnavailable, err)
}
