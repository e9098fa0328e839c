package kong

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"auth-service/internal/apierrors"
	"auth-service/internal/config"
	"auth-service/internal/logger"
	"auth-service/internal/metrics"
	"auth-service/internal/models"
)

// AdminClient is the Kong Admin API adapter. It speaks to either a
// gateway or a Konnect control plane through the configured strategy.
type AdminClient struct {
	mode      string
	strategy  Strategy
	transport *transport
}

// NewAdminClient validates the mode and admin URL at construction.
func NewAdminClient(cfg config.KongConfig) (*AdminClient, error) {
	var strategy Strategy
	switch cfg.Mode {
	case config.ModeAPIGateway:
		strategy = NewGatewayStrategy(cfg.AdminURL, cfg.AdminToken)
	case config.ModeKonnect:
		konnect, err := NewKonnectStrategy(cfg.AdminURL, cfg.AdminToken)
		if err != nil {
			return nil, err
		}
		strategy = konnect
	default:
		return nil, &apierrors.ConfigError{
			Field:  "kong.mode",
			Reason: fmt.Sprintf("unknown mode %q", cfg.Mode),
		}
	}

	return &AdminClient{
		mode:      cfg.Mode,
		strategy:  strategy,
		transport: newTransport(strategy.AuthHeaders),
	}, nil
}

// Strategy exposes the active mode strategy.
func (c *AdminClient) Strategy() Strategy {
	return c.strategy
}

// FetchConsumerSecret lists the consumer's JWT credentials and returns the
// first valid one. A missing consumer surfaces as a typed 404 so callers
// can classify it; an empty listing returns nil.
func (c *AdminClient) FetchConsumerSecret(ctx context.Context, consumerID string) (*models.ConsumerSecret, error) {
	if err := c.strategy.EnsurePrerequisites(ctx); err != nil {
		return nil, err
	}

	resolved, err := c.strategy.ResolveConsumerID(ctx, consumerID)
	if err != nil {
		return nil, err
	}
	if resolved == "" {
		return nil, errorFromResponse(http.StatusNotFound, nil)
	}

	status, body, err := c.request(ctx, "getConsumerSecret", http.MethodGet, c.strategy.BuildConsumerURL(resolved), nil)
	if err != nil {
		return nil, err
	}
	if !apierrors.IsSuccessResponse(status) {
		return nil, errorFromResponse(status, body)
	}

	return ExtractConsumerSecret(body), nil
}

// CreateConsumerSecret provisions a fresh JWT credential for the consumer.
func (c *AdminClient) CreateConsumerSecret(ctx context.Context, consumerID string) (*models.ConsumerSecret, error) {
	if err := c.strategy.EnsurePrerequisites(ctx); err != nil {
		return nil, err
	}

	resolved, err := c.strategy.ResolveConsumerID(ctx, consumerID)
	if err != nil {
		return nil, err
	}
	if resolved == "" {
		return nil, errorFromResponse(http.StatusNotFound, nil)
	}

	payload := map[string]string{
		"key":    GenerateJWTKey(),
		"secret": GenerateSecureSecret(),
	}
	status, body, err := c.request(ctx, "createConsumerSecret", http.MethodPost, c.strategy.BuildConsumerURL(resolved), payload)
	if err != nil {
		return nil, err
	}
	if !apierrors.IsSuccessResponse(status) {
		return nil, errorFromResponse(status, body)
	}

	var created models.ConsumerSecret
	if jsonErr := json.Unmarshal(body, &created); jsonErr != nil || created.Validate() != nil {
		logger.WithComponent(ctx, "kong_client", "createConsumerSecret").
			Warn("Credential create response did not match the expected schema")
		return nil, nil
	}
	return &created, nil
}

// HealthCheck probes the admin API and returns the round-trip time.
func (c *AdminClient) HealthCheck(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	status, body, err := c.request(ctx, "healthCheck", http.MethodGet, c.strategy.BuildHealthURL(), nil)
	elapsed := time.Since(start)
	if err != nil {
		return elapsed, err
	}
	if !apierrors.IsSuccessResponse(status) {
		return elapsed, errorFromResponse(status, body)
	}
	return elapsed, nil
}

// request delegates to the transport and records the request metric.
func (c *AdminClient) request(ctx context.Context, operation, method, url string, payload interface{}) (int, []byte, error) {
	start := time.Now()
	status, body, err := c.transport.do(ctx, method, url, payload)
	elapsed := time.Since(start)

	statusLabel := "error"
	if err == nil {
		statusLabel = strconv.Itoa(status)
	}
	metrics.RecordKongRequest(operation, statusLabel, elapsed)
	return status, body, err
}
