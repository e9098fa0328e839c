package kong

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"auth-service/internal/apierrors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const (
	userAgent      = "Authentication-Service/1.0"
	requestTimeout = 5 * time.Second
)

// Strategy abstracts the two Kong Admin API deployment modes. URL shapes,
// auth headers, consumer id resolution, and prerequisite provisioning all
// differ between a self-hosted gateway and a hosted Konnect control plane.
type Strategy interface {
	BuildConsumerURL(consumerID string) string
	BuildHealthURL() string
	AuthHeaders() map[string]string
	ResolveConsumerID(ctx context.Context, id string) (string, error)
	EnsurePrerequisites(ctx context.Context) error
}

// transport is the shared HTTP plumbing for admin API calls: auth headers,
// JSON bodies, per-request deadline, and W3C trace context propagation.
type transport struct {
	httpClient *http.Client
	headers    func() map[string]string
}

func newTransport(headers func() map[string]string) *transport {
	return &transport{
		httpClient: &http.Client{Timeout: requestTimeout},
		headers:    headers,
	}
}

// do performs one admin API request and returns the status and body.
// Transport-level failures return an error; non-2xx statuses do not.
func (t *transport) do(ctx context.Context, method, url string, payload interface{}) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, url, body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}
	for key, value := range t.headers() {
		req.Header.Set(key, value)
	}
	otel.GetTextMapPropagator().Inject(reqCtx, propagation.HeaderCarrier(req.Header))

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, responseBody, nil
}

// errorFromResponse materializes a typed admin API error for a non-2xx
// response.
func errorFromResponse(status int, body []byte) *apierrors.KongAPIError {
	return apierrors.NewKongAPIError(status, http.StatusText(status), string(body))
}
