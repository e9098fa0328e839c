package apierrors

import (
	"fmt"
	"time"
)

// KongAPIError is a non-2xx response from the Kong Admin API.
type KongAPIError struct {
	Status                int
	StatusText            string
	Message               string
	IsInfrastructureError bool
}

func (e *KongAPIError) Error() string {
	return e.Message
}

// statusMessages maps well-known admin API statuses to operator-facing
// messages.
var statusMessages = map[int]string{
	400: "Kong Admin API rejected the request",
	401: "Kong Admin API token is invalid or missing",
	403: "Kong Admin API token is not authorized for this operation",
	404: "Consumer or credential not found",
	409: "Resource already exists",
	422: "Kong Admin API could not process the request payload",
	429: "Kong Admin API rate limit exceeded",
	500: "Kong Admin API internal error",
	502: "Kong Admin API gateway error",
	503: "Kong Admin API unavailable",
	504: "Kong Admin API gateway timeout",
}

// NewKongAPIError materializes a typed error from a response status and
// body. The message falls back to "<status> <statusText> - <body>" for
// statuses outside the table.
func NewKongAPIError(status int, statusText, body string) *KongAPIError {
	message, ok := statusMessages[status]
	if !ok {
		message = fmt.Sprintf("%d %s - %s", status, statusText, body)
	}
	return &KongAPIError{
		Status:                status,
		StatusText:            statusText,
		Message:               message,
		IsInfrastructureError: IsInfrastructureStatus(status),
	}
}

// TimeoutError reports an operation that exceeded its configured deadline.
type TimeoutError struct {
	Operation string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation %s timed out after %s", e.Operation, e.Timeout)
}

// ConfigError reports an invalid configuration at construction time. It is
// returned synchronously by the constructors that validate configuration.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration for %s: %s", e.Field, e.Reason)
}
