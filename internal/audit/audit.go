package audit

import (
	"context"
	"time"

	"auth-service/internal/logger"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Event represents a security audit event
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Service   string         `json:"service"`
	Action    Action         `json:"action"`
	Resource  string         `json:"resource,omitempty"`
	Outcome   Outcome        `json:"outcome"`
	RiskScore float64        `json:"risk_score"`
	Details   map[string]any `json:"details,omitempty"`
	ErrorMsg  string         `json:"error_message,omitempty"`
}

// Outcome represents the outcome of an audited action
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeBlocked Outcome = "blocked"
)

// Action represents different types of auditable actions
type Action string

const (
	ActionTokenIssued         Action = "token_issued"
	ActionCredentialFetched   Action = "credential_fetched"
	ActionCredentialCreated   Action = "credential_created"
	ActionCacheCleared        Action = "cache_cleared"
	ActionPollutionPrevented  Action = "cache_pollution_prevention"
	ActionStaleFallbackServed Action = "stale_fallback_served"
	ActionRateLimitExceeded   Action = "rate_limit_exceeded"
)

const serviceName = "authentication-service"

// LogEvent logs an audit event as a single structured line.
func LogEvent(ctx context.Context, event *Event) {
	event.Service = serviceName
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	entry := logger.WithContext(ctx).WithFields(logrus.Fields{
		"audit_id":   event.ID,
		"service":    event.Service,
		"action":     event.Action,
		"resource":   event.Resource,
		"outcome":    event.Outcome,
		"risk_score": event.RiskScore,
	})
	if len(event.Details) > 0 {
		entry = entry.WithField("details", event.Details)
	}
	if event.ErrorMsg != "" {
		entry = entry.WithField("error_message", event.ErrorMsg)
	}

	if event.Outcome == OutcomeSuccess {
		entry.Info("Audit event")
	} else {
		entry.Warn("Audit event")
	}
}

// LogPollutionPrevented records a cache write refused because the payload's
// consumer id did not match the key it was being stored under.
func LogPollutionPrevented(ctx context.Context, key, expectedConsumerID, storedConsumerID string) {
	LogEvent(ctx, &Event{
		Action:    ActionPollutionPrevented,
		Resource:  key,
		Outcome:   OutcomeBlocked,
		RiskScore: 0.8,
		Details: map[string]any{
			"expected_consumer_id": expectedConsumerID,
			"payload_consumer_id":  storedConsumerID,
		},
	})
}

// LogTokenIssued records a JWT issuance for a consumer.
func LogTokenIssued(ctx context.Context, consumerID string, outcome Outcome) {
	LogEvent(ctx, &Event{
		Action:   ActionTokenIssued,
		Resource: consumerID,
		Outcome:  outcome,
	})
}

// LogCredentialCreated records provisioning of a new JWT credential.
func LogCredentialCreated(ctx context.Context, consumerID string, outcome Outcome) {
	LogEvent(ctx, &Event{
		Action:   ActionCredentialCreated,
		Resource: consumerID,
		Outcome:  outcome,
	})
}

// LogStaleFallback records a stale cache payload served while the Kong
// circuit breaker was open.
func LogStaleFallback(ctx context.Context, consumerID, source string) {
	LogEvent(ctx, &Event{
		Action:    ActionStaleFallbackServed,
		Resource:  consumerID,
		Outcome:   OutcomeSuccess,
		RiskScore: 0.3,
		Details:   map[string]any{"source": source},
	})
}
