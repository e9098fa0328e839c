package kong

import (
	"context"
	"strings"
)

// GatewayStrategy targets a self-hosted Kong Gateway Admin API.
type GatewayStrategy struct {
	baseURL string
	token   string
}

func NewGatewayStrategy(adminURL, adminToken string) *GatewayStrategy {
	return &GatewayStrategy{
		baseURL: strings.TrimSuffix(adminURL, "/"),
		token:   adminToken,
	}
}

var _ Strategy = (*GatewayStrategy)(nil)

func (s *GatewayStrategy) BuildConsumerURL(consumerID string) string {
	return s.baseURL + "/consumers/" + consumerID + "/jwt"
}

func (s *GatewayStrategy) BuildHealthURL() string {
	return s.baseURL + "/status"
}

func (s *GatewayStrategy) AuthHeaders() map[string]string {
	return map[string]string{
		"Content-Type":     "application/json",
		"User-Agent":       userAgent,
		"Kong-Admin-Token": s.token,
	}
}

// ResolveConsumerID is the identity in gateway mode: the admin API accepts
// usernames and uuids interchangeably.
func (s *GatewayStrategy) ResolveConsumerID(ctx context.Context, id string) (string, error) {
	return id, nil
}

// EnsurePrerequisites is a no-op: a gateway needs no realm provisioning.
func (s *GatewayStrategy) EnsurePrerequisites(ctx context.Context) error {
	return nil
}
