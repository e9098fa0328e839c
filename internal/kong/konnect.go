package kong

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"auth-service/internal/apierrors"
	"auth-service/internal/logger"
)

var controlPlanePattern = regexp.MustCompile(`^/v2/control-planes/([a-f0-9-]+)/?$`)

const realmIDPrefix = "auth-realm-"

// KonnectStrategy targets a hosted Konnect control plane. The admin URL
// must look like https://<region>.api.konghq.com/v2/control-planes/<id>.
type KonnectStrategy struct {
	baseURL          string
	consumerAdminURL string
	controlPlaneID   string
	realmID          string
	token            string
	transport        *transport

	mu         sync.Mutex
	realmReady bool
}

// NewKonnectStrategy validates the control-plane URL at construction; a
// malformed URL is a configuration error, not a runtime one.
func NewKonnectStrategy(adminURL, adminToken string) (*KonnectStrategy, error) {
	parsed, err := url.Parse(strings.TrimSuffix(adminURL, "/"))
	if err != nil || parsed.Scheme != "https" || parsed.Host == "" {
		return nil, &apierrors.ConfigError{
			Field:  "kong.adminUrl",
			Reason: fmt.Sprintf("not a valid https control-plane URL: %q", adminURL),
		}
	}
	match := controlPlanePattern.FindStringSubmatch(parsed.Path)
	if match == nil {
		return nil, &apierrors.ConfigError{
			Field:  "kong.adminUrl",
			Reason: fmt.Sprintf("path %q does not match /v2/control-planes/<id>", parsed.Path),
		}
	}
	controlPlaneID := match[1]

	realmSuffix := controlPlaneID
	if len(realmSuffix) > 8 {
		realmSuffix = realmSuffix[:8]
	}

	s := &KonnectStrategy{
		baseURL:          "https://" + parsed.Host + "/v2/control-planes/" + controlPlaneID,
		consumerAdminURL: "https://" + parsed.Host + "/v1",
		controlPlaneID:   controlPlaneID,
		realmID:          realmIDPrefix + realmSuffix,
		token:            adminToken,
	}
	s.transport = newTransport(s.AuthHeaders)
	return s, nil
}

var _ Strategy = (*KonnectStrategy)(nil)

func (s *KonnectStrategy) BuildConsumerURL(consumerUUID string) string {
	return s.baseURL + "/core-entities/consumers/" + consumerUUID + "/jwt"
}

func (s *KonnectStrategy) BuildHealthURL() string {
	return s.baseURL
}

func (s *KonnectStrategy) AuthHeaders() map[string]string {
	return map[string]string{
		"Content-Type":  "application/json",
		"User-Agent":    userAgent,
		"Authorization": "Bearer " + s.token,
	}
}

// ConsumerAdminURL exposes the derived /v1 admin root.
func (s *KonnectStrategy) ConsumerAdminURL() string {
	return s.consumerAdminURL
}

// RealmID exposes the realm derived from the control-plane id.
func (s *KonnectStrategy) RealmID() string {
	return s.realmID
}

// ResolveConsumerID probes by id first, then falls back to a username
// lookup. Returns "" when the consumer does not exist.
func (s *KonnectStrategy) ResolveConsumerID(ctx context.Context, id string) (string, error) {
	status, body, err := s.transport.do(ctx, http.MethodGet, s.baseURL+"/core-entities/consumers/"+id, nil)
	if err != nil {
		return "", err
	}

	switch {
	case apierrors.IsSuccessResponse(status):
		var consumer struct {
			ID string `json:"id"`
		}
		if jsonErr := json.Unmarshal(body, &consumer); jsonErr == nil && consumer.ID != "" {
			return consumer.ID, nil
		}
		return id, nil
	case status == http.StatusNotFound:
		return s.lookupByUsername(ctx, id)
	default:
		return "", errorFromResponse(status, body)
	}
}

func (s *KonnectStrategy) lookupByUsername(ctx context.Context, username string) (string, error) {
	lookupURL := s.baseURL + "/core-entities/consumers?username=" + url.QueryEscape(username)
	status, body, err := s.transport.do(ctx, http.MethodGet, lookupURL, nil)
	if err != nil {
		return "", err
	}
	if !apierrors.IsSuccessResponse(status) {
		return "", errorFromResponse(status, body)
	}

	var listing struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if jsonErr := json.Unmarshal(body, &listing); jsonErr != nil || len(listing.Data) == 0 {
		return "", nil
	}
	return listing.Data[0].ID, nil
}

// EnsurePrerequisites creates the authentication realm for this control
// plane if it does not exist yet. Creation is idempotent: a duplicate-name
// rejection counts as success.
func (s *KonnectStrategy) EnsurePrerequisites(ctx context.Context) error {
	s.mu.Lock()
	ready := s.realmReady
	s.mu.Unlock()
	if ready {
		return nil
	}

	status, body, err := s.transport.do(ctx, http.MethodGet, s.consumerAdminURL+"/realms/"+s.realmID, nil)
	if err != nil {
		return err
	}

	switch {
	case apierrors.IsSuccessResponse(status):
		s.markRealmReady()
		return nil
	case status == http.StatusNotFound:
		return s.createRealm(ctx)
	default:
		return errorFromResponse(status, body)
	}
}

func (s *KonnectStrategy) createRealm(ctx context.Context) error {
	payload := map[string]interface{}{
		"name":                   s.realmID,
		"allowed_control_planes": []string{s.controlPlaneID},
	}
	status, body, err := s.transport.do(ctx, http.MethodPost, s.consumerAdminURL+"/realms", payload)
	if err != nil {
		return err
	}

	if apierrors.IsSuccessResponse(status) {
		logger.GetLogger().WithField("component", "konnect_strategy").
			WithField("realm_id", s.realmID).
			Info("Created authentication realm")
		s.markRealmReady()
		return nil
	}
	if status == http.StatusBadRequest && strings.Contains(string(body), "realm name must be unique") {
		s.markRealmReady()
		return nil
	}
	return errorFromResponse(status, body)
}

func (s *KonnectStrategy) markRealmReady() {
	s.mu.Lock()
	s.realmReady = true
	s.mu.Unlock()
}
