package kong

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"auth-service/internal/apierrors"
	"auth-service/internal/config"
	"auth-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatewayClient(t *testing.T, adminURL string) *AdminClient {
	t.Helper()
	client, err := NewAdminClient(config.KongConfig{
		Mode:       config.ModeAPIGateway,
		AdminURL:   adminURL,
		AdminToken: "tok",
	})
	require.NoError(t, err)
	return client
}

func TestAdminClientRejectsUnknownMode(t *testing.T) {
	_, err := NewAdminClient(config.KongConfig{Mode: "WEIRD"})
	var cfgErr *apierrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestAdminClientSendsGatewayHeaders(t *testing.T) {
	var gotToken, gotAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("Kong-Admin-Token")
		gotAgent = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data":[],"total":0}`))
	}))
	t.Cleanup(server.Close)

	client := gatewayClient(t, server.URL)
	secret, err := client.FetchConsumerSecret(context.Background(), "alice")
	require.NoError(t, err)
	assert.Nil(t, secret)
	assert.Equal(t, "tok", gotToken)
	assert.Equal(t, "Authentication-Service/1.0", gotAgent)
}

func TestAdminClientFetchMissingConsumerIsTyped404(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	client := gatewayClient(t, server.URL)
	secret, err := client.FetchConsumerSecret(context.Background(), "ghost")
	assert.Nil(t, secret)

	var kongErr *apierrors.KongAPIError
	require.ErrorAs(t, err, &kongErr)
	assert.Equal(t, 404, kongErr.Status)
	assert.False(t, kongErr.IsInfrastructureError)
}

func TestAdminClientFetchInfrastructureError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	client := gatewayClient(t, server.URL)
	_, err := client.FetchConsumerSecret(context.Background(), "alice")

	var kongErr *apierrors.KongAPIError
	require.ErrorAs(t, err, &kongErr)
	assert.Equal(t, 503, kongErr.Status)
	assert.True(t, kongErr.IsInfrastructureError)
}

func TestAdminClientCreatePostsGeneratedCredential(t *testing.T) {
	var gotKey, gotSecret string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var payload struct {
			Key    string `json:"key"`
			Secret string `json:"secret"`
		}
		require.NoError(t, decodeJSON(r, &payload))
		gotKey, gotSecret = payload.Key, payload.Secret

		w.WriteHeader(http.StatusCreated)
		writeJSON(w, models.ConsumerSecret{
			ID: "cred-1", Key: payload.Key, Secret: payload.Secret,
			Consumer: models.ConsumerRef{ID: "alice"},
		})
	}))
	t.Cleanup(server.Close)

	client := gatewayClient(t, server.URL)
	secret, err := client.CreateConsumerSecret(context.Background(), "alice")
	require.NoError(t, err)
	require.NotNil(t, secret)

	assert.Len(t, gotKey, 32)
	assert.Len(t, gotSecret, 64)
	assert.Equal(t, gotKey, secret.Key)
}

func TestAdminClientHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/status", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	client := gatewayClient(t, server.URL)
	_, err := client.HealthCheck(context.Background())
	assert.NoError(t, err)
}

func TestAdminClientHealthCheckAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)

	client := gatewayClient(t, server.URL)
	_, err := client.HealthCheck(context.Background())

	var kongErr *apierrors.KongAPIError
	require.ErrorAs(t, err, &kongErr)
	assert.Equal(t, 401, kongErr.Status)
	assert.False(t, kongErr.IsInfrastructureError)
}

func decodeJSON(r *http.Request, dest interface{}) error {
	return json.NewDecoder(r.Body).Decode(dest)
}

func writeJSON(w http.ResponseWriter, value interface{}) {
	_ = json.NewEncoder(w).Encode(value)
}
