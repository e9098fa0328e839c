package handlers

import (
	"net/http"
	"time"

	"auth-service/internal/audit"
	"auth-service/internal/kong"
	"auth-service/internal/logger"
	"auth-service/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// TokenHandler issues JWTs signed with the consumer's Kong credential.
type TokenHandler struct {
	service   kong.Service
	jwtExpiry time.Duration
}

func NewTokenHandler(service kong.Service, jwtExpiry time.Duration) *TokenHandler {
	return &TokenHandler{
		service:   service,
		jwtExpiry: jwtExpiry,
	}
}

// IssueToken handles POST /api/v1/tokens/:consumerId
func (h *TokenHandler) IssueToken(c *gin.Context) {
	consumerID := c.Param("consumerId")
	ctx := c.Request.Context()
	log := logger.WithComponent(ctx, "token_handler", "issueToken").WithField("consumer_id", consumerID)

	secret, err := h.service.GetConsumerSecret(ctx, consumerID)
	if err != nil {
		log.WithError(err).Error("Upstream unavailable while issuing token")
		audit.LogTokenIssued(ctx, consumerID, audit.OutcomeFailure)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "upstream_unavailable",
			"message": "Kong Admin API is unavailable",
		})
		return
	}
	if secret == nil {
		audit.LogTokenIssued(ctx, consumerID, audit.OutcomeBlocked)
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "consumer_not_found",
			"message": "No JWT credential exists for this consumer",
		})
		return
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss": secret.Key,
		"sub": consumerID,
		"iat": now.Unix(),
		"exp": now.Add(h.jwtExpiry).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret.Secret))
	if err != nil {
		log.WithError(err).Error("Failed to sign token")
		audit.LogTokenIssued(ctx, consumerID, audit.OutcomeFailure)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "signing_failed",
			"message": "Failed to sign token",
		})
		return
	}

	metrics.RecordTokenIssued()
	audit.LogTokenIssued(ctx, consumerID, audit.OutcomeSuccess)
	c.JSON(http.StatusOK, gin.H{
		"token":      signed,
		"token_type": "Bearer",
		"expires_in": int(h.jwtExpiry.Seconds()),
	})
}

// CreateCredential handles POST /api/v1/consumers/:consumerId/credentials
func (h *TokenHandler) CreateCredential(c *gin.Context) {
	consumerID := c.Param("consumerId")
	ctx := c.Request.Context()
	log := logger.WithComponent(ctx, "token_handler", "createCredential").WithField("consumer_id", consumerID)

	secret, err := h.service.CreateConsumerSecret(ctx, consumerID)
	if err != nil {
		log.WithError(err).Error("Upstream unavailable while creating credential")
		audit.LogCredentialCreated(ctx, consumerID, audit.OutcomeFailure)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "upstream_unavailable",
			"message": "Kong Admin API is unavailable",
		})
		return
	}
	if secret == nil {
		audit.LogCredentialCreated(ctx, consumerID, audit.OutcomeBlocked)
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "consumer_not_found",
			"message": "Consumer must exist before a credential can be created",
		})
		return
	}

	audit.LogCredentialCreated(ctx, consumerID, audit.OutcomeSuccess)
	c.JSON(http.StatusCreated, gin.H{
		"id":  secret.ID,
		"key": secret.Key,
		"consumer": gin.H{
			"id": secret.Consumer.ID,
		},
	})
}
