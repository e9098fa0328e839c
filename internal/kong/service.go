package kong

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"auth-service/internal/apierrors"
	"auth-service/internal/cache"
	"auth-service/internal/config"
	"auth-service/internal/logger"
	"auth-service/internal/models"
)

// ErrUpstreamUnavailable is the only failure the facade surfaces for
// infrastructure problems: the admin API could not be reached and no
// fallback data existed.
var ErrUpstreamUnavailable = errors.New("kong admin api unavailable")

// Service is the credential facade consumed by the HTTP layer. Lookups
// are cache-first, admin calls run under the Kong circuit breaker, and
// every failure maps to a well-typed outcome: a missing consumer is a nil
// credential, an unreachable upstream is ErrUpstreamUnavailable.
type Service interface {
	GetConsumerSecret(ctx context.Context, consumerID string) (*models.ConsumerSecret, error)
	CreateConsumerSecret(ctx context.Context, consumerID string) (*models.ConsumerSecret, error)
	HealthCheck(ctx context.Context) *models.HealthStatus
	ClearCache(ctx context.Context, consumerID string)
	GetStats(ctx context.Context) *models.CacheStats
	GetCircuitBreakerStats() map[string]*models.BreakerStats
	Close() error
}

type kongService struct {
	client  *AdminClient
	cache   cache.Cache
	breaker *Breaker
	cfg     *config.Config
}

// NewService wires the adapter, cache, and breaker together. In
// high-availability mode the breaker reads stale data from the shared
// cache; in local mode it keeps its own stale map.
func NewService(cfg *config.Config, store cache.Cache, client *AdminClient) Service {
	var breakerCache cache.Cache
	if cfg.Caching.HighAvailability {
		breakerCache = store
	}
	return &kongService{
		client:  client,
		cache:   store,
		breaker: NewBreaker(cfg.Kong.CircuitBreaker, cfg.Caching.StaleTTL(), breakerCache),
		cfg:     cfg,
	}
}

func (s *kongService) GetConsumerSecret(ctx context.Context, consumerID string) (*models.ConsumerSecret, error) {
	log := logger.WithComponent(ctx, "kong_service", "getConsumerSecret").WithField("consumer_id", consumerID)

	key := models.CacheKey(consumerID)
	if data := s.cache.Get(ctx, key); data != nil {
		var secret models.ConsumerSecret
		if err := json.Unmarshal(data, &secret); err == nil && secret.Validate() == nil {
			log.Debug("Credential served from cache")
			return &secret, nil
		}
		// Drift-tolerant read: a payload that no longer matches the
		// schema is treated as a miss.
		s.cache.Delete(ctx, key)
	}

	secret, source, err := s.breaker.ExecuteConsumerOperation(ctx, "getConsumerSecret", consumerID, func(opCtx context.Context) (*models.ConsumerSecret, error) {
		fetched, fetchErr := s.client.FetchConsumerSecret(opCtx, consumerID)
		if fetchErr != nil {
			return nil, fetchErr
		}
		if fetched == nil {
			return nil, nil
		}
		s.cache.Set(opCtx, key, fetched, 0)
		return fetched, nil
	})

	// The breaker has already seen the 404 and invalidated the consumer's
	// stale entry; to the HTTP layer it is simply a missing credential.
	var kongErr *apierrors.KongAPIError
	if errors.As(err, &kongErr) && kongErr.Status == http.StatusNotFound {
		log.Debug("Consumer or credential not found")
		return nil, nil
	}
	return s.mapOutcome(ctx, "getConsumerSecret", secret, source, err)
}

func (s *kongService) CreateConsumerSecret(ctx context.Context, consumerID string) (*models.ConsumerSecret, error) {
	log := logger.WithComponent(ctx, "kong_service", "createConsumerSecret").WithField("consumer_id", consumerID)

	key := models.CacheKey(consumerID)
	secret, source, err := s.breaker.ExecuteConsumerOperation(ctx, "createConsumerSecret", consumerID, func(opCtx context.Context) (*models.ConsumerSecret, error) {
		created, createErr := s.client.CreateConsumerSecret(opCtx, consumerID)
		if createErr != nil {
			return nil, createErr
		}
		if created == nil {
			return nil, nil
		}
		s.cache.Set(opCtx, key, created, 0)
		return created, nil
	})

	var kongErr *apierrors.KongAPIError
	if errors.As(err, &kongErr) && kongErr.Status == http.StatusNotFound {
		log.Info("Consumer must exist first")
		return nil, nil
	}
	return s.mapOutcome(ctx, "createConsumerSecret", secret, source, err)
}

// mapOutcome folds breaker results into the facade contract: business
// failures become nil credentials, infrastructure failures become
// ErrUpstreamUnavailable.
func (s *kongService) mapOutcome(ctx context.Context, operation string, secret *models.ConsumerSecret, source string, err error) (*models.ConsumerSecret, error) {
	if err == nil {
		if secret != nil && source != SourceKong {
			logger.WithContext(ctx).WithField("fallback_source", source).
				Warn("Serving stale credential while Kong Admin API is unavailable")
		}
		return secret, nil
	}

	if errors.Is(err, ErrBreakerOpen) {
		return nil, ErrUpstreamUnavailable
	}

	classification := apierrors.Classify(err)
	logger.HandledError(ctx, "kong_service", operation, string(classification.Category), classification.IsRecoverable, err)
	if classification.Category == apierrors.CategoryBusiness {
		return nil, nil
	}
	return nil, ErrUpstreamUnavailable
}

func (s *kongService) HealthCheck(ctx context.Context) *models.HealthStatus {
	if s.breaker.IsOpen() {
		return &models.HealthStatus{
			Healthy: false,
			Error:   "Circuit breaker open - Kong Admin API unavailable",
		}
	}

	var responseTime int64
	err := s.breaker.Execute(ctx, "healthCheck", func(opCtx context.Context) error {
		elapsed, probeErr := s.client.HealthCheck(opCtx)
		responseTime = elapsed.Milliseconds()
		return probeErr
	})
	if err == nil {
		return &models.HealthStatus{Healthy: true, ResponseTimeMs: responseTime}
	}

	status := &models.HealthStatus{Healthy: false, ResponseTimeMs: responseTime}
	var kongErr *apierrors.KongAPIError
	switch {
	case errors.Is(err, ErrBreakerOpen):
		status.Error = "Circuit breaker open - Kong Admin API unavailable"
	case errors.As(err, &kongErr) && (kongErr.Status == http.StatusUnauthorized || kongErr.Status == http.StatusForbidden):
		status.Error = "Kong Admin API authentication failed"
	case errors.As(err, &kongErr) && kongErr.Status == http.StatusNotFound:
		status.Error = "Kong Admin API health endpoint not found"
	default:
		status.Error = err.Error()
	}
	return status
}

func (s *kongService) ClearCache(ctx context.Context, consumerID string) {
	if consumerID != "" {
		s.cache.Delete(ctx, models.CacheKey(consumerID))
		return
	}
	s.cache.Clear(ctx)
}

func (s *kongService) GetStats(ctx context.Context) *models.CacheStats {
	return s.cache.GetStats(ctx)
}

func (s *kongService) GetCircuitBreakerStats() map[string]*models.BreakerStats {
	stats := map[string]*models.BreakerStats{
		"kong_operations": s.breaker.GetStats(),
	}
	if redisCache, ok := s.cache.(*cache.RedisCache); ok {
		stats["cache_operations"] = redisCache.Breaker().GetStats()
	}
	return stats
}

// ResetBreaker force-closes the Kong breaker. Intended for tests.
func (s *kongService) ResetBreaker() {
	s.breaker.Reset()
}

func (s *kongService) Close() error {
	return s.cache.Close()
}
