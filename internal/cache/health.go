package cache

import (
	"context"
	"sync"
	"time"

	"auth-service/internal/config"
	"auth-service/internal/logger"
)

// HealthState is a snapshot of the monitor's view of the connection.
type HealthState struct {
	Healthy             bool
	LastProbeAt         time.Time
	ConsecutiveFailures int
}

// HealthMonitor periodically PINGs the Redis connection. Probe failures
// past the unhealthy threshold are recorded to the cache breaker so it can
// trip; a healthy probe closes a half-open breaker.
type HealthMonitor struct {
	cfg     config.HealthMonitorConfig
	probe   func(ctx context.Context) error
	breaker *CacheBreaker

	mu                  sync.Mutex
	healthy             bool
	lastProbeAt         time.Time
	consecutiveFailures int

	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

func NewHealthMonitor(cfg config.HealthMonitorConfig, probe func(ctx context.Context) error, breaker *CacheBreaker) *HealthMonitor {
	return &HealthMonitor{
		cfg:     cfg,
		probe:   probe,
		breaker: breaker,
		healthy: true,
	}
}

// Start launches the background probe loop.
func (m *HealthMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || !m.cfg.Enabled {
		return
	}
	m.started = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	go m.loop(m.stopCh, m.doneCh)
}

// Stop terminates the probe loop and waits for it to exit. It must be
// called before the underlying connection closes.
func (m *HealthMonitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	stopCh, doneCh := m.stopCh, m.doneCh
	m.mu.Unlock()

	close(stopCh)
	<-doneCh
}

func (m *HealthMonitor) loop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.runProbe()
		}
	}
}

func (m *HealthMonitor) runProbe() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Interval)
	defer cancel()

	err := m.probe(ctx)

	m.mu.Lock()
	m.lastProbeAt = time.Now()
	if err == nil {
		wasUnhealthy := !m.healthy
		m.healthy = true
		m.consecutiveFailures = 0
		m.mu.Unlock()

		if wasUnhealthy {
			logger.GetLogger().WithField("component", "cache_health_monitor").
				Info("Redis health probe recovered")
		}
		m.breaker.RecordSuccess()
		return
	}

	m.consecutiveFailures++
	failures := m.consecutiveFailures
	if failures >= m.cfg.UnhealthyThreshold {
		m.healthy = false
	}
	m.mu.Unlock()

	logger.GetLogger().WithField("component", "cache_health_monitor").
		WithField("consecutive_failures", failures).
		WithError(err).Warn("Redis health probe failed")

	if failures >= m.cfg.UnhealthyThreshold {
		m.breaker.RecordFailure(err)
	}
}

// Status returns the current health snapshot.
func (m *HealthMonitor) Status() HealthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return HealthState{
		Healthy:             m.healthy,
		LastProbeAt:         m.lastProbeAt,
		ConsecutiveFailures: m.consecutiveFailures,
	}
}
