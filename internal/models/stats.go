package models

// CacheStats is the snapshot returned by a cache's GetStats.
type CacheStats struct {
	Strategy      string  `json:"strategy"`
	Entries       int     `json:"entries"`
	ActiveEntries int     `json:"active_entries"`
	StaleEntries  int     `json:"stale_entries"`
	HitRate       string  `json:"hit_rate"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	ServerType    string  `json:"server_type,omitempty"`
	TTLErrors     int     `json:"ttl_errors,omitempty"`
}

// BreakerStats is the snapshot returned by a circuit breaker's GetStats.
type BreakerStats struct {
	State       string             `json:"state"`
	Fires       int64              `json:"fires"`
	Successes   int64              `json:"successes"`
	Failures    int64              `json:"failures"`
	Rejects     int64              `json:"rejects"`
	Timeouts    int64              `json:"timeouts"`
	Fallbacks   int64              `json:"fallbacks"`
	Percentiles map[string]float64 `json:"percentiles,omitempty"`
}

// HealthStatus is the result of an upstream health probe.
type HealthStatus struct {
	Healthy        bool   `json:"healthy"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	Error          string `json:"error,omitempty"`
}
