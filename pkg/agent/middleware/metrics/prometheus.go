package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric names, shared with the query client in pkg/metrics.
const (
	MetricRequests = "proxie_llm_requests_total"
	MetricTokens   = "proxie_llm_tokens_total"
	MetricCost     = "proxie_llm_cost_usd_total"
	MetricDuration = "proxie_llm_request_duration_seconds"
	MetricCache    = "proxie_llm_cache_lookups_total"
	MetricThrottle = "proxie_llm_throttle_total"
)

// PrometheusRecorder implements Recorder with Prometheus collectors.
type PrometheusRecorder struct {
	requestsTotal   *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
	costTotal       *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	cacheTotal      *prometheus.CounterVec
	throttleTotal   *prometheus.CounterVec
}

// NewPrometheusRecorder registers the collectors on reg. A nil reg uses the
// default registerer.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{Name: MetricRequests, Help: "LLM requests by model, feature and status"},
			[]string{"model", "feature", "status", "error_type"},
		),
		tokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{Name: MetricTokens, Help: "Tokens used by successful LLM requests"},
			[]string{"model", "feature", "type"},
		),
		costTotal: factory.NewCounterVec(
			prometheus.CounterOpts{Name: MetricCost, Help: "Estimated LLM cost in USD"},
			[]string{"model", "feature"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{Name: MetricDuration, Help: "LLM request latency", Buckets: prometheus.DefBuckets},
			[]string{"model", "feature"},
		),
		cacheTotal: factory.NewCounterVec(
			prometheus.CounterOpts{Name: MetricCache, Help: "Gateway cache lookups by result"},
			[]string{"feature", "result"},
		),
		throttleTotal: factory.NewCounterVec(
			prometheus.CounterOpts{Name: MetricThrottle, Help: "Rate limiter waits by provider and limit hit"},
			[]string{"provider", "reason"},
		),
	}
}

// ObserveRequest records one call.
func (p *PrometheusRecorder) ObserveRequest(obs Observation) {
	status := "success"
	if !obs.Success {
		status = "error"
	}
	p.requestsTotal.WithLabelValues(obs.Model, obs.Feature, status, obs.ErrorType).Inc()
	p.requestDuration.WithLabelValues(obs.Model, obs.Feature).Observe(obs.Duration.Seconds())

	if obs.Success {
		p.tokensTotal.WithLabelValues(obs.Model, obs.Feature, "prompt").Add(float64(obs.PromptTokens))
		p.tokensTotal.WithLabelValues(obs.Model, obs.Feature, "completion").Add(float64(obs.CompletionTokens))
		p.costTotal.WithLabelValues(obs.Model, obs.Feature).Add(obs.CostUSD)
	}
}

// ObserveCache records a cache hit or miss.
func (p *PrometheusRecorder) ObserveCache(feature string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	p.cacheTotal.WithLabelValues(feature, result).Inc()
}

// IncThrottle counts one wait on the rate limiter.
func (p *PrometheusRecorder) IncThrottle(provider, reason string) {
	p.throttleTotal.WithLabelValues(provider, reason).Inc()
}
