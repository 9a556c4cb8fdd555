package metrics

import (
	"sort"
	"sync"
	"time"
)

// FeatureMetrics aggregates calls for one feature label.
type FeatureMetrics struct {
	LastUpdated      time.Time `json:"last_updated"`
	Feature          string    `json:"feature"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	RequestCount     int64     `json:"request_count"`
	ErrorCount       int64     `json:"error_count"`
	CacheHits        int64     `json:"cache_hits"`
	CacheMisses      int64     `json:"cache_misses"`
	TotalCost        float64   `json:"total_cost_usd"`
}

// InternalRecorder aggregates in memory. It backs GET /debug/llm and
// needs no Prometheus server.
type InternalRecorder struct {
	features map[string]*FeatureMetrics
	mu       sync.RWMutex
}

// NewInternalRecorder creates an empty aggregate.
func NewInternalRecorder() *InternalRecorder {
	return &InternalRecorder{features: make(map[string]*FeatureMetrics)}
}

func (r *InternalRecorder) entry(feature string) *FeatureMetrics {
	if feature == "" {
		feature = "unlabeled"
	}
	m, ok := r.features[feature]
	if !ok {
		m = &FeatureMetrics{Feature: feature}
		r.features[feature] = m
	}
	m.LastUpdated = time.Now()
	return m
}

// ObserveRequest implements Recorder.
func (r *InternalRecorder) ObserveRequest(obs Observation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.entry(obs.Feature)
	m.RequestCount++
	if !obs.Success {
		m.ErrorCount++
		return
	}
	m.PromptTokens += int64(obs.PromptTokens)
	m.CompletionTokens += int64(obs.CompletionTokens)
	m.TotalCost += obs.CostUSD
}

// ObserveCache implements Recorder.
func (r *InternalRecorder) ObserveCache(feature string, hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.entry(feature)
	if hit {
		m.CacheHits++
	} else {
		m.CacheMisses++
	}
}

// Snapshot returns copies sorted by feature.
func (r *InternalRecorder) Snapshot() []FeatureMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]FeatureMetrics, 0, len(r.features))
	for _, m := range r.features {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Feature < out[j].Feature })
	return out
}

// Reset clears all aggregates.
func (r *InternalRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.features = make(map[string]*FeatureMetrics)
}
