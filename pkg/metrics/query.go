// Package metrics queries a Prometheus server for the LLM usage counters the
// gateway exports.
package metrics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	llmmetrics "proxie/pkg/agent/middleware/metrics"
)

// UsageMetrics is aggregated usage for one selector (all traffic, a model or
// a feature).
type UsageMetrics struct {
	Model            string  `json:"model,omitempty"`
	Feature          string  `json:"feature,omitempty"`
	Requests         int64   `json:"requests"`
	Errors           int64   `json:"errors"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	TotalCost        float64 `json:"total_cost_usd"`
}

// QueryService queries metrics from Prometheus.
type QueryService struct {
	queryAPI v1.API
}

// NewQueryService creates a query service for the server at prometheusURL.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}
	return &QueryService{queryAPI: v1.NewAPI(client)}, nil
}

// Selector narrows a query. Empty fields match everything.
type Selector struct {
	Model   string
	Feature string
}

func (s Selector) labels(extra ...string) string {
	var parts []string
	if s.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%q", s.Model))
	}
	if s.Feature != "" {
		parts = append(parts, fmt.Sprintf("feature=%q", s.Feature))
	}
	parts = append(parts, extra...)
	if len(parts) == 0 {
		return ""
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// GetUsage returns totals for sel.
func (q *QueryService) GetUsage(ctx context.Context, sel Selector) (*UsageMetrics, error) {
	m := &UsageMetrics{Model: sel.Model, Feature: sel.Feature}
	queries := []struct {
		expr string
		set  func(float64)
	}{
		{fmt.Sprintf("sum(%s%s)", llmmetrics.MetricRequests, sel.labels()), func(v float64) { m.Requests = int64(v) }},
		{fmt.Sprintf("sum(%s%s)", llmmetrics.MetricRequests, sel.labels(`status="error"`)), func(v float64) { m.Errors = int64(v) }},
		{fmt.Sprintf("sum(%s%s)", llmmetrics.MetricTokens, sel.labels(`type="prompt"`)), func(v float64) { m.PromptTokens = int64(v) }},
		{fmt.Sprintf("sum(%s%s)", llmmetrics.MetricTokens, sel.labels(`type="completion"`)), func(v float64) { m.CompletionTokens = int64(v) }},
		{fmt.Sprintf("sum(%s%s)", llmmetrics.MetricCost, sel.labels()), func(v float64) { m.TotalCost = v }},
	}
	for _, query := range queries {
		v, err := q.scalar(ctx, query.expr)
		if err != nil {
			return nil, err
		}
		query.set(v)
	}
	m.TotalTokens = m.PromptTokens + m.CompletionTokens
	return m, nil
}

// GetUsageByModel returns totals per model, sorted by model name.
func (q *QueryService) GetUsageByModel(ctx context.Context) ([]*UsageMetrics, error) {
	return q.groupBy(ctx, "model", func(v string) Selector { return Selector{Model: v} })
}

// GetUsageByFeature returns totals per feature, sorted by feature name.
func (q *QueryService) GetUsageByFeature(ctx context.Context) ([]*UsageMetrics, error) {
	return q.groupBy(ctx, "feature", func(v string) Selector { return Selector{Feature: v} })
}

func (q *QueryService) groupBy(ctx context.Context, label string, sel func(string) Selector) ([]*UsageMetrics, error) {
	expr := fmt.Sprintf("group by (%s) (%s)", label, llmmetrics.MetricRequests)
	result, _, err := q.queryAPI.Query(ctx, expr, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query %s values: %w", label, err)
	}
	var values []string
	if vector, ok := result.(model.Vector); ok {
		for _, sample := range vector {
			if v, ok := sample.Metric[model.LabelName(label)]; ok && v != "" {
				values = append(values, string(v))
			}
		}
	}
	sort.Strings(values)

	out := make([]*UsageMetrics, 0, len(values))
	for _, v := range values {
		m, err := q.GetUsage(ctx, sel(v))
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (q *QueryService) scalar(ctx context.Context, expr string) (float64, error) {
	result, _, err := q.queryAPI.Query(ctx, expr, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to query %s: %w", expr, err)
	}
	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return float64(vector[0].Value), nil
	}
	return 0, nil
}
