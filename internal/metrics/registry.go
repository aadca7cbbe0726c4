// Package metrics is the live counter registry: process-wide counters,
// gauges, and histograms updated synchronously on every ingested event and
// exposed in prometheus exposition format.
package metrics

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"

	"github.com/statlane/event-insights/internal/models"
)

var latencyBuckets = []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// Registry owns a private prometheus registry so its lifecycle is explicit:
// constructed at process start, injected into the paths that record, never
// reached as ambient global state.
type Registry struct {
	reg *prometheus.Registry

	eventsIngested *prometheus.CounterVec
	eventsRejected *prometheus.CounterVec

	aiDuration prometheus.Histogram
	aiTokens   prometheus.Counter
	aiCost     prometheus.Counter

	engagementDuration prometheus.Histogram

	salesRevenue      *prometheus.CounterVec
	salesTransactions *prometheus.CounterVec

	httpDuration  prometheus.Histogram
	httpResponses *prometheus.CounterVec

	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
	repoRetries prometheus.Counter
}

// New constructs the registry with every metric family pre-registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,

		eventsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "insights_events_ingested_total",
			Help: "Total number of events accepted, labelled by event type.",
		}, []string{"event_type"}),

		eventsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "insights_events_rejected_total",
			Help: "Total number of events rejected by validation, labelled by event type.",
		}, []string{"event_type"}),

		aiDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "insights_ai_request_duration_ms",
			Help:    "AI inference call latency in milliseconds.",
			Buckets: latencyBuckets,
		}),

		aiTokens: factory.NewCounter(prometheus.CounterOpts{
			Name: "insights_ai_tokens_total",
			Help: "Cumulative tokens consumed by AI inference calls.",
		}),

		aiCost: factory.NewCounter(prometheus.CounterOpts{
			Name: "insights_ai_cost_total",
			Help: "Cumulative AI inference cost in account currency units.",
		}),

		engagementDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "insights_engagement_duration_ms",
			Help:    "User engagement interaction duration in milliseconds.",
			Buckets: latencyBuckets,
		}),

		salesRevenue: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "insights_sales_revenue_total",
			Help: "Cumulative completed sales revenue, labelled by currency.",
		}, []string{"currency"}),

		salesTransactions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "insights_sales_transactions_total",
			Help: "Total sales transactions, labelled by status.",
		}, []string{"status"}),

		httpDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "insights_upstream_response_time_ms",
			Help:    "Upstream request latency samples in milliseconds.",
			Buckets: latencyBuckets,
		}),

		httpResponses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "insights_upstream_responses_total",
			Help: "Upstream responses sampled, labelled by status class.",
		}, []string{"status_class"}),

		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "insights_cache_hits_total",
			Help: "Analytics result cache hits.",
		}),

		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "insights_cache_misses_total",
			Help: "Analytics result cache misses, including stale generations.",
		}),

		repoRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "insights_repository_retries_total",
			Help: "Transient event repository errors that triggered a retry.",
		}),
	}
}

// RecordEvent updates the counters for one accepted event. Safe to call
// concurrently from many ingestion paths; prometheus counters are atomic.
func (r *Registry) RecordEvent(e models.Event) {
	r.eventsIngested.WithLabelValues(string(e.Type())).Inc()

	switch v := e.(type) {
	case models.AIRequestEvent:
		r.aiDuration.Observe(float64(v.DurationMs))
		r.aiTokens.Add(float64(v.Tokens))
		r.aiCost.Add(v.Cost)
	case models.EngagementEvent:
		r.engagementDuration.Observe(float64(v.DurationMs))
	case models.SalesEvent:
		r.salesTransactions.WithLabelValues(v.Status).Inc()
		if v.Status == "completed" {
			r.salesRevenue.WithLabelValues(v.Currency).Add(v.Amount)
		}
	case models.PerformanceEvent:
		r.httpDuration.Observe(float64(v.ResponseTimeMs))
		r.httpResponses.WithLabelValues(statusClass(v.StatusCode)).Inc()
	}
}

// RecordRejected counts a validation failure. Rejected events never reach
// the per-variant counters.
func (r *Registry) RecordRejected(eventType string) {
	if _, err := models.ParseEventType(eventType); err != nil {
		eventType = "unknown"
	}
	r.eventsRejected.WithLabelValues(eventType).Inc()
}

// CacheHit counts an analytics cache hit.
func (r *Registry) CacheHit() { r.cacheHits.Inc() }

// CacheMiss counts an analytics cache miss.
func (r *Registry) CacheMiss() { r.cacheMisses.Inc() }

// RepositoryRetry counts one retried transient repository error.
func (r *Registry) RepositoryRetry() { r.repoRetries.Inc() }

// Handler serves the scrape endpoint. No auth: monitoring systems must
// always be able to scrape.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Snapshot renders the current state as newline-delimited exposition text.
// The output is deterministic for a given counter state.
func (r *Registry) Snapshot() (string, error) {
	families, err := r.reg.Gather()
	if err != nil {
		return "", err
	}
	var b strings.Builder
	enc := expfmt.NewEncoder(&b, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return "", fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return b.String(), nil
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
