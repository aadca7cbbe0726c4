// Package aggregate folds scoped event sets into per-window statistics.
// The fold is commutative: the repository may stream events in any order
// and the finalized results never change.
package aggregate

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/statlane/event-insights/internal/models"
	"github.com/statlane/event-insights/internal/timebucket"
)

// ErrInconsistent flags an internal accounting bug (for example a negative
// count). It is surfaced as a server error, never silently corrected.
var ErrInconsistent = errors.New("aggregation produced inconsistent totals")

// MetricSpec names the sum metrics to compute. Metrics absent from an
// event's variant are skipped for that event rather than failing the run.
type MetricSpec []string

// DefaultSpec returns the metrics a variant natively carries.
func DefaultSpec(et models.EventType) MetricSpec {
	switch et {
	case models.EventAIRequest:
		return MetricSpec{"duration_ms", "tokens", "cost"}
	case models.EventEngagement:
		return MetricSpec{"duration_ms"}
	case models.EventSale:
		return MetricSpec{"amount"}
	case models.EventPerformance:
		return MetricSpec{"response_time_ms"}
	}
	return nil
}

// metricScale is the fixed-point denominator used while accumulating a
// metric. Currency values are summed in integer minor units so repeated
// float addition can never drift; the division back to display units
// happens exactly once at finalize.
func metricScale(name string) int64 {
	switch name {
	case "cost":
		return 1_000_000
	case "amount":
		return 100
	default:
		return 1
	}
}

// metricValue extracts one named metric from an event, already scaled.
// ok is false when the variant does not carry that metric.
func metricValue(e models.Event, name string) (int64, bool) {
	switch v := e.(type) {
	case models.AIRequestEvent:
		switch name {
		case "duration_ms":
			return v.DurationMs, true
		case "tokens":
			return v.Tokens, true
		case "cost":
			return int64(math.Round(v.Cost * 1_000_000)), true
		}
	case models.EngagementEvent:
		if name == "duration_ms" {
			return v.DurationMs, true
		}
	case models.SalesEvent:
		if name == "amount" {
			return int64(math.Round(v.Amount * 100)), true
		}
	case models.PerformanceEvent:
		if name == "response_time_ms" {
			return v.ResponseTimeMs, true
		}
	}
	return 0, false
}

// outcome classifies one event for rate accounting.
//
// counted reports whether the event contributes to Count and Sums: sales
// only count completed transactions, every other variant counts all.
// rateName is "" for variants with no success notion (engagement).
func outcome(e models.Event) (counted, succeeded bool, rateName string) {
	switch v := e.(type) {
	case models.AIRequestEvent:
		return true, v.Success, "success_rate"
	case models.EngagementEvent:
		return true, false, ""
	case models.SalesEvent:
		ok := v.Status == "completed"
		return ok, ok, "success_rate"
	case models.PerformanceEvent:
		return true, v.StatusCode < 400, "error_rate"
	}
	return false, false, ""
}

// latencyMetric names the per-variant metric used for percentile stats.
func latencyMetric(et models.EventType) string {
	switch et {
	case models.EventAIRequest, models.EventEngagement:
		return "duration_ms"
	case models.EventPerformance:
		return "response_time_ms"
	}
	return ""
}

// Result is the finalized statistics for one window. It is owned by the
// cache entry that produced it and is never mutated, only replaced.
type Result struct {
	PeriodStart time.Time
	Count       int64
	Sums        map[string]float64
	Averages    map[string]float64
	Rates       map[string]float64
	Percentiles map[string]float64
	ComputedAt  time.Time
}

// Resultset maps period start to its finalized result.
type Resultset map[time.Time]*Result

// Ordered returns results ascending by period start.
func (rs Resultset) Ordered() []*Result {
	out := make([]*Result, 0, len(rs))
	for _, r := range rs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PeriodStart.Before(out[j].PeriodStart)
	})
	return out
}

// accumulator is the running fold state for one bucket. Sums are held as
// scaled integers until finalize.
type accumulator struct {
	total     int64
	counted   int64
	succeeded int64
	rateName  string
	sums      map[string]int64
	latencies []int64
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// roundAvg rounds an average to its metric's display precision. Cost keeps
// its micro-unit accumulation precision: realistic per-call costs are well
// under a cent and would collapse to zero at two decimals.
func roundAvg(name string, x float64) float64 {
	if name == "cost" {
		return math.Round(x*1_000_000) / 1_000_000
	}
	return round2(x)
}

// Aggregate performs a single pass over the (already time- and
// filter-scoped) events, bucketing each via timebucket.BucketFor and
// folding it into its window's running totals. An empty spec falls back to
// each event's default metrics.
func Aggregate(events []models.Event, g timebucket.Granularity, spec MetricSpec) (Resultset, error) {
	accs := make(map[time.Time]*accumulator)

	for _, e := range events {
		period := timebucket.BucketFor(e.Time(), g)
		acc := accs[period]
		if acc == nil {
			acc = &accumulator{sums: make(map[string]int64)}
			accs[period] = acc
		}

		counted, succeeded, rateName := outcome(e)
		acc.total++
		if rateName != "" {
			acc.rateName = rateName
		}
		if succeeded {
			acc.succeeded++
		}
		if !counted {
			continue
		}
		acc.counted++

		metrics := spec
		if len(metrics) == 0 {
			metrics = DefaultSpec(e.Type())
		}
		for _, name := range metrics {
			if v, ok := metricValue(e, name); ok {
				acc.sums[name] += v
			}
		}
		if lm := latencyMetric(e.Type()); lm != "" {
			if v, ok := metricValue(e, lm); ok {
				acc.latencies = append(acc.latencies, v)
			}
		}
	}

	now := time.Now().UTC()
	rs := make(Resultset, len(accs))
	for period, acc := range accs {
		r, err := acc.finalize(period, now)
		if err != nil {
			return nil, err
		}
		rs[period] = r
	}
	return rs, nil
}

// finalize converts scaled integer totals to display values. Division by
// zero is structurally impossible: averages are only emitted when the
// bucket counted at least one event.
func (acc *accumulator) finalize(period, now time.Time) (*Result, error) {
	if acc.total < 0 || acc.counted < 0 || acc.counted > acc.total {
		return nil, fmt.Errorf("%w: total=%d counted=%d", ErrInconsistent, acc.total, acc.counted)
	}

	r := &Result{
		PeriodStart: period,
		Count:       acc.counted,
		Sums:        make(map[string]float64, len(acc.sums)),
		ComputedAt:  now,
	}
	for name, sum := range acc.sums {
		scale := metricScale(name)
		r.Sums[name] = float64(sum) / float64(scale)
		if acc.counted > 0 {
			if r.Averages == nil {
				r.Averages = make(map[string]float64)
			}
			r.Averages[name] = roundAvg(name, float64(sum)/float64(scale)/float64(acc.counted))
		}
	}
	if acc.rateName != "" && acc.total > 0 {
		rate := float64(acc.succeeded) / float64(acc.total) * 100
		if acc.rateName == "error_rate" {
			rate = 100 - rate
		}
		r.Rates = map[string]float64{acc.rateName: round2(rate)}
	}
	if len(acc.latencies) > 0 {
		sort.Slice(acc.latencies, func(i, j int) bool { return acc.latencies[i] < acc.latencies[j] })
		r.Percentiles = map[string]float64{
			"p50": percentile(acc.latencies, 50),
			"p95": percentile(acc.latencies, 95),
			"p99": percentile(acc.latencies, 99),
		}
	}
	return r, nil
}

// percentile uses the nearest-rank method over a sorted sample.
func percentile(sorted []int64, p int) float64 {
	rank := int(math.Ceil(float64(p) / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return float64(sorted[rank-1])
}
