package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/statlane/event-insights/internal/aggregate"
	"github.com/statlane/event-insights/internal/cache"
	"github.com/statlane/event-insights/internal/metrics"
	"github.com/statlane/event-insights/internal/models"
	"github.com/statlane/event-insights/internal/timebucket"
)

// parseDate accepts RFC3339 or a plain calendar date. endOfDay widens a
// date-only value to the last second of that day so an inclusive end_date
// covers its whole final day.
func parseDate(s string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, err
	}
	t = t.UTC()
	if endOfDay {
		t = t.AddDate(0, 0, 1).Add(-time.Second)
	}
	return t, nil
}

// parseFilters reads repeated filter=key:value query params.
func parseFilters(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(values))
	for _, v := range values {
		parts := strings.SplitN(v, ":", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, errors.New(`filters must be "key:value"`)
		}
		out[parts[0]] = parts[1]
	}
	return out, nil
}

// RegisterAnalyticsRoutes registers the read-path endpoint.
//
// GET /analytics?event_type=&granularity=&start_date=&end_date=&filter=k:v
//
// Results come from the cache when fresh; a miss reads the repository and
// aggregates under a per-fingerprint single flight.
func RegisterAnalyticsRoutes(r gin.IRoutes, st EventStore, reg *metrics.Registry, ca *cache.Cache, ttl time.Duration, logger zerolog.Logger) {
	r.GET("/analytics", func(c *gin.Context) {
		et, err := models.ParseEventType(c.Query("event_type"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		g, err := timebucket.ParseGranularity(c.Query("granularity"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		start, err := parseDate(c.Query("start_date"), false)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start_date must be RFC3339 or YYYY-MM-DD"})
			return
		}
		end, err := parseDate(c.Query("end_date"), true)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end_date must be RFC3339 or YYYY-MM-DD"})
			return
		}
		if end.Before(start) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end_date must not precede start_date"})
			return
		}
		filters, err := parseFilters(c.QueryArray("filter"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		buckets := timebucket.RangeToBuckets(start, end, g)

		// The repository read spans whole buckets so edge windows are not
		// truncated; [queryFrom, queryTo) is half-open.
		queryFrom := buckets[0]
		queryTo := timebucket.Next(buckets[len(buckets)-1], g)

		fp := cache.Fingerprint(et, g, start, end, filters)
		rs, hit, err := ca.GetOrCompute(c.Request.Context(), fp, []models.EventType{et}, ttl, func(ctx context.Context) (aggregate.Resultset, error) {
			events, qErr := st.Query(ctx, et, queryFrom, queryTo, filters)
			if qErr != nil {
				return nil, qErr
			}
			return aggregate.Aggregate(events, g, nil)
		})
		if hit {
			reg.CacheHit()
		} else {
			reg.CacheMiss()
		}
		if err != nil {
			logger.Error().Err(err).
				Str("event_type", string(et)).
				Str("granularity", string(g)).
				Msg("analytics query failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		out := make([]models.AnalyticsBucket, 0, len(buckets))
		for _, period := range buckets {
			b := models.AnalyticsBucket{
				PeriodStart: period.Format(time.RFC3339),
				Sums:        map[string]float64{},
			}
			if r, ok := rs[period]; ok {
				b.Count = r.Count
				b.Sums = r.Sums
				b.Averages = r.Averages
				b.Rates = r.Rates
				b.Percentiles = r.Percentiles
			}
			out = append(out, b)
		}

		c.JSON(http.StatusOK, models.AnalyticsResponse{
			EventType:   string(et),
			Granularity: string(g),
			StartDate:   start.Format(time.RFC3339),
			EndDate:     end.Format(time.RFC3339),
			Filters:     filters,
			Buckets:     out,
		})
	})
}
