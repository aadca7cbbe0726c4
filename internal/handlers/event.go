package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/statlane/event-insights/internal/auth"
	"github.com/statlane/event-insights/internal/cache"
	"github.com/statlane/event-insights/internal/metrics"
	"github.com/statlane/event-insights/internal/models"
	"github.com/statlane/event-insights/internal/validate"
)

// EventStore is the repository contract the handlers consume. The concrete
// implementation is Postgres; tests substitute an in-memory fake.
type EventStore interface {
	Append(ctx context.Context, e models.Event, eventID, producerID string) (bool, error)
	Query(ctx context.Context, et models.EventType, from, to time.Time, filters map[string]string) ([]models.Event, error)
	Ping(ctx context.Context) error
}

// RegisterEventRoutes registers the write-path endpoints.
//
// POST /events       — one event; 201 on accept, 200 on idempotent
//                      duplicate, 400 with field detail
// POST /events/batch — array of events; per-event outcomes, never batch-fatal
func RegisterEventRoutes(r gin.IRoutes, st EventStore, reg *metrics.Registry, ca *cache.Cache, logger zerolog.Logger) {
	r.POST("/events", func(c *gin.Context) {
		var req models.IngestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
			return
		}

		// Idempotency precedence:
		// 1) Idempotency-Key header (recommended for retries)
		// 2) event_id in payload
		// 3) generated UUID (fallback; cannot dedupe client retries)
		eventID := c.GetHeader("Idempotency-Key")
		if eventID == "" {
			eventID = req.EventID
		}
		if eventID == "" {
			eventID = uuid.New().String()
		}

		res := ingestOne(c.Request.Context(), req, eventID, auth.ProducerID(c), st, reg, ca, logger)
		switch {
		case res.Fields != nil:
			c.JSON(http.StatusBadRequest, gin.H{
				"error":  "validation failed",
				"fields": res.Fields,
			})
		case !res.Accepted:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		default:
			// 201 for new events, 200 for duplicates (idempotent success).
			status := http.StatusCreated
			if res.Duplicate {
				status = http.StatusOK
			}
			c.JSON(status, models.IngestResponse{
				EventID:   res.EventID,
				EventType: req.EventType,
				Duplicate: res.Duplicate,
			})
		}
	})

	r.POST("/events/batch", func(c *gin.Context) {
		var reqs []models.IngestRequest
		if err := c.ShouldBindJSON(&reqs); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
			return
		}
		if len(reqs) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "batch must not be empty"})
			return
		}

		producerID := auth.ProducerID(c)
		resp := models.BatchIngestResponse{Results: make([]models.BatchItemResult, 0, len(reqs))}
		for i, req := range reqs {
			eventID := req.EventID
			if eventID == "" {
				eventID = uuid.New().String()
			}
			res := ingestOne(c.Request.Context(), req, eventID, producerID, st, reg, ca, logger)
			res.Index = i
			if res.Accepted {
				resp.Accepted++
			} else {
				resp.Rejected++
			}
			resp.Results = append(resp.Results, res)
		}

		// The batch call itself succeeds as long as it was processed;
		// individual outcomes are in the body.
		c.JSON(http.StatusMultiStatus, resp)
	})
}

// ingestOne runs the full write path for a single event: validate →
// persist → live counters → cache invalidation. A rejected event never
// reaches the repository or the counter registry; a duplicate is
// idempotent success and must not bump counters or invalidate the cache,
// since no new row exists to change any aggregate.
func ingestOne(ctx context.Context, req models.IngestRequest, eventID, producerID string, st EventStore, reg *metrics.Registry, ca *cache.Cache, logger zerolog.Logger) models.BatchItemResult {
	ev, err := validate.Validate(req)
	if err != nil {
		var fe validate.FieldErrors
		if errors.As(err, &fe) {
			reg.RecordRejected(req.EventType)
			return models.BatchItemResult{Fields: fe.Violations()}
		}
		logger.Error().Err(err).Msg("validation failed unexpectedly")
		return models.BatchItemResult{Error: "internal error"}
	}

	inserted, err := st.Append(ctx, ev, eventID, producerID)
	if err != nil {
		logger.Error().Err(err).
			Str("producer_id", producerID).
			Str("event_type", string(ev.Type())).
			Msg("event append failed")
		return models.BatchItemResult{Error: "storage error"}
	}
	if !inserted {
		logger.Debug().
			Str("producer_id", producerID).
			Str("event_id", eventID).
			Msg("duplicate event ignored")
		return models.BatchItemResult{Accepted: true, Duplicate: true, EventID: eventID}
	}

	reg.RecordEvent(ev)
	ca.Invalidate(ev.Type())

	return models.BatchItemResult{Accepted: true, EventID: eventID}
}
