// Package validate normalizes raw ingest payloads into typed, immutable
// events. Validation is a pure function: no I/O, no clock reads other than
// the injected now argument on the exported wrapper.
package validate

import (
	"fmt"
	"strings"
	"time"

	"github.com/statlane/event-insights/internal/models"
)

// ClockSkewTolerance is how far in the future occurred_at may be before an
// event is rejected as unparsable producer clock drift.
const ClockSkewTolerance = 5 * time.Minute

// Closed enumerations per variant. String fields outside these sets are
// rejected; everything else is treated as opaque data and only ever bound
// as a query parameter downstream, never interpolated.
var (
	saleStatuses = map[string]bool{
		"completed": true,
		"failed":    true,
		"refunded":  true,
		"pending":   true,
	}
	engagementActions = map[string]bool{
		"page_view":     true,
		"click":         true,
		"scroll":        true,
		"session_start": true,
		"session_end":   true,
	}
	httpMethods = map[string]bool{
		"GET": true, "POST": true, "PUT": true, "PATCH": true,
		"DELETE": true, "HEAD": true, "OPTIONS": true,
	}
)

// FieldError names one violated field.
type FieldError struct {
	Field   string
	Message string
}

// FieldErrors is the validation error for a single event; it carries every
// violation so the caller can report them all at once.
type FieldErrors []FieldError

func (fe FieldErrors) Error() string {
	parts := make([]string, len(fe))
	for i, f := range fe {
		parts[i] = f.Field + ": " + f.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Violations converts to the wire DTO used in 400 responses.
func (fe FieldErrors) Violations() []models.FieldViolation {
	out := make([]models.FieldViolation, len(fe))
	for i, f := range fe {
		out[i] = models.FieldViolation{Field: f.Field, Message: f.Message}
	}
	return out
}

type checker struct {
	errs FieldErrors
}

func (c *checker) add(field, msg string) {
	c.errs = append(c.errs, FieldError{Field: field, Message: msg})
}

func (c *checker) requireString(field, v string) {
	if strings.TrimSpace(v) == "" {
		c.add(field, "required")
	}
}

func (c *checker) nonNegativeInt(field string, v *int64) int64 {
	if v == nil {
		return 0
	}
	if *v < 0 {
		c.add(field, "must be non-negative")
		return 0
	}
	return *v
}

func (c *checker) nonNegativeFloat(field string, v *float64) float64 {
	if v == nil {
		return 0
	}
	if *v < 0 {
		c.add(field, "must be non-negative")
		return 0
	}
	return *v
}

func (c *checker) enum(field, v string, allowed map[string]bool) {
	if v != "" && !allowed[v] {
		c.add(field, fmt.Sprintf("%q is not an allowed value", v))
	}
}

// Validate checks req against the current wall clock.
func Validate(req models.IngestRequest) (models.Event, error) {
	return ValidateAt(req, time.Now())
}

// ValidateAt checks req against an explicit clock, returning a fully-typed
// immutable Event with optional numerics defaulted to zero, or a
// FieldErrors listing every violation.
func ValidateAt(req models.IngestRequest, now time.Time) (models.Event, error) {
	c := &checker{}

	et, etErr := models.ParseEventType(req.EventType)
	if req.EventType == "" {
		c.add("event_type", "required")
	} else if etErr != nil {
		c.add("event_type", etErr.Error())
	}

	var occurredAt time.Time
	if req.OccurredAt == "" {
		c.add("occurred_at", "required")
	} else {
		t, err := time.Parse(time.RFC3339, req.OccurredAt)
		if err != nil {
			c.add("occurred_at", "must be RFC3339")
		} else if t.After(now.Add(ClockSkewTolerance)) {
			c.add("occurred_at", "is in the future")
		} else {
			occurredAt = t.UTC()
		}
	}

	if len(c.errs) > 0 && etErr != nil {
		// Without a variant there is nothing further to check.
		return nil, c.errs
	}

	var ev models.Event
	switch et {
	case models.EventAIRequest:
		c.requireString("user_id", req.UserID)
		c.requireString("service", req.Service)
		c.requireString("endpoint", req.Endpoint)
		if req.Success == nil {
			c.add("success", "required")
		}
		e := models.AIRequestEvent{
			UserID:     req.UserID,
			Service:    req.Service,
			Endpoint:   req.Endpoint,
			DurationMs: c.nonNegativeInt("duration_ms", req.DurationMs),
			Tokens:     c.nonNegativeInt("tokens", req.Tokens),
			Cost:       c.nonNegativeFloat("cost", req.Cost),
			OccurredAt: occurredAt,
		}
		if req.Success != nil {
			e.Success = *req.Success
		}
		ev = e

	case models.EventEngagement:
		c.requireString("user_id", req.UserID)
		c.requireString("session_id", req.SessionID)
		c.requireString("action", req.Action)
		c.enum("action", req.Action, engagementActions)
		ev = models.EngagementEvent{
			UserID:     req.UserID,
			SessionID:  req.SessionID,
			Action:     req.Action,
			Page:       req.Page,
			DurationMs: c.nonNegativeInt("duration_ms", req.DurationMs),
			OccurredAt: occurredAt,
		}

	case models.EventSale:
		c.requireString("user_id", req.UserID)
		c.requireString("status", req.Status)
		c.enum("status", req.Status, saleStatuses)
		if req.Amount == nil {
			c.add("amount", "required")
		}
		currency := strings.ToUpper(req.Currency)
		if currency == "" {
			currency = "USD"
		} else if len(currency) != 3 {
			c.add("currency", "must be a 3-letter code")
		}
		ev = models.SalesEvent{
			UserID:     req.UserID,
			Amount:     c.nonNegativeFloat("amount", req.Amount),
			Currency:   currency,
			Status:     req.Status,
			Plan:       req.Plan,
			OccurredAt: occurredAt,
		}

	case models.EventPerformance:
		c.requireString("endpoint", req.Endpoint)
		method := strings.ToUpper(req.Method)
		c.requireString("method", method)
		c.enum("method", method, httpMethods)
		if req.StatusCode == nil {
			c.add("status_code", "required")
		} else if *req.StatusCode < 100 || *req.StatusCode > 599 {
			c.add("status_code", "must be between 100 and 599")
		}
		e := models.PerformanceEvent{
			Endpoint:       req.Endpoint,
			Method:         method,
			ResponseTimeMs: c.nonNegativeInt("response_time_ms", req.ResponseTimeMs),
			UserID:         req.UserID,
			OccurredAt:     occurredAt,
		}
		if req.StatusCode != nil {
			e.StatusCode = *req.StatusCode
		}
		ev = e
	}

	if len(c.errs) > 0 {
		return nil, c.errs
	}
	return ev, nil
}
