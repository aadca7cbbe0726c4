package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType discriminates the four event variants accepted by the service.
type EventType string

const (
	EventAIRequest   EventType = "ai_request"
	EventEngagement  EventType = "engagement"
	EventSale        EventType = "sale"
	EventPerformance EventType = "performance"
)

// AllEventTypes lists every known event type in a stable order.
func AllEventTypes() []EventType {
	return []EventType{EventAIRequest, EventEngagement, EventSale, EventPerformance}
}

// ParseEventType validates a wire-level event type string.
func ParseEventType(s string) (EventType, error) {
	switch EventType(s) {
	case EventAIRequest, EventEngagement, EventSale, EventPerformance:
		return EventType(s), nil
	}
	return "", fmt.Errorf("unknown event type %q", s)
}

// Event is the closed union over the four variants. Values are immutable
// once they pass validation; downstream code switches exhaustively on the
// concrete type, never on ad-hoc field probing.
type Event interface {
	Type() EventType
	Time() time.Time
}

// AIRequestEvent records a single AI-inference call.
type AIRequestEvent struct {
	UserID     string    `json:"user_id"`
	Service    string    `json:"service"`
	Endpoint   string    `json:"endpoint"`
	DurationMs int64     `json:"duration_ms"`
	Tokens     int64     `json:"tokens"`
	Cost       float64   `json:"cost"`
	Success    bool      `json:"success"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e AIRequestEvent) Type() EventType { return EventAIRequest }
func (e AIRequestEvent) Time() time.Time { return e.OccurredAt }

// EngagementEvent records a user interaction (page view, click, ...).
type EngagementEvent struct {
	UserID     string    `json:"user_id"`
	SessionID  string    `json:"session_id"`
	Action     string    `json:"action"`
	Page       string    `json:"page"`
	DurationMs int64     `json:"duration_ms"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e EngagementEvent) Type() EventType { return EventEngagement }
func (e EngagementEvent) Time() time.Time { return e.OccurredAt }

// SalesEvent records one sales transaction.
type SalesEvent struct {
	UserID     string    `json:"user_id"`
	Amount     float64   `json:"amount"`
	Currency   string    `json:"currency"`
	Status     string    `json:"status"`
	Plan       string    `json:"plan"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e SalesEvent) Type() EventType { return EventSale }
func (e SalesEvent) Time() time.Time { return e.OccurredAt }

// PerformanceEvent records one sampled HTTP request served by an upstream app.
type PerformanceEvent struct {
	Endpoint       string    `json:"endpoint"`
	Method         string    `json:"method"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	StatusCode     int       `json:"status_code"`
	UserID         string    `json:"user_id"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func (e PerformanceEvent) Type() EventType { return EventPerformance }
func (e PerformanceEvent) Time() time.Time { return e.OccurredAt }

// DecodeEvent rebuilds a typed Event from its persisted JSON payload.
func DecodeEvent(et EventType, payload []byte) (Event, error) {
	switch et {
	case EventAIRequest:
		var e AIRequestEvent
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, err
		}
		return e, nil
	case EventEngagement:
		var e EngagementEvent
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, err
		}
		return e, nil
	case EventSale:
		var e SalesEvent
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, err
		}
		return e, nil
	case EventPerformance:
		var e PerformanceEvent
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, err
		}
		return e, nil
	}
	return nil, fmt.Errorf("unknown event type %q", et)
}

// UserIDOf returns the user_id carried by any variant.
func UserIDOf(e Event) string {
	switch v := e.(type) {
	case AIRequestEvent:
		return v.UserID
	case EngagementEvent:
		return v.UserID
	case SalesEvent:
		return v.UserID
	case PerformanceEvent:
		return v.UserID
	}
	return ""
}
