package models

// IngestRequest is the POST /events payload: one flat JSON object with an
// event_type discriminator. Numeric fields are pointers so the validator can
// tell "absent" apart from an explicit zero.
//
// event_id is optional; best practice is to pass an Idempotency-Key header
// for retries.
type IngestRequest struct {
	EventID    string `json:"event_id,omitempty"`
	EventType  string `json:"event_type"`
	OccurredAt string `json:"occurred_at"`
	UserID     string `json:"user_id,omitempty"`

	// ai_request
	Service  string   `json:"service,omitempty"`
	Endpoint string   `json:"endpoint,omitempty"`
	Tokens   *int64   `json:"tokens,omitempty"`
	Cost     *float64 `json:"cost,omitempty"`
	Success  *bool    `json:"success,omitempty"`

	// engagement
	SessionID string `json:"session_id,omitempty"`
	Action    string `json:"action,omitempty"`
	Page      string `json:"page,omitempty"`

	// sale
	Amount   *float64 `json:"amount,omitempty"`
	Currency string   `json:"currency,omitempty"`
	Status   string   `json:"status,omitempty"`
	Plan     string   `json:"plan,omitempty"`

	// performance
	Method         string `json:"method,omitempty"`
	ResponseTimeMs *int64 `json:"response_time_ms,omitempty"`
	StatusCode     *int   `json:"status_code,omitempty"`

	// shared by ai_request and engagement
	DurationMs *int64 `json:"duration_ms,omitempty"`
}

// IngestResponse is returned by POST /events on success.
// Duplicate indicates idempotent success (the event already existed).
type IngestResponse struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Duplicate bool   `json:"duplicate"`
}

// FieldViolation names one rejected field in a 400 response.
type FieldViolation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// BatchItemResult reports the outcome for one event of a batch. Validation
// failures are per-event; a bad event never fails the rest of the batch.
type BatchItemResult struct {
	Index     int              `json:"index"`
	Accepted  bool             `json:"accepted"`
	Duplicate bool             `json:"duplicate,omitempty"`
	EventID   string           `json:"event_id,omitempty"`
	Fields    []FieldViolation `json:"fields,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// BatchIngestResponse is returned by POST /events/batch.
type BatchIngestResponse struct {
	Accepted int               `json:"accepted"`
	Rejected int               `json:"rejected"`
	Results  []BatchItemResult `json:"results"`
}

// AnalyticsBucket is one time window of a GET /analytics response, in
// ascending period order.
type AnalyticsBucket struct {
	PeriodStart string             `json:"period_start"`
	Count       int64              `json:"count"`
	Sums        map[string]float64 `json:"sums"`
	Averages    map[string]float64 `json:"averages,omitempty"`
	Rates       map[string]float64 `json:"rates,omitempty"`
	Percentiles map[string]float64 `json:"percentiles,omitempty"`
}

// AnalyticsResponse is the full GET /analytics body.
type AnalyticsResponse struct {
	EventType   string            `json:"event_type"`
	Granularity string            `json:"granularity"`
	StartDate   string            `json:"start_date"`
	EndDate     string            `json:"end_date"`
	Filters     map[string]string `json:"filters,omitempty"`
	Buckets     []AnalyticsBucket `json:"buckets"`
}
