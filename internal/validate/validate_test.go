package validate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statlane/event-insights/internal/models"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func ptrI(v int64) *int64     { return &v }
func ptrF(v float64) *float64 { return &v }
func ptrB(v bool) *bool       { return &v }
func ptrInt(v int) *int       { return &v }

func validAIRequest() models.IngestRequest {
	return models.IngestRequest{
		EventType:  "ai_request",
		OccurredAt: testNow.Add(-time.Hour).Format(time.RFC3339),
		UserID:     "u1",
		Service:    "completion",
		Endpoint:   "/v1/complete",
		DurationMs: ptrI(1200),
		Tokens:     ptrI(450),
		Cost:       ptrF(0.002),
		Success:    ptrB(true),
	}
}

// fieldNames collects the rejected field names from a validation error.
func fieldNames(t *testing.T, err error) []string {
	t.Helper()
	fe, ok := err.(FieldErrors)
	require.True(t, ok, "expected FieldErrors, got %T", err)
	names := make([]string, len(fe))
	for i, f := range fe {
		names[i] = f.Field
	}
	return names
}

func TestValidateAIRequest(t *testing.T) {
	ev, err := ValidateAt(validAIRequest(), testNow)
	require.NoError(t, err)

	ai, ok := ev.(models.AIRequestEvent)
	require.True(t, ok)
	assert.Equal(t, models.EventAIRequest, ai.Type())
	assert.Equal(t, "u1", ai.UserID)
	assert.Equal(t, int64(1200), ai.DurationMs)
	assert.True(t, ai.Success)
	assert.Equal(t, time.UTC, ai.OccurredAt.Location())
}

func TestValidateDefaultsOptionalNumerics(t *testing.T) {
	req := validAIRequest()
	req.Tokens = nil
	req.Cost = nil
	req.DurationMs = nil

	ev, err := ValidateAt(req, testNow)
	require.NoError(t, err)

	ai := ev.(models.AIRequestEvent)
	assert.Zero(t, ai.Tokens)
	assert.Zero(t, ai.Cost)
	assert.Zero(t, ai.DurationMs)
}

func TestValidateRejectsNegativeDuration(t *testing.T) {
	req := validAIRequest()
	req.DurationMs = ptrI(-50)

	_, err := ValidateAt(req, testNow)
	require.Error(t, err)
	assert.Contains(t, fieldNames(t, err), "duration_ms")
}

func TestValidateRejectsFutureTimestamp(t *testing.T) {
	req := validAIRequest()
	req.OccurredAt = testNow.Add(10 * time.Minute).Format(time.RFC3339)

	_, err := ValidateAt(req, testNow)
	require.Error(t, err)
	assert.Contains(t, fieldNames(t, err), "occurred_at")
}

func TestValidateAcceptsSmallClockSkew(t *testing.T) {
	req := validAIRequest()
	req.OccurredAt = testNow.Add(3 * time.Minute).Format(time.RFC3339)

	_, err := ValidateAt(req, testNow)
	assert.NoError(t, err)
}

func TestValidateRejectsUnparsableTimestamp(t *testing.T) {
	req := validAIRequest()
	req.OccurredAt = "yesterday"

	_, err := ValidateAt(req, testNow)
	require.Error(t, err)
	assert.Contains(t, fieldNames(t, err), "occurred_at")
}

func TestValidateRejectsUnknownEventType(t *testing.T) {
	req := validAIRequest()
	req.EventType = "telemetry"

	_, err := ValidateAt(req, testNow)
	require.Error(t, err)
	assert.Contains(t, fieldNames(t, err), "event_type")
}

func TestValidateCollectsAllViolations(t *testing.T) {
	req := validAIRequest()
	req.UserID = ""
	req.DurationMs = ptrI(-1)
	req.Tokens = ptrI(-1)

	_, err := ValidateAt(req, testNow)
	require.Error(t, err)
	names := fieldNames(t, err)
	assert.ElementsMatch(t, []string{"user_id", "duration_ms", "tokens"}, names)
}

func TestValidateEngagement(t *testing.T) {
	req := models.IngestRequest{
		EventType:  "engagement",
		OccurredAt: testNow.Add(-time.Minute).Format(time.RFC3339),
		UserID:     "u2",
		SessionID:  "s9",
		Action:     "page_view",
		Page:       "/pricing",
		DurationMs: ptrI(5400),
	}
	ev, err := ValidateAt(req, testNow)
	require.NoError(t, err)

	en := ev.(models.EngagementEvent)
	assert.Equal(t, "page_view", en.Action)
	assert.Equal(t, "/pricing", en.Page)

	req.Action = "hover"
	_, err = ValidateAt(req, testNow)
	require.Error(t, err)
	assert.Contains(t, fieldNames(t, err), "action")
}

func TestValidateSale(t *testing.T) {
	req := models.IngestRequest{
		EventType:  "sale",
		OccurredAt: testNow.Add(-time.Minute).Format(time.RFC3339),
		UserID:     "u3",
		Amount:     ptrF(29.99),
		Currency:   "usd",
		Status:     "completed",
		Plan:       "pro",
	}
	ev, err := ValidateAt(req, testNow)
	require.NoError(t, err)

	s := ev.(models.SalesEvent)
	assert.Equal(t, "USD", s.Currency, "currency normalized to upper case")
	assert.Equal(t, 29.99, s.Amount)

	req.Status = "chargeback"
	_, err = ValidateAt(req, testNow)
	require.Error(t, err)
	assert.Contains(t, fieldNames(t, err), "status")

	req.Status = "completed"
	req.Amount = nil
	_, err = ValidateAt(req, testNow)
	require.Error(t, err)
	assert.Contains(t, fieldNames(t, err), "amount")
}

func TestValidateSaleDefaultsCurrency(t *testing.T) {
	req := models.IngestRequest{
		EventType:  "sale",
		OccurredAt: testNow.Add(-time.Minute).Format(time.RFC3339),
		UserID:     "u3",
		Amount:     ptrF(9.99),
		Status:     "pending",
	}
	ev, err := ValidateAt(req, testNow)
	require.NoError(t, err)
	assert.Equal(t, "USD", ev.(models.SalesEvent).Currency)
}

func TestValidatePerformance(t *testing.T) {
	req := models.IngestRequest{
		EventType:      "performance",
		OccurredAt:     testNow.Add(-time.Minute).Format(time.RFC3339),
		Endpoint:       "/api/orders",
		Method:         "get",
		ResponseTimeMs: ptrI(240),
		StatusCode:     ptrInt(200),
	}
	ev, err := ValidateAt(req, testNow)
	require.NoError(t, err)

	p := ev.(models.PerformanceEvent)
	assert.Equal(t, "GET", p.Method, "method normalized to upper case")
	assert.Equal(t, 200, p.StatusCode)

	req.StatusCode = ptrInt(999)
	_, err = ValidateAt(req, testNow)
	require.Error(t, err)
	assert.Contains(t, fieldNames(t, err), "status_code")

	req.StatusCode = nil
	_, err = ValidateAt(req, testNow)
	require.Error(t, err)
	assert.Contains(t, fieldNames(t, err), "status_code")
}

func TestValidateMissingEverything(t *testing.T) {
	_, err := ValidateAt(models.IngestRequest{}, testNow)
	require.Error(t, err)
	names := fieldNames(t, err)
	assert.Contains(t, names, "event_type")
	assert.Contains(t, names, "occurred_at")
}
