package tests

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"
)

////////////////////////////////////////////////////////////////////////////////
// INTEGRATION TEST SUITE
//
// These tests validate the service end-to-end:
//
//   Producer → HTTP API → Auth → Validation → Postgres → Aggregation → Response
//
// The service must already be running (for example via docker compose).
//
// Optional environment overrides:
//
//   BASE_URL         default http://localhost:8080
//   PRODUCER_KEY     default producer-key-123
//
////////////////////////////////////////////////////////////////////////////////

func baseURL() string {
	if v := os.Getenv("BASE_URL"); v != "" {
		return v
	}
	return "http://localhost:8080"
}

// producerKey returns the default API key for the test producer.
func producerKey() string {
	if v := os.Getenv("PRODUCER_KEY"); v != "" {
		return v
	}
	return "producer-key-123"
}

// unique generates a unique string so tests never collide with previous runs.
func unique(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

////////////////////////////////////////////////////////////////////////////////
// SERVICE READINESS HELPER
////////////////////////////////////////////////////////////////////////////////

// waitReady polls /ready until DB + server are ready. Prevents flaky
// failures when containers are still booting.
func waitReady(t *testing.T) {
	t.Helper()

	client := &http.Client{Timeout: 2 * time.Second}
	deadline := time.Now().Add(30 * time.Second)

	for time.Now().Before(deadline) {
		resp, err := client.Get(baseURL() + "/ready")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(300 * time.Millisecond)
	}

	t.Fatalf("service not ready after 30s")
}

////////////////////////////////////////////////////////////////////////////////
// GENERIC HTTP HELPERS
////////////////////////////////////////////////////////////////////////////////

// httpGet performs a GET request with optional API key.
func httpGet(t *testing.T, apiKey string, path string) (int, []byte) {
	t.Helper()

	req, _ := http.NewRequest("GET", baseURL()+path, nil)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := (&http.Client{Timeout: 5 * time.Second}).Do(req)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b
}

// postJSON performs a POST with a JSON body and optional API key.
func postJSON(t *testing.T, apiKey, path string, payload any) (int, []byte) {
	return postJSONIdem(t, apiKey, "", path, payload)
}

// postJSONIdem performs a POST with a JSON body and optional idempotency key.
func postJSONIdem(t *testing.T, apiKey, idemKey, path string, payload any) (int, []byte) {
	t.Helper()

	b, _ := json.Marshal(payload)

	req, _ := http.NewRequest("POST", baseURL()+path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}

	resp, err := (&http.Client{Timeout: 5 * time.Second}).Do(req)
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out
}

// postSale ingests one sale event for userID at ts.
func postSale(t *testing.T, userID string, ts time.Time, amount float64, status string) (int, []byte) {
	return postJSON(t, producerKey(), "/events", map[string]any{
		"event_type":  "sale",
		"occurred_at": ts.UTC().Format(time.RFC3339),
		"user_id":     userID,
		"amount":      amount,
		"currency":    "USD",
		"status":      status,
		"plan":        "pro",
	})
}

// getAnalytics queries the analytics endpoint for one user's sales.
func getAnalytics(t *testing.T, userID string, granularity string, start, end time.Time) (int, []byte) {
	u, _ := url.Parse(baseURL() + "/analytics")
	q := u.Query()
	q.Set("event_type", "sale")
	q.Set("granularity", granularity)
	q.Set("start_date", start.UTC().Format(time.RFC3339))
	q.Set("end_date", end.UTC().Format(time.RFC3339))
	q.Add("filter", "user_id:"+userID)
	u.RawQuery = q.Encode()

	req, _ := http.NewRequest("GET", u.String(), nil)
	req.Header.Set("X-API-Key", producerKey())

	resp, err := (&http.Client{Timeout: 5 * time.Second}).Do(req)
	if err != nil {
		t.Fatalf("GET analytics failed: %v", err)
	}
	defer resp.Body.Close()

	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out
}

type analyticsBody struct {
	Buckets []struct {
		PeriodStart string             `json:"period_start"`
		Count       int64              `json:"count"`
		Sums        map[string]float64 `json:"sums"`
		Rates       map[string]float64 `json:"rates"`
	} `json:"buckets"`
}

func parseAnalytics(t *testing.T, b []byte) analyticsBody {
	t.Helper()
	var body analyticsBody
	if err := json.Unmarshal(b, &body); err != nil {
		t.Fatalf("invalid analytics JSON: %v", err)
	}
	return body
}

func totalCount(body analyticsBody) int64 {
	var n int64
	for _, b := range body.Buckets {
		n += b.Count
	}
	return n
}

////////////////////////////////////////////////////////////////////////////////
// HEALTH & READINESS TESTS
////////////////////////////////////////////////////////////////////////////////

// Health endpoint = liveness check (server process running).
func TestHealth_ReturnsOK(t *testing.T) {
	s, _ := httpGet(t, "", "/health")
	if s != http.StatusOK {
		t.Fatalf("health expected 200 got %d", s)
	}
}

// Ready endpoint = dependency readiness (DB reachable).
func TestReady_ReturnsOK(t *testing.T) {
	waitReady(t)
	s, _ := httpGet(t, "", "/ready")
	if s != http.StatusOK {
		t.Fatalf("ready expected 200 got %d", s)
	}
}

////////////////////////////////////////////////////////////////////////////////
// AUTH TESTS
////////////////////////////////////////////////////////////////////////////////

func TestIngest_RequiresAPIKey(t *testing.T) {
	waitReady(t)
	s, _ := postJSON(t, "", "/events", map[string]any{"event_type": "sale"})
	if s != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", s)
	}
}

// The scrape endpoint is deliberately public: monitoring must always work.
func TestScrape_NoAuthRequired(t *testing.T) {
	waitReady(t)
	s, b := httpGet(t, "", "/metrics")
	if s != http.StatusOK {
		t.Fatalf("expected 200 got %d", s)
	}
	if !strings.Contains(string(b), "insights_") {
		t.Fatalf("expected exposition text, got: %.200s", b)
	}
}

////////////////////////////////////////////////////////////////////////////////
// INGESTION + ANALYTICS TESTS
////////////////////////////////////////////////////////////////////////////////

func TestIngest_RejectsMalformedEvent(t *testing.T) {
	waitReady(t)

	s, b := postJSON(t, producerKey(), "/events", map[string]any{
		"event_type":  "sale",
		"occurred_at": time.Now().UTC().Add(10 * time.Minute).Format(time.RFC3339),
		"user_id":     unique("user"),
		"amount":      9.99,
		"status":      "completed",
	})
	if s != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d: %s", s, b)
	}
	if !strings.Contains(string(b), "occurred_at") {
		t.Fatalf("expected offending field in body, got: %s", b)
	}
}

func TestIngestThenQuery_DailySales(t *testing.T) {
	waitReady(t)

	userID := unique("user")
	day := time.Now().UTC().Add(-24 * time.Hour).Truncate(24 * time.Hour)

	amounts := []float64{9.99, 29.99, 49.99, 15.99}
	for i, amount := range amounts {
		s, b := postSale(t, userID, day.Add(time.Duration(i+1)*time.Hour), amount, "completed")
		if s != http.StatusCreated {
			t.Fatalf("ingest expected 201 got %d: %s", s, b)
		}
	}
	s, b := postSale(t, userID, day.Add(6*time.Hour), 19.99, "failed")
	if s != http.StatusCreated {
		t.Fatalf("ingest expected 201 got %d: %s", s, b)
	}

	s, b = getAnalytics(t, userID, "day", day, day.Add(23*time.Hour))
	if s != http.StatusOK {
		t.Fatalf("analytics expected 200 got %d: %s", s, b)
	}

	body := parseAnalytics(t, b)
	if got := totalCount(body); got != 4 {
		t.Fatalf("expected 4 completed sales, got %d: %s", got, b)
	}

	var revenue float64
	for _, bucket := range body.Buckets {
		revenue += bucket.Sums["amount"]
	}
	if revenue < 105.95 || revenue > 105.97 {
		t.Fatalf("expected total revenue 105.96, got %v", revenue)
	}
}

// A write immediately followed by a query must reflect the write: the
// cached result is invalidated by the generation bump.
func TestQuery_SeesImmediatelyPrecedingWrite(t *testing.T) {
	waitReady(t)

	userID := unique("user")
	day := time.Now().UTC().Add(-24 * time.Hour).Truncate(24 * time.Hour)

	if s, b := postSale(t, userID, day.Add(time.Hour), 9.99, "completed"); s != http.StatusCreated {
		t.Fatalf("ingest expected 201 got %d: %s", s, b)
	}
	s, b := getAnalytics(t, userID, "day", day, day.Add(23*time.Hour))
	if s != http.StatusOK {
		t.Fatalf("analytics expected 200 got %d: %s", s, b)
	}
	if got := totalCount(parseAnalytics(t, b)); got != 1 {
		t.Fatalf("expected 1 sale, got %d", got)
	}

	if s, b := postSale(t, userID, day.Add(2*time.Hour), 29.99, "completed"); s != http.StatusCreated {
		t.Fatalf("ingest expected 201 got %d: %s", s, b)
	}
	s, b = getAnalytics(t, userID, "day", day, day.Add(23*time.Hour))
	if s != http.StatusOK {
		t.Fatalf("analytics expected 200 got %d: %s", s, b)
	}
	if got := totalCount(parseAnalytics(t, b)); got != 2 {
		t.Fatalf("query after write expected 2 sales, got %d", got)
	}
}

// A producer retry with the same Idempotency-Key is accepted once: the
// retry returns 200 with duplicate=true, and aggregates count one event.
func TestIngest_IdempotentRetry(t *testing.T) {
	waitReady(t)

	userID := unique("user")
	idemKey := unique("idem")
	day := time.Now().UTC().Add(-24 * time.Hour).Truncate(24 * time.Hour)

	payload := map[string]any{
		"event_type":  "sale",
		"occurred_at": day.Add(time.Hour).Format(time.RFC3339),
		"user_id":     userID,
		"amount":      9.99,
		"currency":    "USD",
		"status":      "completed",
	}

	s, b := postJSONIdem(t, producerKey(), idemKey, "/events", payload)
	if s != http.StatusCreated {
		t.Fatalf("first ingest expected 201 got %d: %s", s, b)
	}

	s, b = postJSONIdem(t, producerKey(), idemKey, "/events", payload)
	if s != http.StatusOK {
		t.Fatalf("retry expected 200 got %d: %s", s, b)
	}
	var resp struct {
		Duplicate bool `json:"duplicate"`
	}
	if err := json.Unmarshal(b, &resp); err != nil || !resp.Duplicate {
		t.Fatalf("retry expected duplicate=true, got: %s", b)
	}

	s, b = getAnalytics(t, userID, "day", day, day.Add(23*time.Hour))
	if s != http.StatusOK {
		t.Fatalf("analytics expected 200 got %d: %s", s, b)
	}
	if got := totalCount(parseAnalytics(t, b)); got != 1 {
		t.Fatalf("retried event must count once, got %d", got)
	}
}

func TestBatchIngest_PartialFailure(t *testing.T) {
	waitReady(t)

	userID := unique("user")
	past := time.Now().UTC().Add(-time.Hour)

	good := map[string]any{
		"event_type":  "sale",
		"occurred_at": past.Format(time.RFC3339),
		"user_id":     userID,
		"amount":      9.99,
		"status":      "completed",
	}
	bad := map[string]any{
		"event_type":  "sale",
		"occurred_at": past.Format(time.RFC3339),
		"user_id":     userID,
		"amount":      -1.0,
		"status":      "completed",
	}

	s, b := postJSON(t, producerKey(), "/events/batch", []map[string]any{good, bad})
	if s != http.StatusMultiStatus {
		t.Fatalf("expected 207 got %d: %s", s, b)
	}

	var resp struct {
		Accepted int `json:"accepted"`
		Rejected int `json:"rejected"`
	}
	if err := json.Unmarshal(b, &resp); err != nil {
		t.Fatalf("invalid batch JSON: %v", err)
	}
	if resp.Accepted != 1 || resp.Rejected != 1 {
		t.Fatalf("expected 1 accepted / 1 rejected, got %d/%d", resp.Accepted, resp.Rejected)
	}
}
