package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/statlane/event-insights/internal/models"
)

// schemaSQL is embedded so the service can self-bootstrap its database schema.
//
//go:embed schema.sql
var schemaSQL string

const (
	maxAttempts  = 3
	retryBackoff = 100 * time.Millisecond
)

// RepositoryError wraps a storage failure after retry exhaustion.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string { return "repository " + e.Op + ": " + e.Err.Error() }
func (e *RepositoryError) Unwrap() error { return e.Err }

// PostgresStore is the durable append-only event repository.
type PostgresStore struct {
	pool *pgxpool.Pool

	// OnRetry, when set, is called once per retried transient error.
	OnRetry func()
}

// NewPostgresStore creates a connection pool and fails fast if the
// database is unreachable.
func NewPostgresStore(dbURL string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema applies schema.sql. Safe to run multiple times.
func (p *PostgresStore) EnsureSchema() error {
	_, err := p.pool.Exec(context.Background(), schemaSQL)
	return err
}

// Ping is used by the readiness endpoint to validate DB connectivity.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (p *PostgresStore) Close() {
	p.pool.Close()
}

// retryable reports whether an error class is worth another attempt.
// Context cancellation is terminal; so are constraint violations.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if pgconn.SafeToRetry(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection exceptions; everything else is a real
		// statement failure.
		return strings.HasPrefix(pgErr.Code, "08")
	}
	// Unclassified errors (dropped connections, pool timeouts) get retried.
	return true
}

// withRetry runs fn with bounded backoff on transient failures.
func (p *PostgresStore) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if p.OnRetry != nil {
				p.OnRetry()
			}
			select {
			case <-time.After(retryBackoff << (attempt - 1)):
			case <-ctx.Done():
				return &RepositoryError{Op: op, Err: ctx.Err()}
			}
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		if !retryable(err) {
			break
		}
	}
	return &RepositoryError{Op: op, Err: err}
}

// Append persists one validated event under its idempotency key and
// reports inserted=false when the key already exists. Duplicate detection
// is enforced by the primary key on event_id, which is compatible with
// producer retries and at-least-once delivery. Events are immutable: there
// is no update or delete path in this store.
func (p *PostgresStore) Append(ctx context.Context, e models.Event, eventID, producerID string) (bool, error) {
	if eventID == "" {
		return false, &RepositoryError{Op: "append", Err: errors.New("eventID required")}
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return false, &RepositoryError{Op: "append", Err: err}
	}

	inserted := false
	err = p.withRetry(ctx, "append", func(ctx context.Context) error {
		tag, execErr := p.pool.Exec(ctx, `
			INSERT INTO events(event_id, event_type, occurred_at, producer_id, user_id, payload)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (event_id) DO NOTHING
		`, eventID, string(e.Type()), e.Time(), producerID, models.UserIDOf(e), payload)
		if execErr != nil {
			return execErr
		}
		inserted = tag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// Query returns all events of one type inside the half-open window
// [from, to), optionally narrowed by filter tags. Tags match against the
// stored payload by jsonb containment, bound as a single parameter, so
// tag values are never part of the SQL text. Result order is unspecified;
// the aggregation engine is order-independent.
func (p *PostgresStore) Query(ctx context.Context, et models.EventType, from, to time.Time, filters map[string]string) ([]models.Event, error) {
	filterDoc := map[string]string{}
	for k, v := range filters {
		filterDoc[k] = v
	}
	filterJSON, err := json.Marshal(filterDoc)
	if err != nil {
		return nil, &RepositoryError{Op: "query", Err: err}
	}

	var events []models.Event
	err = p.withRetry(ctx, "query", func(ctx context.Context) error {
		rows, qErr := p.pool.Query(ctx, `
			SELECT payload
			FROM events
			WHERE event_type = $1
			  AND occurred_at >= $2
			  AND occurred_at <  $3
			  AND payload @> $4
		`, string(et), from, to, filterJSON)
		if qErr != nil {
			return qErr
		}
		defer rows.Close()

		events = events[:0]
		for rows.Next() {
			var payload []byte
			if sErr := rows.Scan(&payload); sErr != nil {
				return sErr
			}
			e, dErr := models.DecodeEvent(et, payload)
			if dErr != nil {
				return fmt.Errorf("decode stored event: %w", dErr)
			}
			events = append(events, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}
