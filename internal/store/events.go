package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
)

// Event is one recorded gateway notification or status observation for a
// payment. The log is append-only; the latest row per external id is the
// authoritative local view.
type Event struct {
	PaymentID  string
	ExternalID string
	Status     string
	Payload    []byte
	CreatedAt  time.Time
}

// EventStore persists payment events. A nil pool disables persistence so the
// receiver keeps acknowledging notifications when the database is down or
// not configured.
type EventStore struct {
	Pool   *pgxpool.Pool
	Logger zerolog.Logger
}

// RecordEvent appends one event row. Errors are logged and swallowed; the
// audit trail must never fail the webhook acknowledgement.
func (s *EventStore) RecordEvent(ctx context.Context, ev Event) {
	if s == nil || s.Pool == nil {
		return
	}
	ctx, span := otel.Tracer("store").Start(ctx, "store.RecordEvent")
	defer span.End()

	payload := ev.Payload
	if payload == nil {
		payload = []byte("{}")
	}
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO payment_events (payment_id, external_id, status, payload)
		 VALUES ($1, $2, $3, $4)`,
		ev.PaymentID, ev.ExternalID, strings.ToUpper(strings.TrimSpace(ev.Status)), payload,
	)
	if err != nil {
		s.Logger.Error().Err(err).
			Str("payment_id", ev.PaymentID).
			Str("external_id", ev.ExternalID).
			Msg("record payment event failed")
	}
}

// LatestStatus returns the most recently recorded status for the external id,
// or empty when nothing was recorded yet.
func (s *EventStore) LatestStatus(ctx context.Context, externalID string) (string, error) {
	if s == nil || s.Pool == nil {
		return "", nil
	}
	ctx, span := otel.Tracer("store").Start(ctx, "store.LatestStatus")
	defer span.End()

	var status string
	err := s.Pool.QueryRow(ctx,
		`SELECT status FROM payment_events
		 WHERE external_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		externalID,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return status, nil
}

// LatestStatusByPayment returns the most recently recorded status for the
// gateway payment id, or empty when nothing was recorded yet.
func (s *EventStore) LatestStatusByPayment(ctx context.Context, paymentID string) (string, error) {
	if s == nil || s.Pool == nil {
		return "", nil
	}
	var status string
	err := s.Pool.QueryRow(ctx,
		`SELECT status FROM payment_events
		 WHERE payment_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		paymentID,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return status, nil
}

// PaymentID returns the payment id most recently associated with the
// external id. Used as the durable fallback behind the Redis correlation.
func (s *EventStore) PaymentID(ctx context.Context, externalID string) (string, error) {
	if s == nil || s.Pool == nil {
		return "", nil
	}
	var paymentID string
	err := s.Pool.QueryRow(ctx,
		`SELECT payment_id FROM payment_events
		 WHERE external_id = $1 AND payment_id <> ''
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		externalID,
	).Scan(&paymentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return paymentID, nil
}
