package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"payment-bridge/internal/models"

	"github.com/lib/pq"
)

// ErrDuplicateEvent is returned by CreateEvent when another writer already
// inserted a row with the same event_id. Callers treat this as a benign
// concurrent redelivery, not a failure.
var ErrDuplicateEvent = errors.New("webhook event already exists")

const uniqueViolationCode = "23505"

// GetEventByEventID retrieves an event by its provider-scoped event_id.
// Returns (nil, nil) when no row exists.
func (s *Store) GetEventByEventID(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	err := s.db.GetContext(ctx, &event,
		"SELECT * FROM webhook_events WHERE event_id = $1", eventID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// GetEventsByCorrelationID retrieves events by the foreign-system order/cart id
func (s *Store) GetEventsByCorrelationID(ctx context.Context, correlationID string) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := s.db.SelectContext(ctx, &events,
		"SELECT * FROM webhook_events WHERE correlation_id = $1 ORDER BY created_at DESC", correlationID)
	return events, err
}

// CreateEvent inserts a new event row. A unique-constraint violation on
// event_id is mapped to ErrDuplicateEvent.
func (s *Store) CreateEvent(ctx context.Context, event *models.WebhookEvent) error {
	query := `
		INSERT INTO webhook_events (event_id, provider, event_type, correlation_id, payload)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, processed, created_at, updated_at`

	err := s.db.GetContext(ctx, event, query,
		event.EventID, event.Provider, event.EventType, event.CorrelationID, event.Payload)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolationCode {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("failed to create webhook event: %w", err)
	}
	return nil
}

// ClearEventError clears a prior failure so a redelivery can retry the event
func (s *Store) ClearEventError(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE webhook_events SET error_message = NULL, updated_at = NOW() WHERE id = $1", id)
	return err
}

// MarkEventProcessed flips processed to true at the end of a successful execution
func (s *Store) MarkEventProcessed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE webhook_events SET processed = TRUE, updated_at = NOW() WHERE id = $1", id)
	return err
}

// MarkEventFailed records a failure cause, leaving processed false so a
// future redelivery triggers a retry
func (s *Store) MarkEventFailed(ctx context.Context, id int64, message string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE webhook_events SET error_message = $1, updated_at = NOW() WHERE id = $2",
		message, id)
	return err
}
