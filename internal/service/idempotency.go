// Package service contains the webhook admission and settlement
// orchestration sitting between the HTTP handlers, the event store, the
// gateway, and the fulfillment backend.
package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"payment-bridge/internal/models"
	"payment-bridge/internal/store"
	"payment-bridge/internal/util"
)

// Outcome is the admission decision for a delivered webhook event.
type Outcome string

const (
	// OutcomeExecute means this delivery owns the event and must run the handler.
	OutcomeExecute Outcome = "execute"
	// OutcomeRetry means a prior delivery failed and this one should run again.
	OutcomeRetry Outcome = "retry"
	// OutcomeSkip means the event is already processed or currently in flight.
	OutcomeSkip Outcome = "skip"
)

// EventStore is the persistence surface the coordinator needs.
type EventStore interface {
	GetEventByEventID(ctx context.Context, eventID string) (*models.WebhookEvent, error)
	CreateEvent(ctx context.Context, event *models.WebhookEvent) error
	ClearEventError(ctx context.Context, id int64) error
	MarkEventProcessed(ctx context.Context, id int64) error
	MarkEventFailed(ctx context.Context, id int64, message string) error
}

// Admission is the result of Admit: the decision plus the event row it is
// about, so Finalize can address the same row.
type Admission struct {
	Outcome Outcome
	Event   *models.WebhookEvent
}

// IdempotencyCoordinator decides, per delivered event id, whether a webhook
// handler runs. The guarantee rests on the unique constraint on event_id:
// concurrent first deliveries race on the insert and exactly one wins.
type IdempotencyCoordinator struct {
	store  EventStore
	logger *zap.Logger
}

func NewIdempotencyCoordinator(st EventStore) *IdempotencyCoordinator {
	return &IdempotencyCoordinator{store: st, logger: util.GetLogger()}
}

// Admit records the delivery and decides its outcome:
//
//   - no row yet: insert one and execute; losing the insert race skips
//   - processed with no error: duplicate delivery, skip
//   - error recorded: clear it and retry
//   - unprocessed with no error: another delivery is in flight, skip
func (c *IdempotencyCoordinator) Admit(ctx context.Context, event *models.WebhookEvent) (Admission, error) {
	existing, err := c.store.GetEventByEventID(ctx, event.EventID)
	if err != nil {
		return Admission{}, fmt.Errorf("failed to look up webhook event: %w", err)
	}

	if existing == nil {
		err := c.store.CreateEvent(ctx, event)
		if errors.Is(err, store.ErrDuplicateEvent) {
			c.logger.Info("webhook event lost insert race, skipping",
				zap.String("event_id", event.EventID),
				zap.String("provider", event.Provider))
			util.WebhookAdmissionsTotal.WithLabelValues(event.Provider, string(OutcomeSkip)).Inc()
			return Admission{Outcome: OutcomeSkip, Event: event}, nil
		}
		if err != nil {
			return Admission{}, err
		}
		util.WebhookAdmissionsTotal.WithLabelValues(event.Provider, string(OutcomeExecute)).Inc()
		return Admission{Outcome: OutcomeExecute, Event: event}, nil
	}

	if existing.Processed && existing.ErrorMessage == nil {
		c.logger.Info("webhook event already processed, skipping",
			zap.String("event_id", existing.EventID),
			zap.String("provider", existing.Provider))
		util.WebhookAdmissionsTotal.WithLabelValues(existing.Provider, string(OutcomeSkip)).Inc()
		return Admission{Outcome: OutcomeSkip, Event: existing}, nil
	}

	if existing.ErrorMessage != nil {
		if err := c.store.ClearEventError(ctx, existing.ID); err != nil {
			return Admission{}, fmt.Errorf("failed to clear webhook event error: %w", err)
		}
		c.logger.Info("webhook event previously failed, retrying",
			zap.String("event_id", existing.EventID),
			zap.String("provider", existing.Provider),
			zap.String("previous_error", *existing.ErrorMessage))
		util.WebhookAdmissionsTotal.WithLabelValues(existing.Provider, string(OutcomeRetry)).Inc()
		// The returned row mirrors the store, where the error was just
		// cleared.
		existing.ErrorMessage = nil
		return Admission{Outcome: OutcomeRetry, Event: existing}, nil
	}

	// Unprocessed and error-free: a concurrent delivery holds this event.
	c.logger.Info("webhook event in flight, skipping",
		zap.String("event_id", existing.EventID),
		zap.String("provider", existing.Provider))
	util.WebhookAdmissionsTotal.WithLabelValues(existing.Provider, string(OutcomeSkip)).Inc()
	return Admission{Outcome: OutcomeSkip, Event: existing}, nil
}

// Finalize records the handler's outcome against the admitted event.
func (c *IdempotencyCoordinator) Finalize(ctx context.Context, admission Admission, handlerErr error) error {
	if admission.Event == nil {
		return nil
	}
	if handlerErr != nil {
		return c.store.MarkEventFailed(ctx, admission.Event.ID, handlerErr.Error())
	}
	return c.store.MarkEventProcessed(ctx, admission.Event.ID)
}
