package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"payment-bridge/internal/broker"
	"payment-bridge/internal/fulfillment"
	"payment-bridge/internal/models"
	"payment-bridge/internal/util"
)

// Provider order status that triggers settlement against the fulfillment
// backend. Everything else is recorded and acknowledged without action.
const statusSettleOK = "settle_ok"

// Settler captures the payment behind a cart on the fulfillment backend.
type Settler interface {
	ProcessSettleOK(ctx context.Context, cartID string) error
}

// Alerter delivers critical operational alerts, best effort.
type Alerter interface {
	SendCriticalAlert(ctx context.Context, title string, fields map[string]string)
}

// SettlementService runs inbound provider webhooks through idempotency
// admission, executes the settlement side effect, records the outcome, and
// emits lifecycle events.
type SettlementService struct {
	coordinator *IdempotencyCoordinator
	fulfillment Settler
	alerts      Alerter
	publisher   *broker.EventPublisher
	logger      *zap.Logger
}

// NewSettlementService creates a settlement service. publisher may be nil
// when no broker is configured.
func NewSettlementService(
	coordinator *IdempotencyCoordinator,
	settler Settler,
	alerts Alerter,
	publisher *broker.EventPublisher,
) *SettlementService {
	return &SettlementService{
		coordinator: coordinator,
		fulfillment: settler,
		alerts:      alerts,
		publisher:   publisher,
		logger:      util.GetLogger(),
	}
}

// HandleProviderWebhook processes one delivered order webhook. The returned
// outcome tells the HTTP handler whether anything ran; the error is non-nil
// only when the delivery should be retried by the provider.
func (s *SettlementService) HandleProviderWebhook(ctx context.Context, eventID, eventType, cartID, status string, payload []byte) (Outcome, error) {
	ctx, span := util.StartSpan(ctx, "service.HandleProviderWebhook")
	defer span.End()

	event := &models.WebhookEvent{
		EventID:   eventID,
		Provider:  models.ProviderSolidgate,
		EventType: eventType,
		Payload:   types.JSONText(payload),
	}
	if cartID != "" {
		event.CorrelationID = &cartID
	}

	admission, err := s.coordinator.Admit(ctx, event)
	if err != nil {
		return "", fmt.Errorf("webhook admission failed: %w", err)
	}
	if admission.Outcome == OutcomeSkip {
		if err := s.publisher.PublishWebhookSkipped(ctx, models.ProviderSolidgate, eventID, eventType); err != nil {
			s.logger.Warn("failed to publish skip event", zap.Error(err))
		}
		return OutcomeSkip, nil
	}

	handlerErr := s.execute(ctx, cartID, status)
	s.record(ctx, admission, eventType, cartID, status, handlerErr)
	return admission.Outcome, handlerErr
}

// execute runs the webhook's side effect. Only settle_ok moves money;
// other statuses are recorded as processed with no action.
func (s *SettlementService) execute(ctx context.Context, cartID, status string) error {
	if status != statusSettleOK {
		s.logger.Info("webhook status requires no settlement",
			zap.String("cart_id", cartID),
			zap.String("status", status))
		return nil
	}
	if cartID == "" {
		return fmt.Errorf("settle_ok webhook carries no order id")
	}
	return s.fulfillment.ProcessSettleOK(ctx, cartID)
}

// record persists the outcome and raises alerts and lifecycle events.
// Recording is deliberately sequenced before alerting so a Slack outage can
// never mask the original failure cause in the event row.
func (s *SettlementService) record(ctx context.Context, admission Admission, eventType, cartID, status string, handlerErr error) {
	eventID := admission.Event.EventID

	if finalizeErr := s.coordinator.Finalize(ctx, admission, handlerErr); finalizeErr != nil {
		s.logger.Error("failed to finalize webhook event",
			zap.String("event_id", eventID),
			zap.Error(finalizeErr))
	}

	if handlerErr == nil {
		if err := s.publisher.PublishWebhookProcessed(ctx, models.ProviderSolidgate, eventID, eventType, cartID); err != nil {
			s.logger.Warn("failed to publish processed event", zap.Error(err))
		}
		return
	}

	step := "settlement"
	var se *fulfillment.SettleError
	if errors.As(handlerErr, &se) {
		step = se.Step
	}
	util.WebhookFailuresTotal.WithLabelValues(models.ProviderSolidgate, step).Inc()

	s.logger.Error("webhook processing failed",
		zap.String("event_id", eventID),
		zap.String("cart_id", cartID),
		zap.String("step", step),
		zap.Error(handlerErr))

	s.alerts.SendCriticalAlert(ctx, "Order settlement failed", map[string]string{
		"provider": models.ProviderSolidgate,
		"event_id": eventID,
		"cart_id":  cartID,
		"status":   status,
		"step":     step,
		"error":    handlerErr.Error(),
	})

	if err := s.publisher.PublishWebhookFailed(ctx, models.ProviderSolidgate, eventID, eventType, cartID, step, handlerErr.Error()); err != nil {
		s.logger.Warn("failed to publish failure event", zap.Error(err))
	}
}

// HandleOrderGrooveOrder records an inbound subscription order document.
// The document itself is the payload; there is no settlement side effect.
func (s *SettlementService) HandleOrderGrooveOrder(ctx context.Context, eventID string, payload []byte) (Outcome, error) {
	ctx, span := util.StartSpan(ctx, "service.HandleOrderGrooveOrder")
	defer span.End()

	event := &models.WebhookEvent{
		EventID:   eventID,
		Provider:  models.ProviderOrderGroove,
		EventType: "order",
		Payload:   types.JSONText(payload),
	}

	admission, err := s.coordinator.Admit(ctx, event)
	if err != nil {
		return "", fmt.Errorf("order admission failed: %w", err)
	}
	if admission.Outcome == OutcomeSkip {
		if err := s.publisher.PublishWebhookSkipped(ctx, models.ProviderOrderGroove, eventID, "order"); err != nil {
			s.logger.Warn("failed to publish skip event", zap.Error(err))
		}
		return OutcomeSkip, nil
	}

	if finalizeErr := s.coordinator.Finalize(ctx, admission, nil); finalizeErr != nil {
		s.logger.Error("failed to finalize order event",
			zap.String("event_id", eventID),
			zap.Error(finalizeErr))
	}
	if err := s.publisher.PublishWebhookProcessed(ctx, models.ProviderOrderGroove, eventID, "order", ""); err != nil {
		s.logger.Warn("failed to publish processed event", zap.Error(err))
	}
	return admission.Outcome, nil
}
