package broker

import (
	"context"
	"time"

	"github.com/google/uuid"

	"payment-bridge/internal/models"
)

// EventPublisher publishes webhook lifecycle events to the stream topic.
// A nil publisher is valid and drops events, so the service runs without
// Kafka in development.
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	if producer == nil {
		return nil
	}
	return &EventPublisher{producer: producer}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// PublishWebhookProcessed publishes a WebhookProcessed event keyed by the
// provider event id so redeliveries land on the same partition.
func (ep *EventPublisher) PublishWebhookProcessed(ctx context.Context, provider, providerEventID, providerType, correlationID string) error {
	if ep == nil {
		return nil
	}
	event := models.WebhookProcessedEvent{
		BaseEvent:       newBaseEvent(models.EventTypeWebhookProcessed),
		Provider:        provider,
		ProviderEventID: providerEventID,
		ProviderType:    providerType,
		CorrelationID:   correlationID,
	}
	return ep.producer.PublishEvent(ctx, provider+"-"+providerEventID, event)
}

// PublishWebhookFailed publishes a WebhookFailed event
func (ep *EventPublisher) PublishWebhookFailed(ctx context.Context, provider, providerEventID, providerType, correlationID, step, reason string) error {
	if ep == nil {
		return nil
	}
	event := models.WebhookFailedEvent{
		BaseEvent:       newBaseEvent(models.EventTypeWebhookFailed),
		Provider:        provider,
		ProviderEventID: providerEventID,
		ProviderType:    providerType,
		CorrelationID:   correlationID,
		Step:            step,
		Reason:          reason,
	}
	return ep.producer.PublishEvent(ctx, provider+"-"+providerEventID, event)
}

// PublishWebhookSkipped publishes a WebhookSkipped event
func (ep *EventPublisher) PublishWebhookSkipped(ctx context.Context, provider, providerEventID, providerType string) error {
	if ep == nil {
		return nil
	}
	event := models.WebhookSkippedEvent{
		BaseEvent:       newBaseEvent(models.EventTypeWebhookSkipped),
		Provider:        provider,
		ProviderEventID: providerEventID,
		ProviderType:    providerType,
	}
	return ep.producer.PublishEvent(ctx, provider+"-"+providerEventID, event)
}
