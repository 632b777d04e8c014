package worker

import (
	"context"
	"encoding/json"
	"log"

	"payment-bridge/internal/broker"
	"payment-bridge/internal/models"
	"payment-bridge/internal/util"

	"github.com/segmentio/kafka-go"
)

// StreamWorker consumes the webhook lifecycle topic and turns it into ops
// metrics and failure logs, so every replica's webhook activity is visible
// in one place.
type StreamWorker struct {
	consumer *broker.Consumer
}

// NewStreamWorker creates a new stream worker
func NewStreamWorker(consumer *broker.Consumer) *StreamWorker {
	return &StreamWorker{consumer: consumer}
}

// Start starts the worker
func (w *StreamWorker) Start(ctx context.Context) error {
	log.Println("Starting webhook stream worker...")
	return w.consumer.StartConsuming(ctx, w.handleMessage)
}

// Stop stops the worker
func (w *StreamWorker) Stop() error {
	log.Println("Stopping webhook stream worker...")
	return w.consumer.Close()
}

func (w *StreamWorker) handleMessage(_ context.Context, msg kafka.Message) error {
	var base models.BaseEvent
	if err := json.Unmarshal(msg.Value, &base); err != nil {
		log.Printf("Failed to unmarshal stream event: %v", err)
		// Malformed messages are not retryable; drop them.
		return nil
	}

	switch base.EventType {
	case models.EventTypeWebhookProcessed:
		var event models.WebhookProcessedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return nil
		}
		util.StreamEventsTotal.WithLabelValues(base.EventType, event.Provider).Inc()

	case models.EventTypeWebhookFailed:
		var event models.WebhookFailedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return nil
		}
		util.StreamEventsTotal.WithLabelValues(base.EventType, event.Provider).Inc()
		log.Printf("Webhook failed: provider=%s event=%s step=%s reason=%s",
			event.Provider, event.ProviderEventID, event.Step, event.Reason)

	case models.EventTypeWebhookSkipped:
		var event models.WebhookSkippedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return nil
		}
		util.StreamEventsTotal.WithLabelValues(base.EventType, event.Provider).Inc()

	default:
		log.Printf("Unhandled stream event type: %s", base.EventType)
	}

	return nil
}
