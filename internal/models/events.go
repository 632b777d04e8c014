package models

import "time"

// Stream event types published to the webhook lifecycle topic
const (
	EventTypeWebhookProcessed = "WEBHOOK_PROCESSED"
	EventTypeWebhookFailed    = "WEBHOOK_FAILED"
	EventTypeWebhookSkipped   = "WEBHOOK_SKIPPED"
)

// BaseEvent contains common fields for all stream events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// WebhookProcessedEvent published when an inbound webhook completes its
// side effect and its row is marked processed
type WebhookProcessedEvent struct {
	BaseEvent
	Provider        string `json:"provider"`
	ProviderEventID string `json:"provider_event_id"`
	ProviderType    string `json:"provider_type"`
	CorrelationID   string `json:"correlation_id,omitempty"`
}

// WebhookFailedEvent published when webhook processing fails mid-flow
type WebhookFailedEvent struct {
	BaseEvent
	Provider        string `json:"provider"`
	ProviderEventID string `json:"provider_event_id"`
	ProviderType    string `json:"provider_type"`
	CorrelationID   string `json:"correlation_id,omitempty"`
	Step            string `json:"step,omitempty"`
	Reason          string `json:"reason"`
}

// WebhookSkippedEvent published when the idempotency coordinator declines
// to execute a redelivered or in-flight event
type WebhookSkippedEvent struct {
	BaseEvent
	Provider        string `json:"provider"`
	ProviderEventID string `json:"provider_event_id"`
	ProviderType    string `json:"provider_type"`
}
