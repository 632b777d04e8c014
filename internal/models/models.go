package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// WebhookEvent is the durable record of an inbound provider event.
// event_id carries a unique constraint; concurrent inserts of the same
// event_id surface as a uniqueness violation, never a duplicate row.
type WebhookEvent struct {
	ID            int64          `db:"id" json:"id"`
	EventID       string         `db:"event_id" json:"event_id"`
	Provider      string         `db:"provider" json:"provider"`
	EventType     string         `db:"event_type" json:"event_type"`
	CorrelationID *string        `db:"correlation_id" json:"correlation_id,omitempty"`
	Payload       types.JSONText `db:"payload" json:"payload"`
	Processed     bool           `db:"processed" json:"processed"`
	ErrorMessage  *string        `db:"error_message" json:"error_message,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// Webhook providers
const (
	ProviderSolidgate   = "solidgate"
	ProviderOrderGroove = "ordergroove"
	ProviderNetValve    = "netvalve"
)
