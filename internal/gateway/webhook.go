package gateway

import "strings"

// Webhook actions, in classification priority order.
const (
	WebhookActionAuthorized   = "AUTHORIZED"
	WebhookActionSuccessful   = "SUCCESSFUL"
	WebhookActionPending      = "PENDING"
	WebhookActionRequiresMore = "REQUIRES_MORE"
	WebhookActionFailed       = "FAILED"
	WebhookActionCanceled     = "CANCELED"
	WebhookActionNotSupported = "NOT_SUPPORTED"
)

// WebhookPayload is the gateway's inbound event notification.
type WebhookPayload struct {
	EventType     string         `json:"eventType"`
	Status        string         `json:"status"`
	TransactionID string         `json:"transactionId"`
	OrderID       string         `json:"orderId"`
	SessionID     string         `json:"sessionId"`
	Amount        float64        `json:"amount"`
	CurrencyCode  string         `json:"currencyCode"`
	Raw           map[string]any `json:"-"`
}

// WebhookClassification is what the caller should do with the referenced
// payment session in response to a gateway event.
type WebhookClassification struct {
	Action    string `json:"action"`
	SessionID string `json:"session_id,omitempty"`
	Amount    float64 `json:"amount,omitempty"`
}

// ClassifyWebhook maps a gateway event onto a session action. Matching is
// substring-based over the event type and status, checked in priority
// order, so "payment.captured" and "CAPTURED" classify the same way.
func (s *Service) ClassifyWebhook(payload WebhookPayload) WebhookClassification {
	subject := strings.ToLower(payload.EventType + " " + payload.Status)

	action := WebhookActionNotSupported
	switch {
	case strings.Contains(subject, "authorized"):
		action = WebhookActionAuthorized
	case strings.Contains(subject, "captured"), strings.Contains(subject, "paid"):
		action = WebhookActionSuccessful
	case strings.Contains(subject, "pending"):
		action = WebhookActionPending
	case strings.Contains(subject, "requires_more"), strings.Contains(subject, "action_required"):
		action = WebhookActionRequiresMore
	case strings.Contains(subject, "failed"), strings.Contains(subject, "declined"):
		action = WebhookActionFailed
	case strings.Contains(subject, "cancelled"), strings.Contains(subject, "canceled"):
		action = WebhookActionCanceled
	}

	return WebhookClassification{
		Action:    action,
		SessionID: pickString(payload.SessionID, payload.OrderID, payload.TransactionID),
		Amount:    payload.Amount,
	}
}
