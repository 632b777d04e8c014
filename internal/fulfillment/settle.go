package fulfillment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"payment-bridge/internal/util"
)

// SettleError labels which step of the settlement flow failed so the caller
// can alert and persist a precise failure cause.
type SettleError struct {
	Step string
	Err  error
}

func (e *SettleError) Error() string {
	return fmt.Sprintf("settlement step %s failed: %v", e.Step, e.Err)
}

func (e *SettleError) Unwrap() error { return e.Err }

func settleErr(step string, err error) *SettleError {
	return &SettleError{Step: step, Err: err}
}

// ProcessSettleOK captures the payment behind a cart after the provider
// reported the order settled: look up the cart's payment session, resolve
// the payment it produced, and capture it. Capture on the backend is
// idempotent, so re-running after a partial failure is safe.
func (c *Client) ProcessSettleOK(ctx context.Context, cartID string) error {
	ctx, span := util.StartSpan(ctx, "fulfillment.ProcessSettleOK")
	defer span.End()

	start := time.Now()

	sessionID, err := c.cartPaymentSessionID(ctx, cartID)
	if err != nil {
		return settleErr("lookup_payment", err)
	}

	paymentID, err := c.paymentIDBySession(ctx, sessionID)
	if err != nil {
		return settleErr("resolve_payment_id", err)
	}

	if err := c.capturePayment(ctx, paymentID); err != nil {
		return settleErr("capture", err)
	}

	util.SettlementsTotal.Inc()
	util.SettlementLatency.Observe(time.Since(start).Seconds())
	c.logger.Info("settlement captured",
		zap.String("cart_id", cartID),
		zap.String("payment_session_id", sessionID),
		zap.String("payment_id", paymentID))
	return nil
}

// cartPaymentSessionID fetches the cart with its payment collection expanded
// and returns the id of its payment session.
func (c *Client) cartPaymentSessionID(ctx context.Context, cartID string) (string, error) {
	query := url.Values{"fields": []string{"+payment_collection"}}
	status, body, err := c.storeRequest(ctx, http.MethodGet, "/store/carts/"+cartID, query)
	if err != nil {
		return "", err
	}
	if status >= 400 {
		return "", fmt.Errorf("cart lookup returned %d: %s", status, truncate(string(body), 200))
	}

	var parsed struct {
		Cart struct {
			PaymentCollection struct {
				PaymentSessions []struct {
					ID string `json:"id"`
				} `json:"payment_sessions"`
			} `json:"payment_collection"`
		} `json:"cart"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("cart lookup returned non-JSON body: %w", err)
	}
	sessions := parsed.Cart.PaymentCollection.PaymentSessions
	if len(sessions) == 0 || sessions[0].ID == "" {
		return "", fmt.Errorf("cart %s has no payment session", cartID)
	}
	return sessions[0].ID, nil
}

// paymentIDBySession resolves the admin-side payment created from a payment
// session.
func (c *Client) paymentIDBySession(ctx context.Context, sessionID string) (string, error) {
	query := url.Values{"payment_session_id": []string{sessionID}}
	status, body, err := c.ExecuteRequest(ctx, http.MethodGet, "/admin/payments", query, nil)
	if err != nil {
		return "", err
	}
	if status >= 400 {
		return "", fmt.Errorf("payment lookup returned %d: %s", status, truncate(string(body), 200))
	}

	var parsed struct {
		Payments []struct {
			ID string `json:"id"`
		} `json:"payments"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("payment lookup returned non-JSON body: %w", err)
	}
	if len(parsed.Payments) == 0 || parsed.Payments[0].ID == "" {
		return "", fmt.Errorf("no payment found for session %s", sessionID)
	}
	return parsed.Payments[0].ID, nil
}

func (c *Client) capturePayment(ctx context.Context, paymentID string) error {
	status, body, err := c.ExecuteRequest(ctx, http.MethodPost, "/admin/payments/"+paymentID+"/capture", nil, map[string]any{})
	if err != nil {
		return err
	}
	if status >= 400 {
		return fmt.Errorf("capture returned %d: %s", status, truncate(string(body), 200))
	}
	return nil
}
