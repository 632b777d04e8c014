package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-bridge/config"
	"payment-bridge/internal/gateway"
	"payment-bridge/internal/models"
	"payment-bridge/internal/service"
	"payment-bridge/internal/store"
)

type memoryEventStore struct {
	mu     sync.Mutex
	nextID int64
	byID   map[string]*models.WebhookEvent
}

func newMemoryEventStore() *memoryEventStore {
	return &memoryEventStore{byID: make(map[string]*models.WebhookEvent)}
}

func (m *memoryEventStore) GetEventByEventID(_ context.Context, eventID string) (*models.WebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev, ok := m.byID[eventID]; ok {
		copied := *ev
		return &copied, nil
	}
	return nil, nil
}

func (m *memoryEventStore) CreateEvent(_ context.Context, event *models.WebhookEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[event.EventID]; ok {
		return store.ErrDuplicateEvent
	}
	m.nextID++
	event.ID = m.nextID
	copied := *event
	m.byID[event.EventID] = &copied
	return nil
}

func (m *memoryEventStore) mutate(id int64, fn func(*models.WebhookEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range m.byID {
		if ev.ID == id {
			fn(ev)
			return
		}
	}
}

func (m *memoryEventStore) ClearEventError(_ context.Context, id int64) error {
	m.mutate(id, func(ev *models.WebhookEvent) { ev.ErrorMessage = nil })
	return nil
}

func (m *memoryEventStore) MarkEventProcessed(_ context.Context, id int64) error {
	m.mutate(id, func(ev *models.WebhookEvent) { ev.Processed = true })
	return nil
}

func (m *memoryEventStore) MarkEventFailed(_ context.Context, id int64, message string) error {
	m.mutate(id, func(ev *models.WebhookEvent) { ev.ErrorMessage = &message })
	return nil
}

type fakeSettler struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeSettler) ProcessSettleOK(_ context.Context, cartID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cartID)
	return f.err
}

type noopAlerter struct{}

func (noopAlerter) SendCriticalAlert(context.Context, string, map[string]string) {}

func newTestRouter(gatewayCfg config.GatewayConfig) (*gin.Engine, *fakeSettler) {
	gin.SetMode(gin.TestMode)

	settler := &fakeSettler{}
	settlement := service.NewSettlementService(
		service.NewIdempotencyCoordinator(newMemoryEventStore()),
		settler, noopAlerter{}, nil)

	handler := NewHandler(settlement, gateway.NewService(gatewayCfg), nil)

	router := gin.New()
	handler.SetupRoutes(router)
	return router, settler
}

func doRequest(router *gin.Engine, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSolidgateWebhookMissingEventID(t *testing.T) {
	router, _ := newTestRouter(config.GatewayConfig{})
	rec := doRequest(router, http.MethodPost, "/api/v1/webhooks/solidgate",
		[]byte(`{"order":{"order_id":"cart-1","status":"settle_ok"}}`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSolidgateWebhookSettles(t *testing.T) {
	router, settler := newTestRouter(config.GatewayConfig{})
	headers := map[string]string{
		"solidgate-event-id":   "evt-1",
		"solidgate-event-type": "order.updated",
		"Content-Type":         "application/json",
	}
	body := []byte(`{"order":{"order_id":"cart-1","status":"settle_ok"}}`)

	rec := doRequest(router, http.MethodPost, "/api/v1/webhooks/solidgate", body, headers)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "execute", resp["outcome"])
	assert.Equal(t, []string{"cart-1"}, settler.calls)

	// Redelivery is acknowledged without settling again.
	rec = doRequest(router, http.MethodPost, "/api/v1/webhooks/solidgate", body, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "skip", resp["outcome"])
	assert.Len(t, settler.calls, 1)
}

func TestSolidgateWebhookFailureReturns500(t *testing.T) {
	router, settler := newTestRouter(config.GatewayConfig{})
	settler.err = assert.AnError

	rec := doRequest(router, http.MethodPost, "/api/v1/webhooks/solidgate",
		[]byte(`{"order":{"order_id":"cart-1","status":"settle_ok"}}`),
		map[string]string{"solidgate-event-id": "evt-2", "Content-Type": "application/json"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestOrderGrooveIntake(t *testing.T) {
	router, _ := newTestRouter(config.GatewayConfig{})

	form := url.Values{
		"username": []string{"og"},
		"password": []string{"pw"},
		"xml":      []string{`<order><orderPublicId>pub-7</orderPublicId></order>`},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/ordergroove",
		strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<code>SUCCESS</code>")
	assert.Contains(t, rec.Body.String(), "<orderId>pub-7</orderId>")
}

func TestOrderGrooveIntakeEchoesOGOrderID(t *testing.T) {
	router, _ := newTestRouter(config.GatewayConfig{})

	form := url.Values{
		"xml": []string{`<order><head><orderOgId>og-9</orderOgId><orderPublicId>pub-9</orderPublicId></head></order>`},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/ordergroove",
		strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<orderId>og-9</orderId>")
}

func TestOrderGrooveIntakeMissingOrderID(t *testing.T) {
	router, _ := newTestRouter(config.GatewayConfig{})

	form := url.Values{"xml": []string{`<order><head><orderTotalValue>10</orderTotalValue></head></order>`}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/ordergroove",
		strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	// A document without an order id is still accepted and recorded under
	// a generated event id.
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<code>SUCCESS</code>")
	assert.Contains(t, rec.Body.String(), "<orderId>og_order_")
}

func TestOrderGrooveIntakeParseError(t *testing.T) {
	router, _ := newTestRouter(config.GatewayConfig{})

	form := url.Values{"xml": []string{`<order><broken></order>`}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/ordergroove",
		strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "<code>ERROR</code>")
	assert.Contains(t, rec.Body.String(), "<errorCode>020</errorCode>")
	assert.Contains(t, rec.Body.String(), "<errorMsg>Invalid XML received</errorMsg>")
}

func TestNetvalveWebhookClassification(t *testing.T) {
	router, _ := newTestRouter(config.GatewayConfig{})

	rec := doRequest(router, http.MethodPost, "/api/v1/netvalve/webhook",
		[]byte(`{"eventType":"payment.captured","sessionId":"sess-1","amount":12.5}`),
		map[string]string{"Content-Type": "application/json"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp gateway.WebhookClassification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, gateway.WebhookActionSuccessful, resp.Action)
	assert.Equal(t, "sess-1", resp.SessionID)
	assert.Equal(t, 12.5, resp.Amount)
}

func TestPaymentStatusNormalization(t *testing.T) {
	router, _ := newTestRouter(config.GatewayConfig{})

	cases := []struct {
		name string
		body string
		want string
	}{
		{"explicit status wins", `{"status":"captured","authorized":true}`, "captured"},
		{"authorized flag", `{"is_authorized":true}`, "authorized"},
		{"error message", `{"error_message":"declined"}`, "error"},
		{"proof pending", `{"transaction_id":"tx-1"}`, "pending"},
		{"empty session", `{}`, "requires_more"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(router, http.MethodPost, "/api/v1/netvalve/status",
				[]byte(tc.body), map[string]string{"Content-Type": "application/json"})
			require.Equal(t, http.StatusOK, rec.Code)

			var resp map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tc.want, resp["status"])
		})
	}
}

func TestSessionEndpointDirectRedirect(t *testing.T) {
	router, _ := newTestRouter(config.GatewayConfig{
		Environment:  "sandbox",
		HPPDirectURL: "https://pay.example.com/fixed",
	})

	rec := doRequest(router, http.MethodPost, "/api/v1/netvalve/hpf/session",
		[]byte(`{"currency_code":"usd","amount":10}`),
		map[string]string{"Content-Type": "application/json"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp gateway.SessionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, gateway.FlowHPP, resp.Flow)
	require.NotNil(t, resp.HPP)
	assert.Equal(t, "https://pay.example.com/fixed", resp.HPP.RedirectURL)
}

func TestCaptureEndpointNoOp(t *testing.T) {
	router, _ := newTestRouter(config.GatewayConfig{})

	rec := doRequest(router, http.MethodPost, "/api/v1/netvalve/capture",
		[]byte(`{"amount":10,"data":{"status":"captured","netvalve_transaction_id":"42"}}`),
		map[string]string{"Content-Type": "application/json"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp gateway.FundsResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, gateway.FundsStatusCaptured, resp.Status)
	assert.Equal(t, "42", resp.TransactionID)
}

func TestAuthorizeEndpointNoConfirmation(t *testing.T) {
	router, _ := newTestRouter(config.GatewayConfig{})

	rec := doRequest(router, http.MethodPost, "/api/v1/netvalve/payment",
		[]byte(`{"amount":10}`), map[string]string{"Content-Type": "application/json"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp gateway.AuthorizationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, gateway.StatusRequiresMore, resp.Status)
	assert.True(t, resp.Data.RequiresPaymentInput)
}
