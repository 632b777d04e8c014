package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"payment-bridge/internal/gateway"
	"payment-bridge/internal/service"
	"payment-bridge/internal/store"
	"payment-bridge/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Solidgate webhook headers
const (
	headerEventID   = "solidgate-event-id"
	headerEventType = "solidgate-event-type"
)

// Handler contains HTTP handlers
type Handler struct {
	settlement *service.SettlementService
	gateway    *gateway.Service
	store      *store.Store
}

// NewHandler creates a new HTTP handler
func NewHandler(settlement *service.SettlementService, gw *gateway.Service, st *store.Store) *Handler {
	return &Handler{
		settlement: settlement,
		gateway:    gw,
		store:      st,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/webhooks/solidgate", h.solidgateWebhook)
		v1.POST("/webhooks/ordergroove", h.orderGrooveOrder)

		v1.GET("/events/:event_id", h.getEvent)
		v1.GET("/events", h.listEventsByCorrelation)

		netvalve := v1.Group("/netvalve")
		{
			netvalve.POST("/hpf/session", h.createSession)
			netvalve.GET("/hpf/session", h.createSessionFromQuery)
			netvalve.POST("/payment", h.authorizePayment)
			netvalve.POST("/capture", h.capturePayment)
			netvalve.POST("/refund", h.refundPayment)
			netvalve.POST("/cancel", h.cancelPayment)
			netvalve.POST("/webhook", h.netvalveWebhook)
			netvalve.POST("/status", h.paymentStatus)
		}
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck verifies the database is reachable
func (h *Handler) readinessCheck(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

type solidgateOrder struct {
	Order struct {
		OrderID string `json:"order_id"`
		Status  string `json:"status"`
	} `json:"order"`
}

// solidgateWebhook accepts an order event from the payment provider and
// runs it through idempotent settlement. A 5xx tells the provider to
// redeliver; duplicates and no-op statuses are acknowledged with 200.
func (h *Handler) solidgateWebhook(c *gin.Context) {
	eventID := c.GetHeader(headerEventID)
	if eventID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing " + headerEventID + " header"})
		return
	}
	eventType := c.GetHeader(headerEventType)
	if eventType == "" {
		eventType = "order.updated"
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
		return
	}

	var parsed solidgateOrder
	if err := json.Unmarshal(body, &parsed); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body", "details": err.Error()})
		return
	}

	outcome, err := h.settlement.HandleProviderWebhook(c.Request.Context(),
		eventID, eventType, parsed.Order.OrderID, parsed.Order.Status, body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "webhook processing failed",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"outcome":  string(outcome),
		"event_id": eventID,
	})
}

// getEvent returns a stored webhook event by its provider event id
func (h *Handler) getEvent(c *gin.Context) {
	event, err := h.store.GetEventByEventID(c.Request.Context(), c.Param("event_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "event lookup failed", "details": err.Error()})
		return
	}
	if event == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}
	c.JSON(http.StatusOK, event)
}

// listEventsByCorrelation returns all events recorded for one cart/order
func (h *Handler) listEventsByCorrelation(c *gin.Context) {
	correlationID := c.Query("correlation_id")
	if correlationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing correlation_id query parameter"})
		return
	}
	events, err := h.store.GetEventsByCorrelationID(c.Request.Context(), correlationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "event lookup failed", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// createSession handles hosted session initialization
func (h *Handler) createSession(c *gin.Context) {
	var req gateway.SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	h.runSession(c, req)
}

// createSessionFromQuery serves storefronts that can only issue a GET
func (h *Handler) createSessionFromQuery(c *gin.Context) {
	amount, _ := strconv.ParseFloat(c.Query("amount"), 64)
	req := gateway.SessionRequest{
		CurrencyCode: c.Query("currency_code"),
		Amount:       amount,
		CartID:       c.Query("cart_id"),
		OrderDesc:    c.Query("order_desc"),
	}
	h.runSession(c, req)
}

func (h *Handler) runSession(c *gin.Context, req gateway.SessionRequest) {
	result, err := h.gateway.CreateSession(c.Request.Context(), req)
	if err != nil {
		var sessionErr *gateway.SessionError
		if errors.As(err, &sessionErr) {
			c.JSON(http.StatusBadGateway, sessionErr)
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "session initialization failed",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, result)
}

// authorizePayment runs the authorization decision for a checkout session
func (h *Handler) authorizePayment(c *gin.Context) {
	var data gateway.CheckoutSessionData
	if err := c.ShouldBindJSON(&data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	result := h.gateway.AuthorizePayment(c.Request.Context(), data)
	c.JSON(http.StatusOK, result)
}

type fundsRequest struct {
	Amount float64                     `json:"amount"`
	Data   gateway.CheckoutSessionData `json:"data"`
}

func bindFundsRequest(c *gin.Context) (fundsRequest, bool) {
	var req fundsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return req, false
	}
	return req, true
}

// capturePayment handles capture requests
func (h *Handler) capturePayment(c *gin.Context) {
	req, ok := bindFundsRequest(c)
	if !ok {
		return
	}
	result := h.gateway.CapturePayment(c.Request.Context(), req.Data, req.Amount)
	c.JSON(fundsHTTPStatus(result), result)
}

// refundPayment handles refund requests
func (h *Handler) refundPayment(c *gin.Context) {
	req, ok := bindFundsRequest(c)
	if !ok {
		return
	}
	result := h.gateway.RefundPayment(c.Request.Context(), req.Data, req.Amount)
	c.JSON(fundsHTTPStatus(result), result)
}

// cancelPayment handles void requests
func (h *Handler) cancelPayment(c *gin.Context) {
	req, ok := bindFundsRequest(c)
	if !ok {
		return
	}
	result := h.gateway.CancelPayment(c.Request.Context(), req.Data)
	c.JSON(fundsHTTPStatus(result), result)
}

func fundsHTTPStatus(result gateway.FundsResult) int {
	switch result.Status {
	case gateway.FundsStatusCaptured, gateway.FundsStatusRefunded, gateway.FundsStatusCanceled:
		return http.StatusOK
	default:
		return http.StatusBadGateway
	}
}

// netvalveWebhook classifies a gateway event notification
func (h *Handler) netvalveWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
		return
	}

	var payload gateway.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body", "details": err.Error()})
		return
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err == nil {
		payload.Raw = raw
	}

	c.JSON(http.StatusOK, h.gateway.ClassifyWebhook(payload))
}

// paymentStatus normalizes a checkout session's payment status
func (h *Handler) paymentStatus(c *gin.Context) {
	var data gateway.CheckoutSessionData
	if err := c.ShouldBindJSON(&data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": normalizePaymentStatus(data)})
}

// normalizePaymentStatus reduces the session's accumulated flags to one
// status value for the storefront.
func normalizePaymentStatus(data gateway.CheckoutSessionData) string {
	switch {
	case data.Status != "":
		return data.Status
	case data.Authorized || data.IsAuthorized:
		return gateway.StatusAuthorized
	case data.ErrorMessage != "":
		return gateway.StatusError
	case data.HasPaymentConfirmation():
		return gateway.StatusPending
	default:
		return gateway.StatusRequiresMore
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
