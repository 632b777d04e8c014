package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhookAdmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_admissions_total",
		Help: "Webhook idempotency admissions by provider and outcome",
	}, []string{"provider", "outcome"})

	WebhookFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_failures_total",
		Help: "Webhook processing failures by provider and step",
	}, []string{"provider", "step"})

	SettlementsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlements_total",
		Help: "Total number of successful order settlements",
	})

	SettlementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "settlement_latency_seconds",
		Help:    "Latency of the full settle_ok flow against the fulfillment backend",
		Buckets: prometheus.DefBuckets,
	})

	SaleAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_sale_attempts_total",
		Help: "Gateway sale attempts by payment type",
	}, []string{"payment_type"})

	SaleDeclinesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_sale_declines_total",
		Help: "Gateway sale declines by decline signal",
	}, []string{"signal"})

	SaleLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gateway_sale_latency_seconds",
		Help:    "Latency of gateway sale calls",
		Buckets: prometheus.DefBuckets,
	})

	SessionWaterfallTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_session_waterfall_total",
		Help: "Session initialization outcomes by winning waterfall step",
	}, []string{"step"})

	FundsOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_funds_operations_total",
		Help: "Capture/refund/cancel operations by operation and status",
	}, []string{"operation", "status"})

	StreamEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_stream_events_total",
		Help: "Webhook lifecycle stream events consumed, by type and provider",
	}, []string{"type", "provider"})

	FulfillmentAuthRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfillment_auth_retries_total",
		Help: "Total fulfillment backend authentication retries",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
