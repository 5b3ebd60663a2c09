// Package metrics holds the Prometheus collectors for reviews, payments and
// the HTTP surface. All collectors register with the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Evaluations counts review attempts by outcome: ok, invalid_input,
// config_missing, provider_error, malformed_output, invalid_shape,
// persistence_error, forbidden.
var Evaluations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "codereview",
	Name:      "evaluations_total",
	Help:      "Review attempts by outcome.",
}, []string{"outcome"})

// ExtractionStrategy counts which extraction step recovered the payload.
var ExtractionStrategy = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "codereview",
	Name:      "extraction_strategy_total",
	Help:      "Successful payload extractions by strategy.",
}, []string{"strategy"})

// ModelLatency tracks model call duration in seconds.
var ModelLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "codereview",
	Name:      "model_latency_seconds",
	Help:      "Model call duration in seconds.",
	Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60},
}, []string{"provider"})

// ModelTokens counts tokens reported by the provider.
var ModelTokens = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "codereview",
	Name:      "model_tokens_total",
	Help:      "Tokens used by model calls.",
}, []string{"provider"})

// Unlocks counts unlock requests by outcome: unlocked, already_unlocked,
// forbidden, rejected, error.
var Unlocks = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "codereview",
	Name:      "unlocks_total",
	Help:      "Report unlock requests by outcome.",
}, []string{"outcome"})

// OrdersCreated counts payment orders opened at the provider.
var OrdersCreated = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "codereview",
	Name:      "orders_created_total",
	Help:      "Payment orders created.",
})

// RateLimited counts requests rejected by the per-user limiter.
var RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "codereview",
	Name:      "rate_limited_total",
	Help:      "Requests rejected by the rate limiter.",
}, []string{"route"})

// WebhookDeliveries counts webhook posts by result.
var WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "codereview",
	Name:      "webhook_deliveries_total",
	Help:      "Webhook deliveries by result.",
}, []string{"result"})
