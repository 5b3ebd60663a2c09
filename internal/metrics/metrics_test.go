package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCollectorsRegistered(t *testing.T) {
	Evaluations.WithLabelValues("ok").Inc()
	ExtractionStrategy.WithLabelValues("direct").Inc()
	ModelLatency.WithLabelValues("gemini").Observe(1.2)
	ModelTokens.WithLabelValues("gemini").Add(10)
	Unlocks.WithLabelValues("unlocked").Inc()
	OrdersCreated.Inc()
	RateLimited.WithLabelValues("evaluate").Inc()
	WebhookDeliveries.WithLabelValues("ok").Inc()

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, name := range []string{
		"codereview_evaluations_total",
		"codereview_extraction_strategy_total",
		"codereview_model_latency_seconds",
		"codereview_model_tokens_total",
		"codereview_unlocks_total",
		"codereview_orders_created_total",
		"codereview_rate_limited_total",
		"codereview_webhook_deliveries_total",
	} {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}
