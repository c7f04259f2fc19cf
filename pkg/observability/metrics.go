package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	paymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_total",
		Help: "Total number of payments created",
	}, []string{
		"provider",       // which PSP handled the payment
		"status",         // canonical status after the synchronous call
		"payment_method", // credit_card, mada, apple_pay, stc_pay
		"currency",
	})

	refundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refunds_total",
		Help: "Total number of refunds processed",
	}, []string{
		"provider",
		"status", // refunded, partially_refunded
	})

	providerCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "provider_call_duration_seconds",
		Help:    "Duration of outbound PSP calls",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{
		"provider",
		"operation", // create, get, refund, void
		"outcome",   // ok, error
	})

	inboundWebhooksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inbound_webhooks_total",
		Help: "Total provider webhooks received",
	}, []string{
		"provider",
		"outcome", // processed, rejected, ignored, unmatched, malformed
	})

	webhookForwardsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_forwards_total",
		Help: "Total merchant webhook forwarding attempts",
	}, []string{
		"outcome", // delivered, failed
	})
)

// RecordPayment counts a created payment.
func RecordPayment(provider, status, paymentMethod, currency string) {
	paymentsTotal.WithLabelValues(provider, status, paymentMethod, currency).Inc()
}

// RecordRefund counts a processed refund.
func RecordRefund(provider, status string) {
	refundsTotal.WithLabelValues(provider, status).Inc()
}

// ObserveProviderCall records the latency and outcome of one PSP call.
func ObserveProviderCall(provider, operation string, duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	providerCallDuration.WithLabelValues(provider, operation, outcome).Observe(duration.Seconds())
}

// RecordInboundWebhook counts a received provider webhook.
func RecordInboundWebhook(provider, outcome string) {
	inboundWebhooksTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordWebhookForward counts a merchant forwarding attempt.
func RecordWebhookForward(outcome string) {
	webhookForwardsTotal.WithLabelValues(outcome).Inc()
}
