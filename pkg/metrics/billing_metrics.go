package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BillingMetrics is the prometheus surface of the billing core.
type BillingMetrics interface {
	ObserveGatewayCall(op, outcome string, elapsed time.Duration)
	IncRenewal(outcome string)
	IncRefund(outcome string)
	ObserveRefundAmount(amount float64, currency string)
	IncWebhook(status, outcome string)
	IncTransition(from, to string)
}

type billingMetrics struct {
	gatewayCalls   *prometheus.CounterVec
	gatewayLatency *prometheus.HistogramVec
	renewals       *prometheus.CounterVec
	refunds        *prometheus.CounterVec
	refundAmount   *prometheus.HistogramVec
	webhooks       *prometheus.CounterVec
	transitions    *prometheus.CounterVec
}

func NewBillingMetrics(registry *prometheus.Registry) BillingMetrics {
	f := promauto.With(registry)
	return &billingMetrics{
		gatewayCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_gateway_calls_total",
				Help: "Gateway calls by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		gatewayLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billing_gateway_call_duration_seconds",
				Help:    "Gateway call latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		renewals: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_renewals_total",
				Help: "Renewal attempts by outcome",
			},
			[]string{"outcome"},
		),
		refunds: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_refunds_total",
				Help: "Cancel-with-refund attempts by outcome",
			},
			[]string{"outcome"},
		),
		refundAmount: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billing_refund_amount",
				Help:    "Refunded amount distribution",
				Buckets: prometheus.ExponentialBuckets(1000, 10, 6),
			},
			[]string{"currency"},
		),
		webhooks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_webhooks_total",
				Help: "Webhook deliveries by payload status and handling outcome",
			},
			[]string{"status", "outcome"},
		),
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_subscription_transitions_total",
				Help: "Subscription state transitions",
			},
			[]string{"from", "to"},
		),
	}
}

func (m *billingMetrics) ObserveGatewayCall(op, outcome string, elapsed time.Duration) {
	m.gatewayCalls.WithLabelValues(op, outcome).Inc()
	m.gatewayLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *billingMetrics) IncRenewal(outcome string) {
	m.renewals.WithLabelValues(outcome).Inc()
}

func (m *billingMetrics) IncRefund(outcome string) {
	m.refunds.WithLabelValues(outcome).Inc()
}

func (m *billingMetrics) ObserveRefundAmount(amount float64, currency string) {
	m.refundAmount.WithLabelValues(currency).Observe(amount)
}

func (m *billingMetrics) IncWebhook(status, outcome string) {
	m.webhooks.WithLabelValues(status, outcome).Inc()
}

func (m *billingMetrics) IncTransition(from, to string) {
	m.transitions.WithLabelValues(from, to).Inc()
}
