package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for checkout attempts.
const (
	OutcomeCreated    = "created"
	OutcomeReplayed   = "replayed"
	OutcomeRejected   = "rejected"
	OutcomeFailed     = "failed"
	OutcomeUnverified = "payment_unconfirmed"
)

type Orders struct {
	checkouts   *prometheus.CounterVec
	latency     prometheus.Histogram
	transitions *prometheus.CounterVec
}

// New registers the order collectors on reg; pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Orders {
	f := promauto.With(reg)
	return &Orders{
		checkouts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "orders",
			Name:      "checkouts_total",
			Help:      "Checkout attempts by outcome.",
		}, []string{"outcome"}),
		latency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "marketplace",
			Subsystem: "orders",
			Name:      "checkout_duration_seconds",
			Help:      "Checkout latency including the payment gate.",
			Buckets:   prometheus.DefBuckets,
		}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "orders",
			Name:      "status_transitions_total",
			Help:      "Applied order status transitions.",
		}, []string{"from", "to"}),
	}
}

func (m *Orders) ObserveCheckout(outcome string, d time.Duration) {
	m.checkouts.WithLabelValues(outcome).Inc()
	m.latency.Observe(d.Seconds())
}

func (m *Orders) ObserveTransition(from, to string) {
	m.transitions.WithLabelValues(from, to).Inc()
}
