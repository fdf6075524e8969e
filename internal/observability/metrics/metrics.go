package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes counters for the settlement paths. Webhook deliveries are
// counted per provider so replayed events stay visible to the operator.
type Metrics struct {
	settlements *prometheus.CounterVec
	webhooks    *prometheus.CounterVec
	topups      *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		settlements: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tiendita",
			Name:      "settlements_total",
			Help:      "Settlement attempts by provider and outcome.",
		}, []string{"provider", "outcome"}),
		webhooks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tiendita",
			Name:      "webhook_deliveries_total",
			Help:      "Inbound provider deliveries by provider and result.",
		}, []string{"provider", "result"}),
		topups: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tiendita",
			Name:      "wallet_topups_total",
			Help:      "Wallet top-up settlements by provider and outcome.",
		}, []string{"provider", "outcome"}),
	}
}

func (m *Metrics) RecordSettlement(provider, outcome string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) RecordWebhook(provider, result string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) RecordTopUp(provider, outcome string) {
	if m == nil {
		return
	}
	m.topups.WithLabelValues(provider, outcome).Inc()
}
