// Package metrics holds the Prometheus collectors for the storefront.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Registry *prometheus.Registry

	Events          *prometheus.CounterVec
	Orders          *prometheus.CounterVec
	Deposits        prometheus.Counter
	Decisions       *prometheus.CounterVec
	ReferralGrants  prometheus.Counter
	GatewayFailures *prometheus.CounterVec
	Broadcasts      prometheus.Counter
}

// New builds a registry with every collector registered. Callers that do not
// care about metrics may pass a nil *Metrics around; all recorders are nil-safe.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smmpanel",
			Subsystem: "dispatcher",
			Name:      "events_total",
			Help:      "User events handled, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		Orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smmpanel",
			Subsystem: "ledger",
			Name:      "orders_total",
			Help:      "Order attempts, by result.",
		}, []string{"result"}),
		Deposits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smmpanel",
			Subsystem: "moderation",
			Name:      "deposits_submitted_total",
			Help:      "Deposits submitted for moderation.",
		}),
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smmpanel",
			Subsystem: "moderation",
			Name:      "decisions_total",
			Help:      "Moderation decisions, by decision and result.",
		}, []string{"decision", "result"}),
		ReferralGrants: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smmpanel",
			Subsystem: "referral",
			Name:      "grants_total",
			Help:      "Referral bonuses credited.",
		}),
		GatewayFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smmpanel",
			Subsystem: "gateway",
			Name:      "failures_total",
			Help:      "Best-effort messages that could not be delivered.",
		}, []string{"kind"}),
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smmpanel",
			Subsystem: "broadcast",
			Name:      "messages_total",
			Help:      "Broadcast messages delivered.",
		}),
	}
	m.Registry.MustRegister(
		m.Events,
		m.Orders,
		m.Deposits,
		m.Decisions,
		m.ReferralGrants,
		m.GatewayFailures,
		m.Broadcasts,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Event(kind, outcome string) {
	if m != nil {
		m.Events.WithLabelValues(kind, outcome).Inc()
	}
}

func (m *Metrics) Order(result string) {
	if m != nil {
		m.Orders.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) DepositSubmitted() {
	if m != nil {
		m.Deposits.Inc()
	}
}

func (m *Metrics) Decision(decision, result string) {
	if m != nil {
		m.Decisions.WithLabelValues(decision, result).Inc()
	}
}

func (m *Metrics) ReferralGranted() {
	if m != nil {
		m.ReferralGrants.Inc()
	}
}

func (m *Metrics) GatewayFailure(kind string, n int) {
	if m != nil && n > 0 {
		m.GatewayFailures.WithLabelValues(kind).Add(float64(n))
	}
}

func (m *Metrics) BroadcastSent(n int) {
	if m != nil && n > 0 {
		m.Broadcasts.Add(float64(n))
	}
}
