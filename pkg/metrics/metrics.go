// Package metrics exports settlement activity to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/uhyunpark/hyperport/pkg/settlement"
	"github.com/uhyunpark/hyperport/pkg/token"
)

const namespace = "hyperport"

// SettlementMetrics counts engine calls, transfers and published events.
// It implements settlement.Metrics and settlement.EventSink.
type SettlementMetrics struct {
	calls     *prometheus.CounterVec
	orders    *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	transfers *prometheus.CounterVec
	events    *prometheus.CounterVec
}

// NewSettlementMetrics registers the collectors against reg, or the default
// registerer when reg is nil.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &SettlementMetrics{
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "calls_total",
				Help:      "Engine entry point calls by operation and result.",
			},
			[]string{"op", "result"},
		),
		orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "orders_total",
				Help:      "Orders submitted to successful engine calls.",
			},
			[]string{"op"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "call_seconds",
				Help:      "Duration of engine entry point calls.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		transfers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "transfers_total",
				Help:      "Item transfers by asset kind and route. Reverted calls are included.",
			},
			[]string{"kind", "route"},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "events_total",
				Help:      "Committed settlement events by name.",
			},
			[]string{"event"},
		),
	}
	reg.MustRegister(m.calls, m.orders, m.duration, m.transfers, m.events)
	return m
}

func (m *SettlementMetrics) ObserveCall(op string, orders int, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "reverted"
	} else if orders > 0 {
		m.orders.WithLabelValues(op).Add(float64(orders))
	}
	m.calls.WithLabelValues(op, result).Inc()
	if elapsed >= 0 {
		m.duration.WithLabelValues(op).Observe(elapsed.Seconds())
	}
}

func (m *SettlementMetrics) ObserveTransfer(kind token.Kind, viaConduit bool) {
	if m == nil {
		return
	}
	route := "direct"
	if viaConduit {
		route = "conduit"
	}
	m.transfers.WithLabelValues(kind.String(), route).Inc()
}

// Publish counts committed events.
func (m *SettlementMetrics) Publish(events []settlement.Event) {
	if m == nil {
		return
	}
	for _, ev := range events {
		m.events.WithLabelValues(ev.EventName()).Inc()
	}
}

// CallsCounter exposes the call counter for tests and diagnostics.
func (m *SettlementMetrics) CallsCounter(op, result string) prometheus.Counter {
	return m.calls.WithLabelValues(op, result)
}

// TransfersCounter exposes the transfer counter for tests and diagnostics.
func (m *SettlementMetrics) TransfersCounter(kind token.Kind, route string) prometheus.Counter {
	return m.transfers.WithLabelValues(kind.String(), route)
}

// EventsCounter exposes the event counter for tests and diagnostics.
func (m *SettlementMetrics) EventsCounter(name string) prometheus.Counter {
	return m.events.WithLabelValues(name)
}

var (
	_ settlement.Metrics   = (*SettlementMetrics)(nil)
	_ settlement.EventSink = (*SettlementMetrics)(nil)
)
