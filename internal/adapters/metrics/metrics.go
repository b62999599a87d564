// Package metrics exposes Prometheus metrics for the control plane:
//
//	guard_orders_admitted_total: orders passed to the broker
//	guard_orders_rejected_total{code}: rejections by policy code
//	guard_watchdog_interventions_total{trigger}: interventions by trigger
//	guard_account_equity: last observed net liquidation value
//	guard_circuit_breaker_active: 1 while the breaker is tripped
//
// Served at /metrics in Prometheus text exposition format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ordersAdmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "guard_orders_admitted_total",
			Help: "Orders admitted and handed to the broker",
		},
	)

	ordersRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guard_orders_rejected_total",
			Help: "Orders rejected, split by rejection code",
		},
		[]string{"code"},
	)

	interventions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guard_watchdog_interventions_total",
			Help: "Watchdog interventions, split by trigger",
		},
		[]string{"trigger"},
	)

	accountEquity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "guard_account_equity",
			Help: "Last observed account net liquidation value",
		},
	)

	breakerActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "guard_circuit_breaker_active",
			Help: "1 while the circuit breaker is tripped",
		},
	)
)

func init() {
	prometheus.MustRegister(ordersAdmitted, ordersRejected, interventions, accountEquity, breakerActive)
}

// OrderAdmitted counts an admitted order.
func OrderAdmitted() { ordersAdmitted.Inc() }

// OrderRejected counts a rejection by policy code.
func OrderRejected(code string) { ordersRejected.WithLabelValues(code).Inc() }

// Intervention counts a watchdog intervention by trigger.
func Intervention(trigger string) { interventions.WithLabelValues(trigger).Inc() }

// SetEquity records the last observed account value.
func SetEquity(v float64) { accountEquity.Set(v) }

// SetBreakerActive records the circuit breaker flag.
func SetBreakerActive(active bool) {
	if active {
		breakerActive.Set(1)
	} else {
		breakerActive.Set(0)
	}
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
