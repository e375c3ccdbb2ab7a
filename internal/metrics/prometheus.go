// Package metrics exposes Prometheus metrics for the activity engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gateway-fm/xosactivity/pkg/types"
)

// PrometheusMetrics holds all Prometheus metrics for the activity engine.
// A nil *PrometheusMetrics is valid and records nothing.
type PrometheusMetrics struct {
	// Operation counters
	OperationsTotal *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
	GasUsedTotal    *prometheus.CounterVec
	CheckInsTotal   *prometheus.CounterVec
	CyclesTotal     *prometheus.CounterVec
	ConnectsTotal   *prometheus.CounterVec

	// Gauges
	CycleState    *prometheus.GaugeVec
	InFlight      prometheus.Gauge
	WalletBalance *prometheus.GaugeVec

	// Histograms
	OperationDuration *prometheus.HistogramVec
}

// NewPrometheusMetrics creates and registers all Prometheus metrics.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &PrometheusMetrics{
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xosactivity_operations_total",
				Help: "Operations by kind and status",
			},
			[]string{"kind", "status"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xosactivity_errors_total",
				Help: "Failed operations by error kind and operation kind",
			},
			[]string{"error_kind", "kind"},
		),

		GasUsedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xosactivity_gas_used_total",
				Help: "Gas used by mined transactions",
			},
			[]string{"kind"},
		),

		CheckInsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xosactivity_checkins_total",
				Help: "Daily check-ins by outcome",
			},
			[]string{"outcome"},
		),

		CyclesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xosactivity_cycles_total",
				Help: "Finished activity cycles by status",
			},
			[]string{"status"},
		),

		ConnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xosactivity_provider_connects_total",
				Help: "Chain connections by route (proxy, direct, failed)",
			},
			[]string{"route"},
		),

		CycleState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "xosactivity_cycle_state",
				Help: "Current scheduler state (1 if active, 0 otherwise)",
			},
			[]string{"state"},
		),

		InFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "xosactivity_in_flight",
				Help: "Operations and sleeps currently in flight",
			},
		),

		WalletBalance: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "xosactivity_wallet_balance",
				Help: "Last refreshed wallet balance in whole units",
			},
			[]string{"account", "asset"},
		),

		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "xosactivity_operation_duration_seconds",
				Help:    "Operation duration from build to receipt",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
			},
			[]string{"kind"},
		),
	}
}

// RecordOperation records a finished operation. errKind is ignored unless
// the status is failed.
func (m *PrometheusMetrics) RecordOperation(kind types.OperationKind, status types.OperationStatus, errKind string, d time.Duration) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(string(kind), string(status)).Inc()
	m.OperationDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
	if status == types.OpStatusFailed {
		m.ErrorsTotal.WithLabelValues(errKind, string(kind)).Inc()
	}
}

// RecordGasUsed adds gas used by a mined transaction.
func (m *PrometheusMetrics) RecordGasUsed(kind types.OperationKind, gas uint64) {
	if m == nil {
		return
	}
	m.GasUsedTotal.WithLabelValues(string(kind)).Add(float64(gas))
}

// RecordCheckIn records a check-in outcome.
func (m *PrometheusMetrics) RecordCheckIn(outcome string) {
	if m == nil {
		return
	}
	m.CheckInsTotal.WithLabelValues(outcome).Inc()
}

// RecordCycle records a finished cycle.
func (m *PrometheusMetrics) RecordCycle(status string) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues(status).Inc()
}

// RecordConnect records how a chain connection was resolved.
func (m *PrometheusMetrics) RecordConnect(route string) {
	if m == nil {
		return
	}
	m.ConnectsTotal.WithLabelValues(route).Inc()
}

// SetCycleState updates the state gauges.
func (m *PrometheusMetrics) SetCycleState(state types.CycleState) {
	if m == nil {
		return
	}
	for _, s := range types.AllCycleStates {
		if s == state {
			m.CycleState.WithLabelValues(string(s)).Set(1)
		} else {
			m.CycleState.WithLabelValues(string(s)).Set(0)
		}
	}
}

// SetInFlight updates the in-flight gauge.
func (m *PrometheusMetrics) SetInFlight(n int64) {
	if m == nil {
		return
	}
	m.InFlight.Set(float64(n))
}

// SetWalletBalance updates one balance gauge.
func (m *PrometheusMetrics) SetWalletBalance(account, asset string, balance float64) {
	if m == nil {
		return
	}
	m.WalletBalance.WithLabelValues(account, asset).Set(balance)
}
