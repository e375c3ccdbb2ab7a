package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/gateway-fm/xosactivity/pkg/types"
)

func TestRecordOperation(t *testing.T) {
	m := NewPrometheusMetrics(prometheus.NewRegistry())

	m.RecordOperation(types.OpSwap, types.OpStatusSuccess, "none", time.Second)
	m.RecordOperation(types.OpSwap, types.OpStatusFailed, "insufficient_balance", time.Second)
	m.RecordOperation(types.OpSwap, types.OpStatusSkipped, "insufficient_balance", time.Second)

	if got := testutil.ToFloat64(m.OperationsTotal.WithLabelValues("swap", "success")); got != 1 {
		t.Errorf("success count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("insufficient_balance", "swap")); got != 1 {
		t.Errorf("error count = %v, want 1 (skipped operations are not errors)", got)
	}
}

func TestSetCycleState(t *testing.T) {
	m := NewPrometheusMetrics(prometheus.NewRegistry())

	m.SetCycleState(types.StateRunning)
	m.SetCycleState(types.StateWaiting24h)

	if got := testutil.ToFloat64(m.CycleState.WithLabelValues("waiting_24h")); got != 1 {
		t.Errorf("waiting_24h = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CycleState.WithLabelValues("running")); got != 0 {
		t.Errorf("running = %v, want 0", got)
	}
}

func TestCountersAndGauges(t *testing.T) {
	m := NewPrometheusMetrics(prometheus.NewRegistry())

	m.RecordGasUsed(types.OpApprove, 46_000)
	m.RecordGasUsed(types.OpApprove, 4_000)
	m.RecordCheckIn("already")
	m.RecordCycle("completed")
	m.RecordConnect("direct")
	m.SetInFlight(2)
	m.SetWalletBalance("0xf39F...2266", "XOS", 0.05)

	checks := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"gas", m.GasUsedTotal.WithLabelValues("approve"), 50_000},
		{"checkin", m.CheckInsTotal.WithLabelValues("already"), 1},
		{"cycle", m.CyclesTotal.WithLabelValues("completed"), 1},
		{"connect", m.ConnectsTotal.WithLabelValues("direct"), 1},
		{"in flight", m.InFlight, 2},
		{"balance", m.WalletBalance.WithLabelValues("0xf39F...2266", "XOS"), 0.05},
	}
	for _, c := range checks {
		t.Run(c.name, func(t *testing.T) {
			if got := testutil.ToFloat64(c.c); got != c.want {
				t.Errorf("%s = %v, want %v", c.name, got, c.want)
			}
		})
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *PrometheusMetrics
	m.RecordOperation(types.OpSwap, types.OpStatusFailed, "other", time.Second)
	m.RecordGasUsed(types.OpSwap, 1)
	m.RecordCheckIn("success")
	m.RecordCycle("completed")
	m.RecordConnect("proxy")
	m.SetCycleState(types.StateIdle)
	m.SetInFlight(1)
	m.SetWalletBalance("a", "XOS", 1)
}
