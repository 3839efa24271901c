package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestNoopCollector(t *testing.T) {
	collector := Noop()
	require.NotNil(t, collector)
	collector.ObserveStep("pid", 1, 2, 3)
	collector.IncFault("diverged")
	collector.IncAutoPause()
	collector.SetState("running")
}

func TestPrometheusCollectorRegistersAndReuses(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg)
	require.NoError(t, err)

	collector.ObserveStep("pid", 42, 60, 50)

	again, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.Same(t, collector.steps, again.steps)

	again.ObserveStep("pid", 43, 55, 50)

	families := gather(t, reg)
	requireCounterValue(t, families["loopsim_steps_total"], 2)
	require.Equal(t, 43.0, families["loopsim_process_value"].Metric[0].Gauge.GetValue())
	require.Equal(t, 50.0, families["loopsim_setpoint"].Metric[0].Gauge.GetValue())
}

func TestPrometheusCollectorState(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg)
	require.NoError(t, err)

	collector.SetState("running")
	collector.SetState("faulted")
	collector.IncFault("diverged")
	collector.IncAutoPause()

	families := gather(t, reg)
	state := families["loopsim_engine_state"]
	require.Len(t, state.Metric, len(States))
	for _, m := range state.Metric {
		want := 0.0
		if labelValue(m, "state") == "faulted" {
			want = 1
		}
		require.Equal(t, want, m.Gauge.GetValue(), labelValue(m, "state"))
	}
	requireCounterValue(t, families["loopsim_faults_total"], 1)
	requireCounterValue(t, families["loopsim_auto_pauses_total"], 1)
}

func TestNilPrometheusCollector(t *testing.T) {
	var p *PrometheusCollector
	p.ObserveStep("pid", 0, 0, 0)
	p.SetState("idle")
}

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		out[mf.GetName()] = mf
	}
	return out
}

func labelValue(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

func requireCounterValue(t *testing.T, mf *dto.MetricFamily, value float64) {
	t.Helper()
	require.NotNil(t, mf)
	require.Len(t, mf.Metric, 1)
	require.NotNil(t, mf.Metric[0].Counter)
	require.Equal(t, value, mf.Metric[0].Counter.GetValue())
}
