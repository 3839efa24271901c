package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector receives loop events from the engine.
//
// Hooks run inline with every simulation step, so implementations should
// not block.
type Collector interface {
	ObserveStep(controller string, processValue, output, setpoint float64)
	IncFault(reason string)
	IncAutoPause()
	SetState(state string)
}

type noopCollector struct{}

// Noop returns a collector that discards all events.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) ObserveStep(string, float64, float64, float64) {}
func (noopCollector) IncFault(string)                               {}
func (noopCollector) IncAutoPause()                                 {}
func (noopCollector) SetState(string)                               {}

// States lists the engine state label values exported by SetState.
var States = []string{"idle", "running", "paused", "auto_paused", "faulted", "completed"}

// PrometheusCollector exposes loop telemetry via Prometheus.
type PrometheusCollector struct {
	steps      *prometheus.CounterVec
	faults     *prometheus.CounterVec
	autoPauses prometheus.Counter
	pv         prometheus.Gauge
	output     prometheus.Gauge
	setpoint   prometheus.Gauge
	state      *prometheus.GaugeVec
}

// NewPrometheusCollector registers the loop metrics with reg. Metrics that
// are already registered on reg are reused.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	steps, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loopsim_steps_total",
		Help: "Number of simulation steps executed per controller variant.",
	}, []string{"controller"}))
	if err != nil {
		return nil, err
	}
	faults, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loopsim_faults_total",
		Help: "Number of times the engine entered the faulted state.",
	}, []string{"reason"}))
	if err != nil {
		return nil, err
	}
	autoPauses, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loopsim_auto_pauses_total",
		Help: "Number of automatic pauses on convergence.",
	}))
	if err != nil {
		return nil, err
	}
	pv, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "loopsim_process_value",
		Help: "Process value after the last step.",
	}))
	if err != nil {
		return nil, err
	}
	output, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "loopsim_control_output",
		Help: "Controller output applied in the last step.",
	}))
	if err != nil {
		return nil, err
	}
	setpoint, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "loopsim_setpoint",
		Help: "Setpoint in effect during the last step.",
	}))
	if err != nil {
		return nil, err
	}
	state, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "loopsim_engine_state",
		Help: "1 for the current engine state, 0 otherwise.",
	}, []string{"state"}))
	if err != nil {
		return nil, err
	}

	return &PrometheusCollector{
		steps:      steps,
		faults:     faults,
		autoPauses: autoPauses,
		pv:         pv,
		output:     output,
		setpoint:   setpoint,
		state:      state,
	}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, err
	}
	return c, nil
}

// ObserveStep counts a step and updates the loop gauges.
func (p *PrometheusCollector) ObserveStep(controller string, processValue, output, setpoint float64) {
	if p == nil {
		return
	}
	p.steps.WithLabelValues(controller).Inc()
	p.pv.Set(processValue)
	p.output.Set(output)
	p.setpoint.Set(setpoint)
}

func (p *PrometheusCollector) IncFault(reason string) {
	if p == nil {
		return
	}
	p.faults.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) IncAutoPause() {
	if p == nil {
		return
	}
	p.autoPauses.Inc()
}

// SetState marks state as current and clears the other known states.
func (p *PrometheusCollector) SetState(state string) {
	if p == nil {
		return
	}
	for _, s := range States {
		v := 0.0
		if s == state {
			v = 1
		}
		p.state.WithLabelValues(s).Set(v)
	}
}
