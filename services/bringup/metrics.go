package bringup

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are optional; a nil *Metrics records nothing.
type Metrics struct {
	commands *prometheus.CounterVec
	writes   prometheus.Counter
	sessions *prometheus.CounterVec
	phase    prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bringup_commands_total",
				Help: "Commands attempted, by result code.",
			},
			[]string{"result"},
		),
		writes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bringup_register_writes_total",
				Help: "Register writes performed by the execution engine.",
			},
		),
		sessions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bringup_sessions_total",
				Help: "Finished bring-up sessions, by outcome.",
			},
			[]string{"outcome"},
		),
		phase: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bringup_last_activation_phase",
				Help: "Phase counter of the most recent activated session, -1 if none.",
			},
		),
	}
	m.phase.Set(-1)
	if reg != nil {
		reg.MustRegister(m.commands, m.writes, m.sessions, m.phase)
	}
	return m
}

func (m *Metrics) command(result string) {
	if m != nil {
		m.commands.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) write() {
	if m != nil {
		m.writes.Inc()
	}
}

func (m *Metrics) session(o Outcome, phase int) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(string(o)).Inc()
	if o == OutcomeActivated {
		m.phase.Set(float64(phase))
	}
}
