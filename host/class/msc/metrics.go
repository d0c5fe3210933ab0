package msc

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ardnew/softmsc/pkg"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	commandsTotal      *prometheus.CounterVec
	timeoutsTotal      *prometheus.CounterVec
	stallRetriesTotal  prometheus.Counter
	staleTotal         prometheus.Counter
	misclassifiedTotal prometheus.Counter
	lunsGauge          prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "msc_commands_total",
			Help: "The number of completed mass storage commands by command and result.",
		}, []string{"command", "result"}),
		timeoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "msc_timeouts_total",
			Help: "The number of commands whose caller stopped waiting before the status phase.",
		}, []string{"command"}),
		stallRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "msc_stall_retries_total",
			Help: "The number of READ (10) command block resubmissions after a transient failure.",
		}),
		staleTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "msc_stale_completions_total",
			Help: "The number of completions that arrived for an abandoned command.",
		}),
		misclassifiedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "msc_misclassified_total",
			Help: "The number of completions whose payload classification disagreed with the submitted phase.",
		}),
		lunsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "msc_luns",
			Help: "The number of logical units reported by the device.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.commandsTotal,
			m.timeoutsTotal,
			m.stallRetriesTotal,
			m.staleTotal,
			m.misclassifiedTotal,
			m.lunsGauge,
		)
	}
	return m
}

func result(err error) string {
	if err == nil {
		return "ok"
	}
	switch {
	case errors.Is(err, ErrCommandFailed):
		return "failed"
	case errors.Is(err, ErrPhaseError):
		return "phase_error"
	}
	return pkg.StatusOf(err).String()
}

func (m *Metrics) command(cmd command, err error) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(cmd.String(), result(err)).Inc()
}

func (m *Metrics) timeout(cmd command) {
	if m == nil {
		return
	}
	m.timeoutsTotal.WithLabelValues(cmd.String()).Inc()
}

func (m *Metrics) stallRetry() {
	if m == nil {
		return
	}
	m.stallRetriesTotal.Inc()
}

func (m *Metrics) stale() {
	if m == nil {
		return
	}
	m.staleTotal.Inc()
}

func (m *Metrics) misclassified() {
	if m == nil {
		return
	}
	m.misclassifiedTotal.Inc()
}

func (m *Metrics) luns(n int) {
	if m == nil {
		return
	}
	m.lunsGauge.Set(float64(n))
}
