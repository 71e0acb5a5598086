// Package metrics exposes Prometheus collectors for scenario and probe
// outcomes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/deixis/smoke/internal/report"
)

const (
	MetricsNamespace = "smoke"
)

// Collector records harness activity on a registry. It implements
// probe.Observer and scenario.Recorder.
type Collector struct {
	scenariosTotal *prometheus.CounterVec
	probeRunsTotal *prometheus.CounterVec
	probeDuration  *prometheus.HistogramVec
	runPassed      prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		scenariosTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "scenarios_total",
			Help:      "Count of scenario outcomes",
		}, []string{
			"name",
			"status",
		}),
		probeRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "probe_runs_total",
			Help:      "Count of probe runs by outcome",
		}, []string{
			"tool",
			"outcome",
		}),
		probeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Name:      "probe_duration_seconds",
			Help:      "Wall time of probe runs",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{
			"tool",
		}),
		runPassed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "run_passed",
			Help:      "1 if the last run passed, 0 otherwise",
		}),
	}
}

func (c *Collector) ObserveProbe(tool, outcome string, elapsed time.Duration) {
	c.probeRunsTotal.WithLabelValues(tool, outcome).Inc()
	c.probeDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

func (c *Collector) ObserveScenario(name string, status report.Status, _ time.Duration) {
	c.scenariosTotal.WithLabelValues(name, string(status)).Inc()
}

func (c *Collector) ObserveRun(passed bool) {
	if passed {
		c.runPassed.Set(1)
	} else {
		c.runPassed.Set(0)
	}
}
