// Package metrics exports solver progress as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector counts Newton solves, convergence aids and time steps. It
// satisfies analysis.Observer and prometheus.Collector.
type Collector struct {
	newtonSolves     *prometheus.CounterVec
	newtonIterations *prometheus.HistogramVec
	aids             *prometheus.CounterVec
	accepted         prometheus.Counter
	rejected         *prometheus.CounterVec
	stepSize         prometheus.Histogram
	simTime          prometheus.Gauge
}

func NewCollector(namespace string) *Collector {
	return &Collector{
		newtonSolves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "newton_solves_total",
			Help:      "Newton-Raphson solves by analysis and outcome.",
		}, []string{"analysis", "result"}),
		newtonIterations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "newton_iterations",
			Help:      "Iterations per Newton-Raphson solve.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34, 55, 100},
		}, []string{"analysis"}),
		aids: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "convergence_aids_total",
			Help:      "Convergence aid runs by strategy and outcome.",
		}, []string{"strategy", "result"}),
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "time_steps_accepted_total",
			Help:      "Accepted transient time steps.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "time_steps_rejected_total",
			Help:      "Rejected transient time steps by reason.",
		}, []string{"reason"}),
		stepSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "time_step_seconds",
			Help:      "Size of accepted transient time steps.",
			Buckets:   prometheus.ExponentialBuckets(1e-12, 10, 12),
		}),
		simTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "simulated_time_seconds",
			Help:      "Time of the last accepted transient point.",
		}),
	}
}

func outcome(ok bool) string {
	if ok {
		return "converged"
	}
	return "failed"
}

func (c *Collector) NewtonSolve(analysis string, iterations int, converged bool) {
	c.newtonSolves.WithLabelValues(analysis, outcome(converged)).Inc()
	c.newtonIterations.WithLabelValues(analysis).Observe(float64(iterations))
}

func (c *Collector) ConvergenceAid(strategy string, _ int, converged bool) {
	c.aids.WithLabelValues(strategy, outcome(converged)).Inc()
}

func (c *Collector) StepAccepted(t, h float64, _ int) {
	c.accepted.Inc()
	c.stepSize.Observe(h)
	c.simTime.Set(t)
}

func (c *Collector) StepRejected(_, _ float64, reason string) {
	c.rejected.WithLabelValues(reason).Inc()
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.newtonSolves.Describe(ch)
	c.newtonIterations.Describe(ch)
	c.aids.Describe(ch)
	c.accepted.Describe(ch)
	c.rejected.Describe(ch)
	c.stepSize.Describe(ch)
	c.simTime.Describe(ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.newtonSolves.Collect(ch)
	c.newtonIterations.Collect(ch)
	c.aids.Collect(ch)
	c.accepted.Collect(ch)
	c.rejected.Collect(ch)
	c.stepSize.Collect(ch)
	c.simTime.Collect(ch)
}

// WriteFile registers c on a fresh registry and writes it in the text
// exposition format, for node_exporter's textfile collector.
func (c *Collector) WriteFile(path string) error {
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		return err
	}
	return prometheus.WriteToTextfile(path, reg)
}
