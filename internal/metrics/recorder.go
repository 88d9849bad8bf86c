// Package metrics exports adaptive cadence decisions as Prometheus metrics.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jpalmerr/cadence/adaptive"
)

const namespace = "cadence"

// Recorder turns [adaptive.Cycle] reports into Prometheus metrics, labelled
// by scheduler name.
type Recorder struct {
	cycles   *prometheus.CounterVec
	interval *prometheus.GaugeVec
	idle     *prometheus.GaugeVec
	duration *prometheus.HistogramVec
}

// NewRecorder creates a [Recorder] and registers its collectors with reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Completed scheduler cycles by outcome.",
		}, []string{"scheduler", "outcome"}),
		interval: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "interval_seconds",
			Help:      "Current wait before the next cycle.",
		}, []string{"scheduler"}),
		idle: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "idle",
			Help:      "1 while the scheduler runs at its idle cadence.",
		}, []string{"scheduler"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Time spent in the work of one cycle.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"scheduler"}),
	}

	for _, c := range []prometheus.Collector{r.cycles, r.interval, r.idle, r.duration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register cadence metrics: %w", err)
		}
	}
	return r, nil
}

// Observe records one completed cycle.
func (r *Recorder) Observe(c adaptive.Cycle) {
	r.cycles.WithLabelValues(c.Name, c.Outcome.String()).Inc()
	r.interval.WithLabelValues(c.Name).Set(c.Interval.Seconds())
	r.duration.WithLabelValues(c.Name).Observe(c.Duration.Seconds())

	idle := 0.0
	if c.Mode == adaptive.ModeIdle {
		idle = 1
	}
	r.idle.WithLabelValues(c.Name).Set(idle)
}
