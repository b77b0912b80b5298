package notify

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nasa-jpl/labsweep/acq"
)

// Metrics counts runs, frames, and capture retries
type Metrics struct {
	Runs     *prometheus.CounterVec
	Frames   prometheus.Counter
	Retries  prometheus.Counter
	Duration prometheus.Histogram
	Running  prometheus.Gauge
}

// NewMetrics creates the metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "acq",
			Name:      "runs_total",
			Help:      "Acquisition runs by terminal state.",
		}, []string{"kind", "state"}),
		Frames: prometheus.NewCounter(prometheus.CounterOpts{
			Subsystem: "acq",
			Name:      "frames_total",
			Help:      "Frames captured by finished runs.",
		}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Subsystem: "acq",
			Name:      "capture_retries_total",
			Help:      "Captures that timed out and were re-triggered.",
		}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Subsystem: "acq",
			Name:      "run_duration_seconds",
			Help:      "Wall time of finished runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}),
		Running: prometheus.NewGauge(prometheus.GaugeOpts{
			Subsystem: "acq",
			Name:      "running",
			Help:      "1 while a run is active.",
		}),
	}
	for _, c := range []prometheus.Collector{m.Runs, m.Frames, m.Retries, m.Duration, m.Running} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Observe updates the metrics from an event
func (m *Metrics) Observe(e acq.Event) {
	if e.State == acq.Running {
		m.Running.Set(1)
		return
	}
	if !e.State.Terminal() {
		return
	}
	m.Running.Set(0)
	m.Runs.WithLabelValues(e.Kind, e.State.String()).Inc()
	m.Frames.Add(float64(e.Frames))
	m.Retries.Add(float64(e.Retries))
	m.Duration.Observe(e.Elapsed.Seconds())
}
