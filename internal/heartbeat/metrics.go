package heartbeat

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for heartbeat runs.
type Metrics struct {
	Runs         *prometheus.CounterVec
	RunDuration  prometheus.Histogram
	StepDuration *prometheus.HistogramVec
}

// NewMetrics registers and returns heartbeat metrics on the given
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aurelius_heartbeat_runs_total",
			Help: "Heartbeat runs by final status.",
		}, []string{"status"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aurelius_heartbeat_run_duration_seconds",
			Help:    "Duration of complete heartbeat runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s .. ~17m
		}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aurelius_heartbeat_step_duration_seconds",
			Help:    "Duration of heartbeat steps by step and outcome.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s .. ~51s
		}, []string{"step", "status"}),
	}

	reg.MustRegister(m.Runs, m.RunDuration, m.StepDuration)
	return m
}
