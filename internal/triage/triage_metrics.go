package triage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	ItemsIngested   *prometheus.CounterVec
	Classifications *prometheus.CounterVec
	RuleMatches     *prometheus.CounterVec
	RulesLearned    *prometheus.CounterVec
	OracleCalls     *prometheus.CounterVec
	OracleDuration  *prometheus.HistogramVec
	Actions         *prometheus.CounterVec
	BatchResolved   prometheus.Histogram
	BatchReleased   prometheus.Histogram
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ItemsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aurelius_items_ingested_total",
			Help: "Items processed by the ingestion gate, by connector and result.",
		}, []string{"connector", "result"}),
		Classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aurelius_classifications_total",
			Help: "Classifications by the tier that produced them.",
		}, []string{"tier"}),
		RuleMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aurelius_rule_matches_total",
			Help: "Rule-tier matches by trigger kind.",
		}, []string{"kind"}),
		RulesLearned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aurelius_rules_learned_total",
			Help: "Rules created, by source.",
		}, []string{"source"}),
		OracleCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aurelius_oracle_calls_total",
			Help: "Classification oracle calls by oracle and outcome.",
		}, []string{"oracle", "outcome"}),
		OracleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aurelius_oracle_call_duration_seconds",
			Help:    "Duration of individual oracle calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s .. ~51s
		}, []string{"oracle"}),
		Actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aurelius_actions_total",
			Help: "Lifecycle actions by action and result.",
		}, []string{"action", "result"}),
		BatchResolved: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aurelius_batch_items_resolved",
			Help:    "Items resolved per batch resolution.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8), // 1 .. 128
		}),
		BatchReleased: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aurelius_batch_items_released",
			Help:    "Items released back to the queue per batch resolution.",
			Buckets: prometheus.LinearBuckets(0, 1, 11), // 0 .. 10
		}),
	}

	reg.MustRegister(
		m.ItemsIngested,
		m.Classifications,
		m.RuleMatches,
		m.RulesLearned,
		m.OracleCalls,
		m.OracleDuration,
		m.Actions,
		m.BatchResolved,
		m.BatchReleased,
	)

	return m
}

// Hooks returns a Hooks that increments the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnIngest: func(connector, result string) {
			m.ItemsIngested.WithLabelValues(connector, result).Inc()
		},
		OnClassify: func(tier Tier) {
			m.Classifications.WithLabelValues(string(tier)).Inc()
		},
		OnOracleCall: func(name, outcome string, seconds float64) {
			m.OracleCalls.WithLabelValues(name, outcome).Inc()
			m.OracleDuration.WithLabelValues(name).Observe(seconds)
		},
		OnRuleMatch: func(kind TriggerKind) {
			m.RuleMatches.WithLabelValues(string(kind)).Inc()
		},
		OnRuleLearned: func(source RuleSource) {
			m.RulesLearned.WithLabelValues(string(source)).Inc()
		},
		OnAction: func(action Action, result string) {
			m.Actions.WithLabelValues(string(action), result).Inc()
		},
		OnBatchResolved: func(resolved, released int) {
			m.BatchResolved.Observe(float64(resolved))
			m.BatchReleased.Observe(float64(released))
		},
	}
}
