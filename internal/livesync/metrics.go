package livesync

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts sync engine activity. A nil *Metrics records nothing.
type Metrics struct {
	mutations *prometheus.CounterVec
	rollbacks *prometheus.CounterVec
	retries   *prometheus.CounterVec
	events    *prometheus.CounterVec
	dropped   *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them with reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "civic_patrol",
			Subsystem: "livesync",
			Name:      "mutations_total",
			Help:      "Proposed mutations by kind and outcome.",
		}, []string{"kind", "outcome"}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "civic_patrol",
			Subsystem: "livesync",
			Name:      "rollbacks_total",
			Help:      "Optimistic patches rolled back after a failed remote write.",
		}, []string{"kind"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "civic_patrol",
			Subsystem: "livesync",
			Name:      "retries_total",
			Help:      "Remote write retries after transient failures.",
		}, []string{"kind"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "civic_patrol",
			Subsystem: "livesync",
			Name:      "events_applied_total",
			Help:      "Change events merged into the cache.",
		}, []string{"channel"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "civic_patrol",
			Subsystem: "livesync",
			Name:      "events_dropped_total",
			Help:      "Change events dropped by the dispatcher: malformed, or past a full subscription queue.",
		}, []string{"channel"}),
	}
	if reg != nil {
		reg.MustRegister(m.mutations, m.rollbacks, m.retries, m.events, m.dropped)
	}
	return m
}

func (m *Metrics) mutation(kind MutationKind, status OutcomeStatus) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(string(kind), string(status)).Inc()
}

func (m *Metrics) rollback(kind MutationKind) {
	if m == nil {
		return
	}
	m.rollbacks.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) retry(kind MutationKind) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) applied(channel string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(channel).Inc()
}

func (m *Metrics) drop(channel string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(channel).Inc()
}
