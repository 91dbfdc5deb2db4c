package raft

import "github.com/prometheus/client_golang/prometheus"

// metrics holds the per-Node prometheus collectors. A fresh set is created
// per Node (labelled by node id) rather than using global package-level
// collectors, so multiple Nodes in one process (as in the seed-scenario
// tests) don't collide on registration.
type metrics struct {
	term        prometheus.Gauge
	commitIndex prometheus.Gauge
	lastApplied prometheus.Gauge
	role        *prometheus.GaugeVec
	elections   prometheus.Counter
	proposals   *prometheus.CounterVec
}

func newMetrics(registry prometheus.Registerer, nodeID string) *metrics {
	constLabels := prometheus.Labels{"node_id": nodeID}
	m := &metrics{
		term: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "raftkit", Name: "current_term", ConstLabels: constLabels,
			Help: "Current Raft term observed by this node.",
		}),
		commitIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "raftkit", Name: "commit_index", ConstLabels: constLabels,
			Help: "Highest log index known committed.",
		}),
		lastApplied: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "raftkit", Name: "last_applied_index", ConstLabels: constLabels,
			Help: "Highest log index applied to the state machine.",
		}),
		role: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "raftkit", Name: "role", ConstLabels: constLabels,
			Help: "1 for the currently active role, 0 otherwise.",
		}, []string{"role"}),
		elections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raftkit", Name: "elections_started_total", ConstLabels: constLabels,
			Help: "Number of campaigns started by this node.",
		}),
		proposals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raftkit", Name: "proposals_total", ConstLabels: constLabels,
			Help: "Proposals by outcome.",
		}, []string{"outcome"}),
	}
	if registry != nil {
		registry.MustRegister(m.term, m.commitIndex, m.lastApplied, m.role, m.elections, m.proposals)
	}
	return m
}

func (m *metrics) setRole(active RoleName) {
	for _, name := range []RoleName{RoleFollower, RoleCandidate, RoleLeader} {
		v := 0.0
		if name == active {
			v = 1.0
		}
		m.role.WithLabelValues(string(name)).Set(v)
	}
}
