package bloom

import "github.com/prometheus/client_golang/prometheus"

// filterMetrics are the per-filter-name observability counters the
// provider exposes alongside raft's and outbox's own namespaced metrics.
type filterMetrics struct {
	additions        prometheus.Counter
	queries          *prometheus.CounterVec
	saves            prometheus.Counter
	checksumMismatch prometheus.Counter
	autoReseed       prometheus.Counter
}

func newFilterMetrics(registry prometheus.Registerer, name string) *filterMetrics {
	m := &filterMetrics{
		additions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "raftkit",
			Subsystem:   "bloom",
			Name:        "additions_total",
			Help:        "Number of items added to the filter that changed its bit state.",
			ConstLabels: prometheus.Labels{"filter": name},
		}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "raftkit",
			Subsystem:   "bloom",
			Name:        "queries_total",
			Help:        "Number of Contains queries, labelled by hit or miss.",
			ConstLabels: prometheus.Labels{"filter": name},
		}, []string{"result"}),
		saves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "raftkit",
			Subsystem:   "bloom",
			Name:        "saves_total",
			Help:        "Number of successful persisted snapshots of the filter.",
			ConstLabels: prometheus.Labels{"filter": name},
		}),
		checksumMismatch: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "raftkit",
			Subsystem:   "bloom",
			Name:        "checksum_mismatches_total",
			Help:        "Number of shard loads rejected due to a magic, version, length, checksum, or config fingerprint mismatch.",
			ConstLabels: prometheus.Labels{"filter": name},
		}),
		autoReseed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "raftkit",
			Subsystem:   "bloom",
			Name:        "auto_reseeds_total",
			Help:        "Number of times a corrupt or missing snapshot triggered a background reseed.",
			ConstLabels: prometheus.Labels{"filter": name},
		}),
	}
	if registry != nil {
		registry.MustRegister(m.additions, m.queries, m.saves, m.checksumMismatch, m.autoReseed)
	}
	return m
}
