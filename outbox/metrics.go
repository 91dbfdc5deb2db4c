package outbox

import "github.com/prometheus/client_golang/prometheus"

// metrics realizes spec §7's "delivery failure is observable only via
// operational metrics" clause: publish itself never fails once a message
// is committed, so retry/poison counts are the only visible signal.
type metrics struct {
	claimed   prometheus.Counter
	processed prometheus.Counter
	retried   prometheus.Counter
	poisoned  prometheus.Counter
	leaseLost prometheus.Counter
}

func newMetrics(registry prometheus.Registerer, instanceID string) *metrics {
	constLabels := prometheus.Labels{"instance_id": instanceID}
	m := &metrics{
		claimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raftkit", Subsystem: "outbox", Name: "claimed_total", ConstLabels: constLabels,
			Help: "Messages claimed by this dispatcher instance.",
		}),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raftkit", Subsystem: "outbox", Name: "processed_total", ConstLabels: constLabels,
			Help: "Messages successfully handled and marked processed.",
		}),
		retried: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raftkit", Subsystem: "outbox", Name: "retry_total", ConstLabels: constLabels,
			Help: "Handler failures that were scheduled for retry.",
		}),
		poisoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raftkit", Subsystem: "outbox", Name: "poisoned_total", ConstLabels: constLabels,
			Help: "Messages that exhausted MaxRetries.",
		}),
		leaseLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raftkit", Subsystem: "outbox", Name: "lease_lost_total", ConstLabels: constLabels,
			Help: "Terminal updates that affected zero rows (lease lost or already resolved).",
		}),
	}
	if registry != nil {
		registry.MustRegister(m.claimed, m.processed, m.retried, m.poisoned, m.leaseLost)
	}
	return m
}
