package bloom

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Filter is a sharded bloom filter: items are routed to exactly one of
// Config.Shards independent shards by shardIndex, then added to or queried
// against that shard alone, per spec §4.7's sharding scheme.
type Filter struct {
	name    string
	config  Config
	shards  []*shard
	metrics *filterMetrics
}

// New builds an empty Filter for the given logical name and Config.
func New(name string, cfg Config, registry prometheus.Registerer) (*Filter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	perShard := cfg.ExpectedItems / uint64(cfg.Shards)
	p := deriveParams(perShard, cfg.FalsePositiveRate)

	shards := make([]*shard, cfg.Shards)
	for i := range shards {
		shards[i] = newShard(p, cfg.Seed+uint64(i))
	}
	return &Filter{
		name:    name,
		config:  cfg,
		shards:  shards,
		metrics: newFilterMetrics(registry, name),
	}, nil
}

// Add inserts item into the filter. It reports whether the filter's state
// actually changed (the item, or a colliding set of bits, was not already
// present).
func (f *Filter) Add(item []byte) bool {
	idx := shardIndex(item, f.config.Seed, f.config.Shards)
	changed := f.shards[idx].Add(item)
	if changed {
		f.metrics.additions.Inc()
	}
	return changed
}

// Contains reports whether item may have been added. False is certain;
// true may be a false positive, never a false negative.
func (f *Filter) Contains(item []byte) bool {
	idx := shardIndex(item, f.config.Seed, f.config.Shards)
	hit := f.shards[idx].Contains(item)
	if hit {
		f.metrics.queries.WithLabelValues("hit").Inc()
	} else {
		f.metrics.queries.WithLabelValues("miss").Inc()
	}
	return hit
}

// Count returns the total number of set bits across all shards, useful for
// estimating saturation and the realized false-positive rate.
func (f *Filter) Count() uint64 {
	var total uint64
	for _, s := range f.shards {
		total += s.popCount()
	}
	return total
}

// Name returns the logical name this filter was registered under.
func (f *Filter) Name() string { return f.name }
