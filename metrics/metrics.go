// Package metrics provides a prometheus-backed implementation of the
// metacache metrics sink.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CacheMetrics exports the meta cache's invalidation and hit counters. It
// implements metacache.MetricsSink.
type CacheMetrics struct {
	regionClears prometheus.Counter
	serverClears prometheus.Counter
	hits         prometheus.Counter
	misses       prometheus.Counter
}

// NewCacheMetrics builds the cache counters and registers them with reg. Pass
// prometheus.DefaultRegisterer unless the process keeps its own registry.
func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	m := &CacheMetrics{
		regionClears: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hbase",
			Subsystem: "meta_cache",
			Name:      "clear_region_total",
			Help:      "Number of region entries evicted from the meta cache due to stale-region failures.",
		}),
		serverClears: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hbase",
			Subsystem: "meta_cache",
			Name:      "clear_server_total",
			Help:      "Number of server-wide meta cache sweeps applied after unreachable-server failures.",
		}),
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hbase",
			Subsystem: "meta_cache",
			Name:      "hit_total",
			Help:      "Number of location lookups served from the meta cache.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hbase",
			Subsystem: "meta_cache",
			Name:      "miss_total",
			Help:      "Number of location lookups that required a catalog round-trip.",
		}),
	}
	reg.MustRegister(m.regionClears, m.serverClears, m.hits, m.misses)
	return m
}

func (m *CacheMetrics) RegionCleared() { m.regionClears.Inc() }
func (m *CacheMetrics) ServerCleared() { m.serverClears.Inc() }
func (m *CacheMetrics) CacheHit()      { m.hits.Inc() }
func (m *CacheMetrics) CacheMiss()     { m.misses.Inc() }
