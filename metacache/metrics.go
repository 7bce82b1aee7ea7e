package metacache

// MetricsSink receives cache events for observability. RegionCleared and
// ServerCleared fire once per applied (non-no-op) invalidation, at region
// and server granularity respectively. Implementations must be safe for
// concurrent use.
type MetricsSink interface {
	RegionCleared()
	ServerCleared()
	CacheHit()
	CacheMiss()
}

// NopMetrics discards all events.
type NopMetrics struct{}

func (NopMetrics) RegionCleared() {}
func (NopMetrics) ServerCleared() {}
func (NopMetrics) CacheHit()      {}
func (NopMetrics) CacheMiss()     {}
