// Package metacache implements the client-side cache of region locations.
//
// The cache keeps one ordered index per table, keyed by region start key.
// Entries are created on successful catalog resolution and removed either by
// a superseding insertion (a fresh region boundary replaces stale overlapping
// boundaries, as happens after splits and merges) or by explicit
// invalidation driven by classified call failures. There is no TTL;
// staleness is discovered lazily through failed calls.
package metacache

import (
	"bytes"
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/btree"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/wanghsingmin/hbase/hrpc"
	"github.com/wanghsingmin/hbase/region"
)

const btreeDegree = 32

// Resolver performs the authoritative catalog lookup for the region owning a
// key. The first returned location must contain the key; any additional
// locations are adjacent regions prefetched by the same catalog scan and are
// cached opportunistically.
type Resolver interface {
	LookupRegion(ctx context.Context, table, key []byte) ([]region.Location, error)
}

type entry struct {
	loc region.Location
}

func entryLess(a, b *entry) bool {
	return bytes.Compare(a.loc.Region.StartKey, b.loc.Region.StartKey) < 0
}

func startPivot(key []byte) *entry {
	return &entry{loc: region.Location{Region: region.Info{StartKey: key}}}
}

type tableCache struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[*entry]
}

// MetaCache caches region locations per table. All methods are safe for
// concurrent use; lookups take only a per-table read lock, and writes are
// atomic with respect to the overlap scan they perform.
type MetaCache struct {
	resolver Resolver
	sink     MetricsSink
	log      *zap.Logger

	mu     sync.RWMutex
	tables map[string]*tableCache

	// lookups coalesces concurrent catalog lookups for the same key so a
	// burst of cache misses produces a single resolver round-trip.
	lookups singleflight.Group
}

// New returns an empty MetaCache backed by the given resolver. A nil sink or
// logger falls back to no-ops.
func New(resolver Resolver, sink MetricsSink, logger *zap.Logger) *MetaCache {
	if sink == nil {
		sink = NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetaCache{
		resolver: resolver,
		sink:     sink,
		log:      logger,
		tables:   make(map[string]*tableCache),
	}
}

func (m *MetaCache) table(name []byte) *tableCache {
	m.mu.RLock()
	tc := m.tables[string(name)]
	m.mu.RUnlock()
	return tc
}

func (m *MetaCache) tableOrCreate(name []byte) *tableCache {
	if tc := m.table(name); tc != nil {
		return tc
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tc, ok := m.tables[string(name)]
	if !ok {
		tc = &tableCache{tree: btree.NewG(btreeDegree, entryLess)}
		m.tables[string(name)] = tc
	}
	return tc
}

// GetCached returns the cached location of the region containing key, if
// any. It is a pure in-memory lookup and never blocks on I/O.
func (m *MetaCache) GetCached(table, key []byte) (region.Location, bool) {
	tc := m.table(table)
	if tc == nil {
		return region.Location{}, false
	}
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	var found *entry
	tc.tree.DescendLessOrEqual(startPivot(key), func(e *entry) bool {
		found = e
		return false
	})
	if found == nil || !found.loc.Region.Contains(key) {
		return region.Location{}, false
	}
	return found.loc, true
}

// Lookup returns the location of the region containing key, consulting the
// cache first and falling back to the resolver on a miss. Resolver results,
// including prefetched adjacent regions, are inserted into the cache.
// Resolver failures are reported as catalog-unavailable errors.
func (m *MetaCache) Lookup(ctx context.Context, table, key []byte) (region.Location, error) {
	if loc, ok := m.GetCached(table, key); ok {
		m.sink.CacheHit()
		return loc, nil
	}
	m.sink.CacheMiss()

	flightKey := string(table) + "\x00" + string(key)
	resC := m.lookups.DoChan(flightKey, func() (interface{}, error) {
		// The flight may serve many waiters besides the leader, so it must
		// not die with the leader's context.
		ctx := context.WithoutCancel(ctx)
		locs, err := m.resolver.LookupRegion(ctx, table, key)
		if err != nil {
			return nil, errors.Mark(
				errors.Wrapf(err, "looking up region for table %q", table),
				hrpc.ErrMetaUnavailable)
		}
		if len(locs) == 0 || !locs[0].Region.Contains(key) {
			return nil, errors.Mark(
				errors.Newf("resolver returned no region containing key %q of table %q", key, table),
				hrpc.ErrMetaUnavailable)
		}
		for _, loc := range locs {
			m.Put(loc)
		}
		return locs[0], nil
	})

	select {
	case res := <-resC:
		if res.Err != nil {
			return region.Location{}, res.Err
		}
		if res.Shared {
			m.log.Debug("coalesced region lookup onto in-flight one",
				zap.ByteString("table", table), zap.ByteString("key", key))
		}
		return res.Val.(region.Location), nil
	case <-ctx.Done():
		return region.Location{}, errors.Wrap(ctx.Err(), "aborted during region lookup")
	}
}

// Put inserts loc, first evicting any cached entry whose range overlaps it
// and carries an older generation. If an overlapping entry with an equal or
// newer generation exists the insertion is dropped: a stale insert never
// replaces a fresher boundary. Returns whether loc was inserted.
func (m *MetaCache) Put(loc region.Location) bool {
	tc := m.tableOrCreate(loc.Region.Table)
	tc.mu.Lock()
	defer tc.mu.Unlock()

	pivot := startPivot(loc.Region.StartKey)
	newest := true
	var toEvict []*entry
	collect := func(e *entry) bool {
		if !e.loc.Region.Overlaps(loc.Region) {
			// Entries are start-ordered, so once past the new range's end
			// nothing further can overlap.
			return len(loc.Region.EndKey) == 0 ||
				bytes.Compare(e.loc.Region.StartKey, loc.Region.EndKey) < 0
		}
		if e.loc.Region.Generation >= loc.Region.Generation {
			newest = false
		} else {
			toEvict = append(toEvict, e)
		}
		return true
	}

	// The entry starting at or before the new start key may overlap from the
	// left; scan from there through the new range.
	from := pivot
	tc.tree.DescendLessOrEqual(pivot, func(e *entry) bool {
		from = e
		return false
	})
	tc.tree.AscendGreaterOrEqual(from, collect)

	for _, e := range toEvict {
		m.log.Debug("clearing overlapping region entry",
			zap.Stringer("stale", e.loc), zap.Stringer("new", loc))
		tc.tree.Delete(e)
	}
	if !newest {
		return false
	}
	tc.tree.ReplaceOrInsert(&entry{loc: loc})
	return true
}

// Invalidate applies a classified failure's directive to the cache. The
// failure was observed against loc, i.e. the exact location (range and
// generation) the failing attempt was routed with.
//
// ClearRegion removes the entry for loc's range only if the cached entry
// still carries loc's generation; a mismatch means a concurrent operation
// already refreshed the entry and the invalidation is a silent no-op.
// ClearServer removes every entry across all tables pointing at loc's
// address, regardless of generation. Counters on the metrics sink are bumped
// only for evictions actually applied.
func (m *MetaCache) Invalidate(loc region.Location, d Directive) {
	switch d {
	case Preserve:
	case ClearRegion:
		if m.clearRegion(loc) {
			m.sink.RegionCleared()
		}
	case ClearServer:
		if n := m.clearServer(loc.Addr); n > 0 {
			m.sink.ServerCleared()
		}
	}
}

func (m *MetaCache) clearRegion(loc region.Location) bool {
	tc := m.table(loc.Region.Table)
	if tc == nil {
		return false
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()

	e, ok := tc.tree.Get(startPivot(loc.Region.StartKey))
	if !ok || e.loc.Region.Generation != loc.Region.Generation {
		// Already evicted, or replaced by a fresher location. Either way the
		// stale failure report must not destroy the current entry.
		return false
	}
	m.log.Debug("clearing region entry", zap.Stringer("location", e.loc))
	tc.tree.Delete(e)
	return true
}

func (m *MetaCache) clearServer(addr string) int {
	m.mu.RLock()
	tcs := make([]*tableCache, 0, len(m.tables))
	for _, tc := range m.tables {
		tcs = append(tcs, tc)
	}
	m.mu.RUnlock()

	var cleared int
	for _, tc := range tcs {
		tc.mu.Lock()
		var toEvict []*entry
		tc.tree.Ascend(func(e *entry) bool {
			if e.loc.Addr == addr {
				toEvict = append(toEvict, e)
			}
			return true
		})
		for _, e := range toEvict {
			tc.tree.Delete(e)
		}
		cleared += len(toEvict)
		tc.mu.Unlock()
	}
	if cleared > 0 {
		m.log.Debug("cleared all entries for server",
			zap.String("addr", addr), zap.Int("entries", cleared))
	}
	return cleared
}

// Len returns the total number of cached entries across all tables.
func (m *MetaCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int
	for _, tc := range m.tables {
		tc.mu.RLock()
		n += tc.tree.Len()
		tc.mu.RUnlock()
	}
	return n
}
