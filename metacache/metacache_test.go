package metacache

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wanghsingmin/hbase/hrpc"
	"github.com/wanghsingmin/hbase/region"
)

var testTable = []byte("test_table")

func loc(start, end, addr string, gen uint64) region.Location {
	return region.Location{
		Region: region.Info{
			Table:      testTable,
			StartKey:   []byte(start),
			EndKey:     []byte(end),
			Generation: gen,
		},
		Addr: addr,
	}
}

// fakeResolver serves catalog lookups from a static set of locations,
// counting the lookups it performs. Lookups can be paused to exercise
// coalescing.
type fakeResolver struct {
	mu          sync.Mutex
	locs        []region.Location
	lookupCount int64
	pauseChan   chan struct{}
}

func newFakeResolver(locs ...region.Location) *fakeResolver {
	r := &fakeResolver{locs: locs, pauseChan: make(chan struct{})}
	close(r.pauseChan)
	return r
}

func (r *fakeResolver) pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pauseChan = make(chan struct{})
}

func (r *fakeResolver) resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	close(r.pauseChan)
}

func (r *fakeResolver) LookupRegion(
	ctx context.Context, table, key []byte,
) ([]region.Location, error) {
	r.mu.Lock()
	ch := r.pauseChan
	r.mu.Unlock()
	select {
	case <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	atomic.AddInt64(&r.lookupCount, 1)
	r.mu.Lock()
	defer r.mu.Unlock()
	sorted := append([]region.Location(nil), r.locs...)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Region.StartKey, sorted[j].Region.StartKey) < 0
	})
	for i, l := range sorted {
		if bytes.Equal(l.Region.Table, table) && l.Region.Contains(key) {
			// Prefetch the adjacent region, as a catalog scan would.
			if i+1 < len(sorted) {
				return []region.Location{l, sorted[i+1]}, nil
			}
			return []region.Location{l}, nil
		}
	}
	return nil, errors.Newf("no region for key %q", key)
}

func (r *fakeResolver) lookups() int64 {
	return atomic.LoadInt64(&r.lookupCount)
}

// countingSink tallies sink events.
type countingSink struct {
	regionClears, serverClears, hits, misses int64
}

func (s *countingSink) RegionCleared() { atomic.AddInt64(&s.regionClears, 1) }
func (s *countingSink) ServerCleared() { atomic.AddInt64(&s.serverClears, 1) }
func (s *countingSink) CacheHit()      { atomic.AddInt64(&s.hits, 1) }
func (s *countingSink) CacheMiss()     { atomic.AddInt64(&s.misses, 1) }

func TestLookupMissResolvesAndCaches(t *testing.T) {
	ctx := context.Background()
	l1 := loc("", "", "rs1:16020", 1)
	resolver := newFakeResolver(l1)
	sink := &countingSink{}
	mc := New(resolver, sink, nil)

	_, ok := mc.GetCached(testTable, []byte("row1"))
	assert.False(t, ok, "expected cold cache miss")

	got, err := mc.Lookup(ctx, testTable, []byte("row1"))
	require.NoError(t, err)
	assert.Equal(t, l1, got)
	assert.EqualValues(t, 1, resolver.lookups())

	// Now cached; no further resolver traffic.
	got, ok = mc.GetCached(testTable, []byte("row1"))
	require.True(t, ok)
	assert.Equal(t, l1, got)
	_, err = mc.Lookup(ctx, testTable, []byte("row1"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, resolver.lookups())
	assert.EqualValues(t, 1, sink.hits)
	assert.EqualValues(t, 1, sink.misses)
}

func TestGetCachedContainment(t *testing.T) {
	mc := New(nil, nil, nil)
	mc.Put(loc("b", "m", "rs1:16020", 1))
	mc.Put(loc("m", "t", "rs2:16020", 1))

	for key, wantAddr := range map[string]string{
		"b":    "rs1:16020",
		"cat":  "rs1:16020",
		"lzzz": "rs1:16020",
		"m":    "rs2:16020",
		"s":    "rs2:16020",
	} {
		got, ok := mc.GetCached(testTable, []byte(key))
		require.True(t, ok, "key %q", key)
		assert.Equal(t, wantAddr, got.Addr, "key %q", key)
	}
	for _, key := range []string{"a", "t", "z"} {
		_, ok := mc.GetCached(testTable, []byte(key))
		assert.False(t, ok, "key %q", key)
	}
	_, ok := mc.GetCached([]byte("other_table"), []byte("cat"))
	assert.False(t, ok)
}

func TestPutSupersedesOverlappingOnSplit(t *testing.T) {
	mc := New(nil, nil, nil)
	require.True(t, mc.Put(loc("a", "z", "rs1:16020", 1)))

	// Post-split, the catalog returns two narrower ranges with a newer
	// generation. Both must supersede the wide stale entry.
	require.True(t, mc.Put(loc("a", "m", "rs1:16020", 2)))
	require.True(t, mc.Put(loc("m", "z", "rs2:16020", 2)))

	left, ok := mc.GetCached(testTable, []byte("c"))
	require.True(t, ok)
	assert.Equal(t, []byte("m"), left.Region.EndKey)
	right, ok := mc.GetCached(testTable, []byte("q"))
	require.True(t, ok)
	assert.Equal(t, "rs2:16020", right.Addr)
	assert.Equal(t, 2, mc.Len())
}

func TestPutSupersedesOverlappingOnMerge(t *testing.T) {
	mc := New(nil, nil, nil)
	mc.Put(loc("a", "m", "rs1:16020", 3))
	mc.Put(loc("m", "z", "rs2:16020", 4))
	// A neighbor that does not overlap the merged range must survive.
	mc.Put(loc("z", "", "rs3:16020", 1))

	require.True(t, mc.Put(loc("a", "z", "rs1:16020", 5)))
	got, ok := mc.GetCached(testTable, []byte("q"))
	require.True(t, ok)
	assert.Equal(t, []byte("a"), got.Region.StartKey)
	_, ok = mc.GetCached(testTable, []byte("zz"))
	assert.True(t, ok)
	assert.Equal(t, 2, mc.Len())
}

func TestPutStaleInsertIgnored(t *testing.T) {
	mc := New(nil, nil, nil)
	fresh := loc("a", "z", "rs2:16020", 5)
	require.True(t, mc.Put(fresh))

	// A lagging lookup result must not replace the fresher boundary.
	assert.False(t, mc.Put(loc("a", "z", "rs1:16020", 4)))
	got, ok := mc.GetCached(testTable, []byte("m"))
	require.True(t, ok)
	assert.Equal(t, fresh, got)
}

func TestInvalidateIdentityCheck(t *testing.T) {
	sink := &countingSink{}
	mc := New(nil, sink, nil)
	v1 := loc("a", "z", "rs1:16020", 1)
	v2 := loc("a", "z", "rs2:16020", 2)
	mc.Put(v1)

	// A concurrent operation refreshes the entry before the invalidation
	// for the old generation lands: the invalidation must be a no-op.
	mc.Put(v2)
	mc.Invalidate(v1, ClearRegion)

	got, ok := mc.GetCached(testTable, []byte("m"))
	require.True(t, ok)
	assert.Equal(t, v2, got)
	assert.EqualValues(t, 0, sink.regionClears)
}

func TestInvalidateClearRegion(t *testing.T) {
	sink := &countingSink{}
	mc := New(nil, sink, nil)
	v1 := loc("a", "z", "rs1:16020", 1)
	mc.Put(v1)

	mc.Invalidate(v1, ClearRegion)
	_, ok := mc.GetCached(testTable, []byte("m"))
	assert.False(t, ok)
	assert.EqualValues(t, 1, sink.regionClears)

	// Applying the same directive again is a no-op with no double count.
	mc.Invalidate(v1, ClearRegion)
	assert.EqualValues(t, 1, sink.regionClears)
}

func TestInvalidatePreserve(t *testing.T) {
	sink := &countingSink{}
	mc := New(nil, sink, nil)
	v1 := loc("a", "z", "rs1:16020", 1)
	mc.Put(v1)

	mc.Invalidate(v1, Preserve)
	got, ok := mc.GetCached(testTable, []byte("m"))
	require.True(t, ok)
	assert.Equal(t, v1, got)
	assert.EqualValues(t, 0, sink.regionClears)
	assert.EqualValues(t, 0, sink.serverClears)
}

func TestInvalidateClearServer(t *testing.T) {
	sink := &countingSink{}
	mc := New(nil, sink, nil)
	bad := loc("a", "m", "rs1:16020", 7)
	mc.Put(bad)
	mc.Put(loc("m", "z", "rs2:16020", 3))
	other := region.Location{
		Region: region.Info{Table: []byte("other_table"), StartKey: []byte("a"), Generation: 9},
		Addr:   "rs1:16020",
	}
	mc.Put(other)

	// A dead server invalidates everything pointed at it, across tables and
	// regardless of generation.
	mc.Invalidate(loc("a", "m", "rs1:16020", 1), ClearServer)

	_, ok := mc.GetCached(testTable, []byte("c"))
	assert.False(t, ok)
	_, ok = mc.GetCached([]byte("other_table"), []byte("c"))
	assert.False(t, ok)
	survivor, ok := mc.GetCached(testTable, []byte("q"))
	require.True(t, ok)
	assert.Equal(t, "rs2:16020", survivor.Addr)
	assert.EqualValues(t, 1, sink.serverClears)

	mc.Invalidate(bad, ClearServer)
	assert.EqualValues(t, 1, sink.serverClears)
}

func TestLookupCoalescesConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	resolver := newFakeResolver(loc("", "", "rs1:16020", 1))
	resolver.pause()
	mc := New(resolver, nil, nil)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mc.Lookup(ctx, testTable, []byte("row1"))
			errs <- err
		}()
	}
	// Give the workers time to pile onto the in-flight lookup.
	time.Sleep(10 * time.Millisecond)
	resolver.resume()
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, resolver.lookups())
}

func TestLookupResolverFailure(t *testing.T) {
	mc := New(newFakeResolver(), nil, nil)
	_, err := mc.Lookup(context.Background(), testTable, []byte("row1"))
	require.Error(t, err)
	assert.Equal(t, hrpc.MetaUnavailable, hrpc.KindOf(err))
}

func TestLookupInsertsPrefetchedRegions(t *testing.T) {
	resolver := newFakeResolver(
		loc("", "m", "rs1:16020", 1),
		loc("m", "", "rs2:16020", 1),
	)
	mc := New(resolver, nil, nil)

	_, err := mc.Lookup(context.Background(), testTable, []byte("a"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, resolver.lookups())

	// The adjacent region came back with the same catalog scan and must now
	// be served from the cache.
	_, ok := mc.GetCached(testTable, []byte("q"))
	assert.True(t, ok)
}

func TestConcurrentUse(t *testing.T) {
	mc := New(nil, nil, nil)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				start := fmt.Sprintf("k%02d", i%20)
				end := fmt.Sprintf("k%02d", i%20+1)
				l := loc(start, end, fmt.Sprintf("rs%d:16020", g), uint64(i))
				switch i % 3 {
				case 0:
					mc.Put(l)
				case 1:
					mc.GetCached(testTable, []byte(start))
				case 2:
					mc.Invalidate(l, ClearRegion)
				}
			}
		}(g)
	}
	wg.Wait()
}
