package caller

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/wanghsingmin/hbase/hrpc"
	"github.com/wanghsingmin/hbase/metacache"
	"github.com/wanghsingmin/hbase/region"
)

// DoBatch executes a multi-key operation whose targets may live in different
// regions on different servers. Each attempt resolves the pending targets,
// groups them by server and issues one batched call per server in parallel.
// Targets succeed and fail individually; failed targets are classified,
// their cache entries invalidated per directive, and retried on the next
// attempt. All targets share the operation's attempt budget and deadline.
//
// The returned slice is aligned with calls. Partial success is surfaced
// per-target: a target that never succeeds carries a RetriesExhaustedError
// (or a terminal error) in its slot.
func (rc *RetryingCaller) DoBatch(ctx context.Context, calls []hrpc.Call) []hrpc.BatchResult {
	results := make([]hrpc.BatchResult, len(calls))
	lastErrs := make([]error, len(calls))
	locs := make([]region.Location, len(calls))

	pending := make([]int, 0, len(calls))
	for i := range calls {
		pending = append(pending, i)
	}

	bo := rc.opts.NewBackoff()
	attempts := 0
	for attempt := 1; attempt <= rc.opts.MaxAttempts && len(pending) > 0; attempt++ {
		attempts = attempt

		groups := make(map[string][]int)
		for _, i := range pending {
			loc, err := rc.resolve(ctx, calls[i].Table(), calls[i].Key())
			if err != nil {
				// Catalog failure is terminal for this target.
				results[i] = hrpc.BatchResult{Err: err}
				continue
			}
			locs[i] = loc
			groups[loc.Addr] = append(groups[loc.Addr], i)
		}

		var mu sync.Mutex
		var retry []int
		record := func(i int, err error) {
			lastErrs[i] = err
			if hrpc.Retryable(err) {
				retry = append(retry, i)
			} else {
				results[i] = hrpc.BatchResult{Err: err}
			}
		}

		g, gctx := errgroup.WithContext(ctx)
		for addr, idxs := range groups {
			addr, idxs := addr, idxs
			g.Go(func() error {
				batch := make([]hrpc.Call, len(idxs))
				for k, i := range idxs {
					batch[k] = calls[i]
				}
				entries, err := rc.transport.SendBatch(gctx, addr, batch)
				if ctxErr := ctx.Err(); ctxErr != nil {
					// Abandoned attempt: late responses must not be applied
					// to the cache. The targets stay pending and surface the
					// deadline error once the loop exits.
					mu.Lock()
					for _, i := range idxs {
						lastErrs[i] = ctxErr
						retry = append(retry, i)
					}
					mu.Unlock()
					return nil
				}

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					// The whole round trip failed; every target observed the
					// same error against its own routed location.
					d := metacache.Classify(err)
					for _, i := range idxs {
						rc.cache.Invalidate(locs[i], d)
						record(i, err)
					}
					return nil
				}
				for k, i := range idxs {
					entry := entries[k]
					if entry.Err == nil {
						if entry.Result != nil && entry.Result.Location != nil {
							rc.cache.Put(*entry.Result.Location)
						}
						results[i] = entry
						continue
					}
					rc.cache.Invalidate(locs[i], metacache.Classify(entry.Err))
					record(i, entry.Err)
				}
				return nil
			})
		}
		_ = g.Wait()

		sort.Ints(retry)
		pending = retry
		if len(pending) == 0 || attempt == rc.opts.MaxAttempts || ctx.Err() != nil {
			break
		}
		if err := rc.pause(ctx, bo, nil); err != nil {
			for _, i := range pending {
				lastErrs[i] = err
			}
			break
		}
	}

	for _, i := range pending {
		results[i] = hrpc.BatchResult{
			Err: &hrpc.RetriesExhaustedError{Attempts: attempts, Cause: lastErrs[i]},
		}
	}
	return results
}
