// Package caller implements the retrying executor that drives logical
// operations across attempts: resolve locations through the meta cache,
// issue the remote call, classify failures, apply the resulting invalidation
// directive, and decide between retry and terminal failure.
package caller

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/wanghsingmin/hbase/hrpc"
	"github.com/wanghsingmin/hbase/metacache"
	"github.com/wanghsingmin/hbase/region"
)

const (
	defaultMaxAttempts     = 5
	defaultMetaMaxAttempts = 3
	defaultInitialBackoff  = 10 * time.Millisecond
)

// Options configures a RetryingCaller. The zero value picks defaults.
type Options struct {
	// MaxAttempts bounds the number of attempts per logical operation. For
	// batched operations the budget is shared by all targets.
	MaxAttempts int
	// MetaMaxAttempts bounds catalog lookup retries, separately from the
	// data call budget.
	MetaMaxAttempts int
	// NewBackoff supplies the backoff policy for one operation's attempt
	// pacing. Each operation gets a fresh policy.
	NewBackoff func() backoff.BackOff
	Logger     *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.MetaMaxAttempts <= 0 {
		o.MetaMaxAttempts = defaultMetaMaxAttempts
	}
	if o.NewBackoff == nil {
		o.NewBackoff = func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = defaultInitialBackoff
			// The attempt budget and the deadline bound the operation, not
			// elapsed backoff time.
			bo.MaxElapsedTime = 0
			return bo
		}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// RetryingCaller executes logical operations against the cluster. It is safe
// for concurrent use; every call to Do or DoBatch runs an independent
// attempt loop sharing only the meta cache.
type RetryingCaller struct {
	cache     *metacache.MetaCache
	transport Transport
	opts      Options
}

// New returns a RetryingCaller routing through cache and sending via
// transport.
func New(cache *metacache.MetaCache, transport Transport, opts Options) *RetryingCaller {
	return &RetryingCaller{
		cache:     cache,
		transport: transport,
		opts:      opts.withDefaults(),
	}
}

// Do executes a single-key call, retrying up to the attempt budget and the
// deadline carried by ctx. It returns the result of the first successful
// attempt, or a RetriesExhaustedError carrying the last observed failure.
// Catalog lookup failures that outlive their own budget are terminal and
// returned as-is.
func (rc *RetryingCaller) Do(ctx context.Context, call hrpc.Call) (*hrpc.Result, error) {
	bo := rc.opts.NewBackoff()
	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= rc.opts.MaxAttempts; attempt++ {
		attempts = attempt
		loc, err := rc.resolve(ctx, call.Table(), call.Key())
		if err != nil {
			return nil, err
		}

		res, err := rc.transport.Send(ctx, loc.Addr, call)
		if ctxErr := ctx.Err(); ctxErr != nil {
			// The attempt was abandoned; whatever came back no longer
			// corresponds to a live attempt and must not touch the cache.
			return nil, &hrpc.RetriesExhaustedError{Attempts: attempt, Cause: ctxErr}
		}
		if err == nil {
			if res != nil && res.Location != nil {
				rc.cache.Put(*res.Location)
			}
			return res, nil
		}

		lastErr = err
		directive := metacache.Classify(err)
		rc.cache.Invalidate(loc, directive)
		rc.opts.Logger.Debug("call attempt failed",
			zap.String("op", call.Name()),
			zap.ByteString("table", call.Table()),
			zap.Stringer("location", loc),
			zap.Stringer("kind", hrpc.KindOf(err)),
			zap.Stringer("directive", directive),
			zap.Int("attempt", attempt))

		if !hrpc.Retryable(err) || attempt == rc.opts.MaxAttempts {
			break
		}
		if err := rc.pause(ctx, bo, lastErr); err != nil {
			lastErr = err
			break
		}
	}
	return nil, &hrpc.RetriesExhaustedError{Attempts: attempts, Cause: lastErr}
}

// resolve locates the region owning key, retrying catalog failures within
// their own budget. Errors returned here are terminal for the operation.
func (rc *RetryingCaller) resolve(ctx context.Context, table, key []byte) (region.Location, error) {
	bo := rc.opts.NewBackoff()
	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= rc.opts.MetaMaxAttempts; attempt++ {
		attempts = attempt
		loc, err := rc.cache.Lookup(ctx, table, key)
		if err == nil {
			return loc, nil
		}
		lastErr = err
		if ctx.Err() != nil || attempt == rc.opts.MetaMaxAttempts {
			break
		}
		rc.opts.Logger.Debug("region lookup failed",
			zap.ByteString("table", table), zap.Error(err), zap.Int("attempt", attempt))
		if err := rc.pause(ctx, bo, nil); err != nil {
			break
		}
	}
	return region.Location{}, errors.Wrapf(lastErr,
		"locating region for table %q failed after %d attempt(s)", table, attempts)
}

// pause sleeps for the next backoff interval, or not at all when the server
// explicitly asked for an immediate retry. It returns early if ctx expires.
func (rc *RetryingCaller) pause(ctx context.Context, bo backoff.BackOff, lastErr error) error {
	if lastErr != nil && hrpc.KindOf(lastErr) == hrpc.RetryImmediately {
		return ctx.Err()
	}
	d := bo.NextBackOff()
	if d == backoff.Stop {
		return errors.New("backoff policy exhausted")
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
