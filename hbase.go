// Package hbase is a client for a partitioned, horizontally scaled key-value
// store. Every operation is routed to the server currently owning the target
// key's region; the region-to-server mapping is cached client-side and kept
// correct through failure-driven invalidation rather than expiry, so that
// splits, merges and migrations are discovered lazily without hammering the
// central catalog.
//
// The client is assembled from injected collaborators: a metacache.Resolver
// performing authoritative catalog lookups and a caller.Transport issuing
// the remote calls. Both are interfaces, so fault-injection testing needs no
// running cluster.
package hbase

import (
	"context"

	"github.com/wanghsingmin/hbase/caller"
	"github.com/wanghsingmin/hbase/hrpc"
	"github.com/wanghsingmin/hbase/metacache"
	"github.com/wanghsingmin/hbase/region"
)

// Client executes operations against the cluster. It is safe for concurrent
// use.
type Client struct {
	cache  *metacache.MetaCache
	caller *caller.RetryingCaller
}

// NewClient returns a Client resolving locations through resolver and
// sending calls via transport.
func NewClient(resolver metacache.Resolver, transport caller.Transport, opts ...Option) (*Client, error) {
	cfg, err := getOpts(opts)
	if err != nil {
		return nil, err
	}
	cache := metacache.New(resolver, cfg.sink, cfg.logger)
	return &Client{
		cache: cache,
		caller: caller.New(cache, transport, caller.Options{
			MaxAttempts:     cfg.maxAttempts,
			MetaMaxAttempts: cfg.metaMaxAttempts,
			NewBackoff:      cfg.newBackoff,
			Logger:          cfg.logger,
		}),
	}, nil
}

// Get retrieves the value stored under key.
func (c *Client) Get(ctx context.Context, table, key []byte) (*hrpc.Result, error) {
	return c.caller.Do(ctx, hrpc.NewGet(table, key))
}

// Put stores value under key.
func (c *Client) Put(ctx context.Context, table, key, value []byte) (*hrpc.Result, error) {
	return c.caller.Do(ctx, hrpc.NewPut(table, key, value))
}

// Delete removes the row at key.
func (c *Client) Delete(ctx context.Context, table, key []byte) (*hrpc.Result, error) {
	return c.caller.Do(ctx, hrpc.NewDelete(table, key))
}

// Append appends value to the one stored under key.
func (c *Client) Append(ctx context.Context, table, key, value []byte) (*hrpc.Result, error) {
	return c.caller.Do(ctx, hrpc.NewAppend(table, key, value))
}

// Increment atomically adds amount to the counter stored under key.
func (c *Client) Increment(ctx context.Context, table, key []byte, amount int64) (*hrpc.Result, error) {
	return c.caller.Do(ctx, hrpc.NewIncrement(table, key, amount))
}

// Batch executes calls targeting possibly different regions and servers,
// retrying failed targets individually within the shared attempt budget. The
// returned slice is aligned with calls.
func (c *Client) Batch(ctx context.Context, calls []hrpc.Call) []hrpc.BatchResult {
	return c.caller.DoBatch(ctx, calls)
}

// CachedLocation returns the cached location of the region containing key,
// without touching the catalog.
func (c *Client) CachedLocation(table, key []byte) (region.Location, bool) {
	return c.cache.GetCached(table, key)
}
