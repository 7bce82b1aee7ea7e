package caller

import (
	"context"

	"github.com/wanghsingmin/hbase/hrpc"
)

// Transport issues remote calls to a region server. Implementations own the
// wire protocol; the caller only requires that failures surface a
// classifiable error, possibly wrapped in an hrpc.RemoteError envelope.
type Transport interface {
	// Send issues a single call to the server at addr.
	Send(ctx context.Context, addr string, call hrpc.Call) (*hrpc.Result, error)

	// SendBatch issues a group of calls to the server at addr in one round
	// trip. On success the returned slice is aligned with calls and carries
	// per-call outcomes; a non-nil error reports a failure of the whole
	// round trip (e.g. the server was unreachable) and applies to every
	// call in the batch.
	SendBatch(ctx context.Context, addr string, calls []hrpc.Call) ([]hrpc.BatchResult, error)
}
