package metacache

import (
	"fmt"

	"github.com/wanghsingmin/hbase/hrpc"
)

// Directive is the invalidation decision derived from a failed call.
type Directive int

const (
	// Preserve leaves the cache untouched.
	Preserve Directive = iota
	// ClearRegion evicts the specific region entry the call was routed with.
	ClearRegion
	// ClearServer evicts every entry, across all tables, pointing at the
	// failing server.
	ClearServer
)

func (d Directive) String() string {
	switch d {
	case Preserve:
		return "Preserve"
	case ClearRegion:
		return "ClearRegion"
	case ClearServer:
		return "ClearServer"
	default:
		return fmt.Sprintf("Directive(%d)", int(d))
	}
}

// Classify maps a remote call failure to its invalidation directive. It is
// stateless and total over the failure taxonomy; envelope unwrapping is
// handled by hrpc.KindOf.
//
// Only failures that prove the cached location wrong clear anything. A
// server that no longer serves the region means the entry is stale; an
// unreachable server casts doubt on every entry pointing at it. Everything
// signaling transient overload or backpressure preserves the cache: evicting
// on those would send a storm of catalog lookups at exactly the moment the
// server is struggling. Unrecognized failures also preserve, as the
// conservative default.
func Classify(err error) Directive {
	switch hrpc.KindOf(err) {
	case hrpc.NotServingRegion:
		return ClearRegion
	case hrpc.ServerUnreachable:
		return ClearServer
	default:
		return Preserve
	}
}
