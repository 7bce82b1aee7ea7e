package hrpc

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
)

// Sentinel errors for the known remote failure taxonomy. Transports and
// resolvers surface failures by returning one of these, possibly wrapped in a
// RemoteError envelope and further annotated with errors.Wrap; classification
// matches with errors.Is, so wrapping is always safe.
var (
	// ErrNotServingRegion indicates the target server no longer serves the
	// region (it moved, split, merged or was closed). The cached location is
	// definitely stale.
	ErrNotServingRegion = errors.New("region is not served by this server")

	// ErrServerUnreachable indicates a transport-level failure to reach the
	// server at all: connection refused, reset, or timed out.
	ErrServerUnreachable = errors.New("server unreachable")

	// ErrRegionOpening indicates the region is transitioning onto the server
	// and is temporarily unavailable. The location is still correct.
	ErrRegionOpening = errors.New("region is opening")

	// ErrRegionTooBusy indicates the region rejected the call due to
	// backpressure.
	ErrRegionTooBusy = errors.New("region is too busy")

	// ErrCallQueueTooBig indicates the server's request queue is saturated.
	ErrCallQueueTooBig = errors.New("call queue is full")

	// ErrThrottled indicates the call was rejected by quota enforcement.
	ErrThrottled = errors.New("request throttled")

	// ErrResultTooLarge indicates a batched call's accumulated result
	// exceeded the server's size limit.
	ErrResultTooLarge = errors.New("multi-action result too large")

	// ErrRetryImmediately is an explicit server hint that the call should be
	// retried without backoff.
	ErrRetryImmediately = errors.New("retry immediately")

	// ErrMetaUnavailable indicates the authoritative catalog lookup itself
	// could not complete.
	ErrMetaUnavailable = errors.New("meta lookup unavailable")
)

// errDoNotRetry marks errors that must terminate the attempt loop regardless
// of the remaining budget.
var errDoNotRetry = errors.New("do not retry")

// MarkDoNotRetry marks err as non-retryable.
func MarkDoNotRetry(err error) error {
	return errors.Mark(err, errDoNotRetry)
}

// Kind is the closed classification of remote failures.
type Kind int

const (
	Unknown Kind = iota
	NotServingRegion
	ServerUnreachable
	RegionOpening
	RegionTooBusy
	CallQueueTooBig
	Throttled
	ResultTooLarge
	RetryImmediately
	DeadlineExceeded
	MetaUnavailable
)

var kindNames = map[Kind]string{
	Unknown:           "Unknown",
	NotServingRegion:  "NotServingRegion",
	ServerUnreachable: "ServerUnreachable",
	RegionOpening:     "RegionOpening",
	RegionTooBusy:     "RegionTooBusy",
	CallQueueTooBig:   "CallQueueTooBig",
	Throttled:         "Throttled",
	ResultTooLarge:    "ResultTooLarge",
	RetryImmediately:  "RetryImmediately",
	DeadlineExceeded:  "DeadlineExceeded",
	MetaUnavailable:   "MetaUnavailable",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// KindOf maps err to its failure kind, unwrapping any RemoteError envelope
// and wrapping layers on the way. Unrecognized errors map to Unknown.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return Unknown
	case errors.Is(err, ErrNotServingRegion):
		return NotServingRegion
	case errors.Is(err, ErrServerUnreachable):
		return ServerUnreachable
	case errors.Is(err, ErrRegionOpening):
		return RegionOpening
	case errors.Is(err, ErrRegionTooBusy):
		return RegionTooBusy
	case errors.Is(err, ErrCallQueueTooBig):
		return CallQueueTooBig
	case errors.Is(err, ErrThrottled):
		return Throttled
	case errors.Is(err, ErrResultTooLarge):
		return ResultTooLarge
	case errors.Is(err, ErrRetryImmediately):
		return RetryImmediately
	case errors.Is(err, ErrMetaUnavailable):
		return MetaUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return DeadlineExceeded
	default:
		return Unknown
	}
}

// Retryable reports whether another attempt against err may succeed.
// Deadline and catalog failures are terminal for the operation, as is
// anything marked with MarkDoNotRetry.
func Retryable(err error) bool {
	if errors.Is(err, errDoNotRetry) {
		return false
	}
	switch KindOf(err) {
	case DeadlineExceeded, MetaUnavailable:
		return false
	}
	return true
}

// RemoteError is the envelope a transport wraps around a failure raised by
// the remote server, carrying the address it was talking to. Classification
// looks through it via Unwrap.
type RemoteError struct {
	Addr string
	err  error
}

// NewRemoteError wraps err as a remote failure observed against addr.
func NewRemoteError(addr string, err error) *RemoteError {
	return &RemoteError{Addr: addr, err: err}
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error from %s: %s", e.Addr, e.err)
}

func (e *RemoteError) Unwrap() error { return e.err }

// RetriesExhaustedError is returned by the caller once the attempt budget or
// the operation deadline is spent. Cause is the last observed failure.
type RetriesExhaustedError struct {
	Attempts int
	Cause    error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempt(s), last error: %s", e.Attempts, e.Cause)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Cause }
