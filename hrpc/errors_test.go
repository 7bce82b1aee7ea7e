package hrpc

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	for err, want := range map[error]Kind{
		ErrNotServingRegion:      NotServingRegion,
		ErrServerUnreachable:     ServerUnreachable,
		ErrRegionOpening:         RegionOpening,
		ErrRegionTooBusy:         RegionTooBusy,
		ErrCallQueueTooBig:       CallQueueTooBig,
		ErrThrottled:             Throttled,
		ErrResultTooLarge:        ResultTooLarge,
		ErrRetryImmediately:      RetryImmediately,
		ErrMetaUnavailable:       MetaUnavailable,
		context.DeadlineExceeded: DeadlineExceeded,
		errors.New("who knows"):  Unknown,
	} {
		assert.Equal(t, want, KindOf(err), "%v", err)
	}
	assert.Equal(t, Unknown, KindOf(nil))
}

func TestKindOfUnwrapsEnvelope(t *testing.T) {
	// Classification must look through the transport's envelope and any
	// annotation layers added on the way up.
	err := NewRemoteError("rs1:16020", ErrNotServingRegion)
	assert.Equal(t, NotServingRegion, KindOf(err))

	wrapped := errors.Wrap(NewRemoteError("rs1:16020", ErrCallQueueTooBig), "get failed")
	assert.Equal(t, CallQueueTooBig, KindOf(wrapped))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(ErrRegionTooBusy))
	assert.True(t, Retryable(NewRemoteError("rs1", ErrNotServingRegion)))
	assert.True(t, Retryable(errors.New("who knows")))

	assert.False(t, Retryable(context.DeadlineExceeded))
	assert.False(t, Retryable(ErrMetaUnavailable))
	assert.False(t, Retryable(MarkDoNotRetry(errors.New("malformed request"))))
}

func TestRetriesExhaustedError(t *testing.T) {
	err := &RetriesExhaustedError{Attempts: 3, Cause: ErrCallQueueTooBig}
	assert.True(t, errors.Is(err, ErrCallQueueTooBig))
	assert.Equal(t, CallQueueTooBig, KindOf(err))
}
