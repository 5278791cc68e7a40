package errs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindTagging(t *testing.T) {
	err := NotFoundf("segment %s missing", "abc")
	assert.True(t, Is(err, KindNotFound))
	assert.False(t, Is(err, KindCorruption))
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestWrapPreservesChain(t *testing.T) {
	base := Corruptionf("bad magic in %s", "nodes.kv")
	wrapped := Wrap(KindCorruption, base, "opening segment")
	assert.True(t, Is(wrapped, KindCorruption))
	assert.ErrorIs(t, wrapped, base)
}

func TestWithDetail(t *testing.T) {
	err := Corruptionf("checksum mismatch")
	err = WithDetail(err, "path", "/data/segment/nodes.kv")
	err = WithDetail(err, "offset", int64(128))
	d := Details(err)
	require.NotNil(t, d)
	assert.Equal(t, "/data/segment/nodes.kv", d["path"])
	assert.Equal(t, int64(128), d["offset"])
	assert.True(t, Is(err, KindCorruption))
}

func TestUnknownErrorDefaultsToFatal(t *testing.T) {
	assert.Equal(t, KindFatal, KindOf(assertPlainError{}))
}

type assertPlainError struct{}

func (assertPlainError) Error() string { return "plain" }

func TestRetryStopsOnNonTransient(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), DefaultBackoff(), func(ctx context.Context) error {
		calls++
		return InvalidRequestf("bad input")
	})
	assert.True(t, Is(err, KindInvalidRequest))
	assert.Equal(t, 1, calls)
}

func TestRetryRetriesTransientThenSucceeds(t *testing.T) {
	cfg := BackoffConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		MaxElapsedTime:  time.Second,
		Multiplier:      2.0,
	}
	calls := 0
	err := Retry(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Transientf("lock contention")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := DefaultBackoff()
	cfg.InitialInterval = time.Millisecond
	err := Retry(ctx, cfg, func(ctx context.Context) error {
		return Transientf("still down")
	})
	assert.Error(t, err)
}
