package log

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitIdempotent(t *testing.T) {
	err := Init(Config{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, L())
	assert.NotNil(t, S())

	// second call is a no-op (sync.Once) and must not error or panic
	err = Init(Config{Level: "not-a-level"})
	require.NoError(t, err)
}

func TestWithFieldsAttachesToContext(t *testing.T) {
	ctx := context.Background()
	ctx = WithFields(ctx, zap.String("shard_id", "s1"))
	logger := Ctx(ctx)
	assert.NotNil(t, logger)
	assert.NotSame(t, L(), logger)
}

func TestCtxFallsBackToGlobal(t *testing.T) {
	assert.Same(t, L(), Ctx(context.Background()))
	assert.Same(t, L(), Ctx(nil))
}
