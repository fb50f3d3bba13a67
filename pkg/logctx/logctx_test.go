package logctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromCtx_PrefersAttachedLogger(t *testing.T) {
	base := zap.NewNop().Sugar()
	core, logs := observer.New(zap.InfoLevel)
	attached := zap.New(core).Sugar()

	ctx := context.WithValue(context.Background(), KeyLogger, attached)
	FromCtx(ctx, base).Info("hello")

	require.Equal(t, 1, logs.Len())
}

func TestFromCtx_EnrichesFromValues(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core).Sugar()

	ctx := context.WithValue(context.Background(), KeyTraceID, "trace-1")
	ctx = context.WithValue(ctx, KeyUserID, "user-1")
	FromCtx(ctx, base).Info("hello")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	require.Equal(t, "trace-1", fields["trace_id"])
	require.Equal(t, "user-1", fields["user_id"])
}

func TestFromCtx_NilContext(t *testing.T) {
	base := zap.NewNop().Sugar()
	require.Same(t, base, FromCtx(nil, base))
	require.Equal(t, "", TraceID(nil))
	require.Equal(t, "", UserID(context.Background()))
}
