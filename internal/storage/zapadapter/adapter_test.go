package zapadapter

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogStampsIDs(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewLogger(zap.New(core))

	ctx := NewContextWithUnitID(NewContextWithID(context.Background(), "req-1"), "unit-1")
	l.Log(ctx, pgx.LogLevelInfo, "Query", map[string]interface{}{"sql": "select 1"})

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "req-1", fields["request_id"])
	require.Equal(t, "unit-1", fields["unit_id"])
	require.Equal(t, "select 1", fields["sql"])
}

func TestFieldsEmptyContext(t *testing.T) {
	require.Empty(t, Fields(context.Background()))
}
