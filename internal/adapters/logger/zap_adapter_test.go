package logger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"gitlab.com/timkado/api/edumate-realtime/pkg/contextkeys"
)

func observed(t *testing.T) (*ZapAdapter, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	return &ZapAdapter{logger: zap.New(core)}, logs
}

func TestZapAdapter_ContextFields(t *testing.T) {
	l, logs := observed(t)

	ctx := context.WithValue(context.Background(), contextkeys.SocketIDKey, "abc")
	ctx = context.WithValue(ctx, contextkeys.EventKey, "new_message")
	ctx = context.WithValue(ctx, contextkeys.UserIDKey, "")
	l.Info(ctx, "delivered", "count", 2)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "abc", fields["socket_id"])
	assert.Equal(t, "new_message", fields["event"])
	assert.Equal(t, int64(2), fields["count"])
	assert.NotContains(t, fields, "user_id")
}

func TestZapAdapter_OddArgsAndErrors(t *testing.T) {
	l, logs := observed(t)

	l.Warn(context.Background(), "odd", 7, "seven", "error", errors.New("boom"), "dangling")

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "seven", fields["field_0_7"])
	assert.Equal(t, "boom", fields["error"])
	assert.Equal(t, "dangling", fields["orphan_field_4"])
}

func TestZapAdapter_With(t *testing.T) {
	l, logs := observed(t)

	l.With("component", "live").Error(context.Background(), "failed")

	entry := logs.All()[0]
	assert.Equal(t, zapcore.ErrorLevel, entry.Level)
	assert.Equal(t, "live", entry.ContextMap()["component"])
}
