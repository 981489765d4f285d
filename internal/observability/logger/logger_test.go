package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	require.Equal(t, zapcore.DebugLevel, parseLevel(" DEBUG "))
	require.Equal(t, zapcore.WarnLevel, parseLevel("warning"))
	require.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	require.Equal(t, zapcore.InfoLevel, parseLevel("whatever"))
}

func TestFromContext(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := zap.New(core)

	ctx := ToContext(context.Background(), l.With(RequestID("r1")))
	From(ctx).Info("hello")
	require.Equal(t, 1, logs.Len())
	require.Equal(t, "r1", logs.All()[0].ContextMap()["request_id"])

	require.NotNil(t, From(context.Background()))
}

func TestOrNamed(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	OrNamed(zap.New(core), "mirror").Debug("x")
	require.Equal(t, "mirror", logs.All()[0].LoggerName)
	require.NotNil(t, OrNamed(nil, "mirror"))
}

func TestBuildWithFile(t *testing.T) {
	l := build(Config{Env: "prod", Level: "info", ServiceName: "offline-shop", OutputPath: t.TempDir() + "/device.log"})
	require.NotNil(t, l)
	l.Info("to file")
	_ = l.Sync()
}
