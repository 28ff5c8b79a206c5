package logger

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/saiset-co/sai-backend/types"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLogLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLogLevel("warning"))
	assert.Equal(t, zapcore.InfoLevel, parseLogLevel("nonsense"))
}

func TestFileOutputRotatesThroughLumberjack(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "backend.log")

	l, err := NewDefaultLogger(&types.LoggerConfig{
		Level: "info",
		Config: map[string]interface{}{
			"format": "json",
			"output": "file",
			"file":   file,
		},
	})
	require.NoError(t, err)

	l.Info("Request finished", zap.String("path", "/v1/health"))
	require.NoError(t, l.(*ZapWrapper).Sync())

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"Request finished"`)
	assert.Contains(t, string(data), `"path":"/v1/health"`)
}

func TestManagerLifecycle(t *testing.T) {
	m, err := NewManager(&types.LoggerConfig{Type: "nop"})
	require.NoError(t, err)

	require.NoError(t, m.Start())
	assert.True(t, m.IsRunning())
	assert.ErrorIs(t, m.Start(), types.ErrServerAlreadyRunning)

	require.NoError(t, m.Stop())
	assert.False(t, m.IsRunning())
	assert.ErrorIs(t, m.Stop(), types.ErrServerNotRunning)
}

func TestUnknownLoggerType(t *testing.T) {
	_, err := NewManager(&types.LoggerConfig{Type: "syslog"})
	assert.ErrorIs(t, err, types.ErrLoggerTypeUnknown)
}

func TestManagerTagsEntriesWithServiceFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	RegisterLogger("observed", func(config interface{}) (types.Logger, error) {
		return NewZapWrapper(zap.New(core)), nil
	})

	m, err := NewManager(&types.LoggerConfig{Type: "observed"}, zap.String("service", "sai-backend"))
	require.NoError(t, err)

	m.Info("Backend started")

	entries := logs.FilterMessage("Backend started").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "sai-backend", entries[0].ContextMap()["service"])
}

func TestErrorWithErrStack(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewZapWrapper(zap.New(core))

	l.ErrorWithErrStack("Task failed", errors.WithStack(stderrors.New("boom")), zap.String("queue", "backend"))
	l.ErrorWithErrStack("Task failed plain", stderrors.New("boom"))

	entries := logs.All()
	require.Len(t, entries, 2)

	traced := entries[0].ContextMap()
	assert.Equal(t, "boom", traced["error"])
	assert.Equal(t, "backend", traced["queue"])
	assert.Contains(t, traced["stack"], "TestErrorWithErrStack")

	plain := entries[1].ContextMap()
	assert.Equal(t, "boom", plain["error"])
	assert.NotContains(t, plain, "stack")
}

func TestConsoleSyncErrorsAreIgnored(t *testing.T) {
	assert.True(t, isConsoleSyncError(&os.PathError{Op: "sync", Path: "/dev/stdout", Err: syscall.EINVAL}))
	assert.False(t, isConsoleSyncError(stderrors.New("disk full")))
}
