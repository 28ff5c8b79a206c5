package logger

import (
	"errors"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-backend/types"
)

const defaultSyncTimeout = 5 * time.Second

// Manager owns the process logger. Every entry carries the fields given to
// NewManager, and buffered output is flushed on Stop.
type Manager struct {
	types.Logger
	running     atomic.Bool
	syncTimeout time.Duration
}

var customLoggerCreators = make(map[string]types.LoggerCreator)

func RegisterLogger(loggerName string, creator types.LoggerCreator) {
	customLoggerCreators[loggerName] = creator
}

func NewManager(loggerConfig *types.LoggerConfig, fields ...zap.Field) (*Manager, error) {
	if loggerConfig == nil {
		return nil, types.ErrLoggerConfigInvalid
	}

	base, err := createLogger(loggerConfig)
	if err != nil {
		return nil, types.WrapError(err, "failed to create logger")
	}

	if len(fields) > 0 {
		if tagged, ok := base.(interface {
			With(fields ...zap.Field) types.Logger
		}); ok {
			base = tagged.With(fields...)
		}
	}

	return &Manager{Logger: base, syncTimeout: defaultSyncTimeout}, nil
}

func (m *Manager) Start() error {
	if !m.running.CompareAndSwap(false, true) {
		return types.ErrServerAlreadyRunning
	}
	return nil
}

// Stop flushes the logger. Sync errors from terminals are ignored since
// stdout and stderr cannot be synced there.
func (m *Manager) Stop() error {
	if !m.running.CompareAndSwap(true, false) {
		return types.ErrServerNotRunning
	}

	syncer, ok := m.Logger.(interface{ Sync() error })
	if !ok {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- syncer.Sync() }()

	select {
	case err := <-done:
		if err != nil && !isConsoleSyncError(err) {
			return types.WrapError(err, "failed to flush logger")
		}
		return nil
	case <-time.After(m.syncTimeout):
		return types.Errorf(types.ErrInternalError, "logger flush timed out after %s", m.syncTimeout)
	}
}

func (m *Manager) IsRunning() bool {
	return m.running.Load()
}

func isConsoleSyncError(err error) bool {
	return errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) || errors.Is(err, syscall.EBADF)
}

func createLogger(loggerConfig *types.LoggerConfig) (types.Logger, error) {
	loggerName := "default"
	if loggerConfig.Type != "" {
		loggerName = loggerConfig.Type
	}

	switch loggerName {
	case "default":
		return NewDefaultLogger(loggerConfig)
	case "nop":
		return NewNop(), nil
	default:
		if creator, exists := customLoggerCreators[loggerName]; exists {
			return creator(loggerConfig.Config)
		}
		return nil, types.Errorf(types.ErrLoggerTypeUnknown, "logger type: %s", loggerName)
	}
}
