package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigIsNil          = errors.New("config is nil")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrServerNotRunning     = errors.New("component not running")
	ErrServerAlreadyRunning = errors.New("component already running")
)

var (
	ErrCacheNotFound         = errors.New("cache entry not found")
	ErrCacheKeyEmpty         = errors.New("cache key empty")
	ErrCacheConnectionFailed = errors.New("cache connection failed")
	ErrCacheTypeUnknown      = errors.New("cache type unknown")
	ErrCacheOperationFailed  = errors.New("cache operation failed")
	ErrCacheEntryCorrupted   = errors.New("cache entry corrupted")
)

var (
	ErrQueueStopped       = errors.New("queue stopped")
	ErrDispatcherStopped  = errors.New("dispatcher stopped")
	ErrOperationIsNil     = errors.New("operation is nil")
	ErrOperationPanicked  = errors.New("operation panicked")
	ErrUnknownPath        = errors.New("unknown path")
	ErrRequestBuildFailed = errors.New("request build failed")
	ErrNotModifiedNoCache = errors.New("not modified response without cached entry")
)

var (
	ErrSignatureMissing      = errors.New("signature header missing")
	ErrSignatureMalformed    = errors.New("signature malformed")
	ErrSignatureInvalid      = errors.New("signature invalid")
	ErrSignatureForced       = errors.New("signature failure forced")
	ErrPublicKeyInvalid      = errors.New("public key invalid")
	ErrNonceMissing          = errors.New("nonce missing")
	ErrRequestTimeMissing    = errors.New("request time header missing")
	ErrVerificationModeUnset = errors.New("verification mode unknown")
)

var (
	ErrCronJobNameIsEmpty    = errors.New("cron job name is empty")
	ErrCronExpressionInvalid = errors.New("cron expression invalid")
	ErrCronJobIsNil          = errors.New("cron job is nil")
	ErrCronJobExists         = errors.New("cron job exists")
	ErrCronIsRunning         = errors.New("cron is running")
	ErrCronSchedulerStopped  = errors.New("cron scheduler stopped")
)

var (
	ErrHealthIsNotRunning = errors.New("health manager is not running")
	ErrHealthCheckTimeout = errors.New("health check timeout")
	ErrPathNotFound       = errors.New("path not found")
)

var (
	ErrMetricsTypeUnknown = errors.New("metrics type unknown")
)

var (
	ErrLogFileIsEmpty      = errors.New("log file is empty")
	ErrLoggerTypeUnknown   = errors.New("logger type unknown")
	ErrLoggerConfigInvalid = errors.New("logger config invalid")
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrInternalError    = errors.New("internal error")
)

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}
