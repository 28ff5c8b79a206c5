package client

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-backend/dnscheck"
	"github.com/saiset-co/sai-backend/types"
)

const (
	DefaultTimeout  = 30 * time.Second
	ReducedTimeout  = 5 * time.Second
	DefaultCoolDown = 10 * time.Minute
)

// TimeoutPolicy shortens primary-backend timeouts for fallback-capable paths
// after a primary failure, so the fallback is reached sooner. The window is
// time based and ends CoolDown after the failure that opened it.
type TimeoutPolicy struct {
	defaultTimeout time.Duration
	reducedTimeout time.Duration
	coolDown       time.Duration

	mu          sync.Mutex
	lastFailure map[PathKind]time.Time
	now         func() time.Time
}

func NewTimeoutPolicy(config *types.TransportConfig) *TimeoutPolicy {
	p := &TimeoutPolicy{
		defaultTimeout: DefaultTimeout,
		reducedTimeout: ReducedTimeout,
		coolDown:       DefaultCoolDown,
		lastFailure:    make(map[PathKind]time.Time),
		now:            time.Now,
	}

	if config != nil {
		if config.DefaultTimeout > 0 {
			p.defaultTimeout = config.DefaultTimeout
		}
		if config.ReducedTimeout > 0 {
			p.reducedTimeout = config.ReducedTimeout
		}
		if config.CoolDown > 0 {
			p.coolDown = config.CoolDown
		}
	}

	return p
}

// Timeout returns the timeout for one attempt against path. Fallback
// attempts always get the default.
func (p *TimeoutPolicy) Timeout(path Path, isFallback bool) time.Duration {
	if isFallback || !path.SupportsFallback() {
		return p.defaultTimeout
	}

	if p.inWindow(path.Kind) {
		return p.reducedTimeout
	}

	return p.defaultTimeout
}

// RecordResult updates the window after an attempt finished. Only primary
// failures on fallback-capable paths open it; success does not close it.
func (p *TimeoutPolicy) RecordResult(path Path, isFallback bool, statusCode int, err error) {
	if isFallback || !path.SupportsFallback() {
		return
	}

	if !isPrimaryFailure(statusCode, err) {
		return
	}

	p.mu.Lock()
	p.lastFailure[path.Kind] = p.now()
	p.mu.Unlock()
}

func (p *TimeoutPolicy) IsReduced(path Path) bool {
	return path.SupportsFallback() && p.inWindow(path.Kind)
}

func (p *TimeoutPolicy) inWindow(kind PathKind) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	failedAt, ok := p.lastFailure[kind]
	if !ok {
		return false
	}

	if p.now().Sub(failedAt) >= p.coolDown {
		delete(p.lastFailure, kind)
		return false
	}

	return true
}

func isPrimaryFailure(statusCode int, err error) bool {
	if err != nil {
		return IsNetworkError(err)
	}
	return statusCode >= 500
}

// IsNetworkError reports errors raised before any HTTP status was received:
// timeouts, refused or reset connections and unreachable hosts.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, fasthttp.ErrTimeout) ||
		errors.Is(err, fasthttp.ErrDialTimeout) ||
		errors.Is(err, fasthttp.ErrConnectionClosed) ||
		errors.Is(err, fasthttp.ErrNoFreeConns) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return dnscheck.IsConnectionError(err)
}
