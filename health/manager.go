package health

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-backend/types"
	"github.com/saiset-co/sai-backend/utils"
)

type State int32

const (
	StateStopped State = iota
	StateRunning
)

const defaultCheckTimeout = 5 * time.Second

// Manager runs named checks in parallel and folds them into one report.
type Manager struct {
	service      types.ServiceInfo
	logger       types.Logger
	checkers     map[string]types.HealthChecker
	startedAt    atomic.Int64
	checkTimeout time.Duration
	mu           sync.RWMutex
	state        atomic.Value
}

func NewManager(service types.ServiceInfo, checkTimeout time.Duration, logger types.Logger) *Manager {
	if checkTimeout <= 0 {
		checkTimeout = defaultCheckTimeout
	}

	manager := &Manager{
		service:      service,
		logger:       logger,
		checkers:     make(map[string]types.HealthChecker),
		checkTimeout: checkTimeout,
	}

	manager.state.Store(StateStopped)

	return manager
}

func (hm *Manager) RegisterChecker(name string, checker types.HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.checkers[name] = checker
}

func (hm *Manager) Check(ctx context.Context) types.HealthReport {
	hm.mu.RLock()
	checkers := make(map[string]types.HealthChecker, len(hm.checkers))
	for name, checker := range hm.checkers {
		checkers[name] = checker
	}
	hm.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, hm.checkTimeout)
	defer cancel()

	var g errgroup.Group
	results := make(map[string]types.HealthCheck, len(checkers))
	var resultMu sync.Mutex

	for name, checker := range checkers {
		g.Go(func() error {
			result := hm.executeCheck(checkCtx, name, checker)

			resultMu.Lock()
			results[name] = result
			resultMu.Unlock()
			return nil
		})
	}

	_ = g.Wait()

	return hm.buildReport(results)
}

func (hm *Manager) Service() types.ServiceInfo {
	return hm.service
}

func (hm *Manager) Start() error {
	if !hm.state.CompareAndSwap(StateStopped, StateRunning) {
		return types.ErrServerAlreadyRunning
	}

	hm.startedAt.Store(time.Now().UnixNano())
	hm.logger.Debug("Health manager started")

	return nil
}

func (hm *Manager) Stop() error {
	if !hm.state.CompareAndSwap(StateRunning, StateStopped) {
		return types.ErrServerNotRunning
	}

	hm.logger.Debug("Health manager stopped")
	return nil
}

func (hm *Manager) IsRunning() bool {
	return hm.state.Load().(State) == StateRunning
}

func (hm *Manager) executeCheck(ctx context.Context, name string, checker types.HealthChecker) types.HealthCheck {
	start := time.Now()

	resultChan := make(chan types.HealthCheck, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				hm.logger.ErrorWithErrStack("Health check panicked", utils.RecoveredError(r), zap.String("check", name))
				resultChan <- types.HealthCheck{
					Status:  types.StatusUnhealthy,
					Message: fmt.Sprintf("health check panicked: %v", r),
				}
			}
		}()

		resultChan <- checker(ctx)
	}()

	var result types.HealthCheck
	select {
	case result = <-resultChan:
	case <-ctx.Done():
		result = types.HealthCheck{
			Status:  types.StatusUnhealthy,
			Message: types.ErrHealthCheckTimeout.Error(),
		}
	}

	result.Name = name
	result.LastCheck = time.Now()
	result.Duration = time.Since(start)

	return result
}

func (hm *Manager) buildReport(results map[string]types.HealthCheck) types.HealthReport {
	summary := types.HealthSummary{
		Total: len(results),
	}

	overallStatus := types.StatusHealthy
	for _, result := range results {
		switch result.Status {
		case types.StatusHealthy:
			summary.Healthy++
		case types.StatusUnhealthy:
			summary.Unhealthy++
			overallStatus = types.StatusUnhealthy
		default:
			summary.Unknown++
			if overallStatus == types.StatusHealthy {
				overallStatus = types.StatusUnknown
			}
		}
	}

	var uptime time.Duration
	if started := hm.startedAt.Load(); started > 0 && hm.IsRunning() {
		uptime = time.Since(time.Unix(0, started))
	}

	return types.HealthReport{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Uptime:    uptime,
		Service:   hm.service,
		Checks:    results,
		Summary:   summary,
	}
}

// ComponentChecker reports a lifecycle component as healthy while it runs.
func ComponentChecker(component interface{ IsRunning() bool }) types.HealthChecker {
	return func(context.Context) types.HealthCheck {
		if component.IsRunning() {
			return types.HealthCheck{Status: types.StatusHealthy}
		}
		return types.HealthCheck{Status: types.StatusUnhealthy, Message: "not running"}
	}
}
