package backend

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-backend/queue"
	"github.com/saiset-co/sai-backend/types"
	"github.com/saiset-co/sai-backend/utils"
)

// Completion receives the outcome of an operation. The response is shared
// between every caller of a deduplicated request and must not be modified.
type Completion func(resp *types.Response, err error)

type Delay int

const (
	// DelayNone dispatches immediately, for callers waiting in the foreground.
	DelayNone Delay = iota
	// DelayJitter spreads background refreshes over the jitter window.
	DelayJitter
)

// Operation is one unit of work for the dispatcher.
type Operation struct {
	Key         CacheKey
	Diagnostics bool
	Execute     func(ctx context.Context) (*types.Response, error)
}

type inFlight struct {
	callbacks []Completion
	started   time.Time
}

// Dispatcher runs operations on the serial queues and collapses concurrent
// operations with the same key into one execution whose result is delivered
// to every registered callback exactly once.
type Dispatcher struct {
	logger      types.Logger
	metrics     types.MetricsManager
	backend     *queue.Serial
	diagnostics *queue.Serial
	jitterMax   time.Duration
	mu          sync.Mutex
	inFlight    map[CacheKey]*inFlight
	afterFunc   func(d time.Duration, f func())
	jitter      func(limit time.Duration) time.Duration
}

func NewDispatcher(backendQueue, diagnosticsQueue *queue.Serial, config *types.DispatcherConfig, logger types.Logger, metrics types.MetricsManager) *Dispatcher {
	jitterMax := 5 * time.Second
	if config != nil {
		jitterMax = config.JitterMax
	}

	return &Dispatcher{
		logger:      logger,
		metrics:     metrics,
		backend:     backendQueue,
		diagnostics: diagnosticsQueue,
		jitterMax:   jitterMax,
		inFlight:    make(map[CacheKey]*inFlight),
		afterFunc: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
		jitter: randomJitter,
	}
}

// Dispatch never blocks. Errors, including a rejected enqueue, reach the
// caller through completion.
func (d *Dispatcher) Dispatch(op Operation, delay Delay, completion Completion) {
	if completion == nil {
		completion = func(*types.Response, error) {}
	}

	if op.Execute == nil {
		completion(nil, types.NewInternalError(types.ErrOperationIsNil))
		return
	}

	if delay == DelayJitter && d.jitterMax > 0 {
		wait := d.jitter(d.jitterMax)
		d.logger.Debug("Delaying background operation",
			zap.String("key", op.Key.String()),
			zap.Duration("delay", wait))
		d.afterFunc(wait, func() { d.dispatch(op, completion) })
		return
	}

	d.dispatch(op, completion)
}

// InFlight reports how many distinct operations are queued or running.
func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inFlight)
}

func (d *Dispatcher) dispatch(op Operation, completion Completion) {
	d.mu.Lock()
	if entry, exists := d.inFlight[op.Key]; exists {
		entry.callbacks = append(entry.callbacks, completion)
		d.mu.Unlock()

		d.metrics.Counter("dispatcher_deduplicated_total", map[string]string{"operation": operationName(op.Key)}).Inc()
		d.logger.Debug("Joined in-flight operation", zap.String("key", op.Key.String()))
		return
	}
	d.inFlight[op.Key] = &inFlight{callbacks: []Completion{completion}, started: time.Now()}
	d.mu.Unlock()

	target := d.backend
	if op.Diagnostics {
		target = d.diagnostics
	}

	err := target.Enqueue(func(ctx context.Context) { d.run(ctx, op) })
	if err != nil {
		d.logger.Error("Failed to enqueue operation", zap.String("key", op.Key.String()), zap.Error(err))
		d.complete(op.Key, nil, types.NewInternalError(types.Errorf(types.ErrDispatcherStopped, "%v", err)))
	}
}

// run executes op and always completes its key, even when Execute panics.
func (d *Dispatcher) run(ctx context.Context, op Operation) {
	var (
		resp *types.Response
		err  error
	)

	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = utils.RecoveredError(r)
			d.logger.ErrorWithErrStack("Operation panicked", err, zap.String("key", op.Key.String()))
		}
		d.complete(op.Key, resp, err)
	}()

	resp, err = op.Execute(ctx)
}

// complete removes the entry and fans the result out. Callbacks run outside
// the lock, so a callback may dispatch again without deadlocking.
func (d *Dispatcher) complete(key CacheKey, resp *types.Response, err error) {
	d.mu.Lock()
	entry, exists := d.inFlight[key]
	delete(d.inFlight, key)
	d.mu.Unlock()

	if !exists {
		return
	}

	if _, ok := types.AsBackendError(err); err != nil && !ok {
		err = types.NewInternalError(err)
	}

	result := "success"
	if err != nil {
		result = "error"
	}
	d.metrics.Counter("dispatcher_operations_total", map[string]string{
		"operation": operationName(key),
		"result":    result,
	}).Inc()
	d.metrics.Histogram("dispatcher_operation_duration_seconds", nil, map[string]string{
		"operation": operationName(key),
	}).ObserveDuration(entry.started)

	for _, callback := range entry.callbacks {
		d.deliver(key, callback, resp, err)
	}
}

func (d *Dispatcher) deliver(key CacheKey, callback Completion, resp *types.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorWithErrStack("Operation callback panicked", utils.RecoveredError(r), zap.String("key", key.String()))
		}
	}()

	callback(resp, err)
}

func operationName(key CacheKey) string {
	name, _, _ := strings.Cut(key.String(), ":")
	return name
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(limit) + 1))
}
