package queue

import (
	"context"
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
	StateStarting
	StateRunning
	StateStopping
)

type Task func(ctx context.Context)

// Serial runs tasks one at a time in submission order on a single
// goroutine. The backlog is unbounded so Enqueue never blocks the caller.
type Serial struct {
	ctx             context.Context
	cancel          context.CancelFunc
	name            string
	logger          types.Logger
	metrics         types.MetricsManager
	mu              sync.Mutex
	cond            *sync.Cond
	tasks           []Task
	closed          bool
	done            chan struct{}
	state           atomic.Value
	shutdownTimeout time.Duration
}

func NewSerial(ctx context.Context, name string, logger types.Logger, metrics types.MetricsManager) *Serial {
	queueCtx, cancel := context.WithCancel(ctx)

	q := &Serial{
		ctx:             queueCtx,
		cancel:          cancel,
		name:            name,
		logger:          logger,
		metrics:         metrics,
		done:            make(chan struct{}),
		shutdownTimeout: 30 * time.Second,
	}
	q.cond = sync.NewCond(&q.mu)
	q.state.Store(StateStopped)

	return q
}

func (q *Serial) Name() string {
	return q.name
}

// Enqueue appends task to the backlog. Tasks enqueued before Start wait
// for it.
func (q *Serial) Enqueue(task Task) error {
	if task == nil {
		return types.ErrOperationIsNil
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return types.Errorf(types.ErrQueueStopped, "%s", q.name)
	}
	q.tasks = append(q.tasks, task)
	depth := len(q.tasks)
	q.cond.Signal()
	q.mu.Unlock()

	q.depthGauge().Set(float64(depth))

	return nil
}

func (q *Serial) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *Serial) Start() error {
	if !q.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		q.setState(StateStopped)
		return types.Errorf(types.ErrQueueStopped, "%s", q.name)
	}

	go q.loop()

	q.setState(StateRunning)
	q.logger.Debug("Serial queue started", zap.String("queue", q.name))

	return nil
}

// Stop refuses new tasks and waits for the backlog to drain. When the
// shutdown timeout passes first, the context handed to tasks is cancelled.
func (q *Serial) Stop() error {
	if !q.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		q.setState(StateStopped)
		q.cancel()
	}()

	q.mu.Lock()
	q.closed = true
	pending := len(q.tasks)
	q.cond.Broadcast()
	q.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), q.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-q.done:
			return nil
		case <-gCtx.Done():
			return gCtx.Err()
		}
	})

	if err := g.Wait(); err != nil {
		q.logger.Warn("Serial queue stop timeout",
			zap.String("queue", q.name),
			zap.Int("pending", q.Len()),
			zap.Error(err))
		return err
	}

	q.logger.Debug("Serial queue stopped",
		zap.String("queue", q.name),
		zap.Int("drained", pending))

	return nil
}

func (q *Serial) IsRunning() bool {
	return q.getState() == StateRunning
}

func (q *Serial) loop() {
	defer close(q.done)

	for {
		q.mu.Lock()
		for len(q.tasks) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.tasks) == 0 {
			q.mu.Unlock()
			return
		}
		task := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		depth := len(q.tasks)
		q.mu.Unlock()

		q.depthGauge().Set(float64(depth))
		q.run(task)
	}
}

func (q *Serial) run(task Task) {
	start := time.Now()
	result := "success"

	defer func() {
		if r := recover(); r != nil {
			result = "panic"
			q.logger.ErrorWithErrStack("Serial queue task panicked", utils.RecoveredError(r),
				zap.String("queue", q.name))
		}

		q.metrics.Counter("queue_tasks_total", map[string]string{
			"queue":  q.name,
			"result": result,
		}).Inc()
		q.metrics.Histogram("queue_task_duration_seconds", nil, map[string]string{
			"queue": q.name,
		}).ObserveDuration(start)
	}()

	task(q.ctx)
}

func (q *Serial) depthGauge() types.Gauge {
	return q.metrics.Gauge("queue_depth", map[string]string{"queue": q.name})
}

func (q *Serial) getState() State {
	return q.state.Load().(State)
}

func (q *Serial) setState(newState State) {
	q.state.Store(newState)
}

func (q *Serial) transitionState(from, to State) bool {
	return q.state.CompareAndSwap(from, to)
}
