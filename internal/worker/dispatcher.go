package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"checkout-service/internal/util"

	"go.uber.org/zap"
)

type task struct {
	kind string
	run  func(ctx context.Context) error
}

// Dispatcher runs post-commit tasks on a fixed pool of goroutines fed by
// a bounded queue. Dispatch never blocks; a full queue drops the task.
type Dispatcher struct {
	tasks   chan task
	timeout time.Duration
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	logger  *zap.Logger
}

// NewDispatcher starts workers goroutines reading from a queue of queueSize
func NewDispatcher(workers, queueSize int, timeout time.Duration) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	d := &Dispatcher{
		tasks:   make(chan task, queueSize),
		timeout: timeout,
		logger:  util.GetLogger(),
	}

	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.loop()
	}
	return d
}

// Dispatch queues a task. It reports false when the queue is full or the
// dispatcher is stopped.
func (d *Dispatcher) Dispatch(kind string, run func(ctx context.Context) error) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		util.SideEffectsTotal.WithLabelValues(kind, "dropped").Inc()
		return false
	}

	select {
	case d.tasks <- task{kind: kind, run: run}:
		util.SideEffectQueueDepth.Inc()
		return true
	default:
		util.SideEffectsTotal.WithLabelValues(kind, "dropped").Inc()
		d.logger.Warn("Task queue full, dropping task", zap.String("kind", kind))
		return false
	}
}

// Stop refuses new tasks and waits for queued ones to finish or ctx to expire
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.tasks)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher drain interrupted: %w", ctx.Err())
	}
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for t := range d.tasks {
		util.SideEffectQueueDepth.Dec()
		d.execute(t)
	}
}

func (d *Dispatcher) execute(t task) {
	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			util.SideEffectsTotal.WithLabelValues(t.kind, "panic").Inc()
			d.logger.Error("Task panicked", zap.String("kind", t.kind), zap.Any("panic", r))
		}
	}()

	if err := t.run(ctx); err != nil {
		util.SideEffectsTotal.WithLabelValues(t.kind, "failed").Inc()
		d.logger.Error("Task failed", zap.String("kind", t.kind), zap.Error(err))
		return
	}
	util.SideEffectsTotal.WithLabelValues(t.kind, "succeeded").Inc()
}
