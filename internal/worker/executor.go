package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mohammad-safakhou/autostrat/internal/metrics"
	"github.com/mohammad-safakhou/autostrat/internal/store"
)

var (
	ErrQueueFull      = errors.New("task queue is full")
	ErrExecutorClosed = errors.New("executor is shut down")
	ErrAlreadyRunning = errors.New("executor already running")
)

const shutdownResult = "shutdown before start"

// ExecutorConfig sizes the worker pool.
type ExecutorConfig struct {
	Workers   int
	QueueSize int
	// Grace lets in-flight tasks keep running this long after shutdown starts.
	Grace time.Duration
}

// CompletionHook observes every applied terminal write.
type CompletionHook func(ctx context.Context, task Task, c Completion)

// Executor runs tasks on a fixed pool of workers. A single writer goroutine
// applies all terminal transitions to the store.
type Executor struct {
	logger  *log.Logger
	store   store.TaskStore
	runner  *Runner
	cfg     ExecutorConfig
	metrics *metrics.Metrics
	hooks   []CompletionHook

	queue   chan Task
	mu      sync.RWMutex
	closed  bool
	started atomic.Bool
}

type Option func(*Executor)

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

func WithCompletionHook(h CompletionHook) Option {
	return func(e *Executor) {
		if h != nil {
			e.hooks = append(e.hooks, h)
		}
	}
}

func NewExecutor(logger *log.Logger, st store.TaskStore, runner *Runner, cfg ExecutorConfig, opts ...Option) *Executor {
	if logger == nil {
		logger = log.New(log.Writer(), "[WORKER] ", log.LstdFlags)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	e := &Executor{
		logger: logger,
		store:  st,
		runner: runner,
		cfg:    cfg,
		queue:  make(chan Task, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit hands the task to the pool without blocking.
func (e *Executor) Submit(ctx context.Context, task Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrExecutorClosed
	}
	select {
	case e.queue <- task:
		e.metrics.QueueDepth(len(e.queue))
		return nil
	default:
		return ErrQueueFull
	}
}

// Enqueue waits for queue space until ctx is done. Used by stream consumers
// which should apply backpressure instead of rejecting work.
func (e *Executor) Enqueue(ctx context.Context, task Task) error {
	for {
		err := e.Submit(ctx, task)
		if !errors.Is(err, ErrQueueFull) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Dispatch submits a task for id/topic.
func (e *Executor) Dispatch(ctx context.Context, id, topic string) error {
	return e.Submit(ctx, Task{ID: id, Topic: topic})
}

type outcome struct {
	task Task
	c    Completion
}

// Run starts the workers and the writer and blocks until ctx is done and
// every accepted task has a terminal record.
func (e *Executor) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	base := context.WithoutCancel(ctx)
	workCtx, cancelWork := context.WithCancel(base)
	defer cancelWork()

	outcomes := make(chan outcome, e.cfg.Workers)
	writerDone := make(chan struct{})
	go e.write(base, outcomes, writerDone)

	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.work(ctx, workCtx, outcomes)
		}()
	}
	e.logger.Printf("executor started with %d workers, queue size %d", e.cfg.Workers, e.cfg.QueueSize)

	<-ctx.Done()
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.logger.Printf("executor stopping: %v", ctx.Err())

	if e.cfg.Grace > 0 {
		t := time.AfterFunc(e.cfg.Grace, cancelWork)
		defer t.Stop()
	} else {
		cancelWork()
	}
	wg.Wait()

	for drained := false; !drained; {
		select {
		case task := <-e.queue:
			outcomes <- outcome{task: task, c: Completion{ID: task.ID, Status: store.StatusFailed, Result: shutdownResult}}
		default:
			drained = true
		}
	}
	e.metrics.QueueDepth(0)
	close(outcomes)
	<-writerDone
	e.logger.Printf("executor stopped")
	return nil
}

func (e *Executor) work(ctx, workCtx context.Context, out chan<- outcome) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-e.queue:
			e.metrics.QueueDepth(len(e.queue))
			if ctx.Err() != nil {
				out <- outcome{task: task, c: Completion{ID: task.ID, Status: store.StatusFailed, Result: shutdownResult}}
				continue
			}
			out <- outcome{task: task, c: e.runner.Run(workCtx, task)}
		}
	}
}

func (e *Executor) write(ctx context.Context, in <-chan outcome, done chan<- struct{}) {
	defer close(done)
	for o := range in {
		wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := e.store.SetTerminal(wctx, o.c.ID, o.c.Status, o.c.Result)
		if err != nil {
			e.logger.Printf("terminal write for task %s failed: %v", o.c.ID, err)
		} else {
			e.metrics.TaskFinished(string(o.c.Status), o.c.Elapsed)
			for _, h := range e.hooks {
				h(wctx, o.task, o.c)
			}
		}
		cancel()
		if o.task.Done != nil {
			o.task.Done(o.c, err)
		}
	}
}
