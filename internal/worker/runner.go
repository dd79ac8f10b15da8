package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mohammad-safakhou/autostrat/internal/store"
)

// Generator produces the final report for a topic.
type Generator interface {
	Generate(ctx context.Context, topic string) (string, error)
}

// Task is one unit of background work.
type Task struct {
	ID    string
	Topic string
	// Done runs after the terminal write with its outcome.
	Done func(Completion, error)
}

// Completion is the terminal outcome of a task, applied by the executor's writer.
type Completion struct {
	ID      string
	Status  store.Status
	Result  string
	Elapsed time.Duration
}

// Runner invokes the report pipeline for one task. It never touches the store.
type Runner struct {
	logger    *log.Logger
	generator Generator
	timeout   time.Duration
}

// NewRunner builds a Runner. timeout 0 leaves the pipeline unbounded in time.
func NewRunner(logger *log.Logger, gen Generator, timeout time.Duration) *Runner {
	if logger == nil {
		logger = log.New(log.Writer(), "[WORKER] ", log.LstdFlags)
	}
	return &Runner{logger: logger, generator: gen, timeout: timeout}
}

// Run executes the pipeline and converts the outcome, including panics, into a Completion.
func (r *Runner) Run(ctx context.Context, task Task) (c Completion) {
	start := time.Now()
	r.logger.Printf("starting task %s for topic %q", task.ID, task.Topic)
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Printf("task %s panicked: %v", task.ID, rec)
			c = Completion{ID: task.ID, Status: store.StatusFailed, Result: fmt.Sprintf("panic: %v", rec)}
		}
		c.Elapsed = time.Since(start)
	}()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	report, err := r.generator.Generate(ctx, task.Topic)
	if err != nil {
		r.logger.Printf("task %s failed: %v", task.ID, err)
		return Completion{ID: task.ID, Status: store.StatusFailed, Result: err.Error()}
	}
	r.logger.Printf("task %s completed", task.ID)
	return Completion{ID: task.ID, Status: store.StatusCompleted, Result: report}
}
