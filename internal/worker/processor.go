package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mohammad-safakhou/autostrat/internal/queue/streams"
	"github.com/mohammad-safakhou/autostrat/internal/store"
)

// Dispatcher hands a freshly created task to whatever runs it.
type Dispatcher interface {
	Dispatch(ctx context.Context, id, topic string) error
}

// StreamDispatcher publishes submitted tasks to a Redis stream.
type StreamDispatcher struct {
	publisher *streams.Publisher
	stream    string
}

func NewStreamDispatcher(pub *streams.Publisher, stream string) *StreamDispatcher {
	return &StreamDispatcher{publisher: pub, stream: stream}
}

func (d *StreamDispatcher) Dispatch(ctx context.Context, id, topic string) error {
	if _, err := d.publisher.PublishTask(ctx, d.stream, id, topic); err != nil {
		return fmt.Errorf("publish task: %w", err)
	}
	return nil
}

// ProcessorConfig controls stream reads and recovery of stuck entries.
type ProcessorConfig struct {
	Block time.Duration
	// ReclaimIdle is how long an entry stays pending before another consumer
	// takes it over. Keep it above the pipeline timeout.
	ReclaimIdle time.Duration
	// ReclaimEvery is the period of the pending list scan.
	ReclaimEvery time.Duration
}

// Processor consumes task.submitted events and feeds them to the executor.
// Entries are acked only after the terminal write.
type Processor struct {
	logger   *log.Logger
	store    store.TaskStore
	consumer *streams.Consumer
	executor *Executor
	cfg      ProcessorConfig

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewProcessor(logger *log.Logger, st store.TaskStore, cons *streams.Consumer, exec *Executor, cfg ProcessorConfig) *Processor {
	if logger == nil {
		logger = log.New(log.Writer(), "[WORKER] ", log.LstdFlags)
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.ReclaimIdle <= 0 {
		cfg.ReclaimIdle = 10 * time.Minute
	}
	if cfg.ReclaimEvery <= 0 {
		cfg.ReclaimEvery = 30 * time.Second
	}
	return &Processor{
		logger:   logger,
		store:    st,
		consumer: cons,
		executor: exec,
		cfg:      cfg,
		inflight: make(map[string]struct{}),
	}
}

// Start blocks, processing the stream until ctx is cancelled. Pending entries
// idle longer than ReclaimIdle are taken over at start and then every
// ReclaimEvery.
func (p *Processor) Start(ctx context.Context) error {
	if err := p.consumer.EnsureGroup(ctx); err != nil {
		return err
	}
	p.logger.Printf("stream processor starting (reclaim idle %s every %s)", p.cfg.ReclaimIdle, p.cfg.ReclaimEvery)

	p.reclaim(ctx)
	lastReclaim := time.Now()

	for {
		select {
		case <-ctx.Done():
			p.logger.Printf("stream processor stopping: %v", ctx.Err())
			return nil
		default:
		}

		if time.Since(lastReclaim) >= p.cfg.ReclaimEvery {
			p.reclaim(ctx)
			lastReclaim = time.Now()
		}

		block := p.cfg.Block
		if block > p.cfg.ReclaimEvery {
			block = p.cfg.ReclaimEvery
		}
		msgs, err := p.consumer.Read(ctx, 16, block)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Printf("error reading stream: %v", err)
			time.Sleep(time.Second)
			continue
		}
		for _, msg := range msgs {
			p.handle(ctx, msg)
		}
	}
}

func (p *Processor) reclaim(ctx context.Context) {
	claimed, err := p.consumer.Reclaim(ctx, p.cfg.ReclaimIdle, 16)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Printf("warn: reclaim pending entries failed: %v", err)
		}
		return
	}
	if len(claimed) > 0 {
		p.logger.Printf("reclaimed %d pending entries", len(claimed))
	}
	for _, msg := range claimed {
		p.handle(ctx, msg)
	}
}

func (p *Processor) handle(ctx context.Context, msg streams.Message) {
	task, err := msg.Envelope.Task()
	if err != nil {
		p.logger.Printf("dropping entry %s: %v", msg.ID, err)
		p.ack(msg.ID)
		return
	}

	id := msg.ID
	// an entry this process is already running can come back through reclaim
	if !p.track(id) {
		return
	}

	rec, ok, err := p.store.Get(ctx, task.TaskID)
	if err != nil {
		// left pending for the next reclaim
		p.logger.Printf("lookup task %s: %v", task.TaskID, err)
		p.untrack(id)
		return
	}
	if !ok || rec.Status.Terminal() {
		p.logger.Printf("skipping entry %s for task %s (found=%v status=%s)", msg.ID, task.TaskID, ok, rec.Status)
		p.ack(id)
		p.untrack(id)
		return
	}

	err = p.executor.Enqueue(ctx, Task{
		ID:    task.TaskID,
		Topic: task.Topic,
		Done: func(c Completion, werr error) {
			defer p.untrack(id)
			if werr != nil && !errors.Is(werr, store.ErrTaskTerminal) {
				return
			}
			p.ack(id)
		},
	})
	if err != nil {
		p.logger.Printf("enqueue task %s: %v", task.TaskID, err)
		p.untrack(id)
	}
}

func (p *Processor) track(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.inflight[id]; ok {
		return false
	}
	p.inflight[id] = struct{}{}
	return true
}

func (p *Processor) untrack(id string) {
	p.mu.Lock()
	delete(p.inflight, id)
	p.mu.Unlock()
}

func (p *Processor) ack(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.consumer.Ack(ctx, id); err != nil {
		p.logger.Printf("ack %s: %v", id, err)
	}
}
