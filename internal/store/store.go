package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mohammad-safakhou/autostrat/config"
)

// Status is the lifecycle state of a report task.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var (
	ErrTaskExists    = errors.New("task already exists")
	ErrTaskNotFound  = errors.New("task not found")
	ErrTaskTerminal  = errors.New("task already finished")
	ErrInvalidStatus = errors.New("invalid terminal status")
)

// Record is the persisted view of one submitted topic.
// Result is nil while the task is processing.
type Record struct {
	ID         string
	Status     Status
	Result     *string
	CreatedAt  time.Time
	FinishedAt *time.Time
}

// TaskStore keeps one record per submitted task.
type TaskStore interface {
	Create(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (Record, bool, error)
	SetTerminal(ctx context.Context, id string, status Status, result string) error
	Close() error
}

func checkTerminal(status Status) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return nil
}

// New builds the backend selected in cfg.
func New(ctx context.Context, cfg config.StorageConfig, logger *log.Logger) (TaskStore, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[STORE] ", log.LstdFlags)
	}
	switch cfg.Backend {
	case "", config.StorageMemory:
		logger.Printf("using in-memory task store")
		return NewMemory(), nil
	case config.StorageRedis:
		st, err := NewRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("redis store: %w", err)
		}
		logger.Printf("using redis task store at %s", cfg.Redis.Addr())
		return st, nil
	case config.StoragePostgres:
		dsn := cfg.Postgres.DSN()
		if cfg.Postgres.AutoMigrate {
			if err := Migrate(dsn, "up", 0); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		pctx := ctx
		if cfg.Postgres.Timeout > 0 {
			var cancel context.CancelFunc
			pctx, cancel = context.WithTimeout(ctx, cfg.Postgres.Timeout)
			defer cancel()
		}
		st, err := NewWithDSN(pctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("postgres store: %w", err)
		}
		logger.Printf("using postgres task store")
		return st, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
