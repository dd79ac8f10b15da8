package store

import (
	"context"
	"sync"
	"time"
)

// Memory is a process-local TaskStore. Records live until the process exits.
type Memory struct {
	mu    sync.RWMutex
	tasks map[string]Record
}

func NewMemory() *Memory {
	return &Memory{tasks: make(map[string]Record)}
}

func (m *Memory) Create(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; ok {
		return ErrTaskExists
	}
	m.tasks[id] = Record{ID: id, Status: StatusProcessing, CreatedAt: time.Now().UTC()}
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.tasks[id]
	return rec, ok, nil
}

func (m *Memory) SetTerminal(_ context.Context, id string, status Status, result string) error {
	if err := checkTerminal(status); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if rec.Status.Terminal() {
		return ErrTaskTerminal
	}
	now := time.Now().UTC()
	rec.Status = status
	rec.Result = &result
	rec.FinishedAt = &now
	m.tasks[id] = rec
	return nil
}

func (m *Memory) Close() error { return nil }
