// Package registry provides the in-memory task registry the scheduler
// consults. The host application owns task lifecycle; the scheduler only
// reads tasks and mirrors execution state onto them.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"agentsched/internal/domain"
)

// Memory is a thread-safe task registry backed by a map. Get returns
// copies, so callers never alias internal state.
type Memory struct {
	mu    sync.RWMutex
	tasks map[string]*domain.Task
}

// NewMemory returns an empty registry.
func NewMemory() *Memory {
	return &Memory{tasks: make(map[string]*domain.Task)}
}

// Add registers a task, assigning an id and timestamps when missing, and
// returns the stored id. An existing task with the same id is replaced.
func (m *Memory) Add(task *domain.Task) string {
	now := time.Now()
	if task.ID == "" {
		task.ID = ulid.Make().String()
	}
	if task.Status == "" {
		task.Status = domain.TaskPending
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	cp := *task
	m.mu.Lock()
	m.tasks[cp.ID] = &cp
	m.mu.Unlock()
	return cp.ID
}

// Remove deletes a task. Unknown ids are a no-op; the caller is responsible
// for cancelling any schedule the task had.
func (m *Memory) Remove(id string) {
	m.mu.Lock()
	delete(m.tasks, id)
	m.mu.Unlock()
}

// Get implements domain.Registry.
func (m *Memory) Get(_ context.Context, id string) (*domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	task, ok := m.tasks[id]
	if !ok {
		return nil, domain.NewDomainError("registry.Get", domain.ErrTaskNotFound, id)
	}
	cp := *task
	return &cp, nil
}

// Exists implements domain.Registry.
func (m *Memory) Exists(_ context.Context, id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.tasks[id]
	return ok
}

// Update implements domain.Registry: fn is applied to the stored task under
// the lock, and UpdatedAt is bumped.
func (m *Memory) Update(_ context.Context, id string, fn func(*domain.Task)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[id]
	if !ok {
		return domain.NewDomainError("registry.Update", domain.ErrTaskNotFound, id)
	}
	fn(task)
	task.UpdatedAt = time.Now()
	return nil
}

// List returns copies of all tasks, oldest first.
func (m *Memory) List() []*domain.Task {
	m.mu.RLock()
	out := make([]*domain.Task, 0, len(m.tasks))
	for _, task := range m.tasks {
		cp := *task
		out = append(out, &cp)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

var _ domain.Registry = (*Memory)(nil)
