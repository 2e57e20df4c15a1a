package task

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrTaskNotFound is returned when a task is not found.
	ErrTaskNotFound = errors.New("task not found")
)

// Repository defines the interface for task data access.
type Repository interface {
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, id uuid.UUID) (*Task, error)
	List(ctx context.Context, filter *Filter) ([]*Task, error)
	Update(ctx context.Context, task *Task) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type memoryRepository struct {
	mu    sync.RWMutex
	tasks map[uuid.UUID]*Task
}

// NewMemoryRepository creates an in-process task repository. Tasks do not
// survive a restart.
func NewMemoryRepository() Repository {
	return &memoryRepository{tasks: make(map[uuid.UUID]*Task)}
}

// Create creates a new task.
func (r *memoryRepository) Create(_ context.Context, task *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[task.ID]; exists {
		return errors.New("task already exists")
	}
	r.tasks[task.ID] = task.clone()
	return nil
}

// Get retrieves a task by ID.
func (r *memoryRepository) Get(_ context.Context, id uuid.UUID) (*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return task.clone(), nil
}

// List lists tasks newest first with optional filters.
func (r *memoryRepository) List(_ context.Context, filter *Filter) ([]*Task, error) {
	r.mu.RLock()
	tasks := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		if filter != nil {
			if filter.Type != nil && t.Type != *filter.Type {
				continue
			}
			if filter.Status != nil && t.Status != *filter.Status {
				continue
			}
		}
		tasks = append(tasks, t.clone())
	}
	r.mu.RUnlock()

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})

	if filter != nil {
		if filter.Offset > 0 {
			if filter.Offset >= len(tasks) {
				return []*Task{}, nil
			}
			tasks = tasks[filter.Offset:]
		}
		if filter.Limit > 0 && filter.Limit < len(tasks) {
			tasks = tasks[:filter.Limit]
		}
	}
	return tasks, nil
}

// Update updates a task.
func (r *memoryRepository) Update(_ context.Context, task *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[task.ID]; !ok {
		return ErrTaskNotFound
	}
	r.tasks[task.ID] = task.clone()
	return nil
}

// Delete deletes a task.
func (r *memoryRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[id]; !ok {
		return ErrTaskNotFound
	}
	delete(r.tasks, id)
	return nil
}
