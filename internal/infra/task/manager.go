package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uniedit/mediaflow/internal/utils/metrics"
	"github.com/uniedit/mediaflow/internal/utils/requestctx"
)

// ErrTaskTerminal is returned when cancelling a task that already finished.
var ErrTaskTerminal = errors.New("task already in terminal state")

// Executor runs a task and returns its output. Progress is reported through
// the report callback.
type Executor func(ctx context.Context, task *Task, report func(Update)) (any, error)

// ErrorClassifier maps an executor error to a task error code and a message
// safe to show to clients.
type ErrorClassifier func(err error) (code, message string)

// Manager manages async tasks with pluggable executors.
type Manager struct {
	mu sync.RWMutex

	repo      Repository
	executors map[string]Executor
	classify  ErrorClassifier
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time

	// Configuration
	config *Config

	// Concurrency control
	semaphore chan struct{}

	// Running tasks
	cancels map[uuid.UUID]context.CancelFunc

	// Progress subscriptions
	subscribers map[uuid.UUID]map[int]func(*Task)
	nextSubID   int

	// Lifecycle
	baseCtx  context.Context
	stopAll  context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Config contains manager configuration.
type Config struct {
	MaxConcurrent  int           `json:"max_concurrent" yaml:"max_concurrent"`
	DefaultTimeout time.Duration `json:"default_timeout" yaml:"default_timeout"`
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrent:  4,
		DefaultTimeout: 30 * time.Minute,
	}
}

// NewManager creates a new task manager.
func NewManager(repo Repository, classify ErrorClassifier, m *metrics.Metrics, logger *zap.Logger, config *Config) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if classify == nil {
		classify = func(err error) (string, string) { return "execution_failed", err.Error() }
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		repo:        repo,
		executors:   make(map[string]Executor),
		classify:    classify,
		metrics:     m,
		logger:      logger.Named("task-manager"),
		now:         time.Now,
		config:      config,
		semaphore:   make(chan struct{}, config.MaxConcurrent),
		cancels:     make(map[uuid.UUID]context.CancelFunc),
		subscribers: make(map[uuid.UUID]map[int]func(*Task)),
		baseCtx:     ctx,
		stopAll:     cancel,
	}
}

// Stop cancels every running task and waits for executors to return.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.logger.Info("stopping task manager")
		m.stopAll()
		m.wg.Wait()
		m.logger.Info("task manager stopped")
	})
}

// RegisterExecutor registers a task executor for a specific task type.
func (m *Manager) RegisterExecutor(taskType string, executor Executor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executors[taskType] = executor
	m.logger.Debug("registered executor", zap.String("task_type", taskType))
}

// Submit submits a new task for background execution.
func (m *Manager) Submit(ctx context.Context, req *SubmitRequest) (*Task, error) {
	m.mu.RLock()
	executor, ok := m.executors[req.Type]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no executor registered for task type %q", req.Type)
	}
	if m.baseCtx.Err() != nil {
		return nil, errors.New("task manager is stopped")
	}

	now := m.now()
	task := &Task{
		ID:        uuid.New(),
		Type:      req.Type,
		Status:    StatusPending,
		Input:     req.Payload,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := m.repo.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = m.config.DefaultTimeout
	}
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(m.baseCtx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(m.baseCtx)
	}
	runCtx = requestctx.WithRequestID(runCtx, requestctx.RequestID(ctx))

	m.mu.Lock()
	m.cancels[task.ID] = cancel
	m.mu.Unlock()

	m.logger.Debug("task submitted",
		zap.String("task_id", task.ID.String()),
		zap.String("type", task.Type))

	m.wg.Add(1)
	go m.executeTask(runCtx, task.clone(), executor)

	return task, nil
}

// Get retrieves a task by ID.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*Task, error) {
	return m.repo.Get(ctx, id)
}

// List lists tasks.
func (m *Manager) List(ctx context.Context, filter *Filter) ([]*Task, error) {
	return m.repo.List(ctx, filter)
}

// Cancel cancels a pending or running task. The executor's context is
// cancelled and the task is marked cancelled immediately.
func (m *Manager) Cancel(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	task, err := m.repo.Get(ctx, id)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if task.IsTerminal() {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskTerminal, task.Status)
	}

	now := m.now()
	task.Status = StatusCancelled
	task.UpdatedAt = now
	task.CompletedAt = &now
	if err := m.repo.Update(ctx, task); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("update task: %w", err)
	}
	if cancel, ok := m.cancels[id]; ok {
		cancel()
	}
	m.mu.Unlock()

	m.logger.Debug("task cancelled", zap.String("task_id", id.String()))
	m.notifySubscribers(task)
	return nil
}

// Subscribe subscribes to task updates. Returns an unsubscribe function.
func (m *Manager) Subscribe(id uuid.UUID, callback func(*Task)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.subscribers[id] == nil {
		m.subscribers[id] = make(map[int]func(*Task))
	}
	subID := m.nextSubID
	m.nextSubID++
	m.subscribers[id][subID] = callback

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		delete(m.subscribers[id], subID)
		if len(m.subscribers[id]) == 0 {
			delete(m.subscribers, id)
		}
	}
}

// executeTask executes a task.
func (m *Manager) executeTask(ctx context.Context, task *Task, executor Executor) {
	defer m.wg.Done()
	defer m.release(task.ID)

	// Acquire semaphore
	select {
	case <-ctx.Done():
		m.finish(task, nil, ctx.Err())
		return
	case m.semaphore <- struct{}{}:
		defer func() { <-m.semaphore }()
	}

	m.metrics.TaskStarted()
	defer m.metrics.TaskFinished()

	if !m.transition(task, func(t *Task) { t.Status = StatusRunning }) {
		return
	}

	report := func(u Update) {
		m.transition(task, func(t *Task) {
			if u.Progress > t.Progress {
				t.Progress = u.Progress
			}
			if u.Stage != "" {
				t.Stage = u.Stage
			}
			t.Message = u.Message
			if u.JobID != "" {
				t.JobID = u.JobID
			}
		})
	}

	output, err := m.runExecutor(ctx, task, executor, report)
	m.finish(task, output, err)
}

func (m *Manager) runExecutor(ctx context.Context, task *Task, executor Executor, report func(Update)) (output any, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("task executor panicked",
				zap.String("task_id", task.ID.String()),
				zap.Any("panic", r),
				zap.Stack("stack"))
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return executor(ctx, task.clone(), report)
}

// finish records the executor outcome unless the task already ended.
func (m *Manager) finish(task *Task, output any, err error) {
	var code, message string
	if err != nil {
		code, message = m.classify(err)
	}

	done := m.transition(task, func(t *Task) {
		now := m.now()
		t.CompletedAt = &now
		if err != nil {
			t.Status = StatusFailed
			t.Error = &Error{Code: code, Message: message}
			return
		}
		t.Status = StatusCompleted
		t.Progress = 100
		t.Output = output
	})
	if !done {
		return
	}

	if err != nil {
		m.logger.Warn("task failed",
			zap.String("task_id", task.ID.String()),
			zap.String("code", code),
			zap.Error(err))
		return
	}
	m.logger.Debug("task completed", zap.String("task_id", task.ID.String()))
}

// transition applies fn to the stored task unless it is terminal and
// notifies subscribers. It reports whether the change was applied.
func (m *Manager) transition(task *Task, fn func(*Task)) bool {
	ctx := context.Background()

	m.mu.Lock()
	current, err := m.repo.Get(ctx, task.ID)
	if err != nil || current.IsTerminal() {
		m.mu.Unlock()
		return false
	}
	fn(current)
	current.UpdatedAt = m.now()
	if err := m.repo.Update(ctx, current); err != nil {
		m.mu.Unlock()
		m.logger.Error("failed to update task",
			zap.String("task_id", task.ID.String()),
			zap.Error(err))
		return false
	}
	m.mu.Unlock()

	m.notifySubscribers(current)
	return true
}

func (m *Manager) release(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.cancels[id]; ok {
		cancel()
		delete(m.cancels, id)
	}
}

// notifySubscribers notifies all subscribers of a task update.
func (m *Manager) notifySubscribers(task *Task) {
	m.mu.RLock()
	subs := make([]func(*Task), 0, len(m.subscribers[task.ID]))
	for _, sub := range m.subscribers[task.ID] {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	for _, sub := range subs {
		sub(task.clone())
	}
}
