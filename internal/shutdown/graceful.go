package shutdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var ErrShutdownStarted = errors.New("cannot register task after shutdown has started")

// ShutdownTask is a function that performs cleanup during shutdown
type ShutdownTask func(ctx context.Context) error

// Manager tears a worker process down in stages: tasks run one after another
// in registration order, so a task may rely on every earlier one having
// finished (loop slots stop before the pools they submit to, pools before
// the store). All tasks share one deadline.
type Manager struct {
	ctx          context.Context
	cancel       context.CancelFunc
	timeout      time.Duration
	tasks        []namedTask
	tasksMu      sync.RWMutex
	shutdownOnce sync.Once
	shutdownDone chan struct{}
	errors       []error
	errorsMu     sync.Mutex
	shutdownFlag bool
	logger       *slog.Logger
}

type namedTask struct {
	name string
	task ShutdownTask
}

const DefaultTimeout = 30 * time.Second

// NewManager creates a new shutdown manager with default timeout
func NewManager(ctx context.Context) *Manager {
	return NewManagerWithTimeout(ctx, DefaultTimeout, nil)
}

// NewManagerWithTimeout creates a new shutdown manager with custom timeout
func NewManagerWithTimeout(ctx context.Context, timeout time.Duration, logger *slog.Logger) *Manager {
	shutdownCtx, cancel := context.WithCancel(ctx)

	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		ctx:          shutdownCtx,
		cancel:       cancel,
		timeout:      timeout,
		tasks:        make([]namedTask, 0),
		shutdownDone: make(chan struct{}),
		logger:       logger.With("component", "shutdown"),
	}
}

// RegisterTask appends a task to the teardown sequence
func (m *Manager) RegisterTask(name string, task ShutdownTask) error {
	m.tasksMu.Lock()
	defer m.tasksMu.Unlock()

	if m.shutdownFlag {
		return fmt.Errorf("%w: %s", ErrShutdownStarted, name)
	}

	m.tasks = append(m.tasks, namedTask{
		name: name,
		task: task,
	})
	return nil
}

// Shutdown runs the teardown sequence once and returns when it has finished
// or the timeout has passed. Later calls return immediately.
func (m *Manager) Shutdown() {
	m.shutdownOnce.Do(func() {
		m.tasksMu.Lock()
		m.shutdownFlag = true
		m.tasksMu.Unlock()

		m.executeTasks()

		// watchers of Context learn that teardown is over
		m.cancel()
		close(m.shutdownDone)
	})
}

func (m *Manager) executeTasks() {
	m.tasksMu.RLock()
	tasks := m.tasks
	m.tasksMu.RUnlock()

	if len(tasks) == 0 {
		return
	}

	// Tasks see the deadline but not an early cancellation: a pool asked to
	// shut down waits for its running units until the deadline.
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		current = -1
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i, nt := range tasks {
			mu.Lock()
			current = i
			mu.Unlock()

			start := time.Now()
			if err := nt.task(ctx); err != nil {
				m.recordError(fmt.Errorf("%s: %w", nt.name, err))
				m.logger.Warn("shutdown task failed", "task", nt.name, "error", err)
				continue
			}
			m.logger.Debug("shutdown task completed", "task", nt.name, "elapsed", time.Since(start))
		}
	}()

	select {
	case <-done:
		m.logger.Info("shutdown completed", "tasks_completed", len(tasks))
	case <-ctx.Done():
		mu.Lock()
		incomplete := []string{}
		for _, nt := range tasks[max(current, 0):] {
			incomplete = append(incomplete, nt.name)
		}
		mu.Unlock()
		m.logger.Warn("shutdown timeout exceeded",
			"timeout", m.timeout,
			"total_tasks", len(tasks),
			"incomplete_tasks", incomplete)
	}
}

func (m *Manager) recordError(err error) {
	m.errorsMu.Lock()
	defer m.errorsMu.Unlock()
	m.errors = append(m.errors, err)
}

// Wait blocks until shutdown is complete
func (m *Manager) Wait() {
	<-m.shutdownDone
}

// Context is cancelled once shutdown is complete
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Errors returns all errors collected during shutdown
func (m *Manager) Errors() []error {
	m.errorsMu.Lock()
	defer m.errorsMu.Unlock()

	errorsCopy := make([]error, len(m.errors))
	copy(errorsCopy, m.errors)
	return errorsCopy
}

// Err joins the collected errors.
func (m *Manager) Err() error {
	return errors.Join(m.Errors()...)
}
