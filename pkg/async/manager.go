package async

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/killallgit/converse/pkg/logger"
)

// ErrClosed is returned by Go after the manager has been closed
var ErrClosed = errors.New("async manager closed")

// Task is a handle on one background operation
type Task struct {
	ID          string
	Type        string
	Description string
	StartTime   time.Time

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Done is closed when the task has finished
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes or ctx ends
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the task result; it is only meaningful after Done
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Cancel asks the task to stop by cancelling its context
func (t *Task) Cancel() {
	t.cancel()
}

// Manager runs operations off the caller's goroutine and keeps track of
// them so they can be cancelled or awaited as a group.
type Manager struct {
	operations map[string]*Task
	mutex      sync.Mutex
	wg         sync.WaitGroup
	log        *logger.Logger
	counter    atomic.Uint64
	closed     bool
	root       context.Context
	stop       context.CancelFunc
}

// NewManager creates a new async operations manager
func NewManager() *Manager {
	root, stop := context.WithCancel(context.Background())
	return &Manager{
		operations: make(map[string]*Task),
		log:        logger.WithComponent("async_manager"),
		root:       root,
		stop:       stop,
	}
}

// Go starts fn on its own goroutine. The context passed to fn is cancelled
// by Task.Cancel, by Close, or when ctx itself ends.
func (m *Manager) Go(ctx context.Context, taskType, description string, fn func(ctx context.Context) error) (*Task, error) {
	m.mutex.Lock()
	if m.closed {
		m.mutex.Unlock()
		return nil, ErrClosed
	}

	taskCtx, cancel := context.WithCancel(ctx)
	stopOnClose := context.AfterFunc(m.root, cancel)

	task := &Task{
		ID:          fmt.Sprintf("%s_%d", taskType, m.counter.Add(1)),
		Type:        taskType,
		Description: description,
		StartTime:   time.Now(),
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	m.operations[task.ID] = task
	m.wg.Add(1)
	m.mutex.Unlock()

	m.log.Debug("Operation %s started: %s", task.ID, description)

	go func() {
		defer m.wg.Done()
		defer stopOnClose()
		defer cancel()

		task.err = m.run(taskCtx, task, fn)

		switch {
		case task.err == nil:
			m.log.Debug("Operation %s completed in %s", task.ID, time.Since(task.StartTime))
		case errors.Is(task.err, context.Canceled):
			m.log.Debug("Operation %s cancelled", task.ID)
		default:
			m.log.Warn("Operation %s failed: %v", task.ID, task.err)
		}

		m.mutex.Lock()
		delete(m.operations, task.ID)
		m.mutex.Unlock()
		close(task.done)
	}()

	return task, nil
}

func (m *Manager) run(ctx context.Context, task *Task, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("Operation %s panicked: %v", task.ID, r)
			err = fmt.Errorf("operation %s panicked: %v", task.ID, r)
		}
	}()
	return fn(ctx)
}

// Cancel cancels an operation by ID
func (m *Manager) Cancel(operationID string) bool {
	m.mutex.Lock()
	task, exists := m.operations[operationID]
	m.mutex.Unlock()

	if !exists {
		return false
	}
	task.Cancel()
	return true
}

// Running returns the number of operations still in flight
func (m *Manager) Running() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.operations)
}

// Wait blocks until every started operation has finished or ctx ends
func (m *Manager) Wait(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels all pending operations, refuses new ones and waits for the
// running ones to return.
func (m *Manager) Close() {
	m.mutex.Lock()
	if m.closed {
		m.mutex.Unlock()
		return
	}
	m.closed = true
	m.mutex.Unlock()

	m.log.Debug("Shutting down async manager")
	m.stop()
	m.wg.Wait()
}
