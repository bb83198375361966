// Package task deduplicates background refreshes per resource.
//
// At most one task runs per key. A request for a key that already has a
// running task does not queue anything: the caller gets the running task's
// handle and decides whether to wait on it. Once a task finishes its key is
// free again.
//
// Tasks run on the manager's own context, not the requester's. A caller that
// gives up only stops waiting; the task carries on, since the native call it
// is blocked in would keep the dispatcher busy anyway.
package task

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittosmb/internal/logger"
	"github.com/marmos91/dittosmb/pkg/smburi"
)

// ErrClosed is returned for tasks requested after Close.
var ErrClosed = errors.New("task: manager closed")

// Func is the body of a task. ctx is cancelled only when the manager closes.
type Func func(ctx context.Context) error

// Handle tracks one task.
type Handle struct {
	key  smburi.ID
	done chan struct{}
	err  error
}

func newHandle(key smburi.ID) *Handle {
	return &Handle{key: key, done: make(chan struct{})}
}

func (h *Handle) finish(err error) {
	h.err = err
	close(h.done)
}

// Key returns the key the task was registered under.
func (h *Handle) Key() smburi.ID { return h.key }

// Done is closed when the task has finished.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the task's result. It is nil while the task is running.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the task finishes or ctx ends. Cancelling ctx does not
// cancel the task.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Manager runs at most one task per key.
//
// Thread Safety: Safe for concurrent use.
type Manager struct {
	tasks sync.Map // smburi.ID -> *Handle

	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	running atomic.Int64

	metrics Metrics
}

// Option configures a Manager.
type Option func(*Manager)

func WithMetrics(m Metrics) Option {
	return func(mgr *Manager) {
		if m != nil {
			mgr.metrics = m
		}
	}
}

// New creates a Manager.
func New(opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{ctx: ctx, cancel: cancel, metrics: noopMetrics{}}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RunOrJoin starts fn under key unless a task for key is already running.
// It returns the handle of the task now responsible for key and whether this
// call started it. A joined caller's fn is dropped.
func (m *Manager) RunOrJoin(key smburi.ID, fn Func) (*Handle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h := newHandle(key)
	if m.closed {
		h.finish(ErrClosed)
		return h, false
	}

	if existing, loaded := m.tasks.LoadOrStore(key, h); loaded {
		logger.Debug("Task for %s already running, joining it", key)
		m.metrics.RecordJoined()
		return existing.(*Handle), false
	}

	m.wg.Add(1)
	m.running.Add(1)
	m.metrics.RecordStarted()
	go m.run(h, fn)
	return h, true
}

func (m *Manager) run(h *Handle, fn Func) {
	defer m.wg.Done()

	start := time.Now()
	err := m.invoke(h.key, fn)

	// Free the key before waking waiters so that they can start a new task.
	m.tasks.CompareAndDelete(h.key, h)
	m.running.Add(-1)
	h.finish(err)

	status := "success"
	if err != nil {
		status = "error"
		logger.Debug("Task for %s failed: %v", h.key, err)
	}
	m.metrics.RecordFinished(status, time.Since(start))
}

func (m *Manager) invoke(key smburi.ID, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Task for %s panicked: %v\n%s", key, r, debug.Stack())
			err = fmt.Errorf("task %s panicked: %v", key, r)
		}
	}()
	return fn(m.ctx)
}

// Running reports whether a task is registered under key.
func (m *Manager) Running(key smburi.ID) bool {
	_, ok := m.tasks.Load(key)
	return ok
}

// Len returns the number of running tasks.
func (m *Manager) Len() int { return int(m.running.Load()) }

// Close cancels the context of running tasks and waits for them to return,
// or for ctx to end.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Debug("Task manager stopped")
		return nil
	case <-ctx.Done():
		logger.Warn("Task manager shutdown timeout with %d tasks running", m.Len())
		return ctx.Err()
	}
}
