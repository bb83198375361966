// Package dispatch serializes every call to a native.Client onto a single
// goroutine locked to its OS thread.
//
// The native SMB handle is blocking and not thread-safe, yet the provider is
// called from many goroutines. The Dispatcher owns the handle: callers submit
// an Operation, block on a pooled result slot, and the worker executes the
// operations one at a time in submission order.
//
// Typical use goes through the facade package, which wraps Do in typed
// methods:
//
//	d := dispatch.New(client, dispatch.WithQueueSize(64))
//	defer d.Close()
//	st, err := facade.New(d).Stat(ctx, id)
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/marmos91/dittosmb/internal/logger"
	"github.com/marmos91/dittosmb/pkg/native"
)

// ErrClosed is returned for operations submitted to, or still queued in, a
// closed Dispatcher.
var ErrClosed = errors.New("dispatch: dispatcher closed")

// DefaultQueueSize is the queue depth used when none is configured.
const DefaultQueueSize = 64

type request struct {
	op       Operation
	slot     *slot
	enqueued time.Time
}

// Dispatcher runs operations against a native.Client on one worker.
//
// Thread safety:
// All methods are safe for concurrent use.
type Dispatcher struct {
	client  native.Client
	metrics Metrics

	queue chan request
	quit  chan struct{}
	done  chan struct{}

	// mu orders submissions against Close: senders hold the read lock while
	// enqueueing, Close takes the write lock before flipping closed.
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithQueueSize sets the submission queue depth. Values below one select an
// unbuffered queue.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n < 0 {
			n = 0
		}
		d.queue = make(chan request, n)
	}
}

// WithMetrics installs a metrics sink. A nil value keeps the no-op sink.
func WithMetrics(m Metrics) Option {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// New starts the worker. The Dispatcher takes ownership of client; it is
// closed by Close.
func New(client native.Client, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		client:  client,
		metrics: noopMetrics{},
		queue:   make(chan request, DefaultQueueSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}

	go d.run()
	logger.Debug("Dispatcher started (queue size %d)", cap(d.queue))
	return d
}

// Do submits op and blocks until the worker has executed it.
//
// If ctx ends first, Do returns ctx.Err(). The operation still runs to
// completion on the worker; a result implementing io.Closer is closed there
// since nobody will receive it.
func (d *Dispatcher) Do(ctx context.Context, op Operation) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := acquireSlot()
	req := request{op: op, slot: s, enqueued: time.Now()}

	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		releaseSlot(s)
		return nil, ErrClosed
	}
	select {
	case d.queue <- req:
	case <-ctx.Done():
		d.mu.RUnlock()
		releaseSlot(s)
		return nil, ctx.Err()
	}
	d.mu.RUnlock()

	d.metrics.RecordQueueDepth(len(d.queue))
	return s.wait(ctx)
}

// Reset asks the native client to drop its sessions, e.g. after a network
// change. Queued operations ahead of the reset run on the old sessions.
func (d *Dispatcher) Reset(ctx context.Context) error {
	_, err := d.Do(ctx, ResetOp{})
	return err
}

// Pending returns the number of queued operations.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

// Closed reports whether Close has been called.
func (d *Dispatcher) Closed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.closed
}

// Close stops accepting operations, fails the queued ones with ErrClosed,
// waits for the worker to exit and closes the native client. It is safe to
// call more than once.
func (d *Dispatcher) Close() error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.quit)
	})
	<-d.done
	return nil
}

func (d *Dispatcher) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(d.done)

	for {
		// Close wins over queued work.
		select {
		case <-d.quit:
			d.shutdown()
			return
		default:
		}

		select {
		case req := <-d.queue:
			d.execute(req)
		case <-d.quit:
			d.shutdown()
			return
		}
	}
}

func (d *Dispatcher) shutdown() {
	failed := 0
	for {
		select {
		case req := <-d.queue:
			d.deliver(req, nil, ErrClosed)
			failed++
		default:
			if err := d.client.Close(); err != nil {
				logger.Warn("Dispatcher: closing native client: %v", err)
			}
			logger.Debug("Dispatcher stopped (%d queued operations failed)", failed)
			return
		}
	}
}

func (d *Dispatcher) execute(req request) {
	kind := req.op.Kind().String()
	d.metrics.ObserveQueueWait(time.Since(req.enqueued))

	start := time.Now()
	value, err := d.invoke(req.op)
	d.metrics.ObserveOperation(kind, statusOf(err), time.Since(start))

	d.deliver(req, value, err)
}

// deliver fulfills the request slot, disposing of the result when the
// caller is gone.
func (d *Dispatcher) deliver(req request, value any, err error) {
	if req.slot.fulfill(value, err) {
		return
	}

	kind := req.op.Kind().String()
	d.metrics.RecordAbandoned(kind)
	if c, ok := value.(io.Closer); ok && err == nil {
		if cerr := c.Close(); cerr != nil {
			logger.Debug("Dispatcher: closing abandoned %s result for %s: %v", kind, req.op.Target(), cerr)
		}
	}
	releaseSlot(req.slot)
}

// invoke runs op, converting a panic into a logic-class error so the worker
// keeps draining the queue.
func (d *Dispatcher) invoke(op Operation) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			kind := op.Kind().String()
			d.metrics.RecordPanic(kind)
			logger.Error("Dispatcher: panic in %s(%s): %v", kind, op.Target(), r)
			value = nil
			err = native.NewError(native.ErrInternal, kind, op.Target(),
				fmt.Errorf("panic: %v\n%s", r, debug.Stack()))
		}
	}()
	return op.execute(d.client)
}

func statusOf(err error) string {
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return "success"
	case native.IsLogic(err):
		return "logic_error"
	default:
		return "io_error"
	}
}
