package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
)

const (
	slotPending int32 = iota
	slotFulfilled
	slotAbandoned
)

// slot carries the result of one operation from the worker back to the
// goroutine waiting in Do.
//
// A slot is fulfilled exactly once. The waiter either receives the result or
// abandons the slot when its context ends first; an abandoned slot is handed
// back to the worker, which disposes of the result and releases the slot.
type slot struct {
	state atomic.Int32
	value any
	err   error
	done  chan struct{}
}

var slotPool = sync.Pool{
	New: func() any {
		return &slot{done: make(chan struct{}, 1)}
	},
}

func acquireSlot() *slot {
	s := slotPool.Get().(*slot)
	s.state.Store(slotPending)
	return s
}

func releaseSlot(s *slot) {
	s.value = nil
	s.err = nil
	slotPool.Put(s)
}

// fulfill stores the result and wakes the waiter. It returns false if the
// waiter already gave up, in which case the caller owns the slot and must
// release it.
func (s *slot) fulfill(value any, err error) bool {
	s.value = value
	s.err = err
	if !s.state.CompareAndSwap(slotPending, slotFulfilled) {
		return false
	}
	s.done <- struct{}{}
	return true
}

// wait blocks until the slot is fulfilled or ctx is done. The slot must not
// be touched after wait returns.
func (s *slot) wait(ctx context.Context) (any, error) {
	select {
	case <-s.done:
	case <-ctx.Done():
		if s.state.CompareAndSwap(slotPending, slotAbandoned) {
			return nil, ctx.Err()
		}
		// Fulfilled while we were giving up: the signal is on its way.
		<-s.done
	}

	value, err := s.value, s.err
	releaseSlot(s)
	return value, err
}
