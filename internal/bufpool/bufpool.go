// Package bufpool provides size-classed byte slices for file transfers.
//
// Copies between a remote file and a local stream go through the single
// dispatcher worker in chunks. Reusing the chunk buffers keeps large copies
// from churning the garbage collector.
package bufpool

import "sync"

const (
	// SmallSize fits a typical directory entry batch or a short text file.
	SmallSize = 4 << 10 // 4KB

	// MediumSize is the default chunk for interactive reads.
	MediumSize = 64 << 10 // 64KB

	// LargeSize is the chunk used for bulk copies.
	LargeSize = 1 << 20 // 1MB
)

// Pool hands out byte slices from three size classes. Requests above
// LargeSize are allocated directly and never pooled.
//
// The zero value is not usable; call New.
type Pool struct {
	small  sync.Pool
	medium sync.Pool
	large  sync.Pool
}

func sized(n int) sync.Pool {
	return sync.Pool{
		New: func() any {
			buf := make([]byte, n)
			return &buf
		},
	}
}

// New returns an empty Pool.
func New() *Pool {
	return &Pool{
		small:  sized(SmallSize),
		medium: sized(MediumSize),
		large:  sized(LargeSize),
	}
}

var global = New()

// Get returns a slice of length size. Its capacity may be larger.
// Return it with Put once done.
func (p *Pool) Get(size int) []byte {
	var bufPtr *[]byte

	switch {
	case size <= SmallSize:
		bufPtr = p.small.Get().(*[]byte)
	case size <= MediumSize:
		bufPtr = p.medium.Get().(*[]byte)
	case size <= LargeSize:
		bufPtr = p.large.Get().(*[]byte)
	default:
		return make([]byte, size)
	}

	buf := *bufPtr
	return buf[:size]
}

// Put returns buf to its size class. Slices that were not obtained from
// Get are dropped.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}

	full := buf[:cap(buf)]
	switch cap(buf) {
	case SmallSize:
		p.small.Put(&full)
	case MediumSize:
		p.medium.Put(&full)
	case LargeSize:
		p.large.Put(&full)
	}
}

// Get acquires a buffer from the process-wide pool.
func Get(size int) []byte {
	return global.Get(size)
}

// Put releases a buffer to the process-wide pool.
func Put(buf []byte) {
	global.Put(buf)
}
