package dio

import (
	"context"
	"sync/atomic"
)

// Pool hands out a fixed set of aligned buffers. Get blocks once every
// buffer is checked out, so the pool bounds the memory a pipeline can hold.
type Pool struct {
	free        chan []byte
	size        int
	outstanding atomic.Int64
	peak        atomic.Int64
}

// NewPool allocates count buffers of size bytes at the given alignment
func NewPool(count, size, alignment int) (*Pool, error) {
	p := &Pool{
		free: make(chan []byte, count),
		size: size,
	}
	for i := 0; i < count; i++ {
		buf, err := Allocate(size, alignment)
		if err != nil {
			return nil, err
		}
		p.free <- buf
	}
	return p, nil
}

// Each calls fn once on every idle buffer. it must only be called before
// the pool is shared.
func (p *Pool) Each(fn func([]byte)) {
	n := len(p.free)
	for i := 0; i < n; i++ {
		buf := <-p.free
		fn(buf)
		p.free <- buf
	}
}

// Get checks out a full length buffer, waiting for one to be returned if
// necessary. it returns false if ctx is done first.
func (p *Pool) Get(ctx context.Context) ([]byte, bool) {
	select {
	case buf := <-p.free:
		n := p.outstanding.Add(1)
		for {
			peak := p.peak.Load()
			if n <= peak || p.peak.CompareAndSwap(peak, n) {
				break
			}
		}
		return buf[:p.size], true
	case <-ctx.Done():
		return nil, false
	}
}

// Put returns a buffer obtained from Get
func (p *Pool) Put(buf []byte) {
	p.outstanding.Add(-1)
	p.free <- buf[:cap(buf)]
}

// Cap returns the number of buffers owned by the pool
func (p *Pool) Cap() int {
	return cap(p.free)
}

// Peak returns the largest number of buffers checked out at once
func (p *Pool) Peak() int {
	return int(p.peak.Load())
}
