// Package pipeline decouples data generation or network receipt from disk
// writes through a bounded queue. a full queue suspends producers, which
// is the only thing standing between a slow disk and unbounded memory.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrChannelClosed is returned by Send once the queue is shutting down.
// producers treat it as a signal to exit, not as a failure.
var ErrChannelClosed = errors.New("pipeline: channel closed")

// Chunk is the unit flowing through a Queue
type Chunk struct {
	// file offset the payload belongs at
	Offset int64

	// bytes to write; owned by the receiver once sent
	Payload []byte
}

// Queue is a bounded FIFO of chunks with a capacity fixed at creation
type Queue struct {
	ch        chan Chunk
	done      chan struct{}
	closeOnce sync.Once
	abortOnce sync.Once
	highWater atomic.Int64
}

// NewQueue creates a queue holding at most capacity unconsumed chunks
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		ch:   make(chan Chunk, capacity),
		done: make(chan struct{}),
	}
}

// Send enqueues c, suspending while the queue is full. it returns
// ErrChannelClosed if the queue is aborted or ctx ends first. Send must
// not be called after Close.
func (q *Queue) Send(ctx context.Context, c Chunk) error {
	// refuse early once aborted so a free slot doesn't win the select
	select {
	case <-q.done:
		return ErrChannelClosed
	default:
	}

	select {
	case q.ch <- c:
		q.observe(int64(len(q.ch)))
		return nil
	case <-q.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ErrChannelClosed
	}
}

// Recv dequeues the next chunk, suspending while the queue is empty. ok is
// false once the queue is closed and drained, aborted, or ctx ends.
func (q *Queue) Recv(ctx context.Context) (c Chunk, ok bool) {
	select {
	case c, ok = <-q.ch:
		return c, ok
	case <-q.done:
		return Chunk{}, false
	case <-ctx.Done():
		return Chunk{}, false
	}
}

// Close closes the send side. chunks already queued remain available to
// Recv, so nothing enqueued before Close is lost.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.ch) })
}

// Abort releases every blocked Send and Recv. queued chunks are dropped.
func (q *Queue) Abort() {
	q.abortOnce.Do(func() { close(q.done) })
}

// Cap returns the fixed capacity
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Len returns the number of unconsumed chunks
func (q *Queue) Len() int {
	return len(q.ch)
}

// HighWater returns the largest occupancy observed right after a send
func (q *Queue) HighWater() int {
	return int(q.highWater.Load())
}

func (q *Queue) observe(n int64) {
	for {
		hw := q.highWater.Load()
		if n <= hw || q.highWater.CompareAndSwap(hw, n) {
			return
		}
	}
}
