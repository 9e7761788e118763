package command

import "sync"

// commandQueue is a thread-safe FIFO queue of pending commands.
//
// The queue is unbounded so tools may enqueue freely while a long
// interactive command holds the executor.
//
// Thread-safety is provided for external submission (UI handlers, the
// scenario harness) while the executor's Run loop dequeues. The queue
// uses a channel for signaling to enable context-aware waiting in the
// Run loop.
type commandQueue struct {
	mu      sync.Mutex
	pending []*Handle
	closed  bool
	signal  chan struct{} // buffered size 1, coalesces signals
}

func newCommandQueue() *commandQueue {
	return &commandQueue{
		pending: make([]*Handle, 0, 8),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue adds a handle to the back of the queue.
// Returns false if the queue is closed.
func (q *commandQueue) Enqueue(h *Handle) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.pending = append(q.pending, h)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue attempts to dequeue without blocking.
func (q *commandQueue) TryDequeue() (*Handle, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil, false
	}
	h := q.pending[0]

	// Nil out the slot so the backing array does not retain the handle.
	q.pending[0] = nil
	if len(q.pending) == 1 {
		q.pending = q.pending[:0]
	} else {
		q.pending = q.pending[1:]
	}
	return h, true
}

// Wait returns the signal channel for select-based waiting. The channel
// closes when the queue closes, waking all waiters.
func (q *commandQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of pending commands.
func (q *commandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops accepting submissions and wakes waiters.
func (q *commandQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// drain removes and returns all still-pending handles.
func (q *commandQueue) drain() []*Handle {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.pending
	q.pending = nil
	return out
}
