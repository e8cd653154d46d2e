package engine

import (
	"sync"

	"github.com/roach88/ethbank/internal/ledger"
)

// result is the outcome delivered to a waiting caller.
type result struct {
	record ledger.TransferRecord
	err    error
}

// request is one validated send waiting for the Run loop.
type request struct {
	sender   ledger.Address
	receiver ledger.Address
	amount   ledger.Amount
	message  string

	// reply is buffered (size 1) so the Run loop never blocks on a caller.
	reply chan result
}

func newRequest(sender, receiver ledger.Address, amount ledger.Amount, message string) *request {
	return &request{
		sender:   sender,
		receiver: receiver,
		amount:   amount,
		message:  message,
		reply:    make(chan result, 1),
	}
}

// requestQueue is a thread-safe FIFO queue of pending requests.
//
// The queue is unbounded so callers never block on enqueue. Callers enqueue
// from any goroutine while the Engine's Run loop dequeues.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type requestQueue struct {
	mu       sync.Mutex
	requests []*request
	closed   bool
	signal   chan struct{} // Signals request availability (buffered, size 1)
}

func newRequestQueue() *requestQueue {
	return &requestQueue{
		requests: make([]*request, 0, 64),
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue adds a request to the back of the queue.
// Returns false if the queue is closed.
func (q *requestQueue) Enqueue(r *request) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.requests = append(q.requests, r)

	// Non-blocking: the buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front request without blocking.
// Returns (nil, false) if the queue is empty.
func (q *requestQueue) TryDequeue() (*request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.requests) == 0 {
		return nil, false
	}

	r := q.requests[0]

	// Nil out the slot so the backing array does not retain the request.
	q.requests[0] = nil

	if len(q.requests) == 1 {
		q.requests = q.requests[:0]
	} else {
		q.requests = q.requests[1:]
	}

	return r, true
}

// Wait returns a channel that signals when requests may be available.
// The channel is closed when the queue is closed.
func (q *requestQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *requestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.requests)
}

// Closed reports whether Close has been called.
func (q *requestQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close rejects further enqueues and wakes any waiter.
// Requests already queued remain available to TryDequeue.
func (q *requestQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}

// Drain closes the queue and removes every pending request.
func (q *requestQueue) Drain() []*request {
	q.Close()

	q.mu.Lock()
	defer q.mu.Unlock()

	pending := q.requests
	q.requests = nil
	return pending
}
