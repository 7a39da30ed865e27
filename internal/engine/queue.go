package engine

import "sync"

// actionQueue is a thread-safe FIFO queue of actions.
//
// The queue is unbounded so an action may enqueue follow-ups without
// blocking the loop that runs it.
//
// The signal channel enables context-aware waiting in the Run loop.
type actionQueue struct {
	mu      sync.Mutex
	actions []Action
	closed  bool
	signal  chan struct{} // buffered, size 1
}

func newActionQueue() *actionQueue {
	return &actionQueue{
		actions: make([]Action, 0, 16),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue adds an action to the back of the queue.
// Returns false if the queue is closed.
func (q *actionQueue) Enqueue(a Action) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.actions = append(q.actions, a)

	// Non-blocking: the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front action without blocking.
// Returns (Action{}, false) if the queue is empty.
func (q *actionQueue) TryDequeue() (Action, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.actions) == 0 {
		return Action{}, false
	}

	a := q.actions[0]
	// Release the closure held by the slot.
	q.actions[0] = Action{}
	if len(q.actions) == 1 {
		q.actions = q.actions[:0]
	} else {
		q.actions = q.actions[1:]
	}

	return a, true
}

// Wait returns a channel that signals when actions may be available. It is
// closed by Close.
func (q *actionQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *actionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}

// Closed reports whether Close has been called.
func (q *actionQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close signals that no more actions will be enqueued and wakes the loop.
func (q *actionQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
