package pool

import "sync"

// queue is an unbounded FIFO of pending tasks shared by all workers. Every
// pushed task is popped by exactly one worker or handed back by close.
type queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*Task
	head   int
	closed bool
}

func newQueue() *queue {
	q := &queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push enqueues all tasks or none of them.
func (q *queue) push(tasks ...*Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrPoolClosed
	}
	q.items = append(q.items, tasks...)
	switch len(tasks) {
	case 0:
	case 1:
		q.cond.Signal()
	default:
		q.cond.Broadcast()
	}
	return nil
}

// pop blocks until a task is available. It returns false once the queue is
// closed.
func (q *queue) pop() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for !q.closed && q.head == len(q.items) {
		q.cond.Wait()
	}
	if q.closed {
		return nil, false
	}
	t := q.items[q.head]
	q.items[q.head] = nil
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 > len(q.items) {
		// Compact once the consumed prefix dominates the backing array.
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return t, true
}

// close rejects further pushes, wakes every waiting worker and returns the
// tasks nobody dequeued. Only the first call returns tasks.
func (q *queue) close() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	pending := append([]*Task(nil), q.items[q.head:]...)
	q.items = nil
	q.head = 0
	q.cond.Broadcast()
	return pending
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}
