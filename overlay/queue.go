package overlay

import "sync"

// queue is an unbounded FIFO of closures with a level-triggered ready
// signal. Producers never block, so DOM callbacks can post from any
// goroutine, including the loop itself.
type queue struct {
	mu    sync.Mutex
	items []func()
	ready chan struct{}
}

func newQueue() *queue {
	return &queue{ready: make(chan struct{}, 1)}
}

func (q *queue) push(fn func()) {
	q.mu.Lock()
	q.items = append(q.items, fn)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *queue) drain() []func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}
