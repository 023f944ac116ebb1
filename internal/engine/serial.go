package engine

import "sync"

// Serial runs tasks one at a time in push order on its own goroutine.
// Push never blocks.
type Serial struct {
	mu     sync.Mutex
	tasks  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func NewSerial() *Serial {
	q := &Serial{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

// Push schedules f. It reports false once the queue is closed.
func (q *Serial) Push(f func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.tasks = append(q.tasks, f)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Close stops accepting tasks. Tasks already queued are dropped.
func (q *Serial) Close() {
	q.mu.Lock()
	q.closed = true
	q.tasks = nil
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Serial) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return
		}
		if len(q.tasks) == 0 {
			q.mu.Unlock()
			<-q.wake
			continue
		}
		f := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		f()
	}
}

// Done is closed once the worker goroutine has exited after Close.
func (q *Serial) Done() <-chan struct{} {
	return q.done
}
