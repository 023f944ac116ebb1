// Package render owns the remote video sinks. Sinks are created, attached
// and released only on a render Context, a single goroutine that plays the
// role of a UI thread.
package render

import (
	"context"
	"sync"
)

// Context runs posted tasks one at a time on its own goroutine.
type Context interface {
	// Post schedules f. It reports false if the context no longer runs tasks.
	Post(f func()) bool
}

// Loop is a Context driven by Run.
type Loop struct {
	tasks chan func()
	done  chan struct{}
	once  sync.Once
}

// NewLoop returns a loop ready for Post; queued tasks run once Run
// starts.
func NewLoop() *Loop {
	return &Loop{
		tasks: make(chan func(), 64),
		done:  make(chan struct{}),
	}
}

// Run executes posted tasks on the calling goroutine until ctx is done.
func (l *Loop) Run(ctx context.Context) {
	defer l.once.Do(func() { close(l.done) })
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-l.tasks:
			f()
		}
	}
}

func (l *Loop) Post(f func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.tasks <- f:
		return true
	case <-l.done:
		return false
	}
}

// Inline runs tasks immediately on the caller's goroutine. For tests and for
// callers that already serialize access to the Surface.
type Inline struct{}

func (Inline) Post(f func()) bool {
	f()
	return true
}
