// Package loop runs all tab state work on a single goroutine. Blocking
// browser, network and storage calls run elsewhere and post their
// completions back onto the loop.
package loop

import (
	"context"
	"sync"
)

// Loop executes posted functions one at a time, in the order they were posted.
type Loop struct {
	ctx   context.Context
	tasks chan func()
	wg    sync.WaitGroup
}

// New returns a loop bound to ctx. size is the task queue capacity.
func New(ctx context.Context, size int) *Loop {
	return &Loop{
		ctx:   ctx,
		tasks: make(chan func(), size),
	}
}

// Post enqueues fn. It blocks while the queue is full and reports false if
// the loop's context ended first.
func (l *Loop) Post(fn func()) bool {
	select {
	case l.tasks <- fn:
		return true
	case <-l.ctx.Done():
		return false
	}
}

// Go runs work on its own goroutine and posts the function it returns, if
// any, back onto the loop.
func (l *Loop) Go(work func(ctx context.Context) func()) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		done := work(l.ctx)
		if done != nil {
			l.Post(done)
		}
	}()
}

// Run processes tasks until the context ends.
func (l *Loop) Run() error {
	for {
		select {
		case fn := <-l.tasks:
			fn()
		case <-l.ctx.Done():
			return l.ctx.Err()
		}
	}
}

// Wait blocks until every goroutine started by Go has returned.
func (l *Loop) Wait() {
	l.wg.Wait()
}
