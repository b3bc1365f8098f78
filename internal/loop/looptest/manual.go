// Package looptest provides a deterministic stand-in for the event loop.
package looptest

import "context"

// Manual queues async work until the test decides to run it. Work and its
// completion run on the calling goroutine.
type Manual struct {
	pending []func(ctx context.Context) func()
}

// Go queues work.
func (m *Manual) Go(work func(ctx context.Context) func()) {
	m.pending = append(m.pending, work)
}

// Pending returns the number of queued work items.
func (m *Manual) Pending() int {
	return len(m.pending)
}

// Flush runs queued work in order, including work queued by completions,
// until nothing is left.
func (m *Manual) Flush() {
	for len(m.pending) > 0 {
		m.RunAt(0)
	}
}

// RunAt runs the i-th queued work item and its completion, leaving the
// others queued. It lets tests complete work out of order.
func (m *Manual) RunAt(i int) {
	work := m.pending[i]
	m.pending = append(m.pending[:i:i], m.pending[i+1:]...)
	if done := work(context.Background()); done != nil {
		done()
	}
}

// Take removes the i-th queued work item and runs only its work half. The
// returned completion is applied later by the test, which lets it interleave
// state changes between an await and its completion.
func (m *Manual) Take(i int) func() {
	work := m.pending[i]
	m.pending = append(m.pending[:i:i], m.pending[i+1:]...)
	done := work(context.Background())
	if done == nil {
		return func() {}
	}
	return done
}
