package system

import (
	"sync"

	"github.com/wippyai/local-runtime/errors"
)

// QueueOptions configures queue creation.
type QueueOptions struct {
	// Name identifies the queue. Unique within one System.
	Name string
}

// Queue is a named FIFO holder of pending work items, exclusively owned by
// the System that created it. The coordinator itself never interprets
// enqueued items.
type Queue struct {
	opts QueueOptions

	mu     sync.Mutex
	items  []any
	closed bool
}

func newQueue(opts QueueOptions) *Queue {
	return &Queue{opts: opts}
}

// Name returns the queue's unique name.
func (q *Queue) Name() string {
	return q.opts.Name
}

// Options returns the options the queue was created with.
func (q *Queue) Options() QueueOptions {
	return q.opts
}

// Write appends an item. It fails once the owning System has shut the
// queue down.
func (q *Queue) Write(item any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.Lifecycle(errors.PhaseShutdown, "queue %q is closed", q.opts.Name)
	}
	q.items = append(q.items, item)
	return nil
}

// Read removes and returns the oldest item, reporting false when the queue
// is empty.
func (q *Queue) Read() (any, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	item := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return item, true
}

// Len returns the number of pending items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// close stops the queue and drops pending items. Called by the System
// during shutdown, after workers have been joined.
func (q *Queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.items = nil
}
