package system

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/wippyai/local-runtime/errors"
)

// defaultBlockingConcurrency bounds the shared blocking executor when the
// System config does not specify a limit.
const defaultBlockingConcurrency = 8

// blockingExecutor is the System's shared pool for work that may block and
// therefore must not occupy a worker run loop. It is stopped during
// shutdown, after workers have been joined.
type blockingExecutor struct {
	group errgroup.Group

	mu         sync.Mutex
	killed     bool
	submitting sync.WaitGroup
}

func newBlockingExecutor(limit int) *blockingExecutor {
	if limit <= 0 {
		limit = defaultBlockingConcurrency
	}
	e := &blockingExecutor{}
	e.group.SetLimit(limit)
	return e
}

// submit schedules fn on the pool, blocking while the pool is at its
// concurrency limit. Only the intake decision happens under the lock; the
// enqueue itself does not, so a submitter waiting for a free slot never
// holds up other submitters or kill. A task must not submit and then wait
// for its submission to run: on a saturated pool that waits for its own
// slot.
func (e *blockingExecutor) submit(fn func()) error {
	e.mu.Lock()
	if e.killed {
		e.mu.Unlock()
		return errors.Lifecycle(errors.PhaseShutdown, "blocking executor is stopped")
	}
	e.submitting.Add(1)
	e.mu.Unlock()

	e.group.Go(func() error {
		fn()
		return nil
	})
	e.submitting.Done()
	return nil
}

// kill stops intake and waits for inflight tasks to finish. Submissions
// admitted before the kill are still run to completion; submitting counts
// them, so the group sees every enqueue before Wait begins.
func (e *blockingExecutor) kill() {
	e.mu.Lock()
	if e.killed {
		e.mu.Unlock()
		return
	}
	e.killed = true
	e.mu.Unlock()

	e.submitting.Wait()
	_ = e.group.Wait()
}
