package system

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/local-runtime/errors"
)

// initWorkerName is reserved for the System's bootstrap worker.
const initWorkerName = "__init__"

// defaultTaskBacklog is the task channel depth when WorkerOptions does not
// specify one.
const defaultTaskBacklog = 64

// WorkerInitializer is invoked once against every newly created worker,
// after the worker is registered but before it is started. Initializers run
// without the System lock held, so they may call back into the System.
type WorkerInitializer func(*Worker) error

// WorkerOptions configures worker creation.
type WorkerOptions struct {
	// Name identifies the worker. Unique for the lifetime of the System.
	// The name "__init__" is reserved.
	Name string

	// OwnedThread runs the worker on its own goroutine, draining posted
	// tasks until killed. When false the worker is driven externally:
	// Post executes the task synchronously on the caller.
	OwnedThread bool

	// TaskBacklog is the depth of the task channel for owned workers.
	// 0 means defaultTaskBacklog.
	TaskBacklog int
}

// Worker is an execution context owned by a System. An owned worker runs a
// dedicated goroutine; an unowned worker borrows its caller's.
//
// Kill is a cooperative stop signal, not forced termination: a killed owned
// worker drains tasks already accepted and then exits, observed through
// WaitForShutdown.
type Worker struct {
	opts  WorkerOptions
	tasks chan func()
	kill  chan struct{}
	done  chan struct{}

	initDone chan struct{}
	initErr  error // written once, before initDone closes

	killOnce  sync.Once
	startOnce sync.Once
}

func newWorker(opts WorkerOptions) *Worker {
	backlog := opts.TaskBacklog
	if backlog <= 0 {
		backlog = defaultTaskBacklog
	}
	return &Worker{
		opts:     opts,
		tasks:    make(chan func(), backlog),
		kill:     make(chan struct{}),
		done:     make(chan struct{}),
		initDone: make(chan struct{}),
	}
}

// Name returns the worker's unique name.
func (w *Worker) Name() string {
	return w.opts.Name
}

// Options returns the options the worker was created with.
func (w *Worker) Options() WorkerOptions {
	return w.opts
}

// OwnsThread reports whether the worker runs a dedicated goroutine.
func (w *Worker) OwnsThread() bool {
	return w.opts.OwnedThread
}

// Post hands a task to the worker. For an owned worker it enqueues onto the
// run loop; for an unowned worker it executes fn inline. Post fails once the
// worker has been killed.
func (w *Worker) Post(fn func()) error {
	select {
	case <-w.kill:
		return errors.Lifecycle(errors.PhaseShutdown, "worker %q is stopped", w.opts.Name)
	default:
	}

	if !w.opts.OwnedThread {
		fn()
		return nil
	}

	select {
	case w.tasks <- fn:
		return nil
	case <-w.kill:
		return errors.Lifecycle(errors.PhaseShutdown, "worker %q is stopped", w.opts.Name)
	}
}

// start launches the run loop of an owned worker. The System calls this
// exactly once, after the worker's initializers have run.
func (w *Worker) start() {
	if !w.opts.OwnedThread {
		return
	}
	w.startOnce.Do(func() {
		logger().Debug("starting worker", zap.String("worker", w.opts.Name))
		go w.run()
	})
}

// abort marks a worker whose run loop will never start as terminated, so
// that WaitForShutdown does not block on it. The System calls this when the
// worker's initializers fail. Shares startOnce with start: whichever runs
// first wins, and done is closed exactly once either way.
func (w *Worker) abort() {
	w.startOnce.Do(func() {
		close(w.done)
	})
}

// completeInit publishes the outcome of the worker's initializer run.
// Called exactly once by the System, before the worker is handed to any
// other caller.
func (w *Worker) completeInit(err error) {
	w.initErr = err
	close(w.initDone)
}

// awaitInit blocks until the initializer run has completed and returns its
// outcome.
func (w *Worker) awaitInit() error {
	<-w.initDone
	return w.initErr
}

func (w *Worker) run() {
	defer close(w.done)
	for {
		select {
		case <-w.kill:
			// Drain tasks already accepted, then exit.
			for {
				select {
				case fn := <-w.tasks:
					fn()
				default:
					return
				}
			}
		case fn := <-w.tasks:
			fn()
		}
	}
}

// Kill signals the worker to stop. Non-blocking and idempotent; completion
// is observed via WaitForShutdown.
func (w *Worker) Kill() {
	w.killOnce.Do(func() {
		close(w.kill)
	})
}

// WaitForShutdown blocks until an owned worker's run loop has exited.
// Unowned workers have no dedicated thread, so the call returns immediately.
func (w *Worker) WaitForShutdown() {
	if !w.opts.OwnedThread {
		return
	}
	<-w.done
}
