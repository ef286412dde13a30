// Package system implements the per-host System coordinator.
//
// The System is the single authority for one execution host: it exclusively
// owns the host's drivers, devices, workers and queues, tracks inflight
// processes by id, and owns the execution-engine resource created at
// construction.
//
// # Lifecycle
//
// A System moves through three states:
//
//	building  → registration of drivers, devices and the node table
//	running   → after FinishInitialization; workers, queues, processes
//	shutdown  → terminal, entered exactly once by Shutdown
//
// Driver, device and node registration outside the build phase is a
// lifecycle violation reported at the call site. Worker and queue creation
// and process allocation are legal while building or running, and rejected
// once shutdown begins.
//
// # Locking discipline
//
// One coordination lock guards every mutable registry and the lifecycle
// state. The lock is never held across anything that can block or run user
// code: worker initializers, thread starts, kill signals, joins and the
// blocking-executor stop all operate on data extracted under the lock and
// run after it is released. Worker threads may therefore call back into the
// System (queue lookup, process allocation) without deadlock, even while
// another thread is mid-shutdown.
//
// # Shutdown ordering
//
// Shutdown is idempotent and sequenced by data dependency:
//
//	 1. detach workers from the registries (under the lock)
//	 2. kill all workers (cooperative signal, non-blocking)
//	 3. join every owned worker thread
//	 4. stop the shared blocking executor
//	 5. release the detached workers
//	 6. close the execution engine
//	 7. release devices
//	 8. release drivers
//
// Workers may use the engine while running, the engine and workers may
// reference devices, and drivers back devices; each step is therefore only
// safe once the previous ones have completed.
package system
