// Package localruntime provides the per-host coordinator of a local
// execution runtime.
//
// A single System object owns the compute devices of one host, the drivers
// backing them, the worker execution contexts that run work, the named work
// queues, and the table of inflight process ids. Everything else, device and
// driver implementations, queue consumers, the bytecode execution engine,
// is an opaque capability the System registers, starts, and eventually tears
// down in a safe order.
//
// # Architecture Overview
//
// The library is organized into a small set of packages:
//
//	localruntime/      Root package with the Driver and Device contracts
//	├── system/        The System coordinator: registries, lifecycle, shutdown
//	├── engine/        Execution-engine resource backed by wazero
//	├── errors/        Structured error types for coordinator failures
//	└── cmd/systat/    Interactive console over a live System
//
// # Quick Start
//
// Build a System in two phases. During the build phase, register drivers,
// devices and the node table; FinishInitialization freezes that state:
//
//	sys, err := system.New(ctx, system.Config{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	sys.InitializeNodes(1)
//	sys.InitializeDriver("hostcpu", cpuDriver)
//	sys.InitializeDevice(cpuDevice)
//	if err := sys.FinishInitialization(); err != nil {
//	    log.Fatal(err)
//	}
//
// While running, create workers and queues and track processes:
//
//	w, err := sys.CreateWorker(system.WorkerOptions{Name: "w0", OwnedThread: true})
//	q, err := sys.CreateQueue(system.QueueOptions{Name: "q0"})
//	pid := sys.AllocateProcess(proc)
//
// Finish with an explicit, idempotent shutdown:
//
//	if err := sys.Shutdown(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Shutdown stops workers cooperatively, joins owned worker threads, stops the
// shared blocking executor, closes the execution engine, and only then
// releases devices and drivers, in that order. Relying on garbage collection
// to shut a System down works but logs a warning; teardown ordering is only
// predictable on the explicit path.
//
// # Thread Safety
//
// System is safe for concurrent use, including calls made from its own worker
// threads. A single coordination lock guards the registries; no lock is held
// across initializer callbacks, thread starts, or joins.
package localruntime
