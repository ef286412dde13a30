// Package engine provides the execution-engine resource of a host.
//
// The Engine wraps a wazero runtime and is deliberately small: the
// coordinator treats program bytecode as opaque, so the engine only creates
// the runtime (registering the built-in host capabilities as a construction
// side effect), compiles programs on request, and closes the runtime exactly
// once during shutdown.
//
// # Lifetime
//
// One Engine exists per System. It is created before any worker and closed
// only after every worker thread has been joined, because running workers
// may hold references into the runtime. Close is idempotent.
//
// # Thread Safety
//
// Engine is safe for concurrent use. The underlying wazero runtime is itself
// safe for concurrent compilation and instantiation.
package engine
