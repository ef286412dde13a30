package engine

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/wippyai/local-runtime/errors"
)

// Engine is the single heavyweight execution resource of a host. It wraps a
// wazero runtime that is created once, at System construction, and closed
// once, during shutdown, after every worker that may have used it has been
// joined. All other components hold non-owning references while it is alive.
type Engine struct {
	runtime wazero.Runtime
	mu      sync.Mutex
	closed  bool
}

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	// 256 = 16MB, 1024 = 64MB, 4096 = 256MB
	MemoryLimitPages uint32

	// EnableThreads enables the WebAssembly threads proposal (experimental).
	EnableThreads bool
}

// New creates the engine and registers the built-in host capabilities that
// loaded programs are allowed to import.
func New(ctx context.Context) (*Engine, error) {
	return NewWithConfig(ctx, nil)
}

// NewWithConfig creates an engine with custom configuration
func NewWithConfig(ctx context.Context, cfg *Config) (*Engine, error) {
	runtimeCfg := wazero.NewRuntimeConfig()

	if cfg != nil {
		if cfg.MemoryLimitPages > 0 {
			runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
		}
		if cfg.EnableThreads {
			runtimeCfg = runtimeCfg.WithCoreFeatures(api.CoreFeaturesV2 | experimental.CoreFeaturesThreads)
		}
	}

	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		_ = runtime.Close(ctx)
		return nil, errors.Engine(errors.PhaseBuild, "register builtin host modules", err)
	}

	return &Engine{runtime: runtime}, nil
}

// LoadProgram compiles an opaque bytecode program for later instantiation by
// workers. The engine does not interpret the program beyond validation.
func (e *Engine) LoadProgram(ctx context.Context, program []byte) (wazero.CompiledModule, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, errors.Lifecycle(errors.PhaseShutdown, "cannot load a program on a closed engine")
	}
	e.mu.Unlock()

	compiled, err := e.runtime.CompileModule(ctx, program)
	if err != nil {
		return nil, errors.Engine(errors.PhaseRun, "compile program", err)
	}
	return compiled, nil
}

// Runtime exposes the underlying wazero runtime to collaborators that need
// direct instantiation control. The caller must not close it.
func (e *Engine) Runtime() wazero.Runtime {
	return e.runtime
}

// Close releases the engine. Idempotent; the second and later calls return
// nil without touching the runtime again.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	Logger().Debug("closing execution engine")
	if err := e.runtime.Close(ctx); err != nil {
		return errors.Engine(errors.PhaseShutdown, "close engine runtime", err)
	}
	return nil
}

// Closed reports whether Close has run.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
