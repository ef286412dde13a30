package system

import (
	"context"
	"runtime"
	"sort"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	localruntime "github.com/wippyai/local-runtime"
	"github.com/wippyai/local-runtime/engine"
	"github.com/wippyai/local-runtime/errors"
)

// State is the System's lifecycle state.
type State int32

const (
	// StateBuilding accepts driver, device and node registration.
	StateBuilding State = iota
	// StateRunning accepts operational calls: queues, workers, processes.
	StateRunning
	// StateShutDown is terminal.
	StateShutDown
)

// String returns the state's name.
func (s State) String() string {
	switch s {
	case StateBuilding:
		return "building"
	case StateRunning:
		return "running"
	case StateShutDown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Config configures System construction.
type Config struct {
	// Engine configures the execution engine created with the System.
	// nil selects engine defaults.
	Engine *engine.Config

	// BlockingConcurrency caps the shared blocking executor.
	// 0 selects the default limit.
	BlockingConcurrency int
}

// System is the per-host coordinator of the local execution runtime. It
// exclusively owns the host's drivers, devices, workers and queues, holds
// non-owning references to inflight processes, and owns the single
// execution-engine resource.
//
// A System is built in two phases: registration calls populate drivers,
// devices and the node table until FinishInitialization freezes them; the
// running System then creates workers and queues on demand until Shutdown.
//
// One coordination lock guards all mutable state. The lock is only ever
// held for short map and flag operations; initializer callbacks, thread
// starts, kill signals and joins all run outside it so that worker threads
// may call back into the System without deadlocking.
type System struct {
	engine   *engine.Engine
	executor *blockingExecutor

	mu    sync.Mutex
	state State

	nodes []Node

	drivers      map[string]localruntime.Driver
	devices      []localruntime.Device
	namedDevices map[string]localruntime.Device

	queues map[string]*Queue

	workers            []*Worker
	workersByName      map[string]*Worker
	workerInitializers []WorkerInitializer

	nextPID        int64
	processesByPID map[int64]any
}

// New constructs a System, creating its execution-engine resource as a side
// effect. The System starts in the build phase.
func New(ctx context.Context, cfg Config) (*System, error) {
	eng, err := engine.NewWithConfig(ctx, cfg.Engine)
	if err != nil {
		return nil, err
	}

	s := &System{
		engine:         eng,
		executor:       newBlockingExecutor(cfg.BlockingConcurrency),
		state:          StateBuilding,
		drivers:        make(map[string]localruntime.Driver),
		namedDevices:   make(map[string]localruntime.Device),
		queues:         make(map[string]*Queue),
		workersByName:  make(map[string]*Worker),
		nextPID:        1,
		processesByPID: make(map[int64]any),
	}

	// Explicit Shutdown is required for predictable teardown ordering; the
	// finalizer is a diagnostic safety net, not the supported path.
	runtime.SetFinalizer(s, finalizeSystem)
	return s, nil
}

func finalizeSystem(s *System) {
	s.mu.Lock()
	needsShutdown := s.state != StateShutDown
	s.mu.Unlock()
	if !needsShutdown {
		return
	}
	logger().Warn("implicit Shutdown from System finalizer; call Shutdown explicitly for maximum stability")
	_ = s.Shutdown(context.Background())
}

// assertBuildingLocked reports a lifecycle violation unless the System is
// still in the build phase. Callers hold s.mu.
func (s *System) assertBuildingLocked(op string) error {
	switch s.state {
	case StateBuilding:
		return nil
	case StateRunning:
		return errors.Lifecycle(errors.PhaseRun, "%s requires the build phase (initialization already finished)", op)
	default:
		return errors.Lifecycle(errors.PhaseShutdown, "%s requires the build phase (system is shut down)", op)
	}
}

// assertNotShutDownLocked reports a lifecycle violation once shutdown has
// begun. Callers hold s.mu.
func (s *System) assertNotShutDownLocked(op string) error {
	if s.state == StateShutDown {
		return errors.Lifecycle(errors.PhaseShutdown, "%s is not available after shutdown", op)
	}
	return nil
}

// State returns the current lifecycle state.
func (s *System) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Engine returns the System's execution-engine resource. The caller must
// not close it; the System does so during shutdown.
func (s *System) Engine() *engine.Engine {
	return s.engine
}

// InitializeDriver registers a driver under its moniker, taking exclusive
// ownership. Build phase only; duplicate monikers are rejected and leave
// the existing registration untouched.
func (s *System) InitializeDriver(moniker string, driver localruntime.Driver) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.assertBuildingLocked("driver registration"); err != nil {
		return err
	}
	if _, exists := s.drivers[moniker]; exists {
		return errors.Duplicate(errors.PhaseBuild, "driver", moniker)
	}
	s.drivers[moniker] = driver
	return nil
}

// Driver looks up a registered driver by moniker.
func (s *System) Driver(moniker string) (localruntime.Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	driver, ok := s.drivers[moniker]
	if !ok {
		return nil, errors.NotFound("driver", moniker)
	}
	return driver, nil
}

// DriverMonikers returns the registered driver monikers, sorted.
func (s *System) DriverMonikers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	monikers := make([]string, 0, len(s.drivers))
	for moniker := range s.drivers {
		monikers = append(monikers, moniker)
	}
	sort.Strings(monikers)
	return monikers
}

// InitializeDevice registers a device, taking exclusive ownership. The
// device is retained both in the ordered device list and in the name index;
// both point at the same object. Build phase only; duplicate names are
// rejected and leave the existing registration untouched.
func (s *System) InitializeDevice(device localruntime.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.assertBuildingLocked("device registration"); err != nil {
		return err
	}
	name := device.Name()
	if _, exists := s.namedDevices[name]; exists {
		return errors.Duplicate(errors.PhaseBuild, "device", name)
	}
	s.namedDevices[name] = device
	s.devices = append(s.devices, device)
	return nil
}

// Devices returns the registered devices in registration order.
func (s *System) Devices() []localruntime.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	devices := make([]localruntime.Device, len(s.devices))
	copy(devices, s.devices)
	return devices
}

// NamedDevice looks up a registered device by name.
func (s *System) NamedDevice(name string) (localruntime.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	device, ok := s.namedDevices[name]
	if !ok {
		return nil, errors.NotFound("device", name)
	}
	return device, nil
}

// FinishInitialization freezes the build-phase state and transitions the
// System to running. Callable exactly once.
func (s *System) FinishInitialization() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.assertBuildingLocked("FinishInitialization"); err != nil {
		return err
	}
	s.state = StateRunning
	return nil
}

// CreateQueue allocates and registers a queue under its name.
func (s *System) CreateQueue(opts QueueOptions) (*Queue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.assertNotShutDownLocked("queue creation"); err != nil {
		return nil, err
	}
	if _, exists := s.queues[opts.Name]; exists {
		return nil, errors.Duplicate(errors.PhaseRun, "queue", opts.Name)
	}
	queue := newQueue(opts)
	s.queues[opts.Name] = queue
	return queue, nil
}

// NamedQueue looks up a queue by name.
func (s *System) NamedQueue(name string) (*Queue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue, ok := s.queues[name]
	if !ok {
		return nil, errors.NotFound("queue", name)
	}
	return queue, nil
}

// Queues returns the registered queues, sorted by name.
func (s *System) Queues() []*Queue {
	s.mu.Lock()
	defer s.mu.Unlock()
	queues := make([]*Queue, 0, len(s.queues))
	for _, q := range s.queues {
		queues = append(queues, q)
	}
	sort.Slice(queues, func(i, j int) bool { return queues[i].Name() < queues[j].Name() })
	return queues
}

// AddWorkerInitializer appends a callback run against every subsequently
// created worker. The initializer list must be complete before the first
// worker exists, so that all workers observe identical initialization.
func (s *System) AddWorkerInitializer(initializer WorkerInitializer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.assertNotShutDownLocked("AddWorkerInitializer"); err != nil {
		return err
	}
	if len(s.workers) != 0 {
		return errors.Ordering("AddWorkerInitializer can only be called before workers are created")
	}
	s.workerInitializers = append(s.workerInitializers, initializer)
	return nil
}

// CreateWorker allocates, registers and starts a new worker. Registration
// happens under the coordination lock; the initializer callbacks and the
// thread start run after it is released, so initializers may safely call
// back into the System. If an initializer fails the worker is unregistered
// and never started.
func (s *System) CreateWorker(opts WorkerOptions) (*Worker, error) {
	var (
		worker       *Worker
		initializers []WorkerInitializer
	)

	s.mu.Lock()
	if err := s.assertNotShutDownLocked("worker creation"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if opts.Name == initWorkerName {
		s.mu.Unlock()
		return nil, errors.ReservedName("worker", opts.Name)
	}
	if _, exists := s.workersByName[opts.Name]; exists {
		s.mu.Unlock()
		return nil, errors.Duplicate(errors.PhaseRun, "worker", opts.Name)
	}
	worker = newWorker(opts)
	s.workers = append(s.workers, worker)
	s.workersByName[opts.Name] = worker
	initializers = s.workerInitializers
	s.mu.Unlock()

	if err := runInitializers(worker, initializers); err != nil {
		worker.completeInit(err)
		// A concurrent Shutdown may already hold a reference and will join
		// this worker; abort so the join does not wait on a run loop that
		// will never start.
		worker.abort()
		s.removeWorker(worker)
		return nil, err
	}
	worker.completeInit(nil)
	worker.start()
	return worker, nil
}

// InitWorker returns the reserved "__init__" worker used for bootstrap-time
// synchronous work, creating it unowned on first access. Its initializers
// run exactly once, at creation; concurrent callers block until that run has
// completed, so no caller ever observes a partially initialized worker.
func (s *System) InitWorker() (*Worker, error) {
	var initializers []WorkerInitializer

	s.mu.Lock()
	if err := s.assertNotShutDownLocked("InitWorker"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if worker, ok := s.workersByName[initWorkerName]; ok {
		s.mu.Unlock()
		if err := worker.awaitInit(); err != nil {
			return nil, err
		}
		return worker, nil
	}
	worker := newWorker(WorkerOptions{Name: initWorkerName, OwnedThread: false})
	s.workers = append(s.workers, worker)
	s.workersByName[initWorkerName] = worker
	initializers = s.workerInitializers
	s.mu.Unlock()

	if err := runInitializers(worker, initializers); err != nil {
		worker.completeInit(err)
		worker.abort()
		s.removeWorker(worker)
		return nil, err
	}
	worker.completeInit(nil)
	return worker, nil
}

func runInitializers(worker *Worker, initializers []WorkerInitializer) error {
	for _, initialize := range initializers {
		if err := initialize(worker); err != nil {
			logger().Error("worker initializer failed",
				zap.String("worker", worker.Name()), zap.Error(err))
			return err
		}
	}
	return nil
}

// removeWorker undoes a registration whose initializers failed.
func (s *System) removeWorker(worker *Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workersByName, worker.Name())
	for i, w := range s.workers {
		if w == worker {
			s.workers = append(s.workers[:i], s.workers[i+1:]...)
			break
		}
	}
}

// NamedWorker looks up a worker by name.
func (s *System) NamedWorker(name string) (*Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	worker, ok := s.workersByName[name]
	if !ok {
		return nil, errors.NotFound("worker", name)
	}
	return worker, nil
}

// Workers returns the registered workers in creation order.
func (s *System) Workers() []*Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	workers := make([]*Worker, len(s.workers))
	copy(workers, s.workers)
	return workers
}

// AllocateProcess assigns the next process id to p and stores a non-owning
// reference. Ids are strictly increasing and never reused, even after
// deallocation, so a stale id can never alias a newer process.
func (s *System) AllocateProcess(p any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.assertNotShutDownLocked("process allocation"); err != nil {
		return 0, err
	}
	pid := s.nextPID
	s.nextPID++
	s.processesByPID[pid] = p
	return pid, nil
}

// DeallocateProcess removes a process table entry. Removing an absent id is
// a no-op: the entry may already have been dropped during shutdown or by a
// concurrent cleanup.
func (s *System) DeallocateProcess(pid int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.processesByPID, pid)
}

// Process looks up the process registered under pid. The reference carries
// no ownership; the process object's lifetime is managed by its creator.
func (s *System) Process(pid int64) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.processesByPID[pid]
	return p, ok
}

// ProcessCount returns the number of tracked processes.
func (s *System) ProcessCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.processesByPID)
}

// RunBlocking schedules fn on the System's shared blocking executor, a
// bounded pool for work that may block and must not occupy a worker loop.
func (s *System) RunBlocking(fn func()) error {
	return s.executor.submit(fn)
}

// Shutdown tears the System down in dependency order. It is idempotent: the
// second and later calls return nil immediately.
//
// Workers are detached from the registries under the lock, killed all at
// once so they drain concurrently, and owned threads are then joined. Only
// after every worker is stopped are the blocking executor, the queues, the
// execution engine, the devices, and finally the drivers released. The
// engine must outlive the workers that use it, devices must outlive the
// engine, and drivers must outlive the devices they back; reordering these
// steps reintroduces use-after-free teardown hazards.
func (s *System) Shutdown(ctx context.Context) error {
	var workers []*Worker

	s.mu.Lock()
	if s.state == StateShutDown {
		s.mu.Unlock()
		return nil
	}
	s.state = StateShutDown
	workers = s.workers
	s.workers = nil
	s.workersByName = make(map[string]*Worker)
	s.processesByPID = make(map[int64]any)
	s.mu.Unlock()

	runtime.SetFinalizer(s, nil)
	log := logger()
	log.Debug("shutting down system", zap.Int("workers", len(workers)))

	// Signal every worker first so they drain concurrently.
	for _, worker := range workers {
		worker.Kill()
	}
	for _, worker := range workers {
		if worker.OwnsThread() {
			worker.WaitForShutdown()
		}
	}
	s.executor.kill()

	// Queues are only released once no worker can touch them.
	s.mu.Lock()
	queues := s.queues
	s.queues = make(map[string]*Queue)
	s.mu.Unlock()
	for _, queue := range queues {
		queue.close()
	}

	// Orderly destruction of the heavyweight resources. The order is load
	// bearing: engine before devices, devices before drivers.
	var errs error
	if err := s.engine.Close(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}

	s.mu.Lock()
	devices := s.devices
	drivers := s.drivers
	s.devices = nil
	s.namedDevices = make(map[string]localruntime.Device)
	s.drivers = make(map[string]localruntime.Driver)
	s.mu.Unlock()

	for _, device := range devices {
		if err := device.Close(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	for _, driver := range drivers {
		if err := driver.Close(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	log.Debug("system shut down")
	return errs
}
