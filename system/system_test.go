package system

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	localruntime "github.com/wippyai/local-runtime"
	rterrors "github.com/wippyai/local-runtime/errors"
)

type testDriver struct {
	moniker string
	mu      sync.Mutex
	closed  int
}

func (d *testDriver) Moniker() string { return d.moniker }

func (d *testDriver) Close(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
	return nil
}

func (d *testDriver) closeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

type testDevice struct {
	name   string
	driver string
	mu     sync.Mutex
	closed int
}

func (d *testDevice) Name() string          { return d.name }
func (d *testDevice) DriverMoniker() string { return d.driver }

func (d *testDevice) Close(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
	return nil
}

func (d *testDevice) closeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func newTestSystem(t *testing.T) *System {
	t.Helper()
	sys, err := New(context.Background(), Config{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() {
		_ = sys.Shutdown(context.Background())
	})
	return sys
}

func isKind(err error, phase rterrors.Phase, kind rterrors.Kind) bool {
	return stderrors.Is(err, &rterrors.Error{Phase: phase, Kind: kind})
}

func TestBuildPhaseRegistration(t *testing.T) {
	sys := newTestSystem(t)

	if err := sys.InitializeNodes(2); err != nil {
		t.Fatalf("InitializeNodes failed: %v", err)
	}
	if err := sys.InitializeDriver("hostcpu", &testDriver{moniker: "hostcpu"}); err != nil {
		t.Fatalf("InitializeDriver failed: %v", err)
	}
	for _, name := range []string{"gpu0", "gpu1"} {
		if err := sys.InitializeDevice(&testDevice{name: name, driver: "hostcpu"}); err != nil {
			t.Fatalf("InitializeDevice(%s) failed: %v", name, err)
		}
	}

	// Everything registered before FinishInitialization is retrievable after.
	if err := sys.FinishInitialization(); err != nil {
		t.Fatalf("FinishInitialization failed: %v", err)
	}

	if got := sys.NodeCount(); got != 2 {
		t.Errorf("NodeCount = %d, want 2", got)
	}
	nodes := sys.Nodes()
	for i, n := range nodes {
		if n.Ordinal() != i {
			t.Errorf("node %d has ordinal %d", i, n.Ordinal())
		}
	}
	if _, err := sys.Driver("hostcpu"); err != nil {
		t.Errorf("Driver lookup failed: %v", err)
	}
	devices := sys.Devices()
	if len(devices) != 2 || devices[0].Name() != "gpu0" || devices[1].Name() != "gpu1" {
		t.Errorf("Devices() lost registration order: %v", devices)
	}
	if _, err := sys.NamedDevice("gpu1"); err != nil {
		t.Errorf("NamedDevice lookup failed: %v", err)
	}
}

func TestDuplicateRegistrations(t *testing.T) {
	sys := newTestSystem(t)

	if err := sys.InitializeDriver("hostcpu", &testDriver{moniker: "hostcpu"}); err != nil {
		t.Fatalf("InitializeDriver failed: %v", err)
	}
	err := sys.InitializeDriver("hostcpu", &testDriver{moniker: "hostcpu"})
	if !isKind(err, rterrors.PhaseBuild, rterrors.KindDuplicate) {
		t.Errorf("expected duplicate driver error, got %v", err)
	}

	first := &testDevice{name: "gpu0", driver: "hostcpu"}
	if err := sys.InitializeDevice(first); err != nil {
		t.Fatalf("InitializeDevice failed: %v", err)
	}
	err = sys.InitializeDevice(&testDevice{name: "gpu0", driver: "hostcpu"})
	if !isKind(err, rterrors.PhaseBuild, rterrors.KindDuplicate) {
		t.Errorf("expected duplicate device error, got %v", err)
	}

	// The original registration is untouched.
	got, err := sys.NamedDevice("gpu0")
	if err != nil {
		t.Fatalf("NamedDevice failed: %v", err)
	}
	if got != localruntime.Device(first) {
		t.Error("duplicate registration displaced the original device")
	}
	if len(sys.Devices()) != 1 {
		t.Errorf("expected exactly one gpu0 entry, got %d devices", len(sys.Devices()))
	}
}

func TestRegistrationAfterFinishInitialization(t *testing.T) {
	sys := newTestSystem(t)

	if err := sys.FinishInitialization(); err != nil {
		t.Fatalf("FinishInitialization failed: %v", err)
	}

	if err := sys.InitializeNodes(1); !isKind(err, rterrors.PhaseRun, rterrors.KindLifecycle) {
		t.Errorf("node registration after init: got %v", err)
	}
	if err := sys.InitializeDriver("d", &testDriver{moniker: "d"}); !isKind(err, rterrors.PhaseRun, rterrors.KindLifecycle) {
		t.Errorf("driver registration after init: got %v", err)
	}
	if err := sys.InitializeDevice(&testDevice{name: "x"}); !isKind(err, rterrors.PhaseRun, rterrors.KindLifecycle) {
		t.Errorf("device registration after init: got %v", err)
	}
	if err := sys.FinishInitialization(); !isKind(err, rterrors.PhaseRun, rterrors.KindLifecycle) {
		t.Errorf("second FinishInitialization: got %v", err)
	}
}

func TestInitializeNodesTwice(t *testing.T) {
	sys := newTestSystem(t)

	if err := sys.InitializeNodes(1); err != nil {
		t.Fatalf("InitializeNodes failed: %v", err)
	}
	if err := sys.InitializeNodes(1); !isKind(err, rterrors.PhaseBuild, rterrors.KindOrdering) {
		t.Errorf("expected ordering violation, got %v", err)
	}
}

func TestReservedWorkerName(t *testing.T) {
	sys := newTestSystem(t)

	_, err := sys.CreateWorker(WorkerOptions{Name: "__init__"})
	if !stderrors.Is(err, &rterrors.Error{Phase: rterrors.PhaseRun, Kind: rterrors.KindReservedName}) {
		t.Errorf("expected reserved-name error, got %v", err)
	}
}

func TestDuplicateWorkerAndQueue(t *testing.T) {
	sys := newTestSystem(t)

	if _, err := sys.CreateWorker(WorkerOptions{Name: "w0"}); err != nil {
		t.Fatalf("CreateWorker failed: %v", err)
	}
	if _, err := sys.CreateWorker(WorkerOptions{Name: "w0"}); !isKind(err, rterrors.PhaseRun, rterrors.KindDuplicate) {
		t.Errorf("expected duplicate worker error, got %v", err)
	}

	if _, err := sys.CreateQueue(QueueOptions{Name: "q0"}); err != nil {
		t.Fatalf("CreateQueue failed: %v", err)
	}
	if _, err := sys.CreateQueue(QueueOptions{Name: "q0"}); !isKind(err, rterrors.PhaseRun, rterrors.KindDuplicate) {
		t.Errorf("expected duplicate queue error, got %v", err)
	}

	if _, err := sys.NamedQueue("missing"); !isKind(err, rterrors.PhaseRun, rterrors.KindNotFound) {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestWorkerInitializerPipeline(t *testing.T) {
	sys := newTestSystem(t)

	var order []string
	for _, tag := range []string{"a", "b"} {
		tag := tag
		err := sys.AddWorkerInitializer(func(w *Worker) error {
			order = append(order, tag+":"+w.Name())
			return nil
		})
		if err != nil {
			t.Fatalf("AddWorkerInitializer failed: %v", err)
		}
	}

	if _, err := sys.CreateWorker(WorkerOptions{Name: "w0"}); err != nil {
		t.Fatalf("CreateWorker failed: %v", err)
	}
	want := []string{"a:w0", "b:w0"}
	if len(order) != len(want) || order[0] != want[0] || order[1] != want[1] {
		t.Errorf("initializer order = %v, want %v", order, want)
	}

	// Once a worker exists the list is frozen.
	err := sys.AddWorkerInitializer(func(*Worker) error { return nil })
	if !isKind(err, rterrors.PhaseBuild, rterrors.KindOrdering) {
		t.Errorf("expected ordering violation, got %v", err)
	}
}

func TestWorkerInitializerFailureUnregisters(t *testing.T) {
	sys := newTestSystem(t)

	boom := fmt.Errorf("boom")
	if err := sys.AddWorkerInitializer(func(*Worker) error { return boom }); err != nil {
		t.Fatalf("AddWorkerInitializer failed: %v", err)
	}

	if _, err := sys.CreateWorker(WorkerOptions{Name: "w0", OwnedThread: true}); !stderrors.Is(err, boom) {
		t.Fatalf("expected initializer error, got %v", err)
	}
	if _, err := sys.NamedWorker("w0"); !isKind(err, rterrors.PhaseRun, rterrors.KindNotFound) {
		t.Errorf("failed worker should not stay registered, got %v", err)
	}
	if len(sys.Workers()) != 0 {
		t.Errorf("worker list should be empty, got %d", len(sys.Workers()))
	}
}

func TestInitializerMayCallBackIntoSystem(t *testing.T) {
	sys := newTestSystem(t)

	if _, err := sys.CreateQueue(QueueOptions{Name: "boot"}); err != nil {
		t.Fatalf("CreateQueue failed: %v", err)
	}
	err := sys.AddWorkerInitializer(func(w *Worker) error {
		// Must not deadlock: the System lock is not held here.
		_, err := sys.NamedQueue("boot")
		return err
	})
	if err != nil {
		t.Fatalf("AddWorkerInitializer failed: %v", err)
	}
	if _, err := sys.CreateWorker(WorkerOptions{Name: "w0", OwnedThread: true}); err != nil {
		t.Fatalf("CreateWorker failed: %v", err)
	}
}

func TestInitWorkerSingleton(t *testing.T) {
	sys := newTestSystem(t)

	var runs int
	if err := sys.AddWorkerInitializer(func(*Worker) error { runs++; return nil }); err != nil {
		t.Fatalf("AddWorkerInitializer failed: %v", err)
	}

	first, err := sys.InitWorker()
	if err != nil {
		t.Fatalf("InitWorker failed: %v", err)
	}
	if first.Name() != "__init__" {
		t.Errorf("init worker name = %q", first.Name())
	}
	if first.OwnsThread() {
		t.Error("init worker must be unowned")
	}

	second, err := sys.InitWorker()
	if err != nil {
		t.Fatalf("second InitWorker failed: %v", err)
	}
	if first != second {
		t.Error("InitWorker should return the cached instance")
	}
	if runs != 1 {
		t.Errorf("initializers ran %d times, want 1", runs)
	}
}

func TestProcessIDsMonotonic(t *testing.T) {
	sys := newTestSystem(t)

	var pids []int64
	for i := 0; i < 5; i++ {
		pid, err := sys.AllocateProcess(struct{}{})
		if err != nil {
			t.Fatalf("AllocateProcess failed: %v", err)
		}
		pids = append(pids, pid)
	}
	for i := 1; i < len(pids); i++ {
		if pids[i] <= pids[i-1] {
			t.Fatalf("pids not strictly increasing: %v", pids)
		}
	}

	// A deallocated id is never handed out again.
	sys.DeallocateProcess(pids[0])
	pid, err := sys.AllocateProcess(struct{}{})
	if err != nil {
		t.Fatalf("AllocateProcess failed: %v", err)
	}
	if pid <= pids[len(pids)-1] {
		t.Errorf("reissued pid %d after deallocating %d", pid, pids[0])
	}

	// Deallocating an absent id is a silent no-op.
	sys.DeallocateProcess(999999)
	sys.DeallocateProcess(pids[0])
}

func TestProcessLookup(t *testing.T) {
	sys := newTestSystem(t)

	type proc struct{ tag string }
	p := &proc{tag: "p1"}
	pid, err := sys.AllocateProcess(p)
	if err != nil {
		t.Fatalf("AllocateProcess failed: %v", err)
	}

	got, ok := sys.Process(pid)
	if !ok || got != any(p) {
		t.Errorf("Process(%d) = %v, %v", pid, got, ok)
	}

	sys.DeallocateProcess(pid)
	if _, ok := sys.Process(pid); ok {
		t.Error("deallocated pid still resolves")
	}
}

func TestShutdownIdempotent(t *testing.T) {
	ctx := context.Background()
	sys := newTestSystem(t)

	driver := &testDriver{moniker: "hostcpu"}
	device := &testDevice{name: "gpu0", driver: "hostcpu"}
	if err := sys.InitializeDriver("hostcpu", driver); err != nil {
		t.Fatalf("InitializeDriver failed: %v", err)
	}
	if err := sys.InitializeDevice(device); err != nil {
		t.Fatalf("InitializeDevice failed: %v", err)
	}
	if err := sys.FinishInitialization(); err != nil {
		t.Fatalf("FinishInitialization failed: %v", err)
	}
	if _, err := sys.CreateWorker(WorkerOptions{Name: "w0", OwnedThread: true}); err != nil {
		t.Fatalf("CreateWorker failed: %v", err)
	}

	if err := sys.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if err := sys.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown should be a no-op, got %v", err)
	}

	if driver.closeCount() != 1 {
		t.Errorf("driver closed %d times, want 1", driver.closeCount())
	}
	if device.closeCount() != 1 {
		t.Errorf("device closed %d times, want 1", device.closeCount())
	}
}

func TestOperationsAfterShutdown(t *testing.T) {
	ctx := context.Background()
	sys := newTestSystem(t)

	if err := sys.FinishInitialization(); err != nil {
		t.Fatalf("FinishInitialization failed: %v", err)
	}
	if err := sys.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	if _, err := sys.CreateQueue(QueueOptions{Name: "late"}); !isKind(err, rterrors.PhaseShutdown, rterrors.KindLifecycle) {
		t.Errorf("CreateQueue after shutdown: got %v", err)
	}
	if _, err := sys.CreateWorker(WorkerOptions{Name: "late"}); !isKind(err, rterrors.PhaseShutdown, rterrors.KindLifecycle) {
		t.Errorf("CreateWorker after shutdown: got %v", err)
	}
	if _, err := sys.InitWorker(); !isKind(err, rterrors.PhaseShutdown, rterrors.KindLifecycle) {
		t.Errorf("InitWorker after shutdown: got %v", err)
	}
	if _, err := sys.AllocateProcess(struct{}{}); !isKind(err, rterrors.PhaseShutdown, rterrors.KindLifecycle) {
		t.Errorf("AllocateProcess after shutdown: got %v", err)
	}
	if _, err := sys.CreateScope(nil); !isKind(err, rterrors.PhaseShutdown, rterrors.KindLifecycle) {
		t.Errorf("CreateScope after shutdown: got %v", err)
	}
	if err := sys.RunBlocking(func() {}); !isKind(err, rterrors.PhaseShutdown, rterrors.KindLifecycle) {
		t.Errorf("RunBlocking after shutdown: got %v", err)
	}
}

func TestRunBlocking(t *testing.T) {
	sys := newTestSystem(t)

	done := make(chan struct{})
	if err := sys.RunBlocking(func() { close(done) }); err != nil {
		t.Fatalf("RunBlocking failed: %v", err)
	}
	<-done
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	sys := newTestSystem(t)

	for _, name := range []string{"gpu0", "gpu1"} {
		if err := sys.InitializeDevice(&testDevice{name: name, driver: "hostcpu"}); err != nil {
			t.Fatalf("InitializeDevice(%s) failed: %v", name, err)
		}
	}
	if err := sys.FinishInitialization(); err != nil {
		t.Fatalf("FinishInitialization failed: %v", err)
	}

	worker, err := sys.CreateWorker(WorkerOptions{Name: "w1", OwnedThread: true})
	if err != nil {
		t.Fatalf("CreateWorker failed: %v", err)
	}
	queue, err := sys.CreateQueue(QueueOptions{Name: "q1"})
	if err != nil {
		t.Fatalf("CreateQueue failed: %v", err)
	}

	// Run a round of work through the worker and the queue.
	done := make(chan struct{})
	if err := worker.Post(func() {
		_ = queue.Write("item")
		close(done)
	}); err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	<-done
	if item, ok := queue.Read(); !ok || item != "item" {
		t.Errorf("queue round trip: got %v, %v", item, ok)
	}

	pid1, err := sys.AllocateProcess(struct{}{})
	if err != nil {
		t.Fatalf("AllocateProcess failed: %v", err)
	}
	pid2, err := sys.AllocateProcess(struct{}{})
	if err != nil {
		t.Fatalf("AllocateProcess failed: %v", err)
	}
	if pid1 != 1 || pid2 != 2 {
		t.Errorf("pids = %d, %d; want 1, 2", pid1, pid2)
	}
	sys.DeallocateProcess(pid1)
	pid3, err := sys.AllocateProcess(struct{}{})
	if err != nil {
		t.Fatalf("AllocateProcess failed: %v", err)
	}
	if pid3 != 3 {
		t.Errorf("pid3 = %d, want 3", pid3)
	}

	if err := sys.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	if len(sys.Devices()) != 0 {
		t.Error("device registry not empty after shutdown")
	}
	if len(sys.DriverMonikers()) != 0 {
		t.Error("driver registry not empty after shutdown")
	}
	if len(sys.Workers()) != 0 {
		t.Error("worker registry not empty after shutdown")
	}
	if len(sys.Queues()) != 0 {
		t.Error("queue registry not empty after shutdown")
	}
	if sys.ProcessCount() != 0 {
		t.Error("process table not empty after shutdown")
	}
	if !sys.Engine().Closed() {
		t.Error("engine not released after shutdown")
	}
	if sys.State() != StateShutDown {
		t.Errorf("state = %v, want shutdown", sys.State())
	}
}

func TestConcurrentProcessAllocation(t *testing.T) {
	sys := newTestSystem(t)

	const goroutines = 8
	const perGoroutine = 100

	var wg sync.WaitGroup
	pids := make([][]int64, goroutines)
	for g := 0; g < goroutines; g++ {
		g := g
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				pid, err := sys.AllocateProcess(struct{}{})
				if err != nil {
					t.Errorf("AllocateProcess failed: %v", err)
					return
				}
				pids[g] = append(pids[g], pid)
			}
		}()
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for _, list := range pids {
		for _, pid := range list {
			if seen[pid] {
				t.Fatalf("pid %d issued twice", pid)
			}
			seen[pid] = true
		}
	}
	if len(seen) != goroutines*perGoroutine {
		t.Errorf("issued %d distinct pids, want %d", len(seen), goroutines*perGoroutine)
	}
}

func TestWorkerCallbackDuringShutdown(t *testing.T) {
	// A worker task that calls back into the System while Shutdown runs on
	// the test goroutine must not deadlock.
	ctx := context.Background()
	sys := newTestSystem(t)

	worker, err := sys.CreateWorker(WorkerOptions{Name: "w0", OwnedThread: true})
	if err != nil {
		t.Fatalf("CreateWorker failed: %v", err)
	}

	started := make(chan struct{})
	if err := worker.Post(func() {
		close(started)
		_, _ = sys.AllocateProcess(struct{}{})
		_, _ = sys.NamedQueue("nope")
	}); err != nil {
		t.Fatalf("Post failed: %v", err)
	}

	<-started
	if err := sys.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
}

func TestShutdownDuringBlockedWorkerInitializer(t *testing.T) {
	// Shutdown that interleaves with a worker creation whose initializer
	// then fails must still return: the registered but never started
	// worker has to be joinable.
	ctx := context.Background()
	sys := newTestSystem(t)

	initFailed := stderrors.New("initializer failed")
	entered := make(chan struct{})
	release := make(chan struct{})
	if err := sys.AddWorkerInitializer(func(*Worker) error {
		close(entered)
		<-release
		return initFailed
	}); err != nil {
		t.Fatalf("AddWorkerInitializer failed: %v", err)
	}

	created := make(chan error, 1)
	go func() {
		_, err := sys.CreateWorker(WorkerOptions{Name: "w0", OwnedThread: true})
		created <- err
	}()

	// Worker is registered and its initializer is inflight.
	<-entered

	shutdownDone := make(chan error, 1)
	go func() {
		shutdownDone <- sys.Shutdown(ctx)
	}()

	// Wait until Shutdown has taken the worker snapshot before letting the
	// initializer fail.
	deadline := time.Now().Add(5 * time.Second)
	for sys.State() != StateShutDown {
		if time.Now().After(deadline) {
			t.Fatal("Shutdown never transitioned the state")
		}
		time.Sleep(time.Millisecond)
	}
	close(release)

	if err := <-created; !stderrors.Is(err, initFailed) {
		t.Fatalf("CreateWorker error = %v, want %v", err, initFailed)
	}
	select {
	case err := <-shutdownDone:
		if err != nil {
			t.Fatalf("Shutdown failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown did not return after the worker creation failed")
	}
}

func TestInitWorkerConcurrentFirstAccess(t *testing.T) {
	// A second InitWorker call arriving while the first is still running
	// initializers must not see the worker until initialization completed.
	sys := newTestSystem(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	var runs atomic.Int32
	if err := sys.AddWorkerInitializer(func(*Worker) error {
		runs.Add(1)
		close(entered)
		<-release
		return nil
	}); err != nil {
		t.Fatalf("AddWorkerInitializer failed: %v", err)
	}

	first := make(chan *Worker, 1)
	go func() {
		worker, err := sys.InitWorker()
		if err != nil {
			t.Errorf("InitWorker failed: %v", err)
		}
		first <- worker
	}()
	<-entered

	second := make(chan *Worker, 1)
	go func() {
		worker, err := sys.InitWorker()
		if err != nil {
			t.Errorf("concurrent InitWorker failed: %v", err)
		}
		second <- worker
	}()

	select {
	case <-second:
		t.Fatal("InitWorker returned before its initializers completed")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	w1 := <-first
	w2 := <-second
	if w1 != w2 {
		t.Fatal("concurrent InitWorker calls returned different workers")
	}
	if got := runs.Load(); got != 1 {
		t.Fatalf("initializer ran %d times, want 1", got)
	}
}
