package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	"golang.org/x/term"

	localruntime "github.com/wippyai/local-runtime"
	"github.com/wippyai/local-runtime/engine"
	"github.com/wippyai/local-runtime/system"
)

// demoDriver is a stand-in capability provider for the demo host.
type demoDriver struct {
	moniker string
}

func (d *demoDriver) Moniker() string             { return d.moniker }
func (d *demoDriver) Close(context.Context) error { return nil }

// demoDevice is a stand-in compute device backed by demoDriver.
type demoDevice struct {
	name   string
	driver string
}

func (d *demoDevice) Name() string                { return d.name }
func (d *demoDevice) DriverMoniker() string       { return d.driver }
func (d *demoDevice) Close(context.Context) error { return nil }

func main() {
	var (
		nodes       = flag.Int("nodes", 1, "Number of compute nodes")
		devices     = flag.Int("devices", 2, "Number of demo devices to register")
		workers     = flag.Int("workers", 2, "Number of owned workers to create")
		verbose     = flag.Bool("v", false, "Log coordinator diagnostics to stderr")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	if *verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer logger.Sync()
		system.SetLogger(logger)
		engine.SetLogger(logger)
	}

	if *interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: interactive mode requires a terminal")
			os.Exit(1)
		}
		if err := runInteractive(*nodes, *devices, *workers); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(*nodes, *devices, *workers); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// buildDemoSystem assembles a running System with demo drivers, devices,
// workers and queues.
func buildDemoSystem(nodes, devices, workers int) (*system.System, error) {
	ctx := context.Background()

	sys, err := system.New(ctx, system.Config{})
	if err != nil {
		return nil, err
	}

	if err := sys.InitializeNodes(nodes); err != nil {
		return nil, err
	}
	if err := sys.InitializeDriver("hostcpu", &demoDriver{moniker: "hostcpu"}); err != nil {
		return nil, err
	}
	for i := 0; i < devices; i++ {
		device := &demoDevice{name: fmt.Sprintf("cpu%d", i), driver: "hostcpu"}
		if err := sys.InitializeDevice(device); err != nil {
			return nil, err
		}
	}
	if err := sys.FinishInitialization(); err != nil {
		return nil, err
	}

	for i := 0; i < workers; i++ {
		opts := system.WorkerOptions{Name: fmt.Sprintf("w%d", i), OwnedThread: true}
		if _, err := sys.CreateWorker(opts); err != nil {
			return nil, err
		}
	}
	if _, err := sys.CreateQueue(system.QueueOptions{Name: "default"}); err != nil {
		return nil, err
	}
	return sys, nil
}

func run(nodes, devices, workers int) error {
	ctx := context.Background()

	sys, err := buildDemoSystem(nodes, devices, workers)
	if err != nil {
		return err
	}

	fmt.Printf("state:   %s\n", sys.State())
	fmt.Printf("nodes:   %d\n", sys.NodeCount())
	fmt.Printf("drivers: %v\n", sys.DriverMonikers())

	fmt.Println("devices:")
	for _, d := range sys.Devices() {
		fmt.Printf("  %-8s (driver %s)\n", d.Name(), d.DriverMoniker())
	}

	fmt.Println("workers:")
	for _, w := range sys.Workers() {
		kind := "unowned"
		if w.OwnsThread() {
			kind = "owned thread"
		}
		fmt.Printf("  %-8s (%s)\n", w.Name(), kind)
	}

	fmt.Println("queues:")
	for _, q := range sys.Queues() {
		fmt.Printf("  %-8s (%d pending)\n", q.Name(), q.Len())
	}

	return sys.Shutdown(ctx)
}

var _ localruntime.Driver = (*demoDriver)(nil)
var _ localruntime.Device = (*demoDevice)(nil)
