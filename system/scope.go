package system

import (
	"github.com/google/uuid"

	localruntime "github.com/wippyai/local-runtime"
	"github.com/wippyai/local-runtime/errors"
)

// Scope binds a subset of the System's devices to a worker for a logical
// scope of execution. A Scope holds only references: the System remains the
// exclusive owner of every device and of the worker, and outliving the
// System is a caller error.
type Scope struct {
	id           uuid.UUID
	sys          *System
	worker       *Worker
	devices      []localruntime.Device
	namedDevices map[string]localruntime.Device
}

// CreateScope binds devices and a worker into a new Scope. The devices must
// already be registered with this System.
func (s *System) CreateScope(worker *Worker, devices ...localruntime.Device) (*Scope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateShutDown {
		return nil, errors.Lifecycle(errors.PhaseShutdown, "cannot create a scope after shutdown")
	}
	for _, d := range devices {
		if _, ok := s.namedDevices[d.Name()]; !ok {
			return nil, errors.NotFound("device", d.Name())
		}
	}

	scope := &Scope{
		id:           uuid.New(),
		sys:          s,
		worker:       worker,
		devices:      make([]localruntime.Device, len(devices)),
		namedDevices: make(map[string]localruntime.Device, len(devices)),
	}
	copy(scope.devices, devices)
	for _, d := range devices {
		scope.namedDevices[d.Name()] = d
	}
	return scope, nil
}

// ID returns the scope's instance identity.
func (s *Scope) ID() uuid.UUID {
	return s.id
}

// System returns the owning System.
func (s *Scope) System() *System {
	return s.sys
}

// Worker returns the worker this scope is bound to.
func (s *Scope) Worker() *Worker {
	return s.worker
}

// Devices returns the scope's devices in binding order.
func (s *Scope) Devices() []localruntime.Device {
	devices := make([]localruntime.Device, len(s.devices))
	copy(devices, s.devices)
	return devices
}

// Device looks up a bound device by name.
func (s *Scope) Device(name string) (localruntime.Device, error) {
	d, ok := s.namedDevices[name]
	if !ok {
		return nil, errors.NotFound("device", name)
	}
	return d, nil
}
