package localruntime

import "context"

// Driver is a named backend capability provider for a class of devices.
// The System takes exclusive ownership of a driver at registration time and
// closes it during shutdown, after every device it backs has been released.
type Driver interface {
	// Moniker identifies the driver. Unique within one System.
	Moniker() string

	// Close releases driver resources. Called at most once, by the System.
	Close(ctx context.Context) error
}

// Device is a named, ownable compute resource exposed by a driver. The
// System exclusively owns every registered device; scopes and other
// consumers only ever hold references.
type Device interface {
	// Name identifies the device. Unique within one System.
	Name() string

	// DriverMoniker names the driver backing this device.
	DriverMoniker() string

	// Close releases the device. Called at most once, by the System, before
	// its backing driver is closed.
	Close(ctx context.Context) error
}
