package driver

import "github.com/cockroachdb/errors"

// Driver result codes. Backends return these (possibly wrapped) so callers
// can classify failures with errors.Is.
var (
	// ErrNotAvailable is returned when a requested backend is not registered.
	ErrNotAvailable = errors.New("driver: backend not available")

	// ErrInitializationFailed is returned when a backend cannot start.
	ErrInitializationFailed = errors.New("driver: initialization failed")

	// ErrTimeout is returned when a wait or acquire deadline elapses.
	ErrTimeout = errors.New("driver: timeout")

	// ErrOutOfPoolMemory is returned when a descriptor pool is exhausted.
	ErrOutOfPoolMemory = errors.New("driver: descriptor pool out of memory")

	// ErrFragmentedPool is returned when a descriptor pool is too fragmented.
	ErrFragmentedPool = errors.New("driver: descriptor pool fragmented")

	// ErrOutOfDeviceMemory is returned when an allocation cannot be satisfied.
	ErrOutOfDeviceMemory = errors.New("driver: out of device memory")

	// ErrMemoryMapFailed is returned when mapping memory that is not host visible.
	ErrMemoryMapFailed = errors.New("driver: memory map failed")

	// ErrOutOfDate is returned when the swapchain no longer matches the surface.
	ErrOutOfDate = errors.New("driver: swapchain out of date")

	// ErrSuboptimal is returned when presentation succeeded but the swapchain
	// should be recreated.
	ErrSuboptimal = errors.New("driver: swapchain suboptimal")

	// ErrDeviceLost is returned when the device stops responding.
	ErrDeviceLost = errors.New("driver: device lost")

	// ErrInvalidHandle is returned when a handle does not name a live object.
	ErrInvalidHandle = errors.New("driver: invalid handle")
)

// IsPoolExhausted reports whether err means a descriptor pool cannot
// satisfy an allocation.
func IsPoolExhausted(err error) bool {
	return errors.Is(err, ErrOutOfPoolMemory) || errors.Is(err, ErrFragmentedPool)
}
