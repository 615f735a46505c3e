package device

import (
	"log/slog"

	"github.com/gogpu/gfx/command"
	"github.com/gogpu/gfx/driver"
)

// Properties is what the engine reads from the selected physical device.
type Properties struct {
	Name                 string
	MaxUsableSampleCount driver.SampleCount
	Limits               driver.Limits
	Memory               driver.MemoryProperties
}

func newProperties(pd driver.PhysicalDevice) Properties {
	p := pd.Properties()
	return Properties{
		Name:                 p.Name,
		MaxUsableSampleCount: MaxUsableSampleCount(p.Limits),
		Limits:               p.Limits,
		Memory:               pd.MemoryProperties(),
	}
}

// MaxUsableSampleCount returns the highest sample count supported by both
// color and depth framebuffer attachments.
func MaxUsableSampleCount(l driver.Limits) driver.SampleCount {
	counts := l.FramebufferColorSampleCounts & l.FramebufferDepthSampleCounts
	for _, c := range []driver.SampleCount{
		driver.SampleCount64,
		driver.SampleCount32,
		driver.SampleCount16,
		driver.SampleCount8,
		driver.SampleCount4,
		driver.SampleCount2,
	} {
		if counts&c != 0 {
			return c
		}
	}
	return driver.SampleCount1
}

// Device is the selected GPU: the logical device, its queues and the
// graphics command pool.
type Device struct {
	dev      driver.Device
	physical driver.PhysicalDevice
	indices  QueueFamilyIndices
	props    Properties

	graphics driver.Queue
	present  driver.Queue
	transfer driver.Queue

	graphicsPool *command.Pool

	logger *slog.Logger
}

// Driver returns the logical device.
func (d *Device) Driver() driver.Device { return d.dev }

// Physical returns the physical device the logical device was created on.
func (d *Device) Physical() driver.PhysicalDevice { return d.physical }

// Indices returns the queue families in use.
func (d *Device) Indices() QueueFamilyIndices { return d.indices }

// Properties returns the cached device properties.
func (d *Device) Properties() Properties { return d.props }

// GraphicsQueue returns queue 0 of the graphics family.
func (d *Device) GraphicsQueue() driver.Queue { return d.graphics }

// PresentQueue returns queue 0 of the present family. It is the graphics
// queue when both roles share a family.
func (d *Device) PresentQueue() driver.Queue { return d.present }

// TransferQueue returns queue 0 of the transfer family.
func (d *Device) TransferQueue() driver.Queue { return d.transfer }

// GraphicsPool returns the reset-capable pool frame command buffers are
// allocated from.
func (d *Device) GraphicsPool() *command.Pool { return d.graphicsPool }

// WaitIdle blocks until the device has finished all submitted work.
func (d *Device) WaitIdle() error {
	return d.dev.WaitIdle()
}

// Destroy releases the graphics pool and the logical device. Every object
// created from the device must already be destroyed.
func (d *Device) Destroy() {
	if d.dev == nil {
		return
	}
	if d.graphicsPool != nil {
		d.graphicsPool.Destroy()
		d.graphicsPool = nil
	}
	d.dev.Destroy()
	d.dev = nil
	d.logger.Debug("device: destroyed", "name", d.props.Name)
}
