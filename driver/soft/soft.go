// Package soft implements an in-process GPU for headless runs and tests.
//
// The soft device executes submitted command buffers on one worker goroutine
// per queue, so fences, semaphores and frames in flight behave
// asynchronously the way they do on hardware. Buffer and image memory is
// real host memory: copies move bytes and uploads can be read back.
// Misuse that a Vulkan validation layer would flag (wrong image layouts,
// resetting pending command buffers, out-of-range dynamic offsets, ...)
// is recorded and exposed through Device.ValidationErrors.
//
// The backend registers itself as "soft":
//
//	import _ "github.com/gogpu/gfx/driver/soft"
package soft

import (
	"log/slog"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gfx/driver"
)

func init() {
	driver.Register(driver.NameSoft, func(cfg *driver.Config) (driver.Instance, error) {
		return New(cfg), nil
	})
}

var (
	_ driver.Instance       = (*Instance)(nil)
	_ driver.PhysicalDevice = (*physicalDevice)(nil)
	_ driver.Device         = (*Device)(nil)
	_ driver.Queue          = (*Queue)(nil)
	_ driver.CommandBuffer  = (*CommandBuffer)(nil)
)

// ExtensionSwapchain is the device extension required for presentation.
const ExtensionSwapchain = "VK_KHR_swapchain"

const (
	defaultWidth  = 800
	defaultHeight = 600

	surfaceHandle = driver.Surface(1)
)

// Adapter describes a simulated physical device.
type Adapter struct {
	Properties    driver.PhysicalDeviceProperties
	Features      driver.Features
	QueueFamilies []driver.QueueFamily

	// PresentFamilies lists the families that can present. Nil means all.
	PresentFamilies []uint32

	Extensions     []string
	SurfaceFormats []driver.SurfaceFormat
	PresentModes   []driver.PresentMode
	MinImageCount  uint32
	MaxImageCount  uint32

	// HeapSize is the size of each memory heap. Must be a power of two.
	HeapSize uint64
}

// DefaultAdapter returns a capable discrete GPU with one family supporting
// graphics, transfer and presentation.
func DefaultAdapter() Adapter {
	return Adapter{
		Properties: driver.PhysicalDeviceProperties{
			Name:     "gfx soft device",
			Type:     gputypes.DeviceTypeDiscreteGPU,
			VendorID: 0x10005,
			DeviceID: 1,
			Limits: driver.Limits{
				MaxImageDimension2D:             16384,
				MinUniformBufferOffsetAlignment: 256,
				MinStorageBufferOffsetAlignment: 64,
				MaxUniformBufferRange:           65536,
				MaxStorageBufferRange:           1 << 27,
				MaxSamplerAnisotropy:            16,
				FramebufferColorSampleCounts:    driver.SampleCount1 | driver.SampleCount2 | driver.SampleCount4 | driver.SampleCount8,
				FramebufferDepthSampleCounts:    driver.SampleCount1 | driver.SampleCount2 | driver.SampleCount4,
			},
		},
		Features: driver.Features{GeometryShader: true, SamplerAnisotropy: true},
		QueueFamilies: []driver.QueueFamily{
			{Flags: driver.QueueGraphics | driver.QueueCompute | driver.QueueTransfer, Count: 4},
		},
		Extensions: []string{ExtensionSwapchain},
		SurfaceFormats: []driver.SurfaceFormat{
			{Format: driver.FormatB8G8R8A8Unorm, ColorSpace: driver.ColorSpaceSrgbNonlinear},
			{Format: driver.FormatB8G8R8A8Srgb, ColorSpace: driver.ColorSpaceSrgbNonlinear},
		},
		PresentModes:  []driver.PresentMode{driver.PresentModeFifo, driver.PresentModeMailbox},
		MinImageCount: 2,
		MaxImageCount: 8,
		HeapSize:      256 << 20,
	}
}

// Option configures a soft instance.
type Option func(*Instance)

// WithAdapters replaces the default adapter list.
func WithAdapters(adapters ...Adapter) Option {
	return func(i *Instance) {
		i.adapters = adapters
	}
}

// WithExtent sets the virtual surface extent used when the config carries
// no window.
func WithExtent(width, height uint32) Option {
	return func(i *Instance) {
		i.extent = driver.Extent2D{Width: width, Height: height}
	}
}

// Instance is a soft driver instance with a virtual presentation surface.
type Instance struct {
	mu       sync.Mutex
	cfg      driver.Config
	adapters []Adapter
	extent   driver.Extent2D
	devices  []*Device
	logger   *slog.Logger
}

// New creates a soft instance. cfg may be nil.
func New(cfg *driver.Config, opts ...Option) *Instance {
	inst := &Instance{
		adapters: []Adapter{DefaultAdapter()},
		extent:   driver.Extent2D{Width: defaultWidth, Height: defaultHeight},
		logger:   slog.New(nopHandler{}),
	}
	if cfg != nil {
		inst.cfg = *cfg
		if cfg.Logger != nil {
			inst.logger = cfg.Logger
		}
		if cfg.Window != nil {
			w, h := cfg.Window.Size()
			if w > 0 && h > 0 {
				inst.extent = driver.Extent2D{Width: uint32(w), Height: uint32(h)}
			}
		}
	}
	for _, opt := range opts {
		opt(inst)
	}
	return inst
}

// Name returns "soft".
func (i *Instance) Name() string { return driver.NameSoft }

// Surface returns the virtual surface handle.
func (i *Instance) Surface() driver.Surface { return surfaceHandle }

// PhysicalDevices returns one physical device per configured adapter.
func (i *Instance) PhysicalDevices() ([]driver.PhysicalDevice, error) {
	out := make([]driver.PhysicalDevice, len(i.adapters))
	for n := range i.adapters {
		out[n] = &physicalDevice{inst: i, adapter: i.adapters[n]}
	}
	return out, nil
}

// Resize changes the surface extent. Existing swapchains become out of
// date: acquire and present on them return driver.ErrOutOfDate.
func (i *Instance) Resize(width, height uint32) {
	i.mu.Lock()
	i.extent = driver.Extent2D{Width: width, Height: height}
	devices := append([]*Device(nil), i.devices...)
	i.mu.Unlock()
	for _, d := range devices {
		d.invalidateSwapchains()
	}
}

// Destroy destroys the instance. Devices must be destroyed first.
func (i *Instance) Destroy() {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, d := range i.devices {
		if !d.destroyed() {
			i.logger.Warn("soft: instance destroyed with live device", "adapter", d.adapter.Properties.Name)
		}
	}
	i.devices = nil
}

func (i *Instance) currentExtent() driver.Extent2D {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.extent
}

type physicalDevice struct {
	inst    *Instance
	adapter Adapter
}

func (p *physicalDevice) Properties() driver.PhysicalDeviceProperties { return p.adapter.Properties }
func (p *physicalDevice) Features() driver.Features                   { return p.adapter.Features }
func (p *physicalDevice) Extensions() []string                        { return p.adapter.Extensions }

func (p *physicalDevice) QueueFamilies() []driver.QueueFamily {
	return append([]driver.QueueFamily(nil), p.adapter.QueueFamilies...)
}

// MemoryProperties reports one device-local type on heap 0 and two
// host-visible types on heap 1.
func (p *physicalDevice) MemoryProperties() driver.MemoryProperties {
	return memoryProperties(p.adapter.HeapSize)
}

func (p *physicalDevice) FormatProperties(format driver.Format) driver.FormatProperties {
	switch format {
	case driver.FormatD32Sfloat, driver.FormatD32SfloatS8Uint, driver.FormatD24UnormS8Uint:
		return driver.FormatProperties{OptimalTiling: driver.FormatFeatureDepthStencilAttachment}
	case driver.FormatUndefined:
		return driver.FormatProperties{}
	}
	all := driver.FormatFeatureSampledImage | driver.FormatFeatureColorAttachment
	return driver.FormatProperties{LinearTiling: all, OptimalTiling: all}
}

func (p *physicalDevice) SurfaceSupport(family uint32) (bool, error) {
	if int(family) >= len(p.adapter.QueueFamilies) {
		return false, driver.ErrInvalidHandle
	}
	if p.adapter.PresentFamilies == nil {
		return true, nil
	}
	for _, f := range p.adapter.PresentFamilies {
		if f == family {
			return true, nil
		}
	}
	return false, nil
}

func (p *physicalDevice) SurfaceCapabilities() (driver.SurfaceCapabilities, error) {
	ext := p.inst.currentExtent()
	return driver.SurfaceCapabilities{
		MinImageCount: p.adapter.MinImageCount,
		MaxImageCount: p.adapter.MaxImageCount,
		CurrentExtent: ext,
		MinExtent:     driver.Extent2D{Width: 1, Height: 1},
		MaxExtent: driver.Extent2D{
			Width:  p.adapter.Properties.Limits.MaxImageDimension2D,
			Height: p.adapter.Properties.Limits.MaxImageDimension2D,
		},
	}, nil
}

func (p *physicalDevice) SurfaceFormats() ([]driver.SurfaceFormat, error) {
	return append([]driver.SurfaceFormat(nil), p.adapter.SurfaceFormats...), nil
}

func (p *physicalDevice) PresentModes() ([]driver.PresentMode, error) {
	return append([]driver.PresentMode(nil), p.adapter.PresentModes...), nil
}

func (p *physicalDevice) CreateDevice(desc *driver.DeviceDescriptor) (driver.Device, error) {
	d, err := newDevice(p.inst, p.adapter, desc)
	if err != nil {
		return nil, err
	}
	p.inst.mu.Lock()
	p.inst.devices = append(p.inst.devices, d)
	p.inst.mu.Unlock()
	p.inst.log().Debug("soft: device created", "adapter", p.adapter.Properties.Name, "queues", len(desc.Queues))
	return d, nil
}
