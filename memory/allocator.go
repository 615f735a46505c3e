// Package memory creates buffers and images together with their device
// memory and uploads data to device-local resources.
package memory

import (
	"log/slog"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/gfx/deletion"
	"github.com/gogpu/gfx/driver"
	"github.com/gogpu/gfx/gpuerr"
)

// ErrOutOfRange is returned when a write falls outside a buffer.
var ErrOutOfRange = errors.New("memory: write out of range")

// Usage describes who accesses an allocation.
type Usage uint8

const (
	// GPUOnly memory is read and written by the device only.
	GPUOnly Usage = iota
	// CPUToGPU memory is written by the host and read by the device.
	CPUToGPU
	// GPUToCPU memory is written by the device and read back by the host.
	GPUToCPU
	// CPUOnly memory is staging memory the device only copies from.
	CPUOnly
)

func (u Usage) String() string {
	switch u {
	case GPUOnly:
		return "gpu-only"
	case CPUToGPU:
		return "cpu-to-gpu"
	case GPUToCPU:
		return "gpu-to-cpu"
	case CPUOnly:
		return "cpu-only"
	}
	return "unknown"
}

// flags returns the property flags a memory type must have and the ones it
// should have.
func (u Usage) flags() (required, preferred driver.MemoryPropertyFlags) {
	switch u {
	case CPUToGPU:
		return driver.MemoryPropertyHostVisible, driver.MemoryPropertyHostCoherent
	case GPUToCPU:
		return driver.MemoryPropertyHostVisible, driver.MemoryPropertyHostCached
	case CPUOnly:
		return driver.MemoryPropertyHostVisible | driver.MemoryPropertyHostCoherent, 0
	}
	return 0, driver.MemoryPropertyDeviceLocal
}

// HostVisible reports whether allocations of this usage can be mapped.
func (u Usage) HostVisible() bool {
	return u != GPUOnly
}

// FindMemoryType returns the first memory type allowed by typeFilter that
// has all of flags.
func FindMemoryType(props driver.MemoryProperties, typeFilter uint32, flags driver.MemoryPropertyFlags) (uint32, error) {
	for i, t := range props.Types {
		if typeFilter&(1<<uint(i)) != 0 && t.Flags&flags == flags {
			return uint32(i), nil
		}
	}
	return 0, gpuerr.ResourceCreation(nil, "no memory type matches filter %#b with flags %#x", typeFilter, flags)
}

// selectMemoryType tries the preferred flags first, then the required ones.
func selectMemoryType(props driver.MemoryProperties, typeFilter uint32, u Usage) (uint32, error) {
	required, preferred := u.flags()
	if preferred != 0 {
		if idx, err := FindMemoryType(props, typeFilter, required|preferred); err == nil {
			return idx, nil
		}
	}
	return FindMemoryType(props, typeFilter, required)
}

// AllocatedBuffer is a buffer bound to its own allocation.
type AllocatedBuffer struct {
	Buffer     driver.Buffer
	Allocation driver.Allocation
	Size       uint64
	Usage      Usage
}

// AllocatedImage is an image bound to its own allocation, with an optional
// view.
type AllocatedImage struct {
	Image      driver.Image
	Allocation driver.Allocation
	View       driver.ImageView
	Format     driver.Format
	Extent     driver.Extent3D
}

// Allocator creates resources on one device.
type Allocator struct {
	dev    driver.Device
	props  driver.MemoryProperties
	limits driver.Limits
	logger *slog.Logger
}

// NewAllocator returns an allocator for dev. props and limits come from the
// physical device dev was created on.
func NewAllocator(dev driver.Device, props driver.MemoryProperties, limits driver.Limits, logger *slog.Logger) *Allocator {
	if logger == nil {
		logger = slog.New(nopHandler{})
	}
	return &Allocator{dev: dev, props: props, limits: limits, logger: logger}
}

// Device returns the device resources are created on.
func (a *Allocator) Device() driver.Device { return a.dev }

// Limits returns the limits of the physical device.
func (a *Allocator) Limits() driver.Limits { return a.limits }

// PadUniformBufferSize rounds size up to the minimum uniform buffer offset
// alignment.
func (a *Allocator) PadUniformBufferSize(size uint64) uint64 {
	return Pad(size, a.limits.MinUniformBufferOffsetAlignment)
}

// PadStorageBufferSize rounds size up to the minimum storage buffer offset
// alignment.
func (a *Allocator) PadStorageBufferSize(size uint64) uint64 {
	return Pad(size, a.limits.MinStorageBufferOffsetAlignment)
}

// Pad rounds size up to a multiple of align, a power of two. An align of
// zero leaves size unchanged.
func Pad(size, align uint64) uint64 {
	if align == 0 {
		return size
	}
	return (size + align - 1) &^ (align - 1)
}

// CreateBuffer creates a buffer, allocates memory for it and binds the two.
// When q is non-nil the buffer and its memory are registered there, memory
// first, so a flush destroys the buffer before freeing its memory. With a
// nil q the caller releases the buffer through DestroyBuffer.
func (a *Allocator) CreateBuffer(size uint64, usage driver.BufferUsage, mu Usage, q *deletion.Queue) (AllocatedBuffer, error) {
	buf, err := a.dev.CreateBuffer(&driver.BufferDescriptor{Size: size, Usage: usage})
	if err != nil {
		return AllocatedBuffer{}, gpuerr.ResourceCreation(err, "create %d byte buffer", size)
	}
	req := a.dev.BufferMemoryRequirements(buf)
	alloc, err := a.allocate(req, mu)
	if err != nil {
		a.dev.DestroyBuffer(buf)
		return AllocatedBuffer{}, err
	}
	if err := a.dev.BindBufferMemory(buf, alloc); err != nil {
		a.dev.DestroyBuffer(buf)
		a.dev.FreeMemory(alloc)
		return AllocatedBuffer{}, gpuerr.ResourceCreation(err, "bind buffer memory")
	}
	if q != nil {
		q.Push(deletion.KindAllocation, uint64(alloc))
		q.Push(deletion.KindBuffer, uint64(buf))
	}
	a.logger.Debug("memory: buffer created", "size", size, "usage", mu.String())
	return AllocatedBuffer{Buffer: buf, Allocation: alloc, Size: size, Usage: mu}, nil
}

// DestroyBuffer destroys a buffer that was not registered in a queue.
func (a *Allocator) DestroyBuffer(b AllocatedBuffer) {
	a.dev.DestroyBuffer(b.Buffer)
	a.dev.FreeMemory(b.Allocation)
}

// CreateImage creates an image with its memory. Registration in q follows
// the CreateBuffer rules.
func (a *Allocator) CreateImage(desc *driver.ImageDescriptor, mu Usage, q *deletion.Queue) (AllocatedImage, error) {
	img, err := a.dev.CreateImage(desc)
	if err != nil {
		return AllocatedImage{}, gpuerr.ResourceCreation(err, "create %dx%d image", desc.Extent.Width, desc.Extent.Height)
	}
	req := a.dev.ImageMemoryRequirements(img)
	alloc, err := a.allocate(req, mu)
	if err != nil {
		a.dev.DestroyImage(img)
		return AllocatedImage{}, err
	}
	if err := a.dev.BindImageMemory(img, alloc); err != nil {
		a.dev.DestroyImage(img)
		a.dev.FreeMemory(alloc)
		return AllocatedImage{}, gpuerr.ResourceCreation(err, "bind image memory")
	}
	if q != nil {
		q.Push(deletion.KindAllocation, uint64(alloc))
		q.Push(deletion.KindImage, uint64(img))
	}
	return AllocatedImage{Image: img, Allocation: alloc, Format: desc.Format, Extent: desc.Extent}, nil
}

// CreateImageView creates a view of the whole image and registers it in q.
func (a *Allocator) CreateImageView(img *AllocatedImage, aspect driver.ImageAspect, q *deletion.Queue) error {
	view, err := a.dev.CreateImageView(&driver.ImageViewDescriptor{Image: img.Image, Format: img.Format, Aspect: aspect})
	if err != nil {
		return gpuerr.ResourceCreation(err, "create image view")
	}
	if q != nil {
		q.Push(deletion.KindImageView, uint64(view))
	}
	img.View = view
	return nil
}

func (a *Allocator) allocate(req driver.MemoryRequirements, mu Usage) (driver.Allocation, error) {
	typ, err := selectMemoryType(a.props, req.MemoryTypeBits, mu)
	if err != nil {
		return 0, err
	}
	alloc, err := a.dev.AllocateMemory(&driver.AllocationDescriptor{
		Size:       req.Size,
		Alignment:  req.Alignment,
		MemoryType: typ,
	})
	if err != nil {
		return 0, gpuerr.ResourceCreation(err, "allocate %d bytes of memory type %d", req.Size, typ)
	}
	return alloc, nil
}

// Map returns the host view of a host-visible buffer.
func (a *Allocator) Map(b AllocatedBuffer) ([]byte, error) {
	data, err := a.dev.MapMemory(b.Allocation)
	if err != nil {
		return nil, gpuerr.ResourceCreation(err, "map %s buffer", b.Usage)
	}
	return data, nil
}

// Unmap releases the host view returned by Map.
func (a *Allocator) Unmap(b AllocatedBuffer) {
	a.dev.UnmapMemory(b.Allocation)
}

// Write copies data into a host-visible buffer at offset.
func (a *Allocator) Write(b AllocatedBuffer, offset uint64, data []byte) error {
	if offset+uint64(len(data)) > b.Size {
		return errors.Wrapf(ErrOutOfRange, "%d bytes at offset %d into %d byte buffer", len(data), offset, b.Size)
	}
	mapped, err := a.Map(b)
	if err != nil {
		return err
	}
	copy(mapped[offset:], data)
	a.Unmap(b)
	return nil
}
