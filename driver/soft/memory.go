package soft

import (
	"github.com/cockroachdb/errors"
	vkmem "github.com/gogpu/wgpu/hal/vulkan/memory"

	"github.com/gogpu/gfx/driver"
)

// minBlockSize is the smallest sub-allocation handed out by a heap.
const minBlockSize = 256

// Memory type indices.
const (
	memoryTypeDeviceLocal = iota
	memoryTypeHostCoherent
	memoryTypeHostCached
)

func memoryProperties(heapSize uint64) driver.MemoryProperties {
	return driver.MemoryProperties{
		Types: []driver.MemoryType{
			memoryTypeDeviceLocal:  {Flags: driver.MemoryPropertyDeviceLocal, HeapIndex: 0},
			memoryTypeHostCoherent: {Flags: driver.MemoryPropertyHostVisible | driver.MemoryPropertyHostCoherent, HeapIndex: 1},
			memoryTypeHostCached: {
				Flags:     driver.MemoryPropertyHostVisible | driver.MemoryPropertyHostCoherent | driver.MemoryPropertyHostCached,
				HeapIndex: 1,
			},
		},
		Heaps: []driver.MemoryHeap{
			{Size: heapSize, DeviceLocal: true},
			{Size: heapSize},
		},
	}
}

// allocation is a block of a heap. Its bytes live in data; the heap only
// accounts for the address range.
type allocation struct {
	typeIndex uint32
	heap      uint32
	block     vkmem.BuddyBlock
	data      []byte
	mapped    bool
}

func (d *Device) AllocateMemory(desc *driver.AllocationDescriptor) (driver.Allocation, error) {
	if int(desc.MemoryType) >= len(d.props.Types) {
		return 0, errors.Wrapf(driver.ErrInvalidHandle, "soft: memory type %d", desc.MemoryType)
	}
	if desc.Size == 0 {
		return 0, errors.New("soft: allocation size must be non-zero")
	}
	heapIndex := d.props.Types[desc.MemoryType].HeapIndex
	block, err := d.heaps[heapIndex].Alloc(max(desc.Size, desc.Alignment))
	if err != nil {
		return 0, errors.Wrapf(driver.ErrOutOfDeviceMemory, "soft: %d bytes from heap %d: %v", desc.Size, heapIndex, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	h := driver.Allocation(d.handle())
	d.allocs[h] = &allocation{
		typeIndex: desc.MemoryType,
		heap:      heapIndex,
		block:     block,
		data:      make([]byte, desc.Size),
	}
	return h, nil
}

func (d *Device) FreeMemory(a driver.Allocation) {
	if a == 0 {
		return
	}
	d.mu.Lock()
	alloc, ok := d.allocs[a]
	if ok {
		delete(d.allocs, a)
	}
	d.mu.Unlock()
	if !ok {
		d.invalid("FreeMemory: unknown allocation %#x", a)
		return
	}
	if err := d.heaps[alloc.heap].Free(alloc.block); err != nil {
		d.invalid("FreeMemory: %v", err)
	}
}

// HeapUsage returns the bytes currently allocated from a heap.
func (d *Device) HeapUsage(heap int) uint64 {
	if heap < 0 || heap >= len(d.heaps) {
		return 0
	}
	return d.heaps[heap].Stats().AllocatedSize
}

func (d *Device) BindBufferMemory(b driver.Buffer, a driver.Allocation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.buffers[b]
	if !ok {
		return errors.Wrapf(driver.ErrInvalidHandle, "soft: bind unknown buffer %#x", b)
	}
	alloc, ok := d.allocs[a]
	if !ok {
		return errors.Wrapf(driver.ErrInvalidHandle, "soft: bind unknown allocation %#x", a)
	}
	if buf.alloc != 0 {
		d.invalid("BindBufferMemory: buffer %#x is already bound", b)
	}
	if uint64(len(alloc.data)) < buf.size {
		return errors.Newf("soft: allocation of %d bytes cannot back buffer of %d", len(alloc.data), buf.size)
	}
	buf.alloc = a
	return nil
}

func (d *Device) BindImageMemory(img driver.Image, a driver.Allocation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	im, ok := d.images[img]
	if !ok {
		return errors.Wrapf(driver.ErrInvalidHandle, "soft: bind unknown image %#x", img)
	}
	alloc, ok := d.allocs[a]
	if !ok {
		return errors.Wrapf(driver.ErrInvalidHandle, "soft: bind unknown allocation %#x", a)
	}
	if im.desc.Tiling == driver.ImageTilingOptimal && alloc.typeIndex != memoryTypeDeviceLocal {
		d.invalid("BindImageMemory: optimal image %#x bound to memory type %d", img, alloc.typeIndex)
	}
	if uint64(len(alloc.data)) < imageSize(&im.desc) {
		return errors.Newf("soft: allocation of %d bytes cannot back image of %d", len(alloc.data), imageSize(&im.desc))
	}
	im.alloc = a
	return nil
}

func (d *Device) MapMemory(a driver.Allocation) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	alloc, ok := d.allocs[a]
	if !ok {
		return nil, errors.Wrapf(driver.ErrInvalidHandle, "soft: map unknown allocation %#x", a)
	}
	if d.props.Types[alloc.typeIndex].Flags&driver.MemoryPropertyHostVisible == 0 {
		return nil, errors.Wrapf(driver.ErrMemoryMapFailed, "soft: memory type %d is not host visible", alloc.typeIndex)
	}
	if alloc.mapped {
		d.invalid("MapMemory: allocation %#x is already mapped", a)
	}
	alloc.mapped = true
	return alloc.data, nil
}

func (d *Device) UnmapMemory(a driver.Allocation) {
	d.mu.Lock()
	defer d.mu.Unlock()
	alloc, ok := d.allocs[a]
	if !ok || !alloc.mapped {
		d.invalid("UnmapMemory: allocation %#x is not mapped", a)
		return
	}
	alloc.mapped = false
}

// BufferContents returns a copy of the bytes backing b, regardless of the
// memory type it is bound to. It is the soft equivalent of a readback.
func (d *Device) BufferContents(b driver.Buffer) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	mem, err := d.bufferBytes(b)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), mem...), nil
}

// ImageContents returns a copy of the texels backing img.
func (d *Device) ImageContents(img driver.Image) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	im, ok := d.images[img]
	if !ok || im.alloc == 0 {
		return nil, errors.Wrapf(driver.ErrInvalidHandle, "soft: image %#x has no memory", img)
	}
	data := d.allocs[im.alloc].data
	return append([]byte(nil), data[:imageSize(&im.desc)]...), nil
}

// bufferBytes returns the live byte range of b. Callers hold d.mu.
func (d *Device) bufferBytes(b driver.Buffer) ([]byte, error) {
	buf, ok := d.buffers[b]
	if !ok {
		return nil, errors.Wrapf(driver.ErrInvalidHandle, "soft: buffer %#x", b)
	}
	if buf.alloc == 0 {
		return nil, errors.Newf("soft: buffer %#x has no memory bound", b)
	}
	alloc, ok := d.allocs[buf.alloc]
	if !ok {
		return nil, errors.Newf("soft: buffer %#x memory was freed", b)
	}
	return alloc.data[buf.offset : buf.offset+buf.size], nil
}
