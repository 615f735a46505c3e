//go:build !(js && wasm)

package vulkan

import (
	"log/slog"
	"sync"
	"time"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/wgpu/hal/vulkan/memory"
	"github.com/gogpu/wgpu/hal/vulkan/vk"

	"github.com/gogpu/gfx/driver"
)

// Device is a Vulkan logical device. Memory is sub-allocated by a buddy
// allocator and host-visible blocks stay mapped for their lifetime.
type Device struct {
	pd     *physicalDevice
	handle vk.Device
	cmds   vk.Commands
	logger *slog.Logger

	alloc    *memory.GpuAllocator
	memFlags []driver.MemoryPropertyFlags

	mu        sync.Mutex
	nextAlloc driver.Allocation
	blocks    map[driver.Allocation]*memory.MemoryBlock
	mapped    map[vk.DeviceMemory]uintptr
	queues    map[[2]uint32]*Queue
	passes    map[driver.RenderPass][]bool // per attachment: depth/stencil
}

func newDevice(pd *physicalDevice, handle vk.Device) (*Device, error) {
	d := &Device{
		pd:     pd,
		handle: handle,
		cmds:   pd.inst.cmds,
		logger: pd.inst.log().With("device", pd.props.Name),
		blocks: make(map[driver.Allocation]*memory.MemoryBlock),
		mapped: make(map[vk.DeviceMemory]uintptr),
		queues: make(map[[2]uint32]*Queue),
		passes: make(map[driver.RenderPass][]bool),
	}
	if err := d.cmds.LoadDevice(handle); err != nil {
		pd.inst.cmds.DestroyDevice(handle, nil)
		return nil, errors.Mark(errors.Wrap(err, "vulkan: load device commands"), driver.ErrInitializationFailed)
	}

	var props memory.DeviceMemoryProperties
	for _, t := range pd.memory.MemoryTypes[:pd.memory.MemoryTypeCount] {
		props.MemoryTypes = append(props.MemoryTypes, memory.MemoryType{PropertyFlags: t.PropertyFlags, HeapIndex: t.HeapIndex})
		d.memFlags = append(d.memFlags, driver.MemoryPropertyFlags(t.PropertyFlags))
	}
	for _, h := range pd.memory.MemoryHeaps[:pd.memory.MemoryHeapCount] {
		props.MemoryHeaps = append(props.MemoryHeaps, memory.MemoryHeap{Size: uint64(h.Size), Flags: h.Flags})
	}
	alloc, err := memory.NewGpuAllocator(handle, &d.cmds, props, 0, memory.DefaultConfig())
	if err != nil {
		d.cmds.DestroyDevice(handle, nil)
		return nil, errors.Wrap(err, "vulkan: create memory allocator")
	}
	// vkFreeMemory unmaps implicitly; drop the cached address with it.
	alloc.SetOnFreeCallback(func(m vk.DeviceMemory) {
		d.mu.Lock()
		delete(d.mapped, m)
		d.mu.Unlock()
	})
	d.alloc = alloc
	d.logger.Info("vulkan: device created", "memoryTypes", len(d.memFlags))
	return d, nil
}

func (d *Device) Queue(family, index uint32) driver.Queue {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := [2]uint32{family, index}
	if q, ok := d.queues[key]; ok {
		return q
	}
	var h vk.Queue
	d.cmds.GetDeviceQueue(d.handle, family, index, &h)
	q := &Queue{dev: d, handle: h, family: family}
	d.queues[key] = q
	return q
}

func (d *Device) WaitIdle() error {
	return result(d.cmds.DeviceWaitIdle(d.handle), "vkDeviceWaitIdle")
}

func (d *Device) Destroy() {
	if d.handle == 0 {
		return
	}
	d.mu.Lock()
	leaked := len(d.blocks)
	d.mu.Unlock()
	if leaked > 0 {
		d.logger.Warn("vulkan: destroying device with live allocations", "count", leaked)
	}
	d.alloc.Destroy()
	d.cmds.DestroyDevice(d.handle, nil)
	d.handle = 0
}

// Buffers and images.

func (d *Device) CreateBuffer(desc *driver.BufferDescriptor) (driver.Buffer, error) {
	info := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(desc.Size),
		Usage:       vk.BufferUsageFlags(desc.Usage),
		SharingMode: vk.SharingModeExclusive,
	}
	if len(desc.Families) > 1 {
		info.SharingMode = vk.SharingModeConcurrent
		info.QueueFamilyIndexCount = uint32(len(desc.Families))
		info.PQueueFamilyIndices = &desc.Families[0]
	}
	var h vk.Buffer
	if err := result(d.cmds.CreateBuffer(d.handle, &info, nil, &h), "vkCreateBuffer"); err != nil {
		return 0, err
	}
	return driver.Buffer(h), nil
}

func (d *Device) DestroyBuffer(b driver.Buffer) {
	d.cmds.DestroyBuffer(d.handle, vk.Buffer(b), nil)
}

func (d *Device) BufferMemoryRequirements(b driver.Buffer) driver.MemoryRequirements {
	var r vk.MemoryRequirements
	d.cmds.GetBufferMemoryRequirements(d.handle, vk.Buffer(b), &r)
	return memoryRequirements(r)
}

func (d *Device) CreateImage(desc *driver.ImageDescriptor) (driver.Image, error) {
	info := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    vk.Format(desc.Format),
		Extent: vk.Extent3D{
			Width:  desc.Extent.Width,
			Height: desc.Extent.Height,
			Depth:  max(desc.Extent.Depth, 1),
		},
		MipLevels:     max(desc.MipLevels, 1),
		ArrayLayers:   1,
		Samples:       vk.SampleCountFlagBits(max(desc.Samples, driver.SampleCount1)),
		Tiling:        vk.ImageTiling(desc.Tiling),
		Usage:         vk.ImageUsageFlags(desc.Usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	var h vk.Image
	if err := result(d.cmds.CreateImage(d.handle, &info, nil, &h), "vkCreateImage"); err != nil {
		return 0, err
	}
	return driver.Image(h), nil
}

func (d *Device) DestroyImage(img driver.Image) {
	d.cmds.DestroyImage(d.handle, vk.Image(img), nil)
}

func (d *Device) ImageMemoryRequirements(img driver.Image) driver.MemoryRequirements {
	var r vk.MemoryRequirements
	d.cmds.GetImageMemoryRequirements(d.handle, vk.Image(img), &r)
	return memoryRequirements(r)
}

func memoryRequirements(r vk.MemoryRequirements) driver.MemoryRequirements {
	return driver.MemoryRequirements{Size: uint64(r.Size), Alignment: uint64(r.Alignment), MemoryTypeBits: r.MemoryTypeBits}
}

// Memory.

// usageFor picks the allocator usage matching a memory type so the
// allocator's own preference never overrides the caller's choice.
func usageFor(flags driver.MemoryPropertyFlags) memory.UsageFlags {
	if flags&driver.MemoryPropertyHostVisible != 0 {
		return memory.UsageHostAccess | memory.UsageUpload
	}
	return memory.UsageFastDeviceAccess
}

func (d *Device) AllocateMemory(desc *driver.AllocationDescriptor) (driver.Allocation, error) {
	if int(desc.MemoryType) >= len(d.memFlags) {
		return 0, errors.Wrapf(driver.ErrInvalidHandle, "vulkan: memory type %d", desc.MemoryType)
	}
	block, err := d.alloc.Alloc(memory.AllocationRequest{
		Size:           desc.Size,
		Alignment:      max(desc.Alignment, 1),
		Usage:          usageFor(d.memFlags[desc.MemoryType]),
		MemoryTypeBits: 1 << desc.MemoryType,
	})
	if err != nil {
		return 0, errors.Mark(errors.Wrapf(err, "vulkan: allocate %d bytes of type %d", desc.Size, desc.MemoryType), driver.ErrOutOfDeviceMemory)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextAlloc++
	d.blocks[d.nextAlloc] = block
	return d.nextAlloc, nil
}

func (d *Device) FreeMemory(a driver.Allocation) {
	if a == 0 {
		return
	}
	d.mu.Lock()
	block, ok := d.blocks[a]
	delete(d.blocks, a)
	d.mu.Unlock()
	if !ok {
		d.logger.Warn("vulkan: free of unknown allocation", "allocation", uint64(a))
		return
	}
	if err := d.alloc.Free(block); err != nil {
		d.logger.Warn("vulkan: free memory", "allocation", uint64(a), "err", err)
	}
}

func (d *Device) block(a driver.Allocation) (*memory.MemoryBlock, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.blocks[a]
	if !ok {
		return nil, errors.Wrapf(driver.ErrInvalidHandle, "vulkan: allocation %#x", a)
	}
	return b, nil
}

func (d *Device) BindBufferMemory(b driver.Buffer, a driver.Allocation) error {
	block, err := d.block(a)
	if err != nil {
		return err
	}
	r := d.cmds.BindBufferMemory(d.handle, vk.Buffer(b), block.Memory, vk.DeviceSize(block.Offset))
	return result(r, "vkBindBufferMemory")
}

func (d *Device) BindImageMemory(img driver.Image, a driver.Allocation) error {
	block, err := d.block(a)
	if err != nil {
		return err
	}
	r := d.cmds.BindImageMemory(d.handle, vk.Image(img), block.Memory, vk.DeviceSize(block.Offset))
	return result(r, "vkBindImageMemory")
}

// MapMemory maps the whole VkDeviceMemory behind the block once, since
// Vulkan allows a single mapping per memory object, and returns the
// block's window of it.
func (d *Device) MapMemory(a driver.Allocation) ([]byte, error) {
	block, err := d.block(a)
	if err != nil {
		return nil, err
	}
	if d.memFlags[block.MemoryTypeIndex()]&driver.MemoryPropertyHostVisible == 0 {
		return nil, errors.Wrapf(driver.ErrMemoryMapFailed, "vulkan: memory type %d is not host visible", block.MemoryTypeIndex())
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	base, ok := d.mapped[block.Memory]
	if !ok {
		var ptr uintptr
		r := d.cmds.MapMemory(d.handle, block.Memory, 0, vk.DeviceSize(vk.WholeSize), 0, uintptr(unsafe.Pointer(&ptr)))
		if err := result(r, "vkMapMemory"); err != nil {
			return nil, err
		}
		if ptr == 0 {
			return nil, errors.Wrap(driver.ErrMemoryMapFailed, "vulkan: vkMapMemory returned a null pointer")
		}
		d.mapped[block.Memory] = ptr
		base = ptr
	}
	block.MappedPtr = base + uintptr(block.Offset)
	block.MappedSize = block.Size
	return unsafe.Slice(ptrFromUintptr(block.MappedPtr), block.Size), nil
}

// UnmapMemory is a no-op: memory stays mapped until it is freed.
func (d *Device) UnmapMemory(driver.Allocation) {}

// Views, samplers and shaders.

func (d *Device) CreateImageView(desc *driver.ImageViewDescriptor) (driver.ImageView, error) {
	info := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    vk.Image(desc.Image),
		ViewType: vk.ImageViewType2d,
		Format:   vk.Format(desc.Format),
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: subresourceRange(desc.Aspect),
	}
	var h vk.ImageView
	if err := result(d.cmds.CreateImageView(d.handle, &info, nil, &h), "vkCreateImageView"); err != nil {
		return 0, err
	}
	return driver.ImageView(h), nil
}

func (d *Device) DestroyImageView(v driver.ImageView) {
	d.cmds.DestroyImageView(d.handle, vk.ImageView(v), nil)
}

func subresourceRange(aspect driver.ImageAspect) vk.ImageSubresourceRange {
	return vk.ImageSubresourceRange{AspectMask: vk.ImageAspectFlags(aspect), LevelCount: 1, LayerCount: 1}
}

func (d *Device) CreateSampler(desc *driver.SamplerDescriptor) (driver.Sampler, error) {
	mode := vk.SamplerAddressMode(desc.AddressMode)
	info := vk.SamplerCreateInfo{
		SType:            vk.StructureTypeSamplerCreateInfo,
		MagFilter:        vk.Filter(desc.MagFilter),
		MinFilter:        vk.Filter(desc.MinFilter),
		MipmapMode:       vk.SamplerMipmapModeLinear,
		AddressModeU:     mode,
		AddressModeV:     mode,
		AddressModeW:     mode,
		AnisotropyEnable: bool32(desc.Anisotropy),
		MaxAnisotropy:    desc.MaxAnisotropy,
		CompareOp:        vk.CompareOpAlways,
		BorderColor:      vk.BorderColorIntOpaqueBlack,
	}
	var h vk.Sampler
	if err := result(d.cmds.CreateSampler(d.handle, &info, nil, &h), "vkCreateSampler"); err != nil {
		return 0, err
	}
	return driver.Sampler(h), nil
}

func (d *Device) DestroySampler(s driver.Sampler) {
	d.cmds.DestroySampler(d.handle, vk.Sampler(s), nil)
}

// CreateShaderModule takes SPIR-V. The code must be a whole number of
// 32-bit words.
func (d *Device) CreateShaderModule(code []byte) (driver.ShaderModule, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return 0, errors.Newf("vulkan: shader code of %d bytes is not SPIR-V", len(code))
	}
	words := make([]uint32, len(code)/4)
	copy(unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), len(code)), code)
	info := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uintptr(len(code)),
		PCode:    &words[0],
	}
	var h vk.ShaderModule
	if err := result(d.cmds.CreateShaderModule(d.handle, &info, nil, &h), "vkCreateShaderModule"); err != nil {
		return 0, err
	}
	return driver.ShaderModule(h), nil
}

func (d *Device) DestroyShaderModule(m driver.ShaderModule) {
	d.cmds.DestroyShaderModule(d.handle, vk.ShaderModule(m), nil)
}

// Synchronization.

func (d *Device) CreateFence(signaled bool) (driver.Fence, error) {
	info := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	if signaled {
		info.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var h vk.Fence
	if err := result(d.cmds.CreateFence(d.handle, &info, nil, &h), "vkCreateFence"); err != nil {
		return 0, err
	}
	return driver.Fence(h), nil
}

func (d *Device) DestroyFence(f driver.Fence) {
	d.cmds.DestroyFence(d.handle, vk.Fence(f), nil)
}

// timeoutNanos converts a wait deadline to Vulkan's nanosecond count.
func timeoutNanos(t time.Duration) uint64 {
	if t < 0 {
		return ^uint64(0)
	}
	return uint64(t.Nanoseconds())
}

func (d *Device) WaitForFences(fences []driver.Fence, timeout time.Duration) error {
	if len(fences) == 0 {
		return nil
	}
	hs := handles[vk.Fence](fences)
	r := d.cmds.WaitForFences(d.handle, uint32(len(hs)), &hs[0], 1, timeoutNanos(timeout))
	return result(r, "vkWaitForFences")
}

func (d *Device) ResetFences(fences []driver.Fence) error {
	if len(fences) == 0 {
		return nil
	}
	hs := handles[vk.Fence](fences)
	return result(d.cmds.ResetFences(d.handle, uint32(len(hs)), &hs[0]), "vkResetFences")
}

func (d *Device) FenceStatus(f driver.Fence) (bool, error) {
	switch r := d.cmds.GetFenceStatus(d.handle, vk.Fence(f)); r {
	case vk.Success:
		return true, nil
	case vk.NotReady:
		return false, nil
	default:
		return false, result(r, "vkGetFenceStatus")
	}
}

func (d *Device) CreateSemaphore() (driver.Semaphore, error) {
	info := vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
	var h vk.Semaphore
	if err := result(d.cmds.CreateSemaphore(d.handle, &info, nil, &h), "vkCreateSemaphore"); err != nil {
		return 0, err
	}
	return driver.Semaphore(h), nil
}

func (d *Device) DestroySemaphore(s driver.Semaphore) {
	d.cmds.DestroySemaphore(d.handle, vk.Semaphore(s), nil)
}
