package driver

import (
	"log/slog"
	"time"

	"github.com/gogpu/gpucontext"
)

// Config configures a driver instance.
type Config struct {
	// AppName is reported to the driver where the API supports it.
	AppName string

	// Window supplies the drawable extent. When it also implements
	// SurfaceProvider, native backends create their presentation surface
	// through it.
	Window gpucontext.WindowProvider

	// Validation enables backend validation (Vulkan layers, soft checks).
	Validation bool

	// Logger receives backend diagnostics. Nil means silent.
	Logger *slog.Logger
}

// SurfaceProvider is implemented by windows that can create a native
// presentation surface.
type SurfaceProvider interface {
	// RequiredInstanceExtensions lists the instance extensions the window
	// system needs for presentation.
	RequiredInstanceExtensions() []string

	// CreateSurface creates a surface for the given native instance handle.
	CreateSurface(instance uintptr) (Surface, error)
}

// Instance is an opened driver: the entry point for device enumeration.
type Instance interface {
	// Name returns the backend name the instance was opened with.
	Name() string

	// PhysicalDevices enumerates the candidate GPUs.
	PhysicalDevices() ([]PhysicalDevice, error)

	// Surface returns the presentation surface, or 0 when headless.
	Surface() Surface

	// Destroy releases the surface and the instance.
	Destroy()
}

// PhysicalDevice is a candidate GPU. It is only queried during selection.
type PhysicalDevice interface {
	Properties() PhysicalDeviceProperties
	Features() Features
	QueueFamilies() []QueueFamily
	Extensions() []string
	MemoryProperties() MemoryProperties
	FormatProperties(format Format) FormatProperties

	// SurfaceSupport reports whether a queue family can present to the
	// instance surface.
	SurfaceSupport(family uint32) (bool, error)
	SurfaceCapabilities() (SurfaceCapabilities, error)
	SurfaceFormats() ([]SurfaceFormat, error)
	PresentModes() ([]PresentMode, error)

	// CreateDevice creates the logical device.
	CreateDevice(desc *DeviceDescriptor) (Device, error)
}

// Device is a logical device. Create* methods return handles that must be
// released by the matching Destroy* method.
type Device interface {
	Queue(family, index uint32) Queue
	WaitIdle() error
	Destroy()

	CreateBuffer(desc *BufferDescriptor) (Buffer, error)
	DestroyBuffer(buffer Buffer)
	BufferMemoryRequirements(buffer Buffer) MemoryRequirements
	CreateImage(desc *ImageDescriptor) (Image, error)
	DestroyImage(image Image)
	ImageMemoryRequirements(image Image) MemoryRequirements

	AllocateMemory(desc *AllocationDescriptor) (Allocation, error)
	FreeMemory(alloc Allocation)
	BindBufferMemory(buffer Buffer, alloc Allocation) error
	BindImageMemory(image Image, alloc Allocation) error
	// MapMemory returns the host view of a host-visible allocation.
	MapMemory(alloc Allocation) ([]byte, error)
	UnmapMemory(alloc Allocation)

	CreateImageView(desc *ImageViewDescriptor) (ImageView, error)
	DestroyImageView(view ImageView)
	CreateSampler(desc *SamplerDescriptor) (Sampler, error)
	DestroySampler(sampler Sampler)

	CreateShaderModule(code []byte) (ShaderModule, error)
	DestroyShaderModule(module ShaderModule)

	CreateDescriptorSetLayout(bindings []DescriptorSetLayoutBinding) (DescriptorSetLayout, error)
	DestroyDescriptorSetLayout(layout DescriptorSetLayout)
	CreateDescriptorPool(desc *DescriptorPoolDescriptor) (DescriptorPool, error)
	DestroyDescriptorPool(pool DescriptorPool)
	ResetDescriptorPool(pool DescriptorPool) error
	// AllocateDescriptorSets returns ErrOutOfPoolMemory or ErrFragmentedPool
	// when the pool cannot satisfy the request. Allocation is all-or-nothing.
	AllocateDescriptorSets(pool DescriptorPool, layouts []DescriptorSetLayout) ([]DescriptorSet, error)
	FreeDescriptorSets(pool DescriptorPool, sets []DescriptorSet) error
	UpdateDescriptorSets(writes []DescriptorWrite)

	CreatePipelineLayout(desc *PipelineLayoutDescriptor) (PipelineLayout, error)
	DestroyPipelineLayout(layout PipelineLayout)
	CreateGraphicsPipeline(desc *GraphicsPipelineDescriptor) (Pipeline, error)
	DestroyPipeline(pipeline Pipeline)
	CreateRenderPass(desc *RenderPassDescriptor) (RenderPass, error)
	DestroyRenderPass(pass RenderPass)
	CreateFramebuffer(desc *FramebufferDescriptor) (Framebuffer, error)
	DestroyFramebuffer(fb Framebuffer)

	CreateCommandPool(family uint32, flags CommandPoolFlags) (CommandPool, error)
	DestroyCommandPool(pool CommandPool)
	ResetCommandPool(pool CommandPool) error
	AllocateCommandBuffers(pool CommandPool, count int) ([]CommandBuffer, error)

	CreateFence(signaled bool) (Fence, error)
	DestroyFence(fence Fence)
	// WaitForFences blocks until all fences are signaled. It returns
	// ErrTimeout when the timeout elapses first; WaitForever disables it.
	WaitForFences(fences []Fence, timeout time.Duration) error
	ResetFences(fences []Fence) error
	FenceStatus(fence Fence) (bool, error)
	CreateSemaphore() (Semaphore, error)
	DestroySemaphore(sem Semaphore)

	CreateSwapchain(desc *SwapchainDescriptor) (Swapchain, error)
	DestroySwapchain(swapchain Swapchain)
	SwapchainImages(swapchain Swapchain) ([]Image, error)
	// AcquireNextImage returns the index of the next presentable image and
	// signals sem once the image may be rendered to.
	AcquireNextImage(swapchain Swapchain, timeout time.Duration, sem Semaphore) (uint32, error)
}

// Queue executes submitted command buffers in order.
type Queue interface {
	// Submit enqueues batches and signals fence (if non-zero) when all of
	// them have completed.
	Submit(submits []SubmitInfo, fence Fence) error
	Present(info *PresentInfo) error
	WaitIdle() error
}

// CommandBuffer records GPU commands.
type CommandBuffer interface {
	Reset() error
	Begin(usage CommandBufferUsage) error
	End() error

	BeginRenderPass(info *RenderPassBeginInfo)
	EndRenderPass()
	BindPipeline(pipeline Pipeline)
	BindDescriptorSets(layout PipelineLayout, firstSet uint32, sets []DescriptorSet, dynamicOffsets []uint32)
	BindVertexBuffer(binding uint32, buffer Buffer, offset uint64)
	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)

	CopyBuffer(src, dst Buffer, regions []BufferCopy)
	CopyBufferToImage(src Buffer, dst Image, layout ImageLayout, regions []BufferImageCopy)
	PipelineBarrier(src, dst PipelineStage, barriers []ImageBarrier)
}
