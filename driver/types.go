package driver

import (
	"time"

	"github.com/gogpu/gputypes"
)

// Non-dispatchable object handles. The zero value is the null handle.
type (
	Buffer              uint64
	Image               uint64
	ImageView           uint64
	Sampler             uint64
	Allocation          uint64
	Fence               uint64
	Semaphore           uint64
	CommandPool         uint64
	DescriptorSetLayout uint64
	DescriptorPool      uint64
	DescriptorSet       uint64
	PipelineLayout      uint64
	Pipeline            uint64
	ShaderModule        uint64
	RenderPass          uint64
	Framebuffer         uint64
	Swapchain           uint64
	Surface             uint64
)

// WaitForever disables the deadline of a fence wait.
const WaitForever time.Duration = -1

// The enumerations below carry Vulkan's numeric values so backends built on
// Vulkan convert them with a plain cast.

// Format is a texel or vertex attribute format.
type Format int32

const (
	FormatUndefined          Format = 0
	FormatR8G8B8A8Unorm      Format = 37
	FormatR8G8B8A8Srgb       Format = 43
	FormatB8G8R8A8Unorm      Format = 44
	FormatB8G8R8A8Srgb       Format = 50
	FormatR32G32Sfloat       Format = 103
	FormatR32G32B32Sfloat    Format = 106
	FormatR32G32B32A32Sfloat Format = 109
	FormatD32Sfloat          Format = 126
	FormatD24UnormS8Uint     Format = 129
	FormatD32SfloatS8Uint    Format = 130
)

// HasStencil reports whether a depth format also carries a stencil aspect.
func (f Format) HasStencil() bool {
	return f == FormatD32SfloatS8Uint || f == FormatD24UnormS8Uint
}

// BytesPerTexel returns the size of one texel for color formats, or 0.
func (f Format) BytesPerTexel() uint32 {
	switch f {
	case FormatR8G8B8A8Unorm, FormatR8G8B8A8Srgb, FormatB8G8R8A8Unorm, FormatB8G8R8A8Srgb, FormatD32Sfloat, FormatD24UnormS8Uint:
		return 4
	case FormatD32SfloatS8Uint, FormatR32G32Sfloat:
		return 8
	case FormatR32G32B32Sfloat:
		return 12
	case FormatR32G32B32A32Sfloat:
		return 16
	}
	return 0
}

// ColorSpace is a swapchain color space.
type ColorSpace int32

// ColorSpaceSrgbNonlinear is VK_COLOR_SPACE_SRGB_NONLINEAR_KHR.
const ColorSpaceSrgbNonlinear ColorSpace = 0

// PresentMode is a swapchain presentation mode.
type PresentMode int32

const (
	PresentModeImmediate   PresentMode = 0
	PresentModeMailbox     PresentMode = 1
	PresentModeFifo        PresentMode = 2
	PresentModeFifoRelaxed PresentMode = 3
)

// String returns the Vulkan-style mode name.
func (m PresentMode) String() string {
	switch m {
	case PresentModeImmediate:
		return "immediate"
	case PresentModeMailbox:
		return "mailbox"
	case PresentModeFifo:
		return "fifo"
	case PresentModeFifoRelaxed:
		return "fifo-relaxed"
	}
	return "unknown"
}

// QueueFlags describes the capabilities of a queue family.
type QueueFlags uint32

const (
	QueueGraphics QueueFlags = 0x1
	QueueCompute  QueueFlags = 0x2
	QueueTransfer QueueFlags = 0x4
)

// BufferUsage is a set of buffer usage bits.
type BufferUsage uint32

const (
	BufferUsageTransferSrc BufferUsage = 0x1
	BufferUsageTransferDst BufferUsage = 0x2
	BufferUsageUniform     BufferUsage = 0x10
	BufferUsageStorage     BufferUsage = 0x20
	BufferUsageIndex       BufferUsage = 0x40
	BufferUsageVertex      BufferUsage = 0x80
)

// ImageUsage is a set of image usage bits.
type ImageUsage uint32

const (
	ImageUsageTransferSrc            ImageUsage = 0x1
	ImageUsageTransferDst            ImageUsage = 0x2
	ImageUsageSampled                ImageUsage = 0x4
	ImageUsageStorage                ImageUsage = 0x8
	ImageUsageColorAttachment        ImageUsage = 0x10
	ImageUsageDepthStencilAttachment ImageUsage = 0x20
)

// MemoryPropertyFlags describes a memory type.
type MemoryPropertyFlags uint32

const (
	MemoryPropertyDeviceLocal  MemoryPropertyFlags = 0x1
	MemoryPropertyHostVisible  MemoryPropertyFlags = 0x2
	MemoryPropertyHostCoherent MemoryPropertyFlags = 0x4
	MemoryPropertyHostCached   MemoryPropertyFlags = 0x8
)

// DescriptorType is the kind of resource a descriptor references.
type DescriptorType int32

const (
	DescriptorTypeSampler              DescriptorType = 0
	DescriptorTypeCombinedImageSampler DescriptorType = 1
	DescriptorTypeSampledImage         DescriptorType = 2
	DescriptorTypeStorageImage         DescriptorType = 3
	DescriptorTypeUniformBuffer        DescriptorType = 6
	DescriptorTypeStorageBuffer        DescriptorType = 7
	DescriptorTypeUniformBufferDynamic DescriptorType = 8
	DescriptorTypeStorageBufferDynamic DescriptorType = 9
)

// IsDynamic reports whether the descriptor consumes a dynamic offset at bind time.
func (t DescriptorType) IsDynamic() bool {
	return t == DescriptorTypeUniformBufferDynamic || t == DescriptorTypeStorageBufferDynamic
}

// IsImage reports whether the descriptor references an image or sampler.
func (t DescriptorType) IsImage() bool {
	return t == DescriptorTypeSampler || t == DescriptorTypeCombinedImageSampler ||
		t == DescriptorTypeSampledImage || t == DescriptorTypeStorageImage
}

// ShaderStage is a set of shader stage bits.
type ShaderStage uint32

const (
	ShaderStageVertex   ShaderStage = 0x1
	ShaderStageGeometry ShaderStage = 0x8
	ShaderStageFragment ShaderStage = 0x10
	ShaderStageCompute  ShaderStage = 0x20
)

// PipelineStage is a set of pipeline stage bits.
type PipelineStage uint32

const (
	PipelineStageTopOfPipe             PipelineStage = 0x1
	PipelineStageVertexInput           PipelineStage = 0x4
	PipelineStageVertexShader          PipelineStage = 0x8
	PipelineStageFragmentShader        PipelineStage = 0x80
	PipelineStageEarlyFragmentTests    PipelineStage = 0x100
	PipelineStageLateFragmentTests     PipelineStage = 0x200
	PipelineStageColorAttachmentOutput PipelineStage = 0x400
	PipelineStageTransfer              PipelineStage = 0x1000
	PipelineStageBottomOfPipe          PipelineStage = 0x2000
)

// AccessFlags is a set of memory access bits.
type AccessFlags uint32

const (
	AccessNone                        AccessFlags = 0
	AccessVertexAttributeRead         AccessFlags = 0x4
	AccessUniformRead                 AccessFlags = 0x8
	AccessShaderRead                  AccessFlags = 0x20
	AccessColorAttachmentRead         AccessFlags = 0x80
	AccessColorAttachmentWrite        AccessFlags = 0x100
	AccessDepthStencilAttachmentRead  AccessFlags = 0x200
	AccessDepthStencilAttachmentWrite AccessFlags = 0x400
	AccessTransferRead                AccessFlags = 0x800
	AccessTransferWrite               AccessFlags = 0x1000
)

// ImageLayout is the layout of an image subresource.
type ImageLayout int32

const (
	ImageLayoutUndefined                     ImageLayout = 0
	ImageLayoutGeneral                       ImageLayout = 1
	ImageLayoutColorAttachmentOptimal        ImageLayout = 2
	ImageLayoutDepthStencilAttachmentOptimal ImageLayout = 3
	ImageLayoutShaderReadOnlyOptimal         ImageLayout = 5
	ImageLayoutTransferSrcOptimal            ImageLayout = 6
	ImageLayoutTransferDstOptimal            ImageLayout = 7
	ImageLayoutPresentSrc                    ImageLayout = 1000001002
)

// SampleCount is a set of sample count bits.
type SampleCount uint32

const (
	SampleCount1  SampleCount = 0x1
	SampleCount2  SampleCount = 0x2
	SampleCount4  SampleCount = 0x4
	SampleCount8  SampleCount = 0x8
	SampleCount16 SampleCount = 0x10
	SampleCount32 SampleCount = 0x20
	SampleCount64 SampleCount = 0x40
)

// ImageAspect selects the aspects of an image view or barrier.
type ImageAspect uint32

const (
	ImageAspectColor   ImageAspect = 0x1
	ImageAspectDepth   ImageAspect = 0x2
	ImageAspectStencil ImageAspect = 0x4
)

// ImageTiling is the texel arrangement of an image.
type ImageTiling int32

const (
	ImageTilingOptimal ImageTiling = 0
	ImageTilingLinear  ImageTiling = 1
)

// FormatFeatureFlags describes what a format supports for a tiling.
type FormatFeatureFlags uint32

const (
	FormatFeatureSampledImage           FormatFeatureFlags = 0x1
	FormatFeatureColorAttachment        FormatFeatureFlags = 0x80
	FormatFeatureDepthStencilAttachment FormatFeatureFlags = 0x200
)

// CommandPoolFlags selects how command buffers from a pool are used.
type CommandPoolFlags uint32

const (
	// CommandPoolTransient hints that buffers are short-lived (uploads).
	CommandPoolTransient CommandPoolFlags = 0x1
	// CommandPoolResetCommandBuffer allows resetting individual buffers.
	CommandPoolResetCommandBuffer CommandPoolFlags = 0x2
)

// CommandBufferUsage describes how a recording will be submitted.
type CommandBufferUsage uint32

// CommandBufferUsageOneTimeSubmit marks a recording submitted exactly once.
const CommandBufferUsageOneTimeSubmit CommandBufferUsage = 0x1

// DescriptorPoolFlags configures a descriptor pool.
type DescriptorPoolFlags uint32

// DescriptorPoolFreeDescriptorSet allows freeing individual sets.
const DescriptorPoolFreeDescriptorSet DescriptorPoolFlags = 0x1

// Filter is a sampler filter.
type Filter int32

const (
	FilterNearest Filter = 0
	FilterLinear  Filter = 1
)

// AddressMode is a sampler addressing mode.
type AddressMode int32

const (
	AddressModeRepeat       AddressMode = 0
	AddressModeMirrorRepeat AddressMode = 1
	AddressModeClampToEdge  AddressMode = 2
)

// CompareOp is a depth comparison operator.
type CompareOp int32

const (
	CompareOpNever       CompareOp = 0
	CompareOpLess        CompareOp = 1
	CompareOpLessOrEqual CompareOp = 3
	CompareOpAlways      CompareOp = 7
)

// LoadOp is an attachment load operation.
type LoadOp int32

const (
	LoadOpLoad     LoadOp = 0
	LoadOpClear    LoadOp = 1
	LoadOpDontCare LoadOp = 2
)

// StoreOp is an attachment store operation.
type StoreOp int32

const (
	StoreOpStore    StoreOp = 0
	StoreOpDontCare StoreOp = 1
)

// Topology is a primitive topology.
type Topology int32

// TopologyTriangleList draws independent triangles.
const TopologyTriangleList Topology = 3

// PolygonMode is a rasterization fill mode.
type PolygonMode int32

const (
	PolygonModeFill PolygonMode = 0
	PolygonModeLine PolygonMode = 1
)

// CullMode selects culled faces.
type CullMode uint32

const (
	CullModeNone  CullMode = 0
	CullModeFront CullMode = 1
	CullModeBack  CullMode = 2
)

// FrontFace is the winding of front-facing triangles.
type FrontFace int32

const (
	FrontFaceCounterClockwise FrontFace = 0
	FrontFaceClockwise        FrontFace = 1
)

// Extent2D is a size in pixels.
type Extent2D struct {
	Width, Height uint32
}

// Extent3D is a size in texels.
type Extent3D struct {
	Width, Height, Depth uint32
}

// Limits is the subset of device limits the engine consumes.
type Limits struct {
	MaxImageDimension2D             uint32
	MinUniformBufferOffsetAlignment uint64
	MinStorageBufferOffsetAlignment uint64
	MaxUniformBufferRange           uint32
	MaxStorageBufferRange           uint32
	MaxSamplerAnisotropy            float32
	FramebufferColorSampleCounts    SampleCount
	FramebufferDepthSampleCounts    SampleCount
}

// PhysicalDeviceProperties describes a candidate GPU.
type PhysicalDeviceProperties struct {
	Name     string
	Type     gputypes.DeviceType
	VendorID uint32
	DeviceID uint32
	Limits   Limits
}

// Features is the subset of device features the engine requires or enables.
type Features struct {
	GeometryShader    bool
	SamplerAnisotropy bool
}

// QueueFamily describes one queue family of a physical device.
type QueueFamily struct {
	Flags QueueFlags
	Count uint32
}

// SurfaceFormat is a swapchain format/color space pair.
type SurfaceFormat struct {
	Format     Format
	ColorSpace ColorSpace
}

// SurfaceCapabilities describes the presentation surface limits.
// CurrentExtent.Width == math.MaxUint32 means the extent is chosen by the
// swapchain.
type SurfaceCapabilities struct {
	MinImageCount uint32
	MaxImageCount uint32 // 0 means unbounded
	CurrentExtent Extent2D
	MinExtent     Extent2D
	MaxExtent     Extent2D
}

// MemoryType is one memory type exposed by a device.
type MemoryType struct {
	Flags     MemoryPropertyFlags
	HeapIndex uint32
}

// MemoryHeap is one memory heap exposed by a device.
type MemoryHeap struct {
	Size        uint64
	DeviceLocal bool
}

// MemoryProperties lists the memory types and heaps of a device.
type MemoryProperties struct {
	Types []MemoryType
	Heaps []MemoryHeap
}

// FormatProperties lists format features per tiling.
type FormatProperties struct {
	LinearTiling  FormatFeatureFlags
	OptimalTiling FormatFeatureFlags
}

// QueueCreateInfo requests queues from one family.
type QueueCreateInfo struct {
	Family     uint32
	Priorities []float32
}

// DeviceDescriptor describes a logical device to create.
type DeviceDescriptor struct {
	Queues     []QueueCreateInfo
	Extensions []string
	Features   Features
}

// MemoryRequirements is what a buffer or image needs from its memory.
type MemoryRequirements struct {
	Size           uint64
	Alignment      uint64
	MemoryTypeBits uint32
}

// AllocationDescriptor describes a memory allocation.
type AllocationDescriptor struct {
	Size       uint64
	Alignment  uint64
	MemoryType uint32
}

// BufferDescriptor describes a buffer to create.
type BufferDescriptor struct {
	Size  uint64
	Usage BufferUsage
	// Families lists queue families sharing the buffer concurrently.
	// Fewer than two means exclusive ownership.
	Families []uint32
}

// ImageDescriptor describes a 2D image to create.
type ImageDescriptor struct {
	Format    Format
	Extent    Extent3D
	MipLevels uint32
	Samples   SampleCount
	Tiling    ImageTiling
	Usage     ImageUsage
}

// ImageViewDescriptor describes a 2D image view.
type ImageViewDescriptor struct {
	Image  Image
	Format Format
	Aspect ImageAspect
}

// SamplerDescriptor describes a sampler.
type SamplerDescriptor struct {
	MagFilter     Filter
	MinFilter     Filter
	AddressMode   AddressMode
	Anisotropy    bool
	MaxAnisotropy float32
}

// DescriptorSetLayoutBinding is one binding of a set layout.
type DescriptorSetLayoutBinding struct {
	Binding uint32
	Type    DescriptorType
	Count   uint32
	Stages  ShaderStage
}

// DescriptorPoolSize is the capacity of one descriptor type in a pool.
type DescriptorPoolSize struct {
	Type  DescriptorType
	Count uint32
}

// DescriptorPoolDescriptor describes a descriptor pool.
type DescriptorPoolDescriptor struct {
	MaxSets uint32
	Sizes   []DescriptorPoolSize
	Flags   DescriptorPoolFlags
}

// DescriptorBufferInfo references a buffer range.
type DescriptorBufferInfo struct {
	Buffer Buffer
	Offset uint64
	Range  uint64
}

// DescriptorImageInfo references a sampled image.
type DescriptorImageInfo struct {
	Sampler Sampler
	View    ImageView
	Layout  ImageLayout
}

// DescriptorWrite updates one binding of a descriptor set.
// Exactly one of Buffers and Images is set, depending on Type.
type DescriptorWrite struct {
	Set     DescriptorSet
	Binding uint32
	Type    DescriptorType
	Buffers []DescriptorBufferInfo
	Images  []DescriptorImageInfo
}

// PushConstantRange is a push constant block of a pipeline layout.
type PushConstantRange struct {
	Stages ShaderStage
	Offset uint32
	Size   uint32
}

// PipelineLayoutDescriptor describes a pipeline layout.
type PipelineLayoutDescriptor struct {
	SetLayouts    []DescriptorSetLayout
	PushConstants []PushConstantRange
}

// ShaderStageDescriptor names the entry point of a module for a stage.
type ShaderStageDescriptor struct {
	Stage  ShaderStage
	Module ShaderModule
	Entry  string
}

// VertexBinding describes one vertex buffer binding.
type VertexBinding struct {
	Binding uint32
	Stride  uint32
}

// VertexAttribute describes one vertex attribute.
type VertexAttribute struct {
	Location uint32
	Binding  uint32
	Format   Format
	Offset   uint32
}

// Viewport is a viewport transform.
type Viewport struct {
	X, Y, Width, Height, MinDepth, MaxDepth float32
}

// Rect2D is a pixel rectangle.
type Rect2D struct {
	X, Y   int32
	Extent Extent2D
}

// GraphicsPipelineDescriptor describes a graphics pipeline.
type GraphicsPipelineDescriptor struct {
	Stages           []ShaderStageDescriptor
	VertexBindings   []VertexBinding
	VertexAttributes []VertexAttribute
	Topology         Topology
	Viewport         Viewport
	Scissor          Rect2D
	PolygonMode      PolygonMode
	CullMode         CullMode
	FrontFace        FrontFace
	Samples          SampleCount
	BlendEnable      bool
	DepthTest        bool
	DepthWrite       bool
	DepthCompare     CompareOp
	Layout           PipelineLayout
	RenderPass       RenderPass
	Subpass          uint32
}

// AttachmentDescription describes one render pass attachment.
type AttachmentDescription struct {
	Format         Format
	Samples        SampleCount
	LoadOp         LoadOp
	StoreOp        StoreOp
	StencilLoadOp  LoadOp
	StencilStoreOp StoreOp
	InitialLayout  ImageLayout
	FinalLayout    ImageLayout
}

// AttachmentReference references an attachment from a subpass.
type AttachmentReference struct {
	Attachment uint32
	Layout     ImageLayout
}

// SubpassDescription describes a graphics subpass.
type SubpassDescription struct {
	ColorAttachments []AttachmentReference
	DepthAttachment  *AttachmentReference
}

// SubpassExternal refers to work outside the render pass.
const SubpassExternal = ^uint32(0)

// SubpassDependency orders work between subpasses.
type SubpassDependency struct {
	SrcSubpass uint32
	DstSubpass uint32
	SrcStages  PipelineStage
	DstStages  PipelineStage
	SrcAccess  AccessFlags
	DstAccess  AccessFlags
}

// RenderPassDescriptor describes a render pass.
type RenderPassDescriptor struct {
	Attachments  []AttachmentDescription
	Subpasses    []SubpassDescription
	Dependencies []SubpassDependency
}

// FramebufferDescriptor describes a framebuffer.
type FramebufferDescriptor struct {
	RenderPass  RenderPass
	Attachments []ImageView
	Extent      Extent2D
}

// SwapchainDescriptor describes a swapchain for a surface.
type SwapchainDescriptor struct {
	Surface       Surface
	MinImageCount uint32
	Format        SurfaceFormat
	Extent        Extent2D
	PresentMode   PresentMode
	Usage         ImageUsage
	// Families lists the queue families sharing the images concurrently.
	// Fewer than two means exclusive ownership.
	Families []uint32
	Old      Swapchain
}

// ClearValue is a color or depth/stencil clear value.
type ClearValue struct {
	Color   [4]float32
	Depth   float32
	Stencil uint32
}

// RenderPassBeginInfo starts a render pass instance.
type RenderPassBeginInfo struct {
	RenderPass  RenderPass
	Framebuffer Framebuffer
	Area        Rect2D
	ClearValues []ClearValue
}

// BufferCopy is one buffer-to-buffer copy region.
type BufferCopy struct {
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

// BufferImageCopy is one buffer-to-image copy region.
type BufferImageCopy struct {
	BufferOffset uint64
	Aspect       ImageAspect
	Extent       Extent3D
}

// ImageBarrier transitions an image between layouts.
type ImageBarrier struct {
	Image     Image
	Aspect    ImageAspect
	OldLayout ImageLayout
	NewLayout ImageLayout
	SrcAccess AccessFlags
	DstAccess AccessFlags
}

// SubmitInfo is one batch of a queue submission.
type SubmitInfo struct {
	WaitSemaphores   []Semaphore
	WaitStages       []PipelineStage
	CommandBuffers   []CommandBuffer
	SignalSemaphores []Semaphore
}

// PresentInfo presents one swapchain image.
type PresentInfo struct {
	WaitSemaphores []Semaphore
	Swapchain      Swapchain
	ImageIndex     uint32
}
