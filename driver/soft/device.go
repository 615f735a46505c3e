package soft

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	vkmem "github.com/gogpu/wgpu/hal/vulkan/memory"

	"github.com/gogpu/gfx/driver"
)

// spirvMagic is the first word of every SPIR-V module.
const spirvMagic = 0x07230203

// ErrInvalidSPIRV is returned by CreateShaderModule for code that is not a
// SPIR-V module.
var ErrInvalidSPIRV = errors.New("soft: invalid SPIR-V")

// Stats counts work executed by a device.
type Stats struct {
	Submits  int
	Executed int // command buffers
	Draws    int
	Copies   int
	Presents int
	Acquires int
}

type queueKey struct{ family, index uint32 }

type buffer struct {
	size   uint64
	usage  driver.BufferUsage
	alloc  driver.Allocation
	offset uint64
}

type image struct {
	desc      driver.ImageDescriptor
	alloc     driver.Allocation
	layout    driver.ImageLayout
	swapchain driver.Swapchain
}

type pipeline struct {
	desc   driver.GraphicsPipelineDescriptor
	layout driver.PipelineLayout
}

// Device is a soft logical device.
type Device struct {
	inst    *Instance
	adapter Adapter
	logger  *slog.Logger
	props   driver.MemoryProperties

	mu     sync.Mutex
	next   uint64
	dead   bool
	lost   chan struct{}
	heaps  []*vkmem.BuddyAllocator
	queues map[queueKey]*Queue

	buffers         map[driver.Buffer]*buffer
	images          map[driver.Image]*image
	views           map[driver.ImageView]driver.ImageViewDescriptor
	samplers        map[driver.Sampler]driver.SamplerDescriptor
	allocs          map[driver.Allocation]*allocation
	shaders         map[driver.ShaderModule]int
	setLayouts      map[driver.DescriptorSetLayout]*setLayout
	descPools       map[driver.DescriptorPool]*descriptorPool
	sets            map[driver.DescriptorSet]*descriptorSet
	pipelineLayouts map[driver.PipelineLayout]driver.PipelineLayoutDescriptor
	pipelines       map[driver.Pipeline]*pipeline
	renderPasses    map[driver.RenderPass]*driver.RenderPassDescriptor
	framebuffers    map[driver.Framebuffer]*driver.FramebufferDescriptor
	cmdPools        map[driver.CommandPool]*commandPool
	fences          map[driver.Fence]*fence
	semaphores      map[driver.Semaphore]*semaphore
	swapchains      map[driver.Swapchain]*swapchain

	stats      Stats
	fenceWaits []driver.Fence

	vmu        sync.Mutex
	validation []string
}

func newDevice(inst *Instance, adapter Adapter, desc *driver.DeviceDescriptor) (*Device, error) {
	if desc == nil || len(desc.Queues) == 0 {
		return nil, errors.Wrap(driver.ErrInitializationFailed, "soft: device needs at least one queue")
	}
	for _, ext := range desc.Extensions {
		if !contains(adapter.Extensions, ext) {
			return nil, errors.Wrapf(driver.ErrInitializationFailed, "soft: extension %s not supported", ext)
		}
	}
	if desc.Features.GeometryShader && !adapter.Features.GeometryShader ||
		desc.Features.SamplerAnisotropy && !adapter.Features.SamplerAnisotropy {
		return nil, errors.Wrap(driver.ErrInitializationFailed, "soft: requested feature not supported")
	}

	d := &Device{
		inst:            inst,
		adapter:         adapter,
		logger:          inst.log(),
		props:           memoryProperties(adapter.HeapSize),
		lost:            make(chan struct{}),
		queues:          make(map[queueKey]*Queue),
		buffers:         make(map[driver.Buffer]*buffer),
		images:          make(map[driver.Image]*image),
		views:           make(map[driver.ImageView]driver.ImageViewDescriptor),
		samplers:        make(map[driver.Sampler]driver.SamplerDescriptor),
		allocs:          make(map[driver.Allocation]*allocation),
		shaders:         make(map[driver.ShaderModule]int),
		setLayouts:      make(map[driver.DescriptorSetLayout]*setLayout),
		descPools:       make(map[driver.DescriptorPool]*descriptorPool),
		sets:            make(map[driver.DescriptorSet]*descriptorSet),
		pipelineLayouts: make(map[driver.PipelineLayout]driver.PipelineLayoutDescriptor),
		pipelines:       make(map[driver.Pipeline]*pipeline),
		renderPasses:    make(map[driver.RenderPass]*driver.RenderPassDescriptor),
		framebuffers:    make(map[driver.Framebuffer]*driver.FramebufferDescriptor),
		cmdPools:        make(map[driver.CommandPool]*commandPool),
		fences:          make(map[driver.Fence]*fence),
		semaphores:      make(map[driver.Semaphore]*semaphore),
		swapchains:      make(map[driver.Swapchain]*swapchain),
	}
	for range d.props.Heaps {
		heap, err := vkmem.NewBuddyAllocator(adapter.HeapSize, minBlockSize)
		if err != nil {
			return nil, errors.Wrapf(driver.ErrInitializationFailed, "soft: heap of %d bytes: %v", adapter.HeapSize, err)
		}
		d.heaps = append(d.heaps, heap)
	}

	seen := make(map[uint32]bool)
	for _, qi := range desc.Queues {
		if int(qi.Family) >= len(adapter.QueueFamilies) {
			return nil, errors.Wrapf(driver.ErrInitializationFailed, "soft: queue family %d does not exist", qi.Family)
		}
		if seen[qi.Family] {
			d.invalid("CreateDevice: queue family %d requested twice", qi.Family)
		}
		seen[qi.Family] = true
		if n := uint32(len(qi.Priorities)); n == 0 || n > adapter.QueueFamilies[qi.Family].Count {
			return nil, errors.Wrapf(driver.ErrInitializationFailed, "soft: %d queues requested from family %d", n, qi.Family)
		}
		for idx := range qi.Priorities {
			key := queueKey{qi.Family, uint32(idx)}
			d.queues[key] = newQueue(d, qi.Family)
		}
	}
	return d, nil
}

// invalid records a validation error. Safe to call with or without d.mu.
func (d *Device) invalid(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	d.vmu.Lock()
	d.validation = append(d.validation, msg)
	d.vmu.Unlock()
	d.logger.Warn("soft: validation", "error", msg)
}

// ValidationErrors returns the misuse recorded so far.
func (d *Device) ValidationErrors() []string {
	d.vmu.Lock()
	defer d.vmu.Unlock()
	return append([]string(nil), d.validation...)
}

// Stats returns execution counters.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// FenceWaits returns every fence passed to WaitForFences, in call order.
func (d *Device) FenceWaits() []driver.Fence {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]driver.Fence(nil), d.fenceWaits...)
}

// LiveObjects returns the number of live objects per kind, omitting kinds
// with none. Swapchain images are owned by their swapchain and not counted.
func (d *Device) LiveObjects() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	owned := 0
	for _, img := range d.images {
		if img.swapchain == 0 {
			owned++
		}
	}
	counts := map[string]int{
		"buffer":                len(d.buffers),
		"image":                 owned,
		"image-view":            len(d.views),
		"sampler":               len(d.samplers),
		"allocation":            len(d.allocs),
		"shader-module":         len(d.shaders),
		"descriptor-set-layout": len(d.setLayouts),
		"descriptor-pool":       len(d.descPools),
		"pipeline-layout":       len(d.pipelineLayouts),
		"pipeline":              len(d.pipelines),
		"render-pass":           len(d.renderPasses),
		"framebuffer":           len(d.framebuffers),
		"command-pool":          len(d.cmdPools),
		"fence":                 len(d.fences),
		"semaphore":             len(d.semaphores),
		"swapchain":             len(d.swapchains),
	}
	for k, n := range counts {
		if n == 0 {
			delete(counts, k)
		}
	}
	return counts
}

// SoftQueue returns the concrete queue, for pausing in tests.
func (d *Device) SoftQueue(family, index uint32) *Queue {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queues[queueKey{family, index}]
}

func (d *Device) Queue(family, index uint32) driver.Queue {
	if q := d.SoftQueue(family, index); q != nil {
		return q
	}
	d.invalid("Queue: family %d index %d was not requested at device creation", family, index)
	return nil
}

func (d *Device) WaitIdle() error {
	d.mu.Lock()
	queues := make([]*Queue, 0, len(d.queues))
	for _, q := range d.queues {
		queues = append(queues, q)
	}
	d.mu.Unlock()
	for _, q := range queues {
		if err := q.WaitIdle(); err != nil {
			return err
		}
	}
	return nil
}

// Destroy stops the queue workers and reports leaked objects.
func (d *Device) Destroy() {
	d.mu.Lock()
	if d.dead {
		d.mu.Unlock()
		return
	}
	d.dead = true
	close(d.lost)
	queues := d.queues
	d.mu.Unlock()

	for _, q := range queues {
		q.close()
	}
	if live := d.LiveObjects(); len(live) > 0 {
		keys := make([]string, 0, len(live))
		for k := range live {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			d.invalid("Destroy: %d %s object(s) still alive", live[k], k)
		}
	}
}

func (d *Device) destroyed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dead
}

// handle returns a fresh non-zero handle. Callers hold d.mu.
func (d *Device) handle() uint64 {
	d.next++
	return d.next
}

func (d *Device) CreateBuffer(desc *driver.BufferDescriptor) (driver.Buffer, error) {
	if desc.Size == 0 {
		return 0, errors.New("soft: buffer size must be non-zero")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	h := driver.Buffer(d.handle())
	d.buffers[h] = &buffer{size: desc.Size, usage: desc.Usage}
	return h, nil
}

func (d *Device) DestroyBuffer(b driver.Buffer) {
	if b == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.buffers[b]; !ok {
		d.invalid("DestroyBuffer: unknown buffer %#x", b)
		return
	}
	delete(d.buffers, b)
}

func (d *Device) BufferMemoryRequirements(b driver.Buffer) driver.MemoryRequirements {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.buffers[b]
	if !ok {
		d.invalid("BufferMemoryRequirements: unknown buffer %#x", b)
		return driver.MemoryRequirements{}
	}
	align := uint64(16)
	limits := d.adapter.Properties.Limits
	if buf.usage&driver.BufferUsageUniform != 0 && limits.MinUniformBufferOffsetAlignment > align {
		align = limits.MinUniformBufferOffsetAlignment
	}
	if buf.usage&driver.BufferUsageStorage != 0 && limits.MinStorageBufferOffsetAlignment > align {
		align = limits.MinStorageBufferOffsetAlignment
	}
	return driver.MemoryRequirements{
		Size:           alignUp(buf.size, align),
		Alignment:      align,
		MemoryTypeBits: 1<<uint(len(d.props.Types)) - 1,
	}
}

func (d *Device) CreateImage(desc *driver.ImageDescriptor) (driver.Image, error) {
	if desc.Extent.Width == 0 || desc.Extent.Height == 0 {
		return 0, errors.New("soft: image extent must be non-zero")
	}
	if max(desc.Extent.Width, desc.Extent.Height) > d.adapter.Properties.Limits.MaxImageDimension2D {
		return 0, errors.Newf("soft: image extent %dx%d exceeds device limit", desc.Extent.Width, desc.Extent.Height)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	h := driver.Image(d.handle())
	d.images[h] = &image{desc: *desc, layout: driver.ImageLayoutUndefined}
	return h, nil
}

func (d *Device) DestroyImage(img driver.Image) {
	if img == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	im, ok := d.images[img]
	switch {
	case !ok:
		d.invalid("DestroyImage: unknown image %#x", img)
	case im.swapchain != 0:
		d.invalid("DestroyImage: image %#x is owned by swapchain %#x", img, im.swapchain)
	default:
		delete(d.images, img)
	}
}

func (d *Device) ImageMemoryRequirements(img driver.Image) driver.MemoryRequirements {
	d.mu.Lock()
	defer d.mu.Unlock()
	im, ok := d.images[img]
	if !ok {
		d.invalid("ImageMemoryRequirements: unknown image %#x", img)
		return driver.MemoryRequirements{}
	}
	bits := uint32(1) // device-local only for optimal tiling
	if im.desc.Tiling == driver.ImageTilingLinear {
		bits = 1<<uint(len(d.props.Types)) - 1
	}
	return driver.MemoryRequirements{
		Size:           alignUp(imageSize(&im.desc), 1024),
		Alignment:      1024,
		MemoryTypeBits: bits,
	}
}

// ImageLayout returns the current layout of img as tracked by the queues.
func (d *Device) ImageLayout(img driver.Image) driver.ImageLayout {
	d.mu.Lock()
	defer d.mu.Unlock()
	if im, ok := d.images[img]; ok {
		return im.layout
	}
	return driver.ImageLayoutUndefined
}

func (d *Device) CreateImageView(desc *driver.ImageViewDescriptor) (driver.ImageView, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.images[desc.Image]; !ok {
		return 0, errors.Wrapf(driver.ErrInvalidHandle, "soft: view of unknown image %#x", desc.Image)
	}
	h := driver.ImageView(d.handle())
	d.views[h] = *desc
	return h, nil
}

func (d *Device) DestroyImageView(v driver.ImageView) {
	destroyIn(d, d.views, v, "DestroyImageView")
}

func (d *Device) CreateSampler(desc *driver.SamplerDescriptor) (driver.Sampler, error) {
	if desc.Anisotropy && !d.adapter.Features.SamplerAnisotropy {
		d.invalid("CreateSampler: anisotropy requested but not supported")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	h := driver.Sampler(d.handle())
	d.samplers[h] = *desc
	return h, nil
}

func (d *Device) DestroySampler(s driver.Sampler) {
	destroyIn(d, d.samplers, s, "DestroySampler")
}

// CreateShaderModule accepts little-endian SPIR-V: a non-empty multiple of
// four bytes starting with the SPIR-V magic number.
func (d *Device) CreateShaderModule(code []byte) (driver.ShaderModule, error) {
	if len(code) < 4 || len(code)%4 != 0 {
		return 0, errors.Wrapf(ErrInvalidSPIRV, "%d bytes", len(code))
	}
	magic := uint32(code[0]) | uint32(code[1])<<8 | uint32(code[2])<<16 | uint32(code[3])<<24
	if magic != spirvMagic {
		return 0, errors.Wrapf(ErrInvalidSPIRV, "magic %#08x", magic)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	h := driver.ShaderModule(d.handle())
	d.shaders[h] = len(code)
	return h, nil
}

func (d *Device) DestroyShaderModule(m driver.ShaderModule) {
	destroyIn(d, d.shaders, m, "DestroyShaderModule")
}

func (d *Device) CreatePipelineLayout(desc *driver.PipelineLayoutDescriptor) (driver.PipelineLayout, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, l := range desc.SetLayouts {
		if _, ok := d.setLayouts[l]; !ok {
			return 0, errors.Wrapf(driver.ErrInvalidHandle, "soft: pipeline layout references set layout %#x", l)
		}
	}
	h := driver.PipelineLayout(d.handle())
	d.pipelineLayouts[h] = driver.PipelineLayoutDescriptor{
		SetLayouts:    append([]driver.DescriptorSetLayout(nil), desc.SetLayouts...),
		PushConstants: append([]driver.PushConstantRange(nil), desc.PushConstants...),
	}
	return h, nil
}

func (d *Device) DestroyPipelineLayout(l driver.PipelineLayout) {
	destroyIn(d, d.pipelineLayouts, l, "DestroyPipelineLayout")
}

func (d *Device) CreateGraphicsPipeline(desc *driver.GraphicsPipelineDescriptor) (driver.Pipeline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(desc.Stages) == 0 {
		return 0, errors.New("soft: pipeline without shader stages")
	}
	for _, st := range desc.Stages {
		if _, ok := d.shaders[st.Module]; !ok {
			return 0, errors.Wrapf(driver.ErrInvalidHandle, "soft: pipeline stage uses shader module %#x", st.Module)
		}
		if st.Entry == "" {
			return 0, errors.New("soft: pipeline stage without entry point")
		}
	}
	if _, ok := d.pipelineLayouts[desc.Layout]; !ok {
		return 0, errors.Wrapf(driver.ErrInvalidHandle, "soft: pipeline layout %#x", desc.Layout)
	}
	if _, ok := d.renderPasses[desc.RenderPass]; !ok {
		return 0, errors.Wrapf(driver.ErrInvalidHandle, "soft: render pass %#x", desc.RenderPass)
	}
	h := driver.Pipeline(d.handle())
	d.pipelines[h] = &pipeline{desc: *desc, layout: desc.Layout}
	return h, nil
}

func (d *Device) DestroyPipeline(p driver.Pipeline) {
	destroyIn(d, d.pipelines, p, "DestroyPipeline")
}

// PipelineDescriptor returns the descriptor a pipeline was created with.
func (d *Device) PipelineDescriptor(p driver.Pipeline) (driver.GraphicsPipelineDescriptor, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pl, ok := d.pipelines[p]
	if !ok {
		return driver.GraphicsPipelineDescriptor{}, false
	}
	return pl.desc, true
}

func (d *Device) CreateRenderPass(desc *driver.RenderPassDescriptor) (driver.RenderPass, error) {
	for _, sp := range desc.Subpasses {
		for _, ref := range sp.ColorAttachments {
			if int(ref.Attachment) >= len(desc.Attachments) {
				return 0, errors.Newf("soft: subpass references attachment %d of %d", ref.Attachment, len(desc.Attachments))
			}
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	h := driver.RenderPass(d.handle())
	cp := *desc
	d.renderPasses[h] = &cp
	return h, nil
}

func (d *Device) DestroyRenderPass(p driver.RenderPass) {
	destroyIn(d, d.renderPasses, p, "DestroyRenderPass")
}

func (d *Device) CreateFramebuffer(desc *driver.FramebufferDescriptor) (driver.Framebuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rp, ok := d.renderPasses[desc.RenderPass]
	if !ok {
		return 0, errors.Wrapf(driver.ErrInvalidHandle, "soft: framebuffer render pass %#x", desc.RenderPass)
	}
	if len(desc.Attachments) != len(rp.Attachments) {
		return 0, errors.Newf("soft: framebuffer has %d attachments, render pass expects %d", len(desc.Attachments), len(rp.Attachments))
	}
	for _, v := range desc.Attachments {
		if _, ok := d.views[v]; !ok {
			return 0, errors.Wrapf(driver.ErrInvalidHandle, "soft: framebuffer attachment view %#x", v)
		}
	}
	h := driver.Framebuffer(d.handle())
	cp := *desc
	cp.Attachments = append([]driver.ImageView(nil), desc.Attachments...)
	d.framebuffers[h] = &cp
	return h, nil
}

func (d *Device) DestroyFramebuffer(fb driver.Framebuffer) {
	destroyIn(d, d.framebuffers, fb, "DestroyFramebuffer")
}

// destroyIn removes h from m, recording a validation error for unknown
// handles. Zero handles are ignored.
func destroyIn[H ~uint64, V any](d *Device, m map[H]V, h H, op string) {
	if h == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := m[h]; !ok {
		d.invalid("%s: unknown handle %#x", op, uint64(h))
		return
	}
	delete(m, h)
}

func imageSize(desc *driver.ImageDescriptor) uint64 {
	bpt := uint64(desc.Format.BytesPerTexel())
	if bpt == 0 {
		bpt = 4
	}
	samples := uint64(desc.Samples)
	if samples == 0 {
		samples = 1
	}
	return uint64(desc.Extent.Width) * uint64(desc.Extent.Height) * max(uint64(desc.Extent.Depth), 1) * bpt * samples
}

func alignUp(v, a uint64) uint64 {
	if a == 0 {
		return v
	}
	return (v + a - 1) &^ (a - 1)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
